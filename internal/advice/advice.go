// Package advice turns a purchase into an account recommendation.
// It is shared by the HTTP API, the bus worker and the CLI.
package advice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/opensource-finance/cashwise/internal/cache"
	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/opensource-finance/cashwise/internal/rules"
	"github.com/shopspring/decimal"
)

// EngineVersion is stamped on every recommendation.
const EngineVersion = "cashwise-1.0"

// DefaultCurrency is assumed when a request names none.
const DefaultCurrency = "RUB"

var (
	// ErrInvalidRequest wraps every request validation failure.
	ErrInvalidRequest = errors.New("invalid suggestion request")

	// ErrNoCandidates means no account could be considered for the purchase.
	ErrNoCandidates = errors.New("no candidate accounts")
)

// SuggestRequest describes one purchase. Accounts overrides the tenant's registered cards.
type SuggestRequest struct {
	TenantID string          `json:"tenantId,omitempty"`
	TraceID  string          `json:"traceId,omitempty"`
	Date     string          `json:"date"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Category *string         `json:"category,omitempty"`
	Merchant *string         `json:"merchant,omitempty"`
	MCC      *int            `json:"mcc,omitempty"`
	Accounts []string        `json:"accounts,omitempty"`
}

// Txn converts the request into engine input.
func (r *SuggestRequest) Txn() (domain.TxnContext, error) {
	var txn domain.TxnContext

	if strings.TrimSpace(r.Date) == "" {
		return txn, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	day, err := civil.ParseDate(strings.TrimSpace(r.Date))
	if err != nil {
		return txn, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", ErrInvalidRequest, r.Date)
	}
	if !r.Amount.IsPositive() {
		return txn, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	txn = domain.TxnContext{
		Amount:     r.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(r.Currency)),
		OccurredOn: day,
		Category:   blankToNil(r.Category),
		Merchant:   blankToNil(r.Merchant),
		MCC:        r.MCC,
	}
	if txn.Currency == "" {
		txn.Currency = DefaultCurrency
	}
	return txn, nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// Service answers suggestion requests against the current corpus.
type Service struct {
	rules    RuleSource
	accounts AccountDirectory
	engine   *rules.Engine
	cache    domain.Cache
	memoTTL  time.Duration
}

// NewService creates a service. accounts and memo may be nil; a zero memoTTL disables memoisation.
func NewService(ruleSource RuleSource, accounts AccountDirectory, memo domain.Cache, memoTTL time.Duration) *Service {
	return &Service{
		rules:    ruleSource,
		accounts: accounts,
		engine:   rules.NewEngine(),
		cache:    memo,
		memoTTL:  memoTTL,
	}
}

// Suggest recommends the account to pay with. A recommendation without Best
// means no rule matched and the caller should fall back to its default policy.
func (s *Service) Suggest(ctx context.Context, req *SuggestRequest) (*domain.Recommendation, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidRequest)
	}

	txn, err := req.Txn()
	if err != nil {
		return nil, err
	}

	candidates, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}

	snap, err := s.rules.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule corpus: %w", err)
	}

	key := memoKey(txn, candidates, snap.Version)
	if rec := s.recall(ctx, req.TenantID, key); rec != nil {
		rec.ID = uuid.New().String()
		rec.Timestamp = time.Now().UTC()
		rec.Metadata.TraceID = req.TraceID
		rec.Metadata.Cached = true
		rec.Metadata.TotalMs = time.Since(start).Milliseconds()
		return rec, nil
	}

	res, err := s.engine.Suggest(ctx, txn, snap.Rules, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	rec := &domain.Recommendation{
		ID:         uuid.New().String(),
		TenantID:   req.TenantID,
		Timestamp:  time.Now().UTC(),
		Best:       res.Best,
		Candidates: candidates,
		Metadata: domain.RecommendationMetadata{
			TraceID:        req.TraceID,
			CorpusVersion:  snap.Version,
			RulesEvaluated: res.RulesEvaluated,
			PairsEvaluated: res.PairsEvaluated,
			EngineVersion:  EngineVersion,
		},
	}
	if len(res.Ranking) > 1 {
		rec.Alternatives = res.Ranking[1:]
	}
	rec.Metadata.TotalMs = time.Since(start).Milliseconds()

	s.remember(ctx, req.TenantID, key, rec)
	return rec, nil
}

// candidates returns the explicit accounts of req, de-duplicated in order,
// or the tenant's active cards when none are given.
func (s *Service) candidates(ctx context.Context, req *SuggestRequest) ([]string, error) {
	if len(req.Accounts) > 0 {
		seen := make(map[string]bool, len(req.Accounts))
		out := make([]string, 0, len(req.Accounts))
		for _, a := range req.Accounts {
			a = strings.TrimSpace(a)
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
		if len(out) == 0 {
			return nil, ErrNoCandidates
		}
		return out, nil
	}

	if s.accounts == nil {
		return nil, ErrNoCandidates
	}

	accounts, err := s.accounts.ListAccounts(ctx, req.TenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var out []string
	for _, a := range accounts {
		if a.Type == domain.AccountCard {
			out = append(out, a.Name)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates
	}
	return out, nil
}

func (s *Service) recall(ctx context.Context, tenantID, key string) *domain.Recommendation {
	if s.cache == nil || s.memoTTL <= 0 {
		return nil
	}
	rec, err := cache.GetJSON[domain.Recommendation](ctx, s.cache, tenantID, key)
	if err != nil {
		slog.Warn("suggestion memo lookup failed", "tenant_id", tenantID, "error", err)
		return nil
	}
	return rec
}

func (s *Service) remember(ctx context.Context, tenantID, key string, rec *domain.Recommendation) {
	if s.cache == nil || s.memoTTL <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, tenantID, key, rec, s.memoTTL); err != nil {
		slog.Warn("suggestion memo store failed", "tenant_id", tenantID, "error", err)
	}
}

// memoKey identifies a suggestion by its inputs and the corpus version.
func memoKey(txn domain.TxnContext, candidates []string, version string) string {
	payload, _ := json.Marshal(struct {
		Txn        domain.TxnContext `json:"txn"`
		Candidates []string          `json:"candidates"`
		Version    string            `json:"version"`
	}{txn, candidates, version})

	sum := sha256.Sum256(payload)
	return "suggest:" + hex.EncodeToString(sum[:])
}

// Summary renders a recommendation as one line of text.
func Summary(rec *domain.Recommendation) string {
	if !rec.Matched() {
		return domain.NoMatchMessage
	}
	b := rec.Best
	return fmt.Sprintf("Use %s: %s (%s), estimated cashback %s",
		b.Account, b.RuleTitle, b.Reason, b.EstimatedAmount.StringFixed(rules.EstimatePlaces))
}
