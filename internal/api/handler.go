package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/cashwise/internal/advice"
	"github.com/opensource-finance/cashwise/internal/corpus"
	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/opensource-finance/cashwise/internal/repository"
	"github.com/opensource-finance/cashwise/internal/rules"
	"github.com/opensource-finance/cashwise/internal/worker"
)

// maxRulesDocument bounds the body accepted by POST /rules/validate.
const maxRulesDocument = 1 << 20

// asyncTimeout bounds a suggestion routed through the event bus.
const asyncTimeout = 10 * time.Second

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	advisor  *advice.Service
	provider *corpus.Provider
	version  string
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, advisor *advice.Service, provider *corpus.Provider, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		advisor:  advisor,
		provider: provider,
		version:  version,
	}
}

// SuggestResponse is the response for POST /suggest.
type SuggestResponse struct {
	*domain.Recommendation
	Message string `json:"message"`
	Version string `json:"version"`
}

// Suggest handles POST /suggest requests.
// With ?async=true the request is answered by the bus worker instead of in-process.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req advice.SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.TenantID = GetTenantID(ctx)
	req.TraceID = GetTraceID(ctx)

	var (
		rec *domain.Recommendation
		err error
	)
	if r.URL.Query().Get("async") == "true" {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		busCtx, cancel := context.WithTimeout(ctx, asyncTimeout)
		rec, err = worker.Request(busCtx, h.bus, &req)
		cancel()
	} else {
		rec, err = h.advisor.Suggest(ctx, &req)
	}
	if err != nil {
		writeError(w, "suggestion failed", err)
		return
	}

	writeJSON(w, http.StatusOK, SuggestResponse{
		Recommendation: rec,
		Message:        advice.Summary(rec),
		Version:        h.version,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"corpus":  h.provider.Stats(),
	})
}

// Ready reports ready once a corpus snapshot can be produced.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.provider.Current(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns the rules of the current corpus snapshot.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	snap, err := h.provider.Current(r.Context())
	if err != nil {
		slog.Error("failed to load rule corpus", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule corpus",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":   snap.Rules,
		"count":   len(snap.Rules),
		"files":   snap.Files,
		"skipped": snap.Skipped,
		"version": snap.Version,
	})
}

// GetRule retrieves a rule by ID from the current corpus snapshot.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	snap, err := h.provider.Current(r.Context())
	if err != nil {
		slog.Error("failed to load rule corpus", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule corpus",
		})
		return
	}

	rule, ok := snap.Rule(ruleID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ReloadRules reads the rule files again without a restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	snap, err := h.provider.Reload(r.Context())
	if err != nil {
		slog.Error("failed to reload rule corpus", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "count", len(snap.Rules), "skipped", len(snap.Skipped))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(snap.Rules),
		"skipped": snap.Skipped,
		"version": snap.Version,
	})
}

// ValidateRules checks a rules document (YAML or JSON) without loading it.
func (h *Handler) ValidateRules(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRulesDocument))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	file, err := rules.ParseRulesFile(data)
	if err != nil {
		resp := map[string]string{"error": err.Error()}
		var verr *rules.ValidationError
		if errors.As(err, &verr) && verr.Field != "" {
			resp["field"] = verr.Field
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	ids := make([]string, 0, len(file.Rules))
	for _, rule := range file.Rules {
		ids = append(ids, rule.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"month": file.Month,
		"count": len(file.Rules),
		"ids":   ids,
	})
}

// AccountRequest is the request body for POST /accounts.
type AccountRequest struct {
	Name     string             `json:"name"`
	Type     domain.AccountType `json:"type,omitempty"`
	Currency string             `json:"currency,omitempty"`
	Active   *bool              `json:"active,omitempty"`
}

// ListAccounts returns the tenant's accounts. ?active=true hides deactivated ones.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	accounts, err := h.repo.ListAccounts(ctx, GetTenantID(ctx), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, "failed to list accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// SaveAccount registers an account, or updates the one with the same name.
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	var req AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	account := &domain.Account{
		Name:     strings.TrimSpace(req.Name),
		Type:     req.Type,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Active:   req.Active == nil || *req.Active,
	}
	if err := h.repo.SaveAccount(ctx, GetTenantID(ctx), account); err != nil {
		writeError(w, "failed to save account", err)
		return
	}

	slog.Info("account saved", "tenant_id", account.TenantID, "account_id", account.ID, "name", account.Name)
	writeJSON(w, http.StatusCreated, account)
}

// DeactivateAccount removes an account from default candidate lists.
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	accountID := chi.URLParam(r, "id")

	if err := h.repo.DeactivateAccount(ctx, GetTenantID(ctx), accountID); err != nil {
		writeError(w, "failed to deactivate account", err)
		return
	}

	slog.Info("account deactivated", "tenant_id", GetTenantID(ctx), "account_id", accountID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "account deactivated",
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, advice.ErrInvalidRequest), errors.Is(err, repository.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, advice.ErrNoCandidates):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
