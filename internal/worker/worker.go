// Package worker answers suggestion requests arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/opensource-finance/cashwise/internal/advice"
	"github.com/opensource-finance/cashwise/internal/domain"
)

// Suggester produces recommendations. *advice.Service satisfies it.
type Suggester interface {
	Suggest(ctx context.Context, req *advice.SuggestRequest) (*domain.Recommendation, error)
}

// Worker consumes domain.TopicSuggestRequest, replies to the requester and
// publishes every recommendation on domain.TopicRecommendation.
type Worker struct {
	bus       domain.EventBus
	suggester Suggester

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs get dedicated subscriptions in addition to the global
	// tenant, where each request names its tenant in the payload.
	TenantIDs []string
}

// Error kinds carried in a Reply so requesters can classify failures.
const (
	ErrorKindInvalidRequest = "invalid_request"
	ErrorKindNoCandidates   = "no_candidates"
	ErrorKindInternal       = "internal"
)

// Reply is the payload sent back to a requester.
type Reply struct {
	Recommendation *domain.Recommendation `json:"recommendation,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ErrorKind      string                 `json:"errorKind,omitempty"`
}

// errorKind classifies err for a Reply.
func errorKind(err error) string {
	switch {
	case errors.Is(err, advice.ErrInvalidRequest):
		return ErrorKindInvalidRequest
	case errors.Is(err, advice.ErrNoCandidates):
		return ErrorKindNoCandidates
	default:
		return ErrorKindInternal
	}
}

// replyError is a worker failure rebuilt on the requester side.
// It keeps the worker's message and unwraps to the matching sentinel.
type replyError struct {
	msg      string
	sentinel error
}

func (e *replyError) Error() string { return e.msg }

func (e *replyError) Unwrap() error { return e.sentinel }

func (r Reply) err() error {
	switch r.ErrorKind {
	case ErrorKindInvalidRequest:
		return &replyError{msg: r.Error, sentinel: advice.ErrInvalidRequest}
	case ErrorKindNoCandidates:
		return &replyError{msg: r.Error, sentinel: advice.ErrNoCandidates}
	default:
		return errors.New(r.Error)
	}
}

// NewWorker creates a worker.
func NewWorker(bus domain.EventBus, suggester Suggester) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		suggester: suggester,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := []string{domain.GlobalTenantID}
	for _, id := range cfg.TenantIDs {
		if id != "" && !slices.Contains(tenants, id) {
			tenants = append(tenants, id)
		}
	}

	var started int
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSuggestRequest, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant", "tenant_id", tenantID, "error", err)
			continue
		}

		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
		started++

		slog.Info("suggest worker started", "tenant_id", tenantID, "topic", domain.TopicSuggestRequest)
	}

	if started == 0 {
		return errors.New("no worker subscription could be started")
	}
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req advice.SuggestRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.count(false)
		slog.Error("failed to parse suggest request", "message_id", msg.ID, "error", err)
		w.reply(ctx, msg, Reply{Error: "malformed request: " + err.Error(), ErrorKind: ErrorKindInvalidRequest})
		return err
	}

	if req.TenantID == "" || msg.TenantID != domain.GlobalTenantID {
		req.TenantID = msg.TenantID
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	rec, err := w.suggester.Suggest(ctx, &req)
	if err != nil {
		w.count(false)
		slog.Warn("suggest request failed",
			"tenant_id", req.TenantID,
			"trace_id", req.TraceID,
			"error", err,
		)
		kind := errorKind(err)
		w.reply(ctx, msg, Reply{Error: err.Error(), ErrorKind: kind})
		if kind != ErrorKindInternal {
			// Client errors are answered, not handler failures.
			return nil
		}
		return err
	}
	w.count(true)

	w.reply(ctx, msg, Reply{Recommendation: rec})

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, req.TenantID, domain.TopicRecommendation, payload); err != nil {
		slog.Error("failed to publish recommendation", "recommendation_id", rec.ID, "error", err)
	}

	attrs := []any{
		"tenant_id", req.TenantID,
		"trace_id", req.TraceID,
		"matched", rec.Matched(),
		"cached", rec.Metadata.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if rec.Matched() {
		attrs = append(attrs, "account", rec.Best.Account, "rule_id", rec.Best.RuleID)
	}
	slog.Info("suggest request processed", attrs...)

	return nil
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, r Reply) {
	if msg.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		slog.Error("failed to encode reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := w.bus.Reply(ctx, msg, payload); err != nil {
		slog.Error("failed to send reply", "message_id", msg.ID, "error", err)
	}
}

func (w *Worker) count(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed++
	} else {
		w.failed++
	}
}

// Stop unsubscribes everything.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats reports worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}

// Request sends req to the global worker subscription and waits for the reply.
// The tenant travels in the payload.
func Request(ctx context.Context, bus domain.EventBus, req *advice.SuggestRequest) (*domain.Recommendation, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", advice.ErrInvalidRequest)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	raw, err := bus.Request(ctx, domain.GlobalTenantID, domain.TopicSuggestRequest, payload)
	if err != nil {
		return nil, err
	}

	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	if r.Error != "" {
		return nil, r.err()
	}
	return r.Recommendation, nil
}
