// Package corpus serves the current rule corpus to the rest of the service.
package corpus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/opensource-finance/cashwise/internal/rules"
	"github.com/robfig/cron/v3"
)

// Snapshot is one immutable view of the rule corpus.
type Snapshot struct {
	Rules     []domain.CashbackRule `json:"rules"`
	Files     []string              `json:"files"`
	Skipped   []rules.SkippedSource `json:"skipped,omitempty"`
	Version   string                `json:"version"`
	FetchedAt time.Time             `json:"fetchedAt"`
}

// Rule returns the rule with the given ID.
func (s *Snapshot) Rule(id string) (domain.CashbackRule, bool) {
	for _, r := range s.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return domain.CashbackRule{}, false
}

// Stats summarises the provider state.
type Stats struct {
	Version   string        `json:"version"`
	Rules     int           `json:"rules"`
	Files     int           `json:"files"`
	Skipped   int           `json:"skipped"`
	Reloads   int64         `json:"reloads"`
	TTL       time.Duration `json:"ttl"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

// ReloadEvent is published on domain.TopicCorpusReloaded when the corpus changes.
type ReloadEvent struct {
	Version         string    `json:"version"`
	PreviousVersion string    `json:"previousVersion,omitempty"`
	Rules           int       `json:"rules"`
	Skipped         int       `json:"skipped"`
	FetchedAt       time.Time `json:"fetchedAt"`
}

// SourceFunc lists the rule documents making up the corpus.
type SourceFunc func() ([]rules.Source, error)

// Provider loads the corpus and hands out snapshots.
// With a zero TTL every Current call reads the sources again.
// With a positive TTL a snapshot is reused until it is older than the TTL.
type Provider struct {
	loader  *rules.Loader
	sources SourceFunc
	ttl     time.Duration
	bus     domain.EventBus

	mu      sync.RWMutex
	current *Snapshot
	reloads int64

	// started numbers each load; installed is the number of the load behind current.
	started   uint64
	installed uint64

	cronMu sync.Mutex
	cron   *cron.Cron

	now func() time.Time
}

// NewProvider creates a provider reading cfg.Dir. bus may be nil.
func NewProvider(cfg domain.RulesConfig, bus domain.EventBus) *Provider {
	dir, pattern := cfg.Dir, cfg.Pattern
	return NewSourceProvider(func() ([]rules.Source, error) {
		return rules.DirSources(dir, pattern)
	}, cfg, bus)
}

// NewSourceProvider creates a provider over arbitrary sources. bus may be nil.
func NewSourceProvider(sources SourceFunc, cfg domain.RulesConfig, bus domain.EventBus) *Provider {
	return &Provider{
		loader:  rules.NewLoader(cfg.LoaderWorkers),
		sources: sources,
		ttl:     cfg.TTL,
		bus:     bus,
		now:     time.Now,
	}
}

// Current returns a snapshot that is fresh according to the TTL policy.
func (p *Provider) Current(ctx context.Context) (*Snapshot, error) {
	if p.ttl > 0 {
		p.mu.RLock()
		snap := p.current
		p.mu.RUnlock()

		if snap != nil && p.now().Sub(snap.FetchedAt) < p.ttl {
			return snap, nil
		}
	}
	return p.Reload(ctx)
}

// Reload reads every source again and replaces the current snapshot.
// Invalid documents are skipped. Only a cancelled ctx or an unlistable
// source set fails the reload, in which case the previous snapshot stays.
// When overlapping reloads finish out of order the later-started one wins
// and the stale load returns the installed snapshot.
func (p *Provider) Reload(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.started++
	gen := p.started
	p.mu.Unlock()

	sources, err := p.sources()
	if err != nil {
		slog.Error("failed to list rule sources", "error", err)
		return nil, err
	}

	res := p.loader.Load(ctx, sources)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Rules:     res.Rules,
		Files:     res.Files,
		Skipped:   res.Skipped,
		Version:   res.Fingerprint,
		FetchedAt: p.now(),
	}

	p.mu.Lock()
	if gen < p.installed {
		newer := p.current
		p.mu.Unlock()
		slog.Debug("discarding stale corpus load", "version", shortVersion(snap.Version))
		return newer, nil
	}
	prev := p.current
	p.current = snap
	p.installed = gen
	p.reloads++
	p.mu.Unlock()

	if prev == nil || prev.Version != snap.Version {
		slog.Info("rule corpus loaded",
			"version", shortVersion(snap.Version),
			"rules", len(snap.Rules),
			"files", len(snap.Files),
			"skipped", len(snap.Skipped),
		)
		p.publish(ctx, prev, snap)
	}

	return snap, nil
}

func (p *Provider) publish(ctx context.Context, prev, snap *Snapshot) {
	if p.bus == nil {
		return
	}

	event := ReloadEvent{
		Version:   snap.Version,
		Rules:     len(snap.Rules),
		Skipped:   len(snap.Skipped),
		FetchedAt: snap.FetchedAt,
	}
	if prev != nil {
		event.PreviousVersion = prev.Version
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode corpus reload event", "error", err)
		return
	}
	if err := p.bus.Publish(ctx, domain.GlobalTenantID, domain.TopicCorpusReloaded, payload); err != nil {
		slog.Warn("failed to publish corpus reload event", "error", err)
	}
}

// Stats reports the last loaded snapshot.
func (p *Provider) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Stats{Reloads: p.reloads, TTL: p.ttl}
	if p.current != nil {
		st.Version = p.current.Version
		st.Rules = len(p.current.Rules)
		st.Files = len(p.current.Files)
		st.Skipped = len(p.current.Skipped)
		st.FetchedAt = p.current.FetchedAt
	}
	return st
}

// Schedule reloads the corpus on a standard five-field cron spec until Stop.
func (p *Provider) Schedule(spec string) error {
	p.cronMu.Lock()
	defer p.cronMu.Unlock()

	if p.cron == nil {
		p.cron = cron.New()
	}

	_, err := p.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := p.Reload(ctx); err != nil {
			slog.Error("scheduled corpus reload failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	p.cron.Start()
	slog.Info("corpus reload scheduled", "schedule", spec)
	return nil
}

// Stop halts scheduled reloads and waits for a running one to finish.
func (p *Provider) Stop() {
	p.cronMu.Lock()
	defer p.cronMu.Unlock()

	if p.cron != nil {
		<-p.cron.Stop().Done()
		p.cron = nil
	}
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
