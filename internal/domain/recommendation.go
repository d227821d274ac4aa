package domain

import (
	"time"
)

// Recommendation is the result of asking which account to pay with.
// It is returned or published, never stored.
type Recommendation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Timestamp time.Time `json:"timestamp"`

	// Best is nil when no rule matched any candidate.
	Best *CashbackEstimate `json:"best"`

	// Alternatives holds every other matching pairing, best first.
	Alternatives []CashbackEstimate `json:"alternatives,omitempty"`

	Candidates []string               `json:"candidates"`
	Metadata   RecommendationMetadata `json:"metadata"`
}

// RecommendationMetadata contains processing information.
type RecommendationMetadata struct {
	TraceID        string `json:"traceId"`
	CorpusVersion  string `json:"corpusVersion"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	PairsEvaluated int    `json:"pairsEvaluated"`
	TotalMs        int64  `json:"totalMs"`
	Cached         bool   `json:"cached"`
	EngineVersion  string `json:"engineVersion"`
}

// Matched reports whether a recommendation was produced.
func (r *Recommendation) Matched() bool {
	return r != nil && r.Best != nil
}

// NoMatchMessage is shown when no rule matched; the caller is expected to apply a default policy.
const NoMatchMessage = "No matching rules; choose any card or default policy."
