// Package usage keeps token usage and cost of assistant calls.
package usage

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Price is the cost of one million tokens of a model.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Pricing maps a model id to its price.
type Pricing map[string]Price

// Cost returns the cost of a call. Unknown models cost nothing.
func (p Pricing) Cost(model string, promptTokens, outputTokens int64) float64 {
	price, ok := p[model]
	if !ok {
		return 0
	}
	return (float64(promptTokens)*price.Input + float64(outputTokens)*price.Output) / 1_000_000
}

// Record is the usage of one successful call.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Lane         string    `json:"lane"`
	PromptTokens int64     `json:"promptTokens"`
	OutputTokens int64     `json:"outputTokens"`
	TotalTokens  int64     `json:"totalTokens"`
	LatencyMs    int64     `json:"latencyMs"`
	Cost         float64   `json:"cost"`
}

// Totals aggregates records.
type Totals struct {
	Requests     int     `json:"requests"`
	PromptTokens int64   `json:"promptTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	Cost         float64 `json:"cost"`
}

// Tracker stores usage records in memory. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records []Record
	pricing Pricing
	limit   int
	logger  zerolog.Logger
	now     func() time.Time
}

// DefaultLimit is the number of records a Tracker keeps before dropping the
// oldest.
const DefaultLimit = 10000

// NewTracker creates a new Tracker. A limit of zero or less means DefaultLimit.
func NewTracker(pricing Pricing, limit int, logger zerolog.Logger) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Tracker{
		pricing: pricing,
		limit:   limit,
		logger:  logger.With().Str("component", "usageTracker").Logger(),
		now:     time.Now,
	}
}

// RecordUsage adds a record for a finished call.
func (t *Tracker) RecordUsage(model, lane string, promptTokens, outputTokens, totalTokens int64, latency time.Duration) {
	t.Add(Record{
		Model:        model,
		Lane:         lane,
		PromptTokens: promptTokens,
		OutputTokens: outputTokens,
		TotalTokens:  totalTokens,
		LatencyMs:    latency.Milliseconds(),
	})
}

// Add stores r, filling in ID, Timestamp and Cost when they are unset, and
// returns the stored record.
func (t *Tracker) Add(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = t.now()
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.OutputTokens
	}
	if r.Cost == 0 {
		r.Cost = t.pricing.Cost(r.Model, r.PromptTokens, r.OutputTokens)
	}

	t.mu.Lock()
	t.records = append(t.records, r)
	if over := len(t.records) - t.limit; over > 0 {
		t.records = slices.Delete(t.records, 0, over)
	}
	t.mu.Unlock()

	t.logger.Debug().
		Str("model", r.Model).
		Str("lane", r.Lane).
		Int64("totalTokens", r.TotalTokens).
		Float64("cost", r.Cost).
		Msg("Recorded usage")
	return r
}

// List returns a copy of all records, oldest first.
func (t *Tracker) List() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.records)
}

// Reset drops all records and returns how many were dropped.
func (t *Tracker) Reset() int {
	t.mu.Lock()
	n := len(t.records)
	t.records = nil
	t.mu.Unlock()

	t.logger.Info().Int("records", n).Msg("Usage reset")
	return n
}

// Totals sums all records.
func (t *Tracker) Totals() Totals {
	return sum(t.List())
}

// TotalsByModel sums records per model.
func (t *Tracker) TotalsByModel() map[string]Totals {
	groups := lo.GroupBy(t.List(), func(r Record) string { return r.Model })
	return lo.MapValues(groups, func(records []Record, _ string) Totals {
		return sum(records)
	})
}

func sum(records []Record) Totals {
	return Totals{
		Requests:     len(records),
		PromptTokens: lo.SumBy(records, func(r Record) int64 { return r.PromptTokens }),
		OutputTokens: lo.SumBy(records, func(r Record) int64 { return r.OutputTokens }),
		TotalTokens:  lo.SumBy(records, func(r Record) int64 { return r.TotalTokens }),
		Cost:         lo.SumBy(records, func(r Record) float64 { return r.Cost }),
	}
}
