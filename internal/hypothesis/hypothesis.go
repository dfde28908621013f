// Package hypothesis wraps the backtest engine with named, persisted
// configurations: draft/running/completed/failed lifecycle, a composite
// performance score, a batch-sweep runner, cross-hypothesis comparison
// and ranking, and per-symbol predictability scorecards. Identifiers
// are google/uuid values truncated to 8 hex chars, short enough to type
// in a CLI but stable across saves.
package hypothesis

import (
	"time"

	"github.com/google/uuid"

	"github.com/ivbacktest/core/internal/backtest/engine"
	"github.com/ivbacktest/core/internal/backtest/model"
	"github.com/ivbacktest/core/internal/logger"
)

// Status is a Hypothesis's lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Score is the composite HypothesisScore computed after a successful run.
type Score struct {
	WinRateScore   float64 `json:"win_rate_score"`
	SharpeScore    float64 `json:"sharpe_score"`
	StabilityScore float64 `json:"stability_score"`
	FrequencyScore float64 `json:"frequency_score"`
	Total          float64 `json:"total"`
}

// Hypothesis is a named configuration, its run result (once completed),
// and the composite score derived from that result.
type Hypothesis struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Config model.Config `json:"config"`
	Status Status       `json:"status"`

	Result       *engine.Result `json:"result,omitempty"`
	Score        *Score         `json:"score,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newID returns a stable 8-hex-char identifier.
func newID() string {
	return uuid.New().String()[:8]
}

// New returns a fresh DRAFT hypothesis for cfg.
func New(name string, cfg model.Config) *Hypothesis {
	now := time.Now()
	return &Hypothesis{
		ID:        newID(),
		Name:      name,
		Config:    cfg,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a new DRAFT hypothesis carrying h's configuration (and a
// name derived from h's), a fresh id, and no result or score.
func (h *Hypothesis) Clone(name string) *Hypothesis {
	return New(name, h.Config)
}

// UpdateConfig replaces the hypothesis's configuration. If the
// hypothesis was COMPLETED, this is destructive: the result and score
// are cleared and the hypothesis reverts to DRAFT.
func (h *Hypothesis) UpdateConfig(cfg model.Config) {
	wasCompleted := h.Status == StatusCompleted
	h.Config = cfg
	h.UpdatedAt = time.Now()
	if wasCompleted {
		h.Result = nil
		h.Score = nil
		h.Status = StatusDraft
		logger.Infof("hypothesis %s (%s): configuration changed, discarding completed result and reverting to DRAFT", h.ID, h.Name)
	}
}

// computeScore derives the composite HypothesisScore from a completed
// run's combined/out-of-sample metrics and degradation score.
func computeScore(res *engine.Result, periodMonths float64) Score {
	winRate := res.CombinedMetrics.WinRate * 100
	winRateScore := clamp(0, 100, (winRate-50)*100/30)

	sharpeScore := clamp(0, 100, res.CombinedMetrics.Sharpe*50)

	degradation := 0.0
	if res.HasDegradation {
		degradation = res.DegradationScore
	}
	stabilityScore := clamp(0, 100, 100-2*degradation)

	tradesPerMonth := 0.0
	if periodMonths > 0 {
		tradesPerMonth = float64(res.CombinedMetrics.TradeCount) / periodMonths
	}
	frequencyScore := clamp(0, 100, (tradesPerMonth-0.5)*100/3.5)

	total := 0.30*winRateScore + 0.35*sharpeScore + 0.20*stabilityScore + 0.15*frequencyScore

	return Score{
		WinRateScore:   winRateScore,
		SharpeScore:    sharpeScore,
		StabilityScore: stabilityScore,
		FrequencyScore: frequencyScore,
		Total:          total,
	}
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
