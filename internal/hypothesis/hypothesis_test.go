package hypothesis

import (
	"math"
	"testing"
	"time"

	"github.com/ivbacktest/core/internal/backtest/engine"
	"github.com/ivbacktest/core/internal/backtest/metrics"
	"github.com/ivbacktest/core/internal/backtest/model"
	tests "github.com/ivbacktest/core/internal/testutil"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func baseCfg() model.Config {
	return model.Config{
		StrategyType: "iron_condor",
		Strategy:     model.IronCondorConfig{WingWidth: 5, TargetDTE: 45},
		Symbols:      []string{"SPY"},
		StartDate:    day("2024-01-01"),
		EndDate:      day("2024-12-31"),
	}
}

func TestNewReturnsDraft(t *testing.T) {
	h := New("my hypothesis", baseCfg())
	if h.Status != StatusDraft {
		t.Fatalf("expected a new hypothesis to start DRAFT, got %v", h.Status)
	}
	if h.ID == "" || len(h.ID) != 8 {
		t.Fatalf("expected an 8-char id, got %q", h.ID)
	}
	if h.Result != nil || h.Score != nil {
		t.Fatal("expected a fresh hypothesis to carry no result or score")
	}
}

func TestCloneProducesFreshDraftWithSameConfig(t *testing.T) {
	h := New("original", baseCfg())
	h.Status = StatusCompleted
	h.Result = &engine.Result{IsValid: true}

	clone := h.Clone("cloned")
	if clone.ID == h.ID {
		t.Fatal("expected the clone to get a new id")
	}
	if clone.Status != StatusDraft {
		t.Fatalf("expected a clone to start DRAFT regardless of parent status, got %v", clone.Status)
	}
	if clone.Result != nil || clone.Score != nil {
		t.Fatal("expected a clone to carry no result or score")
	}
	if clone.Config.StrategyType != h.Config.StrategyType {
		t.Fatal("expected the clone to carry the parent's configuration")
	}
}

func TestUpdateConfigDestructiveWhenCompleted(t *testing.T) {
	h := New("h", baseCfg())
	h.Status = StatusCompleted
	h.Result = &engine.Result{IsValid: true}
	score := Score{Total: 50}
	h.Score = &score

	newCfg := baseCfg()
	newCfg.EntryRules.IVPercentileMin = 70
	h.UpdateConfig(newCfg)

	if h.Status != StatusDraft {
		t.Fatalf("expected UpdateConfig on a completed hypothesis to revert to DRAFT, got %v", h.Status)
	}
	if h.Result != nil || h.Score != nil {
		t.Fatal("expected UpdateConfig on a completed hypothesis to clear result and score")
	}
	if h.Config.EntryRules.IVPercentileMin != 70 {
		t.Fatal("expected the new configuration to be applied")
	}
}

func TestUpdateConfigNonDestructiveWhenDraft(t *testing.T) {
	h := New("h", baseCfg())
	newCfg := baseCfg()
	newCfg.EntryRules.IVPercentileMin = 70
	h.UpdateConfig(newCfg)

	if h.Status != StatusDraft {
		t.Fatalf("expected status to remain DRAFT, got %v", h.Status)
	}
}

func TestComputeScoreWeightedCombination(t *testing.T) {
	res := &engine.Result{
		CombinedMetrics: metrics.Metrics{
			WinRate:    0.65, // (65-50)*100/30 = 50
			Sharpe:     1.0,  // clamp(0,100, 1.0*50) = 50
			TradeCount: 4,    // 4 trades / 4 months = 1/month -> (1-0.5)*100/3.5 ~= 14.2857
		},
		HasDegradation:   true,
		DegradationScore: 10, // stability = clamp(0,100,100-20) = 80
	}
	score := computeScore(res, 4)

	if math.Abs(score.WinRateScore-50) > 1e-9 {
		t.Fatalf("win_rate_score = %v, want 50", score.WinRateScore)
	}
	if math.Abs(score.SharpeScore-50) > 1e-9 {
		t.Fatalf("sharpe_score = %v, want 50", score.SharpeScore)
	}
	if math.Abs(score.StabilityScore-80) > 1e-9 {
		t.Fatalf("stability_score = %v, want 80", score.StabilityScore)
	}
	wantFreq := (1.0 - 0.5) * 100 / 3.5
	if math.Abs(score.FrequencyScore-wantFreq) > 1e-6 {
		t.Fatalf("frequency_score = %v, want %v", score.FrequencyScore, wantFreq)
	}

	wantTotal := 0.30*50 + 0.35*50 + 0.20*80 + 0.15*wantFreq
	if math.Abs(score.Total-wantTotal) > 1e-6 {
		t.Fatalf("total = %v, want %v", score.Total, wantTotal)
	}
}

func TestComputeScoreZeroFrequencyWithoutTrades(t *testing.T) {
	res := &engine.Result{CombinedMetrics: metrics.Metrics{WinRate: 0.5, Sharpe: 0, TradeCount: 0}}
	score := computeScore(res, 0)
	if score.FrequencyScore != 0 {
		t.Fatalf("expected zero frequency score with zero period months, got %v", score.FrequencyScore)
	}
}

func TestComputeScoreMatchesGoldenEncoding(t *testing.T) {
	res := &engine.Result{
		CombinedMetrics: metrics.Metrics{
			WinRate:    0.80, // (80-50)*100/30 = 100
			Sharpe:     1.0,  // 50
			TradeCount: 0,    // frequency clamps to 0
		},
		HasDegradation:   true,
		DegradationScore: 10, // stability = 80
	}
	score := computeScore(res, 4) // total = 30 + 17.5 + 16 + 0 = 63.5
	tests.CompareWithGolden(t, "hypothesis_score", score)
}

func TestComputeScoreClampsExtremes(t *testing.T) {
	res := &engine.Result{
		CombinedMetrics: metrics.Metrics{WinRate: 1.0, Sharpe: 10, TradeCount: 1000},
		HasDegradation:  false,
	}
	score := computeScore(res, 1)
	if score.WinRateScore != 100 {
		t.Fatalf("win_rate_score = %v, want clamped to 100", score.WinRateScore)
	}
	if score.SharpeScore != 100 {
		t.Fatalf("sharpe_score = %v, want clamped to 100", score.SharpeScore)
	}
	if score.StabilityScore != 100 {
		t.Fatalf("stability_score = %v, want 100 with no degradation", score.StabilityScore)
	}
	if score.FrequencyScore != 100 {
		t.Fatalf("frequency_score = %v, want clamped to 100", score.FrequencyScore)
	}
}
