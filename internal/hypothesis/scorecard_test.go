package hypothesis

import (
	"math"
	"path/filepath"
	"testing"
)

func TestSymbolScoreFormulaEndpoints(t *testing.T) {
	s := SymbolScore{
		Symbol:                 "SPY",
		BestWinRate:            80,
		BestSharpe:             2.0,
		AvgDegradation:         0,
		AvgTradesPerHypothesis: 50,
		HypothesisCount:        1,
	}
	if got := s.WinRateScore(); got != 100 {
		t.Fatalf("win rate 80%% should score 100, got %v", got)
	}
	if got := s.SharpeScore(); got != 100 {
		t.Fatalf("sharpe 2.0 should score 100, got %v", got)
	}
	if got := s.StabilityScore(); got != 100 {
		t.Fatalf("zero degradation should score 100, got %v", got)
	}
	if got := s.FrequencyScore(); got != 100 {
		t.Fatalf("50 trades per hypothesis should score 100, got %v", got)
	}
	if got := s.PredictabilityScore(); got != 100 {
		t.Fatalf("all-maxed factors should combine to 100, got %v", got)
	}

	floor := SymbolScore{BestWinRate: 50, AvgDegradation: 50, AvgTradesPerHypothesis: 5, HypothesisCount: 1}
	if got := floor.PredictabilityScore(); got != 0 {
		t.Fatalf("all-floored factors should combine to 0, got %v", got)
	}

	empty := SymbolScore{BestWinRate: 80, BestSharpe: 2}
	if got := empty.PredictabilityScore(); got != 0 {
		t.Fatalf("a symbol with no hypotheses must score 0 regardless of fields, got %v", got)
	}
}

func TestSymbolScoreWeightedCombination(t *testing.T) {
	s := SymbolScore{
		BestWinRate:            65,   // (65-50)*100/30 = 50
		BestSharpe:             1.0,  // 50
		AvgDegradation:         10,   // 100-20 = 80
		AvgTradesPerHypothesis: 27.5, // (27.5-5)*100/45 = 50
		HypothesisCount:        3,
	}
	want := 0.30*50 + 0.35*50 + 0.20*80 + 0.15*50
	if got := s.PredictabilityScore(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("predictability = %v, want %v", got, want)
	}
}

func TestScorecardBuilderAggregatesPerSymbol(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "hypotheses.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	strong := completedHyp("spy strong", 0.65, 1.4, 900, 5, 90)
	weak := completedHyp("spy weak", 0.55, 0.6, 200, 12, 60)
	weak.Config.EntryRules.IVPercentileMin = 70
	strong.Config.EntryRules.IVPercentileMin = 60
	strong.Config.ExitRules.ProfitTargetPct = 50

	other := completedHyp("aapl", 0.45, 0.2, -50, 25, 30)
	other.Config.Symbols = []string{"AAPL"}

	draft := New("never ran", baseCfg())

	for _, h := range []*Hypothesis{strong, weak, other, draft} {
		store.PutHypothesis(h)
	}

	card := NewScorecardBuilder(store).Build(nil)

	spy, ok := card.Score("spy") // lookup is case-insensitive
	if !ok {
		t.Fatal("expected a SPY score")
	}
	if spy.HypothesisCount != 2 {
		t.Fatalf("SPY hypothesis count = %d, want 2 (draft excluded)", spy.HypothesisCount)
	}
	if spy.BestWinRate != 65 || math.Abs(spy.AvgWinRate-60) > 1e-9 {
		t.Fatalf("SPY win rates best=%v avg=%v, want 65/60", spy.BestWinRate, spy.AvgWinRate)
	}
	if spy.BestSharpe != 1.4 {
		t.Fatalf("SPY best sharpe = %v, want 1.4", spy.BestSharpe)
	}
	// Best configuration comes from the highest-scoring hypothesis.
	if !spy.BestConfigurationOK || spy.BestIVThreshold != 60 || spy.BestProfitTarget != 50 {
		t.Fatalf("SPY best configuration should come from the 90-score run: %+v", spy)
	}
	if spy.BestStrategy != "iron_condor" {
		t.Fatalf("SPY best strategy = %q, want iron_condor", spy.BestStrategy)
	}

	if _, ok := card.Score("AAPL"); !ok {
		t.Fatal("expected an AAPL score")
	}

	ranked := card.Ranked()
	if len(ranked) != 2 || ranked[0].Symbol != "SPY" {
		t.Fatalf("expected SPY ranked above AAPL, got %+v", ranked)
	}
	if top := card.Top(1); len(top) != 1 || top[0].Symbol != "SPY" {
		t.Fatalf("Top(1) = %+v, want just SPY", top)
	}
}

func TestScorecardBuilderFiltersRequestedSymbols(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "hypotheses.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	spy := completedHyp("spy", 0.6, 1.0, 400, 8, 80)
	aapl := completedHyp("aapl", 0.5, 0.5, 100, 10, 50)
	aapl.Config.Symbols = []string{"AAPL"}
	store.PutHypothesis(spy)
	store.PutHypothesis(aapl)

	card := NewScorecardBuilder(store).Build([]string{"aapl"})
	if len(card.Scores) != 1 {
		t.Fatalf("expected only the requested symbol scored, got %+v", card.Scores)
	}
	if _, ok := card.Score("AAPL"); !ok {
		t.Fatal("expected the AAPL score present")
	}
}

func TestScorecardBuilderEmptyStoreYieldsEmptyCard(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "hypotheses.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	card := NewScorecardBuilder(store).Build(nil)
	if len(card.Scores) != 0 {
		t.Fatalf("expected an empty scorecard, got %+v", card.Scores)
	}
	if rec := card.Recommendations(); len(rec.TopSymbols) != 0 || len(rec.AvoidSymbols) != 0 {
		t.Fatalf("expected empty recommendations, got %+v", rec)
	}
}

func TestRecommendationsSplitTradeAndAvoid(t *testing.T) {
	card := NewScorecard()
	card.Add(SymbolScore{
		Symbol: "SPY", BestWinRate: 72, BestSharpe: 1.8,
		AvgDegradation: 5, AvgTradesPerHypothesis: 40, HypothesisCount: 4,
		BestStrategy: "iron_condor", BestIVThreshold: 65, BestProfitTarget: 40,
		BestConfigurationOK: true,
	})
	card.Add(SymbolScore{
		Symbol: "XYZ", BestWinRate: 48, BestSharpe: 0.1,
		AvgDegradation: 45, AvgTradesPerHypothesis: 6, HypothesisCount: 2,
	})

	rec := card.Recommendations()

	if len(rec.TopSymbols) == 0 || rec.TopSymbols[0].Symbol != "SPY" {
		t.Fatalf("expected SPY as the top symbol, got %+v", rec.TopSymbols)
	}
	found := false
	for _, s := range rec.AvoidSymbols {
		if s.Symbol == "XYZ" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected low-scoring XYZ in avoid list, got %+v", rec.AvoidSymbols)
	}

	if len(rec.BestConfigurations) != 1 {
		t.Fatalf("only SPY clears the 60%% win-rate bar, got %+v", rec.BestConfigurations)
	}
	cfg := rec.BestConfigurations[0]
	if cfg.Symbol != "SPY" || cfg.IVThreshold != 65 || cfg.ProfitTarget != 40 {
		t.Fatalf("configuration should carry the symbol's best knobs: %+v", cfg)
	}
}

func TestRecommendationsApplyDefaultsForUnsetKnobs(t *testing.T) {
	card := NewScorecard()
	card.Add(SymbolScore{Symbol: "SPY", BestWinRate: 70, HypothesisCount: 1})

	rec := card.Recommendations()
	if len(rec.BestConfigurations) != 1 {
		t.Fatalf("expected one configuration, got %+v", rec.BestConfigurations)
	}
	cfg := rec.BestConfigurations[0]
	if cfg.Strategy != "iron_condor" || cfg.IVThreshold != 60 || cfg.ProfitTarget != 50 {
		t.Fatalf("expected conservative defaults for unset knobs, got %+v", cfg)
	}
}
