package hypothesis

import (
	"sort"
	"strings"
	"time"

	"github.com/ivbacktest/core/internal/logger"
)

// SymbolScore summarises how predictable a symbol has been across every
// completed hypothesis that traded it, condensed into a 0-100
// suitability score for systematic premium selling.
type SymbolScore struct {
	Symbol string

	// Performance across the symbol's hypotheses. Win rates are
	// percentages.
	BestWinRate float64
	BestSharpe  float64
	AvgWinRate  float64
	AvgSharpe   float64

	// AvgDegradation is in-sample-to-out-of-sample performance loss,
	// averaged; lower is better.
	AvgDegradation float64

	AvgTradesPerHypothesis float64

	// Best configuration found, from the highest-scoring hypothesis.
	BestIVThreshold     float64
	BestProfitTarget    float64
	BestStrategy        string
	BestConfigurationOK bool

	HypothesisCount int
}

// WinRateScore maps the best win rate onto 0-100: 50% scores 0, 80%
// scores 100.
func (s SymbolScore) WinRateScore() float64 {
	return clamp(0, 100, (s.BestWinRate-50)*100/30)
}

// SharpeScore maps the best Sharpe onto 0-100: 0 scores 0, 2.0 scores
// 100.
func (s SymbolScore) SharpeScore() float64 {
	return clamp(0, 100, s.BestSharpe*50)
}

// StabilityScore maps average degradation onto 0-100: 0% degradation
// scores 100, 50% scores 0.
func (s SymbolScore) StabilityScore() float64 {
	return clamp(0, 100, 100-2*s.AvgDegradation)
}

// FrequencyScore maps average trades per hypothesis onto 0-100: 5
// scores 0, 50 scores 100.
func (s SymbolScore) FrequencyScore() float64 {
	return clamp(0, 100, (s.AvgTradesPerHypothesis-5)*100/45)
}

// PredictabilityScore is the weighted overall score, 0 when the symbol
// has no hypothesis data.
func (s SymbolScore) PredictabilityScore() float64 {
	if s.HypothesisCount == 0 {
		return 0
	}
	return 0.30*s.WinRateScore() +
		0.35*s.SharpeScore() +
		0.20*s.StabilityScore() +
		0.15*s.FrequencyScore()
}

// BestConfiguration is a per-symbol entry/exit recommendation drawn
// from the symbol's best hypothesis, with conservative defaults where
// the best run left a knob unset.
type BestConfiguration struct {
	Symbol          string
	Strategy        string
	IVThreshold     float64
	ProfitTarget    float64
	ExpectedWinRate float64
}

// Recommendations condenses a scorecard into actionable lists: symbols
// to trade, symbols to avoid, and the configuration to trade them with.
type Recommendations struct {
	TopSymbols         []SymbolScore
	AvoidSymbols       []SymbolScore
	BestConfigurations []BestConfiguration
}

// Scorecard holds every analyzed symbol's score and derives rankings
// and recommendations from them.
type Scorecard struct {
	Scores      map[string]SymbolScore
	GeneratedAt time.Time
}

// NewScorecard returns an empty scorecard stamped with now.
func NewScorecard() *Scorecard {
	return &Scorecard{Scores: make(map[string]SymbolScore), GeneratedAt: time.Now()}
}

// Add records a symbol's score, replacing any previous one.
func (sc *Scorecard) Add(score SymbolScore) {
	sc.Scores[strings.ToUpper(score.Symbol)] = score
}

// Score returns the score for symbol, case-insensitively.
func (sc *Scorecard) Score(symbol string) (SymbolScore, bool) {
	s, ok := sc.Scores[strings.ToUpper(symbol)]
	return s, ok
}

// Ranked returns every symbol's score ordered by predictability,
// best first; ties break alphabetically so the order is stable.
func (sc *Scorecard) Ranked() []SymbolScore {
	out := make([]SymbolScore, 0, len(sc.Scores))
	for _, s := range sc.Scores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].PredictabilityScore(), out[j].PredictabilityScore()
		if pi != pj {
			return pi > pj
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Top returns the n highest-ranked symbols.
func (sc *Scorecard) Top(n int) []SymbolScore {
	ranked := sc.Ranked()
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// Recommendations derives trade/avoid/configuration lists: the top
// three symbols, the bottom three scoring under 50, and a configuration
// for every symbol whose best win rate beat 60%.
func (sc *Scorecard) Recommendations() Recommendations {
	ranked := sc.Ranked()
	var rec Recommendations
	if len(ranked) == 0 {
		return rec
	}

	top := 3
	if top > len(ranked) {
		top = len(ranked)
	}
	rec.TopSymbols = append(rec.TopSymbols, ranked[:top]...)

	bottom := len(ranked) - 3
	if bottom < 0 {
		bottom = 0
	}
	for _, s := range ranked[bottom:] {
		if s.PredictabilityScore() < 50 {
			rec.AvoidSymbols = append(rec.AvoidSymbols, s)
		}
	}

	for _, s := range ranked {
		if s.BestWinRate <= 60 {
			continue
		}
		cfg := BestConfiguration{
			Symbol:          s.Symbol,
			Strategy:        s.BestStrategy,
			IVThreshold:     s.BestIVThreshold,
			ProfitTarget:    s.BestProfitTarget,
			ExpectedWinRate: s.BestWinRate,
		}
		if cfg.Strategy == "" {
			cfg.Strategy = "iron_condor"
		}
		if cfg.IVThreshold == 0 {
			cfg.IVThreshold = 60
		}
		if cfg.ProfitTarget == 0 {
			cfg.ProfitTarget = 50
		}
		rec.BestConfigurations = append(rec.BestConfigurations, cfg)
	}
	return rec
}

// ScorecardBuilder aggregates a store's completed hypotheses into
// per-symbol scores.
type ScorecardBuilder struct {
	Store *Store
}

// NewScorecardBuilder returns a builder reading from store.
func NewScorecardBuilder(store *Store) *ScorecardBuilder {
	return &ScorecardBuilder{Store: store}
}

// Build assembles a scorecard from every completed hypothesis. When
// symbols is non-empty only those symbols are scored; a hypothesis
// spanning several symbols contributes to each of them.
func (b *ScorecardBuilder) Build(symbols []string) *Scorecard {
	scorecard := NewScorecard()

	completed := b.Store.ListCompleted()
	if len(completed) == 0 {
		logger.Infof("scorecard: no completed hypotheses to score")
		return scorecard
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[strings.ToUpper(s)] = true
	}

	bySymbol := make(map[string][]*Hypothesis)
	var order []string
	for _, h := range completed {
		for _, sym := range h.Config.Symbols {
			sym = strings.ToUpper(sym)
			if len(wanted) > 0 && !wanted[sym] {
				continue
			}
			if _, seen := bySymbol[sym]; !seen {
				order = append(order, sym)
			}
			bySymbol[sym] = append(bySymbol[sym], h)
		}
	}

	for _, sym := range order {
		scorecard.Add(symbolScoreFor(sym, bySymbol[sym]))
	}
	logger.Debugf("scorecard: scored %d symbols from %d hypotheses", len(scorecard.Scores), len(completed))
	return scorecard
}

// symbolScoreFor condenses the hypotheses that traded symbol into one
// SymbolScore.
func symbolScoreFor(symbol string, hyps []*Hypothesis) SymbolScore {
	score := SymbolScore{Symbol: symbol, HypothesisCount: len(hyps)}

	var winRates, sharpes, degradations, tradeCounts []float64
	var best *Hypothesis
	bestTotal := 0.0

	for _, h := range hyps {
		if h.Result == nil {
			continue
		}
		m := h.Result.CombinedMetrics
		winRates = append(winRates, m.WinRate*100)
		sharpes = append(sharpes, m.Sharpe)
		degradations = append(degradations, degradationOf(h))
		tradeCounts = append(tradeCounts, float64(m.TradeCount))

		if h.Score != nil && h.Score.Total > bestTotal {
			bestTotal = h.Score.Total
			best = h
		}
	}

	if len(winRates) > 0 {
		score.BestWinRate = maxOf(winRates)
		score.AvgWinRate = avgOf(winRates)
	}
	if len(sharpes) > 0 {
		score.BestSharpe = maxOf(sharpes)
		score.AvgSharpe = avgOf(sharpes)
	}
	if len(degradations) > 0 {
		score.AvgDegradation = avgOf(degradations)
	}
	if len(tradeCounts) > 0 {
		score.AvgTradesPerHypothesis = avgOf(tradeCounts)
	}

	if best != nil {
		score.BestIVThreshold = best.Config.EntryRules.IVPercentileMin
		score.BestProfitTarget = best.Config.ExitRules.ProfitTargetPct
		score.BestStrategy = best.Config.StrategyType
		score.BestConfigurationOK = true
	}
	return score
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func avgOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
