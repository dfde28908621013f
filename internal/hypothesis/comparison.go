package hypothesis

import (
	"sort"
	"time"
)

// RankBy selects the metric a comparison ranks hypotheses on. Higher is
// better for every choice.
type RankBy string

const (
	RankByScore        RankBy = "score"
	RankByWinRate      RankBy = "win_rate"
	RankBySharpe       RankBy = "sharpe"
	RankByProfitFactor RankBy = "profit_factor"
	RankByTotalPnL     RankBy = "total_pnl"
)

// ComparisonMetric is one metric compared across hypotheses: its value
// per hypothesis id and which hypothesis had the best value.
type ComparisonMetric struct {
	Name      string
	Values    map[string]float64
	BestID    string
	BestValue float64
}

// Comparison is the result of comparing a set of hypotheses: rankings
// (1 = best) plus per-metric bests. Hypotheses with no run result are
// carried in Hypotheses but excluded from metrics and rankings.
type Comparison struct {
	Hypotheses  []*Hypothesis
	Metrics     map[string]ComparisonMetric
	Rankings    map[string]int
	GeneratedAt time.Time
}

// Winner returns the rank-1 hypothesis, or nil when nothing was ranked.
func (c *Comparison) Winner() *Hypothesis {
	bestID := ""
	bestRank := 0
	for id, rank := range c.Rankings {
		if bestID == "" || rank < bestRank {
			bestID, bestRank = id, rank
		}
	}
	for _, h := range c.Hypotheses {
		if h.ID == bestID {
			return h
		}
	}
	return nil
}

// Metric returns the named metric comparison, if it was computed.
func (c *Comparison) Metric(name string) (ComparisonMetric, bool) {
	m, ok := c.Metrics[name]
	return m, ok
}

// Ranked returns the compared hypotheses in rank order, best first;
// unranked hypotheses (no result) are omitted.
func (c *Comparison) Ranked() []*Hypothesis {
	var out []*Hypothesis
	for _, h := range c.Hypotheses {
		if _, ok := c.Rankings[h.ID]; ok {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return c.Rankings[out[i].ID] < c.Rankings[out[j].ID]
	})
	return out
}

// Comparator compares completed hypotheses, resolving ids and batches
// through an explicitly injected Store.
type Comparator struct {
	Store *Store
}

// NewComparator returns a Comparator reading from store.
func NewComparator(store *Store) *Comparator {
	return &Comparator{Store: store}
}

// comparedMetric describes one row of the metric sweep: how to read the
// value off a hypothesis and whether a higher value wins.
type comparedMetric struct {
	name           string
	extract        func(*Hypothesis) float64
	higherIsBetter bool
}

func comparedMetrics() []comparedMetric {
	return []comparedMetric{
		{"win_rate", func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.WinRate * 100 }, true},
		{"sharpe", func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.Sharpe }, true},
		{"total_pnl", func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.TotalPnL }, true},
		{"profit_factor", func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.ProfitFactor }, true},
		{"max_drawdown", func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.Drawdown.MaxDrawdownPct }, false},
		{"degradation", degradationOf, false},
		{"total_trades", func(h *Hypothesis) float64 { return float64(h.Result.CombinedMetrics.TradeCount) }, true},
		{"score", scoreOf, true},
	}
}

func degradationOf(h *Hypothesis) float64 {
	if h.Result.HasDegradation {
		return h.Result.DegradationScore
	}
	return 0
}

func scoreOf(h *Hypothesis) float64 {
	if h.Score != nil {
		return h.Score.Total
	}
	return 0
}

// Compare builds a Comparison over hyps ranked by rankBy. Hypotheses
// without a result are skipped from metrics and rankings.
func (c *Comparator) Compare(hyps []*Hypothesis, rankBy RankBy) *Comparison {
	cmp := &Comparison{
		Hypotheses:  hyps,
		Metrics:     make(map[string]ComparisonMetric),
		Rankings:    make(map[string]int),
		GeneratedAt: time.Now(),
	}

	var valid []*Hypothesis
	for _, h := range hyps {
		if h.Result != nil {
			valid = append(valid, h)
		}
	}
	if len(valid) == 0 {
		return cmp
	}

	for _, m := range comparedMetrics() {
		metric := ComparisonMetric{Name: m.name, Values: make(map[string]float64)}
		for _, h := range valid {
			v := m.extract(h)
			metric.Values[h.ID] = v
			if metric.BestID == "" ||
				(m.higherIsBetter && v > metric.BestValue) ||
				(!m.higherIsBetter && v < metric.BestValue) {
				metric.BestID, metric.BestValue = h.ID, v
			}
		}
		cmp.Metrics[m.name] = metric
	}

	cmp.Rankings = rankHypotheses(valid, rankBy)
	return cmp
}

// CompareByIDs resolves ids through the store and compares the found
// hypotheses; unknown ids are skipped.
func (c *Comparator) CompareByIDs(ids []string, rankBy RankBy) *Comparison {
	var hyps []*Hypothesis
	for _, id := range ids {
		if h, ok := c.Store.GetHypothesis(id); ok {
			hyps = append(hyps, h)
		}
	}
	return c.Compare(hyps, rankBy)
}

// CompareLastN compares the n most recently stored hypotheses.
func (c *Comparator) CompareLastN(n int, rankBy RankBy) *Comparison {
	return c.Compare(c.Store.LastN(n), rankBy)
}

// CompareBatch compares every hypothesis recorded in a batch.
func (c *Comparator) CompareBatch(batchID string, rankBy RankBy) *Comparison {
	return c.Compare(c.Store.BatchHypotheses(batchID), rankBy)
}

// rankHypotheses assigns 1-based ranks by the chosen metric, descending;
// ties keep input order.
func rankHypotheses(hyps []*Hypothesis, rankBy RankBy) map[string]int {
	extract := scoreOf
	switch rankBy {
	case RankByWinRate:
		extract = func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.WinRate }
	case RankBySharpe:
		extract = func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.Sharpe }
	case RankByProfitFactor:
		extract = func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.ProfitFactor }
	case RankByTotalPnL:
		extract = func(h *Hypothesis) float64 { return h.Result.CombinedMetrics.TotalPnL }
	}

	sorted := make([]*Hypothesis, len(hyps))
	copy(sorted, hyps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return extract(sorted[i]) > extract(sorted[j])
	})

	rankings := make(map[string]int, len(sorted))
	for i, h := range sorted {
		rankings[h.ID] = i + 1
	}
	return rankings
}
