// Package metrics aggregates closed trades into performance statistics:
// returns, drawdown, SQN, Sharpe/Sortino, and per-symbol breakdowns.
package metrics

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/ivbacktest/core/internal/backtest/model"
)

const riskFreeRate = 0.04

// EquityPoint is one step of the equity curve: cumulative capital after
// a trade closes.
type EquityPoint struct {
	Date   time.Time
	Equity float64
}

// Drawdown summarises the largest peak-to-trough decline in an equity
// curve and how long it lasted.
type Drawdown struct {
	MaxDrawdownPct float64
	LongestDays    int
}

// SymbolBreakdown holds per-symbol performance for the breakdown table.
type SymbolBreakdown struct {
	Symbol       string
	Trades       int
	WinRate      float64
	TotalPnL     float64
	ProfitFactor float64
	Sharpe       float64
}

// Metrics is the full set of aggregate statistics computed over one
// partition's (or the combined) closed-trade list.
type Metrics struct {
	TradeCount       int
	WinRate          float64
	ProfitFactor     float64
	Expectancy       float64
	SQN              float64
	EquityCurve      []EquityPoint
	Drawdown         Drawdown
	Volatility       float64
	Sharpe           float64
	Sortino          float64
	RetOverDD        float64
	RetOverDDValid   bool
	CAGR             float64
	Calmar           float64
	ExitReasonCounts map[model.ExitReason]int
	BySymbol         []SymbolBreakdown
	TotalPnL         float64
}

// Compute aggregates trades (any order; only CLOSED trades count) over
// initialCapital. periodDays is the number of calendar days the
// partition spans, used to annualise trade frequency.
func Compute(trades []*model.SimulatedTrade, initialCapital float64, periodDays int) Metrics {
	closed := closedOnly(trades)
	sort.Slice(closed, func(i, j int) bool { return closed[i].ExitDate.Before(closed[j].ExitDate) })

	m := Metrics{TradeCount: len(closed), ExitReasonCounts: map[model.ExitReason]int{}}
	if len(closed) == 0 {
		return m
	}

	var grossProfit, grossLoss float64
	var winners, losers int
	rMultiples := make([]float64, 0, len(closed))

	for _, t := range closed {
		m.TotalPnL += t.FinalPnL
		m.ExitReasonCounts[t.ExitReason]++
		if t.FinalPnL > 0 {
			winners++
			grossProfit += t.FinalPnL
		} else if t.FinalPnL < 0 {
			losers++
			grossLoss += -t.FinalPnL
		}
		risk := t.Basis()
		if t.StrategyType.Kind != model.KindCalendar {
			risk = t.MaxRisk
		}
		if risk != 0 {
			rMultiples = append(rMultiples, t.FinalPnL/risk)
		}
	}

	n := float64(len(closed))
	m.WinRate = float64(winners) / n

	if grossLoss == 0 {
		m.ProfitFactor = math.Inf(1)
	} else {
		m.ProfitFactor = grossProfit / grossLoss
	}

	avgWinner, avgLoser := 0.0, 0.0
	if winners > 0 {
		avgWinner = grossProfit / float64(winners)
	}
	if losers > 0 {
		avgLoser = grossLoss / float64(losers)
	}
	lossRate := float64(losers) / n
	m.Expectancy = m.WinRate*avgWinner - lossRate*avgLoser

	m.SQN = computeSQN(rMultiples)

	m.EquityCurve = buildEquityCurve(closed, initialCapital)
	m.Drawdown = computeDrawdown(m.EquityCurve)

	tradesPerYear := clamp(0, 252, n/(float64(periodDays)/365))
	mean, stddev := meanStddev(rMultiples)
	m.Volatility = stddev
	if stddev > 0 {
		m.Sharpe = (mean*tradesPerYear - riskFreeRate) / (stddev * math.Sqrt(tradesPerYear))
		if dd := downsideDeviation(rMultiples); dd > 0 {
			m.Sortino = (mean*tradesPerYear - riskFreeRate) / (dd * math.Sqrt(tradesPerYear))
		}
	}

	totalReturnPct := 0.0
	if initialCapital != 0 {
		totalReturnPct = m.TotalPnL / initialCapital * 100
	}
	if m.Drawdown.MaxDrawdownPct != 0 {
		m.RetOverDD = totalReturnPct / m.Drawdown.MaxDrawdownPct
		m.RetOverDDValid = true
	}

	years := math.Max(0.1, float64(periodDays)/365)
	if initialCapital > 0 && initialCapital+m.TotalPnL > 0 {
		m.CAGR = math.Pow((initialCapital+m.TotalPnL)/initialCapital, 1/years) - 1
	}
	if m.Drawdown.MaxDrawdownPct != 0 {
		m.Calmar = m.CAGR / m.Drawdown.MaxDrawdownPct
	}

	m.BySymbol = computeBySymbol(closed, periodDays)

	return m
}

func closedOnly(trades []*model.SimulatedTrade) []*model.SimulatedTrade {
	out := make([]*model.SimulatedTrade, 0, len(trades))
	for _, t := range trades {
		if t.Status == model.StatusClosed {
			out = append(out, t)
		}
	}
	return out
}

// computeSQN implements Van Tharp's System Quality Number over
// R-multiples: 0 if fewer than 2 samples or zero stddev.
func computeSQN(r []float64) float64 {
	if len(r) < 2 {
		return 0
	}
	mean, stddev := meanStddev(r)
	if stddev == 0 {
		return 0
	}
	return math.Sqrt(math.Min(100, float64(len(r)))) * mean / stddev
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	var sqDiff float64
	for _, x := range xs {
		d := x - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(len(xs)))
	return
}

// downsideDeviation is the Sortino-ratio denominator: sqrt(mean of
// squared negative deviations only).
func downsideDeviation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		if x < 0 {
			sumSq += x * x
		}
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func buildEquityCurve(closed []*model.SimulatedTrade, initialCapital float64) []EquityPoint {
	curve := make([]EquityPoint, 0, len(closed))
	equity := initialCapital
	for _, t := range closed {
		equity += t.FinalPnL
		curve = append(curve, EquityPoint{Date: t.ExitDate, Equity: equity})
	}
	return curve
}

func computeDrawdown(curve []EquityPoint) Drawdown {
	if len(curve) == 0 {
		return Drawdown{}
	}
	peak := curve[0].Equity
	peakDate := curve[0].Date
	var maxDDPct float64
	var longestDays int

	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
			peakDate = p.Date
		}
		if peak > 0 {
			ddPct := (peak - p.Equity) / peak * 100
			if ddPct > maxDDPct {
				maxDDPct = ddPct
			}
		}
		days := int(p.Date.Sub(peakDate).Hours() / 24)
		if days > longestDays {
			longestDays = days
		}
	}

	return Drawdown{MaxDrawdownPct: maxDDPct, LongestDays: longestDays}
}

func computeBySymbol(closed []*model.SimulatedTrade, periodDays int) []SymbolBreakdown {
	bySymbol := make(map[string][]*model.SimulatedTrade)
	for _, t := range closed {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make([]SymbolBreakdown, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, symbolSummary(sym, bySymbol[sym], periodDays))
	}
	return out
}

// symbolSummary computes the same win-rate/pnl/profit-factor/Sharpe
// figures as Compute, but directly (not via Compute) to avoid recursing
// into a per-symbol BySymbol breakdown of its own.
func symbolSummary(symbol string, trades []*model.SimulatedTrade, periodDays int) SymbolBreakdown {
	var grossProfit, grossLoss, totalPnL float64
	var winners int
	rMultiples := make([]float64, 0, len(trades))

	for _, t := range trades {
		totalPnL += t.FinalPnL
		if t.FinalPnL > 0 {
			winners++
			grossProfit += t.FinalPnL
		} else if t.FinalPnL < 0 {
			grossLoss += -t.FinalPnL
		}
		risk := t.Basis()
		if t.StrategyType.Kind != model.KindCalendar {
			risk = t.MaxRisk
		}
		if risk != 0 {
			rMultiples = append(rMultiples, t.FinalPnL/risk)
		}
	}

	n := float64(len(trades))
	winRate := 0.0
	if n > 0 {
		winRate = float64(winners) / n
	}
	profitFactor := math.Inf(1)
	if grossLoss != 0 {
		profitFactor = grossProfit / grossLoss
	}

	tradesPerYear := clamp(0, 252, n/(float64(periodDays)/365))
	mean, stddev := meanStddev(rMultiples)
	sharpe := 0.0
	if stddev > 0 {
		sharpe = (mean*tradesPerYear - riskFreeRate) / (stddev * math.Sqrt(tradesPerYear))
	}

	return SymbolBreakdown{
		Symbol:       symbol,
		Trades:       len(trades),
		WinRate:      winRate,
		TotalPnL:     totalPnL,
		ProfitFactor: profitFactor,
		Sharpe:       sharpe,
	}
}

// finiteOrNull maps a non-finite float to nil so it encodes as JSON
// null; encoding/json refuses +Inf outright.
func finiteOrNull(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// MarshalJSON encodes ProfitFactor as null when it is +Inf (no losing
// trades), since JSON has no representation for infinity.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	return json.Marshal(struct {
		alias
		ProfitFactor *float64 `json:"ProfitFactor"`
	}{alias(m), finiteOrNull(m.ProfitFactor)})
}

// UnmarshalJSON restores a null ProfitFactor to +Inf, the only
// non-finite value Compute produces for it.
func (m *Metrics) UnmarshalJSON(b []byte) error {
	type alias Metrics
	aux := struct {
		*alias
		ProfitFactor *float64 `json:"ProfitFactor"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.ProfitFactor != nil {
		m.ProfitFactor = *aux.ProfitFactor
	} else {
		m.ProfitFactor = math.Inf(1)
	}
	return nil
}

// MarshalJSON mirrors Metrics.MarshalJSON for the per-symbol profit
// factor.
func (s SymbolBreakdown) MarshalJSON() ([]byte, error) {
	type alias SymbolBreakdown
	return json.Marshal(struct {
		alias
		ProfitFactor *float64 `json:"ProfitFactor"`
	}{alias(s), finiteOrNull(s.ProfitFactor)})
}

// UnmarshalJSON mirrors Metrics.UnmarshalJSON for the per-symbol profit
// factor.
func (s *SymbolBreakdown) UnmarshalJSON(b []byte) error {
	type alias SymbolBreakdown
	aux := struct {
		*alias
		ProfitFactor *float64 `json:"ProfitFactor"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.ProfitFactor != nil {
		s.ProfitFactor = *aux.ProfitFactor
	} else {
		s.ProfitFactor = math.Inf(1)
	}
	return nil
}

// DegradationScore compares in-sample to out-of-sample metrics. Returns
// (score, ok); ok is false iff oosTradeCount == 0, since a score over an
// empty holdout is meaningless.
func DegradationScore(is, oos Metrics, oosTradeCount int) (float64, bool) {
	if oosTradeCount == 0 {
		return 0, false
	}

	var sharpeDeg float64
	if is.Sharpe > 0 {
		sharpeDeg = math.Max(0, (is.Sharpe-oos.Sharpe)/is.Sharpe)
	} else if oos.Sharpe <= 0 {
		sharpeDeg = 100
	}

	var winrateDeg float64
	if is.WinRate > 0 {
		winrateDeg = math.Max(0, (is.WinRate-oos.WinRate)/is.WinRate)
	}

	score := clamp(0, 100, (0.7*sharpeDeg+0.3*winrateDeg)*100)
	return score, true
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
