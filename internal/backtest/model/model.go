// Package model holds the domain types shared across the backtest
// subsystems: IV/spot time-series points, strategy configuration variants,
// signals, and the simulated-trade lifecycle.
package model

import "time"

// IVPoint is one day's implied-volatility snapshot for a symbol. AtmIV is
// always stored as a decimal (0.30, not 30); the loader normalises whatever
// the source file uses before constructing one of these.
type IVPoint struct {
	Date            time.Time
	Symbol          string
	AtmIV           float64
	IVRank          float64 // 0-100; zero value means "unset", see IVRankSet
	IVPercentile    float64 // 0-100; zero value means "unset", see IVPercentileSet
	IVRankSet       bool
	IVPercentileSet bool
	HV30            float64
	HV30Set         bool
	Skew            float64
	SkewSet         bool
	TermM1M2        float64
	TermM1M2Set     bool
	TermM1M3        float64
	TermM1M3Set     bool
	SpotPrice       float64
	SpotPriceSet    bool
}

// Valid reports whether the point carries the minimum fields the rest of
// the pipeline requires.
func (p IVPoint) Valid() bool {
	return !p.Date.IsZero() && p.AtmIV > 0 && p.IVPercentileSet
}

// SpotBar is a daily OHLC record for a symbol, used only for gap analysis.
type SpotBar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// GapPct returns the percentage gap between this bar's open and the
// previous bar's close.
func (b SpotBar) GapPct(prevClose float64) float64 {
	if prevClose == 0 {
		return 0
	}
	return (b.Open - prevClose) / prevClose * 100
}

// EarningsCalendar maps a symbol to its known earnings dates, ascending.
type EarningsCalendar map[string][]time.Time

// NextEarnings returns the first earnings date on or after from, and
// whether one was found.
func (c EarningsCalendar) NextEarnings(symbol string, from time.Time) (time.Time, bool) {
	dates := c[symbol]
	for _, d := range dates {
		if !d.Before(from) {
			return d, true
		}
	}
	return time.Time{}, false
}

// Signal is produced by the signal generator and consumed immediately by
// the simulator; it is never persisted.
type Signal struct {
	Date           time.Time
	Symbol         string
	IVAtEntry      IVPoint
	SpotAtEntry    float64
	SignalStrength float64
	TermAtEntry    float64
	TermAtEntrySet bool
}

// ExitReason enumerates why a trade was closed.
type ExitReason string

const (
	ExitProfitTarget ExitReason = "PROFIT_TARGET"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTimeDecay    ExitReason = "TIME_DECAY"
	ExitMaxDIT       ExitReason = "MAX_DIT"
	ExitIVCollapse   ExitReason = "IV_COLLAPSE"
	ExitDeltaBreach  ExitReason = "DELTA_BREACH"
	ExitNearLegDTE   ExitReason = "NEAR_LEG_DTE"
	ExitExpiration   ExitReason = "EXPIRATION"
	ExitManual       ExitReason = "MANUAL"
)

// TradeStatus is the lifecycle state of a SimulatedTrade.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// Greeks bundles position-level sensitivities captured at entry and on
// each subsequent mark, for strategies using the Greeks-based P&L model.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// SimulatedTrade is owned by the simulator from open_trade through close.
// History slices are append-only and always kept the same length.
type SimulatedTrade struct {
	// Identity
	EntryDate    time.Time
	Symbol       string
	StrategyType StrategyType

	// Entry snapshot
	IVAtEntry           float64
	IVPercentileAtEntry float64
	IVRankAtEntry       float64
	SpotAtEntry         float64
	TargetExpiry        time.Time

	// Calendar-only entry fields
	ShortExpiry    time.Time
	LongExpiry     time.Time
	EntryDebit     float64
	TermAtEntry    float64
	TermAtEntrySet bool

	// Sizing
	MaxRisk          float64
	EstimatedCredit  float64
	NumContracts     int
	TargetDTE        int
	GreeksAtEntry    Greeks
	HasGreeksAtEntry bool

	// GreeksLegStrikes/GreeksLegIsCall/GreeksLegIsShort record the
	// synthesized leg structure the Greeks-based P&L model priced at
	// entry, so it can recompute Greeks on any later day without
	// re-deriving strikes from the (possibly different) current spot.
	GreeksLegStrikes []float64
	GreeksLegIsCall  []bool
	GreeksLegIsShort []bool

	// Mutable history, parallel arrays
	PnLHistory     []float64
	IVHistory      []float64
	SpotHistory    []float64
	DateHistory    []time.Time
	GreeksHistory  []Greeks
	DaysInTrade    int
	CurrentPnL     float64

	// Exit snapshot, set once
	Status     TradeStatus
	ExitDate   time.Time
	ExitReason ExitReason
	FinalPnL   float64
	IVAtExit   float64
	SpotAtExit float64
}

// IsOpen reports whether the trade has not yet closed.
func (t *SimulatedTrade) IsOpen() bool { return t.Status == StatusOpen || t.Status == "" }

// AppendHistory records one day's date, IV, spot and Greeks, keeping
// those four slices the same length by construction. PnLHistory is
// appended by the caller once the day's mark is known.
func (t *SimulatedTrade) AppendHistory(date time.Time, iv, spot float64, g Greeks) {
	t.DateHistory = append(t.DateHistory, date)
	t.IVHistory = append(t.IVHistory, iv)
	t.SpotHistory = append(t.SpotHistory, spot)
	t.GreeksHistory = append(t.GreeksHistory, g)
}

// Close transitions the trade to CLOSED. Calling Close on an
// already-closed trade is a no-op (idempotent to the caller).
func (t *SimulatedTrade) Close(date time.Time, reason ExitReason, finalPnL, ivAtExit, spotAtExit float64) {
	if t.Status == StatusClosed {
		return
	}
	t.Status = StatusClosed
	t.ExitDate = date
	t.ExitReason = reason
	t.FinalPnL = finalPnL
	t.IVAtExit = ivAtExit
	t.SpotAtExit = spotAtExit
	t.DaysInTrade = int(date.Sub(t.EntryDate).Hours() / 24)
}

// Basis returns the risk/credit denominator exit-rule percentages are
// expressed against: credit for credit strategies, entry debit for
// calendars.
func (t *SimulatedTrade) Basis() float64 {
	if t.StrategyType.Kind == KindCalendar {
		return t.EntryDebit
	}
	return t.EstimatedCredit
}

// StrategyKind discriminates the tagged StrategyConfig variant a trade or
// configuration belongs to.
type StrategyKind string

const (
	KindIronCondor StrategyKind = "iron_condor"
	KindCalendar   StrategyKind = "calendar"
	KindGeneric    StrategyKind = "generic"
)

// StrategyType is the minimal tag carried on a trade; full parameters live
// on the StrategyConfig used to open it.
type StrategyType struct {
	Kind StrategyKind
}
