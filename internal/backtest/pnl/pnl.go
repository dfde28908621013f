// Package pnl implements the P&L model interface and its three variants:
// the iron-condor IV-proxy model, the calendar-spread model, and the
// optional Greeks-based model. All three estimate entry cost, mark a
// position daily, and compute the final P&L for a given exit reason.
package pnl

import "github.com/ivbacktest/core/internal/backtest/model"

// Estimate bundles the five quantities every model variant produces on a
// mark.
type Estimate struct {
	TotalPnL float64
	VegaPnL  float64
	ThetaPnL float64
	Costs    float64
	PnLPct   float64

	// Greeks/HasGreeks are populated only by the Greeks-based model, so
	// the simulator can record the day's position Greeks in the trade's
	// history without every model needing to know about Greeks.
	Greeks    model.Greeks
	HasGreeks bool
}

// EntryCost is what a model computes when a trade is opened: the credit
// received (0 for debit strategies) and/or the debit paid.
type EntryCost struct {
	Credit    float64
	Debit     float64
	MaxRisk   float64
	Greeks    model.Greeks
	HasGreeks bool

	// LegStrikes/LegIsCall/LegIsShort are set only by the Greeks-based
	// model, so the simulator can thread them onto the trade for later
	// daily Greeks recomputation.
	LegStrikes []float64
	LegIsCall  []bool
	LegIsShort []bool
}

// Model is the capability set the simulator drives every position
// through, regardless of which variant is configured.
type Model interface {
	// EstimateEntryCost computes the credit/debit and max risk for a new
	// position from its configuration and the entry IV point.
	EstimateEntryCost(cfg model.StrategyConfig, entry model.IVPoint, spot float64) EntryCost

	// EstimatePnL marks an open position to market given its current
	// state.
	EstimatePnL(trade *model.SimulatedTrade, currentIV float64, currentIVKnown bool, currentSpot float64, currentTerm float64, currentTermKnown bool) Estimate

	// EstimateExitPnL adjusts the running estimate for the chosen exit
	// reason, using the configured exit-rule percentages/thresholds.
	EstimateExitPnL(trade *model.SimulatedTrade, running Estimate, reason model.ExitReason, rules model.ExitRules) Estimate
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
