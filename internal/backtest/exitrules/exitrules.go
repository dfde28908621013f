// Package exitrules implements the six-rule priority cascade that
// produces at most one exit decision per trade per day.
package exitrules

import (
	"math"
	"time"

	"github.com/ivbacktest/core/internal/backtest/model"
)

// Evaluator checks a trade's current state against the configured exit
// rules in canonical priority order and returns at most one decision.
type Evaluator struct {
	Rules model.ExitRules
}

// New returns an Evaluator for rules.
func New(rules model.ExitRules) *Evaluator {
	return &Evaluator{Rules: rules}
}

// Decide checks trade against the cascade for the current day. totalPnL
// is the model's current mark. When currentIVKnown is false the
// IV-dependent rules (profit target, stop loss, delta breach, IV
// collapse) are skipped and only the time-based rules run; spotKnown
// gates the spot-move half of the delta-breach check.
func (e *Evaluator) Decide(
	trade *model.SimulatedTrade,
	totalPnL float64,
	currentIV float64, currentIVKnown bool,
	spotMovePct float64, spotKnown bool,
) (model.ExitReason, bool) {
	r := e.Rules
	basis := trade.Basis()
	ivDropVP := (trade.IVAtEntry - currentIV) * 100

	if currentIVKnown {
		if basis > 0 && totalPnL >= basis*r.ProfitTargetPct/100 {
			return model.ExitProfitTarget, true
		}
		if basis > 0 && totalPnL <= -basis*r.StopLossPct/100 {
			return model.ExitStopLoss, true
		}
	}

	if trade.StrategyType.Kind == model.KindCalendar {
		if !trade.ShortExpiry.IsZero() {
			remaining := daysUntil(trade.ShortExpiry, trade)
			if remaining <= r.MinDTE {
				return model.ExitNearLegDTE, true
			}
		}
	} else {
		if !trade.TargetExpiry.IsZero() {
			remaining := daysUntil(trade.TargetExpiry, trade)
			if remaining <= r.MinDTE {
				return model.ExitTimeDecay, true
			}
		}
	}

	if currentIVKnown {
		spikeThreshold := r.DeltaBreachIVSpike
		if spikeThreshold <= 0 {
			if trade.StrategyType.Kind == model.KindCalendar {
				spikeThreshold = 8
			} else {
				spikeThreshold = 15
			}
		}
		ivSpike := ivDropVP <= -spikeThreshold // IV rose by >= threshold
		spotBreach := spotKnown && math.Abs(spotMovePct) >= breachSpotPct(r)
		if ivSpike || spotBreach {
			return model.ExitDeltaBreach, true
		}
	}

	if currentIVKnown && r.IVCollapseEnabled && trade.StrategyType.Kind != model.KindCalendar {
		threshold := r.IVCollapseVP
		if threshold <= 0 {
			threshold = 10
		}
		if ivDropVP >= threshold {
			return model.ExitIVCollapse, true
		}
	}

	maxDIT := r.MaxDaysInTrade
	if trade.DaysInTrade >= maxDIT && maxDIT > 0 {
		return model.ExitMaxDIT, true
	}

	var remainingDTE int
	if trade.StrategyType.Kind == model.KindCalendar {
		remainingDTE = daysUntil(trade.ShortExpiry, trade)
	} else {
		remainingDTE = daysUntil(trade.TargetExpiry, trade)
	}
	if remainingDTE <= 0 {
		return model.ExitExpiration, true
	}

	return "", false
}

func breachSpotPct(r model.ExitRules) float64 {
	if r.DeltaBreachSpotPct > 0 {
		return r.DeltaBreachSpotPct
	}
	return 5
}

func daysUntil(expiry time.Time, trade *model.SimulatedTrade) int {
	if len(trade.DateHistory) == 0 {
		return int(expiry.Sub(trade.EntryDate).Hours() / 24)
	}
	current := trade.DateHistory[len(trade.DateHistory)-1]
	return int(expiry.Sub(current).Hours() / 24)
}
