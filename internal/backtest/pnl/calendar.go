package pnl

import (
	"math"

	"github.com/ivbacktest/core/internal/backtest/model"
)

// calendarLegs is a single long back-month leg plus a single short
// front-month leg.
const calendarLegs = 2

// CalendarModel prices a vega-long calendar spread: short the near
// expiry, long the far expiry at the same strike.
type CalendarModel struct {
	CommissionPerContract float64
}

var _ Model = (*CalendarModel)(nil)

func (m *CalendarModel) EstimateEntryCost(cfg model.StrategyConfig, entry model.IVPoint, spot float64) EntryCost {
	cal, ok := cfg.(model.CalendarConfig)
	if !ok {
		cal = model.CalendarConfig{NearDTE: 30, FarDTE: 60}
	}

	nearT := float64(cal.NearDTE) / 365
	farT := float64(cal.FarDTE) / 365
	debit := math.Max(50, 0.70*0.4*spot*entry.AtmIV*(math.Sqrt(farT)-math.Sqrt(nearT))*100)

	return EntryCost{Debit: debit, MaxRisk: debit}
}

func (m *CalendarModel) EstimatePnL(
	trade *model.SimulatedTrade,
	currentIV float64, currentIVKnown bool,
	currentSpot float64,
	currentTerm float64, currentTermKnown bool,
) Estimate {
	if !currentIVKnown || trade.EntryDebit == 0 {
		return Estimate{TotalPnL: trade.CurrentPnL}
	}

	vegaPnL := (currentIV - trade.IVAtEntry) * 100 * 2.0 * (trade.EntryDebit / 100)

	nearDTE := nearDTEFor(trade)
	thetaFrac := 1.0
	if nearDTE > 0 {
		thetaFrac = math.Min(1, math.Pow(float64(trade.DaysInTrade)/float64(nearDTE), 0.7))
	}
	thetaPnL := trade.EntryDebit * thetaFrac * 0.15

	termPnL := 0.0
	if currentTermKnown && trade.TermAtEntrySet {
		termPnL = (trade.TermAtEntry - currentTerm) * (trade.EntryDebit / 100) * 0.5
	}

	costs := m.CommissionPerContract * calendarLegs
	total := clamp(-trade.EntryDebit, trade.EntryDebit, vegaPnL+thetaPnL+termPnL-costs)

	pct := 0.0
	if trade.EntryDebit != 0 {
		pct = total / trade.EntryDebit * 100
	}

	return Estimate{TotalPnL: total, VegaPnL: vegaPnL, ThetaPnL: thetaPnL, Costs: costs, PnLPct: pct}
}

// nearDTEFor derives the remaining near-leg DTE at entry from the trade's
// short expiry and entry date.
func nearDTEFor(trade *model.SimulatedTrade) int {
	if trade.ShortExpiry.IsZero() {
		return 0
	}
	return int(trade.ShortExpiry.Sub(trade.EntryDate).Hours() / 24)
}

func (m *CalendarModel) EstimateExitPnL(trade *model.SimulatedTrade, running Estimate, reason model.ExitReason, rules model.ExitRules) Estimate {
	switch reason {
	case model.ExitProfitTarget:
		running.TotalPnL = math.Min(running.TotalPnL, trade.EntryDebit*rules.ProfitTargetPct/100)
	case model.ExitStopLoss:
		running.TotalPnL = math.Max(running.TotalPnL, -trade.EntryDebit*rules.StopLossPct/100)
	case model.ExitDeltaBreach:
		if trade.SpotAtEntry > 0 && len(trade.SpotHistory) > 0 {
			spotMovePct := math.Abs(trade.SpotHistory[len(trade.SpotHistory)-1]-trade.SpotAtEntry) / trade.SpotAtEntry * 100
			factor := clamp(0.2, 1.0, 0.2+0.8*math.Min(1, spotMovePct/15))
			running.TotalPnL = -trade.EntryDebit * factor
		} else {
			running.TotalPnL = -0.6 * trade.EntryDebit
		}
		// IV_COLLAPSE is disabled for calendars; its threshold only
		// applies to the iron-condor model.
	}
	return running
}
