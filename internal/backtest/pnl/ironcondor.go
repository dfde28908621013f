package pnl

import (
	"math"

	"github.com/ivbacktest/core/internal/backtest/model"
)

// ironCondorLegs is the fixed leg count used for commission costs: two
// short legs, two long legs.
const ironCondorLegs = 4

// IronCondorIVProxyModel prices an iron condor purely from IV level,
// time, and (for the delta-breach exit) spot movement, without a Greeks
// simulation. Inputs are assumed already normalised to decimal IV.
type IronCondorIVProxyModel struct {
	CommissionPerContract float64
}

var _ Model = (*IronCondorIVProxyModel)(nil)

func (m *IronCondorIVProxyModel) EstimateEntryCost(cfg model.StrategyConfig, entry model.IVPoint, spot float64) EntryCost {
	ic, ok := cfg.(model.IronCondorConfig)
	if !ok {
		ic = model.IronCondorConfig{WingWidth: 5, TargetDTE: 45}
	}

	wingWidth := 100 * ic.WingWidth
	const baseRatio = 0.30
	ivAdj := entry.AtmIV / 0.20
	dteAdj := math.Min(1.2, float64(ic.TargetDTE)/45)

	stddevAdj := 1.0
	if ic.StddevRange != 0 {
		stddevAdj = clamp(0.5, 1.5, math.Pow(1.5/ic.StddevRange, 0.6))
	}

	ratio := clamp(0.20, 0.50, baseRatio*ivAdj*dteAdj*stddevAdj)
	credit := wingWidth * ratio
	maxRisk := wingWidth - credit

	return EntryCost{Credit: credit, MaxRisk: maxRisk}
}

func (m *IronCondorIVProxyModel) EstimatePnL(
	trade *model.SimulatedTrade,
	currentIV float64, currentIVKnown bool,
	currentSpot float64,
	currentTerm float64, currentTermKnown bool,
) Estimate {
	if !currentIVKnown || trade.TargetDTE <= 0 {
		return Estimate{TotalPnL: trade.CurrentPnL}
	}

	ivDropVP := (trade.IVAtEntry - currentIV) * 100
	vegaPnL := ivDropVP * 1.5 * (trade.MaxRisk / 100)

	timeFrac := float64(trade.DaysInTrade) / float64(trade.TargetDTE)
	thetaPnL := trade.EstimatedCredit * math.Sqrt(math.Max(0, timeFrac)) * 0.5

	costs := m.CommissionPerContract * ironCondorLegs

	total := clamp(-trade.MaxRisk, trade.EstimatedCredit, vegaPnL+thetaPnL-costs)
	pct := 0.0
	if trade.MaxRisk != 0 {
		pct = total / trade.MaxRisk * 100
	}

	return Estimate{TotalPnL: total, VegaPnL: vegaPnL, ThetaPnL: thetaPnL, Costs: costs, PnLPct: pct}
}

func (m *IronCondorIVProxyModel) EstimateExitPnL(trade *model.SimulatedTrade, running Estimate, reason model.ExitReason, rules model.ExitRules) Estimate {
	maxRisk := trade.MaxRisk

	switch reason {
	case model.ExitProfitTarget:
		running.TotalPnL = math.Min(running.TotalPnL, trade.EstimatedCredit*rules.ProfitTargetPct/100)
	case model.ExitStopLoss:
		running.TotalPnL = math.Max(running.TotalPnL, -trade.EstimatedCredit*rules.StopLossPct/100)
	case model.ExitIVCollapse:
		running.TotalPnL = math.Max(0, running.TotalPnL)
	case model.ExitDeltaBreach:
		if trade.SpotAtEntry > 0 && len(trade.SpotHistory) > 0 {
			spotMovePct := math.Abs(trade.SpotHistory[len(trade.SpotHistory)-1]-trade.SpotAtEntry) / trade.SpotAtEntry * 100
			factor := clamp(0.2, 1.0, 0.2+0.8*math.Min(1, spotMovePct/15))
			running.TotalPnL = -maxRisk * factor
		} else {
			running.TotalPnL = -0.6 * maxRisk
		}
	}
	return running
}
