package pnl

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/ivbacktest/core/internal/backtest/model"
	"github.com/ivbacktest/core/internal/pricing"
)

// Typed errors for the wing-strike expression evaluator, mirroring the
// leg-expression errors the legacy planner raised.
var (
	ErrInvalidStrikeExpression = errors.New("invalid strike expression")
	ErrLegIndexOutOfRange      = errors.New("leg index out of range")
)

var legRefPattern = regexp.MustCompile(`\{LEG(\d)\.(STRIKE|PREMIUM)\}`)

// leg is one resolved option leg of the synthesized iron condor: short or
// long, put or call, with its strike and entry Greeks.
type leg struct {
	Strike  float64
	Premium float64
	IsCall  bool
	IsShort bool
	Greeks  pricing.Greeks
}

// GreeksModel synthesizes four Black-Scholes legs per the entry
// heuristic (short_put ≈ spot − 0.85·iv·spot, wings one IV-sigma
// further out) and marks the position using gamma/theta/vega only; it
// never needs a live option quote. When the strategy config carries a
// short delta, the short strikes are solved from it instead of the
// 0.85-sigma heuristic.
type GreeksModel struct {
	RiskFreeRate float64 // annualised, e.g. 0.04
	// WingExpr, if set, overrides how the long put strike is derived
	// from the short leg, e.g. "{LEG1.STRIKE}-10". Empty means one
	// IV-sigma further out. The long call strike is always one IV-sigma
	// beyond the short call; WingExpr does not apply to it.
	WingExpr string
}

var _ Model = (*GreeksModel)(nil)

func (m *GreeksModel) EstimateEntryCost(cfg model.StrategyConfig, entry model.IVPoint, spot float64) EntryCost {
	ic, ok := cfg.(model.IronCondorConfig)
	if !ok {
		ic = model.IronCondorConfig{WingWidth: 5, TargetDTE: 45}
	}
	T := float64(ic.TargetDTE) / 365
	sigma := entry.AtmIV

	shortPut := spot - 0.85*sigma*spot
	shortCall := spot + 0.85*sigma*spot
	if ic.ShortDelta > 0 {
		shortPut = pricing.StrikeFromDelta(spot, ic.ShortDelta, m.RiskFreeRate, 0, sigma, T, false)
		shortCall = pricing.StrikeFromDelta(spot, ic.ShortDelta, m.RiskFreeRate, 0, sigma, T, true)
	}
	sigmaMove := sigma * spot

	longPutStrike := shortPut - sigmaMove
	longCallStrike := shortCall + sigmaMove
	if m.WingExpr != "" {
		if v, err := evaluateLegExpression(m.WingExpr, []leg{{Strike: shortPut}}); err == nil {
			longPutStrike = v
		}
	}

	legs := []leg{
		{Strike: shortPut, IsCall: false, IsShort: true},
		{Strike: longPutStrike, IsCall: false, IsShort: false},
		{Strike: shortCall, IsCall: true, IsShort: true},
		{Strike: longCallStrike, IsCall: true, IsShort: false},
	}

	var posDelta, posGamma, posTheta, posVega, creditPerShare float64
	for i := range legs {
		l := &legs[i]
		g := pricing.BlackScholesGreeks(l.IsCall, spot, l.Strike, T, m.RiskFreeRate, sigma)
		price := pricing.BlackScholesPrice(l.IsCall, spot, l.Strike, T, m.RiskFreeRate, sigma)
		l.Premium = price
		l.Greeks = g

		sign := 1.0
		if l.IsShort {
			sign = -1.0
			creditPerShare += price
		} else {
			creditPerShare -= price
		}
		posDelta += sign * g.Delta
		posGamma += sign * g.Gamma
		posTheta += sign * g.Theta
		posVega += sign * g.Vega
	}

	wingWidth := 100 * ic.WingWidth
	credit := creditPerShare * 100
	minCredit := wingWidth * 0.15
	maxCredit := wingWidth * 0.50
	if credit <= 0 {
		// typical wing-width band fallback when leg pricing yields zero
		// or negative credit. A live system should widen strikes or
		// refuse the trade instead.
		credit = clamp(minCredit, maxCredit, minCredit)
	} else {
		credit = clamp(minCredit, maxCredit, credit)
	}

	maxRisk := wingWidth - credit

	strikes := make([]float64, len(legs))
	isCall := make([]bool, len(legs))
	isShort := make([]bool, len(legs))
	for i, l := range legs {
		strikes[i], isCall[i], isShort[i] = l.Strike, l.IsCall, l.IsShort
	}

	return EntryCost{
		Credit:  credit,
		MaxRisk: maxRisk,
		Greeks: model.Greeks{
			Delta: posDelta,
			Gamma: posGamma,
			Theta: posTheta,
			Vega:  posVega,
		},
		HasGreeks:  true,
		LegStrikes: strikes,
		LegIsCall:  isCall,
		LegIsShort: isShort,
	}
}

func (m *GreeksModel) EstimatePnL(
	trade *model.SimulatedTrade,
	currentIV float64, currentIVKnown bool,
	currentSpot float64,
	currentTerm float64, currentTermKnown bool,
) Estimate {
	if !trade.HasGreeksAtEntry || !currentIVKnown || len(trade.GreeksLegStrikes) == 0 {
		return Estimate{TotalPnL: trade.CurrentPnL}
	}

	entryG := trade.GreeksAtEntry
	curG := m.positionGreeks(trade, currentIV, currentSpot)

	spotMove := currentSpot - trade.SpotAtEntry
	gammaTerm := 0.5 * entryG.Gamma * spotMove * spotMove * 100
	thetaTerm := (entryG.Theta + curG.Theta) / 2 * float64(trade.DaysInTrade) * 100
	vegaTerm := (curG.Vega - entryG.Vega) * 100

	total := clamp(-trade.MaxRisk, trade.EstimatedCredit, gammaTerm+thetaTerm+vegaTerm)

	pct := 0.0
	if trade.MaxRisk != 0 {
		pct = total / trade.MaxRisk * 100
	}

	return Estimate{TotalPnL: total, VegaPnL: vegaTerm, ThetaPnL: thetaTerm, PnLPct: pct, Greeks: curG, HasGreeks: true}
}

// positionGreeks recomputes the aggregate position Greeks on a later day
// from the strikes fixed at entry, the remaining time to target expiry,
// the current spot, and the current IV.
func (m *GreeksModel) positionGreeks(trade *model.SimulatedTrade, currentIV, currentSpot float64) model.Greeks {
	T := math.Max(0, trade.TargetExpiry.Sub(trade.DateHistory[len(trade.DateHistory)-1]).Hours()/24/365)

	var g model.Greeks
	for i, strike := range trade.GreeksLegStrikes {
		leg := pricing.BlackScholesGreeks(trade.GreeksLegIsCall[i], currentSpot, strike, T, m.RiskFreeRate, currentIV)
		sign := 1.0
		if trade.GreeksLegIsShort[i] {
			sign = -1.0
		}
		g.Delta += sign * leg.Delta
		g.Gamma += sign * leg.Gamma
		g.Theta += sign * leg.Theta
		g.Vega += sign * leg.Vega
	}
	return g
}

func (m *GreeksModel) EstimateExitPnL(trade *model.SimulatedTrade, running Estimate, reason model.ExitReason, rules model.ExitRules) Estimate {
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
			running.TotalPnL = -trade.MaxRisk * factor
		} else {
			running.TotalPnL = -0.6 * trade.MaxRisk
		}
	}
	return running
}

// evaluateLegExpression resolves {LEGn.STRIKE}/{LEGn.PREMIUM} references
// against already-priced legs and evaluates the remaining arithmetic
// expression via govaluate.
func evaluateLegExpression(expr string, legs []leg) (float64, error) {
	matches := legRefPattern.FindAllStringSubmatch(expr, -1)
	if matches == nil {
		return 0, ErrInvalidStrikeExpression
	}

	evalStr := expr
	for _, match := range matches {
		idx, _ := strconv.Atoi(match[1])
		idx--

		if idx < 0 || idx >= len(legs) {
			return 0, ErrLegIndexOutOfRange
		}

		var value float64
		if match[2] == "STRIKE" {
			value = legs[idx].Strike
		} else {
			value = legs[idx].Premium
		}

		evalStr = strings.Replace(evalStr, match[0], fmt.Sprintf("%f", value), 1)
	}

	evalExpr, err := govaluate.NewEvaluableExpression(evalStr)
	if err != nil {
		return 0, err
	}

	result, err := evalExpr.Evaluate(nil)
	if err != nil {
		return 0, err
	}

	f, ok := result.(float64)
	if !ok {
		return 0, ErrInvalidStrikeExpression
	}
	return f, nil
}
