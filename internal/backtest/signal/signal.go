// Package signal evaluates daily entry criteria per symbol, producing the
// high-IV variant used by credit strategies and the low-IV variant used by
// calendars.
package signal

import (
	"math"
	"time"

	"github.com/ivbacktest/core/internal/backtest/model"
)

// Generator evaluates one symbol's IV point against configured entry
// rules for a trading date and emits a Signal, or nothing.
type Generator struct {
	Rules    model.EntryRules
	Earnings model.EarningsCalendar

	// LowIV selects the calendar-style variant; false selects the
	// high-IV (credit) variant.
	LowIV bool

	// blockedEntries counts earnings-exclusion rejections, for
	// diagnostics (spec scenario 5).
	blockedEntries int
}

// NewGenerator builds a Generator for the given rules. earnings may be
// nil, meaning no earnings-based exclusion is applied.
func NewGenerator(rules model.EntryRules, earnings model.EarningsCalendar, lowIV bool) *Generator {
	return &Generator{Rules: rules, Earnings: earnings, LowIV: lowIV}
}

// BlockedEntries returns the running count of signals rejected by the
// earnings exclusion.
func (g *Generator) BlockedEntries() int { return g.blockedEntries }

// Evaluate returns a signal for (symbol, date, point) if the point passes
// every enabled filter, hasPosition is false, and the earnings exclusion
// (if configured) does not block the date.
func (g *Generator) Evaluate(symbol string, date time.Time, point model.IVPoint, spot float64, hasPosition bool) (model.Signal, bool) {
	if hasPosition || !point.Valid() {
		return model.Signal{}, false
	}

	if g.earningsBlocks(symbol, date) {
		g.blockedEntries++
		return model.Signal{}, false
	}

	var ok bool
	if g.LowIV {
		ok = g.passesLowIV(point)
	} else {
		ok = g.passesHighIV(point)
	}
	if !ok {
		return model.Signal{}, false
	}

	sig := model.Signal{
		Date:           date,
		Symbol:         symbol,
		IVAtEntry:      point,
		SpotAtEntry:    spot,
		SignalStrength: g.strength(point),
	}
	if point.TermM1M2Set {
		sig.TermAtEntry, sig.TermAtEntrySet = point.TermM1M2, true
	}
	return sig, true
}

func (g *Generator) earningsBlocks(symbol string, date time.Time) bool {
	if g.Earnings == nil || g.Rules.MinDaysUntilEarnings <= 0 {
		return false
	}
	next, ok := g.Earnings.NextEarnings(symbol, date)
	if !ok {
		return false
	}
	windowEnd := date.AddDate(0, 0, g.Rules.MinDaysUntilEarnings)
	return !next.Before(date) && next.Before(windowEnd)
}

func (g *Generator) passesHighIV(p model.IVPoint) bool {
	r := g.Rules
	if p.IVPercentile < r.IVPercentileMin {
		return false
	}
	if r.IVRankMinSet && (!p.IVRankSet || p.IVRank < r.IVRankMin) {
		return false
	}
	if r.SkewRangeSet && p.SkewSet && (p.Skew < r.SkewMin || p.Skew > r.SkewMax) {
		return false
	}
	if r.TermM1M2RangeSet && p.TermM1M2Set && (p.TermM1M2 < r.TermM1M2Min || p.TermM1M2 > r.TermM1M2Max) {
		return false
	}
	if r.IVMinusHV30RangeSet && p.HV30Set {
		diff := p.AtmIV - p.HV30
		if diff < r.IVMinusHV30Min || diff > r.IVMinusHV30Max {
			return false
		}
	}
	return true
}

func (g *Generator) passesLowIV(p model.IVPoint) bool {
	r := g.Rules
	if p.IVPercentile > r.IVPercentileMax {
		return false
	}
	if !p.IVRankSet || p.IVRank > r.IVRankMax {
		return false
	}
	if r.TermStructureMinSet && p.TermM1M2Set && p.TermM1M2 < r.TermStructureMin {
		return false
	}
	return true
}

// strength computes the weighted 0-100 signal-strength score, normalised
// by the weights actually used (terms whose inputs are absent drop out
// of both numerator and denominator).
func (g *Generator) strength(p model.IVPoint) float64 {
	var sum, weightUsed float64

	pctTerm := p.IVPercentile
	if g.LowIV {
		pctTerm = 100 - pctTerm
	}
	a := clamp(0, 1, (pctTerm-60)/40) * 50
	sum += a
	weightUsed += 50

	if p.HV30Set {
		b := math.Min(1, (p.AtmIV-p.HV30)/0.10) * 25
		sum += b
		weightUsed += 25
	}

	if p.IVRankSet {
		c := clamp(0, 100, p.IVRank) / 100 * 25
		sum += c
		weightUsed += 25
	}

	if weightUsed == 0 {
		return 0
	}
	return sum / weightUsed * 100
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
