// Package simulator owns open positions for one partition run: sizing and
// count limits, the daily tick that marks and exits positions, and the
// closed-trade history.
package simulator

import (
	"fmt"
	"sort"
	"time"

	"github.com/ivbacktest/core/internal/backtest/exitrules"
	"github.com/ivbacktest/core/internal/backtest/ivseries"
	"github.com/ivbacktest/core/internal/backtest/model"
	"github.com/ivbacktest/core/internal/backtest/pnl"
	"github.com/ivbacktest/core/internal/logger"
)

// Simulator drives one partition (in-sample or out-of-sample) of a
// backtest. It is single-threaded and cooperative: a trading day is a
// step, positions are processed sequentially, with no suspension points
// inside ProcessDay.
type Simulator struct {
	strategy  model.StrategyConfig
	sizing    model.PositionSizing
	exitRules model.ExitRules
	model     pnl.Model
	evaluator *exitrules.Evaluator

	open      map[string]*model.SimulatedTrade
	allTrades []*model.SimulatedTrade

	// diagnostics
	riskRewardRejections int
}

// New builds a Simulator for one partition.
func New(strategy model.StrategyConfig, sizing model.PositionSizing, exitRules model.ExitRules, pnlModel pnl.Model) *Simulator {
	return &Simulator{
		strategy:  strategy,
		sizing:    sizing,
		exitRules: exitRules,
		model:     pnlModel,
		evaluator: exitrules.New(exitRules),
		open:      make(map[string]*model.SimulatedTrade),
	}
}

// HasPosition reports whether symbol currently has an open position.
func (s *Simulator) HasPosition(symbol string) bool {
	_, ok := s.open[symbol]
	return ok
}

// OpenPositionSymbols returns the symbols with an open position, sorted.
func (s *Simulator) OpenPositionSymbols() []string {
	out := make([]string, 0, len(s.open))
	for sym := range s.open {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// GetAllTrades returns every trade this simulator has ever opened, open
// or closed.
func (s *Simulator) GetAllTrades() []*model.SimulatedTrade {
	return s.allTrades
}

// Summary is a lightweight run summary for diagnostics/logging.
type Summary struct {
	TotalTrades          int
	OpenTrades           int
	ClosedTrades         int
	RiskRewardRejections int
}

// GetSummary reports simulator-level counters.
func (s *Simulator) GetSummary() Summary {
	closed := 0
	for _, t := range s.allTrades {
		if t.Status == model.StatusClosed {
			closed++
		}
	}
	return Summary{
		TotalTrades:          len(s.allTrades),
		OpenTrades:           len(s.open),
		ClosedTrades:         closed,
		RiskRewardRejections: s.riskRewardRejections,
	}
}

// OpenTrade attempts to open a position from signal. It refuses when the
// symbol already has a position, the global count limit is reached, or
// (for credit strategies, when configured) the risk/reward ratio is
// unacceptable. termAtEntry, if known, is recorded for the calendar
// model's term_pnl; pass (0, false) when unavailable.
func (s *Simulator) OpenTrade(signal model.Signal, termAtEntry float64, termAtEntryKnown bool) (*model.SimulatedTrade, bool) {
	if s.HasPosition(signal.Symbol) {
		return nil, false
	}
	if s.sizing.MaxTotalPositions > 0 && len(s.open) >= s.sizing.MaxTotalPositions {
		return nil, false
	}
	// A position closed on date D cannot be re-opened on the same D,
	// even though ProcessDay has already removed it from the open map.
	for _, t := range s.allTrades {
		if t.Symbol == signal.Symbol && t.Status == model.StatusClosed && t.ExitDate.Equal(signal.Date) {
			return nil, false
		}
	}

	entryCost := s.model.EstimateEntryCost(s.strategy, signal.IVAtEntry, signal.SpotAtEntry)

	isCredit := s.strategy.Kind() != model.KindCalendar
	if isCredit && s.sizing.MinRiskRewardSet && entryCost.Credit > 0 {
		riskReward := entryCost.MaxRisk / entryCost.Credit
		if riskReward > s.sizing.MinRiskReward {
			s.riskRewardRejections++
			return nil, false
		}
	}

	credit := entryCost.Credit
	debit := entryCost.Debit
	slip := s.sizing.SlippagePct / 100
	if isCredit {
		credit *= 1 - slip
	} else {
		debit *= 1 + slip
	}

	trade := &model.SimulatedTrade{
		EntryDate:           signal.Date,
		Symbol:              signal.Symbol,
		StrategyType:        model.StrategyType{Kind: s.strategy.Kind()},
		IVAtEntry:           signal.IVAtEntry.AtmIV,
		IVPercentileAtEntry: signal.IVAtEntry.IVPercentile,
		IVRankAtEntry:       signal.IVAtEntry.IVRank,
		SpotAtEntry:         signal.SpotAtEntry,
		TargetExpiry:        signal.Date.AddDate(0, 0, s.strategy.Dte()),
		MaxRisk:             entryCost.MaxRisk,
		EstimatedCredit:     credit,
		EntryDebit:          debit,
		NumContracts:        1,
		TargetDTE:           s.strategy.Dte(),
		Status:              model.StatusOpen,
	}
	if termAtEntryKnown {
		trade.TermAtEntry, trade.TermAtEntrySet = termAtEntry, true
	}
	if cal, ok := s.strategy.(model.CalendarConfig); ok {
		trade.ShortExpiry = signal.Date.AddDate(0, 0, cal.NearDTE)
		trade.LongExpiry = signal.Date.AddDate(0, 0, cal.FarDTE)
	}
	if entryCost.HasGreeks {
		trade.GreeksAtEntry = entryCost.Greeks
		trade.HasGreeksAtEntry = true
		trade.GreeksLegStrikes = entryCost.LegStrikes
		trade.GreeksLegIsCall = entryCost.LegIsCall
		trade.GreeksLegIsShort = entryCost.LegIsShort
	}

	s.open[signal.Symbol] = trade
	s.allTrades = append(s.allTrades, trade)
	return trade, true
}

// DayPoint is one day's market data for one open position's symbol.
type DayPoint struct {
	IV        float64
	IVKnown   bool
	Spot      float64
	SpotKnown bool
	Term      float64
	TermKnown bool
}

// ProcessDay advances every open position by one day. For each: appends
// history, marks to market, and checks the exit cascade. process_day for
// existing positions must run before OpenTrade for new signals on the
// same date, per the ordering guarantee (enforced by caller sequencing).
func (s *Simulator) ProcessDay(date time.Time, marketData map[string]DayPoint) []*model.SimulatedTrade {
	var closed []*model.SimulatedTrade

	for _, symbol := range s.OpenPositionSymbols() {
		trade := s.open[symbol]
		dp, have := marketData[symbol]
		if !have {
			dp = DayPoint{}
		}

		// Re-processing a date the trade has already seen would
		// double-count history; such calls are no-ops per position.
		if n := len(trade.DateHistory); n > 0 && !date.After(trade.DateHistory[n-1]) {
			continue
		}

		trade.DaysInTrade = int(date.Sub(trade.EntryDate).Hours() / 24)
		trade.AppendHistory(date, dp.IV, dp.Spot, model.Greeks{})

		est := s.model.EstimatePnL(trade, dp.IV, dp.IVKnown, dp.Spot, dp.Term, dp.TermKnown)
		trade.CurrentPnL = est.TotalPnL
		trade.PnLHistory = append(trade.PnLHistory, est.TotalPnL)
		if est.HasGreeks {
			trade.GreeksHistory[len(trade.GreeksHistory)-1] = est.Greeks
		}

		spotMovePct := 0.0
		if dp.SpotKnown && trade.SpotAtEntry != 0 {
			spotMovePct = (dp.Spot - trade.SpotAtEntry) / trade.SpotAtEntry * 100
		}

		reason, exit := s.evaluator.Decide(trade, trade.CurrentPnL, dp.IV, dp.IVKnown, spotMovePct, dp.SpotKnown)
		if !exit {
			continue
		}

		finalEst := s.model.EstimateExitPnL(trade, est, reason, s.exitRules)
		trade.Close(date, reason, finalEst.TotalPnL, dp.IV, dp.Spot)
		delete(s.open, symbol)
		closed = append(closed, trade)
		logger.Debugf("closed %s on %s: %s pnl=%.2f", symbol, date.Format("2006-01-02"), reason, trade.FinalPnL)
	}

	return closed
}

// ForceCloseAll closes every open position using its last known mark,
// with the given exit reason (typically MANUAL at partition end).
func (s *Simulator) ForceCloseAll(date time.Time, reason model.ExitReason) []*model.SimulatedTrade {
	var closed []*model.SimulatedTrade
	for _, symbol := range s.OpenPositionSymbols() {
		trade := s.open[symbol]
		iv, spot := trade.IVAtEntry, trade.SpotAtEntry
		if len(trade.IVHistory) > 0 {
			iv = trade.IVHistory[len(trade.IVHistory)-1]
		}
		if len(trade.SpotHistory) > 0 {
			spot = trade.SpotHistory[len(trade.SpotHistory)-1]
		}
		trade.Close(date, reason, trade.CurrentPnL, iv, spot)
		delete(s.open, symbol)
		closed = append(closed, trade)
	}
	return closed
}

// MergedTradingDates returns the union of every series' dates in
// ascending order, the set the engine drives day-by-day.
func MergedTradingDates(series map[string]*ivseries.Series) []time.Time {
	seen := make(map[time.Time]bool)
	for _, s := range series {
		for _, d := range s.Dates() {
			seen[d] = true
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ValidateInvariants checks that open position count never exceeds the
// configured limit and that the open map's key set matches the symbols
// of still-open trades in allTrades.
func (s *Simulator) ValidateInvariants() error {
	if s.sizing.MaxTotalPositions > 0 && len(s.open) > s.sizing.MaxTotalPositions {
		return fmt.Errorf("open position count %d exceeds limit %d", len(s.open), s.sizing.MaxTotalPositions)
	}
	openFromAll := make(map[string]bool)
	for _, t := range s.allTrades {
		if t.Status == model.StatusOpen {
			openFromAll[t.Symbol] = true
		}
	}
	if len(openFromAll) != len(s.open) {
		return fmt.Errorf("open map and all-trades open set diverge: %d vs %d", len(s.open), len(openFromAll))
	}
	return nil
}
