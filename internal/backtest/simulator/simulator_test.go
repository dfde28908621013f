package simulator

import (
	"math"
	"testing"
	"time"

	"github.com/ivbacktest/core/internal/backtest/ivseries"
	"github.com/ivbacktest/core/internal/backtest/model"
	"github.com/ivbacktest/core/internal/backtest/pnl"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// stubModel is a deterministic pnl.Model double: entry cost and daily mark
// are both fixed, and the exit reason always caps the running mark to a
// known value so tests can assert on simulator wiring, not formulas.
type stubModel struct {
	credit, maxRisk float64
	mark            float64
	debit           float64
	exitReason      model.ExitReason
	exitPnL         float64
}

var _ pnl.Model = (*stubModel)(nil)

func (m *stubModel) EstimateEntryCost(cfg model.StrategyConfig, entry model.IVPoint, spot float64) pnl.EntryCost {
	return pnl.EntryCost{Credit: m.credit, MaxRisk: m.maxRisk, Debit: m.debit}
}

func (m *stubModel) EstimatePnL(trade *model.SimulatedTrade, currentIV float64, currentIVKnown bool, currentSpot, currentTerm float64, currentTermKnown bool) pnl.Estimate {
	return pnl.Estimate{TotalPnL: m.mark}
}

func (m *stubModel) EstimateExitPnL(trade *model.SimulatedTrade, running pnl.Estimate, reason model.ExitReason, rules model.ExitRules) pnl.Estimate {
	if reason == m.exitReason {
		return pnl.Estimate{TotalPnL: m.exitPnL}
	}
	return running
}

func baseSignal(symbol, date string, spot float64) model.Signal {
	return model.Signal{
		Date:        day(date),
		Symbol:      symbol,
		IVAtEntry:   model.IVPoint{Date: day(date), AtmIV: 0.3, IVPercentileSet: true},
		SpotAtEntry: spot,
	}
}

func TestOpenTradeRefusesDuplicateSymbol(t *testing.T) {
	sim := New(model.IronCondorConfig{TargetDTE: 45}, model.PositionSizing{}, model.ExitRules{}, &stubModel{credit: 100, maxRisk: 200})
	sig := baseSignal("SPY", "2024-01-01", 450)

	if _, ok := sim.OpenTrade(sig, 0, false); !ok {
		t.Fatal("expected first open to succeed")
	}
	if _, ok := sim.OpenTrade(sig, 0, false); ok {
		t.Fatal("expected duplicate-symbol open to be refused")
	}
}

func TestOpenTradeRefusesSameDayReopenAfterClose(t *testing.T) {
	sim := New(model.IronCondorConfig{TargetDTE: 45}, model.PositionSizing{}, model.ExitRules{ProfitTargetPct: 50}, &stubModel{
		credit: 100, maxRisk: 200, mark: 80, exitReason: model.ExitProfitTarget, exitPnL: 50,
	})
	sim.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false)
	closed := sim.ProcessDay(day("2024-01-15"), map[string]DayPoint{"SPY": {IV: 0.18, IVKnown: true}})
	if len(closed) != 1 {
		t.Fatalf("expected the position closed, got %d", len(closed))
	}

	if _, ok := sim.OpenTrade(baseSignal("SPY", "2024-01-15", 460), 0, false); ok {
		t.Fatal("a symbol closed on a date must not re-open on the same date")
	}
	if _, ok := sim.OpenTrade(baseSignal("SPY", "2024-01-16", 460), 0, false); !ok {
		t.Fatal("expected re-entry allowed on a later date")
	}
}

func TestOpenTradeRefusesAtCountLimit(t *testing.T) {
	sim := New(model.IronCondorConfig{TargetDTE: 45}, model.PositionSizing{MaxTotalPositions: 1}, model.ExitRules{}, &stubModel{credit: 100, maxRisk: 200})

	if _, ok := sim.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false); !ok {
		t.Fatal("expected first open to succeed")
	}
	if _, ok := sim.OpenTrade(baseSignal("AAPL", "2024-01-01", 180), 0, false); ok {
		t.Fatal("expected open beyond max_total_positions to be refused")
	}
}

func TestOpenTradeRefusesOnRiskRewardThreshold(t *testing.T) {
	sizing := model.PositionSizing{MinRiskReward: 1.5, MinRiskRewardSet: true}
	// max_risk/credit = 200/100 = 2.0, over the 1.5 threshold.
	sim := New(model.IronCondorConfig{TargetDTE: 45}, sizing, model.ExitRules{}, &stubModel{credit: 100, maxRisk: 200})

	if _, ok := sim.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false); ok {
		t.Fatal("expected risk/reward rejection")
	}
	if sim.GetSummary().RiskRewardRejections != 1 {
		t.Fatalf("expected risk_reward_rejections=1, got %d", sim.GetSummary().RiskRewardRejections)
	}
}

func TestOpenTradeAppliesSlippageToCreditAndDebit(t *testing.T) {
	sizing := model.PositionSizing{SlippagePct: 10}
	simCredit := New(model.IronCondorConfig{TargetDTE: 45}, sizing, model.ExitRules{}, &stubModel{credit: 100, maxRisk: 200})
	tr, _ := simCredit.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false)
	if tr.EstimatedCredit != 90 {
		t.Fatalf("expected credit reduced by slippage to 90, got %v", tr.EstimatedCredit)
	}

	simDebit := New(model.CalendarConfig{NearDTE: 30, FarDTE: 60}, sizing, model.ExitRules{}, &stubModel{debit: 200})
	tr2, _ := simDebit.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false)
	if math.Abs(tr2.EntryDebit-220) > 1e-9 {
		t.Fatalf("expected debit increased by slippage to 220, got %v", tr2.EntryDebit)
	}
}

func TestOpenTradeSetsTargetExpiryFromStrategyDTE(t *testing.T) {
	sim := New(model.IronCondorConfig{TargetDTE: 45}, model.PositionSizing{}, model.ExitRules{}, &stubModel{credit: 100, maxRisk: 200})
	tr, _ := sim.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false)
	want := day("2024-01-01").AddDate(0, 0, 45)
	if !tr.TargetExpiry.Equal(want) {
		t.Fatalf("target_expiry = %v, want %v", tr.TargetExpiry, want)
	}
}

func TestProcessDayClosesOnExitAndRemovesFromOpenMap(t *testing.T) {
	sim := New(model.IronCondorConfig{TargetDTE: 45}, model.PositionSizing{}, model.ExitRules{ProfitTargetPct: 50}, &stubModel{
		credit: 100, maxRisk: 200, mark: 80, exitReason: model.ExitProfitTarget, exitPnL: 50,
	})
	sim.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false)

	closed := sim.ProcessDay(day("2024-01-15"), map[string]DayPoint{
		"SPY": {IV: 0.18, IVKnown: true, Spot: 460, SpotKnown: true},
	})

	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	if closed[0].ExitReason != model.ExitProfitTarget || closed[0].FinalPnL != 50 {
		t.Fatalf("unexpected close: %+v", closed[0])
	}
	if sim.HasPosition("SPY") {
		t.Fatal("expected SPY removed from the open map after close")
	}
	if err := sim.ValidateInvariants(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestProcessDayKeepsHistoryLengthsInSync(t *testing.T) {
	sim := New(model.IronCondorConfig{TargetDTE: 45}, model.PositionSizing{}, model.ExitRules{ProfitTargetPct: 1000}, &stubModel{
		credit: 100, maxRisk: 200, mark: 5,
	})
	sim.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false)

	sim.ProcessDay(day("2024-01-02"), map[string]DayPoint{"SPY": {IV: 0.29, IVKnown: true, Spot: 451, SpotKnown: true}})
	sim.ProcessDay(day("2024-01-03"), map[string]DayPoint{"SPY": {IV: 0.28, IVKnown: true, Spot: 452, SpotKnown: true}})

	tr := sim.GetAllTrades()[0]
	if len(tr.DateHistory) != 2 || len(tr.IVHistory) != 2 || len(tr.SpotHistory) != 2 {
		t.Fatalf("expected 2 days of parallel history, got %+v", tr)
	}
	if tr.DaysInTrade != 2 {
		t.Fatalf("expected days_in_trade=2, got %d", tr.DaysInTrade)
	}
}

func TestProcessDaySameDateAgainIsNoOp(t *testing.T) {
	sim := New(model.IronCondorConfig{TargetDTE: 45}, model.PositionSizing{}, model.ExitRules{ProfitTargetPct: 1000}, &stubModel{
		credit: 100, maxRisk: 200, mark: 5,
	})
	sim.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false)

	sim.ProcessDay(day("2024-01-02"), map[string]DayPoint{"SPY": {IV: 0.29, IVKnown: true}})
	sim.ProcessDay(day("2024-01-02"), map[string]DayPoint{"SPY": {IV: 0.29, IVKnown: true}})

	tr := sim.GetAllTrades()[0]
	if len(tr.DateHistory) != 1 {
		t.Fatalf("re-processing the same date must not double-count history, got %d entries", len(tr.DateHistory))
	}
}

func TestForceCloseAllUsesLastKnownMark(t *testing.T) {
	sim := New(model.IronCondorConfig{TargetDTE: 45}, model.PositionSizing{}, model.ExitRules{ProfitTargetPct: 1000}, &stubModel{
		credit: 100, maxRisk: 200, mark: 17,
	})
	sim.OpenTrade(baseSignal("SPY", "2024-01-01", 450), 0, false)
	sim.ProcessDay(day("2024-01-02"), map[string]DayPoint{"SPY": {IV: 0.29, IVKnown: true, Spot: 451, SpotKnown: true}})

	closed := sim.ForceCloseAll(day("2024-01-03"), model.ExitManual)
	if len(closed) != 1 {
		t.Fatalf("expected 1 forced close, got %d", len(closed))
	}
	if closed[0].ExitReason != model.ExitManual || closed[0].FinalPnL != 17 {
		t.Fatalf("unexpected forced close: %+v", closed[0])
	}
	if closed[0].SpotAtExit != 451 {
		t.Fatalf("expected last known spot 451, got %v", closed[0].SpotAtExit)
	}
	if sim.HasPosition("SPY") {
		t.Fatal("expected position removed after forced close")
	}
}

func TestMergedTradingDatesUnionsAndSorts(t *testing.T) {
	spy := ivseries.New("SPY")
	spy.Add(model.IVPoint{Date: day("2024-01-01"), AtmIV: 0.3, IVPercentileSet: true})
	spy.Add(model.IVPoint{Date: day("2024-01-03"), AtmIV: 0.3, IVPercentileSet: true})

	aapl := ivseries.New("AAPL")
	aapl.Add(model.IVPoint{Date: day("2024-01-02"), AtmIV: 0.3, IVPercentileSet: true})
	aapl.Add(model.IVPoint{Date: day("2024-01-03"), AtmIV: 0.3, IVPercentileSet: true})

	dates := MergedTradingDates(map[string]*ivseries.Series{"SPY": spy, "AAPL": aapl})
	if len(dates) != 3 {
		t.Fatalf("expected 3 unique dates, got %d", len(dates))
	}
	for i := 1; i < len(dates); i++ {
		if dates[i].Before(dates[i-1]) {
			t.Fatalf("dates not sorted ascending: %v", dates)
		}
	}
}
