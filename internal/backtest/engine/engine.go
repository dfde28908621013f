// Package engine orchestrates a full backtest run: load, split,
// in-sample and out-of-sample simulation, metrics, degradation, and
// validation.
package engine

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/ivbacktest/core/internal/backtest/ivseries"
	"github.com/ivbacktest/core/internal/backtest/loader"
	"github.com/ivbacktest/core/internal/backtest/metrics"
	"github.com/ivbacktest/core/internal/backtest/model"
	"github.com/ivbacktest/core/internal/backtest/pnl"
	"github.com/ivbacktest/core/internal/backtest/signal"
	"github.com/ivbacktest/core/internal/backtest/simulator"
	"github.com/ivbacktest/core/internal/logger"
	"github.com/ivbacktest/core/internal/registry"
)

// ProgressFunc reports percent-complete and may request cancellation by
// returning true. The engine checks it between trading days.
type ProgressFunc func(pct int) (cancel bool)

// Result is the full output of a backtest run: metrics per partition,
// combined trades, equity curve, degradation score, and validation.
type Result struct {
	Config Snapshot

	InSampleMetrics    metrics.Metrics
	OutSampleMetrics   metrics.Metrics
	CombinedMetrics    metrics.Metrics
	Trades             []*model.SimulatedTrade
	EquityCurve        []metrics.EquityPoint
	DegradationScore   float64
	HasDegradation     bool
	ValidationMessages []string
	IsValid            bool
	ErrorMessage       string
}

// Snapshot is a serializable copy of the config a run was launched with.
type Snapshot struct {
	StrategyType string
	Symbols      []string
	StartDate    time.Time
	EndDate      time.Time
}

// Engine ties the data loader, signal generator, simulator, and metrics
// calculator together for one Config.
//
// Registry and StrategyKey are optional: when both are set, Run applies
// the registry's current entry/exit/portfolio parameters for StrategyKey
// onto the run's Config before simulating, so a registry edit takes
// effect on the next run without threading parameters through call
// sites by hand. This replaces the source's "default registry" global
// with an explicit per-Engine collaborator.
type Engine struct {
	DataDir     string
	PnLModel    pnl.Model
	OnProgress  ProgressFunc
	Registry    *registry.Registry
	StrategyKey string
}

// New returns an Engine reading historical files from dataDir and
// pricing trades with pnlModel.
func New(dataDir string, pnlModel pnl.Model) *Engine {
	return &Engine{DataDir: dataDir, PnLModel: pnlModel}
}

// Run executes the full sequence described in the design: load, split,
// in-sample run, out-of-sample run, merge, metrics, degradation,
// validation.
func (e *Engine) Run(cfg model.Config) *Result {
	result := &Result{
		Config: Snapshot{
			StrategyType: cfg.StrategyType,
			Symbols:      cfg.Symbols,
			StartDate:    cfg.StartDate,
			EndDate:      cfg.EndDate,
		},
	}

	e.reportProgress(0)

	if cfg.Strategy == nil {
		cfg.Strategy = model.GenericConfig{TargetDTE: cfg.ExitRules.MaxDaysInTrade}
	}

	if e.Registry != nil && e.StrategyKey != "" {
		applyRegistryOverrides(e.Registry, e.StrategyKey, registry.PhaseMarketSelection, &cfg.EntryRules)
		applyRegistryOverrides(e.Registry, e.StrategyKey, registry.PhaseExit, &cfg.ExitRules)
		applyRegistryOverrides(e.Registry, e.StrategyKey, registry.PhasePortfolio, &cfg.PositionSizing)
	}

	ld := loader.New(e.DataDir)
	earnings := ld.LoadEarningsCalendar()

	all := ld.LoadAll(cfg.Symbols, cfg.StartDate, cfg.EndDate)
	if len(all) == 0 {
		result.IsValid = false
		result.ErrorMessage = "no symbols loaded"
		result.ValidationMessages = append(result.ValidationMessages, "loader returned zero symbols")
		return result
	}

	var inSample, outSample map[string]*ivseries.Series
	if cfg.SampleSplit.RatioSet {
		inSample, outSample = loader.SplitByRatio(all, cfg.SampleSplit.Ratio)
	} else {
		inSample, outSample = loader.SplitByDate(all, cfg.SampleSplit.Date)
	}

	lowIV := cfg.Strategy != nil && cfg.Strategy.Kind() == model.KindCalendar
	sigGen := signal.NewGenerator(cfg.EntryRules, earnings, lowIV)

	spotBySymbol := make(map[string]map[time.Time]float64, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		spotBySymbol[sym] = ld.LoadSpotPrices(sym)
	}

	e.reportProgress(15)
	inTrades, cancelled := e.runPartition(cfg, inSample, sigGen, spotBySymbol, 15, 45)
	if cancelled {
		return e.failCancelled(result)
	}

	e.reportProgress(50)
	outTrades, cancelled := e.runPartition(cfg, outSample, sigGen, spotBySymbol, 50, 80)
	if cancelled {
		return e.failCancelled(result)
	}

	combined := append(append([]*model.SimulatedTrade{}, inTrades...), outTrades...)
	result.Trades = combined

	isDays := periodDays(cfg.SampleSplit, cfg.StartDate, cfg.EndDate, true)
	oosDays := periodDays(cfg.SampleSplit, cfg.StartDate, cfg.EndDate, false)

	result.InSampleMetrics = metrics.Compute(inTrades, cfg.InitialCapital, isDays)
	result.OutSampleMetrics = metrics.Compute(outTrades, cfg.InitialCapital, oosDays)
	result.CombinedMetrics = metrics.Compute(combined, cfg.InitialCapital, isDays+oosDays)

	score, ok := metrics.DegradationScore(result.InSampleMetrics, result.OutSampleMetrics, result.OutSampleMetrics.TradeCount)
	result.DegradationScore, result.HasDegradation = score, ok

	result.EquityCurve = result.CombinedMetrics.EquityCurve

	e.validate(result)

	e.reportProgress(100)
	return result
}

func (e *Engine) failCancelled(result *Result) *Result {
	result.IsValid = false
	result.ErrorMessage = "run cancelled"
	return result
}

func (e *Engine) reportProgress(pct int) bool {
	if e.OnProgress == nil {
		return false
	}
	return e.OnProgress(pct)
}

// runPartition drives the simulator day-by-day over series, then
// force-closes everything still open at the end. progressLo/progressHi
// bound the percent range reported while this partition runs.
func (e *Engine) runPartition(
	cfg model.Config,
	series map[string]*ivseries.Series,
	sigGen *signal.Generator,
	spotBySymbol map[string]map[time.Time]float64,
	progressLo, progressHi int,
) ([]*model.SimulatedTrade, bool) {
	sim := simulator.New(cfg.Strategy, cfg.PositionSizing, cfg.ExitRules, e.PnLModel)
	dates := simulator.MergedTradingDates(series)

	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for i, date := range dates {
		if len(dates) > 0 {
			pct := progressLo + (progressHi-progressLo)*i/len(dates)
			if e.reportProgress(pct) {
				return nil, true
			}
		}

		marketData := make(map[string]simulator.DayPoint)
		for _, sym := range symbols {
			p, ok := series[sym].Get(date)
			if !ok {
				continue
			}
			dp := simulator.DayPoint{IV: p.AtmIV, IVKnown: true}
			if p.TermM1M2Set {
				dp.Term, dp.TermKnown = p.TermM1M2, true
			}
			if p.SpotPriceSet {
				dp.Spot, dp.SpotKnown = p.SpotPrice, true
			}
			if v, ok := spotBySymbol[sym][date]; ok {
				dp.Spot, dp.SpotKnown = v, true
			}
			marketData[sym] = dp
		}
		sim.ProcessDay(date, marketData)

		for _, sym := range symbols {
			if sim.HasPosition(sym) {
				continue
			}
			point, ok := series[sym].Get(date)
			if !ok {
				continue
			}
			spot := point.SpotPrice
			if v, ok := spotBySymbol[sym][date]; ok {
				spot = v
			}
			sig, accepted := sigGen.Evaluate(sym, date, point, spot, false)
			if !accepted {
				continue
			}
			var term float64
			var termKnown bool
			if sig.TermAtEntrySet {
				term, termKnown = sig.TermAtEntry, true
			}
			sim.OpenTrade(sig, term, termKnown)
		}
	}

	if len(dates) > 0 {
		sim.ForceCloseAll(dates[len(dates)-1], model.ExitManual)
	}

	return sim.GetAllTrades(), false
}

// applyRegistryOverrides sets every field of target (a pointer to
// EntryRules, ExitRules, or PositionSizing) whose yaml tag matches a
// parameter tracked under phase for strategyKey. Fields with no
// corresponding tracked parameter are left untouched.
func applyRegistryOverrides(reg *registry.Registry, strategyKey string, phase registry.Phase, target any) {
	v := reflect.ValueOf(target).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		val, ok := reg.Get(strategyKey, phase, tag)
		if !ok {
			continue
		}
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		switch field.Kind() {
		case reflect.Float64:
			if f, ok := toFloat(val); ok {
				field.SetFloat(f)
			}
		case reflect.Int:
			if f, ok := toFloat(val); ok {
				field.SetInt(int64(f))
			}
		case reflect.Bool:
			if b, ok := val.(bool); ok {
				field.SetBool(b)
			}
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func periodDays(split model.SampleSplit, start, end time.Time, inSample bool) int {
	if split.RatioSet {
		total := end.Sub(start).Hours() / 24
		if inSample {
			return int(total * split.Ratio)
		}
		return int(total * (1 - split.Ratio))
	}
	if inSample {
		return int(split.Date.Sub(start).Hours() / 24)
	}
	return int(end.Sub(split.Date).Hours() / 24)
}

// validate runs the end-of-run checks and sets IsValid.
func (e *Engine) validate(result *Result) {
	var warnings []string

	if len(result.Trades) < 30 {
		warnings = append(warnings, fmt.Sprintf("too few trades: %d (< 30)", len(result.Trades)))
	}
	if result.HasDegradation && result.DegradationScore > 50 {
		warnings = append(warnings, fmt.Sprintf("high degradation score: %.1f", result.DegradationScore))
	}
	if result.OutSampleMetrics.TotalPnL < 0 {
		warnings = append(warnings, "out-of-sample total pnl is negative")
	}
	if result.CombinedMetrics.WinRate < 0.30 {
		warnings = append(warnings, fmt.Sprintf("combined win rate below 30%%: %.1f%%", result.CombinedMetrics.WinRate*100))
	}

	result.ValidationMessages = append(result.ValidationMessages, warnings...)
	result.IsValid = len(warnings) < 3
	if len(warnings) > 0 {
		logger.Infof("backtest validation warnings: %v", warnings)
	}
}
