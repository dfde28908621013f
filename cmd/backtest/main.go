package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ivbacktest/core/internal/backtest/engine"
	"github.com/ivbacktest/core/internal/backtest/model"
	"github.com/ivbacktest/core/internal/backtest/pnl"
	"github.com/ivbacktest/core/internal/logger"
	"github.com/ivbacktest/core/internal/registry"
	"github.com/ivbacktest/core/internal/report"
)

// fileConfig is the on-disk shape of a run configuration: model.Config's
// own fields plus a raw "strategy" block, since StrategyConfig is a
// tagged union the json package can't unmarshal directly into an
// interface.
type fileConfig struct {
	model.Config
	Strategy json.RawMessage `json:"strategy"`
}

func main() {
	configPath := flag.String("config", filepath.Join("strategies", "iron_condor.json"), "path to JSON run config")
	dataDir := flag.String("data", "data", "directory of historical IV/spot CSV files")
	outDir := flag.String("out", "out", "directory to write result.json and trades.csv")
	verbosity := flag.Int("v", -1, "log verbosity (0=error,1=info,2=debug,3=trace); overrides config.verbosity when >= 0")
	registryPath := flag.String("registry", "", "optional YAML parameter-registry file; overrides entry/exit/portfolio fields in -config by strategy_type")
	flag.Parse()

	cfgData, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Errorf("reading config: %v", err)
		os.Exit(1)
	}

	var fc fileConfig
	if err := json.Unmarshal(cfgData, &fc); err != nil {
		logger.Errorf("invalid config: %v", err)
		os.Exit(1)
	}
	cfg := fc.Config

	strategy, err := decodeStrategy(cfg.StrategyType, fc.Strategy)
	if err != nil {
		logger.Errorf("invalid strategy block: %v", err)
		os.Exit(1)
	}
	cfg.Strategy = strategy

	if *verbosity >= 0 {
		cfg.Verbosity = *verbosity
	}
	logger.SetVerbosity(cfg.Verbosity)

	pnlModel, err := selectPnLModel(cfg)
	if err != nil {
		logger.Errorf("invalid pnl model: %v", err)
		os.Exit(1)
	}

	eng := engine.New(*dataDir, pnlModel)
	eng.OnProgress = func(pct int) bool {
		logger.Debugf("progress: %d%%", pct)
		return false
	}

	if *registryPath != "" {
		reg := registry.New()
		if err := reg.LoadFile(cfg.StrategyType, *registryPath); err != nil {
			logger.Errorf("loading registry file: %v", err)
			os.Exit(1)
		}
		eng.Registry = reg
		eng.StrategyKey = cfg.StrategyType
	}

	start := time.Now()
	res := eng.Run(cfg)

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		logger.Errorf("creating output dir %s: %v", *outDir, err)
		os.Exit(1)
	}
	if err := report.WriteJSON(res, *outDir); err != nil {
		logger.Errorf("writing result.json: %v", err)
	}
	if err := report.WriteCSV(res.Trades, *outDir); err != nil {
		logger.Errorf("writing trades.csv: %v", err)
	}

	if !res.IsValid {
		logger.Infof("run completed with validation warnings: %v", res.ValidationMessages)
	}
	logger.Infof("finished in %v, %d trades, wrote results to %s", time.Since(start), len(res.Trades), *outDir)
}

// decodeStrategy builds the typed StrategyConfig variant named by
// strategyType from raw. An empty raw block is valid for "generic" (the
// engine falls back to a GenericConfig derived from ExitRules.MaxDaysInTrade).
func decodeStrategy(strategyType string, raw json.RawMessage) (model.StrategyConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch model.StrategyKind(strategyType) {
	case model.KindIronCondor:
		var c model.IronCondorConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("iron_condor strategy: %w", err)
		}
		return c, nil
	case model.KindCalendar:
		var c model.CalendarConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("calendar strategy: %w", err)
		}
		return c, nil
	case model.KindGeneric:
		var c model.GenericConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("generic strategy: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown strategy_type %q", strategyType)
	}
}

// defaultRiskFreeRate mirrors the rate metrics.Compute uses for its own
// Sharpe/Sortino calculations, so a Greeks run prices and scores against
// the same curve.
const defaultRiskFreeRate = 0.04

// selectPnLModel picks the P&L collaborator implied by cfg: calendars use
// the calendar model, iron condors use the IV-proxy model unless
// UseGreeks is set (then the Greeks model), and generic or unset strategy
// types use the IV-proxy model.
func selectPnLModel(cfg model.Config) (pnl.Model, error) {
	commission := cfg.PositionSizing.CommissionPerContract

	switch model.StrategyKind(cfg.StrategyType) {
	case model.KindCalendar:
		return &pnl.CalendarModel{CommissionPerContract: commission}, nil
	case model.KindIronCondor:
		if ic, ok := cfg.Strategy.(model.IronCondorConfig); ok && ic.UseGreeks {
			return &pnl.GreeksModel{RiskFreeRate: defaultRiskFreeRate}, nil
		}
		return &pnl.IronCondorIVProxyModel{CommissionPerContract: commission}, nil
	case model.KindGeneric, "":
		return &pnl.IronCondorIVProxyModel{CommissionPerContract: commission}, nil
	default:
		return nil, fmt.Errorf("unsupported strategy_type %q", cfg.StrategyType)
	}
}
