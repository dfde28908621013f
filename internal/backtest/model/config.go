package model

import "time"

// EntryRules gates signal generation, shared by both signal-generator
// variants. Optional range filters are only enforced when their *Set
// flag is true, mirroring the source fields being absent rather than
// zero.
type EntryRules struct {
	IVPercentileMin float64 `json:"iv_percentile_min" yaml:"iv_percentile_min"`
	IVRankMin       float64 `json:"iv_rank_min" yaml:"iv_rank_min"`
	IVRankMinSet    bool    `json:"iv_rank_min_set" yaml:"iv_rank_min_set"`

	SkewMin, SkewMax    float64 `yaml:"-" json:"-"`
	SkewRangeSet        bool    `json:"skew_range_set" yaml:"skew_range_set"`
	TermM1M2Min         float64 `json:"term_m1_m2_min" yaml:"term_m1_m2_min"`
	TermM1M2Max         float64 `json:"term_m1_m2_max" yaml:"term_m1_m2_max"`
	TermM1M2RangeSet    bool    `json:"term_m1_m2_range_set" yaml:"term_m1_m2_range_set"`
	IVMinusHV30Min      float64 `json:"iv_minus_hv30_min" yaml:"iv_minus_hv30_min"`
	IVMinusHV30Max      float64 `json:"iv_minus_hv30_max" yaml:"iv_minus_hv30_max"`
	IVMinusHV30RangeSet bool    `json:"iv_minus_hv30_range_set" yaml:"iv_minus_hv30_range_set"`

	// Low-IV (calendar) variant
	IVPercentileMax     float64 `json:"iv_percentile_max" yaml:"iv_percentile_max"`
	IVRankMax           float64 `json:"iv_rank_max" yaml:"iv_rank_max"`
	TermStructureMin    float64 `json:"term_structure_min" yaml:"term_structure_min"`
	TermStructureMinSet bool    `json:"term_structure_min_set" yaml:"term_structure_min_set"`

	MinDaysUntilEarnings int `json:"min_days_until_earnings" yaml:"min_days_until_earnings"`
}

// ExitRules parameterises the exit evaluator cascade.
type ExitRules struct {
	ProfitTargetPct    float64 `json:"profit_target_pct" yaml:"profit_target_pct"`
	StopLossPct        float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	MinDTE             int     `json:"min_dte" yaml:"min_dte"`
	DeltaBreachIVSpike float64 `json:"delta_breach_iv_spike" yaml:"delta_breach_iv_spike"` // vol points; default differs by strategy
	DeltaBreachSpotPct float64 `json:"delta_breach_spot_pct" yaml:"delta_breach_spot_pct"` // default 5
	IVCollapseEnabled  bool    `json:"iv_collapse_enabled" yaml:"iv_collapse_enabled"`
	IVCollapseVP       float64 `json:"iv_collapse_vp" yaml:"iv_collapse_vp"` // default 10
	MaxDaysInTrade     int     `json:"max_days_in_trade" yaml:"max_days_in_trade"`
}

// PositionSizing bounds how many concurrent positions the simulator may
// hold and how it prices slippage and minimum risk/reward.
type PositionSizing struct {
	MaxTotalPositions     int     `json:"max_total_positions" yaml:"max_total_positions"`
	SlippagePct           float64 `json:"slippage_pct" yaml:"slippage_pct"`
	MinRiskReward         float64 `json:"min_risk_reward" yaml:"min_risk_reward"`
	MinRiskRewardSet      bool    `json:"min_risk_reward_set" yaml:"min_risk_reward_set"`
	CommissionPerContract float64 `json:"commission_per_contract" yaml:"commission_per_contract"`
}

// SampleSplit configures how the engine partitions a symbol's series into
// in-sample and out-of-sample runs. Exactly one of Date/Ratio is used,
// selected by RatioSet.
type SampleSplit struct {
	Date     time.Time `json:"date" yaml:"date"`
	Ratio    float64   `json:"ratio" yaml:"ratio"`
	RatioSet bool      `json:"ratio_set" yaml:"ratio_set"`
}

// StrategyConfig is a tagged union: one of IronCondorConfig,
// CalendarConfig or GenericConfig. The interface exists purely so the
// engine can hold a single field typed StrategyConfig; callers
// type-switch on Kind().
type StrategyConfig interface {
	Kind() StrategyKind
	Dte() int
}

// IronCondorConfig parameterises the IV-proxy or Greeks iron-condor
// model.
type IronCondorConfig struct {
	WingWidth   float64 // in points; dollar width = 100 * WingWidth
	ShortDelta  float64
	TargetDTE   int
	StddevRange float64 // 0 means unset (stddev_adj == 1.0)
	UseGreeks   bool
}

func (c IronCondorConfig) Kind() StrategyKind { return KindIronCondor }
func (c IronCondorConfig) Dte() int           { return c.TargetDTE }

// CalendarConfig parameterises the calendar-spread model.
type CalendarConfig struct {
	NearDTE int
	FarDTE  int
	MinGap  int
}

func (c CalendarConfig) Kind() StrategyKind { return KindCalendar }
func (c CalendarConfig) Dte() int           { return c.FarDTE }

// GenericConfig is the fallback variant for strategies that don't need
// strike/expiry structure beyond a target DTE (e.g. naked puts priced
// purely off the IV-proxy model's credit formula).
type GenericConfig struct {
	TargetDTE int
}

func (c GenericConfig) Kind() StrategyKind { return KindGeneric }
func (c GenericConfig) Dte() int           { return c.TargetDTE }

// Config is the full backtest run configuration, decoded from JSON by the
// CLI. Nothing in this module decodes a Config from YAML: the registry
// tracks individual YAML leaves and does not build a Config.
type Config struct {
	StrategyType string         `json:"strategy_type" yaml:"strategy_type"`
	Strategy     StrategyConfig `json:"-" yaml:"-"`
	Symbols      []string       `json:"symbols" yaml:"symbols"`
	StartDate    time.Time      `json:"start_date" yaml:"start_date"`
	EndDate      time.Time      `json:"end_date" yaml:"end_date"`

	EntryRules     EntryRules     `json:"entry_rules" yaml:"entry_rules"`
	ExitRules      ExitRules      `json:"exit_rules" yaml:"exit_rules"`
	PositionSizing PositionSizing `json:"position_sizing" yaml:"position_sizing"`
	SampleSplit    SampleSplit    `json:"sample_split" yaml:"sample_split"`

	MaxRiskPerTrade float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	InitialCapital  float64 `json:"initial_capital" yaml:"initial_capital"`

	Verbosity int `json:"verbosity" yaml:"verbosity"`
}
