package hypothesis

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivbacktest/core/internal/backtest/engine"
	"github.com/ivbacktest/core/internal/backtest/model"
	"github.com/ivbacktest/core/internal/backtest/pnl"
	"github.com/ivbacktest/core/internal/logger"
)

// maxConcurrentRuns bounds the batch-sweep worker pool: independent
// BacktestEngine runs share only read-only loaded data, per the
// concurrency design, but still share the machine's CPUs.
const maxConcurrentRuns = 4

// Engine runs hypotheses against the backtest engine and persists them
// (plus batches) to store.
type Engine struct {
	Store    *Store
	DataDir  string
	PnLModel pnl.Model
}

// NewEngine returns a hypothesis Engine backed by store, reading
// historical data from dataDir and pricing with pnlModel.
func NewEngine(store *Store, dataDir string, pnlModel pnl.Model) *Engine {
	return &Engine{Store: store, DataDir: dataDir, PnLModel: pnlModel}
}

// CreateHypothesis builds and persists a new DRAFT hypothesis.
func (e *Engine) CreateHypothesis(name string, cfg model.Config) *Hypothesis {
	h := New(name, cfg)
	e.Store.PutHypothesis(h)
	return h
}

// Run executes h's configuration against the backtest engine, updating
// its status in place. A panic inside the P&L model (or anywhere in the
// run) fails the hypothesis rather than the caller, per the error
// taxonomy's "P&L model exception" row.
func (e *Engine) Run(h *Hypothesis) (err error) {
	h.Status = StatusRunning
	h.UpdatedAt = time.Now()
	e.Store.PutHypothesis(h)

	defer func() {
		if r := recover(); r != nil {
			h.Status = StatusFailed
			h.ErrorMessage = fmt.Sprintf("panic: %v", r)
			h.UpdatedAt = time.Now()
			logger.Errorf("hypothesis %s run panicked: %v\n%s", h.ID, r, debug.Stack())
			e.Store.PutHypothesis(h)
			err = fmt.Errorf("hypothesis %s: %v", h.ID, r)
		}
	}()

	eng := engine.New(e.DataDir, e.PnLModel)
	res := eng.Run(h.Config)

	h.UpdatedAt = time.Now()
	if !res.IsValid && res.ErrorMessage != "" {
		h.Status = StatusFailed
		h.ErrorMessage = res.ErrorMessage
		h.Result = res
		e.Store.PutHypothesis(h)
		return fmt.Errorf("hypothesis %s: %s", h.ID, res.ErrorMessage)
	}

	h.Result = res
	h.Status = StatusCompleted
	h.ErrorMessage = ""

	months := periodMonths(h.Config.StartDate, h.Config.EndDate)
	score := computeScore(res, months)
	h.Score = &score

	e.Store.PutHypothesis(h)
	return nil
}

func periodMonths(start, end time.Time) float64 {
	days := end.Sub(start).Hours() / 24
	if days <= 0 {
		return 0
	}
	return days / 30
}

// Batch is a named cohort of hypotheses generated by varying one
// parameter across a list of values.
type Batch struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BaseID        string    `json:"base_id"`
	VaryParameter string    `json:"vary_parameter"`
	Values        []any     `json:"values"`
	HypothesisIDs []string  `json:"hypothesis_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunBatch clones base once per value in values, overriding
// varyParameter (a dotted JSON-field path into model.Config, e.g.
// "exit_rules.profit_target_pct"), runs every child hypothesis concurrently
// on a bounded worker pool, and records the cohort as a Batch. Individual
// run failures do not abort the batch: a failed child keeps its FAILED
// status and error_message, and the batch still records its id.
func (e *Engine) RunBatch(ctx context.Context, base *Hypothesis, name, varyParameter string, values []any) (*Batch, error) {
	children := make([]*Hypothesis, len(values))
	for i, v := range values {
		cfg, err := withOverride(base.Config, varyParameter, v)
		if err != nil {
			return nil, fmt.Errorf("vary parameter %s=%v: %w", varyParameter, v, err)
		}
		child := base.Clone(fmt.Sprintf("%s[%s=%v]", name, varyParameter, v))
		child.Config = cfg
		e.Store.PutHypothesis(child)
		children[i] = child
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRuns)
	for _, child := range children {
		child := child
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			_ = e.Run(child) // per-hypothesis failure is recorded, not fatal to the batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch run cancelled: %w", err)
	}

	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}

	batch := &Batch{
		ID:            newID(),
		Name:          name,
		BaseID:        base.ID,
		VaryParameter: varyParameter,
		Values:        values,
		HypothesisIDs: ids,
		CreatedAt:     time.Now(),
	}
	e.Store.PutBatch(batch)
	return batch, nil
}

// RunIVThresholdScan sweeps the entry IV-percentile threshold across
// values, one child hypothesis per value.
func (e *Engine) RunIVThresholdScan(ctx context.Context, base *Hypothesis, values []any) (*Batch, error) {
	return e.RunBatch(ctx, base, base.Name+" iv threshold scan", "entry_rules.iv_percentile_min", values)
}

// RunProfitTargetScan sweeps the profit-target percentage across
// values, one child hypothesis per value.
func (e *Engine) RunProfitTargetScan(ctx context.Context, base *Hypothesis, values []any) (*Batch, error) {
	return e.RunBatch(ctx, base, base.Name+" profit target scan", "exit_rules.profit_target_pct", values)
}

// withOverride returns a copy of cfg with the field at dottedPath set to
// value, via a JSON round-trip. dottedPath segments are the struct's
// snake_case json tags (e.g. "exit_rules.profit_target_pct"), matching
// the external configuration format accepted by cmd/backtest.
func withOverride(cfg model.Config, dottedPath string, value any) (model.Config, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		return cfg, err
	}

	if err := setDottedJSON(generic, dottedPath, value); err != nil {
		return cfg, err
	}

	b2, err := json.Marshal(generic)
	if err != nil {
		return cfg, err
	}
	var out model.Config
	if err := json.Unmarshal(b2, &out); err != nil {
		return cfg, err
	}
	out.Strategy = cfg.Strategy // StrategyConfig is json:"-"; carry it over unchanged
	return out, nil
}

func setDottedJSON(m map[string]any, dottedPath string, value any) error {
	parts := splitDotted(dottedPath)
	cur := m
	for i, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok {
			return fmt.Errorf("path %s: key %q not found", dottedPath, part)
		}
		nextMap, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path %s: %q is not an object", dottedPath, joinDotted(parts[:i+1]))
		}
		cur = nextMap
	}
	leaf := parts[len(parts)-1]
	if _, ok := cur[leaf]; !ok {
		return fmt.Errorf("path %s: leaf %q not found", dottedPath, leaf)
	}
	cur[leaf] = value
	return nil
}

func splitDotted(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func joinDotted(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
