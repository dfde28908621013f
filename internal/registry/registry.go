// Package registry unifies strategy parameters scattered across multiple
// YAML configuration files under a two-level strategy/phase hierarchy,
// tracking each leaf's originating file and path so updates can be
// written back to the correct source, and supports JSON preset
// snapshot/apply. Unlike a fixed-struct config loader, the registry
// edits files in place: a single parameter change rewrites only that
// scalar node.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
	"gopkg.in/yaml.v3"

	"github.com/ivbacktest/core/internal/logger"
)

// Phase is one of the five parameter groupings every strategy's config
// is organised under.
type Phase string

const (
	PhaseMarketSelection Phase = "market_selection"
	PhaseStrikeSelection Phase = "strike_selection"
	PhaseScoring         Phase = "scoring"
	PhaseExit            Phase = "exit"
	PhasePortfolio       Phase = "portfolio"
)

// Phases lists every recognised phase in canonical order, used when
// walking a file's top level and when iterating a preset.
var Phases = []Phase{PhaseMarketSelection, PhaseStrikeSelection, PhaseScoring, PhaseExit, PhasePortfolio}

func isPhase(key string) (Phase, bool) {
	for _, p := range Phases {
		if string(p) == key {
			return p, true
		}
	}
	return "", false
}

// Parameter is one leaf value the registry tracks: its current value,
// which strategy/phase it belongs to, and where it came from on disk.
type Parameter struct {
	StrategyKey string
	Phase       Phase
	Name        string // leaf key, e.g. "profit_target_pct"
	Path        string // dotted path within the file, e.g. "exit.profit_target_pct"
	FilePath    string
	Value       any
}

// key identifies a parameter uniquely within the registry.
func paramKey(strategyKey string, phase Phase, name string) string {
	return strategyKey + "/" + string(phase) + "/" + name
}

// Registry is the single in-memory owner of every loaded strategy's
// parameters. Updates serialise on a mutex and rewrite the underlying
// YAML file via an atomic temp-file-plus-rename, mirroring the write
// discipline the hypothesis store uses for its own JSON file.
type Registry struct {
	mu     sync.Mutex
	docs   map[string]*yaml.Node // filePath -> parsed document root
	params map[string]*Parameter // paramKey -> parameter
	order  []string              // insertion order of param keys, for deterministic listing
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		docs:   make(map[string]*yaml.Node),
		params: make(map[string]*Parameter),
	}
}

// LoadFile reads path as YAML for strategyKey, registering every leaf
// scalar found under a recognised phase key at the document's top level.
// Unrecognised top-level keys are ignored; a strategy may have its
// parameters spread across more than one file (LoadFile is additive).
func (r *Registry) LoadFile(strategyKey, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading registry file %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parsing registry file %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return fmt.Errorf("registry file %s has no document root", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.docs[path] = &doc
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("registry file %s: expected top-level mapping", path)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		phaseKey, phaseNode := root.Content[i], root.Content[i+1]
		phase, ok := isPhase(phaseKey.Value)
		if !ok || phaseNode.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(phaseNode.Content); j += 2 {
			nameNode, valNode := phaseNode.Content[j], phaseNode.Content[j+1]
			if valNode.Kind != yaml.ScalarNode {
				continue // nested structures aren't tracked as leaves
			}
			name := nameNode.Value
			p := &Parameter{
				StrategyKey: strategyKey,
				Phase:       phase,
				Name:        name,
				Path:        string(phase) + "." + name,
				FilePath:    path,
				Value:       decodeScalar(valNode),
			}
			k := paramKey(strategyKey, phase, name)
			if _, exists := r.params[k]; !exists {
				r.order = append(r.order, k)
			}
			r.params[k] = p
		}
	}
	return nil
}

// decodeScalar decodes a leaf scalar; integer values are stored as
// float64 so numbers compare equal after a JSON preset round trip.
func decodeScalar(n *yaml.Node) any {
	var v any
	if err := n.Decode(&v); err != nil {
		return n.Value
	}
	if i, ok := v.(int); ok {
		return float64(i)
	}
	return v
}

// Get returns the current value of a tracked parameter.
func (r *Registry) Get(strategyKey string, phase Phase, name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.params[paramKey(strategyKey, phase, name)]
	if !ok {
		return nil, false
	}
	return p.Value, true
}

// Parameters returns every tracked parameter for strategyKey in a stable
// order (phase order, then insertion order within phase).
func (r *Registry) Parameters(strategyKey string) []Parameter {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Parameter
	for _, k := range r.order {
		p := r.params[k]
		if p.StrategyKey == strategyKey {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return phaseIndex(out[i].Phase) < phaseIndex(out[j].Phase)
	})
	return out
}

func phaseIndex(p Phase) int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return len(Phases)
}

// Update changes a parameter's value and writes it back to its
// originating file. The in-memory value is applied first; if the file
// write fails, the change is rolled back and an error is returned
// (transactional per parameter).
func (r *Registry) Update(strategyKey string, phase Phase, name string, newValue any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := paramKey(strategyKey, phase, name)
	p, ok := r.params[k]
	if !ok {
		return fmt.Errorf("unknown parameter %s", k)
	}

	if expr, ok := newValue.(string); ok && strings.HasPrefix(expr, "=") {
		resolved, err := r.evalOverrideExprLocked(strategyKey, expr[1:])
		if err != nil {
			return fmt.Errorf("evaluate override expression %q for %s: %w", expr, k, err)
		}
		newValue = resolved
	}

	oldValue := p.Value
	doc, ok := r.docs[p.FilePath]
	if !ok {
		return fmt.Errorf("no loaded document for %s", p.FilePath)
	}
	node, err := findNode(doc.Content[0], p.Path)
	if err != nil {
		return fmt.Errorf("locate %s in %s: %w", p.Path, p.FilePath, err)
	}

	oldNode := *node
	if err := setScalar(node, newValue); err != nil {
		return fmt.Errorf("encode new value for %s: %w", p.Path, err)
	}
	p.Value = newValue

	if err := writeYAMLAtomic(p.FilePath, doc); err != nil {
		*node = oldNode
		p.Value = oldValue
		return fmt.Errorf("write %s: %w", p.FilePath, err)
	}
	return nil
}

// evalOverrideExprLocked resolves a preset value of the form "=<expr>",
// an arithmetic expression over the strategy's other currently-loaded
// parameter names (e.g. "=profit_target_pct*1.5"), via govaluate.
// Caller must hold r.mu.
func (r *Registry) evalOverrideExprLocked(strategyKey, expr string) (float64, error) {
	vars := make(map[string]any)
	for _, k := range r.order {
		p := r.params[k]
		if p.StrategyKey != strategyKey {
			continue
		}
		if f, ok := p.Value.(float64); ok {
			vars[p.Name] = f
		} else if i, ok := p.Value.(int); ok {
			vars[p.Name] = float64(i)
		}
	}

	evalExpr, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return 0, err
	}
	result, err := evalExpr.Evaluate(vars)
	if err != nil {
		return 0, err
	}
	f, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("expression %q did not evaluate to a number", expr)
	}
	return f, nil
}

// findNode walks a dotted path ("exit.profit_target_pct") from root,
// which must be a mapping node, returning the scalar leaf node.
func findNode(root *yaml.Node, path string) (*yaml.Node, error) {
	parts := strings.Split(path, ".")
	cur := root
	for i, part := range parts {
		if cur.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%s: not a mapping", strings.Join(parts[:i], "."))
		}
		var next *yaml.Node
		for j := 0; j+1 < len(cur.Content); j += 2 {
			if cur.Content[j].Value == part {
				next = cur.Content[j+1]
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("key %q not found", part)
		}
		cur = next
	}
	if cur.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("%s is not a scalar leaf", path)
	}
	return cur, nil
}

// setScalar re-encodes node in place to hold value, preserving its
// position in the document tree so the rest of the file is untouched.
func setScalar(node *yaml.Node, value any) error {
	var tmp yaml.Node
	if err := tmp.Encode(value); err != nil {
		return err
	}
	node.Kind = tmp.Kind
	node.Tag = tmp.Tag
	node.Value = tmp.Value
	node.Style = 0
	return nil
}

// writeYAMLAtomic marshals doc and writes it to path via a temp file in
// the same directory followed by an atomic rename, so readers never
// observe a partially written file.
func writeYAMLAtomic(path string, doc *yaml.Node) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".registry-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	logger.Debugf("registry: wrote %s", path)
	return nil
}
