package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Preset is a JSON snapshot of every phase's parameter values for one
// strategy, suitable for saving to disk and re-applying to a (possibly
// different) registry later.
type Preset struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	StrategyKey string                   `json:"strategy_key"`
	CreatedAt   time.Time                `json:"created_at"`
	Parameters  map[Phase]map[string]any `json:"parameters"`
}

// Snapshot captures the current value of every tracked parameter for
// strategyKey into a Preset.
func (r *Registry) Snapshot(strategyKey, name, description string) Preset {
	p := Preset{
		Name:        name,
		Description: description,
		StrategyKey: strategyKey,
		CreatedAt:   time.Now(),
		Parameters:  make(map[Phase]map[string]any),
	}
	for _, param := range r.Parameters(strategyKey) {
		phaseMap, ok := p.Parameters[param.Phase]
		if !ok {
			phaseMap = make(map[string]any)
			p.Parameters[param.Phase] = phaseMap
		}
		phaseMap[param.Name] = param.Value
	}
	return p
}

// Apply iterates every parameter captured in preset and calls Update,
// reporting per-parameter success. A parameter absent from the target
// registry (e.g. applying a preset captured from a different strategy
// shape) is reported as a failure but does not abort the rest.
func (r *Registry) Apply(preset Preset) map[string]bool {
	results := make(map[string]bool)
	for phase, values := range preset.Parameters {
		for name, value := range values {
			k := paramKey(preset.StrategyKey, phase, name)
			err := r.Update(preset.StrategyKey, phase, name, value)
			results[k] = err == nil
		}
	}
	return results
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SafeFilename sanitises name for use as a preset filename: every
// character outside [A-Za-z0-9_-] becomes an underscore.
func SafeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// SavePreset writes preset as indented JSON to <dir>/<SafeFilename(name)>.json.
// If a file already exists at that path, it is copied to a .bak sibling
// before being overwritten.
func SavePreset(dir string, preset Preset) (string, error) {
	path := filepath.Join(dir, SafeFilename(preset.Name)+".json")

	if existing, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", existing, 0644); err != nil {
			return "", fmt.Errorf("backing up %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	b, err := json.MarshalIndent(preset, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", fmt.Errorf("writing preset %s: %w", path, err)
	}
	return path, nil
}

// LoadPreset reads and parses a preset JSON file.
func LoadPreset(path string) (Preset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, fmt.Errorf("reading preset %s: %w", path, err)
	}
	var p Preset
	if err := json.Unmarshal(b, &p); err != nil {
		return Preset{}, fmt.Errorf("parsing preset %s: %w", path, err)
	}
	return p, nil
}
