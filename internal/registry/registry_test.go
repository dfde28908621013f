package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeYAMLFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadFileTracksLeavesUnderRecognisedPhases(t *testing.T) {
	dir := t.TempDir()
	path := writeYAMLFile(t, dir, "iron_condor.yaml", `
exit:
  profit_target_pct: 50
  stop_loss_pct: 200
market_selection:
  iv_percentile_min: 60
unrecognised_section:
  foo: bar
`)

	r := New()
	if err := r.LoadFile("iron_condor", path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	params := r.Parameters("iron_condor")
	if len(params) != 3 {
		t.Fatalf("got %d params, want 3 (unrecognised_section must be skipped): %+v", len(params), params)
	}

	v, ok := r.Get("iron_condor", PhaseExit, "profit_target_pct")
	if !ok {
		t.Fatal("expected profit_target_pct to be tracked")
	}
	if f, ok := v.(float64); !ok || f != 50 {
		t.Fatalf("got %v, want 50", v)
	}

	// Phase order: market_selection before exit.
	if params[0].Phase != PhaseMarketSelection {
		t.Fatalf("got first phase %v, want market_selection", params[0].Phase)
	}
}

func TestUpdateWritesBackToSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := writeYAMLFile(t, dir, "exit.yaml", "exit:\n  stop_loss_pct: 200\n")

	r := New()
	if err := r.LoadFile("ic", path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := r.Update("ic", PhaseExit, "stop_loss_pct", 150.0); err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, _ := r.Get("ic", PhaseExit, "stop_loss_pct")
	if v.(float64) != 150 {
		t.Fatalf("in-memory value not updated: got %v", v)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(raw), "150") {
		t.Fatalf("file was not rewritten with new value: %s", raw)
	}
}

func TestUpdateUnknownParameterFails(t *testing.T) {
	r := New()
	if err := r.Update("nope", PhaseExit, "missing", 1.0); err == nil {
		t.Fatal("expected error for unknown parameter")
	}
}

func TestUpdateRollsBackOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeYAMLFile(t, dir, "exit.yaml", "exit:\n  stop_loss_pct: 200\n")

	r := New()
	if err := r.LoadFile("ic", path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	// Remove write permission on the containing directory so the atomic
	// rewrite fails; the in-memory value must roll back to its prior value.
	if os.Getuid() == 0 {
		t.Skip("running as root: directory permission checks don't apply")
	}
	if err := os.Chmod(dir, 0555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(dir, 0755)

	err := r.Update("ic", PhaseExit, "stop_loss_pct", 1.0)
	if err == nil {
		t.Fatal("expected write failure")
	}

	v, _ := r.Get("ic", PhaseExit, "stop_loss_pct")
	if v.(float64) != 200 {
		t.Fatalf("value should have rolled back to 200, got %v", v)
	}
}

func TestOverrideExpressionEvaluatesAgainstOtherParameters(t *testing.T) {
	dir := t.TempDir()
	path := writeYAMLFile(t, dir, "exit.yaml", "exit:\n  profit_target_pct: 50\n  stop_loss_pct: 100\n")

	r := New()
	if err := r.LoadFile("ic", path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if err := r.Update("ic", PhaseExit, "stop_loss_pct", "=profit_target_pct*2"); err != nil {
		t.Fatalf("Update with expression: %v", err)
	}

	v, _ := r.Get("ic", PhaseExit, "stop_loss_pct")
	if v.(float64) != 100 {
		t.Fatalf("got %v, want 100 (50*2)", v)
	}
}

func TestSnapshotThenApplyToFreshRegistryReproducesValues(t *testing.T) {
	dir := t.TempDir()
	path := writeYAMLFile(t, dir, "exit.yaml", "exit:\n  profit_target_pct: 40\n  stop_loss_pct: 175\n")

	src := New()
	if err := src.LoadFile("ic", path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	preset := src.Snapshot("ic", "baseline", "")

	dir2 := t.TempDir()
	path2 := writeYAMLFile(t, dir2, "exit.yaml", "exit:\n  profit_target_pct: 0\n  stop_loss_pct: 0\n")
	dst := New()
	if err := dst.LoadFile("ic", path2); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	results := dst.Apply(preset)
	for k, ok := range results {
		if !ok {
			t.Fatalf("apply failed for %s", k)
		}
	}

	for _, p := range src.Parameters("ic") {
		got, ok := dst.Get("ic", p.Phase, p.Name)
		if !ok {
			t.Fatalf("destination missing parameter %s/%s", p.Phase, p.Name)
		}
		if got != p.Value {
			t.Fatalf("%s/%s: got %v, want %v", p.Phase, p.Name, got, p.Value)
		}
	}
}

func TestSafeFilenameSanitisesNonAlphanumerics(t *testing.T) {
	got := SafeFilename("iron condor: v2/final!")
	if strings.ContainsAny(got, " :/!") {
		t.Fatalf("unsafe characters survived sanitisation: %q", got)
	}
}

func TestSavePresetBacksUpExistingFile(t *testing.T) {
	dir := t.TempDir()
	preset := Preset{Name: "baseline", StrategyKey: "ic", Parameters: map[Phase]map[string]any{
		PhaseExit: {"profit_target_pct": 50.0},
	}}

	path, err := SavePreset(dir, preset)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	preset.Parameters[PhaseExit]["profit_target_pct"] = 60.0
	if _, err := SavePreset(dir, preset); err != nil {
		t.Fatalf("second save: %v", err)
	}

	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Fatalf("expected .bak file after overwrite: %v", err)
	}

	loaded, err := LoadPreset(path)
	if err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	if loaded.Parameters[PhaseExit]["profit_target_pct"] != 60.0 {
		t.Fatalf("got %v, want 60", loaded.Parameters[PhaseExit]["profit_target_pct"])
	}
}
