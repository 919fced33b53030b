package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
defaults:
  ip: "0.0.0.0"
  port: 1502
  slave_id: 1
update_interval: 300ms
registers:
  - address: 0
    name: voltage
    description: "Line voltage"
    type: u16
    scale: 10
    base_value: 230
    randomize: true
    fluctuation: 0.02
  - address: 6
    name: setpoint
    description: "Operator setpoint"
    type: u16
    scale: 1
    writable: true
    variable_name: setpoint
    min_value: 0
    max_value: 100
  - address: 8
    name: power
    description: "Computed power"
    type: u32
    scale: 1
    expression: "voltage * setpoint"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modsim.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadParsesDefaultsAndRegisters(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	root, specs, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if root.Defaults.Port != 1502 || root.Defaults.SlaveID != 1 {
		t.Fatalf("defaults = %+v", root.Defaults)
	}
	if root.UpdateInterval != 300*time.Millisecond {
		t.Fatalf("UpdateInterval = %v, want 300ms", root.UpdateInterval)
	}
	if len(specs) != 3 {
		t.Fatalf("len(specs) = %d, want 3", len(specs))
	}
	if specs[2].Expression != "voltage * setpoint" {
		t.Fatalf("specs[2].Expression = %q", specs[2].Expression)
	}
}

func TestLoadAppliesDefaultsWhenOmitted(t *testing.T) {
	path := writeTemp(t, `
registers:
  - address: 0
    name: r1
    description: d
    type: u16
    scale: 1
`)
	root, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if root.Defaults.IP != "0.0.0.0" || root.Defaults.Port != 1502 || root.Defaults.SlaveID != 1 {
		t.Fatalf("defaults not applied: %+v", root.Defaults)
	}
	if root.UpdateInterval != 300*time.Millisecond {
		t.Fatalf("UpdateInterval default not applied: %v", root.UpdateInterval)
	}
}

func TestLoadRejectsEmptyRegisters(t *testing.T) {
	path := writeTemp(t, "defaults:\n  port: 1502\n")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a config with no registers")
	}
}

func TestLoadRejectsMissingName(t *testing.T) {
	path := writeTemp(t, `
registers:
  - address: 0
    description: d
    type: u16
    scale: 1
`)
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a register missing a name")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected Load to error on a missing file")
	}
}
