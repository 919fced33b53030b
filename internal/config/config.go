// Package config loads the YAML file an operator hands to cmd/modsim:
// endpoint defaults, the update cadence, and the declarative register
// set. It owns structural/YAML-shape validation only; register.Load
// remains the single source of business-rule validation (spec.md §4.2),
// the same division of labor the teacher keeps between its YAML loader
// and the lower-level device/point builders it calls.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"modsim/internal/register"
)

// Defaults seeds the operator prompt / CLI override for one Simulation
// Instance's endpoint (spec.md §4.7/§6).
type Defaults struct {
	IP      string `yaml:"ip"`
	Port    int    `yaml:"port"`
	SlaveID int    `yaml:"slave_id"`
}

// registerSpec is the YAML shape of one register entry; field names and
// optionality mirror register.Spec exactly, with pointer fields so a
// field's absence can be told apart from its zero value.
type registerSpec struct {
	Address      uint16   `yaml:"address"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Type         string   `yaml:"type"`
	Scale        float64  `yaml:"scale"`
	BaseValue    *float64 `yaml:"base_value"`
	Randomize    bool     `yaml:"randomize"`
	Fluctuation  float64  `yaml:"fluctuation"`
	Accumulate   bool     `yaml:"accumulate"`
	Source       string   `yaml:"source"`
	Expression   string   `yaml:"expression"`
	Writable     bool     `yaml:"writable"`
	VariableName string   `yaml:"variable_name"`
	MinValue     *float64 `yaml:"min_value"`
	MaxValue     *float64 `yaml:"max_value"`
}

// Root is the top-level YAML document shape.
type Root struct {
	Defaults       Defaults       `yaml:"defaults"`
	UpdateInterval time.Duration  `yaml:"update_interval"`
	Registers      []registerSpec `yaml:"registers"`
}

// Load reads and parses path, applies structural defaults, and returns
// the Root plus the register specs ready for register.Load. It does not
// duplicate register.Load's business-rule checks (duplicate names,
// overlapping addresses, mutually-exclusive behaviors, etc.) — only
// checks that the YAML itself is well-formed enough to build a Spec.
func Load(path string) (Root, []register.Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Root{}, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var root Root
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return Root{}, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if root.Defaults.IP == "" {
		root.Defaults.IP = "0.0.0.0"
	}
	if root.Defaults.Port == 0 {
		root.Defaults.Port = 1502
	}
	if root.Defaults.SlaveID == 0 {
		root.Defaults.SlaveID = 1
	}
	if root.UpdateInterval <= 0 {
		root.UpdateInterval = 300 * time.Millisecond
	}
	if len(root.Registers) == 0 {
		return Root{}, nil, fmt.Errorf("config: %s: registers list is empty", path)
	}

	specs := make([]register.Spec, 0, len(root.Registers))
	for i, rs := range root.Registers {
		if rs.Name == "" {
			return Root{}, nil, fmt.Errorf("config: %s: registers[%d]: name is required", path, i)
		}
		if rs.Type == "" {
			return Root{}, nil, fmt.Errorf("config: %s: register %q: type is required", path, rs.Name)
		}
		specs = append(specs, register.Spec{
			Address:      rs.Address,
			Name:         rs.Name,
			Description:  rs.Description,
			Type:         rs.Type,
			Scale:        rs.Scale,
			BaseValue:    rs.BaseValue,
			Randomize:    rs.Randomize,
			Fluctuation:  rs.Fluctuation,
			Accumulate:   rs.Accumulate,
			Source:       rs.Source,
			Expression:   rs.Expression,
			Writable:     rs.Writable,
			VariableName: rs.VariableName,
			MinValue:     rs.MinValue,
			MaxValue:     rs.MaxValue,
		})
	}

	return root, specs, nil
}
