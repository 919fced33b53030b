// Package register describes the validated, immutable set of Modbus
// holding registers an operator configures: addresses, semantic types,
// scaling, and dynamic behavior. See spec.md §3/§4.2.
package register

import (
	"fmt"

	"modsim/internal/codec"
)

// Register is one holding-register definition. Immutable once loaded.
type Register struct {
	Address     uint16
	Name        string
	Description string
	Type        codec.Type
	Scale       float64
	BaseValue   float64

	Randomize   bool
	Fluctuation float64

	Accumulate bool
	Source     string

	Expression string

	Writable     bool
	VariableName string
	MinValue     *float64
	MaxValue     *float64
}

// HasExpression reports whether the register derives its value from an
// expression — layered on top of any non-writable register, or primary
// for a register with no other behavior flag set.
func (r Register) HasExpression() bool { return r.Expression != "" }

// Words reports how many consecutive words this register occupies.
func (r Register) Words() int { return r.Type.Words() }

// Spec is the wire/config shape a collaborator (the YAML loader, in this
// repo) supplies before validation. Pointer fields distinguish "absent"
// from "zero".
type Spec struct {
	Address      uint16
	Name         string
	Description  string
	Type         string
	Scale        float64
	BaseValue    *float64
	Randomize    bool
	Fluctuation  float64
	Accumulate   bool
	Source       string
	Expression   string
	Writable     bool
	VariableName string
	MinValue     *float64
	MaxValue     *float64
}

// Model is the validated, indexed register set shared by every
// Simulation Instance.
type Model struct {
	byAddress map[uint16]*Register
	byName    map[string]*Register
	ordered   []*Register
	maxWord   uint16
}

// ByAddress looks up a register by its base address.
func (m *Model) ByAddress(addr uint16) (*Register, bool) {
	r, ok := m.byAddress[addr]
	return r, ok
}

// ByName looks up a register by its unique name.
func (m *Model) ByName(name string) (*Register, bool) {
	r, ok := m.byName[name]
	return r, ok
}

// All returns every register in address order.
func (m *Model) All() []*Register { return m.ordered }

// MaxWordAddress is one past the highest word address occupied by any
// register (0 for an empty model).
func (m *Model) MaxWordAddress() uint16 { return m.maxWord }

// GlobalVarSeed is the (name, initial value) pair a writable register
// contributes to the process-wide Global Variable Table. Seeding happens
// exactly once, at Load time (spec §9, Open Question 1).
type GlobalVarSeed struct {
	Name  string
	Value float64
}

// Load validates a sequence of register specs and builds the indexed
// Model plus the set of global variables to seed. On any violation it
// returns a descriptive error and no partial Model.
func Load(specs []Spec) (*Model, []GlobalVarSeed, error) {
	m := &Model{
		byAddress: make(map[uint16]*Register, len(specs)),
		byName:    make(map[string]*Register, len(specs)),
	}
	varNames := make(map[string]struct{}, len(specs))
	var seeds []GlobalVarSeed

	for _, s := range specs {
		reg, err := build(s)
		if err != nil {
			return nil, nil, err
		}

		if _, dup := m.byName[reg.Name]; dup {
			return nil, nil, fmt.Errorf("register %q: duplicate name", reg.Name)
		}

		words := reg.Words()
		for w := uint16(0); w < uint16(words); w++ {
			addr := reg.Address + w
			if existing, dup := m.byAddress[addr]; dup {
				return nil, nil, fmt.Errorf("register %q: address %d overlaps register %q", reg.Name, addr, existing.Name)
			}
		}

		if reg.Writable {
			if _, dup := varNames[reg.VariableName]; dup {
				return nil, nil, fmt.Errorf("register %q: duplicate variable_name %q", reg.Name, reg.VariableName)
			}
			varNames[reg.VariableName] = struct{}{}
			seeds = append(seeds, GlobalVarSeed{Name: reg.VariableName, Value: reg.BaseValue})
		}

		for w := uint16(0); w < uint16(words); w++ {
			m.byAddress[reg.Address+w] = reg
		}
		m.byName[reg.Name] = reg
		m.ordered = append(m.ordered, reg)

		top := reg.Address + uint16(words) - 1
		if top+1 > m.maxWord {
			m.maxWord = top + 1
		}
	}

	// Second pass: accumulator sources must resolve to an existing register.
	for _, reg := range m.ordered {
		if reg.Accumulate {
			if _, ok := m.byName[reg.Source]; !ok {
				return nil, nil, fmt.Errorf("register %q: accumulate source %q does not exist", reg.Name, reg.Source)
			}
		}
	}

	return m, seeds, nil
}

func build(s Spec) (*Register, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("register at address %d: name is required", s.Address)
	}
	if s.Description == "" {
		return nil, fmt.Errorf("register %q: description is required", s.Name)
	}

	kind := codec.Type(s.Type)
	if !kind.Valid() {
		return nil, fmt.Errorf("register %q: invalid type %q", s.Name, s.Type)
	}
	if s.Scale <= 0 {
		return nil, fmt.Errorf("register %q: scale must be positive, got %v", s.Name, s.Scale)
	}

	behaviors := 0
	if s.Randomize {
		behaviors++
	}
	if s.Accumulate {
		behaviors++
	}
	if s.Writable {
		behaviors++
	}
	if behaviors > 1 {
		return nil, fmt.Errorf("register %q: randomize, accumulate and writable are mutually exclusive", s.Name)
	}
	if s.Writable && s.Expression != "" {
		return nil, fmt.Errorf("register %q: writable registers cannot also have an expression", s.Name)
	}

	base := 0.0
	if s.BaseValue != nil {
		base = *s.BaseValue
	}

	reg := &Register{
		Address:     s.Address,
		Name:        s.Name,
		Description: s.Description,
		Type:        kind,
		Scale:       s.Scale,
		BaseValue:   base,
		Randomize:   s.Randomize,
		Fluctuation: s.Fluctuation,
		Accumulate:  s.Accumulate,
		Source:      s.Source,
		Expression:  s.Expression,
		Writable:    s.Writable,
	}

	if s.Randomize && s.Fluctuation < 0 {
		return nil, fmt.Errorf("register %q: fluctuation must be >= 0", s.Name)
	}
	if s.Accumulate && s.Source == "" {
		return nil, fmt.Errorf("register %q: accumulate requires source", s.Name)
	}

	if s.Writable {
		if s.VariableName == "" {
			return nil, fmt.Errorf("register %q: writable requires variable_name", s.Name)
		}
		reg.VariableName = s.VariableName
		if s.MinValue != nil && s.MaxValue != nil && *s.MinValue > *s.MaxValue {
			return nil, fmt.Errorf("register %q: min_value %v > max_value %v", s.Name, *s.MinValue, *s.MaxValue)
		}
		reg.MinValue = s.MinValue
		reg.MaxValue = s.MaxValue
	}

	return reg, nil
}
