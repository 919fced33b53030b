package register

import "testing"

func f(v float64) *float64 { return &v }

func TestLoadValidSet(t *testing.T) {
	specs := []Spec{
		{Address: 0, Name: "voltage", Description: "Line voltage", Type: "u16", Scale: 10, BaseValue: f(230), Randomize: true, Fluctuation: 0.02},
		{Address: 4, Name: "setpoint", Description: "Operator setpoint", Type: "u16", Scale: 1, Writable: true, VariableName: "setpoint", MinValue: f(0), MaxValue: f(100)},
		{Address: 8, Name: "power", Description: "Computed power", Type: "u32", Scale: 1, Expression: "voltage * setpoint"},
		{Address: 10, Name: "energy", Description: "Accumulated energy", Type: "u32", Scale: 1000, Accumulate: true, Source: "power"},
	}

	model, seeds, err := Load(specs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(seeds) != 1 || seeds[0].Name != "setpoint" || seeds[0].Value != 0 {
		t.Fatalf("seeds = %+v, want [{setpoint 0}]", seeds)
	}
	if model.MaxWordAddress() != 12 {
		t.Fatalf("MaxWordAddress = %d, want 12", model.MaxWordAddress())
	}
	if _, ok := model.ByName("power"); !ok {
		t.Fatal("expected power register to resolve by name")
	}
	if _, ok := model.ByAddress(9); !ok {
		t.Fatal("expected address 9 (second word of power) to resolve")
	}
}

func TestLoadRejectsDuplicateAddress(t *testing.T) {
	specs := []Spec{
		{Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 1},
		{Address: 0, Name: "b", Description: "b", Type: "u16", Scale: 1},
	}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected duplicate address error")
	}
}

func TestLoadRejectsOverlappingWordRange(t *testing.T) {
	specs := []Spec{
		{Address: 0, Name: "a", Description: "a", Type: "u32", Scale: 1},
		{Address: 1, Name: "b", Description: "b", Type: "u16", Scale: 1},
	}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected overlapping word range error")
	}
}

func TestLoadRejectsDuplicateName(t *testing.T) {
	specs := []Spec{
		{Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 1},
		{Address: 1, Name: "a", Description: "a", Type: "u16", Scale: 1},
	}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestLoadRejectsDuplicateVariableName(t *testing.T) {
	specs := []Spec{
		{Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 1, Writable: true, VariableName: "v"},
		{Address: 1, Name: "b", Description: "b", Type: "u16", Scale: 1, Writable: true, VariableName: "v"},
	}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected duplicate variable_name error")
	}
}

func TestLoadRejectsInvalidScale(t *testing.T) {
	specs := []Spec{{Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 0}}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected invalid scale error")
	}
}

func TestLoadRejectsBadMinMax(t *testing.T) {
	specs := []Spec{{
		Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 1,
		Writable: true, VariableName: "v", MinValue: f(10), MaxValue: f(5),
	}}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected min > max error")
	}
}

func TestLoadRejectsMutuallyExclusiveBehaviors(t *testing.T) {
	specs := []Spec{{
		Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 1,
		Randomize: true, Writable: true, VariableName: "v",
	}}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected mutually exclusive behavior error")
	}
}

func TestLoadRejectsWritableWithExpression(t *testing.T) {
	specs := []Spec{{
		Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 1,
		Writable: true, VariableName: "v", Expression: "1+1",
	}}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected writable+expression error")
	}
}

func TestLoadAllowsExpressionLayeredOnRandomize(t *testing.T) {
	specs := []Spec{
		{Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 1, Randomize: true, Fluctuation: 0.1, Expression: "a + 1"},
	}
	if _, _, err := Load(specs); err != nil {
		t.Fatalf("expected expression layered on randomize to be allowed: %v", err)
	}
}

func TestLoadRejectsUnresolvedAccumulateSource(t *testing.T) {
	specs := []Spec{{Address: 0, Name: "a", Description: "a", Type: "u16", Scale: 1, Accumulate: true, Source: "missing"}}
	if _, _, err := Load(specs); err == nil {
		t.Fatal("expected unresolved accumulate source error")
	}
}
