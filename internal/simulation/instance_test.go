package simulation

import (
	"testing"
	"time"

	"modsim/internal/globalvars"
	"modsim/internal/register"
)

func f(v float64) *float64 { return &v }

func buildModel(t *testing.T) *register.Model {
	t.Helper()
	model, _, err := register.Load([]register.Spec{
		{Address: 0, Name: "r1", Description: "d", Type: "u16", Scale: 1, BaseValue: f(10)},
	})
	if err != nil {
		t.Fatalf("register.Load: %v", err)
	}
	return model
}

func TestInstanceLifecycle(t *testing.T) {
	model := buildModel(t)
	inst, err := New(Config{
		IP: "127.0.0.1", Port: 15020, SlaveID: 1,
		Interval: 50 * time.Millisecond, Model: model, Globals: globalvars.New(nil),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if inst.IsAlive() {
		t.Fatal("expected instance to not be alive before Start")
	}
	if err := inst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !inst.IsAlive() {
		t.Fatal("expected instance to be alive after Start")
	}

	inst.Stop()
	if inst.IsAlive() {
		t.Fatal("expected instance to not be alive after Stop")
	}
}

func TestInstanceRejectsInvalidSlaveID(t *testing.T) {
	model := buildModel(t)
	_, err := New(Config{
		IP: "127.0.0.1", Port: 15021, SlaveID: 300,
		Interval: 50 * time.Millisecond, Model: model, Globals: globalvars.New(nil),
	}, nil)
	if err == nil {
		t.Fatal("expected New to reject slave_id out of [1,247]")
	}
}

func TestInstanceSnapshot(t *testing.T) {
	model := buildModel(t)
	inst, err := New(Config{
		IP: "127.0.0.1", Port: 15022, SlaveID: 1,
		Interval: 50 * time.Millisecond, Model: model, Globals: globalvars.New(nil),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := inst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer inst.Stop()

	time.Sleep(120 * time.Millisecond)

	words, err := inst.Snapshot(0, 1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(words) != 1 || words[0] != 10 {
		t.Fatalf("Snapshot = %v, want [10]", words)
	}
}

func TestInstanceDescribe(t *testing.T) {
	model := buildModel(t)
	inst, err := New(Config{
		IP: "127.0.0.1", Port: 15024, SlaveID: 1,
		Interval: 50 * time.Millisecond, Model: model, Globals: globalvars.New(nil),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := inst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer inst.Stop()

	time.Sleep(120 * time.Millisecond)

	snaps := inst.Describe()
	if len(snaps) != 1 {
		t.Fatalf("Describe len = %d, want 1", len(snaps))
	}
	s := snaps[0]
	if s.Name != "r1" || s.Address != 0 || s.DisplayAddress != 40001 {
		t.Fatalf("snapshot = %+v, want {Name:r1 Address:0 DisplayAddress:40001 ...}", s)
	}
	if s.DecodedLogical != 10 {
		t.Fatalf("DecodedLogical = %v, want 10", s.DecodedLogical)
	}
	if s.Writable {
		t.Fatal("expected r1 to not be writable")
	}
}

func TestRegistryAppendAndCount(t *testing.T) {
	reg := NewRegistry()
	model := buildModel(t)
	inst, err := New(Config{
		IP: "127.0.0.1", Port: 15023, SlaveID: 1,
		Interval: 50 * time.Millisecond, Model: model, Globals: globalvars.New(nil),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reg.Append(inst)
	if reg.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reg.Count())
	}
	if len(reg.All()) != 1 {
		t.Fatalf("All() len = %d, want 1", len(reg.All()))
	}
}
