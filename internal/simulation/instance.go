// Package simulation implements the Simulation Instance and the
// process-wide Simulation Registry (spec.md §4.7/§4.8): one instance
// owns a Value Store, a Register Bank fronted by a Modbus TCP server,
// and the updater goroutine that drives the Update Pipeline.
package simulation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"modsim/internal/codec"
	"modsim/internal/globalvars"
	"modsim/internal/modbus"
	"modsim/internal/pipeline"
	"modsim/internal/register"
	"modsim/internal/valuestore"
)

// displayAddressBase is the conventional Modicon offset operators expect
// when reading holding-register addresses off a UI (spec.md §4.10):
// 40001 + the 0-based internal address.
const displayAddressBase = 40001

// state is the instance's lifecycle state machine: init -> running ->
// stopped, with no re-start from stopped (spec §4.7).
type state int

const (
	stateInit state = iota
	stateRunning
	stateStopped
)

// Config is everything a Simulation Instance needs at construction.
// SlaveID is the unit identifier the Register Bank's Modbus TCP server
// filters requests against (spec §4.7).
type Config struct {
	IP       string
	Port     int
	SlaveID  int
	Interval time.Duration
	Model    *register.Model
	Globals  *globalvars.Table

	// History, if non-nil, receives a snapshot of every register after
	// each tick (DOMAIN-1, opt-in diagnostic recorder).
	History pipeline.HistorySink
}

// startGrace bounds how long Start waits for the network listener to
// come up before declaring failure (spec §4.7).
const startGrace = 2 * time.Second

// stopGrace bounds how long Stop waits for both activities to join
// before giving up (spec §5: "bounded, approximately 5s").
const stopGrace = 5 * time.Second

// Instance is one simulated Modbus TCP device: a Value Store, a
// Register Bank behind a *modbus.Server, and the updater goroutine
// running the Update Pipeline at Config.Interval.
type Instance struct {
	cfg Config

	mu    sync.Mutex
	state state

	bank     *modbus.Server
	values   *valuestore.Store
	pipeline *pipeline.Pipeline
	logger   *log.Logger

	cancel    context.CancelFunc
	updaterWG sync.WaitGroup
}

// New builds an Instance from cfg. The Register Bank is sized from the
// model's highest word address (spec §4.5); the Value Store is seeded
// from every register's base_value.
func New(cfg Config, logger *log.Logger) (*Instance, error) {
	if cfg.SlaveID < 1 || cfg.SlaveID > 247 {
		return nil, fmt.Errorf("simulation: slave_id %d out of range [1,247]", cfg.SlaveID)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("simulation: port %d out of range [1,65535]", cfg.Port)
	}

	base := make(map[string]float64, len(cfg.Model.All()))
	for _, r := range cfg.Model.All() {
		base[r.Name] = r.BaseValue
	}
	values := valuestore.New(base)
	bank := modbus.NewServer(modbus.BankWords(cfg.Model.MaxWordAddress()), cfg.SlaveID)

	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("[sim %s:%d#%d] ", cfg.IP, cfg.Port, cfg.SlaveID), log.LstdFlags)
	}

	p, err := pipeline.New(cfg.Model, values, cfg.Globals, bank, cfg.Interval, logger)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	if cfg.History != nil {
		p.SetHistorySink(cfg.History, fmt.Sprintf("%s:%d", cfg.IP, cfg.Port))
	}

	return &Instance{
		cfg:      cfg,
		state:    stateInit,
		bank:     bank,
		values:   values,
		pipeline: p,
		logger:   logger,
	}, nil
}

// Start spawns the network activity (Modbus TCP listener) and the
// updater activity (tick loop). If the listener fails to come up within
// startGrace, Start returns an error, sets state to stopped, and
// releases any partially-acquired resources.
func (inst *Instance) Start() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != stateInit {
		return fmt.Errorf("simulation: Start called in state %d, want init", inst.state)
	}

	addr := fmt.Sprintf("%s:%d", inst.cfg.IP, inst.cfg.Port)
	listenErr := make(chan error, 1)
	go func() { listenErr <- inst.bank.Listen(addr) }()

	select {
	case err := <-listenErr:
		if err != nil {
			inst.state = stateStopped
			return fmt.Errorf("simulation: listen on %s: %w", addr, err)
		}
	case <-time.After(startGrace):
		inst.state = stateStopped
		inst.bank.Close()
		return fmt.Errorf("simulation: listener on %s did not come up within %s", addr, startGrace)
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst.cancel = cancel

	inst.updaterWG.Add(1)
	go func() {
		defer inst.updaterWG.Done()
		inst.pipeline.Run(ctx)
	}()

	inst.state = stateRunning
	inst.logger.Printf("started, serving slave %d on %s", inst.cfg.SlaveID, addr)
	return nil
}

// Stop signals both activities to exit and waits up to stopGrace for
// them to join. A failure to join in time is logged but never blocks
// process exit.
func (inst *Instance) Stop() {
	inst.mu.Lock()
	if inst.state != stateRunning {
		inst.mu.Unlock()
		return
	}
	inst.state = stateStopped
	cancel := inst.cancel
	inst.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	inst.bank.Close()

	done := make(chan struct{})
	go func() {
		inst.updaterWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGrace):
		inst.logger.Printf("updater did not join within %s", stopGrace)
	}
}

// IsAlive reports whether this instance is in the running state.
func (inst *Instance) IsAlive() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state == stateRunning
}

// Snapshot returns a copy of Register Bank words in [start, end).
func (inst *Instance) Snapshot(start, end uint16) ([]uint16, error) {
	if end < start {
		return nil, fmt.Errorf("simulation: snapshot range [%d,%d) is inverted", start, end)
	}
	inst.bank.Lock()
	defer inst.bank.Unlock()
	if int(end) > len(inst.bank.HoldingRegisters) {
		return nil, fmt.Errorf("simulation: snapshot range [%d,%d) exceeds bank size %d", start, end, len(inst.bank.HoldingRegisters))
	}
	return inst.bank.WordsLocked(start, int(end-start)), nil
}

// RegisterSnapshot is the per-register view a UI needs to render one row
// without cross-referencing the configuration file (spec.md §4.7's "UI
// snapshot"): the operator-facing display address, the raw bank words
// backing the register, its decoded logical value, and enough metadata
// to label and gate editing of the row.
type RegisterSnapshot struct {
	Name           string
	Description    string
	Address        uint16
	DisplayAddress int
	RawWords       []uint16
	DecodedLogical float64
	Writable       bool
}

// Describe returns a decoded snapshot of every configured register,
// taken atomically under the Register Bank's lock. Unlike Snapshot
// (a raw word-range copy for the network-framing layer), this is the
// collaborator-facing view spec.md §4.7 calls the "UI snapshot".
func (inst *Instance) Describe() []RegisterSnapshot {
	regs := inst.cfg.Model.All()
	out := make([]RegisterSnapshot, 0, len(regs))

	inst.bank.Lock()
	defer inst.bank.Unlock()
	for _, r := range regs {
		words := inst.bank.WordsLocked(r.Address, r.Words())
		out = append(out, RegisterSnapshot{
			Name:           r.Name,
			Description:    r.Description,
			Address:        r.Address,
			DisplayAddress: displayAddressBase + int(r.Address),
			RawWords:       words,
			DecodedLogical: codec.Decode(words, r.Type, r.Scale),
			Writable:       r.Writable,
		})
	}
	return out
}

// Address reports the endpoint this instance serves.
func (inst *Instance) Address() string {
	return fmt.Sprintf("%s:%d", inst.cfg.IP, inst.cfg.Port)
}

// SlaveID reports the configured Modbus unit identifier.
func (inst *Instance) SlaveID() int { return inst.cfg.SlaveID }
