// Package pipeline implements the Update Pipeline (spec.md §4.6): the
// periodic tick that advances one Simulation Instance's registers through
// five ordered phases under the instance's shared mutex — randomize,
// accumulate, ingest-writes, derive, publish.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"modsim/internal/codec"
	"modsim/internal/expr"
	"modsim/internal/globalvars"
	"modsim/internal/modbus"
	"modsim/internal/register"
	"modsim/internal/valuestore"
)

// HistorySink receives a best-effort snapshot of one register after
// every tick's publish phase. internal/history implements this to feed
// the optional diagnostic recorder (spec §9 supplement); Pipeline only
// depends on the interface, not on sqlite or any storage concern.
type HistorySink interface {
	Record(instanceID string, ts time.Time, address uint16, name string, rawWords []uint16, logical float64)
}

// Pipeline wires together one Simulation Instance's Register Model,
// Value Store, the process-wide Global Variable Table, and its Register
// Bank. It is the sole writer of the Value Store and, outside of client
// writes, the Register Bank.
type Pipeline struct {
	model    *register.Model
	values   *valuestore.Store
	globals  *globalvars.Table
	bank     *modbus.Server
	exprs    map[string]*expr.Expr
	interval time.Duration
	logger   *log.Logger
	rng      *rand.Rand

	historySink HistorySink
	instanceID  string
}

// SetHistorySink attaches an optional diagnostic recorder. Safe to call
// once, before Start; Tick calls it after publish, still under the
// instance lock, so sink.Record must never block.
func (p *Pipeline) SetHistorySink(sink HistorySink, instanceID string) {
	p.historySink = sink
	p.instanceID = instanceID
}

// New compiles every register's expression (if any) against the known
// identifier namespace — every register name plus every writable
// register's variable_name — and returns a ready-to-run Pipeline.
// Compilation failure here is a load-time error (spec §9, Open
// Question 2): an expression referencing an unresolvable identifier
// never reaches Tick.
func New(model *register.Model, values *valuestore.Store, globals *globalvars.Table, bank *modbus.Server, interval time.Duration, logger *log.Logger) (*Pipeline, error) {
	known := make(map[string]struct{})
	for _, r := range model.All() {
		known[r.Name] = struct{}{}
	}
	for _, r := range model.All() {
		if r.Writable {
			known[r.VariableName] = struct{}{}
		}
	}

	exprs := make(map[string]*expr.Expr)
	for _, r := range model.All() {
		if !r.HasExpression() {
			continue
		}
		compiled, err := expr.Compile(r.Expression, known)
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", r.Name, err)
		}
		exprs[r.Name] = compiled
	}

	return &Pipeline{
		model:    model,
		values:   values,
		globals:  globals,
		bank:     bank,
		exprs:    exprs,
		interval: interval,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Tick runs the five phases once, under the instance's shared mutex.
// A panic in any phase is recovered and returned as an error so Run can
// apply the back-off policy instead of crashing the updater goroutine.
func (p *Pipeline) Tick() (err error) {
	p.bank.Lock()
	defer p.bank.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	p.randomize()
	p.accumulate()
	p.ingestWrites()
	p.derive()
	p.publish()
	p.recordHistory()

	return nil
}

// randomize draws a fresh value for every non-writable randomize
// register: base_value * (1 + u), u uniform in [-fluctuation, fluctuation].
func (p *Pipeline) randomize() {
	for _, r := range p.model.All() {
		if !r.Randomize || r.Writable {
			continue
		}
		u := (p.rng.Float64()*2 - 1) * r.Fluctuation
		p.values.Set(r.Name, r.BaseValue*(1+u))
	}
}

// accumulate integrates each non-writable accumulator register's source
// value (power units) into an energy total in kWh (spec §4.6, phase 2).
func (p *Pipeline) accumulate() {
	deltaSeconds := p.interval.Seconds()
	for _, r := range p.model.All() {
		if !r.Accumulate || r.Writable {
			continue
		}
		cur, _ := p.values.Get(r.Name)
		src, _ := p.values.Get(r.Source)
		p.values.Set(r.Name, cur+src*deltaSeconds/3600/1000)
	}
}

// ingestWrites decodes any client-issued writes sitting in the Register
// Bank since the last tick, clamps them to [min_value, max_value],
// updates the Value Store and the Global Variable Table, and re-encodes
// the clamped value back into the bank so later client reads observe
// the clamp (spec §4.4/§4.6 phase 3, scenario S4).
func (p *Pipeline) ingestWrites() {
	for _, r := range p.model.All() {
		if !r.Writable {
			continue
		}
		words := p.bank.WordsLocked(r.Address, r.Words())
		logical := codec.Decode(words, r.Type, r.Scale)

		if r.MinValue != nil && logical < *r.MinValue {
			logical = *r.MinValue
		}
		if r.MaxValue != nil && logical > *r.MaxValue {
			logical = *r.MaxValue
		}

		p.values.Set(r.Name, logical)
		p.globals.Set(r.VariableName, logical)
		p.bank.SetWordsLocked(r.Address, codec.Encode(logical, r.Type, r.Scale))
	}
}

// derive evaluates every register's expression against a namespace
// frozen at the start of this phase: the Value Store as left by
// randomize/accumulate/ingest-writes, merged with the Global Variable
// Table. Evaluating against one snapshot rather than letting later
// registers see earlier ones resolves cyclic expression references by
// falling back to the previous tick's value (spec §9, Open Question 3).
func (p *Pipeline) derive() {
	if len(p.exprs) == 0 {
		return
	}

	valSnapshot := p.values.Snapshot()
	globSnapshot := p.globals.Snapshot()
	resolver := expr.Resolver(func(name string) (float64, bool) {
		if v, ok := valSnapshot[name]; ok {
			return v, true
		}
		v, ok := globSnapshot[name]
		return v, ok
	})

	for _, r := range p.model.All() {
		compiled, ok := p.exprs[r.Name]
		if !ok {
			continue
		}
		v, err := compiled.Eval(resolver)
		if err != nil {
			if p.logger != nil {
				p.logger.Printf("register %q: expression evaluation failed: %v", r.Name, err)
			}
			v = 0
		}
		p.values.Set(r.Name, v)
	}
}

// publish encodes every non-writable register's current logical value
// back into the Register Bank. Writable registers are never published
// here: their authoritative state is whatever a client last wrote,
// already reconciled in ingestWrites.
func (p *Pipeline) publish() {
	for _, r := range p.model.All() {
		if r.Writable {
			continue
		}
		v, _ := p.values.Get(r.Name)
		p.bank.SetWordsLocked(r.Address, codec.Encode(v, r.Type, r.Scale))
	}
}

// recordHistory feeds the optional HistorySink one row per register,
// still under the instance lock. A nil sink makes this a no-op.
func (p *Pipeline) recordHistory() {
	if p.historySink == nil {
		return
	}
	now := time.Now()
	for _, r := range p.model.All() {
		words := p.bank.WordsLocked(r.Address, r.Words())
		v, _ := p.values.Get(r.Name)
		p.historySink.Record(p.instanceID, now, r.Address, r.Name, words, v)
	}
}

// Run executes Tick at cadence interval until ctx is canceled. A failed
// tick is logged and followed by a 5*interval back-off before resuming
// (spec §4.6/§4.9: failure isolation, not a fatal stop).
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Tick(); err != nil {
				if p.logger != nil {
					p.logger.Printf("tick failed, backing off for %s: %v", 5*p.interval, err)
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * p.interval):
				}
			}
		}
	}
}
