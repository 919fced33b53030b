// Package modbus implements the Register Bank and its Modbus TCP Adapter
// (spec.md §4.5/§4.10): a flat word array representing one Simulation
// Instance's holding registers, guarded by a single RWMutex shared with
// the update pipeline, fronted by a Modbus TCP server built on
// github.com/simonvetter/modbus's server mode (package mbserver/modbus
// in that module, imported here under its top-level API:
// NewServer/ServerConfiguration/RequestHandler).
package modbus

import (
	"fmt"
	"sync"
	"time"

	mb "github.com/simonvetter/modbus"
)

const (
	// minBankWords is the floor on Register Bank size regardless of the
	// highest configured register address (spec §4.5).
	minBankWords = 10

	// placeholderWords sizes the always-zero coil/discrete-input/input-register
	// backing arrays for function codes 1/2/4, which this simulator does not
	// model beyond answering a well-formed, all-zero read (spec.md Non-goals:
	// "coils and discrete inputs beyond trivial placeholders").
	placeholderWords = 8

	defaultTimeout    = 30 * time.Second
	defaultMaxClients = 10
)

// Server fronts one Simulation Instance's Register Bank with a Modbus
// TCP server. It implements mb.RequestHandler directly: HandleCoils and
// HandleDiscreteInputs answer the trivial FC1/2 placeholders,
// HandleInputRegisters answers the trivial FC4 placeholder, and
// HandleHoldingRegisters serves FC3/6/16 reads and writes against
// HoldingRegisters, the flat word array the update pipeline also reads
// and writes every tick.
//
// mu is the single mutex shared between the library's client-serving
// goroutines and the updater goroutine (spec §4.7): the request handler
// methods hold it only for the duration of one client read/write, the
// updater holds it across an entire tick via the exported Lock/Unlock.
type Server struct {
	slaveID uint8

	mu               sync.RWMutex
	HoldingRegisters []uint16
	InputRegisters   []uint16
	Coils            []bool
	DiscreteInputs   []bool

	closeOnce sync.Once
	srv       *mb.ModbusServer
}

// BankWords returns the Register Bank size for the word-address bound a
// register.Model reports through MaxWordAddress (one past its highest
// occupied word): max(10, maxWordAddress+2).
func BankWords(maxWordAddress uint16) int {
	size := int(maxWordAddress) + 2
	if size < minBankWords {
		size = minBankWords
	}
	return size
}

// NewServer constructs a server whose Register Bank holds bankWords
// words, sized by the caller via BankWords. slaveID is the unit
// identifier this device answers to; requests addressed to any other
// unit are rejected with an illegal-function exception.
func NewServer(bankWords int, slaveID int) *Server {
	if bankWords < minBankWords {
		bankWords = minBankWords
	}
	return &Server{
		slaveID:          uint8(slaveID),
		HoldingRegisters: make([]uint16, bankWords),
		InputRegisters:   make([]uint16, placeholderWords),
		Coils:            make([]bool, placeholderWords),
		DiscreteInputs:   make([]bool, placeholderWords),
	}
}

// Lock acquires the instance-wide write lock. The update pipeline holds
// it across an entire tick's five phases (spec §4.6/§4.7).
func (s *Server) Lock() { s.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (s *Server) Unlock() { s.mu.Unlock() }

// WordsLocked reads count words starting at addr. The caller must
// already hold Lock (typically the update pipeline, mid-tick).
func (s *Server) WordsLocked(addr uint16, count int) []uint16 {
	out := make([]uint16, count)
	copy(out, s.HoldingRegisters[addr:int(addr)+count])
	return out
}

// SetWordsLocked writes words starting at addr. The caller must already
// hold Lock.
func (s *Server) SetWordsLocked(addr uint16, words []uint16) {
	copy(s.HoldingRegisters[addr:int(addr)+len(words)], words)
}

// Listen starts accepting Modbus TCP connections on the provided address.
func (s *Server) Listen(address string) error {
	srv, err := mb.NewServer(&mb.ServerConfiguration{
		URL:        "tcp://" + address,
		Timeout:    defaultTimeout,
		MaxClients: defaultMaxClients,
	}, s)
	if err != nil {
		return fmt.Errorf("modbus: create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("modbus: start server on %s: %w", address, err)
	}
	s.srv = srv
	return nil
}

// Close stops accepting connections and closes any active session.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.srv != nil {
			s.srv.Stop()
		}
	})
}

// HandleCoils implements mb.RequestHandler. Coils are a trivial,
// read-only, always-zero placeholder (spec.md Non-goals); writes are
// rejected as an unsupported function.
func (s *Server) HandleCoils(req *mb.CoilsRequest) ([]bool, error) {
	if req.UnitId != s.slaveID {
		return nil, mb.ErrIllegalFunction
	}
	if req.IsWrite {
		return nil, mb.ErrIllegalFunction
	}
	return s.readBits(s.Coils, req.Addr, req.Quantity)
}

// HandleDiscreteInputs implements mb.RequestHandler: another trivial,
// always-zero placeholder array.
func (s *Server) HandleDiscreteInputs(req *mb.DiscreteInputsRequest) ([]bool, error) {
	if req.UnitId != s.slaveID {
		return nil, mb.ErrIllegalFunction
	}
	return s.readBits(s.DiscreteInputs, req.Addr, req.Quantity)
}

func (s *Server) readBits(source []bool, addr, quantity uint16) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := int(addr) + int(quantity)
	if end > len(source) {
		return nil, mb.ErrIllegalDataAddress
	}
	out := make([]bool, quantity)
	copy(out, source[addr:end])
	return out, nil
}

// HandleInputRegisters implements mb.RequestHandler: a trivial,
// always-zero placeholder array (spec.md Non-goals).
func (s *Server) HandleInputRegisters(req *mb.InputRegistersRequest) ([]uint16, error) {
	if req.UnitId != s.slaveID {
		return nil, mb.ErrIllegalFunction
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := int(req.Addr) + int(req.Quantity)
	if end > len(s.InputRegisters) {
		return nil, mb.ErrIllegalDataAddress
	}
	out := make([]uint16, req.Quantity)
	copy(out, s.InputRegisters[req.Addr:end])
	return out, nil
}

// HandleHoldingRegisters implements mb.RequestHandler, serving FC3 reads
// and FC6/16 writes against HoldingRegisters.
func (s *Server) HandleHoldingRegisters(req *mb.HoldingRegistersRequest) ([]uint16, error) {
	if req.UnitId != s.slaveID {
		return nil, mb.ErrIllegalFunction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	end := int(req.Addr) + int(req.Quantity)
	if end > len(s.HoldingRegisters) {
		return nil, mb.ErrIllegalDataAddress
	}
	if req.IsWrite {
		copy(s.HoldingRegisters[req.Addr:end], req.Args)
	}
	out := make([]uint16, req.Quantity)
	copy(out, s.HoldingRegisters[req.Addr:end])
	return out, nil
}

// SetHoldingRegister updates a single holding register value, taking the
// lock itself. Used outside of a tick (e.g. at startup, before any
// client or updater goroutine is running).
func (s *Server) SetHoldingRegister(address uint16, value uint16) error {
	if int(address) >= len(s.HoldingRegisters) {
		return fmt.Errorf("address %d out of range", address)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HoldingRegisters[address] = value
	return nil
}
