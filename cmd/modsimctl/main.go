// Command modsimctl is a diagnostic Modbus TCP client for polling a
// running modsim instance. Grounded on cmd/client/main.go: dial with
// github.com/goburrow/modbus, read a range of holding registers on a
// ticker, decode through internal/codec using a register layout file,
// and print a table.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	mb "github.com/goburrow/modbus"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"modsim/internal/codec"
)

// layoutEntry is the static subset of a register.Spec a diagnostic
// client needs: enough to decode a word range, none of the dynamic
// behavior fields.
type layoutEntry struct {
	Address     uint16  `yaml:"address"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Type        string  `yaml:"type"`
	Scale       float64 `yaml:"scale"`
}

type layoutFile struct {
	Registers []layoutEntry `yaml:"registers"`
}

func loadLayout(path string) ([]layoutEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}
	var f layoutFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse layout %s: %w", path, err)
	}
	if len(f.Registers) == 0 {
		return nil, fmt.Errorf("layout %s: no registers defined", path)
	}
	return f.Registers, nil
}

func main() {
	var (
		addr     string
		slaveID  int
		layout   string
		interval time.Duration
		once     bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:1502", "Modbus TCP address of the running modsim instance")
	flag.IntVar(&slaveID, "slave-id", 1, "Modbus unit identifier")
	flag.StringVar(&layout, "layout", "config/modsim.yaml", "path to a register layout file (same shape as the registers: section)")
	flag.DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	flag.BoolVar(&once, "once", false, "poll once and exit instead of looping")
	flag.Parse()

	entries, err := loadLayout(layout)
	if err != nil {
		log.Fatalf("%v", err)
	}

	wordCount := uint16(0)
	for _, e := range entries {
		top := e.Address + uint16(codec.Type(e.Type).Words())
		if top > wordCount {
			wordCount = top
		}
	}

	handler := mb.NewTCPClientHandler(addr)
	handler.Timeout = 5 * time.Second
	handler.SlaveId = byte(slaveID)
	if err := handler.Connect(); err != nil {
		log.Fatalf("connect %s: %v", addr, err)
	}
	defer handler.Close()
	client := mb.NewClient(handler)

	colorize := isatty.IsTerminal(os.Stdout.Fd())
	var lastPoll time.Time

	poll := func() {
		sessionID := uuid.New().String()[:8]
		words, err := client.ReadHoldingRegisters(0, wordCount)
		if err != nil {
			log.Printf("[%s] read holding registers 0-%d: %v", sessionID, wordCount, err)
			return
		}

		raw := make([]uint16, len(words)/2)
		for i := range raw {
			raw[i] = uint16(words[2*i])<<8 | uint16(words[2*i+1])
		}

		since := "first poll"
		if !lastPoll.IsZero() {
			since = humanize.Time(lastPoll)
		}
		lastPoll = time.Now()

		fmt.Printf("=== poll %s, %s, %s registers ===\n", sessionID, since, humanize.Comma(int64(len(entries))))
		for _, e := range entries {
			kind := codec.Type(e.Type)
			n := kind.Words()
			if int(e.Address)+n > len(raw) {
				continue
			}
			value := codec.Decode(raw[e.Address:int(e.Address)+n], kind, e.Scale)
			line := fmt.Sprintf("%-20s @%-4d %-5s = %v", e.Name, e.Address, e.Type, value)
			if colorize {
				line = "\x1b[36m" + line + "\x1b[0m"
			}
			fmt.Println(line)
		}
	}

	poll()
	if once {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		poll()
	}
}
