// Command modsim runs one simulated Modbus TCP device from a
// declarative YAML register configuration (spec.md §4.1/§4.7), on the
// single endpoint given by the config defaults or the -ip/-port/-slave-id
// flags. Grounded on cmd/servers/main.go + internal/servermgr.Manager:
// load config, build the shared core once, start the instance, block on a
// signal, shut down with a bounded join.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"modsim/internal/config"
	"modsim/internal/globalvars"
	"modsim/internal/history"
	"modsim/internal/pipeline"
	"modsim/internal/register"
	"modsim/internal/simulation"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath   string
		ipFlag    string
		portFlag  int
		slaveFlag int
		historyDB string
	)
	flag.StringVar(&cfgPath, "config", "config/modsim.yaml", "path to YAML register configuration")
	flag.StringVar(&ipFlag, "ip", "", "override defaults.ip")
	flag.IntVar(&portFlag, "port", 0, "override defaults.port")
	flag.IntVar(&slaveFlag, "slave-id", 0, "override defaults.slave_id")
	flag.StringVar(&historyDB, "history-db", "", "optional path to a sqlite diagnostic snapshot recorder")
	flag.Parse()

	logger := log.New(os.Stderr, "[modsim] ", log.LstdFlags)

	root, specs, err := config.Load(cfgPath)
	if err != nil {
		logger.Printf("load config %s: %v", cfgPath, err)
		return 1
	}

	model, seeds, err := register.Load(specs)
	if err != nil {
		logger.Printf("build register model: %v", err)
		return 1
	}

	seedMap := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		seedMap[s.Name] = s.Value
	}
	globals := globalvars.New(seedMap)

	var histSink pipeline.HistorySink
	if historyDB != "" {
		recorder, err := history.Open(historyDB, 1000, log.New(os.Stderr, "[modsim-history] ", log.LstdFlags))
		if err != nil {
			logger.Printf("open history db %s: %v", historyDB, err)
			return 1
		}
		defer recorder.Close()
		histSink = recorder
	}

	ip := root.Defaults.IP
	if ipFlag != "" {
		ip = ipFlag
	}
	port := root.Defaults.Port
	if portFlag != 0 {
		port = portFlag
	}
	slaveID := root.Defaults.SlaveID
	if slaveFlag != 0 {
		slaveID = slaveFlag
	}

	registry := simulation.NewRegistry()
	inst, err := simulation.New(simulation.Config{
		IP:       ip,
		Port:     port,
		SlaveID:  slaveID,
		Interval: root.UpdateInterval,
		Model:    model,
		Globals:  globals,
		History:  histSink,
	}, log.New(os.Stderr, fmt.Sprintf("[modsim %s:%d] ", ip, port), log.LstdFlags))
	if err != nil {
		logger.Printf("build simulation instance: %v", err)
		return 1
	}

	if err := inst.Start(); err != nil {
		logger.Printf("start simulation instance: %v", err)
		return 1
	}
	registry.Append(inst)
	logger.Printf("serving %d register(s) on %s, slave %d, every %s", len(model.All()), inst.Address(), slaveID, root.UpdateInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Printf("shutting down %d instance(s)...", registry.Count())
	for _, i := range registry.All() {
		i.Stop()
	}

	return 0
}
