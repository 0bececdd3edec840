// Command ptpsim runs a tree of PTP grandmaster, switch, and slave nodes
// described by a YAML topology file, all co-hosted in this one process
// (spec.md §5).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/core"
	"github.com/jabolina/go-ptpsim/pkg/ptpsim/definition"
	"github.com/jabolina/go-ptpsim/pkg/ptpsim/topology"
)

var (
	topologyPath = kingpin.Flag("topology", "path to the YAML topology file").Short('t').Required().String()
	debug        = kingpin.Flag("debug", "enable debug-level logging").Bool()
)

func main() {
	kingpin.Version("ptpsim 0.1.0")
	kingpin.Parse()

	log := definition.NewDefaultLogger()
	log.ToggleDebug(*debug)

	topo, err := topology.Load(*topologyPath)
	if err != nil {
		log.Fatalf("loading topology: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, stopping all nodes")
		cancel()
	}()

	log.Infof("starting simulation with %d nodes, grandmaster %s", len(topo.Nodes), topo.Root)
	core.Run(ctx, topo, log)
	log.Info("simulation stopped")
}
