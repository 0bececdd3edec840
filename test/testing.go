// Package test holds shared harness helpers for ptpsim's integration and
// stress tests: spinning up an in-process topology on loopback ports and
// waiting on it with a timeout instead of hanging a test run forever.
package test

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/core"
	"github.com/jabolina/go-ptpsim/pkg/ptpsim/definition"
	"github.com/jabolina/go-ptpsim/pkg/ptpsim/topology"
	"github.com/jabolina/go-ptpsim/pkg/ptpsim/types"
)

// TestInvoker tracks every goroutine it spawns so a test can wait for the
// whole simulated topology to unwind before asserting on goroutine leaks.
type TestInvoker struct {
	group *sync.WaitGroup
}

func (t *TestInvoker) Spawn(f func()) {
	t.group.Add(1)
	go func() {
		defer t.group.Done()
		f()
	}()
}

func (t *TestInvoker) Wait() {
	t.group.Wait()
}

func NewInvoker() *TestInvoker {
	return &TestInvoker{group: &sync.WaitGroup{}}
}

// NewTestLogger returns a logger quiet enough not to drown out test output.
func NewTestLogger() types.Logger {
	log := definition.NewDefaultLogger()
	log.ToggleDebug(false)
	return log
}

// ParseTopology parses a literal YAML topology document, failing the test
// on error.
func ParseTopology(t *testing.T, yamlDoc string) *types.Topology {
	t.Helper()
	topo, err := topology.Parse([]byte(yamlDoc))
	if err != nil {
		t.Fatalf("parsing topology: %v", err)
	}
	return topo
}

// RunTopology starts every node of topo under invoker and returns a cancel
// function that stops the simulation. Callers must arrange to call cancel
// and then Wait on the invoker before the test returns.
func RunTopology(invoker *TestInvoker, topo *types.Topology, log types.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	old := core.InvokerInstance()
	core.SetInvoker(invoker)
	invoker.Spawn(func() {
		defer core.SetInvoker(old)
		core.Run(ctx, topo, log)
	})
	return ctx, cancel
}

func PrintStackTrace(t *testing.T) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Errorf("%s", buf[:n])
}

// WaitThisOrTimeout runs cb in its own goroutine and reports whether it
// finished before duration elapsed.
func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		cb()
		done <- true
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

// FreePort returns the fixed loopback port base+offset for a test topology
// node; it does not check that the port is unused.
func FreePort(base int, offset int) int {
	return base + offset
}
