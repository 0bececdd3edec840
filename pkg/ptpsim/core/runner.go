package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/types"
)

var (
	resultHooksMu     sync.Mutex
	resultHooks       = map[string]func(SlaveResult){}
	driftSamplers     = map[string]func() time.Duration{}
	residenceSamplers = map[string]func() time.Duration{}
)

// SetSlaveResultHook registers cb to be called with every round result of
// the slave named nodeName, the next time that node is started via Run.
// Tests use this to observe a node's computed offset/delay; production
// callers never need it.
func SetSlaveResultHook(nodeName string, cb func(SlaveResult)) {
	resultHooksMu.Lock()
	defer resultHooksMu.Unlock()
	resultHooks[nodeName] = cb
}

// SetDriftSampler overrides the drift sampler the named slave uses, the
// next time that node is started via Run.
func SetDriftSampler(nodeName string, sampler func() time.Duration) {
	resultHooksMu.Lock()
	defer resultHooksMu.Unlock()
	driftSamplers[nodeName] = sampler
}

// SetResidenceSampler overrides the residence sampler the named switch
// uses, the next time that node is started via Run.
func SetResidenceSampler(nodeName string, sampler func() time.Duration) {
	resultHooksMu.Lock()
	defer resultHooksMu.Unlock()
	residenceSamplers[nodeName] = sampler
}

func takeSlaveResultHook(nodeName string) func(SlaveResult) {
	resultHooksMu.Lock()
	defer resultHooksMu.Unlock()
	cb := resultHooks[nodeName]
	delete(resultHooks, nodeName)
	return cb
}

func takeDriftSampler(nodeName string) func() time.Duration {
	resultHooksMu.Lock()
	defer resultHooksMu.Unlock()
	cb := driftSamplers[nodeName]
	delete(driftSamplers, nodeName)
	return cb
}

func takeResidenceSampler(nodeName string) func() time.Duration {
	resultHooksMu.Lock()
	defer resultHooksMu.Unlock()
	cb := residenceSamplers[nodeName]
	delete(residenceSamplers, nodeName)
	return cb
}

// Run spawns one goroutine per node in topo (spec.md §5: "one OS-level
// thread of execution per node, all co-hosted in a single process") and
// waits for every one of them to finish. There is no supervisory layer
// (spec §7): each node's terminal error is logged independently, and a
// node whose peer has died will simply fail on its own next socket
// operation and terminate in turn.
func Run(ctx context.Context, topo *types.Topology, log types.Logger) {
	var wg sync.WaitGroup
	for _, node := range topo.Nodes {
		node := node
		wg.Add(1)
		InvokerInstance().Spawn(func() {
			defer wg.Done()
			if err := runNode(ctx, node, topo, log); err != nil {
				log.Errorf("node %s terminated: %v", node.Name, err)
			}
		})
	}
	wg.Wait()
}

func runNode(ctx context.Context, node *types.NodeConfig, topo *types.Topology, log types.Logger) error {
	switch node.Role {
	case types.RoleGrandmaster:
		return NewGrandMaster(node, topo, log).Run(ctx)
	case types.RoleSwitch:
		parentPort := topo.Nodes[node.Parent].ListenPort
		sw := NewSwitch(node, parentPort, log, topo.ResidenceMin, topo.ResidenceMax)
		if sampler := takeResidenceSampler(node.Name); sampler != nil {
			sw.SetResidenceSampler(sampler)
		}
		return sw.Run(ctx)
	case types.RoleSlave:
		parentPort := topo.Nodes[node.Parent].ListenPort
		slave := NewSlave(node, parentPort, log, topo.DriftMin, topo.DriftMax)
		if cb := takeSlaveResultHook(node.Name); cb != nil {
			slave.SetResultHook(cb)
		}
		if sampler := takeDriftSampler(node.Name); sampler != nil {
			slave.SetDriftSampler(sampler)
		}
		return slave.Run(ctx)
	default:
		return fmt.Errorf("node %s: unknown role", node.Name)
	}
}
