package fuzzy

import (
	"log"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/core"
	"github.com/jabolina/go-ptpsim/test"
)

// Test_ResidenceDelayStress pins a switch's residence sampler to a
// constant and runs a handful of rounds with drift pinned to zero,
// checking that the mean of (offset - drift), i.e. the mean offset, across
// the rounds stays within 1ms (spec §8
// scenario 3: the switch's correction should cancel out a constant,
// known residence almost exactly).
func Test_ResidenceDelayStress(t *testing.T) {
	defer goleak.VerifyNone(t)

	const constantResidence = 75 * time.Millisecond
	topo := test.ParseTopology(t, `
sync_period: 200ms
startup_delay: 50ms
follow_up_separation: 20ms
residence_min: 75ms
residence_max: 75ms
drift_min: 0s
drift_max: 0s
nodes:
  - {name: GM, role: grandmaster, listen_port: 21300, children: [A]}
  - {name: A, role: switch, parent: GM, listen_port: 21301, children: [B]}
  - {name: B, role: slave, parent: A}
`)

	core.SetResidenceSampler("A", func() time.Duration { return constantResidence })

	var mu sync.Mutex
	var offsets []float64
	const wantRounds = 5
	done := make(chan struct{})
	var once sync.Once
	core.SetSlaveResultHook("B", func(r core.SlaveResult) {
		mu.Lock()
		offsets = append(offsets, r.Offset)
		n := len(offsets)
		mu.Unlock()
		log.Printf("round %d: offset=%.6f", n, r.Offset)
		if n >= wantRounds {
			once.Do(func() { close(done) })
		}
	})

	invoker := test.NewInvoker()
	simLog := test.NewTestLogger()
	_, cancel := test.RunTopology(invoker, topo, simLog)

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for enough rounds")
	}

	cancel()
	if !test.WaitThisOrTimeout(invoker.Wait, 10*time.Second) {
		t.Error("topology failed to shut down")
		test.PrintStackTrace(t)
	}

	mu.Lock()
	defer mu.Unlock()
	var sum float64
	for _, o := range offsets {
		sum += o
	}
	mean := sum / float64(len(offsets))
	if mean < -0.001 || mean > 0.001 {
		t.Errorf("mean offset with constant residence and zero drift should be within 1ms, got %v", mean)
	}
}
