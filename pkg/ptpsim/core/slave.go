package core

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/types"
)

// Slave is a leaf node: it computes its clock offset and one-way delay
// relative to the grandmaster once per sync period (spec.md §4.3). It
// never disciplines its own clock; drift is re-sampled every round purely
// to simulate a skewed local clock.
type Slave struct {
	name       string
	parentPort int

	log     types.Logger
	invoker Invoker

	// driftSampler draws the true per-round clock drift (spec §4.3 step
	// 1). Defaults to uniform(driftMin, driftMax); SetDriftSampler
	// overrides it, e.g. to pin d=0 for the "correction accuracy"
	// property (spec §8 scenario 1).
	driftSampler func() time.Duration

	driftErrors []float64

	// onResult, when set, is invoked after every completed round. Tests
	// use it to observe the computed offset/delay without scraping log
	// output; production code leaves it nil.
	onResult func(SlaveResult)
}

// SlaveResult is one round's computed clock comparison (spec §4.3 step 5).
type SlaveResult struct {
	TrueDrift   float64
	Offset      float64
	OneWayDelay float64
	MeanError   float64
}

// SetResultHook installs cb to be called with every round's result.
func (s *Slave) SetResultHook(cb func(SlaveResult)) {
	s.onResult = cb
}

// SetDriftSampler overrides the per-round drift sampler, e.g. to pin it to
// zero for the "correction accuracy" property (spec §8 scenario 1).
func (s *Slave) SetDriftSampler(sampler func() time.Duration) {
	s.driftSampler = sampler
}

// NewSlave builds a Slave from its topology entry and the shared
// simulation parameters.
func NewSlave(cfg *types.NodeConfig, parentPort int, log types.Logger, driftMin, driftMax time.Duration) *Slave {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(parentPort) ^ hashName(cfg.Name)))
	spread := driftMax - driftMin
	return &Slave{
		name:       cfg.Name,
		parentPort: parentPort,
		log:        log,
		invoker:    InvokerInstance(),
		driftSampler: func() time.Duration {
			if spread <= 0 {
				return driftMin
			}
			return driftMin + time.Duration(rng.Int63n(int64(spread)))
		},
	}
}

func hashName(name string) int64 {
	var h uint64 = 14695981039346656037
	for _, b := range []byte(name) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return int64(h)
}

// Run dials the parent, sends the preliminary announcement, and then
// repeats protocol rounds forever (spec §4.3).
func (s *Slave) Run(ctx context.Context) error {
	fc, err := DialParent(s.parentPort)
	if err != nil {
		return fmt.Errorf("slave %s: dialing parent: %w", s.name, err)
	}
	defer fc.Close()

	if _, err := fc.SendLine(s.name); err != nil {
		return fmt.Errorf("slave %s: sending announcement: %w", s.name, err)
	}

	// round blocks directly on fc.RecvMessage/SendLine with no ctx of its
	// own, and a slave spends most of a sync period idle waiting on the
	// next message, so closing fc is what actually unblocks it on
	// cancellation.
	closeOnCancel(ctx, s.invoker, fc)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.round(fc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// round executes one sync/follow-up/delay-request/delay-response
// exchange and reports the computed offset. A protocol misorder (an
// unexpected message type) abandons the round and logs a diagnostic; only
// a transport failure terminates the slave.
func (s *Slave) round(fc *FramedConn) error {
	drift := s.driftSampler()

	t2, line, err := fc.RecvMessage()
	if err != nil {
		return fmt.Errorf("slave %s: %w", s.name, err)
	}
	if types.Kind(line) != types.KindSync {
		s.log.Warnf("slave %s: expected sync, got %q; abandoning round", s.name, line)
		return nil
	}
	t2prime := types.UnixSeconds(t2) + drift.Seconds()

	_, line, err = fc.RecvMessage()
	if err != nil {
		return fmt.Errorf("slave %s: %w", s.name, err)
	}
	if types.Kind(line) != types.KindFollowUp {
		s.log.Warnf("slave %s: expected follow_up, got %q; abandoning round", s.name, line)
		return nil
	}
	t1 := parseField(line, 1)
	syncCorrection := parseField(line, 2)

	t3, err := fc.SendLine(types.FormatDelayReq(s.name, 0))
	if err != nil {
		return fmt.Errorf("slave %s: %w", s.name, err)
	}
	t3prime := types.UnixSeconds(t3) + drift.Seconds()

	_, line, err = fc.RecvMessage()
	if err != nil {
		return fmt.Errorf("slave %s: %w", s.name, err)
	}
	if types.Kind(line) != types.KindDelayResp {
		s.log.Warnf("slave %s: expected delay_resp, got %q; abandoning round", s.name, line)
		return nil
	}
	t4 := parseField(line, 2)
	delayCorrection := parseField(line, 3)

	oneWayDelay := ((t2prime - t1 - syncCorrection) + (t4 - t3prime - delayCorrection)) / 2
	offset := ((t2prime - t1 - syncCorrection) - (t4 - t3prime - delayCorrection)) / 2

	s.driftErrors = append(s.driftErrors, math.Abs(drift.Seconds()-offset))
	mean := s.meanError()

	s.log.Infof("slave %s: true_drift=%.6f offset=%.6f one_way_delay=%.6f mean_error=%.6f",
		s.name, drift.Seconds(), offset, oneWayDelay, mean)

	if s.onResult != nil {
		s.onResult(SlaveResult{
			TrueDrift:   drift.Seconds(),
			Offset:      offset,
			OneWayDelay: oneWayDelay,
			MeanError:   mean,
		})
	}

	return nil
}

func (s *Slave) meanError() float64 {
	if len(s.driftErrors) == 0 {
		return 0
	}
	var sum float64
	for _, e := range s.driftErrors {
		sum += e
	}
	return sum / float64(len(s.driftErrors))
}

func parseField(line string, i int) float64 {
	fields := types.Fields(line)
	if i < 0 || i >= len(fields) {
		return 0
	}
	v, err := strconv.ParseFloat(fields[i], 64)
	if err != nil {
		return 0
	}
	return v
}
