package core

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/types"
)

// Switch is a PTP transparent clock: an interior tree node that forwards
// messages while correcting for the residence time each one spends inside
// it (spec.md §4.4). It has exactly one upstream link toward the
// grandmaster and one or more downstream links toward its children.
type Switch struct {
	name       string
	listenPort int
	parentPort int
	children   []string

	log     types.Logger
	invoker Invoker

	// residenceSampler draws the artificial per-message residence delay
	// (spec §4.4.1). Defaults to uniform(residenceMin, residenceMax);
	// tests override it to a constant to exercise the "residence-delay
	// stress" property (spec §8 scenario 3).
	residenceSampler func() time.Duration

	upstream   *FramedConn
	downstream []*FramedConn

	// forwardingMap routes a delay_resp by the slave name it names to
	// the single downstream link whose subtree contains that slave.
	forwardingMap map[string]*FramedConn

	pending     pendingQueue
	seq         uint64
	syncBuffer  map[*FramedConn]time.Duration
	nextEgress  map[*FramedConn]time.Time
}

// NewSwitch builds a Switch from its topology entry. residenceMin/Max
// define the default uniform residence sampler.
func NewSwitch(cfg *types.NodeConfig, parentPort int, log types.Logger, residenceMin, residenceMax time.Duration) *Switch {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(cfg.ListenPort)))
	spread := residenceMax - residenceMin
	return &Switch{
		name:       cfg.Name,
		listenPort: cfg.ListenPort,
		parentPort: parentPort,
		children:   append([]string(nil), cfg.Children...),
		log:        log,
		invoker:    InvokerInstance(),
		residenceSampler: func() time.Duration {
			if spread <= 0 {
				return residenceMin
			}
			return residenceMin + time.Duration(rng.Int63n(int64(spread)))
		},
		forwardingMap: make(map[string]*FramedConn),
		syncBuffer:    make(map[*FramedConn]time.Duration),
		nextEgress:    make(map[*FramedConn]time.Time),
	}
}

// SetResidenceSampler overrides the per-message residence sampler, e.g. to
// pin it to a constant for the "residence-delay stress" property (spec §8
// scenario 3).
func (s *Switch) SetResidenceSampler(sampler func() time.Duration) {
	s.residenceSampler = sampler
}

// Run performs the switch's startup handshake (spec §4.4 "Startup") and
// then drives the single event loop for as long as ctx is alive or a
// transport error occurs.
func (s *Switch) Run(ctx context.Context) error {
	ln, advertise, err := ListenTCP(fmt.Sprintf(":%d", s.listenPort), &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: s.listenPort})
	if err != nil {
		return fmt.Errorf("switch %s: %w", s.name, err)
	}
	defer ln.Close()
	s.log.Infof("switch %s listening on %s, awaiting %d children", s.name, advertise, len(s.children))

	downTags := make([]string, 0, len(s.children))
	for i := 0; i < len(s.children); i++ {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("switch %s: accept: %w", s.name, err)
		}
		fc := NewFramedConn(conn)
		_, announcement, err := fc.RecvMessage()
		if err != nil {
			return fmt.Errorf("switch %s: reading child announcement: %w", s.name, err)
		}
		s.downstream = append(s.downstream, fc)
		downTags = append(downTags, fmt.Sprintf("down:%d", i))
		for _, slave := range types.Fields(announcement) {
			s.forwardingMap[slave] = fc
		}
	}
	s.log.Infof("switch %s connected with all %d children", s.name, len(s.children))

	upstream, err := DialParent(s.parentPort)
	if err != nil {
		return fmt.Errorf("switch %s: dialing parent: %w", s.name, err)
	}
	s.upstream = upstream

	names := make([]string, 0, len(s.forwardingMap))
	for name := range s.forwardingMap {
		names = append(names, name)
	}
	if _, err := s.upstream.SendLine(strings.Join(names, " ")); err != nil {
		return fmt.Errorf("switch %s: sending upstream announcement: %w", s.name, err)
	}

	allConns := append([]*FramedConn{s.upstream}, s.downstream...)
	closeOnCancel(ctx, s.invoker, allConns...)
	defer func() {
		for _, c := range allConns {
			c.Close()
		}
	}()

	inbound := make(chan inboundMessage, 16)
	spawnReader(ctx, s.invoker, s.upstream, "up", inbound)
	for i, ds := range s.downstream {
		spawnReader(ctx, s.invoker, ds, downTags[i], inbound)
	}

	return s.loop(ctx, inbound)
}

func (s *Switch) loop(ctx context.Context, inbound <-chan inboundMessage) error {
	for {
		var timer <-chan time.Time
		if len(s.pending) > 0 {
			d := time.Until(s.pending[0].deadline)
			if d < 0 {
				d = 0
			}
			timer = time.After(d)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-inbound:
			if in.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("switch %s: %s link: %w", s.name, in.tag, in.err)
			}
			s.handle(in)
		case <-timer:
		}

		s.drainDue()
	}
}

// handle classifies one ingress message per the direction/type table in
// spec.md §4.4 and schedules its egress. Anything not named in the table
// is silently dropped.
func (s *Switch) handle(in inboundMessage) {
	kind := types.Kind(in.line)
	if in.tag == "up" {
		switch kind {
		case types.KindSync:
			for _, ds := range s.downstream {
				s.schedule(ds, in.line, in.t, false, true, false)
			}
		case types.KindFollowUp:
			for _, ds := range s.downstream {
				s.schedule(ds, in.line, in.t, false, false, true)
			}
		case types.KindDelayResp:
			slave := types.Field(in.line, 1)
			if ds, ok := s.forwardingMap[slave]; ok {
				s.schedule(ds, in.line, in.t, false, false, false)
			}
		}
		return
	}

	if kind == types.KindDelayReq {
		s.schedule(s.upstream, in.line, in.t, true, false, false)
	}
}

// schedule computes the egress deadline for one forward, enforcing
// per-link FIFO order even when ingress order is scrambled by random
// residence sampling (spec §4.4.1).
func (s *Switch) schedule(out *FramedConn, payload string, tIngress time.Time, needsCorrection, recordSyncResidence, applySyncCorrection bool) {
	r := s.residenceSampler()
	ready := tIngress.Add(r)

	last, ok := s.nextEgress[out]
	due := ready
	if ok && last.After(due) {
		due = last
	}
	due = due.Add(time.Microsecond)
	s.nextEgress[out] = due

	s.seq++
	heap.Push(&s.pending, &forwardRecord{
		deadline:            due,
		seq:                 s.seq,
		outSock:             out,
		payload:             payload,
		tIngress:            tIngress,
		needsCorrection:     needsCorrection,
		recordSyncResidence: recordSyncResidence,
		applySyncCorrection: applySyncCorrection,
	})
}

// drainDue pops and emits every scheduled forward whose deadline has
// arrived, in deadline order.
func (s *Switch) drainDue() {
	now := time.Now()
	for len(s.pending) > 0 && !s.pending[0].deadline.After(now) {
		rec := heap.Pop(&s.pending).(*forwardRecord)
		s.egress(rec)
	}
}

// egress applies the two-message correction scheme of spec.md §4.4.2 and
// sends the (possibly rewritten) payload.
func (s *Switch) egress(rec *forwardRecord) {
	tEgress := time.Now()
	residence := tEgress.Sub(rec.tIngress)
	payload := rec.payload

	switch {
	case rec.recordSyncResidence:
		s.syncBuffer[rec.outSock] += residence
	case rec.applySyncCorrection:
		extra := s.syncBuffer[rec.outSock]
		delete(s.syncBuffer, rec.outSock)
		base := types.LastField(payload)
		payload = types.RewriteLastField(payload, base+extra.Seconds())
	case rec.needsCorrection:
		base := types.LastField(payload)
		payload = types.RewriteLastField(payload, base+residence.Seconds())
	}

	if _, err := rec.outSock.SendLine(payload); err != nil {
		s.log.Errorf("switch %s: failed egress of %q: %v", s.name, payload, err)
	}
}
