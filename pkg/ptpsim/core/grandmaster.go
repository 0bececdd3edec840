package core

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/types"
)

// GrandMaster is the root of the tree: the single authoritative time
// source, driving one sync/follow-up/delay-request/delay-response round
// every SyncPeriod (spec.md §4.2).
type GrandMaster struct {
	name       string
	listenPort int
	children   []string
	numSlaves  int

	syncPeriod         time.Duration
	startupDelay       time.Duration
	followUpSeparation time.Duration

	log     types.Logger
	invoker Invoker

	downstream []*FramedConn
}

// NewGrandMaster builds a GrandMaster from its topology entry and the
// shared simulation parameters.
func NewGrandMaster(cfg *types.NodeConfig, topo *types.Topology, log types.Logger) *GrandMaster {
	return &GrandMaster{
		name:               cfg.Name,
		listenPort:         cfg.ListenPort,
		children:           append([]string(nil), cfg.Children...),
		numSlaves:          cfg.NumSlaves,
		syncPeriod:         topo.SyncPeriod,
		startupDelay:       topo.StartupDelay,
		followUpSeparation: topo.FollowUpSeparation,
		log:                log,
		invoker:            InvokerInstance(),
	}
}

// Run performs the grandmaster's startup handshake and then executes
// protocol rounds forever, until ctx is cancelled or a transport error
// terminates the node.
func (g *GrandMaster) Run(ctx context.Context) error {
	ln, advertise, err := ListenTCP(fmt.Sprintf(":%d", g.listenPort), &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: g.listenPort})
	if err != nil {
		return fmt.Errorf("grandmaster %s: %w", g.name, err)
	}
	defer ln.Close()
	g.log.Infof("grandmaster %s listening on %s, awaiting %d children", g.name, advertise, len(g.children))

	for i := 0; i < len(g.children); i++ {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("grandmaster %s: accept: %w", g.name, err)
		}
		fc := NewFramedConn(conn)
		if _, _, err := fc.RecvMessage(); err != nil {
			return fmt.Errorf("grandmaster %s: reading child announcement: %w", g.name, err)
		}
		g.downstream = append(g.downstream, fc)
	}
	g.log.Infof("grandmaster %s connected with all %d children", g.name, len(g.children))

	closeOnCancel(ctx, g.invoker, g.downstream...)
	defer func() {
		for _, ds := range g.downstream {
			ds.Close()
		}
	}()

	select {
	case <-time.After(g.startupDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	inbound := make(chan inboundMessage, 16)
	for i, ds := range g.downstream {
		spawnReader(ctx, g.invoker, ds, fmt.Sprintf("down:%d", i), inbound)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := g.round(ctx, inbound); err != nil {
			return err
		}
		select {
		case <-time.After(g.syncPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type delayRequest struct {
	slave      string
	correction string
	t4         float64
}

// round executes one full protocol round: sync/follow-up on every link,
// collect exactly numSlaves delay requests, then batch-emit delay
// responses on every downstream link (spec §4.2 "Steady state").
func (g *GrandMaster) round(ctx context.Context, inbound chan inboundMessage) error {
	for _, ds := range g.downstream {
		t1, err := ds.SendLine(types.FormatSync())
		if err != nil {
			return fmt.Errorf("grandmaster %s: sending sync: %w", g.name, err)
		}

		select {
		case <-time.After(g.followUpSeparation):
		case <-ctx.Done():
			return ctx.Err()
		}

		if _, err := ds.SendLine(types.FormatFollowUp(types.UnixSeconds(t1), 0)); err != nil {
			return fmt.Errorf("grandmaster %s: sending follow_up: %w", g.name, err)
		}
	}

	requests, err := g.collectDelayRequests(ctx, inbound)
	if err != nil {
		return err
	}
	g.log.Debugf("grandmaster %s: round collected %d delay requests", g.name, len(requests))

	for _, ds := range g.downstream {
		for _, r := range requests {
			line := fmt.Sprintf("%s %s %s %s", types.KindDelayResp, r.slave, types.FormatFloat(r.t4), r.correction)
			if _, err := ds.SendLine(line); err != nil {
				return fmt.Errorf("grandmaster %s: sending delay_resp: %w", g.name, err)
			}
		}
	}
	return nil
}

// collectDelayRequests blocks, with no timeout (spec §4.2 "Failure
// semantics" — a round that doesn't reach numSlaves requests blocks until
// it does), until exactly numSlaves delay_req messages have arrived
// across every downstream link. Requests are kept in arrival order, which
// becomes the batch order for delay_resp (spec's ordering guarantees).
func (g *GrandMaster) collectDelayRequests(ctx context.Context, inbound chan inboundMessage) ([]delayRequest, error) {
	requests := make([]delayRequest, 0, g.numSlaves)
	for len(requests) < g.numSlaves {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case in := <-inbound:
			if in.err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("grandmaster %s: %s link: %w", g.name, in.tag, in.err)
			}
			if types.Kind(in.line) != types.KindDelayReq {
				continue
			}
			requests = append(requests, delayRequest{
				slave:      types.Field(in.line, 1),
				correction: types.Field(in.line, 2),
				t4:         types.UnixSeconds(in.t),
			})
		}
	}
	return requests, nil
}
