package core

import (
	"context"
	"time"
)

// inboundMessage is one line-framed message that arrived on a tagged
// socket, posted onto a node's shared inbound channel by a per-socket
// reader goroutine. This is the idiomatic Go stand-in for the select(2)
// readiness wait described in spec.md §5: instead of blocking on a set of
// file descriptors, each socket gets its own goroutine feeding a shared
// channel, and the node's event loop selects over that channel plus a
// deadline timer.
type inboundMessage struct {
	tag  string
	sock *FramedConn
	t    time.Time
	line string
	err  error
}

// spawnReader continuously reads framed messages from sock and posts them
// to out tagged with tag, until RecvMessage fails (the final message
// carries the error) or ctx is cancelled. It never closes sock or out.
func spawnReader(ctx context.Context, invoker Invoker, sock *FramedConn, tag string, out chan<- inboundMessage) {
	invoker.Spawn(func() {
		for {
			t, line, err := sock.RecvMessage()
			msg := inboundMessage{tag: tag, sock: sock, t: t, line: line, err: err}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	})
}

// closeOnCancel spawns a goroutine that closes every conn as soon as ctx
// is done. RecvMessage has no ctx-awareness of its own, so a socket
// blocked mid-read would otherwise hang past cancellation forever; this
// is what actually unblocks it, for both a node's own blocking calls and
// the per-socket spawnReader goroutines reading on its behalf.
func closeOnCancel(ctx context.Context, invoker Invoker, conns ...*FramedConn) {
	invoker.Spawn(func() {
		<-ctx.Done()
		for _, c := range conns {
			c.Close()
		}
	})
}
