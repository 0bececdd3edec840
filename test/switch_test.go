package test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/core"
	"github.com/jabolina/go-ptpsim/pkg/ptpsim/types"
)

// fakeParent accepts a single switch connection, reads its upstream
// announcement, and returns a FramedConn the test drives directly —
// mirroring the teacher's tcp_transport_test.go style of testing the
// transport boundary with bare sockets rather than the full node.
func fakeParent(t *testing.T, port int) (ln net.Listener, accept func() (*core.FramedConn, string)) {
	t.Helper()
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln, func() (*core.FramedConn, string) {
		conn, err := ln.Accept()
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		fc := core.NewFramedConn(conn)
		_, announcement, err := fc.RecvMessage()
		if err != nil {
			t.Fatalf("reading announcement: %v", err)
		}
		return fc, announcement
	}
}

func fakeChild(t *testing.T, port int, name string) *core.FramedConn {
	t.Helper()
	fc, err := core.DialParent(port)
	if err != nil {
		t.Fatalf("dialing switch: %v", err)
	}
	if _, err := fc.SendLine(name); err != nil {
		t.Fatalf("sending announcement: %v", err)
	}
	return fc
}

// Test_Switch_AnnouncementUnion verifies a switch's upstream announcement
// names exactly the union of its children's announced slave sets (spec
// §4.4 "Startup").
func Test_Switch_AnnouncementUnion(t *testing.T) {
	defer goleak.VerifyNone(t)

	parentPort := 21200
	switchPort := 21201
	ln, accept := fakeParent(t, parentPort)
	defer ln.Close()

	invoker := NewInvoker()
	core.SetInvoker(invoker)
	cfg := &types.NodeConfig{Name: "A", Role: types.RoleSwitch, ListenPort: switchPort, Children: []string{"B", "C"}}
	sw := core.NewSwitch(cfg, parentPort, NewTestLogger(), time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	invoker.Spawn(func() {
		_ = sw.Run(ctx)
	})

	childB := fakeChild(t, switchPort, "D E")
	defer childB.Close()
	childC := fakeChild(t, switchPort, "F")
	defer childC.Close()

	upstream, announcement := accept()
	defer upstream.Close()

	names := map[string]bool{}
	for _, f := range types.Fields(announcement) {
		names[f] = true
	}
	for _, want := range []string{"D", "E", "F"} {
		if !names[want] {
			t.Errorf("expected announcement to include %s, got %q", want, announcement)
		}
	}
	if len(names) != 3 {
		t.Errorf("expected announcement to name exactly D, E and F, got %q", announcement)
	}

	cancel()
	if !WaitThisOrTimeout(invoker.Wait, 5*time.Second) {
		t.Error("switch goroutine leaked")
		PrintStackTrace(t)
	}
}

// Test_Switch_DelayRespRoutesToNamedChild verifies a delay_resp is
// delivered only to the downstream link whose subtree contains the named
// slave (spec §4.4 "routing").
func Test_Switch_DelayRespRoutesToNamedChild(t *testing.T) {
	defer goleak.VerifyNone(t)

	parentPort := 21210
	switchPort := 21211
	ln, accept := fakeParent(t, parentPort)
	defer ln.Close()

	invoker := NewInvoker()
	core.SetInvoker(invoker)
	cfg := &types.NodeConfig{Name: "A", Role: types.RoleSwitch, ListenPort: switchPort, Children: []string{"B", "C"}}
	sw := core.NewSwitch(cfg, parentPort, NewTestLogger(), time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	invoker.Spawn(func() {
		_ = sw.Run(ctx)
	})

	childB := fakeChild(t, switchPort, "B")
	defer childB.Close()
	childC := fakeChild(t, switchPort, "C")
	defer childC.Close()

	upstream, _ := accept()
	defer upstream.Close()

	if _, err := upstream.SendLine(types.KindDelayResp + " C 123.456 0.0"); err != nil {
		t.Fatalf("sending delay_resp: %v", err)
	}

	if !WaitThisOrTimeout(func() {
		_, line, err := childC.RecvMessage()
		if err != nil {
			t.Fatalf("C did not receive its delay_resp: %v", err)
		}
		if types.Field(line, 1) != "C" {
			t.Fatalf("expected delay_resp for C, got %q", line)
		}
	}, 2*time.Second) {
		t.Fatal("timed out waiting for C's delay_resp")
	}

	// Forwarding exclusivity (spec §8): a delay_resp naming C must never
	// reach B's link.
	assertNoMessage(t, childB, 200*time.Millisecond)

	cancel()
	if !WaitThisOrTimeout(invoker.Wait, 5*time.Second) {
		t.Error("switch goroutine leaked")
		PrintStackTrace(t)
	}
}

// Test_Switch_MultiMessageRead verifies spec §8 scenario 6: two delay_req
// messages concatenated into a single TCP read are both forwarded
// upstream, in arrival order, each carrying its own independently-sampled
// residence correction rather than sharing one.
func Test_Switch_MultiMessageRead(t *testing.T) {
	defer goleak.VerifyNone(t)

	parentPort := 21220
	switchPort := 21221
	ln, accept := fakeParent(t, parentPort)
	defer ln.Close()

	invoker := NewInvoker()
	core.SetInvoker(invoker)
	cfg := &types.NodeConfig{Name: "A", Role: types.RoleSwitch, ListenPort: switchPort, Children: []string{"B"}}
	sw := core.NewSwitch(cfg, parentPort, NewTestLogger(), time.Millisecond, 2*time.Millisecond)

	var residenceCalls int
	sw.SetResidenceSampler(func() time.Duration {
		residenceCalls++
		return time.Duration(residenceCalls) * 20 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	invoker.Spawn(func() {
		_ = sw.Run(ctx)
	})

	childConn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", switchPort))
	if err != nil {
		t.Fatalf("dialing switch: %v", err)
	}
	defer childConn.Close()
	if _, err := childConn.Write([]byte("X\n")); err != nil {
		t.Fatalf("sending announcement: %v", err)
	}

	upstream, _ := accept()
	defer upstream.Close()

	// Both delay_req lines land in the same Write, so the switch must
	// reassemble and forward them from a single underlying TCP read.
	batch := types.FormatDelayReq("X", 0) + "\n" + types.FormatDelayReq("X", 0) + "\n"
	if _, err := childConn.Write([]byte(batch)); err != nil {
		t.Fatalf("sending batched delay_req: %v", err)
	}

	var lines [2]string
	if !WaitThisOrTimeout(func() {
		for i := range lines {
			_, line, err := upstream.RecvMessage()
			if err != nil {
				t.Fatalf("reading forwarded delay_req %d: %v", i, err)
			}
			lines[i] = line
		}
	}, 2*time.Second) {
		t.Fatal("timed out waiting for both forwarded delay_req messages")
	}

	for i, line := range lines {
		if types.Kind(line) != types.KindDelayReq {
			t.Fatalf("message %d: expected delay_req, got %q", i, line)
		}
	}

	corr0 := parseCorrection(t, lines[0])
	corr1 := parseCorrection(t, lines[1])
	if corr0 == corr1 {
		t.Fatalf("expected independently-sampled residence corrections, got equal values %v and %v", corr0, corr1)
	}
	if corr0 >= corr1 {
		t.Fatalf("expected corrections in ingress order (first < second), got %v then %v", corr0, corr1)
	}

	cancel()
	if !WaitThisOrTimeout(invoker.Wait, 5*time.Second) {
		t.Error("switch goroutine leaked")
		PrintStackTrace(t)
	}
}

func parseCorrection(t *testing.T, line string) float64 {
	t.Helper()
	return types.LastField(line)
}

// assertNoMessage fails the test if a message arrives on fc within within.
func assertNoMessage(t *testing.T, fc *core.FramedConn, within time.Duration) {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		_, line, err := fc.RecvMessage()
		got <- result{line, err}
	}()
	select {
	case r := <-got:
		t.Fatalf("expected no message on this link, got %q (err=%v)", r.line, r.err)
	case <-time.After(within):
	}
}
