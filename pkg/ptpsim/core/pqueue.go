package core

import (
	"container/heap"
	"time"
)

// forwardRecord is one scheduled egress, matching the pending-forward
// queue entry shape of spec.md §3: a deadline, a monotonic sequence
// number breaking ties FIFO, the outgoing socket, the (possibly later
// corrected) payload, the ingress time needed to compute residence at
// egress, and the three correction flags from the classification table in
// §4.4.
type forwardRecord struct {
	deadline time.Time
	seq      uint64

	outSock  *FramedConn
	payload  string
	tIngress time.Time

	needsCorrection     bool
	recordSyncResidence bool
	applySyncCorrection bool
}

// pendingQueue is a container/heap min-priority queue ordered by deadline,
// then by seq. It realizes the single compact priority queue described in
// spec.md §9 ("a single priority queue is a compact representation that
// still enforces per-link order") in place of one FIFO queue per link.
type pendingQueue []*forwardRecord

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q pendingQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pendingQueue) Push(x interface{}) {
	*q = append(*q, x.(*forwardRecord))
}

func (q *pendingQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*pendingQueue)(nil)
