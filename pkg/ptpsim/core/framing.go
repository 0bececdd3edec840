package core

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// FramedConn is the timestamped, line-framed stream abstraction described
// in spec.md §4.1. Each socket owns a private buffer for undrained bytes;
// RecvMessage blocks until a full '\n'-terminated message is available and
// returns the local wall-clock time at which it resolved. A single TCP
// read can return multiple concatenated messages or a partial one — the
// buffered reader reassembles across calls so callers only ever see one
// message per RecvMessage.
type FramedConn struct {
	conn   net.Conn
	reader *bufio.Reader

	sendMu sync.Mutex
}

// NewFramedConn wraps an established connection for line-framed I/O.
func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// RecvMessage blocks until one newline-terminated message is available. It
// returns the message with its terminator stripped and the local time it
// arrived. Any error (including the peer closing mid-message) is
// unrecoverable for the caller: the socket should be considered dead.
func (f *FramedConn) RecvMessage() (time.Time, string, error) {
	line, err := f.reader.ReadString('\n')
	t := time.Now()
	if err != nil {
		return t, "", err
	}
	return t, strings.TrimRight(line, "\n"), nil
}

// SendLine writes line followed by a single newline terminator and
// returns the local time the write completed. Concurrent sends on the
// same socket never interleave.
func (f *FramedConn) SendLine(line string) (time.Time, error) {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()
	_, err := io.WriteString(f.conn, line+"\n")
	return time.Now(), err
}

// Close closes the underlying socket.
func (f *FramedConn) Close() error {
	return f.conn.Close()
}

// RemoteAddr reports the address of the peer on the other end.
func (f *FramedConn) RemoteAddr() net.Addr {
	return f.conn.RemoteAddr()
}
