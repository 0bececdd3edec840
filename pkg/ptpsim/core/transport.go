package core

import (
	"errors"
	"fmt"
	"net"
)

// ErrNotAdvertiseAddress is returned when a listener is created without an
// address peers can be told to dial back — loopback transport requires an
// advertisable 127.0.0.1 endpoint (spec §6).
var ErrNotAdvertiseAddress = errors.New("ptpsim: listen address is not advertisable")

// ListenTCP binds a TCP listener on bindAddr and reports the address
// downstream peers should dial. advertise must be non-nil: every node in
// this simulator listens on loopback and needs a concrete host:port to
// hand to its children (via the static topology's listen_port), not an
// OS-assigned wildcard.
func ListenTCP(bindAddr string, advertise *net.TCPAddr) (*net.TCPListener, string, error) {
	if advertise == nil {
		return nil, "", ErrNotAdvertiseAddress
	}
	addr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, "", fmt.Errorf("resolving bind address %q: %w", bindAddr, err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listening on %q: %w", bindAddr, err)
	}
	return ln, advertise.String(), nil
}

// DialParent connects to a node's parent at 127.0.0.1:port, per spec §6.
func DialParent(port int) (*FramedConn, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	return NewFramedConn(conn), nil
}
