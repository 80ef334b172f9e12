// Package network runs an LSNP peer: it moves datagrams through a Transport,
// dispatches inbound messages to the directory, game and file engines and
// exposes one command per user action.
package network

import (
	"errors"
	"net/netip"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("lsnp/network")

var ErrTransportClosed = errors.New("transport closed")

// Datagram is one received packet and the address it came from
type Datagram struct {
	Data   []byte
	Source netip.AddrPort
}

// Transport is an unreliable, connectionless datagram carrier.
// Packets is closed when the transport shuts down.
type Transport interface {
	// Send delivers data to one address
	Send(data []byte, dst netip.AddrPort) error
	// Broadcast delivers data to every peer on the segment, including the sender
	Broadcast(data []byte) error
	// Packets is the feed of received datagrams
	Packets() <-chan Datagram
	// LocalAddr is the address the transport is bound to
	LocalAddr() netip.AddrPort
	Close() error
}
