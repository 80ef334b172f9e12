package network

import (
	"fmt"
	"net/netip"
	"sync"
)

// MemoryNetwork is an in-process broadcast segment. All transports joined to
// it share one port, like peers on a LAN.
type MemoryNetwork struct {
	port uint16

	// Drop, when set, decides whether a datagram to dst is lost
	Drop func(data []byte, dst netip.AddrPort) bool

	nodes map[netip.AddrPort]*MemoryTransport
	mu    sync.RWMutex
}

// NewMemoryNetwork creates an empty segment
func NewMemoryNetwork(port uint16) *MemoryNetwork {
	return &MemoryNetwork{
		port:  port,
		nodes: make(map[netip.AddrPort]*MemoryTransport),
	}
}

// Join attaches a transport bound to addr
func (n *MemoryNetwork) Join(addr netip.Addr) (*MemoryTransport, error) {
	ap := netip.AddrPortFrom(addr, n.port)

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.nodes[ap]; taken {
		return nil, fmt.Errorf("address %s already in use", ap)
	}

	t := &MemoryTransport{
		net:     n,
		addr:    ap,
		packets: make(chan Datagram, 4096),
	}
	n.nodes[ap] = t
	return t, nil
}

func (n *MemoryNetwork) leave(t *MemoryTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[t.addr] == t {
		delete(n.nodes, t.addr)
	}
}

func (n *MemoryNetwork) deliver(data []byte, src, dst netip.AddrPort) {
	if n.Drop != nil && n.Drop(data, dst) {
		return
	}

	n.mu.RLock()
	t, ok := n.nodes[dst]
	n.mu.RUnlock()
	if !ok {
		return
	}
	t.enqueue(Datagram{Data: append([]byte(nil), data...), Source: src})
}

// MemoryTransport is one endpoint on a MemoryNetwork
type MemoryTransport struct {
	net  *MemoryNetwork
	addr netip.AddrPort

	packets chan Datagram
	mu      sync.RWMutex
	closed  bool
}

func (t *MemoryTransport) enqueue(dg Datagram) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.packets <- dg:
	default:
		log.Warnf("memory transport %s: queue full, dropping datagram", t.addr)
	}
}

// Send delivers data to dst if a transport is bound there
func (t *MemoryTransport) Send(data []byte, dst netip.AddrPort) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	t.net.deliver(data, t.addr, dst)
	return nil
}

// Broadcast delivers data to every transport on the network, including this one
func (t *MemoryTransport) Broadcast(data []byte) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.net.mu.RLock()
	targets := make([]netip.AddrPort, 0, len(t.net.nodes))
	for ap := range t.net.nodes {
		targets = append(targets, ap)
	}
	t.net.mu.RUnlock()

	for _, dst := range targets {
		t.net.deliver(data, t.addr, dst)
	}
	return nil
}

// Packets returns the receive feed
func (t *MemoryTransport) Packets() <-chan Datagram {
	return t.packets
}

// LocalAddr returns the bound address
func (t *MemoryTransport) LocalAddr() netip.AddrPort {
	return t.addr
}

// Close detaches the transport and closes its feed
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.net.leave(t)
	close(t.packets)
	return nil
}

func (t *MemoryTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
