package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// maxDatagram is the largest UDP payload over IPv4
const maxDatagram = 65507

var ErrBadAddress = errors.New("invalid udp address")

// ParseUDPAddr converts a multiaddr such as /ip4/0.0.0.0/udp/50999 to an address
func ParseUDPAddr(s string) (netip.AddrPort, error) {
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %w", ErrBadAddress, err)
	}
	return udpAddr(ma)
}

func udpAddr(ma multiaddr.Multiaddr) (netip.AddrPort, error) {
	na, err := manet.ToNetAddr(ma)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %w", ErrBadAddress, err)
	}
	ua, ok := na.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w: %s is not a udp address", ErrBadAddress, ma)
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// UDPTransport sends and receives LSNP datagrams on a broadcast-enabled socket
type UDPTransport struct {
	conn      *net.UDPConn
	broadcast netip.AddrPort

	packets   chan Datagram
	done      chan struct{}
	closeOnce sync.Once
}

// ListenUDP binds the listen address with SO_BROADCAST and SO_REUSEADDR set.
// Broadcast sends go to the broadcast address.
func ListenUDP(ctx context.Context, listen, broadcast string) (*UDPTransport, error) {
	laddr, err := ParseUDPAddr(listen)
	if err != nil {
		return nil, fmt.Errorf("listen address: %w", err)
	}
	baddr, err := ParseUDPAddr(broadcast)
	if err != nil {
		return nil, fmt.Errorf("broadcast address: %w", err)
	}

	lc := net.ListenConfig{Control: control}
	pc, err := lc.ListenPacket(ctx, "udp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", laddr, err)
	}

	t := &UDPTransport{
		conn:      pc.(*net.UDPConn),
		broadcast: baddr,
		packets:   make(chan Datagram, 256),
		done:      make(chan struct{}),
	}
	go t.readLoop()

	log.Infof("listening on %s, broadcasting to %s", t.LocalAddr(), baddr)
	return t, nil
}

func (t *UDPTransport) readLoop() {
	defer close(t.packets)

	buf := make([]byte, maxDatagram+1)
	for {
		n, src, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warnf("read error: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		dg := Datagram{
			Data:   data,
			Source: netip.AddrPortFrom(src.Addr().Unmap(), src.Port()),
		}

		select {
		case t.packets <- dg:
		case <-t.done:
			return
		}
	}
}

// Send writes one datagram to dst
func (t *UDPTransport) Send(data []byte, dst netip.AddrPort) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	if _, err := t.conn.WriteToUDPAddrPort(data, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrTransportClosed
		}
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	return nil
}

// Broadcast writes one datagram to the broadcast address
func (t *UDPTransport) Broadcast(data []byte) error {
	return t.Send(data, t.broadcast)
}

// Packets returns the receive feed
func (t *UDPTransport) Packets() <-chan Datagram {
	return t.packets
}

// LocalAddr returns the bound address
func (t *UDPTransport) LocalAddr() netip.AddrPort {
	if ua, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

// Close closes the socket; the packet feed is closed once the reader exits
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
