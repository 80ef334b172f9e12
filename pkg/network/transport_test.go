package network

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUDPAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "/ip4/0.0.0.0/udp/50999", want: "0.0.0.0:50999"},
		{in: "/ip4/255.255.255.255/udp/50999", want: "255.255.255.255:50999"},
		{in: "/ip4/192.168.1.10/tcp/50999", wantErr: true},
		{in: "192.168.1.10:50999", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUDPAddr(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestUDPTransportLoopback(t *testing.T) {
	tr, err := ListenUDP(context.Background(), "/ip4/127.0.0.1/udp/0", "/ip4/127.0.0.1/udp/50999")
	require.NoError(t, err)
	defer tr.Close()

	local := tr.LocalAddr()
	require.NotZero(t, local.Port())

	require.NoError(t, tr.Send([]byte("TYPE: PING\n\n"), local))
	select {
	case dg := <-tr.Packets():
		assert.Equal(t, "TYPE: PING\n\n", string(dg.Data))
		assert.Equal(t, local, dg.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not received")
	}

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send([]byte("x"), local), ErrTransportClosed)

	// the feed closes once the reader exits
	require.Eventually(t, func() bool {
		_, open := <-tr.Packets()
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryNetwork(t *testing.T) {
	segment := NewMemoryNetwork(50999)
	a, err := segment.Join(netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, err)
	b, err := segment.Join(netip.MustParseAddr("10.0.0.2"))
	require.NoError(t, err)

	_, err = segment.Join(netip.MustParseAddr("10.0.0.1"))
	assert.Error(t, err)

	t.Run("unicast", func(t *testing.T) {
		payload := []byte("hello")
		require.NoError(t, a.Send(payload, b.LocalAddr()))
		payload[0] = 'j'

		dg := <-b.Packets()
		assert.Equal(t, "hello", string(dg.Data), "delivered data is a copy")
		assert.Equal(t, a.LocalAddr(), dg.Source)
	})

	t.Run("broadcast includes sender", func(t *testing.T) {
		require.NoError(t, a.Broadcast([]byte("all")))
		assert.Equal(t, "all", string((<-a.Packets()).Data))
		assert.Equal(t, "all", string((<-b.Packets()).Data))
	})

	t.Run("drop hook", func(t *testing.T) {
		segment.Drop = func(data []byte, dst netip.AddrPort) bool { return dst == b.LocalAddr() }
		defer func() { segment.Drop = nil }()

		require.NoError(t, a.Send([]byte("lost"), b.LocalAddr()))
		select {
		case dg := <-b.Packets():
			t.Fatalf("unexpected datagram %q", dg.Data)
		default:
		}
	})

	t.Run("close", func(t *testing.T) {
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())
		assert.ErrorIs(t, b.Send([]byte("x"), a.LocalAddr()), ErrTransportClosed)

		_, open := <-b.Packets()
		assert.False(t, open)

		// sending to a departed node is silently lost, like UDP
		assert.NoError(t, a.Send([]byte("gone"), b.LocalAddr()))
	})
}

func TestHub(t *testing.T) {
	hub := NewHub()
	first, cancelFirst := hub.Subscribe(4)
	second, cancelSecond := hub.Subscribe(1)
	assert.Equal(t, 2, hub.Subscribers())

	hub.Notify(Notification{Kind: KindPost, Text: "one"})
	hub.Notify(Notification{Kind: KindPost, Text: "two"})

	assert.Equal(t, "one", (<-first).Text)
	assert.Equal(t, "two", (<-first).Text)
	// the slow subscriber kept only what fit in its buffer
	assert.Equal(t, "one", (<-second).Text)
	select {
	case n := <-second:
		t.Fatalf("unexpected notification %q", n.Text)
	default:
	}

	cancelSecond()
	cancelSecond()
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-second
	assert.False(t, open)

	cancelFirst()
	assert.Zero(t, hub.Subscribers())
	hub.Notify(Notification{Kind: KindPost})
}

func TestNotifierFunc(t *testing.T) {
	var got Notification
	var n Notifier = NotifierFunc(func(x Notification) { got = x })
	n.Notify(Notification{Kind: KindFollow, From: alice})
	assert.Equal(t, KindFollow, got.Kind)
	assert.Equal(t, alice, got.From)
}
