package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/baderanaas/lanchat/pkg/config"
	"github.com/baderanaas/lanchat/pkg/crypto"
	"github.com/baderanaas/lanchat/pkg/event"
	"github.com/baderanaas/lanchat/pkg/executor"
)

func newTestHost(t *testing.T, name string) (*Host, *event.Bus) {
	t.Helper()
	cfg := config.Default()
	cfg.DisplayName = name
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.DialTimeout = 5 * time.Second

	ex := executor.New(context.Background())
	bus := event.NewBus(64)
	h, err := New(ex, bus, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, h.Close())
		_ = ex.Shutdown()
	})
	return h, bus
}

// waitFor drains bus until an event of type T matching accept shows up.
func waitFor[T event.Event](t *testing.T, bus *event.Bus, accept func(T) bool) T {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-bus.Events():
			if typed, ok := ev.(T); ok && accept(typed) {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestNewHost(t *testing.T) {
	h, _ := newTestHost(t, "alice")
	require.NotEmpty(t, h.ID())
	require.NotEmpty(t, h.ListenAddrs())
	require.Len(t, h.P2PAddrs(), len(h.ListenAddrs()))
	require.True(t, strings.Contains(h.P2PAddrs()[0].String(), h.ID().String()))
}

func TestNewHostFailsWithoutListenAddrs(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddrs = []string{"/ip4/203.0.113.1/tcp/1"} // TEST-NET, not local
	ex := executor.New(context.Background())
	defer func() { _ = ex.Shutdown() }()

	_, err := New(ex, event.NewBus(1), cfg)
	require.ErrorIs(t, err, ErrNoListenAddrs)
}

func TestConnectAndIdentify(t *testing.T) {
	alice, aliceBus := newTestHost(t, "alice")
	bob, bobBus := newTestHost(t, "bob")

	info := peer.AddrInfo{ID: bob.ID(), Addrs: bob.ListenAddrs()}
	require.NoError(t, alice.ConnectOrReuse(info, false))

	waitFor(t, aliceBus, func(ev Connected) bool { return ev.Peer == bob.ID() })
	waitFor(t, bobBus, func(ev Connected) bool { return ev.Peer == alice.ID() })

	// An existing connection is reused without queueing a dial
	require.NoError(t, alice.ConnectOrReuse(info, false))

	require.NoError(t, alice.Identify(bob.ID()))
	got := waitFor(t, bobBus, func(ev IdentityReceived) bool { return ev.Peer == alice.ID() })
	require.Equal(t, "alice", got.DisplayName)
	require.NotNil(t, got.Addr)
}

func TestConnectionFailedIsReported(t *testing.T) {
	h, bus := newTestHost(t, "alice")
	_, ghost, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	info := peer.AddrInfo{ID: ghost, Addrs: []multiaddr.Multiaddr{multiaddr.StringCast("/ip4/127.0.0.1/tcp/1")}}
	require.NoError(t, h.ConnectOrReuse(info, false))

	failed := waitFor(t, bus, func(ev ConnectionFailed) bool { return ev.Peer == ghost })
	require.Error(t, failed.Err)

	// The retry inside the backoff window is throttled
	require.ErrorIs(t, h.ConnectOrReuse(info, false), ErrDialThrottled)
}

func TestConnectToSelfIsNoop(t *testing.T) {
	h, _ := newTestHost(t, "alice")
	require.NoError(t, h.ConnectOrReuse(peer.AddrInfo{ID: h.ID(), Addrs: h.ListenAddrs()}, false))
}

func TestParseAddrInfo(t *testing.T) {
	h, _ := newTestHost(t, "alice")
	info, err := ParseAddrInfo(h.P2PAddrs()[0].String())
	require.NoError(t, err)
	require.Equal(t, h.ID(), info.ID)
	require.Len(t, info.Addrs, 1)

	_, err = ParseAddrInfo("not-a-multiaddr")
	require.Error(t, err)
	_, err = ParseAddrInfo("/ip4/127.0.0.1/tcp/4001")
	require.Error(t, err, "an address without /p2p/ cannot be dialed by identity")
}

func TestCleanDisplayName(t *testing.T) {
	require.Equal(t, "alice", cleanDisplayName("  alice\n"))
	require.Equal(t, "bob", cleanDisplayName("b\x1bo\x00b"))
	require.Len(t, []rune(cleanDisplayName(strings.Repeat("é", 100))), maxDisplayName)
}
