package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/baderanaas/lanchat/pkg/crypto"
	"github.com/baderanaas/lanchat/pkg/directory"
	"github.com/baderanaas/lanchat/pkg/discovery"
	"github.com/baderanaas/lanchat/pkg/event"
	"github.com/baderanaas/lanchat/pkg/executor"
	"github.com/baderanaas/lanchat/pkg/gossip"
	"github.com/baderanaas/lanchat/pkg/metrics"
	"github.com/baderanaas/lanchat/pkg/transport"
)

type dialCall struct {
	id     peer.ID
	redial bool
}

type fakeTransport struct {
	id peer.ID

	mu         sync.Mutex
	dials      []dialCall
	identifies []peer.ID
	cancelled  []peer.ID
	dialErr    error
}

func (f *fakeTransport) ID() peer.ID                     { return f.id }
func (f *fakeTransport) P2PAddrs() []multiaddr.Multiaddr { return nil }
func (f *fakeTransport) Close() error                    { return nil }

func (f *fakeTransport) ConnectOrReuse(info peer.AddrInfo, redial bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, dialCall{id: info.ID, redial: redial})
	return f.dialErr
}

func (f *fakeTransport) Identify(id peer.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identifies = append(f.identifies, id)
	return nil
}

func (f *fakeTransport) CancelPeer(id peer.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeTransport) dialCalls() []dialCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dialCall(nil), f.dials...)
}

type fakeGossip struct {
	self peer.ID

	mu         sync.Mutex
	admitted   map[peer.ID]bool
	refused    map[peer.ID]bool
	removed    []peer.ID
	publishErr error
	published  [][]byte
}

func newFakeGossip(self peer.ID) *fakeGossip {
	return &fakeGossip{self: self, admitted: map[peer.ID]bool{}, refused: map[peer.ID]bool{}}
}

func (f *fakeGossip) CreateTopic(name string) (gossip.TopicHandle, error) {
	return gossip.Handle(name), nil
}

func (f *fakeGossip) Subscribe(gossip.TopicHandle) error { return nil }

func (f *fakeGossip) Publish(h gossip.TopicHandle, payload []byte) (gossip.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return gossip.Message{}, f.publishErr
	}
	f.published = append(f.published, payload)
	return gossip.Message{
		Fingerprint:  crypto.Fingerprint(payload),
		Topic:        h.Name(),
		Sender:       f.self,
		Payload:      payload,
		ReceivedFrom: f.self,
		ReceivedAt:   time.Now(),
		Local:        true,
	}, nil
}

func (f *fakeGossip) AddExplicitPeer(id peer.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admitted[id] = true
	redial := f.refused[id]
	delete(f.refused, id)
	return redial
}

func (f *fakeGossip) RemoveExplicitPeer(id peer.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.admitted, id)
	f.refused[id] = true
	f.removed = append(f.removed, id)
}

func (f *fakeGossip) isAdmitted(id peer.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admitted[id]
}

func (f *fakeGossip) Stats() gossip.Stats { return gossip.Stats{} }
func (f *fakeGossip) Close() error        { return nil }

type fixture struct {
	s         *Session
	transport *fakeTransport
	gossip    *fakeGossip
}

func newPeerID(t *testing.T) peer.ID {
	t.Helper()
	_, id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	return id
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	self := newPeerID(t)
	ft := &fakeTransport{id: self}
	fg := newFakeGossip(self)

	ex := executor.New(context.Background())
	s := newSession(ex, event.NewBus(16), ft, fg, metrics.New(nil), "me")
	s.start(nil)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return &fixture{s: s, transport: ft, gossip: fg}
}

// inject hands ev to the loop the way a subsystem would.
func (f *fixture) inject(t *testing.T, ev event.Event) {
	t.Helper()
	require.True(t, f.s.bus.Emit(context.Background(), ev))
}

// sync waits until every event injected so far has been handled.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	_, err := f.s.RequestCreateTopic(context.Background(), "sync")
	require.NoError(t, err)
}

func addrInfo(id peer.ID) peer.AddrInfo {
	return peer.AddrInfo{ID: id, Addrs: []multiaddr.Multiaddr{multiaddr.StringCast("/ip4/192.168.1.30/tcp/4001")}}
}

func TestPublishRecordsLocalMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.s.RequestCreateTopic(ctx, "general")
	require.NoError(t, err)
	require.NoError(t, f.s.RequestPublish(ctx, h, "hello"))

	msgs := f.s.SnapshotMessages()
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text)
	require.Equal(t, "general", msgs[0].Topic)
	require.Equal(t, "me", msgs[0].SenderDisplay)
	require.True(t, msgs[0].Local)
}

func TestPublishErrorLeavesLogUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gossip.mu.Lock()
	f.gossip.publishErr = gossip.ErrNoSubscribers
	f.gossip.mu.Unlock()

	h, err := f.s.RequestCreateTopic(ctx, "general")
	require.NoError(t, err)
	require.ErrorIs(t, f.s.RequestPublish(ctx, h, "hello"), gossip.ErrNoSubscribers)
	require.Empty(t, f.s.SnapshotMessages())
}

func TestPublishUnknownTopic(t *testing.T) {
	f := newFixture(t)
	err := f.s.RequestPublish(context.Background(), gossip.Handle("nowhere"), "hello")
	require.ErrorIs(t, err, gossip.ErrUnknownTopic)
}

func TestSubscribeTracksJoinedSeparately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.s.RequestCreateTopic(ctx, "mine")
	require.NoError(t, err)
	h, err := f.s.RequestSubscribe(ctx, "theirs")
	require.NoError(t, err)
	require.Equal(t, "theirs", h.Name())

	topics := f.s.Topics()
	require.Equal(t, []string{"mine"}, topics.Created)
	require.Equal(t, []string{"theirs"}, topics.Joined)

	// A joined topic can be published to even though it was created elsewhere
	require.NoError(t, f.s.RequestPublish(ctx, h, "hi"))
}

func TestDuplicateFingerprintIsLoggedOnce(t *testing.T) {
	f := newFixture(t)
	sender := newPeerID(t)
	m := gossip.Message{
		Fingerprint: crypto.Fingerprint([]byte("hello")),
		Topic:       "general",
		Sender:      sender,
		Payload:     []byte("hello"),
	}

	f.inject(t, gossip.MessageReceived{Message: m})
	m.ReceivedFrom = newPeerID(t)
	f.inject(t, gossip.MessageReceived{Message: m})
	f.sync(t)

	msgs := f.s.SnapshotMessages()
	require.Len(t, msgs, 1)
	require.Equal(t, directory.ShortID(sender), msgs[0].SenderDisplay)
}

func TestPeerAppearedAdmitsAndDials(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)

	f.inject(t, discovery.PeerAppeared{Info: addrInfo(p)})
	f.sync(t)

	require.True(t, f.gossip.isAdmitted(p))
	require.Equal(t, []dialCall{{id: p}}, f.transport.dialCalls())
	peers := f.s.SnapshotPeers()
	require.Len(t, peers, 1)
	require.Equal(t, p, peers[0].ID)
	require.NotNil(t, peers[0].Address)
	require.Empty(t, peers[0].DisplayName)
}

func TestPeerExpiredRemovesFromGossipImmediately(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)

	f.inject(t, discovery.PeerAppeared{Info: addrInfo(p)})
	f.inject(t, discovery.PeerExpired{ID: p})
	f.sync(t)

	require.False(t, f.gossip.isAdmitted(p))
	require.Empty(t, f.s.SnapshotPeers())
	f.transport.mu.Lock()
	require.Equal(t, []peer.ID{p}, f.transport.cancelled)
	f.transport.mu.Unlock()

	// Reappearing re-admits and asks for a fresh connection
	f.inject(t, discovery.PeerAppeared{Info: addrInfo(p)})
	f.sync(t)
	require.True(t, f.gossip.isAdmitted(p))
	dials := f.transport.dialCalls()
	require.Equal(t, dialCall{id: p, redial: true}, dials[len(dials)-1])
}

func TestUnreachablePeerIsRetriedOnRefresh(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)

	f.inject(t, discovery.PeerAppeared{Info: addrInfo(p)})
	f.inject(t, discovery.PeerRefreshed{Info: addrInfo(p)})
	f.sync(t)
	require.Len(t, f.transport.dialCalls(), 1, "a reachable peer is not redialed on refresh")

	f.inject(t, transport.ConnectionFailed{Peer: p, Err: context.DeadlineExceeded})
	f.inject(t, discovery.PeerRefreshed{Info: addrInfo(p)})
	f.sync(t)
	require.Len(t, f.transport.dialCalls(), 2)
}

func TestConnectedTriggersIdentifyOnce(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)

	f.inject(t, transport.Connected{Peer: p})
	f.inject(t, transport.Connected{Peer: p})
	f.sync(t)
	f.transport.mu.Lock()
	require.Equal(t, []peer.ID{p}, f.transport.identifies)
	f.transport.mu.Unlock()

	f.inject(t, transport.Disconnected{Peer: p})
	f.inject(t, transport.Connected{Peer: p})
	f.sync(t)
	f.transport.mu.Lock()
	require.Len(t, f.transport.identifies, 2)
	f.transport.mu.Unlock()
}

func TestIdentityReceivedNamesPeer(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)
	addr := multiaddr.StringCast("/ip4/192.168.1.40/tcp/5000")

	f.inject(t, discovery.PeerAppeared{Info: addrInfo(p)})
	f.inject(t, gossip.MessageReceived{Message: gossip.Message{
		Fingerprint: "fp", Topic: "general", Sender: p, Payload: []byte("hi"),
	}})
	f.inject(t, transport.IdentityReceived{Peer: p, DisplayName: "bob", Addr: addr})
	f.sync(t)

	peers := f.s.SnapshotPeers()
	require.Len(t, peers, 1)
	require.Equal(t, "bob", peers[0].DisplayName)
	require.True(t, addr.Equal(peers[0].Address))
	require.True(t, f.gossip.isAdmitted(p))

	// Names learned later apply to messages already logged
	require.Equal(t, "bob", f.s.SnapshotMessages()[0].SenderDisplay)
}

func TestSnapshotIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h, err := f.s.RequestCreateTopic(ctx, "general")
	require.NoError(t, err)
	require.NoError(t, f.s.RequestPublish(ctx, h, "one"))

	before := f.s.SnapshotMessages()
	require.NoError(t, f.s.RequestPublish(ctx, h, "two"))
	require.Len(t, before, 1, "a snapshot never grows")
	require.Len(t, f.s.SnapshotMessages(), 2)
}

func TestRequestsAfterCloseFail(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.Close())
	<-f.s.Done()

	_, err := f.s.RequestCreateTopic(context.Background(), "general")
	require.ErrorIs(t, err, ErrClosed)
}

func TestRequestConnectAdmitsPeer(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)

	err := f.s.RequestConnect(context.Background(), "/ip4/192.168.1.50/tcp/4001/p2p/"+p.String())
	require.NoError(t, err)
	require.True(t, f.gossip.isAdmitted(p))
	require.Equal(t, []dialCall{{id: p}}, f.transport.dialCalls())

	require.Error(t, f.s.RequestConnect(context.Background(), "/ip4/192.168.1.50/tcp/4001"))
}

func TestIdentityFromStrangerIsNotAdmitted(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)

	f.inject(t, transport.Connected{Peer: p})
	f.inject(t, transport.IdentityReceived{Peer: p, DisplayName: "carol"})
	f.sync(t)
	require.False(t, f.gossip.isAdmitted(p))
	require.Empty(t, f.s.SnapshotPeers())

	// Dialling it from here vouches for it and keeps the name it sent
	err := f.s.RequestConnect(context.Background(), "/ip4/192.168.1.60/tcp/4001/p2p/"+p.String())
	require.NoError(t, err)
	require.True(t, f.gossip.isAdmitted(p))
	peers := f.s.SnapshotPeers()
	require.Len(t, peers, 1)
	require.Equal(t, "carol", peers[0].DisplayName)
}

func TestExpiredPeerStaysOutUntilRediscovered(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)

	f.inject(t, discovery.PeerAppeared{Info: addrInfo(p)})
	f.inject(t, discovery.PeerExpired{ID: p})
	f.inject(t, transport.Connected{Peer: p})
	f.inject(t, transport.IdentityReceived{Peer: p, DisplayName: "dave"})
	f.sync(t)
	require.False(t, f.gossip.isAdmitted(p), "an identify alone never re-admits")
	require.Empty(t, f.s.SnapshotPeers())

	f.inject(t, discovery.PeerAppeared{Info: addrInfo(p)})
	f.sync(t)
	require.True(t, f.gossip.isAdmitted(p))
	peers := f.s.SnapshotPeers()
	require.Len(t, peers, 1)
	require.Equal(t, "dave", peers[0].DisplayName)
}

func TestDisconnectForgetsHeldIdentity(t *testing.T) {
	f := newFixture(t)
	p := newPeerID(t)

	f.inject(t, transport.IdentityReceived{Peer: p, DisplayName: "erin"})
	f.inject(t, transport.Disconnected{Peer: p})
	f.inject(t, discovery.PeerAppeared{Info: addrInfo(p)})
	f.sync(t)

	peers := f.s.SnapshotPeers()
	require.Len(t, peers, 1)
	require.Empty(t, peers[0].DisplayName)
}
