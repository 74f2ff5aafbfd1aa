package gossip

import (
	"testing"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/baderanaas/lanchat/pkg/crypto"
)

func newSigner(t *testing.T) (ic.PrivKey, peer.ID) {
	t.Helper()
	key, id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	return key, id
}

func pubsubMessage(t *testing.T, author peer.ID, f Frame) *pubsub.Message {
	t.Helper()
	data, err := f.Encode()
	require.NoError(t, err)
	return &pubsub.Message{Message: &pb.Message{Data: data, From: []byte(author)}}
}

func TestFrameRoundTripVerifies(t *testing.T) {
	key, id := newSigner(t)
	f, err := NewFrame(key, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, crypto.Fingerprint([]byte("hello")), f.ID)

	data, err := f.Encode()
	require.NoError(t, err)
	decoded, err := DecodeFrame(data)
	require.NoError(t, err)
	require.NoError(t, decoded.Verify(id))
}

func TestFrameRejectsForgedSender(t *testing.T) {
	key, _ := newSigner(t)
	_, impostor := newSigner(t)
	f, err := NewFrame(key, []byte("hello"))
	require.NoError(t, err)
	require.ErrorIs(t, f.Verify(impostor), crypto.ErrBadSignature)
}

func TestFrameRejectsMismatchedID(t *testing.T) {
	key, id := newSigner(t)
	f, err := NewFrame(key, []byte("hello"))
	require.NoError(t, err)
	f.ID = crypto.Fingerprint([]byte("goodbye"))
	require.ErrorIs(t, f.Verify(id), ErrFingerprintMismatch)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte("not json"))
	require.ErrorIs(t, err, ErrMalformedFrame)
	_, err = DecodeFrame([]byte(`{"payload":"aGk="}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestMessageIDIsPayloadFingerprint(t *testing.T) {
	alice, _ := newSigner(t)
	bob, _ := newSigner(t)

	fa, err := NewFrame(alice, []byte("same text"))
	require.NoError(t, err)
	fb, err := NewFrame(bob, []byte("same text"))
	require.NoError(t, err)

	da, _ := fa.Encode()
	db, _ := fb.Encode()
	require.NotEqual(t, da, db)
	require.Equal(t, messageID(&pb.Message{Data: da}), messageID(&pb.Message{Data: db}))
	require.Equal(t, crypto.Fingerprint([]byte("raw")), messageID(&pb.Message{Data: []byte("raw")}))
}

func TestValidateFrame(t *testing.T) {
	self := newPeerID(t)
	key, author := newSigner(t)
	relay := newPeerID(t)
	a := NewAdmission(self, alwaysConnected)
	a.Admit(relay)

	good, err := NewFrame(key, []byte("hi"))
	require.NoError(t, err)

	t.Run("accepts a signed frame from an admitted relay", func(t *testing.T) {
		msg := pubsubMessage(t, author, good)
		require.Equal(t, pubsub.ValidationAccept, validateFrame(a, relay, msg))
		require.Equal(t, good.ID, msg.ValidatorData.(Frame).ID)
	})

	t.Run("ignores propagation from a non-participant", func(t *testing.T) {
		msg := pubsubMessage(t, author, good)
		require.Equal(t, pubsub.ValidationIgnore, validateFrame(a, newPeerID(t), msg))
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		_, impostor := newSigner(t)
		msg := pubsubMessage(t, impostor, good)
		require.Equal(t, pubsub.ValidationReject, validateFrame(a, relay, msg))
	})

	t.Run("rejects a mismatched id", func(t *testing.T) {
		bad := good
		bad.ID = crypto.Fingerprint([]byte("other"))
		msg := pubsubMessage(t, author, bad)
		require.Equal(t, pubsub.ValidationReject, validateFrame(a, relay, msg))
	})

	t.Run("rejects data that is not a frame", func(t *testing.T) {
		msg := &pubsub.Message{Message: &pb.Message{Data: []byte("nope"), From: []byte(author)}}
		require.Equal(t, pubsub.ValidationReject, validateFrame(a, relay, msg))
	})
}

func TestToMessageUsesValidatorData(t *testing.T) {
	key, author := newSigner(t)
	relay := newPeerID(t)
	f, err := NewFrame(key, []byte("hi"))
	require.NoError(t, err)

	msg := pubsubMessage(t, author, f)
	msg.ReceivedFrom = relay
	msg.ValidatorData = f

	m, ok := toMessage("general", msg)
	require.True(t, ok)
	require.Equal(t, "general", m.Topic)
	require.Equal(t, author, m.Sender)
	require.Equal(t, relay, m.ReceivedFrom)
	require.Equal(t, []byte("hi"), m.Payload)
	require.Equal(t, f.ID, m.Fingerprint)
	require.False(t, m.Local)
}
