package gossip

import (
	"encoding/json"
	"errors"
	"fmt"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	pb "github.com/libp2p/go-libp2p-pubsub/pb"

	"github.com/baderanaas/lanchat/pkg/crypto"
)

var (
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrFingerprintMismatch = errors.New("frame id does not match payload")
)

// Frame is the data of every gossip message: the payload, its fingerprint
// and the sender's signature over the payload.
type Frame struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
	Sig     []byte `json:"sig"`
}

// NewFrame signs payload with key.
func NewFrame(key ic.PrivKey, payload []byte) (Frame, error) {
	sig, err := crypto.Sign(key, payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		ID:      crypto.Fingerprint(payload),
		Payload: payload,
		Sig:     sig,
	}, nil
}

// Encode returns the wire form of the frame.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses the wire form of a frame without checking it.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.ID == "" || len(f.Sig) == 0 {
		return Frame{}, ErrMalformedFrame
	}
	return f, nil
}

// Verify checks that the id is the payload fingerprint and that sender
// signed the payload.
func (f Frame) Verify(sender peer.ID) error {
	if crypto.Fingerprint(f.Payload) != f.ID {
		return ErrFingerprintMismatch
	}
	return crypto.Verify(sender, f.Payload, f.Sig)
}

// messageID keys the gossipsub seen cache on the payload fingerprint, so the
// same text relayed along two paths is delivered once. Data that is not a
// frame falls back to its own fingerprint and is rejected by validation.
func messageID(m *pb.Message) string {
	if f, err := DecodeFrame(m.GetData()); err == nil {
		return crypto.Fingerprint(f.Payload)
	}
	return crypto.Fingerprint(m.GetData())
}
