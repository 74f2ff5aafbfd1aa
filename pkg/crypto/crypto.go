package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	ErrBadSignature = errors.New("signature does not verify")
	ErrNoPublicKey  = errors.New("peer id does not embed a public key")
)

// Fingerprint derives the deduplication id of a payload. Equal payloads
// always produce equal fingerprints, whoever sends them.
func Fingerprint(payload []byte) string {
	hash := sha256.Sum256(payload)
	return base64.URLEncoding.EncodeToString(hash[:])
}

// Sign signs payload with the node's private key.
func Sign(key ic.PrivKey, payload []byte) ([]byte, error) {
	sig, err := key.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}
	return sig, nil
}

// Verify checks sig over payload against the key embedded in the claimed
// sender identity.
func Verify(sender peer.ID, payload, sig []byte) error {
	pub, err := sender.ExtractPublicKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoPublicKey, err)
	}
	ok, err := pub.Verify(payload, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

// GenerateIdentity creates a fresh Ed25519 key pair and its peer id.
func GenerateIdentity() (ic.PrivKey, peer.ID, error) {
	priv, _, err := ic.GenerateEd25519Key(nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key: %w", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, "", fmt.Errorf("failed to derive peer id: %w", err)
	}
	return priv, id, nil
}
