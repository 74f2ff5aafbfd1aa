package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/crypto/pb"

	"github.com/baderanaas/lanchat/pkg/crypto"
)

const identityFileName = "identity.key"

// ErrUnsupportedKey is returned for a stored identity that is not Ed25519.
var ErrUnsupportedKey = errors.New("identity key is not ed25519")

// DataDir resolves where node state lives: baseDir when set, ~/.lanchat
// otherwise.
func DataDir(baseDir string) (string, error) {
	if baseDir != "" {
		return baseDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".lanchat"), nil
}

// LoadIdentity returns the node key stored under baseDir, creating and
// persisting a new one on first run so the peer id survives restarts.
func LoadIdentity(baseDir string) (ic.PrivKey, error) {
	dir, err := DataDir(baseDir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, identityFileName)

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return createIdentity(dir, path)
	case err != nil:
		return nil, fmt.Errorf("failed to read identity %s: %w", path, err)
	}

	key, err := ic.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identity %s: %w", path, err)
	}
	if key.Type() != pb.KeyType_Ed25519 {
		return nil, fmt.Errorf("%w: %s holds a %s key", ErrUnsupportedKey, path, key.Type())
	}
	return key, nil
}

func createIdentity(dir, path string) (ic.PrivKey, error) {
	key, id, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	raw, err := ic.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write identity %s: %w", path, err)
	}
	log.Infof("created identity %s in %s", id, path)
	return key, nil
}
