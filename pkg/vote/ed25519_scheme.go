package vote

import (
	"crypto/ed25519"
	"sync"

	"github.com/dagledger/consensus-core/pkg/types"
)

// Ed25519Scheme verifies vote signatures against a registry of
// validator Ed25519 public keys.
type Ed25519Scheme struct {
	mu   sync.RWMutex
	keys map[types.Address]ed25519.PublicKey
}

// NewEd25519Scheme constructs an empty registry; populate with
// RegisterKey.
func NewEd25519Scheme() *Ed25519Scheme {
	return &Ed25519Scheme{keys: make(map[types.Address]ed25519.PublicKey)}
}

// RegisterKey associates a validator address with its Ed25519 public key.
func (s *Ed25519Scheme) RegisterKey(addr types.Address, pk ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[addr] = pk
}

// Verify implements Scheme.
func (s *Ed25519Scheme) Verify(voter types.Address, digest []byte, signature []byte) bool {
	s.mu.RLock()
	pk, ok := s.keys[voter]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(pk, digest, signature)
}
