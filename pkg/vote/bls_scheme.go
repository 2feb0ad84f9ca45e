package vote

import (
	"sync"

	blscrypto "github.com/dagledger/consensus-core/pkg/crypto/bls"
	"github.com/dagledger/consensus-core/pkg/types"
)

// BLSScheme verifies vote signatures against a registry of validator
// BLS public keys, keyed by validator address.
type BLSScheme struct {
	mu   sync.RWMutex
	keys map[types.Address]*blscrypto.PublicKey
}

// NewBLSScheme constructs an empty registry; populate with RegisterKey.
func NewBLSScheme() *BLSScheme {
	return &BLSScheme{keys: make(map[types.Address]*blscrypto.PublicKey)}
}

// RegisterKey associates a validator address with its BLS public key.
func (s *BLSScheme) RegisterKey(addr types.Address, pk *blscrypto.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[addr] = pk
}

// Verify implements Scheme.
func (s *BLSScheme) Verify(voter types.Address, digest []byte, signature []byte) bool {
	s.mu.RLock()
	pk, ok := s.keys[voter]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	sig, err := blscrypto.SignatureFromBytes(signature)
	if err != nil {
		return false
	}
	return pk.VerifyWithDomain(sig, digest, blscrypto.DomainVote)
}
