package sortition

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/dagledger/consensus-core/pkg/types"
)

// DifficultyClass selects how many sequential hashes a VDF computation
// requires. The proposer uses Stale when its VRF output falls in the
// stale class (low bit set) and Normal otherwise; Min is a floor under
// whichever is chosen.
type DifficultyClass struct {
	Normal uint64
	Stale  uint64
	Min    uint64
}

// ComputeVdf iterates SHA-256 `difficulty` times starting from
// H(seed), the textbook minimal verifiable-delay construction: the
// only way to get to step N is to have computed steps 1..N-1 in
// sequence, and re-verification is a single pass of the same loop.
// It polls ctx for cancellation every checkEvery iterations so a
// proposer whose DAG frontier moves mid-computation can abandon a
// stale VDF run within that granularity (spec requires abandonment
// within 100ms of DAG progress).
func ComputeVdf(ctx context.Context, seed []byte, difficulty uint64, checkEvery uint64) (types.VdfProof, error) {
	if checkEvery == 0 {
		checkEvery = 1
	}
	h := sha256.Sum256(seed)
	for i := uint64(0); i < difficulty; i++ {
		h = sha256.Sum256(h[:])
		if i%checkEvery == checkEvery-1 {
			select {
			case <-ctx.Done():
				return types.VdfProof{}, ctx.Err()
			default:
			}
		}
	}
	return types.VdfProof{Output: append([]byte{}, h[:]...), Difficulty: difficulty}, nil
}

// VerifyVdf recomputes the hash chain and compares against proof.
// Verification cost equals computation cost (sequential VDFs have no
// fast verification shortcut without a group-of-unknown-order trapdoor,
// which is out of scope here — see the VDF section of DESIGN.md).
func VerifyVdf(seed []byte, proof types.VdfProof) bool {
	h := sha256.Sum256(seed)
	for i := uint64(0); i < proof.Difficulty; i++ {
		h = sha256.Sum256(h[:])
	}
	if len(proof.Output) != len(h) {
		return false
	}
	for i := range h {
		if proof.Output[i] != h[i] {
			return false
		}
	}
	return true
}

// EstimateIterationsForDuration picks a difficulty so that, at the
// caller's measured hash rate, ComputeVdf takes approximately target.
// The node does not call it; difficulties come from configuration.
func EstimateIterationsForDuration(target time.Duration, hashesPerSecond uint64) uint64 {
	if hashesPerSecond == 0 {
		hashesPerSecond = 1
	}
	return uint64(target.Seconds() * float64(hashesPerSecond))
}
