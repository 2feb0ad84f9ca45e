// Package sortition implements the two sortition primitives that gate
// DAG block proposal: a BLS-signature VRF (is this wallet allowed to
// propose this level, and with what weight) and a sequential-hash VDF
// (how long must it wait before its proposal is valid).
package sortition

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/dagledger/consensus-core/pkg/crypto/bls"
	"github.com/dagledger/consensus-core/pkg/types"
)

// VrfInput is the message a VRF proof is computed over: the DAG level
// being proposed for, salted with the proposer's address so two
// proposers at the same level don't share a VRF input.
func VrfInput(level uint64, proposer types.Address) []byte {
	buf := make([]byte, 8+len(proposer))
	binary.BigEndian.PutUint64(buf, level)
	copy(buf[8:], proposer[:])
	return buf
}

// Prove computes a VRF proof for the given input: output = H(sig),
// proof = sig, where sig = BLS_Sign(sk, input) under DomainVRF. BLS
// signatures are unique per (key, message), which is exactly the
// property a VRF needs: only the key holder can produce the proof, and
// anyone can recompute the same output from it.
func Prove(sk *bls.PrivateKey, input []byte) types.VrfProof {
	sig := sk.SignWithDomain(input, bls.DomainVRF)
	out := sha256.Sum256(sig.Bytes())
	return types.VrfProof{
		Output: out[:],
		Proof:  sig.Bytes(),
	}
}

// Verify checks that proof.Proof is a valid BLS signature by pk over
// input, and that proof.Output is H(proof.Proof).
func Verify(pk *bls.PublicKey, input []byte, proof types.VrfProof) bool {
	sig, err := bls.SignatureFromBytes(proof.Proof)
	if err != nil {
		return false
	}
	if !pk.VerifyWithDomain(sig, input, bls.DomainVRF) {
		return false
	}
	want := sha256.Sum256(proof.Proof)
	if len(proof.Output) != len(want) {
		return false
	}
	for i := range want {
		if proof.Output[i] != want[i] {
			return false
		}
	}
	return true
}

// maxOutput is the largest possible 32-byte VRF output, used as the
// denominator when mapping an output onto the [0,1) probability line.
var maxOutput = new(big.Int).Lsh(big.NewInt(1), 256)

// Eligible reports whether a VRF output clears sortition for a
// validator holding voteCount votes out of totalVotes, using the
// standard "each vote is an independent coin flip at threshold p"
// approximation: eligible if output/2^256 < voteCount/totalVotes *
// thresholdUpper, where thresholdUpper tunes the expected number of
// proposers per level (spec's vrf.threshold_upper).
func Eligible(proof types.VrfProof, voteCount, totalVotes uint64, thresholdUpper float64) bool {
	if totalVotes == 0 || voteCount == 0 {
		return false
	}
	out := new(big.Int).SetBytes(proof.Output)

	// p = voteCount/totalVotes * thresholdUpper, computed in fixed
	// point to avoid floating point in the comparison itself.
	const scale = 1 << 40
	pNum := new(big.Int).SetUint64(voteCount)
	pNum.Mul(pNum, big.NewInt(int64(thresholdUpper*scale)))
	pDen := new(big.Int).SetUint64(totalVotes)
	pDen.Mul(pDen, big.NewInt(scale))

	lhs := new(big.Int).Mul(out, pDen)
	rhs := new(big.Int).Mul(maxOutput, pNum)
	return lhs.Cmp(rhs) < 0
}

// Weight derives a vote weight from a VRF output in [1, voteCount]: the
// same construction used for single-vote eligibility, extended to
// multi-vote wallets so a wallet with many delegated votes can win
// sortition multiple times in the same round without running the VRF
// voteCount separate times.
func Weight(proof types.VrfProof, voteCount uint64) uint64 {
	if voteCount == 0 {
		return 0
	}
	out := new(big.Int).SetBytes(proof.Output)
	w := new(big.Int).Mod(out, new(big.Int).SetUint64(voteCount))
	return w.Uint64() + 1
}

// ErrBadProof is the error value for an invalid VRF proof; no function
// in this package returns it.
var ErrBadProof = fmt.Errorf("sortition: invalid vrf proof")
