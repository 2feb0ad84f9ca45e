// Copyright 2025 Certen Protocol
//
// Package types defines the core data model shared across the DAG
// manager, proposer, vote manager and PBFT manager: blocks, votes,
// the step enumeration, verification results, and the interfaces
// through which the consensus core talks to its external collaborators
// (transaction pool, DPOS stake oracle, final chain executor, batch
// store, network egress, malicious-peer reporting).

package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func hashSum(b []byte) [32]byte { return sha256.Sum256(b) }

// Hash is a 32-byte content hash, used for DAG block hashes, PBFT
// block hashes, transaction hashes and the order hash.
type Hash [32]byte

// Hex returns the 0x-prefixed hex encoding of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash (used as "no parent"/"genesis").
func (h Hash) IsZero() bool { return h == Hash{} }

// BytesToHash copies b into a Hash: input shorter than 32 bytes is
// left-padded with zeros; longer input keeps only its first 32 bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	copy(h[32-min(32, len(b)):], b)
	return h
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Address identifies a validator/account. Reuses go-ethereum's 20-byte
// address type so the consensus core can share address derivation with
// any EVM-compatible execution layer sitting behind FinalChainExecutor.
type Address = common.Address

// Step is a PBFT round step, per the four-step state machine:
// propose, soft-vote, cert-vote, next-vote (one next vote per round;
// an undecided round moves to the next round with a larger lambda).
type Step int

const (
	StepPropose Step = iota
	StepSoftVote
	StepCertVote
	StepNextVote
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepSoftVote:
		return "soft-vote"
	case StepCertVote:
		return "cert-vote"
	case StepNextVote:
		return "next-vote"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// VerifyResult is the outcome of DagBlock verification. verify_block
// never mutates state; every outcome is one of these named values.
type VerifyResult int

const (
	Verified VerifyResult = iota
	MissingTransaction
	AheadBlock
	FailedVdfVerification
	FutureBlock
	NotEligible
	ExpiredBlock
	IncorrectTransactionsEstimation
	BlockTooBig
	FailedTipsVerification
)

func (r VerifyResult) String() string {
	switch r {
	case Verified:
		return "verified"
	case MissingTransaction:
		return "missing-transaction"
	case AheadBlock:
		return "ahead-block"
	case FailedVdfVerification:
		return "failed-vdf-verification"
	case FutureBlock:
		return "future-block"
	case NotEligible:
		return "not-eligible"
	case ExpiredBlock:
		return "expired-block"
	case IncorrectTransactionsEstimation:
		return "incorrect-transactions-estimation"
	case BlockTooBig:
		return "block-too-big"
	case FailedTipsVerification:
		return "failed-tips-verification"
	default:
		return fmt.Sprintf("verify(%d)", int(r))
	}
}

// VrfProof is a sortition proof: a BLS signature over the round's VRF
// input message, plus the VRF output hash derived from it.
type VrfProof struct {
	Output []byte `json:"output"` // H(BLS_Sign(sk, input)) — the VRF output
	Proof  []byte `json:"proof"`  // the BLS signature itself, independently verifiable
}

// VdfProof is a proof of sequential work: the iterated-hash output at
// the claimed difficulty and the difficulty class it was computed at.
type VdfProof struct {
	Output     []byte `json:"output"`
	Difficulty uint64 `json:"difficulty"`
	Stale      bool   `json:"stale"` // computed at the lower, "stale tip" difficulty class
}

// DagBlock is a single vertex in the leaderless DAG: one pivot parent,
// zero or more tip parents, a batch of transactions, and the sortition
// proofs that gated its proposal.
type DagBlock struct {
	Hash      Hash     `json:"hash"`
	Level     uint64   `json:"level"`
	Pivot     Hash     `json:"pivot"` // pivot (heaviest) parent
	Tips      []Hash   `json:"tips"`  // additional DAG parents
	Author    Address  `json:"author"`
	Timestamp int64    `json:"timestamp"` // unix millis
	Shard     uint32   `json:"shard"`
	TxHashes  []Hash   `json:"txHashes"`
	// GasEstimate is the block's total gas estimate; TrxGasEstimates
	// holds one entry per TxHashes entry in the same order, so
	// verify_block's IncorrectTransactionsEstimation check can compare
	// a recomputed sum against GasEstimate.
	GasEstimate     uint64   `json:"gasEstimate"`
	TrxGasEstimates []uint64 `json:"trxGasEstimates"`
	VrfProof        VrfProof `json:"vrfProof"`
	VdfProof        VdfProof `json:"vdfProof"`
	Signature       []byte   `json:"signature"` // BLS signature over the block digest, DomainDagBlock
}

// SigningDigest returns the byte sequence signed over (and VRF/VDF
// gated) for this block: everything except the signature/proofs
// themselves, so verification is self-consistent.
func (b *DagBlock) SigningDigest() []byte {
	buf := make([]byte, 0, 128+32*(2+len(b.Tips)+len(b.TxHashes)))
	buf = append(buf, b.Hash[:]...)
	var lvl [8]byte
	putUint64(lvl[:], b.Level)
	buf = append(buf, lvl[:]...)
	buf = append(buf, b.Pivot[:]...)
	for _, t := range b.Tips {
		buf = append(buf, t[:]...)
	}
	buf = append(buf, b.Author[:]...)
	var ts [8]byte
	putUint64(ts[:], uint64(b.Timestamp))
	buf = append(buf, ts[:]...)
	for _, t := range b.TxHashes {
		buf = append(buf, t[:]...)
	}
	return buf
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

// DagFrontier is the DAG manager's current view of its growing edge:
// the heaviest pivot chain tip and the set of tips available as
// parents for the next proposed block.
type DagFrontier struct {
	PivotChainHead Hash
	Tips           []Hash
	Level          uint64
}

// Anchor is the DAG block a PBFT block finalizes up to: everything in
// its ghost-path-ordered history becomes the next period's
// dag_block_order.
type Anchor struct {
	BlockHash Hash   `json:"blockHash"`
	Period    uint64 `json:"period"`
}

// PbftBlock is the block a PBFT round proposes and (if it gathers
// 2t+1 cert-votes) finalizes: a period number, the DAG anchor it
// points at, and the commitment to that anchor's resulting
// dag_block_order.
type PbftBlock struct {
	Period        uint64  `json:"period"`
	PrevBlockHash Hash    `json:"prevBlockHash"`
	Anchor        Anchor  `json:"anchor"`
	OrderHash     Hash    `json:"orderHash"`
	Proposer      Address `json:"proposer"` // beneficiary/author
	Timestamp     int64   `json:"timestamp"`
	Signature     []byte  `json:"signature"`
}

// BlockHash computes the PBFT block's own identity hash (distinct from
// OrderHash, which commits to its payload's DAG ordering).
func (b *PbftBlock) BlockHash() Hash {
	buf := make([]byte, 0, 96)
	var p [8]byte
	putUint64(p[:], b.Period)
	buf = append(buf, p[:]...)
	buf = append(buf, b.PrevBlockHash[:]...)
	buf = append(buf, b.Anchor.BlockHash[:]...)
	buf = append(buf, b.OrderHash[:]...)
	buf = append(buf, b.Proposer[:]...)
	return Hash(hashSum(buf))
}

// Vote is a single signed statement by a validator about a round/step
// and the block it votes for (the zero Hash for a next-vote on "no
// block" / NULL_BLOCK_HASH).
type Vote struct {
	Voter     Address `json:"voter"`
	Period    uint64  `json:"period"`
	Round     uint64  `json:"round"`
	Step      Step    `json:"step"`
	BlockHash Hash    `json:"blockHash"`
	Weight    uint64  `json:"weight"` // sortition weight this vote carries
	VrfProof  VrfProof `json:"vrfProof"`
	Signature []byte  `json:"signature"`
}

// SigningDigest is the byte sequence a vote's Signature covers.
func (v *Vote) SigningDigest() []byte {
	buf := make([]byte, 0, 64)
	var p, r [8]byte
	putUint64(p[:], v.Period)
	putUint64(r[:], v.Round)
	buf = append(buf, p[:]...)
	buf = append(buf, r[:]...)
	buf = append(buf, byte(v.Step))
	buf = append(buf, v.BlockHash[:]...)
	return buf
}

// TransactionPool is the consensus core's view of pending
// transactions: enough to pack a DAG block and nothing about mempool
// internals (fee markets, replacement policy) that belong to the
// execution layer.
type TransactionPool interface {
	// PendingForShard returns up to maxCount pending transaction
	// hashes assigned to shard.
	PendingForShard(shard uint32, maxCount int) ([]Hash, error)
	// MarkIncluded removes transactions once they are packed into a
	// proposed DAG block, so the proposer's next attempt doesn't
	// repack them.
	MarkIncluded(txHashes []Hash) error
}

// DposOracle reports a validator's delegated stake, used to compute
// VRF sortition weight and vote/cert-vote eligibility.
type DposOracle interface {
	// EligibleVoteCount returns the validator's current vote count
	// (stake / vote_eligibility_balance_step, floored), as of period.
	EligibleVoteCount(validator Address, period uint64) (uint64, error)
	// TotalEligibleVotes returns the network-wide eligible vote count
	// for period, used to derive the 2t+1 threshold.
	TotalEligibleVotes(period uint64) (uint64, error)
}

// FinalChainExecutor is handed each finalized period. It receives the
// period's DAG block hashes in dag_block_order; the transactions of
// those blocks are not passed to it. It is the only seam between this
// module and any EVM/state-transition engine.
type FinalChainExecutor interface {
	ExecutePeriod(period uint64, orderedBlockHashes []Hash) error
}

// BatchStore is a persistence seam offering atomic write batches;
// kvdb.KVAdapter implements it. The DAG, PBFT and Vote managers do not
// use it: they write through ledger.LedgerStore one key at a time.
type BatchStore interface {
	BeginBatch() Batch
}

// Batch accumulates writes for one atomic commit.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}

// NetworkOut is the outbound gossip seam: DAG blocks and votes the
// local node produces get handed here for broadcast. The wire
// protocol and peer management live entirely outside this module.
type NetworkOut interface {
	BroadcastDagBlock(b *DagBlock) error
	BroadcastVote(v *Vote) error
	BroadcastPbftBlock(b *PbftBlock) error
}

// MaliciousPeerReporter is the boundary through which DAG/Vote
// managers flag a sender whose message failed verification in a way
// that indicates equivocation or forgery, rather than an honest
// future-block race.
type MaliciousPeerReporter interface {
	ReportMalicious(peer Address, reason string)
}

// nowMillis is a seam for tests; production code calls time.Now().
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// NowMillis returns the current unix time in milliseconds.
func NowMillis() int64 { return nowMillis() }
