// Package vote implements the Vote Manager: bucketed vote storage
// keyed by (period, round, step, block_hash), pluggable verification
// schemes, and the 2t+1 threshold predicates the PBFT manager polls.
package vote

import (
	"sync"

	"github.com/dagledger/consensus-core/pkg/ledger"
	"github.com/dagledger/consensus-core/pkg/types"
)

// Scheme verifies a vote's signature against its signing digest. Two
// concrete schemes are provided: BLS (bls_scheme.go) and Ed25519
// (ed25519_scheme.go).
type Scheme interface {
	Verify(voter types.Address, digest []byte, signature []byte) bool
}

// bucket accumulates votes and their summed weight for one
// (period, round, step, block_hash) key.
type bucket struct {
	votes     []types.Vote
	weightSum uint64
}

// Manager is the Vote Manager.
type Manager struct {
	mu sync.RWMutex

	scheme   Scheme
	dpos     types.DposOracle
	reporter types.MaliciousPeerReporter
	store    *ledger.LedgerStore

	delegationDelay uint64
	retentionPeriods uint64

	buckets map[ledger.VoteBucketKey]*bucket

	// certVotedPeriod guards "at most one cert-vote per (period, voter)
	// by a correct node" — see spec invariant 4. Keyed by voter; the
	// value is the period of that voter's recorded cert vote.
	certVotedPeriod map[types.Address]uint64
}

// NewManager constructs a Vote Manager.
func NewManager(scheme Scheme, dpos types.DposOracle, store *ledger.LedgerStore, reporter types.MaliciousPeerReporter, delegationDelay, retentionPeriods uint64) *Manager {
	return &Manager{
		scheme:           scheme,
		dpos:             dpos,
		store:            store,
		reporter:         reporter,
		delegationDelay:  delegationDelay,
		retentionPeriods: retentionPeriods,
		buckets:          make(map[ledger.VoteBucketKey]*bucket),
		certVotedPeriod:  make(map[types.Address]uint64),
	}
}

// Insert verifies and records a vote. Verification covers the
// signature and that the voter is DPOS-eligible at
// period-delegationDelay. The VRF proof is not checked, nor is
// v.Weight checked against it; Weight is summed as given.
func (m *Manager) Insert(v types.Vote) (bool, error) {
	snapshotPeriod := uint64(0)
	if v.Period > m.delegationDelay {
		snapshotPeriod = v.Period - m.delegationDelay
	}

	if m.scheme != nil && !m.scheme.Verify(v.Voter, v.SigningDigest(), v.Signature) {
		if m.reporter != nil {
			m.reporter.ReportMalicious(v.Voter, "invalid vote signature")
		}
		return false, nil
	}

	if m.dpos != nil {
		votes, err := m.dpos.EligibleVoteCount(v.Voter, snapshotPeriod)
		if err != nil || votes == 0 {
			return false, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if v.Step == types.StepCertVote {
		if prev, ok := m.certVotedPeriod[v.Voter]; ok && prev == v.Period {
			// a correct node cert-votes at most once per period; a
			// second, conflicting cert vote is equivocation.
			if m.reporter != nil {
				m.reporter.ReportMalicious(v.Voter, "duplicate cert vote for period")
			}
			return false, nil
		}
		m.certVotedPeriod[v.Voter] = v.Period
	}

	key := ledger.VoteBucketKey{Period: v.Period, Round: v.Round, Step: v.Step, BlockHash: v.BlockHash}
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{}
		m.buckets[key] = b
	}
	b.votes = append(b.votes, v)
	b.weightSum += v.Weight

	if m.store != nil {
		_ = m.store.AddVerifiedVote(key, v)
	}
	return true, nil
}

// Threshold computes 2t+1 = floor(2*totalEligibleVotes/3) + 1.
func Threshold(totalEligibleVotes uint64) uint64 {
	return (2*totalEligibleVotes)/3 + 1
}

// TwoTPlusOne reports whether the weight accumulated for
// (period, step, hash) across all rounds meets the 2t+1 threshold.
func (m *Manager) TwoTPlusOne(period uint64, step types.Step, hash types.Hash, totalEligibleVotes uint64) bool {
	threshold := Threshold(totalEligibleVotes)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum uint64
	for k, b := range m.buckets {
		if k.Period == period && k.Step == step && k.BlockHash == hash {
			sum += b.weightSum
		}
	}
	return sum >= threshold
}

// TwoTPlusOneVotedBlock returns the block hash that reached 2t+1 for
// (period, round, step), if any.
func (m *Manager) TwoTPlusOneVotedBlock(period, round uint64, step types.Step, totalEligibleVotes uint64) (types.Hash, bool) {
	threshold := Threshold(totalEligibleVotes)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, b := range m.buckets {
		if k.Period == period && k.Round == round && k.Step == step && b.weightSum >= threshold {
			return k.BlockHash, true
		}
	}
	return types.Hash{}, false
}

// LowestVrfProposeVote returns the propose-step vote observed for
// (period, round) whose VRF output is lexicographically smallest —
// the soft-vote step's tiebreak when no prior-round next-voted value
// constrains the round.
func (m *Manager) LowestVrfProposeVote(period, round uint64) (types.Vote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *types.Vote
	for k, b := range m.buckets {
		if k.Period != period || k.Round != round || k.Step != types.StepPropose {
			continue
		}
		for i := range b.votes {
			v := &b.votes[i]
			if best == nil || lessBytes(v.VrfProof.Output, best.VrfProof.Output) {
				best = v
			}
		}
	}
	if best == nil {
		return types.Vote{}, false
	}
	return *best, true
}

// Votes returns the votes accumulated for (period, round, step, hash),
// in insertion order. Used at finalization time to assemble the
// cert-vote set a committed PbftBlock carries.
func (m *Manager) Votes(period, round uint64, step types.Step, hash types.Hash) []types.Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := ledger.VoteBucketKey{Period: period, Round: round, Step: step, BlockHash: hash}
	b, ok := m.buckets[key]
	if !ok {
		return nil
	}
	out := make([]types.Vote, len(b.votes))
	copy(out, b.votes)
	return out
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// GC discards votes for periods below currentFinalizedPeriod minus
// retention. certVotedPeriod is untouched: it holds one entry per
// voter (its most recent cert-voted period, for same-period
// equivocation checks), not one per period, so it is bounded by the
// validator set size rather than by period count.
func (m *Manager) GC(currentFinalizedPeriod uint64) {
	if currentFinalizedPeriod <= m.retentionPeriods {
		return
	}
	cutoff := currentFinalizedPeriod - m.retentionPeriods

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.buckets {
		if k.Period < cutoff {
			delete(m.buckets, k)
		}
	}
}
