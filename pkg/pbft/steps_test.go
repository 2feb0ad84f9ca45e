package pbft

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagledger/consensus-core/pkg/crypto/bls"
	"github.com/dagledger/consensus-core/pkg/dag"
	"github.com/dagledger/consensus-core/pkg/types"
	"github.com/dagledger/consensus-core/pkg/vote"
)

type stubDpos struct{ total uint64 }

func (s *stubDpos) EligibleVoteCount(types.Address, uint64) (uint64, error) { return 1, nil }
func (s *stubDpos) TotalEligibleVotes(uint64) (uint64, error)               { return s.total, nil }

type stubExecutor struct{ calls int }

func (s *stubExecutor) ExecutePeriod(uint64, []types.Hash) error { s.calls++; return nil }

type stubNet struct {
	pbftBlocks int
}

func (s *stubNet) BroadcastDagBlock(*types.DagBlock) error { return nil }
func (s *stubNet) BroadcastVote(*types.Vote) error         { return nil }
func (s *stubNet) BroadcastPbftBlock(*types.PbftBlock) error {
	s.pbftBlocks++
	return nil
}

type allowAllScheme struct{}

func (allowAllScheme) Verify(types.Address, []byte, []byte) bool { return true }

func hashB(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func newTestPbftManager(t *testing.T) (*Manager, *dag.Manager, *vote.Manager, *stubNet) {
	t.Helper()
	dpos := &stubDpos{total: 10}
	dagMgr := dag.NewManager(dag.Config{ExpiryLimit: 1000}, nil, dpos, nil, nil)
	voteMgr := vote.NewManager(allowAllScheme{}, dpos, nil, nil, 0, 10)
	net := &stubNet{}
	executor := &stubExecutor{}

	mgr := NewManager(Config{LambdaMsMin: 1000, LambdaBound: 8, CommitteeSize: 10}, dagMgr, voteMgr, nil, dpos, executor, net, nil, types.Address{}, log.New(log.Writer(), "", 0))
	return mgr, dagMgr, voteMgr, net
}

// TestFinalize_EmptyPeriod covers spec boundary scenario 6: an anchor
// whose dag_block_order comes back empty finalizes nothing and does
// not advance the round counters or broadcast a block.
func TestFinalize_EmptyPeriod(t *testing.T) {
	mgr, _, _, net := newTestPbftManager(t)

	err := mgr.finalize(1, 1, types.Hash{}) // zero anchor: never added to the DAG, so DagBlockOrder returns nil
	require.NoError(t, err)

	period, round, _ := mgr.CurrentRound()
	assert.Equal(t, uint64(1), period, "empty period must not advance")
	assert.Equal(t, uint64(1), round)
	assert.Equal(t, 0, net.pbftBlocks)
}

// TestFinalize_AdvancesPeriodAndBroadcasts covers the happy path: a
// single-block anchor finalizes, the period advances, and the PBFT
// block is broadcast exactly once.
func TestFinalize_AdvancesPeriodAndBroadcasts(t *testing.T) {
	mgr, dagMgr, _, net := newTestPbftManager(t)

	anchor := hashB(1)
	ok, _ := dagMgr.AddBlock(&types.DagBlock{Hash: anchor, Level: 1, Pivot: types.Hash{}}, false)
	require.True(t, ok)

	err := mgr.finalize(1, 1, anchor)
	require.NoError(t, err)

	period, round, step := mgr.CurrentRound()
	assert.Equal(t, uint64(2), period)
	assert.Equal(t, uint64(1), round)
	assert.Equal(t, types.StepPropose, step)
	assert.Equal(t, 1, net.pbftBlocks)
}

// TestStepCertVote_AbstainsOnUnknownAnchor covers spec boundary
// scenario 3: when the 2t+1-soft-voted block is not locally known, a
// node must abstain from cert-voting (no vote inserted) while the
// round still proceeds to next-vote rather than finalizing.
func TestStepCertVote_AbstainsOnUnknownAnchor(t *testing.T) {
	mgr, _, voteMgr, _ := newTestPbftManager(t)
	sk, _, err := bls.GenerateKeyPair()
	require.NoError(t, err)
	mgr.signer = sk // a voting node, so only the unknown anchor stops the cert vote

	unknown := hashB(0xEE)
	for i := byte(0); i < 10; i++ {
		var voter types.Address
		voter[19] = i
		_, err := voteMgr.Insert(types.Vote{
			Voter: voter, Period: 1, Round: 1, Step: types.StepSoftVote,
			BlockHash: unknown, Weight: 1,
		})
		require.NoError(t, err)
	}

	finalized := mgr.stepCertVote(context.Background(), 1, 1, 0)
	assert.False(t, finalized, "must not finalize: no cert votes were cast for an unknown anchor")

	votes := voteMgr.Votes(1, 1, types.StepCertVote, unknown)
	assert.Empty(t, votes, "a voting node casts no cert vote for an unknown anchor")
}
