package vote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagledger/consensus-core/pkg/ledger"
	"github.com/dagledger/consensus-core/pkg/types"
)

type alwaysValidScheme struct{}

func (alwaysValidScheme) Verify(types.Address, []byte, []byte) bool { return true }

func addrN(n byte) types.Address {
	var a types.Address
	a[19] = n
	return a
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, uint64(1), Threshold(0))
	assert.Equal(t, uint64(1), Threshold(1))
	assert.Equal(t, uint64(7), Threshold(10)) // floor(20/3)+1 = 6+1 = 7
}

func TestTwoTPlusOne_NotReachedBelowThreshold(t *testing.T) {
	m := NewManager(alwaysValidScheme{}, nil, nil, nil, 0, 10)

	hash := types.Hash{1}
	for i := byte(0); i < 5; i++ {
		ok, err := m.Insert(types.Vote{
			Voter: addrN(i), Period: 1, Round: 1, Step: types.StepSoftVote,
			BlockHash: hash, Weight: 1,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
	// total eligible votes = 10 -> threshold = 7; only 5 weight cast.
	assert.False(t, m.TwoTPlusOne(1, types.StepSoftVote, hash, 10))
}

func TestTwoTPlusOne_ReachedAtThreshold(t *testing.T) {
	m := NewManager(alwaysValidScheme{}, nil, nil, nil, 0, 10)

	hash := types.Hash{1}
	for i := byte(0); i < 7; i++ {
		ok, err := m.Insert(types.Vote{
			Voter: addrN(i), Period: 1, Round: 1, Step: types.StepSoftVote,
			BlockHash: hash, Weight: 1,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.True(t, m.TwoTPlusOne(1, types.StepSoftVote, hash, 10))
}

func TestInsert_RejectsDuplicateCertVoteSamePeriod(t *testing.T) {
	m := NewManager(alwaysValidScheme{}, nil, nil, nil, 0, 10)
	voter := addrN(1)

	ok, err := m.Insert(types.Vote{Voter: voter, Period: 5, Round: 1, Step: types.StepCertVote, BlockHash: types.Hash{1}, Weight: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Insert(types.Vote{Voter: voter, Period: 5, Round: 1, Step: types.StepCertVote, BlockHash: types.Hash{2}, Weight: 1})
	require.NoError(t, err)
	assert.False(t, ok, "a correct node cert-votes at most once per period")
}

func TestTwoTPlusOneVotedBlock_TwoForksCannotBothReachThreshold(t *testing.T) {
	m := NewManager(alwaysValidScheme{}, nil, nil, nil, 0, 10)
	a1 := types.Hash{0xA1}
	a2 := types.Hash{0xA2}

	// 5 votes for a1, 5 votes for a2: neither alone can reach the 7/10
	// threshold, modeling "at most 1/3 Byzantine" preventing two forks
	// from both crossing 2t+1 in the same round.
	for i := byte(0); i < 5; i++ {
		_, _ = m.Insert(types.Vote{Voter: addrN(i), Period: 1, Round: 1, Step: types.StepSoftVote, BlockHash: a1, Weight: 1})
		_, _ = m.Insert(types.Vote{Voter: addrN(i + 10), Period: 1, Round: 1, Step: types.StepSoftVote, BlockHash: a2, Weight: 1})
	}

	_, ok1 := m.TwoTPlusOneVotedBlock(1, 1, types.StepSoftVote, 10)
	_, ok2 := m.TwoTPlusOneVotedBlock(1, 1, types.StepSoftVote, 10)
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestGC_DropsVotesBelowRetentionWindow(t *testing.T) {
	m := NewManager(alwaysValidScheme{}, nil, nil, nil, 0, 2)
	_, _ = m.Insert(types.Vote{Voter: addrN(1), Period: 1, Round: 1, Step: types.StepSoftVote, BlockHash: types.Hash{1}, Weight: 1})

	m.GC(10) // cutoff = 10 - 2 = 8, period 1 < 8

	key := ledger.VoteBucketKey{Period: 1, Round: 1, Step: types.StepSoftVote, BlockHash: types.Hash{1}}
	m.mu.RLock()
	_, exists := m.buckets[key]
	m.mu.RUnlock()
	assert.False(t, exists)
}
