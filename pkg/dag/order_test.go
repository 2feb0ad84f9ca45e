package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagledger/consensus-core/pkg/types"
)

func hashFromByte(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func newTestManager(cfg Config) *Manager {
	return NewManager(cfg, nil, nil, nil, nil)
}

func TestDagBlockOrder_TrivialOrdering(t *testing.T) {
	m := newTestManager(Config{ExpiryLimit: 1000})

	genesis := types.Hash{}
	a := hashFromByte(1)
	b := hashFromByte(2)
	c := hashFromByte(3)

	blkA := &types.DagBlock{Hash: a, Level: 1, Pivot: genesis}
	blkB := &types.DagBlock{Hash: b, Level: 1, Pivot: genesis}
	blkC := &types.DagBlock{Hash: c, Level: 2, Pivot: a, Tips: []types.Hash{b}}

	ok, _ := m.AddBlock(blkA, false)
	require.True(t, ok)
	ok, _ = m.AddBlock(blkB, false)
	require.True(t, ok)
	ok, missing := m.AddBlock(blkC, false)
	require.True(t, ok, "missing: %v", missing)

	order, err := m.DagBlockOrder(c, 1)
	require.NoError(t, err)

	want := []types.Hash{a, b, c}
	if lessHash(b, a) {
		want = []types.Hash{b, a, c}
	}
	assert.Equal(t, want, order)
}

func TestDagBlockOrder_AlreadyFinalizedReturnsEmpty(t *testing.T) {
	m := newTestManager(Config{ExpiryLimit: 1000})
	genesis := types.Hash{}
	a := hashFromByte(1)
	blkA := &types.DagBlock{Hash: a, Level: 1, Pivot: genesis}
	ok, _ := m.AddBlock(blkA, false)
	require.True(t, ok)

	require.NoError(t, m.SetBlockOrder(a, 1, []types.Hash{a}))

	order, err := m.DagBlockOrder(a, 1)
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestSetBlockOrder_ExpiryPruning(t *testing.T) {
	m := newTestManager(Config{ExpiryLimit: 5})

	genesis := types.Hash{}
	prev := genesis
	var anchor types.Hash
	for lvl := uint64(1); lvl <= 10; lvl++ {
		h := hashFromByte(byte(lvl))
		blk := &types.DagBlock{Hash: h, Level: lvl, Pivot: prev}
		ok, _ := m.AddBlock(blk, false)
		require.True(t, ok)
		prev = h
		anchor = h
	}

	// Side branch off genesis, not an ancestor of anchor, so it is
	// never included in dag_block_order and survives SetBlockOrder's
	// order-removal step — only the separate expiry sweep can prune it.
	sideLow := hashFromByte(0xA0 | 4)
	ok, _ := m.AddBlock(&types.DagBlock{Hash: sideLow, Level: 4, Pivot: genesis}, false)
	require.True(t, ok)
	sideHigh := hashFromByte(0xA0 | 6)
	ok, _ = m.AddBlock(&types.DagBlock{Hash: sideHigh, Level: 6, Pivot: genesis}, false)
	require.True(t, ok)

	order, err := m.DagBlockOrder(anchor, 1)
	require.NoError(t, err)
	require.NoError(t, m.SetBlockOrder(anchor, 1, order))

	m.mu.RLock()
	_, hasLow := m.blocks[sideLow]
	_, hasHigh := m.blocks[sideHigh]
	m.mu.RUnlock()

	assert.False(t, hasLow, "level 4 side block should be pruned below expiry level 5")
	assert.True(t, hasHigh, "level 6 side block is above the expiry level and must remain")
}

func TestGhostPath_SingleChainEqualsChainItself(t *testing.T) {
	m := newTestManager(Config{ExpiryLimit: 1000})
	genesis := types.Hash{}
	a := hashFromByte(1)
	b := hashFromByte(2)

	ok, _ := m.AddBlock(&types.DagBlock{Hash: a, Level: 1, Pivot: genesis}, false)
	require.True(t, ok)
	ok, _ = m.AddBlock(&types.DagBlock{Hash: b, Level: 2, Pivot: a}, false)
	require.True(t, ok)

	path := m.GhostPath(genesis)
	assert.Equal(t, []types.Hash{a, b}, path)
}
