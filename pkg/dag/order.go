package dag

import (
	"sort"

	"github.com/dagledger/consensus-core/pkg/types"
)

// DagBlockOrder computes the deterministic topological ordering of all
// non-finalized blocks reachable from anchor: partition by level,
// within each level sort by (is_on_anchor_pivot_chain ? 0 : 1, hash),
// emit levels ascending. Pure function of DAG state and arguments —
// calling it twice with the same state yields byte-identical output.
//
// If anchor's period has already been finalized, returns (nil, nil)
// without mutating anything — the open question's documented
// resolution (see DESIGN.md).
func (m *Manager) DagBlockOrder(anchor types.Hash, period uint64) ([]types.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if period <= m.period {
		return nil, nil
	}
	if _, exists := m.blocks[anchor]; !exists && !anchor.IsZero() {
		return nil, nil
	}

	reachable := m.reachableFromLocked(anchor)
	if len(reachable) == 0 {
		return nil, nil
	}

	onPivotChain := make(map[types.Hash]bool, len(reachable))
	cur := anchor
	for {
		onPivotChain[cur] = true
		if cur.IsZero() {
			break
		}
		b, ok := m.blocks[cur]
		if !ok {
			break
		}
		if b.Pivot == cur {
			break // defensive: avoid infinite loop on malformed data
		}
		if b.Pivot.IsZero() {
			onPivotChain[b.Pivot] = true
			break
		}
		cur = b.Pivot
	}

	byLevel := make(map[uint64][]types.Hash)
	for h := range reachable {
		byLevel[m.levels[h]] = append(byLevel[m.levels[h]], h)
	}
	var levels []uint64
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	order := make([]types.Hash, 0, len(reachable))
	for _, l := range levels {
		group := byLevel[l]
		sort.Slice(group, func(i, j int) bool {
			pi, pj := onPivotChain[group[i]], onPivotChain[group[j]]
			if pi != pj {
				return pi // pivot-chain members sort first
			}
			return lessHash(group[i], group[j])
		})
		order = append(order, group...)
	}
	return order, nil
}

// reachableFromLocked returns the set of non-finalized blocks reachable
// from anchor via pivot or tip edges (ancestors), including anchor
// itself. Caller holds mu.
func (m *Manager) reachableFromLocked(anchor types.Hash) map[types.Hash]bool {
	reachable := make(map[types.Hash]bool)
	if anchor.IsZero() {
		return reachable
	}
	queue := []types.Hash{anchor}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if reachable[cur] || cur.IsZero() {
			continue
		}
		b, ok := m.blocks[cur]
		if !ok {
			continue
		}
		reachable[cur] = true
		if !b.Pivot.IsZero() {
			queue = append(queue, b.Pivot)
		}
		for _, t := range b.Tips {
			queue = append(queue, t)
		}
	}
	return reachable
}

// SetBlockOrder commits the ordering produced by DagBlockOrder: removes
// the ordered blocks from the non-finalized set, advances period,
// recomputes dag_expiry_level, prunes expired blocks, and recomputes
// the frontier. Callers (the PBFT manager) must hold Manager.Lock()
// across the DagBlockOrder -> SetBlockOrder sequence.
func (m *Manager) SetBlockOrder(anchor types.Hash, period uint64, order []types.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	anchorLevel := m.levels[anchor]
	for _, h := range order {
		delete(m.blocks, h)
		delete(m.levels, h)
		delete(m.children, h)
		delete(m.pivotChildren, h)
	}
	if period > m.period {
		m.period = period
	}

	newExpiry := uint64(0)
	if anchorLevel > m.cfg.ExpiryLimit {
		newExpiry = anchorLevel - m.cfg.ExpiryLimit
	}
	if newExpiry > m.dagExpiryLevel {
		m.dagExpiryLevel = newExpiry
	}

	for h, l := range m.levels {
		if l < m.dagExpiryLevel {
			delete(m.blocks, h)
			delete(m.levels, h)
			delete(m.children, h)
			delete(m.pivotChildren, h)
			m.stats.Pruned++
		}
	}

	m.recomputeFrontierLocked()
	return nil
}

// PruneBeforePeriod is the light-node pruning hook. It removes nothing
// and always returns nil: the in-memory set holds no finalized blocks
// (SetBlockOrder removes them), and persisted period_data/dag_blocks
// records older than period are left in the store.
func (m *Manager) PruneBeforePeriod(period uint64) error {
	if m.store == nil {
		return nil
	}
	// The ledger exposes no delete operation, so persisted records are
	// not touched here.
	return nil
}
