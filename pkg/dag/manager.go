// Package dag implements the DAG Manager: the component that owns the
// in-memory block DAG (pivot tree + total DAG) over non-finalized
// blocks, serves frontier/admission queries, and — via order.go —
// produces and commits the anchor-based block ordering PBFT finalizes
// against.
package dag

import (
	"sort"
	"sync"

	"github.com/dagledger/consensus-core/pkg/crypto/bls"
	"github.com/dagledger/consensus-core/pkg/crypto/sortition"
	"github.com/dagledger/consensus-core/pkg/ledger"
	"github.com/dagledger/consensus-core/pkg/types"
)

// Config is the subset of pkg/config.Config the DAG manager needs.
type Config struct {
	DagBlocksSize      uint32 // max dag blocks per anchor
	GhostPathMoveBack  uint32
	GasLimit           uint64 // per dag block
	ExpiryLimit        uint64 // levels-below-anchor for pruning
	MaxLevelsPerPeriod uint64 // level -> period stride cap
	MaxTipsPerBlock    int
}

// Stats are node-local diagnostics counters, reproduced from the
// original's getDiagnosticsInfo family: useful for tests and metrics,
// not an RPC surface.
type Stats struct {
	Received  uint64
	Unique    uint64
	Duplicate uint64
	Pruned    uint64
}

// Manager owns the non-finalized DAG and its ordering.
type Manager struct {
	mu sync.RWMutex // protects the fields below: graph mutation / reads

	// orderMu is the order_dag_blocks_mutex_ equivalent: taken
	// exclusively by the PBFT manager for the duration of
	// dag_block_order -> set_block_order, so the order_hash a node
	// commits is guaranteed consistent with the order it later
	// applies, even though blocks keep arriving on mu concurrently.
	orderMu sync.Mutex

	cfg   Config
	store *ledger.LedgerStore

	dpos     types.DposOracle
	txPool   types.TransactionPool
	reporter types.MaliciousPeerReporter

	blocks        map[types.Hash]*types.DagBlock
	children      map[types.Hash][]types.Hash // total DAG: parent -> children (pivot+tip edges)
	pivotChildren map[types.Hash][]types.Hash // pivot tree: pivot-parent -> children
	levels        map[types.Hash]uint64

	genesis types.Hash

	pivot          types.Hash // current ghost-path tip
	tips           []types.Hash
	maxLevel       uint64
	period         uint64
	dagExpiryLevel uint64

	stats Stats
}

// NewManager constructs a DAG manager rooted at genesis (the block
// whose hash is the zero value of pivot/tips — "parent-of-genesis").
func NewManager(cfg Config, store *ledger.LedgerStore, dpos types.DposOracle, txPool types.TransactionPool, reporter types.MaliciousPeerReporter) *Manager {
	return &Manager{
		cfg:           cfg,
		store:         store,
		dpos:          dpos,
		txPool:        txPool,
		reporter:      reporter,
		blocks:        make(map[types.Hash]*types.DagBlock),
		children:      make(map[types.Hash][]types.Hash),
		pivotChildren: make(map[types.Hash][]types.Hash),
		levels:        make(map[types.Hash]uint64),
	}
}

// LevelToPeriod is the pure level->period mapping: the original
// maintains max_levels_per_period as a deterministic stride the
// proposer uses to derive proposal_period from propose_level.
func (c Config) LevelToPeriod(level uint64) uint64 {
	if c.MaxLevelsPerPeriod == 0 {
		return level
	}
	return level / c.MaxLevelsPerPeriod
}

// Stats returns a snapshot of the diagnostics counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Cfg returns the manager's configuration, read-only, for callers
// (the proposer) that need to derive level->period or gas-limit
// values without duplicating configuration loading.
func (m *Manager) Cfg() Config {
	return m.cfg
}

// Lock/Unlock expose the order_dag_blocks_mutex_-equivalent exclusive
// section for the PBFT manager to hold across dag_block_order ->
// set_block_order.
func (m *Manager) Lock()   { m.orderMu.Lock() }
func (m *Manager) Unlock() { m.orderMu.Unlock() }

// PivotAndTipsAvailable is a pure read: the subset of pivot ∪ tips not
// yet present in the DAG (nor equal to genesis).
func (m *Manager) PivotAndTipsAvailable(b *types.DagBlock) (bool, []types.Hash) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var missing []types.Hash
	check := func(h types.Hash) {
		if h.IsZero() {
			return
		}
		if _, ok := m.blocks[h]; !ok {
			missing = append(missing, h)
		}
	}
	check(b.Pivot)
	for _, t := range b.Tips {
		check(t)
	}
	return len(missing) == 0, missing
}

// VerifyBlock deterministically validates b without mutating state.
// See types.VerifyResult for the full outcome set.
func (m *Manager) VerifyBlock(b *types.DagBlock, trxs map[types.Hash][]byte, vrfPub *bls.PublicKey) types.VerifyResult {
	if ok, _ := m.PivotAndTipsAvailable(b); !ok {
		return types.FutureBlock
	}

	m.mu.RLock()
	pivotLevel := m.levels[b.Pivot]
	maxTipLevel := pivotLevel
	for _, t := range b.Tips {
		if l := m.levels[t]; l > maxTipLevel {
			maxTipLevel = l
		}
	}
	expiry := m.dagExpiryLevel
	m.mu.RUnlock()

	if !b.Pivot.IsZero() || len(b.Tips) > 0 {
		if b.Level != 1+max64(pivotLevel, maxTipLevel) {
			return types.AheadBlock
		}
	}
	if b.Level < expiry {
		return types.ExpiredBlock
	}
	if m.cfg.MaxTipsPerBlock > 0 && len(b.Tips) > m.cfg.MaxTipsPerBlock {
		return types.FailedTipsVerification
	}
	for _, t := range b.Tips {
		if t == b.Pivot {
			return types.FailedTipsVerification
		}
	}

	for _, h := range b.TxHashes {
		if _, ok := trxs[h]; !ok {
			return types.MissingTransaction
		}
	}
	if len(b.TrxGasEstimates) != len(b.TxHashes) {
		return types.IncorrectTransactionsEstimation
	}
	var sum uint64
	for _, g := range b.TrxGasEstimates {
		sum += g
	}
	if sum != b.GasEstimate {
		return types.IncorrectTransactionsEstimation
	}
	if m.cfg.GasLimit > 0 && b.GasEstimate > m.cfg.GasLimit {
		return types.BlockTooBig
	}

	if vrfPub != nil {
		input := sortition.VrfInput(b.Level, b.Author)
		if !sortition.Verify(vrfPub, input, b.VrfProof) {
			m.flagMalicious(b.Author, "invalid vrf proof")
			return types.NotEligible
		}
		if !sortition.VerifyVdf(b.VrfProof.Output, b.VdfProof) {
			m.flagMalicious(b.Author, "invalid vdf proof")
			return types.FailedVdfVerification
		}
	}

	if m.dpos != nil {
		period := m.cfg.LevelToPeriod(b.Level)
		votes, err := m.dpos.EligibleVoteCount(b.Author, period)
		if err != nil || votes == 0 {
			return types.NotEligible
		}
	}

	if sig, err := bls.SignatureFromBytes(b.Signature); err == nil && vrfPub != nil {
		if !vrfPub.VerifyWithDomain(sig, b.SigningDigest(), bls.DomainDagBlock) {
			m.flagMalicious(b.Author, "invalid block signature")
			return types.FailedVdfVerification
		}
	}

	return types.Verified
}

func (m *Manager) flagMalicious(author types.Address, reason string) {
	if m.reporter != nil {
		m.reporter.ReportMalicious(author, reason)
	}
}

// AddBlock inserts a verified block into the pivot tree and total DAG.
// Callers must have already run VerifyBlock (add_block does not
// re-derive verification); it only checks that the pivot and tips are
// present. save persists the block to the ledger when a store is set.
func (m *Manager) AddBlock(b *types.DagBlock, save bool) (added bool, missing []types.Hash) {
	if ok, miss := m.PivotAndTipsAvailable(b); !ok {
		return false, miss
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Received++
	if _, exists := m.blocks[b.Hash]; exists {
		m.stats.Duplicate++
		return true, nil
	}
	m.stats.Unique++

	m.blocks[b.Hash] = b
	m.levels[b.Hash] = b.Level
	m.pivotChildren[b.Pivot] = append(m.pivotChildren[b.Pivot], b.Hash)
	m.children[b.Pivot] = append(m.children[b.Pivot], b.Hash)
	for _, t := range b.Tips {
		m.children[t] = append(m.children[t], b.Hash)
	}

	if b.Level > m.maxLevel {
		m.maxLevel = b.Level
	}
	m.recomputeFrontierLocked()

	if save && m.store != nil {
		_ = m.store.PutDagBlock(b)
	}
	return true, nil
}

// LatestPivotAndTips reads the current frontier.
func (m *Manager) LatestPivotAndTips() types.DagFrontier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tips := make([]types.Hash, len(m.tips))
	copy(tips, m.tips)
	return types.DagFrontier{PivotChainHead: m.pivot, Tips: tips, Level: m.maxLevel}
}

// recomputeFrontierLocked recomputes pivot (ghost path from genesis)
// and tips (total-DAG leaves not on the pivot chain). Caller holds mu.
func (m *Manager) recomputeFrontierLocked() {
	path := m.ghostPathLocked(m.genesis)
	if len(path) > 0 {
		m.pivot = path[len(path)-1]
	} else {
		m.pivot = m.genesis
	}

	onPivotChain := make(map[types.Hash]bool, len(path)+1)
	onPivotChain[m.genesis] = true
	for _, h := range path {
		onPivotChain[h] = true
	}

	var tips []types.Hash
	for h := range m.blocks {
		if len(m.children[h]) == 0 && !onPivotChain[h] {
			tips = append(tips, h)
		}
	}
	sort.Slice(tips, func(i, j int) bool { return lessHash(tips[i], tips[j]) })
	m.tips = tips
}

// GhostPath descends from source, repeatedly following the pivot
// child with the largest subtree (by total-DAG reachable count),
// breaking ties by lexicographically smallest hash.
func (m *Manager) GhostPath(source types.Hash) []types.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ghostPathLocked(source)
}

func (m *Manager) ghostPathLocked(source types.Hash) []types.Hash {
	var path []types.Hash
	cur := source
	for {
		children := m.pivotChildren[cur]
		if len(children) == 0 {
			break
		}
		best := children[0]
		bestWeight := m.subtreeWeightLocked(best)
		for _, c := range children[1:] {
			w := m.subtreeWeightLocked(c)
			if w > bestWeight || (w == bestWeight && lessHash(c, best)) {
				best = c
				bestWeight = w
			}
		}
		path = append(path, best)
		cur = best
	}
	return path
}

// subtreeWeightLocked counts total-DAG descendants of h (inclusive),
// the weight ghost-path selection compares (ties go to the smaller hash).
func (m *Manager) subtreeWeightLocked(h types.Hash) int {
	seen := map[types.Hash]bool{h: true}
	queue := []types.Hash{h}
	count := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		count++
		for _, c := range m.children[cur] {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	return count
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
