package main

import (
	"log"
	"sync"

	"github.com/dagledger/consensus-core/pkg/types"
)

// memTxPool is a minimal in-memory TransactionPool: a devnet stand-in
// for a real mempool, pending a production database/transport.
type memTxPool struct {
	mu      sync.Mutex
	pending map[types.Hash]uint32 // hash -> shard
	order   []types.Hash
}

func newMemTxPool() *memTxPool {
	return &memTxPool{pending: make(map[types.Hash]uint32)}
}

func (p *memTxPool) Submit(h types.Hash, shard uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[h]; ok {
		return
	}
	p.pending[h] = shard
	p.order = append(p.order, h)
}

func (p *memTxPool) PendingForShard(shard uint32, maxCount int) ([]types.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Hash, 0, maxCount)
	for _, h := range p.order {
		if len(out) >= maxCount {
			break
		}
		if s, ok := p.pending[h]; ok && s == shard {
			out = append(out, h)
		}
	}
	return out, nil
}

func (p *memTxPool) MarkIncluded(txHashes []types.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range txHashes {
		delete(p.pending, h)
	}
	kept := p.order[:0]
	for _, h := range p.order {
		if _, ok := p.pending[h]; ok {
			kept = append(kept, h)
		}
	}
	p.order = kept
	return nil
}

// staticDposOracle reports equal vote weight for a fixed validator set,
// the simplest DposOracle that satisfies the interface without standing
// up a real staking contract. EligibleVoteCount/TotalEligibleVotes do
// not vary by period: a devnet's validator set is fixed at genesis.
type staticDposOracle struct {
	votesPerValidator uint64
	validators        map[types.Address]bool
}

func newStaticDposOracle(validators []types.Address, votesPerValidator uint64) *staticDposOracle {
	set := make(map[types.Address]bool, len(validators))
	for _, v := range validators {
		set[v] = true
	}
	return &staticDposOracle{votesPerValidator: votesPerValidator, validators: set}
}

func (o *staticDposOracle) EligibleVoteCount(validator types.Address, period uint64) (uint64, error) {
	if !o.validators[validator] {
		return 0, nil
	}
	return o.votesPerValidator, nil
}

func (o *staticDposOracle) TotalEligibleVotes(period uint64) (uint64, error) {
	return o.votesPerValidator * uint64(len(o.validators)), nil
}

// logExecutor is a FinalChainExecutor that logs the periods it is asked
// to execute rather than applying them to a real state-transition
// engine, which this module deliberately treats as an external seam.
type logExecutor struct {
	logger *log.Logger
}

func (e *logExecutor) ExecutePeriod(period uint64, orderedBlockHashes []types.Hash) error {
	e.logger.Printf("execute period=%d blocks=%d", period, len(orderedBlockHashes))
	return nil
}

// logNetworkOut logs outbound gossip instead of shipping it over a real
// transport; the wire protocol and peer management are explicitly out
// of this module's scope.
type logNetworkOut struct {
	logger *log.Logger
}

func (n *logNetworkOut) BroadcastDagBlock(b *types.DagBlock) error {
	n.logger.Printf("gossip dag_block hash=%s level=%d author=%s", b.Hash, b.Level, b.Author)
	return nil
}

func (n *logNetworkOut) BroadcastVote(v *types.Vote) error {
	n.logger.Printf("gossip vote voter=%s period=%d round=%d step=%s", v.Voter, v.Period, v.Round, v.Step)
	return nil
}

func (n *logNetworkOut) BroadcastPbftBlock(b *types.PbftBlock) error {
	n.logger.Printf("gossip pbft_block period=%d anchor=%s order_hash=%s", b.Period, b.Anchor.BlockHash, b.OrderHash)
	return nil
}

// logMaliciousReporter logs flagged peers; production deployments wire
// this to a real peer-reputation/ban system in the network layer.
type logMaliciousReporter struct {
	logger *log.Logger
}

func (r *logMaliciousReporter) ReportMalicious(peer types.Address, reason string) {
	r.logger.Printf("malicious peer flagged peer=%s reason=%q", peer, reason)
}
