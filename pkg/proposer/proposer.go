// Package proposer implements the DAG Block Proposer: one cooperative
// worker per wallet that decides when and what to propose, gates
// proposal on VRF sortition, pays a VDF delay, and submits the
// resulting block to the DAG Manager.
package proposer

import (
	"context"
	"crypto/sha256"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dagledger/consensus-core/pkg/crypto/bls"
	"github.com/dagledger/consensus-core/pkg/crypto/sortition"
	"github.com/dagledger/consensus-core/pkg/dag"
	"github.com/dagledger/consensus-core/pkg/ledger"
	"github.com/dagledger/consensus-core/pkg/types"
)

// Config is the subset of the node-wide config a proposer worker needs.
type Config struct {
	ShardCount        uint32
	MinProposalDelay  time.Duration
	VdfCheckEvery      uint64
	Difficulty        sortition.DifficultyClass
	ThresholdUpper    float64
	DelegationDelay   uint64
	PreemptPollEvery  time.Duration // spec: 100ms
}

// walletState is the per-wallet bookkeeping spec §4.2 names:
// {max_num_tries, trx_shard, num_tries, last_propose_level}.
type walletState struct {
	maxNumTries      int
	trxShard         uint32
	numTries         int
	lastProposeLevel uint64
}

// Worker runs one wallet's proposer loop.
type Worker struct {
	cfg      Config
	dagMgr   *dag.Manager
	store    *ledger.LedgerStore
	dpos     types.DposOracle
	txPool   types.TransactionPool
	netOut   types.NetworkOut
	signer   *bls.PrivateKey
	self     types.Address
	logger   *log.Logger

	mu    sync.Mutex
	state walletState

	stop    chan struct{}
	stopped chan struct{}
}

// NewWorker constructs a proposer worker for one wallet. shardCount
// must be >= 1; trx_shard is derived deterministically from the
// wallet's address modulo shardCount.
func NewWorker(cfg Config, dagMgr *dag.Manager, store *ledger.LedgerStore, dpos types.DposOracle, txPool types.TransactionPool, netOut types.NetworkOut, signer *bls.PrivateKey, self types.Address, logger *log.Logger) *Worker {
	shardCount := cfg.ShardCount
	if shardCount == 0 {
		shardCount = 1
	}
	maxTries := 1 + int(self[19]%10) // 0-9x self-address-derived backoff multiplier
	if logger == nil {
		logger = log.Default()
	}

	return &Worker{
		cfg:    cfg,
		dagMgr: dagMgr,
		store:  store,
		dpos:   dpos,
		txPool: txPool,
		netOut: netOut,
		signer: signer,
		self:   self,
		logger: logger,
		state: walletState{
			maxNumTries: maxTries,
			trxShard:    shardFor(self, shardCount),
		},
	}
}

func shardFor(addr types.Address, shardCount uint32) uint32 {
	sum := sha256.Sum256(addr[:])
	var acc uint64
	for _, b := range sum[:8] {
		acc = acc<<8 | uint64(b)
	}
	return uint32(acc % uint64(shardCount))
}

// Start launches the worker's main loop.
func (w *Worker) Start(ctx context.Context) {
	w.stop = make(chan struct{})
	w.stopped = make(chan struct{})
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it.
func (w *Worker) Stop() {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.stopped
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}
		skipSleep := w.attempt(ctx)
		if !skipSleep {
			if !w.sleep(ctx, w.cfg.MinProposalDelay) {
				return
			}
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	case <-t.C:
		return true
	}
}

// attempt runs one pass of spec §4.2's ten-step main loop. Returns
// true when the caller should retry immediately without sleeping
// (the preempt-on-progress restart).
func (w *Worker) attempt(ctx context.Context) (skipSleep bool) {
	id := uuid.New()

	// Step 1: empty pool -> sleep and retry.
	pending, err := w.txPool.PendingForShard(w.wShard(), 1)
	if err != nil || len(pending) == 0 {
		return false
	}

	// Step 2-3: frontier and propose_level/period.
	frontier := w.dagMgr.LatestPivotAndTips()
	proposeLevel := frontier.Level + 1
	cfg := w.dagMgr.Cfg()
	proposalPeriod := cfg.LevelToPeriod(proposeLevel)

	// Step 4: DPOS eligibility at proposal_period.
	snapPeriod := uint64(0)
	if proposalPeriod > w.cfg.DelegationDelay {
		snapPeriod = proposalPeriod - w.cfg.DelegationDelay
	}
	voteCount, err := w.dpos.EligibleVoteCount(w.self, snapPeriod)
	if err != nil || voteCount == 0 {
		return false
	}
	totalVotes, err := w.dpos.TotalEligibleVotes(snapPeriod)
	if err != nil || totalVotes == 0 {
		return false
	}

	// Step 5: VRF sortition input salted with the period's anchor hash.
	periodHash := w.periodBlockHash(proposalPeriod)
	input := sortition.VrfInput(proposeLevel, w.self)
	input = append(input, periodHash[:]...)
	proof := sortition.Prove(w.signer, input)
	if !sortition.Eligible(proof, voteCount, totalVotes, w.cfg.ThresholdUpper) {
		return false
	}
	stale := w.isStale(proof)

	// Step 6: stale backoff.
	w.mu.Lock()
	if stale {
		if proposeLevel == w.state.lastProposeLevel && w.state.numTries < w.state.maxNumTries {
			w.state.numTries++
			w.mu.Unlock()
			return false
		}
		w.state.numTries = 0
	}
	w.state.lastProposeLevel = proposeLevel
	w.mu.Unlock()

	diff := w.cfg.Difficulty.Normal
	if stale {
		diff = w.cfg.Difficulty.Stale
	}
	if diff < w.cfg.Difficulty.Min {
		diff = w.cfg.Difficulty.Min
	}

	// Step 7: VDF with preempt-on-progress cancellation.
	vdfCtx, cancel := context.WithCancel(ctx)
	vdfDone := make(chan struct{})
	var vdfProof types.VdfProof
	var vdfErr error
	go func() {
		defer close(vdfDone)
		vdfProof, vdfErr = sortition.ComputeVdf(vdfCtx, proof.Output, diff, w.cfg.VdfCheckEvery)
	}()

	preempted := w.watchForPreemption(vdfCtx, cancel, vdfDone, frontier.Level)
	<-vdfDone
	if preempted || vdfErr != nil {
		return true // restart immediately, skipping the sleep
	}
	vdfProof.Stale = stale

	// Step 8: post-VDF staleness recheck.
	if stale {
		if !w.sleep(ctx, time.Second) {
			return false
		}
		if w.dagMgr.LatestPivotAndTips().Level > frontier.Level {
			return true // frontier advanced while sleeping: abandon, restart
		}
	}
	if w.dagMgr.LatestPivotAndTips().Level > frontier.Level {
		return true
	}

	// Step 9: pack transactions for this shard.
	txHashes, err := w.txPool.PendingForShard(w.wShard(), maxTxPerBlock)
	if err != nil || len(txHashes) == 0 {
		return false
	}

	// Step 10: construct, sign, submit, broadcast.
	block := &types.DagBlock{
		Level:     proposeLevel,
		Pivot:     frontier.PivotChainHead,
		Tips:      frontier.Tips,
		Author:    w.self,
		Timestamp: types.NowMillis(),
		Shard:     w.wShard(),
		TxHashes:  txHashes,
		VrfProof:  proof,
		VdfProof:  vdfProof,
	}
	block.Hash = types.Hash(sha256.Sum256(block.SigningDigest()))
	sig := w.signer.SignWithDomain(block.SigningDigest(), bls.DomainDagBlock)
	block.Signature = sig.Bytes()

	added, _ := w.dagMgr.AddBlock(block, true)
	if !added {
		return false
	}
	_ = w.txPool.MarkIncluded(txHashes)
	if w.netOut != nil {
		_ = w.netOut.BroadcastDagBlock(block)
	}
	w.logger.Printf("proposer: attempt %s submitted dag block %s level=%d shard=%d", id, block.Hash, proposeLevel, w.wShard())
	return false
}

// watchForPreemption polls the frontier every PreemptPollEvery while
// the VDF worker runs; if a higher level appears it cancels vdfCtx and
// returns true (the caller waits on vdfDone for the worker to stop),
// satisfying the "must be observable within 100ms" contract.
func (w *Worker) watchForPreemption(ctx context.Context, cancel context.CancelFunc, vdfDone <-chan struct{}, baseLevel uint64) (preempted bool) {
	interval := w.cfg.PreemptPollEvery
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-vdfDone:
			return false
		case <-ctx.Done():
			cancel()
			return true
		case <-ticker.C:
			if w.dagMgr.LatestPivotAndTips().Level > baseLevel {
				cancel()
				return true
			}
		}
	}
}

func (w *Worker) isStale(proof types.VrfProof) bool {
	// A proof whose output's low bit is 1 maps to "stale" difficulty
	// class deterministically and without a second VRF call — matching
	// spec's "VRF sortition... yields both eligibility and a
	// difficulty-class" in one evaluation.
	if len(proof.Output) == 0 {
		return false
	}
	return proof.Output[len(proof.Output)-1]&1 == 1
}

func (w *Worker) wShard() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.trxShard
}

func (w *Worker) periodBlockHash(period uint64) types.Hash {
	if w.store == nil || period == 0 {
		return types.Hash{}
	}
	data, err := w.store.GetPeriodData(period - 1)
	if err != nil {
		return types.Hash{}
	}
	return data.Block.Anchor.BlockHash
}

const maxTxPerBlock = 2000
