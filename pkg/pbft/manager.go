// Package pbft implements the PBFT Manager: the four-step
// (propose/soft-vote/cert-vote/next-vote) round state machine, lambda
// backoff, and period finalization.
package pbft

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dagledger/consensus-core/pkg/crypto/bls"
	"github.com/dagledger/consensus-core/pkg/dag"
	"github.com/dagledger/consensus-core/pkg/ledger"
	"github.com/dagledger/consensus-core/pkg/types"
	"github.com/dagledger/consensus-core/pkg/vote"
)

// Config is the subset of pkg/config.Config the PBFT manager needs.
type Config struct {
	LambdaMsMin     uint32
	LambdaBound     uint16 // cap on the exponential-backoff factor
	DelegationDelay uint64
	CommitteeSize   uint32
}

// Manager is the PBFT Manager.
type Manager struct {
	cfg      Config
	dagMgr   *dag.Manager
	voteMgr  *vote.Manager
	store    *ledger.LedgerStore
	dpos     types.DposOracle
	executor types.FinalChainExecutor
	netOut   types.NetworkOut
	signer   *bls.PrivateKey
	self     types.Address
	logger   *log.Logger

	mu      sync.RWMutex
	period  uint64
	round   uint64
	step    types.Step
	lambda  time.Duration
	// priorRoundNextVoted carries the next round's constrained
	// propose/soft-vote candidate: the block that reached 2t+1 next
	// votes last round, or the zero hash if the round closed on null.
	priorRoundNextVoted types.Hash
	priorRoundHasValue  bool

	stop    chan struct{}
	stopped chan struct{}
}

// NewManager constructs a PBFT Manager. signer is nil for a
// non-proposing (observer) node.
func NewManager(cfg Config, dagMgr *dag.Manager, voteMgr *vote.Manager, store *ledger.LedgerStore, dpos types.DposOracle, executor types.FinalChainExecutor, netOut types.NetworkOut, signer *bls.PrivateKey, self types.Address, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:      cfg,
		dagMgr:   dagMgr,
		voteMgr:  voteMgr,
		store:    store,
		dpos:     dpos,
		executor: executor,
		netOut:   netOut,
		signer:   signer,
		self:     self,
		logger:   logger,
		period:   1,
		round:    1,
		step:     types.StepPropose,
		lambda:   time.Duration(cfg.LambdaMsMin) * time.Millisecond,
	}
}

// CurrentRound returns the manager's current (period, round, step)
// under a shared lock — the one external read into round state spec
// §5 allows outside the worker goroutine.
func (m *Manager) CurrentRound() (period, round uint64, step types.Step) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.period, m.round, m.step
}

// Start launches the manager's single worker goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})
	go m.run(ctx)
}

// Stop signals the worker goroutine to exit and waits for it.
func (m *Manager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.stopped
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		default:
		}
		m.runRound(ctx)
	}
}

// runRound executes one pass of the four-step state machine for the
// manager's current (period, round), advancing round (and lambda) on
// timeout, or period on finalization.
func (m *Manager) runRound(ctx context.Context) {
	m.mu.Lock()
	period, round, lambda := m.period, m.round, m.lambda
	m.step = types.StepPropose
	m.mu.Unlock()

	finalized := m.stepPropose(ctx, period, round, lambda)
	if finalized {
		return
	}
	finalized = m.stepSoftVote(ctx, period, round, lambda)
	if finalized {
		return
	}
	finalized = m.stepCertVote(ctx, period, round, lambda)
	if finalized {
		return
	}
	m.stepNextVote(ctx, period, round, lambda)

	m.advanceRound()
}

func (m *Manager) advanceRound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.round++
	m.step = types.StepPropose

	// The factor doubles each round, capped at LambdaBound (1<<16 when
	// LambdaBound is 0, which keeps the duration from overflowing).
	bound := uint64(m.cfg.LambdaBound)
	if bound == 0 {
		bound = 1 << 16
	}
	factor := uint64(1)
	for r := uint64(1); r < m.round && factor < bound; r++ {
		factor *= 2
	}
	if factor > bound {
		factor = bound
	}
	m.lambda = time.Duration(m.cfg.LambdaMsMin) * time.Millisecond * time.Duration(factor)
	if m.store != nil {
		_ = m.store.SetField(fieldRound, m.round)
	}
}

func (m *Manager) totalEligibleVotes(period uint64) uint64 {
	if m.dpos == nil {
		return 0
	}
	snap := uint64(0)
	if period > m.cfg.DelegationDelay {
		snap = period - m.cfg.DelegationDelay
	}
	total, err := m.dpos.TotalEligibleVotes(snap)
	if err != nil {
		return 0
	}
	return total
}

// Persistence field/status names for pbft_mgr_field / pbft_mgr_status.
const (
	fieldRound  = "current_round"
	fieldPeriod = "current_period"
	fieldStep   = "current_step"
)
