// Command node runs a single DAG-ledger consensus core validator:
// the DAG manager, vote manager, PBFT manager and proposer worker
// wired to an embedded cometbft-db instance, with /metrics and
// /health HTTP endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dagledger/consensus-core/pkg/config"
	"github.com/dagledger/consensus-core/pkg/crypto/bls"
	"github.com/dagledger/consensus-core/pkg/crypto/sortition"
	"github.com/dagledger/consensus-core/pkg/dag"
	"github.com/dagledger/consensus-core/pkg/kvdb"
	"github.com/dagledger/consensus-core/pkg/ledger"
	"github.com/dagledger/consensus-core/pkg/metrics"
	"github.com/dagledger/consensus-core/pkg/pbft"
	"github.com/dagledger/consensus-core/pkg/proposer"
	"github.com/dagledger/consensus-core/pkg/types"
	"github.com/dagledger/consensus-core/pkg/vote"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		validatorID = flag.String("validator-id", "", "validator ID (overrides VALIDATOR_ID env var)")
		showHelp    = flag.Bool("help", false, "show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *validatorID != "" {
		cfg.ValidatorID = *validatorID
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatalf("create data dir %s: %v", cfg.DataDir, err)
	}

	db, err := dbm.NewGoLevelDB("consensus-core", cfg.KvDBDir)
	if err != nil {
		log.Fatalf("open goleveldb at %s: %v", cfg.KvDBDir, err)
	}
	defer db.Close()

	store := ledger.NewLedgerStore(kvdb.NewKVAdapter(db))

	keyPath := cfg.BlsKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "bls_key.hex")
	}
	blsKM, err := bls.InitializeValidatorBLSKey(cfg.ValidatorID, "dagledger", keyPath)
	if err != nil {
		log.Fatalf("initialize BLS key: %v", err)
	}
	self := types.Address(blsKM.GetAddress())
	log.Printf("validator %s address=%s bls_pubkey=%s", cfg.ValidatorID, self, blsKM.GetPublicKeyHex())

	dpos := newStaticDposOracle([]types.Address{self}, cfg.EligibilityBalanceThreshold/max1(cfg.VoteEligibilityBalanceStep))
	txPool := newMemTxPool()
	reporter := &logMaliciousReporter{logger: log.New(log.Writer(), "[malicious] ", log.LstdFlags)}
	netOut := &logNetworkOut{logger: log.New(log.Writer(), "[gossip] ", log.LstdFlags)}
	executor := &logExecutor{logger: log.New(log.Writer(), "[executor] ", log.LstdFlags)}

	dagCfg := dag.Config{
		DagBlocksSize:      cfg.DagBlocksSize,
		GhostPathMoveBack:  cfg.GhostPathMoveBack,
		GasLimit:           cfg.DagGasLimit,
		ExpiryLimit:        uint64(cfg.ExpiryLimit),
		MaxLevelsPerPeriod: uint64(cfg.MaxLevelsPerPeriod),
		MaxTipsPerBlock:    16,
	}
	dagMgr := dag.NewManager(dagCfg, store, dpos, txPool, reporter)

	voteScheme := vote.NewBLSScheme()
	voteScheme.RegisterKey(self, blsKM.GetPublicKey())
	voteMgr := vote.NewManager(voteScheme, dpos, store, reporter, cfg.DelegationDelay, cfg.VoteRetentionPeriods)

	pbftCfg := pbft.Config{
		LambdaMsMin:     cfg.LambdaMsMin,
		LambdaBound:     cfg.LambdaBound,
		DelegationDelay: cfg.DelegationDelay,
		CommitteeSize:   cfg.CommitteeSize,
	}
	pbftLogger := log.New(log.Writer(), "[pbft] ", log.LstdFlags)
	pbftMgr := pbft.NewManager(pbftCfg, dagMgr, voteMgr, store, dpos, executor, netOut, blsKM.GetPrivateKey(), self, pbftLogger)

	health := pbft.NewHealthMonitor(pbft.DefaultHealthMonitorConfig(), pbftMgr, pbftLogger)
	health.SetOnStallDetected(func(period, round uint64, d time.Duration) {
		pbftLogger.Printf("STALL DETECTED period=%d round=%d duration=%v", period, round, d)
	})

	proposerCfg := proposer.Config{
		ShardCount:       uint32(cfg.Shard),
		MinProposalDelay: cfg.MinProposalDelay,
		VdfCheckEvery:    cfg.VdfCheckEvery,
		Difficulty: sortition.DifficultyClass{
			Normal: uint64(cfg.VdfDifficultyMax),
			Stale:  uint64(cfg.VdfDifficultyStale),
			Min:    uint64(cfg.VdfDifficultyMin),
		},
		ThresholdUpper:   float64(cfg.VrfThresholdUpper),
		DelegationDelay:  cfg.DelegationDelay,
		PreemptPollEvery: cfg.PreemptPollEvery,
	}
	proposerLogger := log.New(log.Writer(), "[proposer] ", log.LstdFlags)
	proposerWorker := proposer.NewWorker(proposerCfg, dagMgr, store, dpos, txPool, netOut, blsKM.GetPrivateKey(), self, proposerLogger)

	registry := prometheus.NewRegistry()
	metricsSet, err := metrics.New(registry)
	if err != nil {
		log.Fatalf("register metrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := health.Status()
		w.Header().Set("Content-Type", "application/json")
		if status.IsStalled {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		// Devnet-only convenience endpoint: accept a raw tx hash and
		// shard so the proposer has something to pack. Production
		// ingestion replaces memTxPool with a real mempool entirely.
		var req struct {
			Hash  string `json:"hash"`
			Shard uint32 `json:"shard"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		txPool.Submit(types.BytesToHash([]byte(req.Hash)), req.Shard)
		w.WriteHeader(http.StatusAccepted)
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())

	pbftMgr.Start(ctx)
	if err := health.Start(); err != nil {
		log.Fatalf("start health monitor: %v", err)
	}
	proposerWorker.Start(ctx)
	stopMetricsPoll := pollMetrics(ctx, dagMgr, pbftMgr, metricsSet)

	go func() {
		log.Printf("listening on %s (/metrics, /health, /submit)", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	cancel()
	stopMetricsPoll()
	proposerWorker.Stop()
	health.Stop()
	pbftMgr.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
	log.Printf("stopped")
}

// pollMetrics samples the DAG manager and PBFT manager on an interval and sets the corresponding Prometheus gauges — kept
// as an external polling loop rather than instrumentation calls inside
// pkg/dag/pkg/pbft/pkg/proposer themselves, so the core consensus
// packages carry no dependency on the metrics package.
func pollMetrics(ctx context.Context, dagMgr *dag.Manager, pbftMgr *pbft.Manager, m *metrics.Metrics) (stop func()) {
	ticker := time.NewTicker(time.Second)
	done := make(chan struct{})
	var lastReceived, lastDuplicate uint64
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-ticker.C:
				stats := dagMgr.Stats()
				if stats.Received > lastReceived {
					m.DagBlocksTotal.Add(float64(stats.Received - lastReceived))
					lastReceived = stats.Received
				}
				if stats.Duplicate > lastDuplicate {
					m.DagBlocksRejected.Add(float64(stats.Duplicate - lastDuplicate))
					lastDuplicate = stats.Duplicate
				}
				m.DagFrontierLevel.Set(float64(dagMgr.LatestPivotAndTips().Level))

				period, round, step := pbftMgr.CurrentRound()
				m.PbftPeriod.Set(float64(period))
				m.PbftRound.Set(float64(round))
				m.PbftStep.Set(float64(step))
			}
		}
	}()
	return func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}
