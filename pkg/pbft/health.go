package pbft

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrRoundStalled indicates the PBFT round/period counters have not
// advanced within stallThreshold.
var ErrRoundStalled = errors.New("pbft: round stalled, no period advancement")

// HealthMonitor periodically samples Manager.CurrentRound and raises
// ErrRoundStalled if neither period nor round has advanced for longer
// than stallThreshold.
type HealthMonitor struct {
	mu sync.RWMutex

	mgr *Manager

	stallThreshold time.Duration
	checkInterval  time.Duration

	lastPeriod      uint64
	lastRound       uint64
	lastProgressAt  time.Time
	isStalled       bool
	stallStartedAt  time.Time
	consecutiveHits int

	onStallDetected func(period, round uint64, stallDuration time.Duration)
	onRecovery      func(period, round uint64)

	logger *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// HealthMonitorConfig configures a HealthMonitor.
type HealthMonitorConfig struct {
	StallThreshold time.Duration // DefaultHealthMonitorConfig uses 30s; caller picks
	CheckInterval  time.Duration
}

// DefaultHealthMonitorConfig returns sane polling defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		StallThreshold: 30 * time.Second,
		CheckInterval:  5 * time.Second,
	}
}

// NewHealthMonitor constructs a HealthMonitor watching mgr.
func NewHealthMonitor(cfg HealthMonitorConfig, mgr *Manager, logger *log.Logger) *HealthMonitor {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		mgr:            mgr,
		stallThreshold: cfg.StallThreshold,
		checkInterval:  cfg.CheckInterval,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetOnStallDetected registers a callback fired (in its own goroutine)
// the instant the round is judged stalled.
func (h *HealthMonitor) SetOnStallDetected(fn func(period, round uint64, stallDuration time.Duration)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onStallDetected = fn
}

// SetOnRecovery registers a callback fired when progress resumes after
// a stall.
func (h *HealthMonitor) SetOnRecovery(fn func(period, round uint64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovery = fn
}

// Start launches the monitor's polling goroutine.
func (h *HealthMonitor) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("pbft: health monitor already running")
	}
	h.running = true
	period, round, _ := h.mgr.CurrentRound()
	h.lastPeriod, h.lastRound = period, round
	h.lastProgressAt = time.Now()
	h.mu.Unlock()

	go h.loop()
	return nil
}

// Stop halts the polling goroutine.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.cancel()
	h.running = false
}

// Check samples Manager.CurrentRound once and reports ErrRoundStalled
// if no progress has been observed for longer than stallThreshold.
func (h *HealthMonitor) Check() error {
	period, round, _ := h.mgr.CurrentRound()

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if period == h.lastPeriod && round == h.lastRound {
		stallDuration := now.Sub(h.lastProgressAt)
		if stallDuration > h.stallThreshold {
			if !h.isStalled {
				h.isStalled = true
				h.stallStartedAt = h.lastProgressAt
				h.consecutiveHits++
				h.logger.Printf("pbft: round stalled at period=%d round=%d duration=%v", period, round, stallDuration)
				if h.onStallDetected != nil {
					fn := h.onStallDetected
					go fn(period, round, stallDuration)
				}
			}
			return ErrRoundStalled
		}
		return nil
	}

	wasStalled := h.isStalled
	h.lastPeriod, h.lastRound = period, round
	h.lastProgressAt = now
	h.isStalled = false
	if wasStalled {
		h.logger.Printf("pbft: round recovered at period=%d round=%d", period, round)
		if h.onRecovery != nil {
			fn := h.onRecovery
			go fn(period, round)
		}
	}
	return nil
}

func (h *HealthMonitor) loop() {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			_ = h.Check()
		}
	}
}

// StatusReport is HealthMonitor's current snapshot, exposed by the
// metrics/health HTTP surface.
type StatusReport struct {
	Status          string        `json:"status"`
	Period          uint64        `json:"period"`
	Round           uint64        `json:"round"`
	IsStalled       bool          `json:"is_stalled"`
	StallDuration   time.Duration `json:"stall_duration_ns"`
	ConsecutiveHits int           `json:"consecutive_stalls"`
}

// Status returns the monitor's current snapshot.
func (h *HealthMonitor) Status() StatusReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	var stallDuration time.Duration
	if h.isStalled {
		status = "stalled"
		stallDuration = time.Since(h.stallStartedAt)
	}
	return StatusReport{
		Status:          status,
		Period:          h.lastPeriod,
		Round:           h.lastRound,
		IsStalled:       h.isStalled,
		StallDuration:   stallDuration,
		ConsecutiveHits: h.consecutiveHits,
	}
}

// ResetStallCounter clears the consecutive-stall counter, e.g. after
// an operator forces a round change.
func (h *HealthMonitor) ResetStallCounter() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveHits = 0
}
