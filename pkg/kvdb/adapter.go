// Copyright 2025 Certen Protocol
//
// KV Adapter for CometBFT Database Integration
// Wraps CometBFT's dbm.DB interface to implement ledger.KV and
// types.BatchStore.

package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"

	"github.com/dagledger/consensus-core/pkg/types"
)

// KVAdapter wraps a CometBFT dbm.DB and exposes the ledger.KV and
// types.BatchStore interfaces.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get implements ledger.KV.Get
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set implements ledger.KV.Set
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// BeginBatch implements types.BatchStore: writes put into the returned
// batch land in one atomic commit. PBFT period finalization does not
// use it; it writes period_data, dag_block_period and pbft_mgr_field
// through separate ledger.LedgerStore calls.
func (a *KVAdapter) BeginBatch() types.Batch {
	return &kvBatch{batch: a.db.NewBatch()}
}

// kvBatch adapts cometbft-db's native dbm.Batch to types.Batch.
type kvBatch struct {
	batch dbm.Batch
	err   error
}

func (b *kvBatch) Put(key, value []byte) {
	// dbm.Batch.Set can fail on a closed DB; finalization treats that
	// as a fatal error surfaced through Commit instead of here, so the
	// error is tracked and replayed at Commit time.
	if err := b.batch.Set(key, value); err != nil {
		b.err = err
	}
}

func (b *kvBatch) Delete(key []byte) {
	if err := b.batch.Delete(key); err != nil {
		b.err = err
	}
}

func (b *kvBatch) Commit() error {
	if b.err != nil {
		return b.err
	}
	return b.batch.WriteSync()
}
