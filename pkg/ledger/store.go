package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dagledger/consensus-core/pkg/types"
)

// KV defines the key-value store interface
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// LedgerStore provides high-level, typed access to the six persisted
// columns: dag_blocks, dag_block_period, period_data, verified_votes,
// pbft_mgr_field, pbft_mgr_status.
//
// CONCURRENCY: LedgerStore assumes single-writer access and is designed
// to be called from the DAG manager / PBFT manager's own goroutines,
// which already serialize writes behind their respective locks. If you
// need to use LedgerStore from additional goroutines, wrap it with your
// own synchronization.
type LedgerStore struct {
	kv KV
}

// NewLedgerStore creates a new LedgerStore instance
func NewLedgerStore(kv KV) *LedgerStore {
	return &LedgerStore{kv: kv}
}

// ====== KV Key Layout ======

var (
	prefixDagBlock       = []byte("dag_blocks:")
	prefixDagBlockPeriod = []byte("dag_block_period:")
	prefixPeriodData     = []byte("period_data:")
	prefixVerifiedVote   = []byte("verified_votes:")
	prefixPbftMgrField   = []byte("pbft_mgr_field:")
	prefixPbftMgrStatus  = []byte("pbft_mgr_status:")
)

func dagBlockKey(h types.Hash) []byte {
	return append(append([]byte{}, prefixDagBlock...), h[:]...)
}

func dagBlockPeriodKey(h types.Hash) []byte {
	return append(append([]byte{}, prefixDagBlockPeriod...), h[:]...)
}

func periodDataKey(period uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, period)
	return append(append([]byte{}, prefixPeriodData...), b...)
}

func voteBucketKey(k VoteBucketKey) []byte {
	buf := make([]byte, 0, len(prefixVerifiedVote)+17+32)
	buf = append(buf, prefixVerifiedVote...)
	var pr, rn [8]byte
	binary.BigEndian.PutUint64(pr[:], k.Period)
	binary.BigEndian.PutUint64(rn[:], k.Round)
	buf = append(buf, pr[:]...)
	buf = append(buf, rn[:]...)
	buf = append(buf, byte(k.Step))
	buf = append(buf, k.BlockHash[:]...)
	return buf
}

func pbftFieldKey(name string) []byte {
	return append(append([]byte{}, prefixPbftMgrField...), []byte(name)...)
}

func pbftStatusKey(name string) []byte {
	return append(append([]byte{}, prefixPbftMgrStatus...), []byte(name)...)
}

// ====== dag_blocks ======

// PutDagBlock persists a verified DAG block.
func (s *LedgerStore) PutDagBlock(b *types.DagBlock) error {
	v, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal dag block: %w", err)
	}
	return s.kv.Set(dagBlockKey(b.Hash), v)
}

// GetDagBlock loads a DAG block by hash.
func (s *LedgerStore) GetDagBlock(hash types.Hash) (*types.DagBlock, error) {
	v, err := s.kv.Get(dagBlockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("get dag block %s: %w", hash, err)
	}
	if len(v) == 0 {
		return nil, ErrDagBlockNotFound
	}
	var b types.DagBlock
	if err := json.Unmarshal(v, &b); err != nil {
		return nil, fmt.Errorf("unmarshal dag block %s: %w", hash, err)
	}
	return &b, nil
}

// ====== dag_block_period ======

// SetDagBlockPeriod records which period finalized a DAG block.
func (s *LedgerStore) SetDagBlockPeriod(hash types.Hash, period uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, period)
	return s.kv.Set(dagBlockPeriodKey(hash), b)
}

// GetDagBlockPeriod returns (period, true, nil) if hash has been
// finalized into a period, or (0, false, nil) if not yet assigned.
func (s *LedgerStore) GetDagBlockPeriod(hash types.Hash) (uint64, bool, error) {
	v, err := s.kv.Get(dagBlockPeriodKey(hash))
	if err != nil {
		return 0, false, fmt.Errorf("get dag block period %s: %w", hash, err)
	}
	if len(v) == 0 {
		return 0, false, nil
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("corrupt dag block period record for %s: %d bytes", hash, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// ====== period_data ======

// PutPeriodData persists the finalized block, its cert-votes and its
// dag_block_order for a period.
func (s *LedgerStore) PutPeriodData(period uint64, d *PeriodData) error {
	v, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal period data %d: %w", period, err)
	}
	return s.kv.Set(periodDataKey(period), v)
}

// GetPeriodData loads the finalized data for period.
func (s *LedgerStore) GetPeriodData(period uint64) (*PeriodData, error) {
	v, err := s.kv.Get(periodDataKey(period))
	if err != nil {
		return nil, fmt.Errorf("get period data %d: %w", period, err)
	}
	if len(v) == 0 {
		return nil, ErrPeriodDataNotFound
	}
	var d PeriodData
	if err := json.Unmarshal(v, &d); err != nil {
		return nil, fmt.Errorf("unmarshal period data %d: %w", period, err)
	}
	return &d, nil
}

// ====== verified_votes ======

// AddVerifiedVote appends a vote to its (period,round,step,block_hash)
// bucket. Single-writer: the vote manager serializes calls through its
// own lock before reaching here.
func (s *LedgerStore) AddVerifiedVote(key VoteBucketKey, vote types.Vote) error {
	votes, err := s.GetVerifiedVotes(key)
	if err != nil {
		return err
	}
	votes = append(votes, vote)
	v, err := json.Marshal(votes)
	if err != nil {
		return fmt.Errorf("marshal vote bucket: %w", err)
	}
	return s.kv.Set(voteBucketKey(key), v)
}

// GetVerifiedVotes returns the votes accumulated for a bucket, or an
// empty (nil) slice if none have been recorded yet.
func (s *LedgerStore) GetVerifiedVotes(key VoteBucketKey) ([]types.Vote, error) {
	v, err := s.kv.Get(voteBucketKey(key))
	if err != nil {
		return nil, fmt.Errorf("get vote bucket: %w", err)
	}
	if len(v) == 0 {
		return nil, nil
	}
	var votes []types.Vote
	if err := json.Unmarshal(v, &votes); err != nil {
		return nil, fmt.Errorf("unmarshal vote bucket: %w", err)
	}
	return votes, nil
}

// ====== pbft_mgr_field / pbft_mgr_status ======

// SetField persists a named scalar PBFT manager field (current round,
// current period, last soft-voted value, etc).
func (s *LedgerStore) SetField(name string, value uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, value)
	return s.kv.Set(pbftFieldKey(name), b)
}

// GetField returns (value, true, nil) if name was previously set.
func (s *LedgerStore) GetField(name string) (uint64, bool, error) {
	v, err := s.kv.Get(pbftFieldKey(name))
	if err != nil {
		return 0, false, fmt.Errorf("get pbft field %s: %w", name, err)
	}
	if len(v) == 0 {
		return 0, false, nil
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("corrupt pbft field %s: %d bytes", name, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// SetStatus persists a named boolean PBFT manager status flag (soft-
// voted-block-for-round, cert-voted-this-round, etc).
func (s *LedgerStore) SetStatus(name string, value bool) error {
	b := []byte{0}
	if value {
		b[0] = 1
	}
	return s.kv.Set(pbftStatusKey(name), b)
}

// GetStatus returns (value, true, nil) if name was previously set.
func (s *LedgerStore) GetStatus(name string) (bool, bool, error) {
	v, err := s.kv.Get(pbftStatusKey(name))
	if err != nil {
		return false, false, fmt.Errorf("get pbft status %s: %w", name, err)
	}
	if len(v) == 0 {
		return false, false, nil
	}
	return v[0] != 0, true, nil
}
