package ledger

import "github.com/dagledger/consensus-core/pkg/types"

// PeriodData is everything persisted for a finalized PBFT period: the
// block itself, the cert-votes that finalized it, and the DAG block
// order it committed to (so a restarting node never has to recompute
// dag_block_order for history it already finalized).
type PeriodData struct {
	Block           types.PbftBlock `json:"block"`
	CertVotes       []types.Vote    `json:"certVotes"`
	DagBlockOrder   []types.Hash    `json:"dagBlockOrder"`
}

// VoteBucketKey identifies a (period, round, step, block hash) bucket
// in the verified_votes column.
type VoteBucketKey struct {
	Period    uint64
	Round     uint64
	Step      types.Step
	BlockHash types.Hash
}
