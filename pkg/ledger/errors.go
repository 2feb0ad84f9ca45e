// Copyright 2025 Certen Protocol
//
// Package ledger provides sentinel errors for ledger operations.

package ledger

import "errors"

// Sentinel errors for ledger operations. GetDagBlock and GetPeriodData
// return ErrDagBlockNotFound / ErrPeriodDataNotFound for a missing
// record (compare with errors.Is). GetDagBlockPeriod, GetField and
// GetStatus report absence through their bool result, GetVerifiedVotes
// returns nil, nil for an empty bucket, and no store method returns
// ErrPbftFieldNotFound or ErrPbftStatusNotFound.
var (
	ErrDagBlockNotFound     = errors.New("ledger: dag block not found")
	ErrPeriodDataNotFound   = errors.New("ledger: period data not found")
	ErrPbftFieldNotFound    = errors.New("ledger: pbft manager field not found")
	ErrPbftStatusNotFound   = errors.New("ledger: pbft manager status not found")
)
