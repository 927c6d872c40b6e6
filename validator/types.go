// Package validator implements the per-epoch ranked projection of a
// weighted group into an active validator set, diff emission against the
// previous set, and jail bookkeeping (spec.md §4.F, component F).
package validator

import "time"

// Registration is a member's validator key and metadata, recorded via
// RegisterValidatorKey/UpdateMetadata.
type Registration struct {
	Operator []byte
	Pubkey   []byte
	Metadata string
}

// JailRecord tracks a suspended operator. Forever is true for an
// admin-imposed indefinite jail; Until is meaningless in that case.
type JailRecord struct {
	Operator []byte
	Until    uint64
	Forever  bool
}

func (j JailRecord) expired(now time.Time) bool {
	if j.Forever {
		return false
	}
	return uint64(now.Unix()) >= j.Until
}

// Update is one entry of a ValidatorDiff: a pubkey whose power changed.
// Power zero represents a removal.
type Update struct {
	Pubkey []byte
	Power  uint64
}

// Diff is the ordered sequence of Updates between two active sets:
// additions/updates (ascending by pubkey) followed by removals (ascending
// by pubkey), per spec.md §4.F step 5.
type Diff struct {
	Updates []Update
}

// ActiveEntry is one member of the persisted active set.
type ActiveEntry struct {
	Pubkey []byte
	Power  uint64
}

// EpochState is the persisted epoch counter and the previously emitted
// active set, used to compute the next diff and pay_epochs.
type EpochState struct {
	CurrentEpoch uint64
	Active       []ActiveEntry
}
