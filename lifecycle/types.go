// Package lifecycle implements the escrow-gated voter state machine shared
// by every Trusted Circle: batched admission, half-life engagement decay,
// forced leave/claim, and punishment (spec.md §4.D, component D).
package lifecycle

import "github.com/holiman/uint256"

// MemberStatus is one state in the voter lifecycle state machine (spec.md
// §4.D diagram).
type MemberStatus uint8

const (
	// StatusAbsent is the zero value: the address has never been admitted,
	// or has fully left and claimed its escrow. It is never persisted.
	StatusAbsent MemberStatus = iota
	// StatusNonVoting is a candidate voter admitted outside any batch,
	// holding no escrow and casting no votes.
	StatusNonVoting
	// StatusPending is a batch member who has not yet deposited the full
	// escrow amount.
	StatusPending
	// StatusPendingPaid is a batch member who has paid in full but whose
	// batch has not yet become ready.
	StatusPendingPaid
	// StatusVoting is an active voter with weight 1.
	StatusVoting
	// StatusLeaving is a former voter serving out the claim delay before
	// its escrow is refunded.
	StatusLeaving
)

func (s MemberStatus) String() string {
	switch s {
	case StatusNonVoting:
		return "non_voting"
	case StatusPending:
		return "pending"
	case StatusPendingPaid:
		return "pending_paid"
	case StatusVoting:
		return "voting"
	case StatusLeaving:
		return "leaving"
	default:
		return "absent"
	}
}

// EscrowRecord is the per-address persisted lifecycle state (spec.md §3
// "Escrow record").
type EscrowRecord struct {
	Paid    *uint256.Int
	Status  MemberStatus
	BatchID string
	ClaimAt uint64
}

func newEscrowRecord(status MemberStatus) EscrowRecord {
	return EscrowRecord{Paid: new(uint256.Int), Status: status}
}

// Clone returns a deep copy of the record.
func (r EscrowRecord) Clone() EscrowRecord {
	return EscrowRecord{
		Paid:    new(uint256.Int).Set(r.Paid),
		Status:  r.Status,
		BatchID: r.BatchID,
		ClaimAt: r.ClaimAt,
	}
}

// BatchRecord tracks a group of addresses proposed as voters together
// (spec.md §3 "Batch record").
type BatchRecord struct {
	ID            string
	GraceEndsAt   uint64
	WaitingEscrow uint32
	BatchPromoted bool
	Members       [][]byte
}

// EscrowAmountChange describes a pending change to the circle-wide escrow
// amount, swept in by CheckPendingSweep once its grace period elapses
// (spec.md §3 Configuration "escrow_pending").
type EscrowAmountChange struct {
	NewAmount   *uint256.Int
	GraceEndsAt uint64
}
