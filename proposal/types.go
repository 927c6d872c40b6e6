// Package proposal implements proposal storage, ballot recording, status
// computation, and execute/close gating for a Trusted Circle (spec.md
// §4.E, component E).
package proposal

import "time"

// Status is a proposal's lifecycle stage. Open, Rejected, and Executed are
// the only values ever persisted; Passed is a transient value returned by
// Compute and immediately promoted to Executed within the same call to
// Execute (spec.md §4.E "Stored status is only promoted... on explicit
// execute/close").
type Status uint8

const (
	StatusOpen Status = iota
	StatusPassed
	StatusRejected
	StatusExecuted
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusRejected:
		return "rejected"
	case StatusExecuted:
		return "executed"
	default:
		return "open"
	}
}

// Choice is a ballot selection.
type Choice uint8

const (
	ChoiceYes Choice = iota
	ChoiceNo
	ChoiceAbstain
	ChoiceVeto
)

func (c Choice) String() string {
	switch c {
	case ChoiceNo:
		return "no"
	case ChoiceAbstain:
		return "abstain"
	case ChoiceVeto:
		return "veto"
	default:
		return "yes"
	}
}

// Rules is the quorum/threshold/voting-period policy snapshotted into every
// proposal at creation time (spec.md §3 "Rules"). Fractions travel as basis
// points out of 10000 rather than float64, since the RLP codec used to
// persist a Proposal has no float encoding.
type Rules struct {
	VotingPeriodDays uint32
	QuorumBps        uint32
	ThresholdBps     uint32
	AllowEndEarly    bool
}

// VotingPeriod converts the rules' day count into a time.Duration, the form
// the engine's expiry arithmetic and Circle's constructor need.
func (r Rules) VotingPeriod() time.Duration {
	return time.Duration(r.VotingPeriodDays) * 24 * time.Hour
}

// Tally counts ballots cast so far, by choice.
type Tally struct {
	Yes     uint64
	No      uint64
	Abstain uint64
	Veto    uint64
}

// Total returns V, the sum of all cast weight regardless of choice.
func (t Tally) Total() uint64 { return t.Yes + t.No + t.Abstain + t.Veto }

// Proposal is the persisted record for one governance proposal (spec.md §3
// "Proposal record").
type Proposal struct {
	ID                  uint64
	Title               string
	Description         string
	Payload             []byte
	StartHeight         uint64
	Expires             uint64
	Status              Status
	Votes               Tally
	TotalPointsSnapshot uint64
	RulesSnapshot       Rules
}

// Ballot is an immutable per-voter vote record (spec.md §3 "Ballot record").
type Ballot struct {
	ProposalID uint64
	Voter      []byte
	Points     uint64
	Vote       Choice
}
