package circle

import "errors"

// Authorization errors (spec.md §7 "Authorization").
var (
	// ErrNotAdmin is returned by admin-only operations when sender does not
	// match the configured admin.
	ErrNotAdmin = errors.New("circle: sender is not the admin")
	// ErrUnauthorized is returned when sender holds no voting weight for an
	// operation that requires it.
	ErrUnauthorized = errors.New("circle: sender is not authorized")
	// ErrNoPreauth is returned by an admin-gated operation attempted by a
	// non-admin sender once the pre-authorization counter is exhausted.
	ErrNoPreauth = errors.New("circle: no pre-authorization available")
)

// Validation errors (spec.md §7 "Validation"). NotAContract, NotAHuman, and
// InvalidTg4Contract are omitted: they validate properties of an address or
// an external contract's interface, both address-validation concerns spec.md
// §1 places out of scope for this core.
var (
	// ErrDeniedAddress is returned when an operation targets an address on
	// the circle's deny list.
	ErrDeniedAddress = errors.New("circle: address is denied")
	// ErrEmptyName is returned by Propose when title is empty.
	ErrEmptyName = errors.New("circle: proposal title must not be empty")
	// ErrLongName is returned by Propose when title exceeds maxTitleLength.
	ErrLongName = errors.New("circle: proposal title too long")
	// ErrNoMembers is returned by UpdateMembers when both add and remove are
	// empty.
	ErrNoMembers = errors.New("circle: update must name at least one member")
	// ErrInvalidQuorum is returned when a rules payload's QuorumBps is out of
	// the (0, 10000] range.
	ErrInvalidQuorum = errors.New("circle: quorum must be between 1 and 10000 basis points")
	// ErrInvalidThreshold mirrors ErrInvalidQuorum for ThresholdBps.
	ErrInvalidThreshold = errors.New("circle: threshold must be between 1 and 10000 basis points")
	// ErrInvalidVotingPeriod is returned when a rules payload's
	// VotingPeriodDays is zero.
	ErrInvalidVotingPeriod = errors.New("circle: voting period must be at least one day")
	// ErrInvalidSlashingPercentage is returned when a punishment payload's
	// PctBps is out of the (0, 10000] range.
	ErrInvalidSlashingPercentage = errors.New("circle: slashing percentage must be between 1 and 10000 basis points")
	// ErrInvalidEscrow is returned by ScheduleEscrowChange when the
	// requested amount does not actually change the current requirement.
	ErrInvalidEscrow = errors.New("circle: escrow amount unchanged")
)

// Infrastructure errors (spec.md §7 "Infrastructure"). HookAlreadyRegistered
// and HookNotRegistered are reused directly from the group package rather
// than re-declared here.
var (
	// ErrUnknownSudoMsg is returned by the sudo dispatch switch for an
	// unrecognized message kind.
	ErrUnknownSudoMsg = errors.New("circle: unknown sudo message")
	// ErrPunishInvalidMemberStatus is returned when a punishment payload
	// targets a member that is not currently Voting.
	ErrPunishInvalidMemberStatus = errors.New("circle: punishment target is not a voting member")
)

const maxTitleLength = 140
