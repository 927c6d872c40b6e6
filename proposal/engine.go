package proposal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"trustedcircle/core/events"
	"trustedcircle/storage"
)

var (
	// ErrUnauthorized is returned by SubmitProposal when the sender holds
	// no current weight.
	ErrUnauthorized = errors.New("proposal: sender has no voting weight")
	// ErrInvalidPayload is returned when a proposal payload fails
	// variant-specific validation.
	ErrInvalidPayload = errors.New("proposal: invalid payload")
	// ErrNotFound is returned when a proposal id does not resolve.
	ErrNotFound = errors.New("proposal: not found")
	// ErrAlreadyVoted is returned by CastVote on a second ballot from the
	// same voter.
	ErrAlreadyVoted = errors.New("proposal: voter already cast a ballot")
	// ErrVotingClosed is returned by CastVote once voting is no longer
	// permitted.
	ErrVotingClosed = errors.New("proposal: voting closed")
	// ErrInvalidStatus is returned when execute/close is attempted from a
	// status that does not permit it.
	ErrInvalidStatus = errors.New("proposal: invalid status for operation")
	// ErrRulesFrozen is returned by SubmitProposal when rulesFrozen is set
	// and the proposal would alter rules (spec.md §12 "Rules-frozen flag").
	ErrRulesFrozen = errors.New("proposal: rules are frozen")
)

const (
	proposalNamespace  = "proposal"
	counterKey         = "proposal/next_id"
	expiryIndex        = "proposal__expiry"
	ballotsByProposal  = "proposal__ballots_by_proposal"
	ballotsByVoter     = "proposal__ballots_by_voter"
)

// Engine drives proposal creation, voting, status computation, and
// execute/close gating for one Trusted Circle.
type Engine struct {
	db          storage.Database
	namespace   string
	denyList    map[string]bool
	rulesFrozen bool
	nowFunc     func() time.Time
	emitter     events.Emitter
}

// NewEngine constructs a proposal Engine. denyList is kept for lookups via
// Denied (spec.md §3 Configuration "deny_list"); SubmitProposal does not
// consult it.
func NewEngine(db storage.Database, namespace string, denyList [][]byte) *Engine {
	deny := make(map[string]bool, len(denyList))
	for _, a := range denyList {
		deny[string(a)] = true
	}
	return &Engine{db: db, namespace: namespace, denyList: deny, nowFunc: time.Now, emitter: events.NoopEmitter{}}
}

// SetNowFunc overrides the clock used for expiry and status computation.
func (e *Engine) SetNowFunc(f func() time.Time) {
	if f == nil {
		f = time.Now
	}
	e.nowFunc = f
}

// SetEmitter wires the event sink used to announce proposal transitions.
func (e *Engine) SetEmitter(em events.Emitter) {
	if em == nil {
		em = events.NoopEmitter{}
	}
	e.emitter = em
}

// Denied reports whether addr appears on the configured deny list.
func (e *Engine) Denied(addr []byte) bool { return e.denyList[string(addr)] }

// SetRulesFrozen locks or unlocks rule-altering proposals (spec.md §12
// "Rules-frozen flag"). Once set, SubmitProposal rejects any proposal
// marked altersRules with ErrRulesFrozen, even before tally.
func (e *Engine) SetRulesFrozen(frozen bool) { e.rulesFrozen = frozen }

func (e *Engine) proposalKey(id uint64) []byte {
	return storage.JoinKey(e.namespace, []byte(proposalNamespace), storage.EncodeUint64(id))
}

func (e *Engine) expiryKey(expires uint64, id uint64) []byte {
	return storage.JoinKey(e.namespace, []byte(expiryIndex), storage.EncodeUint64(expires), storage.EncodeUint64(id))
}

func (e *Engine) expiryPrefix() []byte {
	return []byte(e.namespace + "/" + expiryIndex + "/")
}

func (e *Engine) ballotByProposalKey(id uint64, voter []byte) []byte {
	return storage.JoinKey(e.namespace, []byte(ballotsByProposal), storage.EncodeUint64(id), voter)
}

func (e *Engine) ballotByProposalPrefix(id uint64) []byte {
	return storage.JoinKey(e.namespace, []byte(ballotsByProposal), storage.EncodeUint64(id))
}

func (e *Engine) ballotByVoterKey(voter []byte, id uint64) []byte {
	inverted := storage.EncodeUint64(math.MaxUint64 - id)
	return storage.JoinKey(e.namespace, []byte(ballotsByVoter), voter, inverted)
}

func (e *Engine) ballotByVoterPrefix(voter []byte) []byte {
	return storage.JoinKey(e.namespace, []byte(ballotsByVoter), voter)
}

// Get loads a proposal by id.
func (e *Engine) Get(id uint64) (Proposal, error) {
	raw, err := e.db.Get(e.proposalKey(id))
	if err == storage.ErrNotFound {
		return Proposal{}, ErrNotFound
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal: load: %w", err)
	}
	var p Proposal
	if err := rlp.DecodeBytes(raw, &p); err != nil {
		return Proposal{}, fmt.Errorf("proposal: decode: %w", err)
	}
	return p, nil
}

func (e *Engine) save(p Proposal) error {
	encoded, err := rlp.EncodeToBytes(p)
	if err != nil {
		return fmt.Errorf("proposal: encode: %w", err)
	}
	return e.db.Put(e.proposalKey(p.ID), encoded)
}

func (e *Engine) nextID() (uint64, error) {
	raw, err := e.db.Get(storage.JoinKey(e.namespace, []byte(counterKey)))
	var next uint64
	if err == nil {
		next = storage.DecodeUint64(raw) + 1
	} else if err != storage.ErrNotFound {
		return 0, fmt.Errorf("proposal: load counter: %w", err)
	} else {
		next = 1
	}
	if err := e.db.Put(storage.JoinKey(e.namespace, []byte(counterKey)), storage.EncodeUint64(next)); err != nil {
		return 0, fmt.Errorf("proposal: save counter: %w", err)
	}
	return next, nil
}

// SubmitProposal creates a proposal, snapshotting rules and total points,
// and records the sender's own first Yes ballot (spec.md §4.E "Proposal
// creation"). altersRules marks a payload the caller has identified as
// changing the circle's rules; it is rejected outright when rulesFrozen is
// set, before any tally logic runs (spec.md §12 "Rules-frozen flag").
func (e *Engine) SubmitProposal(sender []byte, title, description string, payload []byte, senderWeight, totalWeight uint64, startHeight uint64, rules Rules, altersRules bool) (uint64, error) {
	if senderWeight == 0 {
		return 0, ErrUnauthorized
	}
	if altersRules && e.rulesFrozen {
		return 0, ErrRulesFrozen
	}
	id, err := e.nextID()
	if err != nil {
		return 0, err
	}
	now := e.nowFunc()
	expires := uint64(now.Add(time.Duration(rules.VotingPeriodDays) * 24 * time.Hour).Unix())

	p := Proposal{
		ID:                  id,
		Title:               title,
		Description:         description,
		Payload:             payload,
		StartHeight:         startHeight,
		Expires:             expires,
		Status:              StatusOpen,
		TotalPointsSnapshot: totalWeight,
		RulesSnapshot:       rules,
	}
	p.Votes.Yes = senderWeight
	if err := e.save(p); err != nil {
		return 0, err
	}
	if err := e.db.Put(e.expiryKey(expires, id), storage.EncodeUint64(id)); err != nil {
		return 0, fmt.Errorf("proposal: write expiry index: %w", err)
	}
	ballot := Ballot{ProposalID: id, Voter: sender, Points: senderWeight, Vote: ChoiceYes}
	if err := e.saveBallot(ballot); err != nil {
		return 0, err
	}
	e.emitter.Emit(proposalCreatedEvent{id: id, title: title})
	return id, nil
}

func (e *Engine) saveBallot(b Ballot) error {
	encoded, err := rlp.EncodeToBytes(b)
	if err != nil {
		return fmt.Errorf("proposal: encode ballot: %w", err)
	}
	if err := e.db.Put(e.ballotByProposalKey(b.ProposalID, b.Voter), encoded); err != nil {
		return fmt.Errorf("proposal: put ballot by proposal: %w", err)
	}
	return e.db.Put(e.ballotByVoterKey(b.Voter, b.ProposalID), encoded)
}

// Ballot returns the ballot a voter cast on a proposal, if any.
func (e *Engine) Ballot(id uint64, voter []byte) (Ballot, bool, error) {
	raw, err := e.db.Get(e.ballotByProposalKey(id, voter))
	if err == storage.ErrNotFound {
		return Ballot{}, false, nil
	}
	if err != nil {
		return Ballot{}, false, fmt.Errorf("proposal: load ballot: %w", err)
	}
	var b Ballot
	if err := rlp.DecodeBytes(raw, &b); err != nil {
		return Ballot{}, false, fmt.Errorf("proposal: decode ballot: %w", err)
	}
	return b, true, nil
}

// CastVote records voter's ballot, using their weight at the proposal's
// start height, and recomputes the tally (spec.md §4.E "Voting").
func (e *Engine) CastVote(id uint64, voter []byte, voterWeightAtStart uint64, choice Choice, voterIsLeaving bool) error {
	p, err := e.Get(id)
	if err != nil {
		return err
	}
	now := e.nowFunc()
	computed := Compute(p, now)
	if computed != StatusOpen && computed != StatusPassed {
		return ErrVotingClosed
	}
	if uint64(now.Unix()) >= p.Expires {
		return ErrVotingClosed
	}
	if voterIsLeaving {
		return fmt.Errorf("%w: leaving members may not vote", ErrInvalidStatus)
	}
	if _, voted, err := e.Ballot(id, voter); err != nil {
		return err
	} else if voted {
		return ErrAlreadyVoted
	}

	switch choice {
	case ChoiceYes:
		p.Votes.Yes += voterWeightAtStart
	case ChoiceNo:
		p.Votes.No += voterWeightAtStart
	case ChoiceAbstain:
		p.Votes.Abstain += voterWeightAtStart
	case ChoiceVeto:
		p.Votes.Veto += voterWeightAtStart
	default:
		return fmt.Errorf("%w: unknown vote choice", ErrInvalidPayload)
	}
	if err := e.save(p); err != nil {
		return err
	}
	if err := e.saveBallot(Ballot{ProposalID: id, Voter: voter, Points: voterWeightAtStart, Vote: choice}); err != nil {
		return err
	}
	e.emitter.Emit(voteCastEvent{id: id, voter: voter, choice: choice})
	return nil
}

// ceilFraction computes ceil(total * bps / 10000) using integer-only
// arithmetic (bps is basis points out of 10000).
func ceilFraction(total uint64, bps uint32) uint64 {
	if total == 0 || bps == 0 {
		return 0
	}
	product := total * uint64(bps)
	return (product + 9999) / 10000
}

// Compute derives the proposal's effective status without mutating stored
// state (spec.md §4.E "Status rule"). Terminal persisted statuses
// (Rejected, Executed) are returned unchanged.
func Compute(p Proposal, now time.Time) Status {
	if p.Status == StatusExecuted || p.Status == StatusRejected {
		return p.Status
	}
	rules := p.RulesSnapshot
	v := p.Votes.Total()
	quorumMet := v >= ceilFraction(p.TotalPointsSnapshot, rules.QuorumBps)

	if uint64(now.Unix()) >= p.Expires {
		nonAbstain := v - p.Votes.Abstain
		if quorumMet && p.Votes.Yes >= ceilFraction(nonAbstain, rules.ThresholdBps) {
			return StatusPassed
		}
		return StatusRejected
	}
	if rules.AllowEndEarly {
		maxNonAbstain := p.TotalPointsSnapshot - p.Votes.Abstain
		if p.Votes.Yes >= ceilFraction(maxNonAbstain, rules.ThresholdBps) {
			return StatusPassed
		}
	}
	return StatusOpen
}

// Execute dispatches a Passed proposal's payload via dispatch, flipping its
// persisted status to Executed only once dispatch succeeds so the
// transition is all-or-nothing (spec.md §4.E "Execute").
func (e *Engine) Execute(id uint64, dispatch func(payload []byte) error) error {
	p, err := e.Get(id)
	if err != nil {
		return err
	}
	if p.Status == StatusExecuted {
		return fmt.Errorf("%w: already executed", ErrInvalidStatus)
	}
	if Compute(p, e.nowFunc()) != StatusPassed {
		return fmt.Errorf("%w: not passed", ErrInvalidStatus)
	}
	if dispatch != nil {
		if err := dispatch(p.Payload); err != nil {
			return fmt.Errorf("proposal: dispatch failed: %w", err)
		}
	}
	p.Status = StatusExecuted
	if err := e.save(p); err != nil {
		return err
	}
	e.emitter.Emit(proposalFinalizedEvent{id: id, status: StatusExecuted})
	return nil
}

// Close rejects an Open proposal once its voting period has expired
// without passing (spec.md §4.E "Close").
func (e *Engine) Close(id uint64) error {
	p, err := e.Get(id)
	if err != nil {
		return err
	}
	if p.Status != StatusOpen {
		return fmt.Errorf("%w: only Open proposals may be closed", ErrInvalidStatus)
	}
	now := e.nowFunc()
	if uint64(now.Unix()) < p.Expires {
		return fmt.Errorf("%w: voting period has not elapsed", ErrInvalidStatus)
	}
	if Compute(p, now) == StatusPassed {
		return fmt.Errorf("%w: passed proposals may not be closed", ErrInvalidStatus)
	}
	p.Status = StatusRejected
	if err := e.save(p); err != nil {
		return err
	}
	e.emitter.Emit(proposalFinalizedEvent{id: id, status: StatusRejected})
	return nil
}

// AdjustForLeaver decrements total_points on every still-open proposal the
// leaver has not voted on, bounded by the expiry index (spec.md §4.E
// "Leaver adjustment").
func (e *Engine) AdjustForLeaver(leaver []byte, weight uint64) error {
	if weight == 0 {
		return nil
	}
	now := uint64(e.nowFunc().Unix())
	it := e.db.NewIterator(e.expiryPrefix())
	defer it.Release()
	prefixLen := len(e.expiryPrefix())
	var ids []uint64
	for it.Next() {
		key := it.Key()
		if len(key) < prefixLen+8 {
			continue
		}
		expires := binary.BigEndian.Uint64(key[prefixLen : prefixLen+8])
		if expires <= now {
			continue
		}
		ids = append(ids, storage.DecodeUint64(it.Value()))
	}
	if err := it.Error(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, voted, err := e.Ballot(id, leaver); err != nil {
			return err
		} else if voted {
			continue
		}
		p, err := e.Get(id)
		if err != nil {
			return err
		}
		if p.TotalPointsSnapshot < weight {
			p.TotalPointsSnapshot = 0
		} else {
			p.TotalPointsSnapshot -= weight
		}
		if err := e.save(p); err != nil {
			return err
		}
	}
	return nil
}

// ListVotes enumerates ballots on a proposal in ascending voter order.
func (e *Engine) ListVotes(id uint64, startAfter []byte, limit int) ([]Ballot, error) {
	it := e.db.NewIterator(e.ballotByProposalPrefix(id))
	defer it.Release()
	prefixLen := len(e.ballotByProposalPrefix(id))
	var out []Ballot
	for it.Next() {
		key := it.Key()
		if len(key) <= prefixLen+1 {
			continue
		}
		voter := key[prefixLen : len(key)-1]
		if startAfter != nil && compareBytes(voter, startAfter) <= 0 {
			continue
		}
		var b Ballot
		if err := rlp.DecodeBytes(it.Value(), &b); err != nil {
			return nil, fmt.Errorf("proposal: decode ballot entry: %w", err)
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Error()
}

// ListVotesByVoter enumerates a voter's ballots, most recent proposal id
// first.
func (e *Engine) ListVotesByVoter(voter []byte, limit int) ([]Ballot, error) {
	it := e.db.NewIterator(e.ballotByVoterPrefix(voter))
	defer it.Release()
	var out []Ballot
	for it.Next() {
		var b Ballot
		if err := rlp.DecodeBytes(it.Value(), &b); err != nil {
			return nil, fmt.Errorf("proposal: decode ballot entry: %w", err)
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Error()
}

func (e *Engine) proposalPrefix() []byte {
	return storage.JoinKey(e.namespace, []byte(proposalNamespace))
}

// ListProposals returns proposals in ascending id order, for spec.md §6
// query "ListProposals{start_after?, limit?}".
func (e *Engine) ListProposals(startAfter uint64, limit int) ([]Proposal, error) {
	it := e.db.NewIterator(e.proposalPrefix())
	defer it.Release()
	prefixLen := len(e.proposalPrefix())
	var out []Proposal
	for it.Next() {
		key := it.Key()
		if len(key) <= prefixLen+8 {
			continue
		}
		id := storage.DecodeUint64(key[prefixLen : prefixLen+8])
		if startAfter != 0 && id <= startAfter {
			continue
		}
		var p Proposal
		if err := rlp.DecodeBytes(it.Value(), &p); err != nil {
			return nil, fmt.Errorf("proposal: decode listing entry: %w", err)
		}
		out = append(out, p)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReverseProposals returns proposals in descending id order, for spec.md §6
// query "ReverseProposals{start_before?, limit?}".
func (e *Engine) ReverseProposals(startBefore uint64, limit int) ([]Proposal, error) {
	it := e.db.NewIterator(e.proposalPrefix())
	defer it.Release()
	prefixLen := len(e.proposalPrefix())
	var out []Proposal
	for it.Next() {
		key := it.Key()
		if len(key) <= prefixLen+8 {
			continue
		}
		id := storage.DecodeUint64(key[prefixLen : prefixLen+8])
		if startBefore != 0 && id >= startBefore {
			continue
		}
		var p Proposal
		if err := rlp.DecodeBytes(it.Value(), &p); err != nil {
			return nil, fmt.Errorf("proposal: decode listing entry: %w", err)
		}
		out = append(out, p)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	for i := 0; i < la && i < lb; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}
