package group

import (
	"errors"
	"fmt"

	"trustedcircle/core/events"
)

// ErrMemberCapExceeded is returned by UpdateMembers when applying the update
// would push total membership past MaxMembers (spec.md §4.A "TOTAL
// invariant").
var ErrMemberCapExceeded = errors.New("group: member cap exceeded")

// MemberUpdate is one requested change: a new weight for Address, or its
// removal. Removal is expressed by setting Remove, since weight 0 is itself a
// valid admitted weight (spec.md §4.A).
type MemberUpdate struct {
	Address []byte
	Weight  uint64
	Remove  bool
}

// Group ties the Snapshot Map (component A) and Hook Registry (component B)
// together behind the TOTAL invariant: the number of admitted (present)
// members never exceeds MaxMembers.
type Group struct {
	Snapshot   *SnapshotMap
	Hooks      *HookRegistry
	MaxMembers int
	Emitter    events.Emitter
}

// NewGroup constructs a Group. maxMembers <= 0 means unbounded.
func NewGroup(snap *SnapshotMap, hooks *HookRegistry, maxMembers int) *Group {
	return &Group{Snapshot: snap, Hooks: hooks, MaxMembers: maxMembers, Emitter: events.NoopEmitter{}}
}

// SetEmitter wires the event sink used to announce membership changes.
func (g *Group) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	g.Emitter = e
}

// memberCount counts present entries by scanning Range in pages, since
// SnapshotMap does not track a running total itself.
func (g *Group) memberCount() (int, error) {
	count := 0
	var after []byte
	for {
		page, err := g.Snapshot.Range(after, 256)
		if err != nil {
			return 0, err
		}
		count += len(page)
		if len(page) < 256 {
			return count, nil
		}
		after = page[len(page)-1].Address
	}
}

// TotalWeight sums every admitted member's current weight (spec.md §6 query
// "TotalWeight"), used for quorum math and reward distribution.
func (g *Group) TotalWeight() (uint64, error) {
	var total uint64
	var after []byte
	for {
		page, err := g.Snapshot.Range(after, 256)
		if err != nil {
			return 0, err
		}
		for _, m := range page {
			total += m.Weight
		}
		if len(page) < 256 {
			return total, nil
		}
		after = page[len(page)-1].Address
	}
}

// UpdateMembers applies a batch of weight changes atomically against the
// TOTAL invariant and returns the resulting delta; it does not contact the
// hooks itself (Dispatch builds the hook messages for a delta).
func (g *Group) UpdateMembers(updates []MemberUpdate, height uint64) (MembershipDelta, error) {
	current, err := g.memberCount()
	if err != nil {
		return MembershipDelta{}, err
	}
	netNew := 0
	diffs := make([]MemberDiff, 0, len(updates))
	for _, u := range updates {
		oldWeight, oldPresent, err := g.Snapshot.Load(u.Address)
		if err != nil {
			return MembershipDelta{}, err
		}
		newPresent := !u.Remove
		if !oldPresent && newPresent {
			netNew++
		}
		if oldPresent && !newPresent {
			netNew--
		}
		newWeight := u.Weight
		if u.Remove {
			newWeight = 0
		}
		diffs = append(diffs, MemberDiff{Address: u.Address, OldWeight: oldWeight, NewWeight: newWeight})
	}
	if g.MaxMembers > 0 && current+netNew > g.MaxMembers {
		return MembershipDelta{}, ErrMemberCapExceeded
	}
	for _, u := range updates {
		if u.Remove {
			if err := g.Snapshot.Remove(u.Address, height); err != nil {
				return MembershipDelta{}, fmt.Errorf("group: remove member: %w", err)
			}
			continue
		}
		if err := g.Snapshot.Save(u.Address, u.Weight, height); err != nil {
			return MembershipDelta{}, fmt.Errorf("group: save member: %w", err)
		}
	}
	delta := MembershipDelta{Diffs: diffs}
	g.emitMemberChanges(diffs)
	return delta, nil
}

func (g *Group) emitMemberChanges(diffs []MemberDiff) {
	for _, d := range diffs {
		g.Emitter.Emit(memberChangedEvent{diff: d})
	}
}

// Dispatch builds the outbound hook calls for delta. The caller (circle
// dispatcher) is responsible for actually delivering each HookMessage.
func (g *Group) Dispatch(delta MembershipDelta) ([]HookMessage, error) {
	return g.Hooks.Prepare(delta)
}
