package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trustedcircle/storage"
)

func newTestGroup(t *testing.T, maxMembers int) *Group {
	t.Helper()
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")
	hooks := NewHookRegistry(db, "hooks")
	return NewGroup(snap, hooks, maxMembers)
}

func TestGroupUpdateMembersWithinCap(t *testing.T) {
	g := newTestGroup(t, 2)

	delta, err := g.UpdateMembers([]MemberUpdate{
		{Address: addr(1), Weight: 10},
		{Address: addr(2), Weight: 20},
	}, 1)
	require.NoError(t, err)
	require.Len(t, delta.Diffs, 2)

	weight, present, err := g.Snapshot.Load(addr(1))
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 10, weight)
}

func TestGroupUpdateMembersOverCapRejected(t *testing.T) {
	g := newTestGroup(t, 1)

	_, err := g.UpdateMembers([]MemberUpdate{
		{Address: addr(1), Weight: 10},
		{Address: addr(2), Weight: 20},
	}, 1)
	require.ErrorIs(t, err, ErrMemberCapExceeded)

	_, present, err := g.Snapshot.Load(addr(1))
	require.NoError(t, err)
	require.False(t, present, "a rejected batch must not partially apply")
}

func TestGroupUpdateMembersReplaceDoesNotCountAgainstCap(t *testing.T) {
	g := newTestGroup(t, 1)

	_, err := g.UpdateMembers([]MemberUpdate{{Address: addr(1), Weight: 10}}, 1)
	require.NoError(t, err)

	_, err = g.UpdateMembers([]MemberUpdate{{Address: addr(1), Weight: 50}}, 2)
	require.NoError(t, err)

	weight, _, err := g.Snapshot.Load(addr(1))
	require.NoError(t, err)
	require.EqualValues(t, 50, weight)
}

func TestGroupUpdateMembersRemovalFreesCapacity(t *testing.T) {
	g := newTestGroup(t, 1)

	_, err := g.UpdateMembers([]MemberUpdate{{Address: addr(1), Weight: 10}}, 1)
	require.NoError(t, err)

	_, err = g.UpdateMembers([]MemberUpdate{{Address: addr(1), Remove: true}}, 2)
	require.NoError(t, err)

	_, err = g.UpdateMembers([]MemberUpdate{{Address: addr(2), Weight: 30}}, 3)
	require.NoError(t, err)
}

func TestGroupDispatchFansOutToHooks(t *testing.T) {
	g := newTestGroup(t, 0)
	require.NoError(t, g.Hooks.Add(addr(99)))

	delta, err := g.UpdateMembers([]MemberUpdate{{Address: addr(1), Weight: 10}}, 1)
	require.NoError(t, err)

	msgs, err := g.Dispatch(delta)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, addr(99), msgs[0].Hook)
	require.Equal(t, delta, msgs[0].Delta)
}
