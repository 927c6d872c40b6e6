package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trustedcircle/storage"
)

func TestHookRegistryAddAndList(t *testing.T) {
	db := storage.NewMemDB()
	reg := NewHookRegistry(db, "hooks")

	require.NoError(t, reg.Add(addr(1)))
	require.NoError(t, reg.Add(addr(2)))

	hooks, err := reg.List()
	require.NoError(t, err)
	require.Len(t, hooks, 2)
}

func TestHookRegistryAddDuplicateFails(t *testing.T) {
	db := storage.NewMemDB()
	reg := NewHookRegistry(db, "hooks")

	require.NoError(t, reg.Add(addr(1)))
	err := reg.Add(addr(1))
	require.ErrorIs(t, err, ErrHookAlreadyRegistered)
}

func TestHookRegistryRemoveUnknownFails(t *testing.T) {
	db := storage.NewMemDB()
	reg := NewHookRegistry(db, "hooks")

	err := reg.Remove(addr(1))
	require.ErrorIs(t, err, ErrHookNotRegistered)
}

func TestHookRegistryRemove(t *testing.T) {
	db := storage.NewMemDB()
	reg := NewHookRegistry(db, "hooks")

	require.NoError(t, reg.Add(addr(1)))
	require.NoError(t, reg.Remove(addr(1)))

	hooks, err := reg.List()
	require.NoError(t, err)
	require.Empty(t, hooks)
}

func TestHookRegistryPrepareFansOutInOrder(t *testing.T) {
	db := storage.NewMemDB()
	reg := NewHookRegistry(db, "hooks")

	require.NoError(t, reg.Add(addr(2)))
	require.NoError(t, reg.Add(addr(1)))

	delta := MembershipDelta{Diffs: []MemberDiff{{Address: addr(9), OldWeight: 0, NewWeight: 10}}}
	msgs, err := reg.Prepare(delta)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, addr(2), msgs[0].Hook)
	require.Equal(t, addr(1), msgs[1].Hook)
	require.Equal(t, delta, msgs[0].Delta)
}

func TestHookRegistryPreauthConsumption(t *testing.T) {
	db := storage.NewMemDB()
	reg := NewHookRegistry(db, "hooks")

	count, err := reg.Preauths()
	require.NoError(t, err)
	require.Zero(t, count)

	err = reg.ConsumePreauth()
	require.Error(t, err)

	require.NoError(t, reg.AddPreauth(2))
	count, err = reg.Preauths()
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	require.NoError(t, reg.ConsumePreauth())
	count, err = reg.Preauths()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	require.NoError(t, reg.ConsumePreauth())
	err = reg.ConsumePreauth()
	require.Error(t, err)
}
