package validator

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"trustedcircle/group"
	"trustedcircle/rewards"
	"trustedcircle/storage"
)

func addr(b byte) []byte {
	out := make([]byte, 20)
	out[19] = b
	return out
}

func pub(b byte) []byte {
	out := make([]byte, 32)
	out[31] = b
	return out
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *group.Group) {
	t.Helper()
	db := storage.NewMemDB()
	g := group.NewGroup(group.NewSnapshotMap(db, "members"), group.NewHookRegistry(db, "hooks"), 0)
	r := rewards.NewDistributor(db, "rewards", "ucircle")
	e := NewEngine(db, "validator", g, r, cfg)
	return e, g
}

func TestEndBlockGenesisSelectsRegisteredCandidates(t *testing.T) {
	e, g := newTestEngine(t, Config{EpochLength: time.Hour, MinWeight: 1, MaxValidators: 10})

	_, err := g.UpdateMembers([]group.MemberUpdate{
		{Address: addr(1), Weight: 5},
		{Address: addr(2), Weight: 3},
	}, 1)
	require.NoError(t, err)
	require.NoError(t, e.RegisterValidatorKey(addr(1), pub(1), ""))
	require.NoError(t, e.RegisterValidatorKey(addr(2), pub(2), ""))

	diff, err := e.EndBlock(1)
	require.NoError(t, err)
	require.Len(t, diff.Updates, 2)

	active, err := e.ListActiveValidators()
	require.NoError(t, err)
	require.Len(t, active, 2)
}

func TestEndBlockFiltersUnregisteredAndUnderweight(t *testing.T) {
	e, g := newTestEngine(t, Config{EpochLength: time.Hour, MinWeight: 5, MaxValidators: 10})

	_, err := g.UpdateMembers([]group.MemberUpdate{
		{Address: addr(1), Weight: 10}, // registered, eligible
		{Address: addr(2), Weight: 10}, // unregistered, excluded
		{Address: addr(3), Weight: 1},  // registered but below min weight
	}, 1)
	require.NoError(t, err)
	require.NoError(t, e.RegisterValidatorKey(addr(1), pub(1), ""))
	require.NoError(t, e.RegisterValidatorKey(addr(3), pub(3), ""))

	_, err = e.EndBlock(1)
	require.NoError(t, err)

	active, err := e.ListActiveValidators()
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, pub(1), active[0].Pubkey)
}

func TestEndBlockNoOpWithinSameEpoch(t *testing.T) {
	e, g := newTestEngine(t, Config{EpochLength: time.Hour, MinWeight: 1, MaxValidators: 10})
	now := time.Unix(10_000, 0)
	e.SetNowFunc(func() time.Time { return now })

	require.NoError(t, g.Hooks.Add(addr(77))) // smoke check hooks package compiles into this test binary
	_, err := g.UpdateMembers([]group.MemberUpdate{{Address: addr(1), Weight: 5}}, 1)
	require.NoError(t, err)
	require.NoError(t, e.RegisterValidatorKey(addr(1), pub(1), ""))

	_, err = e.EndBlock(1)
	require.NoError(t, err)

	later := now.Add(10 * time.Minute)
	e.SetNowFunc(func() time.Time { return later })
	diff, err := e.EndBlock(1)
	require.NoError(t, err)
	require.Empty(t, diff.Updates)
}

func TestEndBlockJailExcludesUntilExpiry(t *testing.T) {
	e, g := newTestEngine(t, Config{EpochLength: time.Hour, MinWeight: 1, MaxValidators: 10, AutoUnjail: true})
	now := time.Unix(0, 0)
	e.SetNowFunc(func() time.Time { return now })

	_, err := g.UpdateMembers([]group.MemberUpdate{{Address: addr(1), Weight: 5}}, 1)
	require.NoError(t, err)
	require.NoError(t, e.RegisterValidatorKey(addr(1), pub(1), ""))

	duration := 30 * time.Minute
	require.NoError(t, e.Jail(addr(1), &duration))

	_, err = e.EndBlock(1)
	require.NoError(t, err)
	active, err := e.ListActiveValidators()
	require.NoError(t, err)
	require.Empty(t, active)

	later := now.Add(2 * time.Hour)
	e.SetNowFunc(func() time.Time { return later })
	_, err = e.EndBlock(1)
	require.NoError(t, err)
	active, err = e.ListActiveValidators()
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestComputeDiffAdditionsPrecedeRemovals(t *testing.T) {
	previous := []ActiveEntry{{Pubkey: pub(1), Power: 1}, {Pubkey: pub(2), Power: 2}}
	current := []ActiveEntry{{Pubkey: pub(2), Power: 2}, {Pubkey: pub(3), Power: 3}}

	diff := computeDiff(previous, current)
	require.Len(t, diff.Updates, 2)
	require.Equal(t, pub(3), diff.Updates[0].Pubkey)
	require.EqualValues(t, 3, diff.Updates[0].Power)
	require.Equal(t, pub(1), diff.Updates[1].Pubkey)
	require.EqualValues(t, 0, diff.Updates[1].Power)
}

func TestEndBlockPaysEpochRewardAcrossBoundary(t *testing.T) {
	r := rewards.NewDistributor(storage.NewMemDB(), "rewards", "ucircle")
	db := storage.NewMemDB()
	g := group.NewGroup(group.NewSnapshotMap(db, "members"), group.NewHookRegistry(db, "hooks"), 0)
	e := NewEngine(db, "validator", g, r, Config{
		EpochLength:   time.Hour,
		MinWeight:     1,
		MaxValidators: 10,
		EpochReward:   uint256.NewInt(1000),
	})
	now := time.Unix(0, 0)
	e.SetNowFunc(func() time.Time { return now })

	_, err := g.UpdateMembers([]group.MemberUpdate{{Address: addr(1), Weight: 10}}, 1)
	require.NoError(t, err)
	require.NoError(t, e.RegisterValidatorKey(addr(1), pub(1), ""))

	_, err = e.EndBlock(1) // genesis: no prior epoch to pay for
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	e.SetNowFunc(func() time.Time { return later })
	_, err = e.EndBlock(1)
	require.NoError(t, err)

	distributed, _, err := r.Snapshot()
	require.NoError(t, err)
	require.True(t, distributed.Sign() > 0, "epoch reward should have been distributed")
}
