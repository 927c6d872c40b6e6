package lifecycle

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

func newTestEngine(t *testing.T) (*Engine, *group.Group) {
	t.Helper()
	db := storage.NewMemDB()
	g := group.NewGroup(group.NewSnapshotMap(db, "members"), group.NewHookRegistry(db, "hooks"), 0)
	r := rewards.NewDistributor(db, "rewards", "ucircle")
	e := NewEngine(db, "lifecycle", g, r, uint256.NewInt(100), 7*24*time.Hour)
	return e, g
}

func TestAddNonVotingThenBatchPromotion(t *testing.T) {
	e, g := newTestEngine(t)

	require.NoError(t, e.AddNonVoting(addr(1)))
	rec, present, err := e.Escrow(addr(1))
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, StatusNonVoting, rec.Status)

	batchID, err := e.ProposeVoting([][]byte{addr(1)}, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	rec, _, err = e.Escrow(addr(1))
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)

	require.NoError(t, e.DepositEscrow(addr(1), uint256.NewInt(100), 1))

	rec, _, err = e.Escrow(addr(1))
	require.NoError(t, err)
	require.Equal(t, StatusVoting, rec.Status)

	weight, present, err := g.Snapshot.Load(addr(1))
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 1, weight)
}

func TestDepositPartialDoesNotPromote(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.ProposeVoting([][]byte{addr(1)}, 24*time.Hour)
	require.NoError(t, err)

	require.NoError(t, e.DepositEscrow(addr(1), uint256.NewInt(50), 1))

	rec, _, err := e.Escrow(addr(1))
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
}

func TestBatchPromotesWhenAllMembersPaid(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.ProposeVoting([][]byte{addr(1), addr(2)}, 24*time.Hour)
	require.NoError(t, err)

	require.NoError(t, e.DepositEscrow(addr(1), uint256.NewInt(100), 1))
	rec, _, err := e.Escrow(addr(1))
	require.NoError(t, err)
	require.Equal(t, StatusPendingPaid, rec.Status, "batch still waiting on addr(2)")

	require.NoError(t, e.DepositEscrow(addr(2), uint256.NewInt(100), 2))

	rec1, _, err := e.Escrow(addr(1))
	require.NoError(t, err)
	require.Equal(t, StatusVoting, rec1.Status)
	rec2, _, err := e.Escrow(addr(2))
	require.NoError(t, err)
	require.Equal(t, StatusVoting, rec2.Status)
}

func TestReturnEscrowRefundsAndRemoves(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.ProposeVoting([][]byte{addr(1)}, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.DepositEscrow(addr(1), uint256.NewInt(40), 1))

	refund, err := e.ReturnEscrow(addr(1))
	require.NoError(t, err)
	require.EqualValues(t, 40, refund.Uint64())

	_, present, err := e.Escrow(addr(1))
	require.NoError(t, err)
	require.False(t, present)
}

func TestSweepBatchTimeoutsPromotesReadyBatch(t *testing.T) {
	e, _ := newTestEngine(t)
	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })

	_, err := e.ProposeVoting([][]byte{addr(1)}, time.Hour)
	require.NoError(t, err)

	// Never pays; the batch must still become ready once grace elapses.
	later := now.Add(2 * time.Hour)
	e.SetNowFunc(func() time.Time { return later })
	require.NoError(t, e.CheckPendingSweep(nil, 5))

	rec, _, err := e.Escrow(addr(1))
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status, "unpaid members stay Pending even after batch readiness")
}

func TestLeaveZeroesWeightAndStartsClaimDelay(t *testing.T) {
	e, g := newTestEngine(t)

	_, err := e.ProposeVoting([][]byte{addr(1)}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.DepositEscrow(addr(1), uint256.NewInt(100), 1))

	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })
	require.NoError(t, e.Leave(addr(1), 2))

	weight, present, err := g.Snapshot.Load(addr(1))
	require.NoError(t, err)
	require.True(t, present)
	require.Zero(t, weight)

	_, err = e.ClaimLeaving(addr(1))
	require.ErrorIs(t, err, ErrClaimNotReady)

	later := now.Add(15 * 24 * time.Hour)
	e.SetNowFunc(func() time.Time { return later })
	refund, err := e.ClaimLeaving(addr(1))
	require.NoError(t, err)
	require.EqualValues(t, 100, refund.Uint64())

	_, present, err = e.Escrow(addr(1))
	require.NoError(t, err)
	require.False(t, present)
}

func TestHalfLifeDecayHalvesWeightsAboveOne(t *testing.T) {
	e, g := newTestEngine(t)
	require.NoError(t, g.Hooks.Add(addr(99))) // no-op smoke check that hooks don't interfere

	_, err := g.UpdateMembers([]group.MemberUpdate{{Address: addr(1), Weight: 8}}, 1)
	require.NoError(t, err)

	now := time.Unix(0, 0)
	e.SetNowFunc(func() time.Time { return now })

	later := now.Add(48 * time.Hour)
	e.SetNowFunc(func() time.Time { return later })
	require.NoError(t, e.HalfLifeDecay(24*time.Hour, 2))

	weight, _, err := g.Snapshot.Load(addr(1))
	require.NoError(t, err)
	require.EqualValues(t, 4, weight)
}

func TestHalfLifeDecayPreservesWeightOne(t *testing.T) {
	e, g := newTestEngine(t)

	_, err := g.UpdateMembers([]group.MemberUpdate{{Address: addr(1), Weight: 1}}, 1)
	require.NoError(t, err)

	later := time.Unix(0, 0).Add(48 * time.Hour)
	e.SetNowFunc(func() time.Time { return later })
	require.NoError(t, e.HalfLifeDecay(24*time.Hour, 2))

	weight, _, err := g.Snapshot.Load(addr(1))
	require.NoError(t, err)
	require.EqualValues(t, 1, weight)
}

func TestDistributeEscrowSlashesAndSplits(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.ProposeVoting([][]byte{addr(1)}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.DepositEscrow(addr(1), uint256.NewInt(100), 1))

	result, err := e.DistributeEscrow(addr(1), 2000, [][]byte{addr(10), addr(11)}, false, 2)
	require.NoError(t, err)
	require.EqualValues(t, 20, result.Slashed.Uint64())
	require.Len(t, result.PerPayee, 2)
	require.EqualValues(t, 10, result.PerPayee[0].Uint64())

	rec, _, err := e.Escrow(addr(1))
	require.NoError(t, err)
	require.EqualValues(t, 80, rec.Paid.Uint64())
}

func TestDeniedAddressRejectedAtEveryAdmissionPoint(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetDenyList([][]byte{addr(13)})

	require.ErrorIs(t, e.AddNonVoting(addr(13)), ErrDenied)

	_, err := e.ProposeVoting([][]byte{addr(1), addr(13)}, time.Hour)
	require.ErrorIs(t, err, ErrDenied)

	require.NoError(t, e.AddNonVoting(addr(1)))
	require.ErrorIs(t, e.DepositEscrow(addr(13), uint256.NewInt(10), 1), ErrDenied)
}

func TestDistributeEscrowKickOutTransitionsToLeaving(t *testing.T) {
	e, g := newTestEngine(t)

	_, err := e.ProposeVoting([][]byte{addr(1)}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.DepositEscrow(addr(1), uint256.NewInt(100), 1))

	now := time.Unix(2000, 0)
	e.SetNowFunc(func() time.Time { return now })
	result, err := e.DistributeEscrow(addr(1), 5000, [][]byte{addr(10)}, true, 2)
	require.NoError(t, err)
	require.True(t, result.KickedOut)

	rec, _, err := e.Escrow(addr(1))
	require.NoError(t, err)
	require.Equal(t, StatusLeaving, rec.Status)

	weight, _, err := g.Snapshot.Load(addr(1))
	require.NoError(t, err)
	require.Zero(t, weight)
}
