package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trustedcircle/storage"
)

func addr(b byte) []byte {
	out := make([]byte, 20)
	out[19] = b
	return out
}

func TestSnapshotMapLoadMissing(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	weight, present, err := snap.Load(addr(1))
	require.NoError(t, err)
	require.False(t, present)
	require.Zero(t, weight)
}

func TestSnapshotMapSaveAndLoad(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(1), 10, 5))
	weight, present, err := snap.Load(addr(1))
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 10, weight)
}

func TestSnapshotMapZeroWeightStillAdmitted(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(1), 0, 1))
	weight, present, err := snap.Load(addr(1))
	require.NoError(t, err)
	require.True(t, present)
	require.Zero(t, weight)
}

func TestSnapshotMapRemove(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(1), 10, 1))
	require.NoError(t, snap.Remove(addr(1), 2))

	_, present, err := snap.Load(addr(1))
	require.NoError(t, err)
	require.False(t, present)
}

func TestSnapshotMapHistoricalReads(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(1), 10, 5))
	require.NoError(t, snap.Save(addr(1), 20, 10))

	// Before the first write, the member is absent.
	_, present, err := snap.LoadAt(addr(1), 1)
	require.NoError(t, err)
	require.False(t, present)

	// At height 5 (the write itself), a read sees the pre-image: absent.
	weight, present, err := snap.LoadAt(addr(1), 5)
	require.NoError(t, err)
	require.False(t, present)
	require.Zero(t, weight)

	// Between the writes, weight is still 10.
	weight, present, err = snap.LoadAt(addr(1), 7)
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 10, weight)

	// At height 10 the read still sees the pre-image (10); after it, weight is 20.
	weight, present, err = snap.LoadAt(addr(1), 10)
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 10, weight)

	weight, present, err = snap.LoadAt(addr(1), 100)
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 20, weight)
}

func TestSnapshotMapHistoricalReadsAcrossRemoval(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(1), 10, 5))
	require.NoError(t, snap.Remove(addr(1), 10))

	weight, present, err := snap.LoadAt(addr(1), 7)
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 10, weight)

	// The removal height itself still reads the pre-image.
	_, present, err = snap.LoadAt(addr(1), 10)
	require.NoError(t, err)
	require.True(t, present)

	_, present, err = snap.Load(addr(1))
	require.NoError(t, err)
	require.False(t, present)
}

func TestSnapshotMapRangeOrdersByAddress(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(3), 30, 1))
	require.NoError(t, snap.Save(addr(1), 10, 1))
	require.NoError(t, snap.Save(addr(2), 20, 1))

	members, err := snap.Range(nil, 0)
	require.NoError(t, err)
	require.Len(t, members, 3)
	require.Equal(t, addr(1), members[0].Address)
	require.Equal(t, addr(2), members[1].Address)
	require.Equal(t, addr(3), members[2].Address)
}

func TestSnapshotMapRangeByWeightDescending(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(1), 10, 1))
	require.NoError(t, snap.Save(addr(2), 30, 1))
	require.NoError(t, snap.Save(addr(3), 20, 1))

	ranked, err := snap.RangeByWeight(nil, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	require.EqualValues(t, 30, ranked[0].Weight)
	require.EqualValues(t, 20, ranked[1].Weight)
	require.EqualValues(t, 10, ranked[2].Weight)
}

func TestSnapshotMapRangeByWeightPagination(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(1), 10, 1))
	require.NoError(t, snap.Save(addr(2), 30, 1))
	require.NoError(t, snap.Save(addr(3), 20, 1))

	first, err := snap.RangeByWeight(nil, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.EqualValues(t, 30, first[0].Weight)

	rest, err := snap.RangeByWeight(&first[0], 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.EqualValues(t, 20, rest[0].Weight)
	require.EqualValues(t, 10, rest[1].Weight)
}

func TestSnapshotMapSameHeightWritesCollapse(t *testing.T) {
	db := storage.NewMemDB()
	snap := NewSnapshotMap(db, "members")

	require.NoError(t, snap.Save(addr(1), 10, 5))
	require.NoError(t, snap.Save(addr(1), 15, 5))
	require.NoError(t, snap.Save(addr(1), 20, 5))

	// The pre-image captured at height 5 should be the state before the
	// very first write at that height: absent.
	_, present, err := snap.LoadAt(addr(1), 5)
	require.NoError(t, err)
	require.False(t, present)

	weight, present, err := snap.Load(addr(1))
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 20, weight)
}
