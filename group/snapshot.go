// Package group implements the weighted membership primitive shared by every
// higher-level Trusted Circle contract: an indexed address→weight map with a
// secondary by-weight index and per-height historical reads (spec.md §4.A,
// component A), plus the bounded hook registry (component B).
package group

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"trustedcircle/storage"
)

const (
	checkpointIndexName = "checkpoints"
	byWeightIndexName   = "byweight"
)

// storedWeight is the RLP encoding of a primary-map entry. Present
// distinguishes an explicit weight-0 member (still admitted, zero voting
// power — e.g. a lifecycle demotion) from an absent one (never admitted, or
// removed).
type storedWeight struct {
	Present bool
	Weight  uint64
}

// SnapshotMap is an ordered address→weight store with per-height
// checkpoints and a descending by-weight secondary index. It never deletes
// history: a removal writes a tombstone recording the pre-image, exactly as
// spec.md §3 "Snapshot Map never deletes history" requires.
type SnapshotMap struct {
	db        storage.Database
	namespace string
}

// NewSnapshotMap constructs a SnapshotMap over the given namespace. Distinct
// namespaces let a single KV store back multiple groups (e.g. per Trusted
// Circle) without key collisions.
func NewSnapshotMap(db storage.Database, namespace string) *SnapshotMap {
	return &SnapshotMap{db: db, namespace: namespace}
}

func (s *SnapshotMap) primaryKey(addr []byte) []byte {
	return storage.JoinKey(s.namespace, addr)
}

func (s *SnapshotMap) checkpointKey(addr []byte, height uint64) []byte {
	ns := storage.IndexNamespace(s.namespace, checkpointIndexName)
	return storage.JoinKey(ns, addr, storage.EncodeUint64(height))
}

func (s *SnapshotMap) checkpointPrefix(addr []byte) []byte {
	ns := storage.IndexNamespace(s.namespace, checkpointIndexName)
	return storage.JoinKey(ns, addr)
}

// byWeightKey orders descending by weight (via bitwise complement) then
// ascending by address.
func (s *SnapshotMap) byWeightKey(weight uint64, addr []byte) []byte {
	ns := storage.IndexNamespace(s.namespace, byWeightIndexName)
	inverted := make([]byte, 8)
	binary.BigEndian.PutUint64(inverted, math.MaxUint64-weight)
	return storage.JoinKey(ns, inverted, addr)
}

func (s *SnapshotMap) byWeightPrefix() []byte {
	return []byte(storage.IndexNamespace(s.namespace, byWeightIndexName) + "/")
}

// Load returns the current weight for addr, if any.
func (s *SnapshotMap) Load(addr []byte) (uint64, bool, error) {
	raw, err := s.db.Get(s.primaryKey(addr))
	if err == storage.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("group: load: %w", err)
	}
	var stored storedWeight
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return 0, false, fmt.Errorf("group: decode weight: %w", err)
	}
	return stored.Weight, stored.Present, nil
}

// LoadAt returns the weight that load(addr) would have returned at the start
// of block height. See spec.md §4.A "Historical semantics".
func (s *SnapshotMap) LoadAt(addr []byte, height uint64) (uint64, bool, error) {
	it := s.db.NewIterator(s.checkpointPrefix(addr))
	defer it.Release()
	prefixLen := len(s.checkpointPrefix(addr))
	for it.Next() {
		key := it.Key()
		if len(key) < prefixLen+8 {
			continue
		}
		h := binary.BigEndian.Uint64(key[prefixLen : prefixLen+8])
		if h >= height {
			var stored storedWeight
			if err := rlp.DecodeBytes(it.Value(), &stored); err != nil {
				return 0, false, fmt.Errorf("group: decode checkpoint: %w", err)
			}
			return stored.Weight, stored.Present, it.Error()
		}
	}
	if err := it.Error(); err != nil {
		return 0, false, err
	}
	return s.Load(addr)
}

// Save records a new weight for addr at height, capturing a pre-image
// tombstone the first time (a, height) is written (spec.md §4.A "Multiple
// writes at the same height collapse").
func (s *SnapshotMap) Save(addr []byte, weight uint64, height uint64) error {
	if err := s.captureCheckpoint(addr, height); err != nil {
		return err
	}
	prevWeight, prevPresent, err := s.Load(addr)
	if err != nil {
		return err
	}
	if prevPresent {
		if err := s.db.Delete(s.byWeightKey(prevWeight, addr)); err != nil {
			return fmt.Errorf("group: drop stale weight index: %w", err)
		}
	}
	encoded, err := rlp.EncodeToBytes(storedWeight{Present: true, Weight: weight})
	if err != nil {
		return fmt.Errorf("group: encode weight: %w", err)
	}
	if err := s.db.Put(s.primaryKey(addr), encoded); err != nil {
		return fmt.Errorf("group: put weight: %w", err)
	}
	if err := s.db.Put(s.byWeightKey(weight, addr), addr); err != nil {
		return fmt.Errorf("group: put weight index: %w", err)
	}
	return nil
}

// Remove deletes addr's current weight at height, writing a tombstone so
// LoadAt can still reconstruct the pre-removal value.
func (s *SnapshotMap) Remove(addr []byte, height uint64) error {
	if err := s.captureCheckpoint(addr, height); err != nil {
		return err
	}
	prevWeight, prevPresent, err := s.Load(addr)
	if err != nil {
		return err
	}
	if !prevPresent {
		return nil
	}
	if err := s.db.Delete(s.byWeightKey(prevWeight, addr)); err != nil {
		return fmt.Errorf("group: drop weight index: %w", err)
	}
	if err := s.db.Delete(s.primaryKey(addr)); err != nil {
		return fmt.Errorf("group: remove weight: %w", err)
	}
	return nil
}

// captureCheckpoint writes the pre-image tombstone for (addr, height) unless
// one already exists.
func (s *SnapshotMap) captureCheckpoint(addr []byte, height uint64) error {
	key := s.checkpointKey(addr, height)
	exists, err := s.db.Has(key)
	if err != nil {
		return fmt.Errorf("group: check checkpoint: %w", err)
	}
	if exists {
		return nil
	}
	weight, present, err := s.Load(addr)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(storedWeight{Present: present, Weight: weight})
	if err != nil {
		return fmt.Errorf("group: encode checkpoint: %w", err)
	}
	return s.db.Put(key, encoded)
}

// Member pairs an address with its current weight, returned by Range.
type Member struct {
	Address []byte
	Weight  uint64
}

// Range lists members in ascending address order. startAfter, when non-nil,
// excludes addresses lexicographically at or before it.
func (s *SnapshotMap) Range(startAfter []byte, limit int) ([]Member, error) {
	it := s.db.NewIterator([]byte(s.namespace + "/"))
	defer it.Release()
	prefixLen := len(s.namespace) + 1
	var out []Member
	for it.Next() {
		key := it.Key()
		if len(key) <= prefixLen+1 {
			continue
		}
		addr := append([]byte(nil), key[prefixLen:len(key)-1]...)
		if startAfter != nil && compareBytes(addr, startAfter) <= 0 {
			continue
		}
		var stored storedWeight
		if err := rlp.DecodeBytes(it.Value(), &stored); err != nil {
			return nil, fmt.Errorf("group: decode range entry: %w", err)
		}
		out = append(out, Member{Address: addr, Weight: stored.Weight})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return compareBytes(out[i].Address, out[j].Address) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WeightedMember is an entry from the by-weight secondary index.
type WeightedMember struct {
	Weight  uint64
	Address []byte
}

// RangeByWeight lists members descending by weight, then ascending by
// address within equal weights (spec.md §4.A).
func (s *SnapshotMap) RangeByWeight(startAfter *WeightedMember, limit int) ([]WeightedMember, error) {
	it := s.db.NewIterator(s.byWeightPrefix())
	defer it.Release()
	var out []WeightedMember
	skipping := startAfter != nil
	startKey := ""
	if startAfter != nil {
		startKey = string(s.byWeightKey(startAfter.Weight, startAfter.Address))
	}
	for it.Next() {
		key := it.Key()
		addr := it.Value()
		weight, ok := decodeInvertedWeight(key, len(s.byWeightPrefix()))
		if !ok {
			continue
		}
		if skipping {
			if string(key) == startKey {
				skipping = false
			}
			continue
		}
		out = append(out, WeightedMember{Weight: weight, Address: append([]byte(nil), addr...)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeInvertedWeight(key []byte, prefixLen int) (uint64, bool) {
	if len(key) < prefixLen+8 {
		return 0, false
	}
	inverted := binary.BigEndian.Uint64(key[prefixLen : prefixLen+8])
	return math.MaxUint64 - inverted, true
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
