// Package storage provides the key-value persistence abstraction shared by
// every Trusted Circle component. All higher-level state (membership
// snapshots, escrow, proposals, ballots, validator registrations) is stored
// as RLP-encoded records behind namespaced byte-string keys in a single
// opaque store, per spec.md §6 "Persistence layout".
package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the requested key is absent.
var ErrNotFound = leveldb.ErrNotFound

// Iterator walks a contiguous, lexicographically ordered key range.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Database is the generic key-value store every component is built against.
// Two implementations are provided: MemDB for tests and ephemeral nodes, and
// LevelDB for production. Both support ordered prefix iteration, which the
// Snapshot Map's range queries and the Proposal Engine's expiry index depend
// on (spec.md §4.A, §4.E, §9).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	// NewIterator returns keys with the given prefix in ascending order.
	NewIterator(prefix []byte) Iterator
	Close() error
}

// --- In-memory implementation (tests, ephemeral nodes) ---

type memDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB constructs an in-memory Database.
func NewMemDB() Database {
	return &memDB{data: make(map[string][]byte)}
}

func (db *memDB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *memDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *memDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *memDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *memDB) NewIterator(prefix []byte) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p := string(prefix)
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make([]memEntry, len(keys))
	for i, k := range keys {
		snapshot[i] = memEntry{key: []byte(k), value: append([]byte(nil), db.data[k]...)}
	}
	return &memIterator{entries: snapshot, idx: -1}
}

func (db *memDB) Close() error { return nil }

type memEntry struct {
	key   []byte
	value []byte
}

type memIterator struct {
	entries []memEntry
	idx     int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *memIterator) Key() []byte {
	if it.idx < 0 || it.idx >= len(it.entries) {
		return nil
	}
	return it.entries[it.idx].key
}

func (it *memIterator) Value() []byte {
	if it.idx < 0 || it.idx >= len(it.entries) {
		return nil
	}
	return it.entries[it.idx].value
}

func (it *memIterator) Error() error { return nil }
func (it *memIterator) Release()     {}

// --- LevelDB implementation (production) ---

// LevelDB is a persistent key-value store backed by goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens or creates a LevelDB database at the given path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	return l.db.Get(key, nil)
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return &levelIterator{it: l.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelIterator struct {
	it iterator.Iterator
}

func (it *levelIterator) Next() bool    { return it.it.Next() }
func (it *levelIterator) Key() []byte   { return append([]byte(nil), it.it.Key()...) }
func (it *levelIterator) Value() []byte { return append([]byte(nil), it.it.Value()...) }
func (it *levelIterator) Error() error  { return it.it.Error() }
func (it *levelIterator) Release()      { it.it.Release() }
