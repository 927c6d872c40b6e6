package group

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"trustedcircle/core/events"
	"trustedcircle/storage"
)

// ErrHookAlreadyRegistered is returned by HookRegistry.Add when the address
// is already a registered hook.
var ErrHookAlreadyRegistered = errors.New("group: hook already registered")

// ErrHookNotRegistered is returned by HookRegistry.Remove when the address
// is not a registered hook.
var ErrHookNotRegistered = errors.New("group: hook not registered")

const (
	hookIndexKey   = "hooks/index"
	preauthCountKey = "hooks/preauth"
)

// MembershipDelta describes the additions and removals a Propose/Execute
// cycle applied to the group, the payload fanned out to every hook.
type MembershipDelta struct {
	Diffs []MemberDiff
}

// MemberDiff is one member's weight change.
type MemberDiff struct {
	Address []byte
	OldWeight uint64
	NewWeight uint64
}

// HookMessage is an outbound call to a registered downstream hook, carrying
// the membership delta (spec.md §4.B).
type HookMessage struct {
	Hook  []byte
	Delta MembershipDelta
}

// HookRegistry is the bounded set of downstream addresses notified of
// membership deltas, plus the pre-authorization counter that lets a
// non-admin caller perform one admin-gated operation (spec.md §4.B).
type HookRegistry struct {
	db        storage.Database
	namespace string
	emitter   events.Emitter
}

// NewHookRegistry constructs a HookRegistry over the given namespace.
func NewHookRegistry(db storage.Database, namespace string) *HookRegistry {
	return &HookRegistry{db: db, namespace: namespace, emitter: events.NoopEmitter{}}
}

// SetEmitter wires the event sink used to announce hook registration changes.
func (h *HookRegistry) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	h.emitter = e
}

func (h *HookRegistry) indexKey() []byte {
	return storage.JoinKey(h.namespace, []byte(hookIndexKey))
}

func (h *HookRegistry) preauthKey() []byte {
	return storage.JoinKey(h.namespace, []byte(preauthCountKey))
}

func (h *HookRegistry) loadIndex() ([][]byte, error) {
	raw, err := h.db.Get(h.indexKey())
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("group: load hooks: %w", err)
	}
	var addrs [][]byte
	if err := rlp.DecodeBytes(raw, &addrs); err != nil {
		return nil, fmt.Errorf("group: decode hooks: %w", err)
	}
	return addrs, nil
}

func (h *HookRegistry) saveIndex(addrs [][]byte) error {
	encoded, err := rlp.EncodeToBytes(addrs)
	if err != nil {
		return fmt.Errorf("group: encode hooks: %w", err)
	}
	return h.db.Put(h.indexKey(), encoded)
}

// Add registers a new hook address.
func (h *HookRegistry) Add(addr []byte) error {
	addrs, err := h.loadIndex()
	if err != nil {
		return err
	}
	for _, existing := range addrs {
		if compareBytes(existing, addr) == 0 {
			return ErrHookAlreadyRegistered
		}
	}
	addrs = append(addrs, append([]byte(nil), addr...))
	if err := h.saveIndex(addrs); err != nil {
		return err
	}
	h.emitter.Emit(hookAddedEvent{hook: addr})
	return nil
}

// Remove unregisters a hook address. Self-removal by the hook itself bypasses
// the admin check at the call site (spec.md §4.B); this method performs no
// authorization itself.
func (h *HookRegistry) Remove(addr []byte) error {
	addrs, err := h.loadIndex()
	if err != nil {
		return err
	}
	idx := -1
	for i, existing := range addrs {
		if compareBytes(existing, addr) == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrHookNotRegistered
	}
	addrs = append(addrs[:idx], addrs[idx+1:]...)
	if err := h.saveIndex(addrs); err != nil {
		return err
	}
	h.emitter.Emit(hookRemovedEvent{hook: addr})
	return nil
}

// List returns every registered hook address in registration order.
func (h *HookRegistry) List() ([][]byte, error) {
	return h.loadIndex()
}

// Prepare builds one outbound HookMessage per registered hook, in
// registration order, carrying delta (spec.md §5 "hooks are invoked in
// registration order").
func (h *HookRegistry) Prepare(delta MembershipDelta) ([]HookMessage, error) {
	addrs, err := h.loadIndex()
	if err != nil {
		return nil, err
	}
	msgs := make([]HookMessage, 0, len(addrs))
	for _, addr := range addrs {
		msgs = append(msgs, HookMessage{Hook: append([]byte(nil), addr...), Delta: delta})
	}
	return msgs, nil
}

// Preauths returns the current pre-authorization counter.
func (h *HookRegistry) Preauths() (uint64, error) {
	raw, err := h.db.Get(h.preauthKey())
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("group: load preauths: %w", err)
	}
	var count uint64
	if err := rlp.DecodeBytes(raw, &count); err != nil {
		return 0, fmt.Errorf("group: decode preauths: %w", err)
	}
	return count, nil
}

// AddPreauth increments the pre-authorization counter (admin-only at the
// call site).
func (h *HookRegistry) AddPreauth(n uint64) error {
	count, err := h.Preauths()
	if err != nil {
		return err
	}
	return h.setPreauths(count + n)
}

// ConsumePreauth decrements the counter by one, failing if it is already
// zero. A non-admin caller uses this to perform a single admin-gated action.
func (h *HookRegistry) ConsumePreauth() error {
	count, err := h.Preauths()
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.New("group: no preauth available")
	}
	return h.setPreauths(count - 1)
}

func (h *HookRegistry) setPreauths(count uint64) error {
	encoded, err := rlp.EncodeToBytes(count)
	if err != nil {
		return fmt.Errorf("group: encode preauths: %w", err)
	}
	return h.db.Put(h.preauthKey(), encoded)
}
