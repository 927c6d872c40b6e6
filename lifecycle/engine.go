package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"trustedcircle/core/events"
	"trustedcircle/group"
	"trustedcircle/rewards"
	"trustedcircle/storage"
)

var (
	// ErrNotAdmitted is returned when an operation targets an address with
	// no escrow record.
	ErrNotAdmitted = errors.New("lifecycle: address not admitted")
	// ErrInvalidStatus is returned when an operation is attempted from a
	// status that does not permit it.
	ErrInvalidStatus = errors.New("lifecycle: invalid status for operation")
	// ErrAlreadyAdmitted is returned when AddNonVoting targets an address
	// that already has a lifecycle record.
	ErrAlreadyAdmitted = errors.New("lifecycle: address already admitted")
	// ErrBatchNotFound is returned when a batch id does not resolve.
	ErrBatchNotFound = errors.New("lifecycle: batch not found")
	// ErrClaimNotReady is returned by ClaimLeaving before the claim delay
	// has elapsed.
	ErrClaimNotReady = errors.New("lifecycle: claim delay not yet elapsed")
	// ErrDenied is returned by AddNonVoting, ProposeVoting, and
	// DepositEscrow when the target address is on the circle's deny list
	// (spec.md §12 "Deny-list").
	ErrDenied = errors.New("lifecycle: address is on the deny list")
)

const (
	escrowNamespace        = "escrow"
	batchNamespace         = "batch"
	batchReadinessIndex    = "batch__readiness"
	decayStateKey          = "decay/last_applied"
	votingWeight    uint64 = 1
)

// Engine drives the voter lifecycle state machine for one Trusted Circle: it
// owns the escrow ledger and batch bookkeeping, and keeps the weighted
// Group and reward Distributor in sync with every transition.
type Engine struct {
	db           storage.Database
	namespace    string
	group        *group.Group
	rewards      *rewards.Distributor
	escrowAmount *uint256.Int
	votingPeriod time.Duration
	denyList     map[string]bool
	nowFunc      func() time.Time
	emitter      events.Emitter
}

// NewEngine constructs a lifecycle Engine. escrowAmount is the circle's
// current required escrow; votingPeriod sizes the 2x claim delay applied on
// forced or voluntary leave (spec.md §4.D "standard 2x voting-period claim
// delay").
func NewEngine(db storage.Database, namespace string, g *group.Group, r *rewards.Distributor, escrowAmount *uint256.Int, votingPeriod time.Duration) *Engine {
	return &Engine{
		db:           db,
		namespace:    namespace,
		group:        g,
		rewards:      r,
		escrowAmount: escrowAmount,
		votingPeriod: votingPeriod,
		nowFunc:      time.Now,
		emitter:      events.NoopEmitter{},
	}
}

// SetDenyList replaces the set of addresses barred from admission
// (spec.md §3 Configuration "deny_list").
func (e *Engine) SetDenyList(denyList [][]byte) {
	deny := make(map[string]bool, len(denyList))
	for _, a := range denyList {
		deny[string(a)] = true
	}
	e.denyList = deny
}

// Denied reports whether addr appears on the configured deny list.
func (e *Engine) Denied(addr []byte) bool { return e.denyList[string(addr)] }

// SetNowFunc overrides the clock, used by tests to control wall-clock
// sensitive transitions deterministically.
func (e *Engine) SetNowFunc(f func() time.Time) {
	if f == nil {
		f = time.Now
	}
	e.nowFunc = f
}

// SetEmitter wires the event sink used to announce lifecycle transitions.
func (e *Engine) SetEmitter(em events.Emitter) {
	if em == nil {
		em = events.NoopEmitter{}
	}
	e.emitter = em
}

// SetEscrowAmount updates the currently required escrow amount. Callers
// apply this only once a pending change's grace period has elapsed, via
// CheckPendingSweep.
func (e *Engine) SetEscrowAmount(amount *uint256.Int) {
	e.escrowAmount = amount
}

func (e *Engine) escrowKey(addr []byte) []byte {
	return storage.JoinKey(e.namespace, []byte(escrowNamespace), addr)
}

func (e *Engine) batchKey(id string) []byte {
	return storage.JoinKey(e.namespace, []byte(batchNamespace), []byte(id))
}

func (e *Engine) readinessKey(promoted bool, graceEndsAt uint64, id string) []byte {
	flag := byte(0)
	if promoted {
		flag = 1
	}
	return storage.JoinKey(e.namespace, []byte(batchReadinessIndex), []byte{flag}, storage.EncodeUint64(graceEndsAt), []byte(id))
}

func (e *Engine) readinessPrefix() []byte {
	return storage.JoinKey(e.namespace, []byte(batchReadinessIndex), []byte{0})
}

// Escrow returns the lifecycle record for addr, if any.
func (e *Engine) Escrow(addr []byte) (EscrowRecord, bool, error) {
	raw, err := e.db.Get(e.escrowKey(addr))
	if err == storage.ErrNotFound {
		return EscrowRecord{}, false, nil
	}
	if err != nil {
		return EscrowRecord{}, false, fmt.Errorf("lifecycle: load escrow: %w", err)
	}
	var rec EscrowRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return EscrowRecord{}, false, fmt.Errorf("lifecycle: decode escrow: %w", err)
	}
	return rec, true, nil
}

// EscrowEntry pairs an address with its lifecycle escrow record, returned
// by ListEscrows.
type EscrowEntry struct {
	Address []byte
	Record  EscrowRecord
}

// ListEscrows returns every admitted address's escrow record in ascending
// address order, for the spec.md §6 query "ListEscrows{start_after?,
// limit?}".
func (e *Engine) ListEscrows(startAfter []byte, limit int) ([]EscrowEntry, error) {
	prefix := storage.JoinKey(e.namespace, []byte(escrowNamespace))
	it := e.db.NewIterator(prefix)
	defer it.Release()
	prefixLen := len(prefix)
	var out []EscrowEntry
	for it.Next() {
		key := it.Key()
		if len(key) <= prefixLen {
			continue
		}
		addr := append([]byte(nil), key[prefixLen:len(key)-1]...)
		if startAfter != nil && compareAddr(addr, startAfter) <= 0 {
			continue
		}
		var rec EscrowRecord
		if err := rlp.DecodeBytes(it.Value(), &rec); err != nil {
			return nil, fmt.Errorf("lifecycle: decode escrow entry: %w", err)
		}
		out = append(out, EscrowEntry{Address: addr, Record: rec})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return compareAddr(out[i].Address, out[j].Address) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func compareAddr(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func (e *Engine) saveEscrow(addr []byte, rec EscrowRecord) error {
	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("lifecycle: encode escrow: %w", err)
	}
	return e.db.Put(e.escrowKey(addr), encoded)
}

func (e *Engine) deleteEscrow(addr []byte) error {
	return e.db.Delete(e.escrowKey(addr))
}

func (e *Engine) loadBatch(id string) (BatchRecord, error) {
	raw, err := e.db.Get(e.batchKey(id))
	if err == storage.ErrNotFound {
		return BatchRecord{}, ErrBatchNotFound
	}
	if err != nil {
		return BatchRecord{}, fmt.Errorf("lifecycle: load batch: %w", err)
	}
	var b BatchRecord
	if err := rlp.DecodeBytes(raw, &b); err != nil {
		return BatchRecord{}, fmt.Errorf("lifecycle: decode batch: %w", err)
	}
	return b, nil
}

func (e *Engine) saveBatch(b BatchRecord) error {
	if err := e.db.Delete(e.readinessKey(false, b.GraceEndsAt, b.ID)); err != nil {
		return fmt.Errorf("lifecycle: clear stale readiness index: %w", err)
	}
	encoded, err := rlp.EncodeToBytes(b)
	if err != nil {
		return fmt.Errorf("lifecycle: encode batch: %w", err)
	}
	if err := e.db.Put(e.batchKey(b.ID), encoded); err != nil {
		return fmt.Errorf("lifecycle: put batch: %w", err)
	}
	return e.db.Put(e.readinessKey(b.BatchPromoted, b.GraceEndsAt, b.ID), []byte(b.ID))
}

// AddNonVoting admits addr as a candidate voter outside any batch, holding
// no escrow and casting no votes (spec.md §4.D "add-non-voting").
func (e *Engine) AddNonVoting(addr []byte) error {
	if e.Denied(addr) {
		return ErrDenied
	}
	_, present, err := e.Escrow(addr)
	if err != nil {
		return err
	}
	if present {
		return ErrAlreadyAdmitted
	}
	rec := newEscrowRecord(StatusNonVoting)
	if err := e.saveEscrow(addr, rec); err != nil {
		return err
	}
	e.emitter.Emit(statusChangedEvent{addr: addr, from: StatusAbsent, to: StatusNonVoting})
	return nil
}

// ProposeVoting admits each of addrs as a new batch of prospective voters
// (spec.md §4.D "add-voting (batch b)"). Addresses already NonVoting move
// into the batch as Pending; absent addresses are admitted directly as
// Pending. Returns the new batch's id.
func (e *Engine) ProposeVoting(addrs [][]byte, grace time.Duration) (string, error) {
	if len(addrs) == 0 {
		return "", fmt.Errorf("lifecycle: batch must contain at least one member")
	}
	for _, addr := range addrs {
		if e.Denied(addr) {
			return "", fmt.Errorf("%w: %x", ErrDenied, addr)
		}
	}
	batchID := uuid.NewString()
	members := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		rec, present, err := e.Escrow(addr)
		if err != nil {
			return "", err
		}
		switch {
		case !present:
			rec = newEscrowRecord(StatusPending)
		case rec.Status == StatusNonVoting:
			rec.Status = StatusPending
		default:
			return "", fmt.Errorf("%w: %s already has status %s", ErrInvalidStatus, addr, rec.Status)
		}
		rec.BatchID = batchID
		if err := e.saveEscrow(addr, rec); err != nil {
			return "", err
		}
		members = append(members, append([]byte(nil), addr...))
	}
	batch := BatchRecord{
		ID:            batchID,
		GraceEndsAt:   uint64(e.nowFunc().Add(grace).Unix()),
		WaitingEscrow: uint32(len(members)),
		BatchPromoted: false,
		Members:       members,
	}
	if err := e.saveBatch(batch); err != nil {
		return "", err
	}
	e.emitter.Emit(batchCreatedEvent{batchID: batchID, members: members})
	return batchID, nil
}

// DepositEscrow credits amount toward addr's required escrow. Once paid in
// full from Pending, the member becomes PendingPaid; if that completes the
// batch (waiting_escrow reaches zero), the batch is promoted immediately.
func (e *Engine) DepositEscrow(addr []byte, amount *uint256.Int, height uint64) error {
	if e.Denied(addr) {
		return ErrDenied
	}
	rec, present, err := e.Escrow(addr)
	if !present {
		return ErrNotAdmitted
	}
	if err != nil {
		return err
	}
	if rec.Status != StatusPending && rec.Status != StatusPendingPaid {
		return fmt.Errorf("%w: deposit requires Pending or PendingPaid, got %s", ErrInvalidStatus, rec.Status)
	}
	rec.Paid = new(uint256.Int).Add(rec.Paid, amount)
	wasPending := rec.Status == StatusPending
	if wasPending && rec.Paid.Cmp(e.escrowAmount) >= 0 {
		rec.Status = StatusPendingPaid
	}
	if err := e.saveEscrow(addr, rec); err != nil {
		return err
	}
	e.emitter.Emit(escrowDepositedEvent{addr: addr, amount: amount})
	if !wasPending || rec.Status != StatusPendingPaid || rec.BatchID == "" {
		return nil
	}
	batch, err := e.loadBatch(rec.BatchID)
	if err != nil {
		return err
	}
	if batch.WaitingEscrow > 0 {
		batch.WaitingEscrow--
	}
	if err := e.saveBatch(batch); err != nil {
		return err
	}
	if batch.WaitingEscrow == 0 || batch.BatchPromoted {
		return e.promoteBatch(batch.ID, height)
	}
	return nil
}

// ReturnEscrow is a voluntary pre-voting withdrawal: a Pending or
// PendingPaid member exits the batch entirely and their paid escrow is
// refunded (spec.md §12 supplemented feature, grounded on the escrow
// contract's withdraw-before-settlement path).
func (e *Engine) ReturnEscrow(addr []byte) (*uint256.Int, error) {
	rec, present, err := e.Escrow(addr)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, ErrNotAdmitted
	}
	if rec.Status != StatusPending && rec.Status != StatusPendingPaid {
		return nil, fmt.Errorf("%w: return requires Pending or PendingPaid, got %s", ErrInvalidStatus, rec.Status)
	}
	refund := rec.Paid
	if rec.BatchID != "" {
		batch, err := e.loadBatch(rec.BatchID)
		if err == nil {
			batch.Members = removeAddr(batch.Members, addr)
			if rec.Status == StatusPending && batch.WaitingEscrow > 0 {
				batch.WaitingEscrow--
			}
			if err := e.saveBatch(batch); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, ErrBatchNotFound) {
			return nil, err
		}
	}
	if err := e.deleteEscrow(addr); err != nil {
		return nil, err
	}
	e.emitter.Emit(escrowReturnedEvent{addr: addr, amount: refund})
	return refund, nil
}

func removeAddr(members [][]byte, target []byte) [][]byte {
	out := make([][]byte, 0, len(members))
	for _, m := range members {
		if string(m) == string(target) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// promoteBatch transitions every PendingPaid member of batch to Voting with
// weight 1, leaving Pending members in place to be promoted individually
// once they pay (spec.md §4.D "Batch promotion"). Running it again on an
// already promoted batch promotes only members that have since become
// PendingPaid.
func (e *Engine) promoteBatch(batchID string, height uint64) error {
	batch, err := e.loadBatch(batchID)
	if err != nil {
		return err
	}
	for _, addr := range batch.Members {
		rec, present, err := e.Escrow(addr)
		if err != nil {
			return err
		}
		if !present || rec.Status != StatusPendingPaid {
			continue
		}
		rec.Status = StatusVoting
		if err := e.saveEscrow(addr, rec); err != nil {
			return err
		}
		if _, err := e.group.UpdateMembers([]group.MemberUpdate{{Address: addr, Weight: votingWeight}}, height); err != nil {
			return fmt.Errorf("lifecycle: admit voter: %w", err)
		}
		if e.rewards != nil {
			if err := e.rewards.AdjustWeightChange(addr, 0, votingWeight); err != nil {
				return fmt.Errorf("lifecycle: reward correction on admission: %w", err)
			}
		}
		e.emitter.Emit(statusChangedEvent{addr: addr, from: StatusPendingPaid, to: StatusVoting})
	}
	batch.BatchPromoted = true
	return e.saveBatch(batch)
}

// CheckPendingSweep runs the two-pass sweep invoked explicitly and on every
// proposal creation (spec.md §4.D "Check-pending sweep"). pendingChange is
// nil when no escrow-amount change is outstanding.
func (e *Engine) CheckPendingSweep(pendingChange *EscrowAmountChange, height uint64) error {
	now := e.nowFunc()
	if pendingChange != nil && uint64(now.Unix()) >= pendingChange.GraceEndsAt {
		if err := e.applyEscrowAmountChange(pendingChange.NewAmount, height); err != nil {
			return err
		}
		e.escrowAmount = pendingChange.NewAmount
	}
	return e.sweepBatchTimeouts(now, height)
}

// applyEscrowAmountChange demotes or promotes members relative to a revised
// escrow requirement. Exactly one direction applies per sweep, matching the
// single outstanding `escrow_pending` slot in the circle configuration.
func (e *Engine) applyEscrowAmountChange(newAmount *uint256.Int, height uint64) error {
	higher := newAmount.Cmp(e.escrowAmount) > 0
	var after []byte
	for {
		page, err := e.group.Snapshot.Range(after, 256)
		if err != nil {
			return err
		}
		for _, m := range page {
			rec, present, err := e.Escrow(m.Address)
			if err != nil {
				return err
			}
			if !present {
				continue
			}
			if higher && rec.Status == StatusVoting && rec.Paid.Cmp(newAmount) < 0 {
				if err := e.demoteToPending(m.Address, rec, height); err != nil {
					return err
				}
			}
			if !higher && rec.Status == StatusPending && rec.Paid.Cmp(newAmount) >= 0 {
				rec.Status = StatusPendingPaid
				if err := e.saveEscrow(m.Address, rec); err != nil {
					return err
				}
				if rec.BatchID != "" {
					if batch, err := e.loadBatch(rec.BatchID); err == nil {
						if batch.WaitingEscrow > 0 {
							batch.WaitingEscrow--
						}
						if err := e.saveBatch(batch); err != nil {
							return err
						}
						if batch.WaitingEscrow == 0 {
							if err := e.promoteBatch(batch.ID, height); err != nil {
								return err
							}
						}
					}
				}
			}
		}
		if len(page) < 256 {
			return nil
		}
		after = page[len(page)-1].Address
	}
}

func (e *Engine) demoteToPending(addr []byte, rec EscrowRecord, height uint64) error {
	rec.Status = StatusPending
	if err := e.saveEscrow(addr, rec); err != nil {
		return err
	}
	if _, err := e.group.UpdateMembers([]group.MemberUpdate{{Address: addr, Weight: 0}}, height); err != nil {
		return fmt.Errorf("lifecycle: demote voter: %w", err)
	}
	if e.rewards != nil {
		if err := e.rewards.AdjustWeightChange(addr, votingWeight, 0); err != nil {
			return fmt.Errorf("lifecycle: reward correction on demotion: %w", err)
		}
	}
	e.emitter.Emit(statusChangedEvent{addr: addr, from: StatusVoting, to: StatusPending})
	return nil
}

// sweepBatchTimeouts promotes every unpromoted batch whose grace period has
// elapsed. The bound is inclusive: grace_ends_at <= now.
func (e *Engine) sweepBatchTimeouts(now time.Time, height uint64) error {
	it := e.db.NewIterator(e.readinessPrefix())
	defer it.Release()
	var ids []string
	prefixLen := len(e.readinessPrefix())
	for it.Next() {
		key := it.Key()
		if len(key) < prefixLen+8 {
			continue
		}
		graceEndsAt := storage.DecodeUint64(key[prefixLen : prefixLen+8])
		if graceEndsAt > uint64(now.Unix()) {
			break
		}
		ids = append(ids, string(it.Value()))
	}
	if err := it.Error(); err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.promoteBatch(id, height); err != nil {
			return err
		}
	}
	return nil
}

// Leave transitions a Voting member into Leaving, immediately zeroing their
// weight and starting the 2x voting-period claim delay (spec.md §4.D).
func (e *Engine) Leave(addr []byte, height uint64) error {
	rec, present, err := e.Escrow(addr)
	if err != nil {
		return err
	}
	if !present || rec.Status != StatusVoting {
		return fmt.Errorf("%w: leave requires Voting, got %s", ErrInvalidStatus, rec.Status)
	}
	rec.Status = StatusLeaving
	rec.ClaimAt = uint64(e.nowFunc().Add(2 * e.votingPeriod).Unix())
	if err := e.saveEscrow(addr, rec); err != nil {
		return err
	}
	if _, err := e.group.UpdateMembers([]group.MemberUpdate{{Address: addr, Weight: 0}}, height); err != nil {
		return fmt.Errorf("lifecycle: zero leaving member weight: %w", err)
	}
	if e.rewards != nil {
		if err := e.rewards.AdjustWeightChange(addr, votingWeight, 0); err != nil {
			return fmt.Errorf("lifecycle: reward correction on leave: %w", err)
		}
	}
	e.emitter.Emit(statusChangedEvent{addr: addr, from: StatusVoting, to: StatusLeaving})
	return nil
}

// ClaimLeaving refunds a Leaving member's escrow once the claim delay has
// elapsed, removing their lifecycle record entirely.
func (e *Engine) ClaimLeaving(addr []byte) (*uint256.Int, error) {
	rec, present, err := e.Escrow(addr)
	if err != nil {
		return nil, err
	}
	if !present || rec.Status != StatusLeaving {
		return nil, fmt.Errorf("%w: claim requires Leaving, got %s", ErrInvalidStatus, rec.Status)
	}
	if uint64(e.nowFunc().Unix()) < rec.ClaimAt {
		return nil, ErrClaimNotReady
	}
	refund := rec.Paid
	if err := e.deleteEscrow(addr); err != nil {
		return nil, err
	}
	e.emitter.Emit(statusChangedEvent{addr: addr, from: StatusLeaving, to: StatusAbsent})
	return refund, nil
}

// HalfLifeDecay halves every group member's weight above 1 (floor
// preserves permanent registration at weight 1), run once per
// halflife-length period (spec.md §4.D "Half-life decay").
func (e *Engine) HalfLifeDecay(halflife time.Duration, height uint64) error {
	lastApplied, err := e.loadDecayState()
	if err != nil {
		return err
	}
	now := e.nowFunc()
	if now.Sub(lastApplied) < halflife {
		return nil
	}
	var after *group.WeightedMember
	for {
		page, err := e.group.Snapshot.RangeByWeight(after, 256)
		if err != nil {
			return err
		}
		for _, m := range page {
			if m.Weight <= 1 {
				continue
			}
			newWeight := m.Weight - m.Weight/2
			if _, err := e.group.UpdateMembers([]group.MemberUpdate{{Address: m.Address, Weight: newWeight}}, height); err != nil {
				return fmt.Errorf("lifecycle: decay weight: %w", err)
			}
			if e.rewards != nil {
				if err := e.rewards.AdjustWeightChange(m.Address, m.Weight, newWeight); err != nil {
					return fmt.Errorf("lifecycle: reward correction on decay: %w", err)
				}
			}
		}
		if len(page) < 256 {
			break
		}
		after = &page[len(page)-1]
	}
	return e.saveDecayState(now)
}

func (e *Engine) loadDecayState() (time.Time, error) {
	raw, err := e.db.Get(storage.JoinKey(e.namespace, []byte(decayStateKey)))
	if err == storage.ErrNotFound {
		return time.Unix(0, 0), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("lifecycle: load decay state: %w", err)
	}
	var unix uint64
	if err := rlp.DecodeBytes(raw, &unix); err != nil {
		return time.Time{}, fmt.Errorf("lifecycle: decode decay state: %w", err)
	}
	return time.Unix(int64(unix), 0), nil
}

func (e *Engine) saveDecayState(t time.Time) error {
	encoded, err := rlp.EncodeToBytes(uint64(t.Unix()))
	if err != nil {
		return fmt.Errorf("lifecycle: encode decay state: %w", err)
	}
	return e.db.Put(storage.JoinKey(e.namespace, []byte(decayStateKey)), encoded)
}

// PunishmentResult reports the outcome of applying a punishment.
type PunishmentResult struct {
	Slashed    *uint256.Int
	Remainder  *uint256.Int
	PerPayee   []*uint256.Int
	Demoted    bool
	KickedOut  bool
}

// DistributeEscrow slashes pct (basis points out of 10000) of addr's paid
// escrow and splits it equally across recipients, returning the remainder
// to the member's own escrow (spec.md §4.D "Punishment").
func (e *Engine) DistributeEscrow(addr []byte, pctBps uint32, recipients [][]byte, kickOut bool, height uint64) (PunishmentResult, error) {
	rec, present, err := e.Escrow(addr)
	if err != nil {
		return PunishmentResult{}, err
	}
	if !present {
		return PunishmentResult{}, ErrNotAdmitted
	}
	slashed := slashAmount(rec.Paid, pctBps)
	var perPayee []*uint256.Int
	var distributed *uint256.Int
	if len(recipients) > 0 {
		share := new(uint256.Int).Div(slashed, uint256.NewInt(uint64(len(recipients))))
		distributed = new(uint256.Int).Mul(share, uint256.NewInt(uint64(len(recipients))))
		perPayee = make([]*uint256.Int, len(recipients))
		for i := range recipients {
			perPayee[i] = share
		}
	} else {
		distributed = new(uint256.Int)
	}
	remainder := new(uint256.Int).Sub(slashed, distributed)
	rec.Paid = new(uint256.Int).Sub(rec.Paid, distributed)
	result, err := e.applyPunishmentOutcome(addr, rec, kickOut, height)
	if err != nil {
		return PunishmentResult{}, err
	}
	result.Slashed = slashed
	result.Remainder = remainder
	result.PerPayee = perPayee
	e.emitter.Emit(punishedEvent{addr: addr, slashed: slashed, burned: false})
	return result, nil
}

// BurnEscrow slashes pct of addr's paid escrow and burns it entirely
// (spec.md §4.D "Punishment").
func (e *Engine) BurnEscrow(addr []byte, pctBps uint32, kickOut bool, height uint64) (PunishmentResult, error) {
	rec, present, err := e.Escrow(addr)
	if err != nil {
		return PunishmentResult{}, err
	}
	if !present {
		return PunishmentResult{}, ErrNotAdmitted
	}
	slashed := slashAmount(rec.Paid, pctBps)
	rec.Paid = new(uint256.Int).Sub(rec.Paid, slashed)
	result, err := e.applyPunishmentOutcome(addr, rec, kickOut, height)
	if err != nil {
		return PunishmentResult{}, err
	}
	result.Slashed = slashed
	result.Remainder = new(uint256.Int)
	e.emitter.Emit(punishedEvent{addr: addr, slashed: slashed, burned: true})
	return result, nil
}

func slashAmount(paid *uint256.Int, pctBps uint32) *uint256.Int {
	product := new(uint256.Int).Mul(paid, uint256.NewInt(uint64(pctBps)))
	return new(uint256.Int).Div(product, uint256.NewInt(10000))
}

// applyPunishmentOutcome persists the reduced escrow and, if kicked out or
// the remaining escrow falls below the required amount, transitions the
// member to Pending (still a candidate) or Leaving (forced exit with the
// standard claim delay), per spec.md §4.D.
func (e *Engine) applyPunishmentOutcome(addr []byte, rec EscrowRecord, kickOut bool, height uint64) (PunishmentResult, error) {
	underfunded := rec.Paid.Cmp(e.escrowAmount) < 0
	wasVoting := rec.Status == StatusVoting

	if kickOut && wasVoting {
		rec.Status = StatusLeaving
		rec.ClaimAt = uint64(e.nowFunc().Add(2 * e.votingPeriod).Unix())
		if err := e.saveEscrow(addr, rec); err != nil {
			return PunishmentResult{}, err
		}
		if _, err := e.group.UpdateMembers([]group.MemberUpdate{{Address: addr, Weight: 0}}, height); err != nil {
			return PunishmentResult{}, err
		}
		if e.rewards != nil {
			if err := e.rewards.AdjustWeightChange(addr, votingWeight, 0); err != nil {
				return PunishmentResult{}, err
			}
		}
		return PunishmentResult{Demoted: false, KickedOut: true}, nil
	}
	if underfunded && wasVoting {
		if err := e.demoteToPending(addr, rec, height); err != nil {
			return PunishmentResult{}, err
		}
		return PunishmentResult{Demoted: true}, nil
	}
	if err := e.saveEscrow(addr, rec); err != nil {
		return PunishmentResult{}, err
	}
	return PunishmentResult{}, nil
}
