package validator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"trustedcircle/core/events"
	"trustedcircle/group"
	"trustedcircle/rewards"
	"trustedcircle/storage"
)

// ErrNotRegistered is returned when an operation targets an operator with
// no registered validator key.
var ErrNotRegistered = errors.New("validator: operator not registered")

// ErrWeightOverflow mirrors rewards.ErrWeightOverflow for the power
// computation in step 3 of spec.md §4.F.
var ErrWeightOverflow = errors.New("validator: power scaling overflow")

const (
	registrationNamespace = "registration"
	jailNamespace          = "jail"
	epochStateKey          = "epoch/state"
	potKey                 = "epoch/pot"
)

// Config holds the per-circle validator-set policy (spec.md §4.F).
type Config struct {
	EpochLength   time.Duration
	MinWeight     uint64
	MaxValidators int
	Scaling       uint64
	AutoUnjail    bool
	EpochReward   *uint256.Int
}

// Engine runs the per-epoch validator projection, jail bookkeeping, and
// reward-pot payout pacing for one Trusted Circle.
type Engine struct {
	db        storage.Database
	namespace string
	group     *group.Group
	rewards   *rewards.Distributor
	cfg       Config
	nowFunc   func() time.Time
	emitter   events.Emitter
	limiter   *rate.Limiter
}

// NewEngine constructs a validator Engine. The limiter paces payout
// dispatch across catch-up epochs (an operator who falls behind many
// epoch boundaries before calling EndBlock should not flood the rewards
// contract with one giant distribution burst).
func NewEngine(db storage.Database, namespace string, g *group.Group, r *rewards.Distributor, cfg Config) *Engine {
	if cfg.Scaling == 0 {
		cfg.Scaling = 1
	}
	return &Engine{
		db:        db,
		namespace: namespace,
		group:     g,
		rewards:   r,
		cfg:       cfg,
		nowFunc:   time.Now,
		emitter:   events.NoopEmitter{},
		limiter:   rate.NewLimiter(rate.Limit(1), 4),
	}
}

// SetNowFunc overrides the clock used for epoch boundaries and jail expiry.
func (e *Engine) SetNowFunc(f func() time.Time) {
	if f == nil {
		f = time.Now
	}
	e.nowFunc = f
}

// SetEmitter wires the event sink used to announce jail/unjail transitions.
func (e *Engine) SetEmitter(em events.Emitter) {
	if em == nil {
		em = events.NoopEmitter{}
	}
	e.emitter = em
}

func (e *Engine) registrationKey(operator []byte) []byte {
	return storage.JoinKey(e.namespace, []byte(registrationNamespace), operator)
}

func (e *Engine) jailKey(operator []byte) []byte {
	return storage.JoinKey(e.namespace, []byte(jailNamespace), operator)
}

// RegisterValidatorKey records operator's consensus pubkey and metadata.
// Re-registration overwrites the prior record.
func (e *Engine) RegisterValidatorKey(operator, pubkey []byte, metadata string) error {
	reg := Registration{Operator: append([]byte(nil), operator...), Pubkey: append([]byte(nil), pubkey...), Metadata: metadata}
	encoded, err := rlp.EncodeToBytes(reg)
	if err != nil {
		return fmt.Errorf("validator: encode registration: %w", err)
	}
	return e.db.Put(e.registrationKey(operator), encoded)
}

// UpdateMetadata rewrites operator's metadata string without touching its
// registered pubkey.
func (e *Engine) UpdateMetadata(operator []byte, metadata string) error {
	reg, ok, err := e.Registration(operator)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	reg.Metadata = metadata
	return e.RegisterValidatorKey(operator, reg.Pubkey, reg.Metadata)
}

// Registration returns operator's registered validator key, if any.
func (e *Engine) Registration(operator []byte) (Registration, bool, error) {
	raw, err := e.db.Get(e.registrationKey(operator))
	if err == storage.ErrNotFound {
		return Registration{}, false, nil
	}
	if err != nil {
		return Registration{}, false, fmt.Errorf("validator: load registration: %w", err)
	}
	var reg Registration
	if err := rlp.DecodeBytes(raw, &reg); err != nil {
		return Registration{}, false, fmt.Errorf("validator: decode registration: %w", err)
	}
	return reg, true, nil
}

func (e *Engine) loadJail(operator []byte) (JailRecord, bool, error) {
	raw, err := e.db.Get(e.jailKey(operator))
	if err == storage.ErrNotFound {
		return JailRecord{}, false, nil
	}
	if err != nil {
		return JailRecord{}, false, fmt.Errorf("validator: load jail: %w", err)
	}
	var rec JailRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return JailRecord{}, false, fmt.Errorf("validator: decode jail: %w", err)
	}
	return rec, true, nil
}

func (e *Engine) saveJail(rec JailRecord) error {
	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("validator: encode jail: %w", err)
	}
	return e.db.Put(e.jailKey(rec.Operator), encoded)
}

// Jail suspends operator from validator-set consideration. duration nil
// jails forever.
func (e *Engine) Jail(operator []byte, duration *time.Duration) error {
	rec := JailRecord{Operator: append([]byte(nil), operator...)}
	if duration == nil {
		rec.Forever = true
	} else {
		rec.Until = uint64(e.nowFunc().Add(*duration).Unix())
	}
	if err := e.saveJail(rec); err != nil {
		return err
	}
	e.emitter.Emit(jailedEvent{operator: operator, forever: rec.Forever, until: rec.Until})
	return nil
}

// Unjail lifts a jail. byAdmin bypasses the expiry check (spec.md §4.F
// "Jail semantics").
func (e *Engine) Unjail(operator []byte, byAdmin bool) error {
	rec, present, err := e.loadJail(operator)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	if !byAdmin && !rec.expired(e.nowFunc()) {
		return fmt.Errorf("validator: jail for %x has not expired", operator)
	}
	if err := e.db.Delete(e.jailKey(operator)); err != nil {
		return err
	}
	e.emitter.Emit(unjailedEvent{operator: operator})
	return nil
}

func (e *Engine) loadEpochState() (EpochState, error) {
	raw, err := e.db.Get(storage.JoinKey(e.namespace, []byte(epochStateKey)))
	if err == storage.ErrNotFound {
		return EpochState{}, nil
	}
	if err != nil {
		return EpochState{}, fmt.Errorf("validator: load epoch state: %w", err)
	}
	var s EpochState
	if err := rlp.DecodeBytes(raw, &s); err != nil {
		return EpochState{}, fmt.Errorf("validator: decode epoch state: %w", err)
	}
	return s, nil
}

func (e *Engine) saveEpochState(s EpochState) error {
	encoded, err := rlp.EncodeToBytes(s)
	if err != nil {
		return fmt.Errorf("validator: encode epoch state: %w", err)
	}
	return e.db.Put(storage.JoinKey(e.namespace, []byte(epochStateKey)), encoded)
}

func (e *Engine) loadPot() (*uint256.Int, error) {
	raw, err := e.db.Get(storage.JoinKey(e.namespace, []byte(potKey)))
	if err == storage.ErrNotFound {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("validator: load pot: %w", err)
	}
	var v uint256.Int
	if err := rlp.DecodeBytes(raw, &v); err != nil {
		return nil, fmt.Errorf("validator: decode pot: %w", err)
	}
	return &v, nil
}

func (e *Engine) savePot(v *uint256.Int) error {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("validator: encode pot: %w", err)
	}
	return e.db.Put(storage.JoinKey(e.namespace, []byte(potKey)), encoded)
}

// AddFees folds a bank fee deposit into the reward pot ahead of the next
// epoch payout (spec.md §4.F step 6 "Fees already in the contract balance
// fold into the pot").
func (e *Engine) AddFees(amount *uint256.Int) error {
	pot, err := e.loadPot()
	if err != nil {
		return err
	}
	pot = new(uint256.Int).Add(pot, amount)
	return e.savePot(pot)
}

// EndBlock runs the end-of-block validator projection (spec.md §4.F). It
// is a no-op once per epoch boundary: if the computed epoch matches the
// previously finalized one and this is not genesis, it returns an empty
// diff.
func (e *Engine) EndBlock(height uint64) (Diff, error) {
	now := e.nowFunc()
	epochSeconds := int64(e.cfg.EpochLength / time.Second)
	if epochSeconds <= 0 {
		epochSeconds = 1
	}
	currentEpoch := uint64(now.Unix() / epochSeconds)

	prevState, err := e.loadEpochState()
	if err != nil {
		return Diff{}, err
	}
	genesis := len(prevState.Active) == 0 && prevState.CurrentEpoch == 0
	if !genesis && currentEpoch == prevState.CurrentEpoch {
		return Diff{}, nil
	}

	candidates, totalWeight, err := e.collectCandidates(now)
	if err != nil {
		return Diff{}, err
	}

	diff := computeDiff(prevState.Active, candidates)

	payEpochs := uint64(0)
	if !genesis {
		payEpochs = currentEpoch - prevState.CurrentEpoch
	}
	if payEpochs > 0 && e.rewards != nil && e.cfg.EpochReward != nil && totalWeight > 0 {
		if err := e.payEpochRewards(payEpochs, totalWeight); err != nil {
			return Diff{}, err
		}
	}

	newState := EpochState{CurrentEpoch: currentEpoch, Active: candidates}
	if err := e.saveEpochState(newState); err != nil {
		return Diff{}, err
	}
	return diff, nil
}

// collectCandidates pages the group in descending weight order, filtering
// ineligible members and capping at MaxValidators (spec.md §4.F steps 1-4).
func (e *Engine) collectCandidates(now time.Time) ([]ActiveEntry, uint64, error) {
	var candidates []ActiveEntry
	var totalWeight uint64
	var after *group.WeightedMember
	for {
		if e.cfg.MaxValidators > 0 && len(candidates) >= e.cfg.MaxValidators {
			break
		}
		page, err := e.group.Snapshot.RangeByWeight(after, 256)
		if err != nil {
			return nil, 0, err
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			if e.cfg.MaxValidators > 0 && len(candidates) >= e.cfg.MaxValidators {
				break
			}
			if m.Weight < e.cfg.MinWeight {
				continue
			}
			reg, registered, err := e.Registration(m.Address)
			if err != nil {
				return nil, 0, err
			}
			if !registered {
				continue
			}
			jail, jailed, err := e.loadJail(m.Address)
			if err != nil {
				return nil, 0, err
			}
			if jailed {
				if e.cfg.AutoUnjail && jail.expired(now) {
					if err := e.db.Delete(e.jailKey(m.Address)); err != nil {
						return nil, 0, err
					}
					e.emitter.Emit(unjailedEvent{operator: m.Address})
				} else {
					continue
				}
			}
			power, err := scalePower(m.Weight, e.cfg.Scaling)
			if err != nil {
				return nil, 0, err
			}
			candidates = append(candidates, ActiveEntry{Pubkey: append([]byte(nil), reg.Pubkey...), Power: power})
			totalWeight += m.Weight
		}
		if len(page) < 256 {
			break
		}
		after = &page[len(page)-1]
	}
	return candidates, totalWeight, nil
}

func scalePower(weight, scaling uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(weight), uint256.NewInt(scaling))
	if overflow || !product.IsUint64() {
		return 0, ErrWeightOverflow
	}
	return product.Uint64(), nil
}

// computeDiff derives the ValidatorUpdate sequence between previous and
// current active sets: additions/updates ascending by pubkey, then
// removals ascending by pubkey (spec.md §4.F step 5).
func computeDiff(previous, current []ActiveEntry) Diff {
	prevByPubkey := make(map[string]uint64, len(previous))
	for _, e := range previous {
		prevByPubkey[string(e.Pubkey)] = e.Power
	}
	currentByPubkey := make(map[string]bool, len(current))

	sortedCurrent := append([]ActiveEntry(nil), current...)
	sort.Slice(sortedCurrent, func(i, j int) bool { return lessBytes(sortedCurrent[i].Pubkey, sortedCurrent[j].Pubkey) })

	var updates []Update
	for _, c := range sortedCurrent {
		currentByPubkey[string(c.Pubkey)] = true
		if prevPower, ok := prevByPubkey[string(c.Pubkey)]; !ok || prevPower != c.Power {
			updates = append(updates, Update{Pubkey: c.Pubkey, Power: c.Power})
		}
	}

	var removedKeys [][]byte
	for _, p := range previous {
		if !currentByPubkey[string(p.Pubkey)] {
			removedKeys = append(removedKeys, p.Pubkey)
		}
	}
	sort.Slice(removedKeys, func(i, j int) bool { return lessBytes(removedKeys[i], removedKeys[j]) })
	for _, k := range removedKeys {
		updates = append(updates, Update{Pubkey: k, Power: 0})
	}

	return Diff{Updates: updates}
}

func lessBytes(a, b []byte) bool {
	la, lb := len(a), len(b)
	for i := 0; i < la && i < lb; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return la < lb
}

// payEpochRewards folds payEpochs·EpochReward into the pot and distributes
// it across the current total weight. A caller that falls behind by many
// epoch boundaries before calling EndBlock is capped to the limiter's
// burst size per call, so one catch-up call cannot dump an unbounded
// number of epochs' reward on the pot at once; the epoch counter still
// advances fully, so any epochs beyond the cap are not retroactively paid.
func (e *Engine) payEpochRewards(payEpochs, totalWeight uint64) error {
	if capped := uint64(e.limiter.Burst()); payEpochs > capped {
		payEpochs = capped
	}
	if payEpochs == 0 {
		return nil
	}
	e.limiter.AllowN(e.nowFunc(), int(payEpochs))

	pot, err := e.loadPot()
	if err != nil {
		return err
	}
	increment, overflow := new(uint256.Int).MulOverflow(e.cfg.EpochReward, uint256.NewInt(payEpochs))
	if overflow {
		return ErrWeightOverflow
	}
	pot = new(uint256.Int).Add(pot, increment)

	_, withdrawableTotal, err := e.rewards.Snapshot()
	if err != nil {
		return err
	}
	if err := e.rewards.Distribute(pot, withdrawableTotal, totalWeight); err != nil {
		return err
	}
	return e.savePot(pot)
}

// ListValidators returns every registered operator in ascending address
// order, for the spec.md §6 query "ListValidators{start_after?, limit?}".
func (e *Engine) ListValidators(startAfter []byte, limit int) ([]Registration, error) {
	prefix := storage.JoinKey(e.namespace, []byte(registrationNamespace))
	it := e.db.NewIterator(prefix)
	defer it.Release()
	prefixLen := len(prefix)
	var out []Registration
	for it.Next() {
		key := it.Key()
		if len(key) <= prefixLen {
			continue
		}
		operator := append([]byte(nil), key[prefixLen:len(key)-1]...)
		if startAfter != nil && compareOperator(operator, startAfter) <= 0 {
			continue
		}
		var reg Registration
		if err := rlp.DecodeBytes(it.Value(), &reg); err != nil {
			return nil, fmt.Errorf("validator: decode registration: %w", err)
		}
		out = append(out, reg)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return compareOperator(out[i].Operator, out[j].Operator) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func compareOperator(a, b []byte) int {
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

// ListActiveValidators returns the most recently finalized active set.
func (e *Engine) ListActiveValidators() ([]ActiveEntry, error) {
	s, err := e.loadEpochState()
	if err != nil {
		return nil, err
	}
	return s.Active, nil
}

// Epoch returns the currently finalized epoch number.
func (e *Engine) Epoch() (uint64, error) {
	s, err := e.loadEpochState()
	if err != nil {
		return 0, err
	}
	return s.CurrentEpoch, nil
}

// SimulateActiveValidators previews the active set EndBlock would produce
// right now, without persisting any state change.
func (e *Engine) SimulateActiveValidators() ([]ActiveEntry, error) {
	candidates, _, err := e.collectCandidates(e.nowFunc())
	return candidates, err
}
