// Package rewards implements the ERC-2222-style proportional reward
// distribution shared by every Trusted Circle group: a single Q64.32
// fixed-point accumulator (points_per_weight) plus a per-owner correction
// that lets an owner's withdrawable balance react correctly to mid-period
// weight changes (spec.md §4.C, component C).
package rewards

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"trustedcircle/core/events"
	"trustedcircle/storage"
)

// fixedPointShift is the Q64.32 scale: amounts are shifted left by this many
// bits before being divided by total weight, trading precision loss in the
// division for an extra ~9 decimal digits of accuracy (spec.md §4.C "Why
// fixed-point").
const fixedPointShift = 32

// ErrNoMembersToDistributeTo is returned by Distribute when total_weight is
// zero: there is nobody to credit the deposited funds to.
var ErrNoMembersToDistributeTo = errors.New("rewards: no members to distribute to")

// ErrWeightOverflow is returned whenever a fixed-point product or sum would
// not fit in 256 bits. A negative withdrawable value is reported as a
// separate corrupted-state error instead.
var ErrWeightOverflow = errors.New("rewards: weight overflow")

const (
	stateKey       = "rewards/state"
	ownerNamespace = "rewards/owner"
)

// state is the RLP encoding of the global distribution record (spec.md §3
// "Distribution record").
type state struct {
	PointsPerWeight   *uint256.Int
	PointsLeftover    uint64
	DistributedTotal  *uint256.Int
	WithdrawableTotal *uint256.Int
}

func zeroState() state {
	return state{
		PointsPerWeight:   new(uint256.Int),
		PointsLeftover:    0,
		DistributedTotal:  new(uint256.Int),
		WithdrawableTotal: new(uint256.Int),
	}
}

// ownerRecord is the RLP encoding of a per-owner correction entry. The
// correction is signed (spec.md's i128); Go's rlp package has no signed
// big-integer codec, so the sign travels alongside an unsigned magnitude.
type ownerRecord struct {
	CorrectionNegative  bool
	CorrectionMagnitude *uint256.Int
	WithdrawnFunds      *uint256.Int
}

func zeroOwner() ownerRecord {
	return ownerRecord{CorrectionMagnitude: new(uint256.Int), WithdrawnFunds: new(uint256.Int)}
}

func (o ownerRecord) correction() *big.Int {
	v := new(big.Int).SetBytes(o.CorrectionMagnitude.Bytes())
	if o.CorrectionNegative {
		v.Neg(v)
	}
	return v
}

func ownerRecordFromCorrection(correction *big.Int, withdrawn *uint256.Int) (ownerRecord, error) {
	negative := correction.Sign() < 0
	magnitude := new(big.Int).Abs(correction)
	mag, overflow := uint256.FromBig(magnitude)
	if overflow {
		return ownerRecord{}, ErrWeightOverflow
	}
	return ownerRecord{CorrectionNegative: negative, CorrectionMagnitude: mag, WithdrawnFunds: withdrawn}, nil
}

// Distributor holds the distribution state and per-owner corrections for a
// single denom within one Trusted Circle.
type Distributor struct {
	db        storage.Database
	namespace string
	denom     string
	emitter   events.Emitter
}

// NewDistributor constructs a Distributor over namespace for denom.
func NewDistributor(db storage.Database, namespace, denom string) *Distributor {
	return &Distributor{db: db, namespace: namespace, denom: denom, emitter: events.NoopEmitter{}}
}

// SetEmitter wires the event sink used to announce distributions and
// withdrawals.
func (d *Distributor) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	d.emitter = e
}

func (d *Distributor) stateKey() []byte {
	return storage.JoinKey(d.namespace, []byte(stateKey))
}

func (d *Distributor) ownerKey(addr []byte) []byte {
	return storage.JoinKey(d.namespace, []byte(ownerNamespace), addr)
}

func (d *Distributor) loadState() (state, error) {
	raw, err := d.db.Get(d.stateKey())
	if err == storage.ErrNotFound {
		return zeroState(), nil
	}
	if err != nil {
		return state{}, fmt.Errorf("rewards: load state: %w", err)
	}
	var s state
	if err := rlp.DecodeBytes(raw, &s); err != nil {
		return state{}, fmt.Errorf("rewards: decode state: %w", err)
	}
	return s, nil
}

func (d *Distributor) saveState(s state) error {
	encoded, err := rlp.EncodeToBytes(s)
	if err != nil {
		return fmt.Errorf("rewards: encode state: %w", err)
	}
	return d.db.Put(d.stateKey(), encoded)
}

func (d *Distributor) loadOwner(addr []byte) (ownerRecord, error) {
	raw, err := d.db.Get(d.ownerKey(addr))
	if err == storage.ErrNotFound {
		return zeroOwner(), nil
	}
	if err != nil {
		return ownerRecord{}, fmt.Errorf("rewards: load owner: %w", err)
	}
	var o ownerRecord
	if err := rlp.DecodeBytes(raw, &o); err != nil {
		return ownerRecord{}, fmt.Errorf("rewards: decode owner: %w", err)
	}
	return o, nil
}

func (d *Distributor) saveOwner(addr []byte, o ownerRecord) error {
	encoded, err := rlp.EncodeToBytes(o)
	if err != nil {
		return fmt.Errorf("rewards: encode owner: %w", err)
	}
	return d.db.Put(d.ownerKey(addr), encoded)
}

// mulWeight multiplies a Q64.32 value by a weight, failing with
// ErrWeightOverflow instead of silently wrapping.
func mulWeight(v *uint256.Int, weight uint64) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(v, uint256.NewInt(weight))
	if overflow {
		return nil, ErrWeightOverflow
	}
	return product, nil
}

// Distribute credits the Q64.32 accumulator with (balance - withdrawable)
// spread proportionally over totalWeight (spec.md §4.C "Distribute").
func (d *Distributor) Distribute(balance, withdrawable *uint256.Int, totalWeight uint64) error {
	amount := new(uint256.Int).Sub(balance, withdrawable)
	if amount.IsZero() {
		return nil
	}
	if totalWeight == 0 {
		return ErrNoMembersToDistributeTo
	}

	s, err := d.loadState()
	if err != nil {
		return err
	}

	shifted, overflow := new(uint256.Int).MulOverflow(amount, new(uint256.Int).Lsh(uint256.NewInt(1), fixedPointShift))
	if overflow {
		return ErrWeightOverflow
	}
	points := new(uint256.Int).Add(shifted, uint256.NewInt(s.PointsLeftover))

	totalWeightInt := uint256.NewInt(totalWeight)
	deltaPPW := new(uint256.Int).Div(points, totalWeightInt)
	leftover := new(uint256.Int).Mod(points, totalWeightInt)

	newPPW, overflow := new(uint256.Int).AddOverflow(s.PointsPerWeight, deltaPPW)
	if overflow {
		return ErrWeightOverflow
	}
	newDistributed, overflow := new(uint256.Int).AddOverflow(s.DistributedTotal, amount)
	if overflow {
		return ErrWeightOverflow
	}
	newWithdrawable, overflow := new(uint256.Int).AddOverflow(s.WithdrawableTotal, amount)
	if overflow {
		return ErrWeightOverflow
	}

	s.PointsPerWeight = newPPW
	s.PointsLeftover = leftover.Uint64()
	s.DistributedTotal = newDistributed
	s.WithdrawableTotal = newWithdrawable
	if err := d.saveState(s); err != nil {
		return err
	}
	d.emitter.Emit(fundsDistributedEvent{denom: d.denom, amount: amount})
	return nil
}

// withdrawableFor computes the claimable balance for an owner with the
// given weight under the current accumulator (spec.md §4.C "Withdrawable
// for owner with weight w").
func (d *Distributor) withdrawableFor(s state, owner ownerRecord, weight uint64) (*uint256.Int, error) {
	product, err := mulWeight(s.PointsPerWeight, weight)
	if err != nil {
		return nil, err
	}
	signed := new(big.Int).SetBytes(product.Bytes())
	signed.Add(signed, owner.correction())
	if signed.Sign() < 0 {
		return nil, fmt.Errorf("rewards: negative withdrawable intermediate for owner: corrupted state")
	}
	signed.Rsh(signed, fixedPointShift)
	signed.Sub(signed, new(big.Int).SetBytes(owner.WithdrawnFunds.Bytes()))
	if signed.Sign() < 0 {
		return nil, fmt.Errorf("rewards: negative withdrawable for owner: corrupted state")
	}
	result, overflow := uint256.FromBig(signed)
	if overflow {
		return nil, ErrWeightOverflow
	}
	return result, nil
}

// Withdrawable returns the currently claimable balance for owner with the
// given weight, without mutating any state.
func (d *Distributor) Withdrawable(addr []byte, weight uint64) (*uint256.Int, error) {
	s, err := d.loadState()
	if err != nil {
		return nil, err
	}
	owner, err := d.loadOwner(addr)
	if err != nil {
		return nil, err
	}
	return d.withdrawableFor(s, owner, weight)
}

// Withdraw claims the owner's full withdrawable balance, updating
// withdrawn_funds and withdrawable_total, and returns the amount to be
// dispatched as a bank transfer (spec.md §4.C "Withdraw").
func (d *Distributor) Withdraw(addr []byte, weight uint64) (*uint256.Int, error) {
	s, err := d.loadState()
	if err != nil {
		return nil, err
	}
	owner, err := d.loadOwner(addr)
	if err != nil {
		return nil, err
	}
	amount, err := d.withdrawableFor(s, owner, weight)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return amount, nil
	}

	newWithdrawn, overflow := new(uint256.Int).AddOverflow(owner.WithdrawnFunds, amount)
	if overflow {
		return nil, ErrWeightOverflow
	}
	owner.WithdrawnFunds = newWithdrawn
	if err := d.saveOwner(addr, owner); err != nil {
		return nil, err
	}

	newWithdrawable := new(uint256.Int).Sub(s.WithdrawableTotal, amount)
	s.WithdrawableTotal = newWithdrawable
	if err := d.saveState(s); err != nil {
		return nil, err
	}

	d.emitter.Emit(fundsWithdrawnEvent{denom: d.denom, addr: addr, amount: amount})
	return amount, nil
}

// AdjustWeightChange applies the points_correction update required when an
// owner's weight changes by (newWeight - oldWeight), so that after the
// change the owner is treated as if the new weight had always held since
// the most recent distribution (spec.md §4.C "Weight-change correction").
func (d *Distributor) AdjustWeightChange(addr []byte, oldWeight, newWeight uint64) error {
	s, err := d.loadState()
	if err != nil {
		return err
	}
	owner, err := d.loadOwner(addr)
	if err != nil {
		return err
	}

	delta := new(big.Int).Sub(new(big.Int).SetUint64(newWeight), new(big.Int).SetUint64(oldWeight))
	if delta.Sign() == 0 {
		return nil
	}
	absDelta := new(big.Int).Abs(delta)
	if !absDelta.IsUint64() {
		return ErrWeightOverflow
	}
	product, err := mulWeight(s.PointsPerWeight, absDelta.Uint64())
	if err != nil {
		return err
	}
	signedProduct := new(big.Int).SetBytes(product.Bytes())
	if delta.Sign() < 0 {
		signedProduct.Neg(signedProduct)
	}

	correction := owner.correction()
	correction.Sub(correction, signedProduct)

	updated, err := ownerRecordFromCorrection(correction, owner.WithdrawnFunds)
	if err != nil {
		return err
	}
	return d.saveOwner(addr, updated)
}

// Snapshot reports the current global distribution totals for read-only
// query endpoints (DistributedRewards, UndistributedRewards).
func (d *Distributor) Snapshot() (distributedTotal, withdrawableTotal *uint256.Int, err error) {
	s, err := d.loadState()
	if err != nil {
		return nil, nil, err
	}
	return s.DistributedTotal, s.WithdrawableTotal, nil
}
