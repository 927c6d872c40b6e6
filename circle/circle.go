package circle

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"trustedcircle/core/events"
	"trustedcircle/group"
	"trustedcircle/lifecycle"
	"trustedcircle/proposal"
	"trustedcircle/rewards"
	"trustedcircle/storage"
	"trustedcircle/validator"
)

// Circle wires the six Trusted Circle components behind the inbound message
// taxonomy of spec.md §6: weighted membership and hook fan-out (A, B),
// reward distribution (C), the escrow-gated lifecycle (D), proposal voting
// (E), and validator-set selection (F).
type Circle struct {
	db  storage.Database
	cfg Config

	Group      *group.Group
	Rewards    *rewards.Distributor
	Lifecycle  *lifecycle.Engine
	Proposals  *proposal.Engine
	Validators *validator.Engine

	Gateway HostGateway

	pendingEscrow *lifecycle.EscrowAmountChange

	nowFunc func() time.Time
	emitter events.Emitter
}

// New constructs a Circle over db, seeded with cfg and the validator policy
// vcfg. votingPeriod feeds the lifecycle engine's claim-delay sizing
// (spec.md §4.D "standard 2x voting-period claim delay").
func New(db storage.Database, cfg Config, vcfg validator.Config, votingPeriod time.Duration) *Circle {
	g := group.NewGroup(group.NewSnapshotMap(db, "members"), group.NewHookRegistry(db, "hooks"), 0)
	r := rewards.NewDistributor(db, "rewards", cfg.Denom)
	l := lifecycle.NewEngine(db, "lifecycle", g, r, cfg.EscrowAmount, votingPeriod)
	p := proposal.NewEngine(db, "proposal", cfg.DenyList)
	v := validator.NewEngine(db, "validator", g, r, vcfg)

	l.SetDenyList(cfg.DenyList)
	p.SetRulesFrozen(cfg.RulesFrozen)

	return &Circle{
		db:         db,
		cfg:        cfg,
		Group:      g,
		Rewards:    r,
		Lifecycle:  l,
		Proposals:  p,
		Validators: v,
		Gateway:    NoopGateway{},
		nowFunc:    time.Now,
		emitter:    events.NoopEmitter{},
	}
}

// SetGateway wires the host message sink; a nil gateway reverts to NoopGateway.
func (c *Circle) SetGateway(gw HostGateway) {
	if gw == nil {
		gw = NoopGateway{}
	}
	c.Gateway = gw
}

// SetEmitter wires the event sink shared across every sub-engine.
func (c *Circle) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	c.emitter = e
	c.Group.SetEmitter(e)
	c.Group.Hooks.SetEmitter(e)
	c.Rewards.SetEmitter(e)
	c.Lifecycle.SetEmitter(e)
	c.Proposals.SetEmitter(e)
	c.Validators.SetEmitter(e)
}

// Emitter returns the circle's currently configured event emitter, letting a
// caller fan additional subscribers in alongside it.
func (c *Circle) Emitter() events.Emitter {
	return c.emitter
}

// SetNowFunc overrides the clock across every sub-engine; used by tests.
func (c *Circle) SetNowFunc(f func() time.Time) {
	if f == nil {
		f = time.Now
	}
	c.nowFunc = f
	c.Lifecycle.SetNowFunc(f)
	c.Proposals.SetNowFunc(f)
	c.Validators.SetNowFunc(f)
}

// Config returns the circle's current configuration (spec.md §6 query
// "Config").
func (c *Circle) Config() Config { return c.cfg }

// Denied reports whether addr appears on the configured deny list.
func (c *Circle) Denied(addr []byte) bool {
	for _, d := range c.cfg.DenyList {
		if bytesEqual(d, addr) {
			return true
		}
	}
	return false
}

func (c *Circle) requireAdmin(sender []byte) error {
	if c.cfg.Admin == nil || !bytesEqual(sender, c.cfg.Admin) {
		return ErrNotAdmin
	}
	return nil
}

// authorizeGated permits an admin-gated operation either because sender is
// the configured admin, or by consuming one unit of the hook registry's
// pre-authorization counter (spec.md §4.B "A caller who is not the
// configured admin may consume one unit to perform an otherwise admin-gated
// operation").
func (c *Circle) authorizeGated(sender []byte) error {
	if c.cfg.Admin != nil && bytesEqual(sender, c.cfg.Admin) {
		return nil
	}
	if err := c.Group.Hooks.ConsumePreauth(); err != nil {
		return ErrNoPreauth
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// UpdateAdmin reassigns the circle's admin, or clears it entirely when
// newAdmin is nil (spec.md §6 "UpdateAdmin(option<addr>)").
func (c *Circle) UpdateAdmin(sender, newAdmin []byte) error {
	if err := c.requireAdmin(sender); err != nil {
		return err
	}
	c.cfg.Admin = newAdmin
	return nil
}

// UpdateMembers adds or removes members directly, bypassing the escrow-gated
// lifecycle (spec.md §6 "UpdateMembers{add, remove}"). Admin-gated, or
// consumes one pre-authorization.
func (c *Circle) UpdateMembers(sender []byte, add []MemberWeight, remove [][]byte, height uint64) ([]group.HookMessage, error) {
	if err := c.authorizeGated(sender); err != nil {
		return nil, err
	}
	return c.applyMemberUpdates(add, remove, height)
}

func (c *Circle) applyMemberUpdates(add []MemberWeight, remove [][]byte, height uint64) ([]group.HookMessage, error) {
	if len(add) == 0 && len(remove) == 0 {
		return nil, ErrNoMembers
	}
	for _, a := range add {
		if c.Denied(a.Address) {
			return nil, fmt.Errorf("%w: %x", ErrDeniedAddress, a.Address)
		}
	}
	updates := make([]group.MemberUpdate, 0, len(add)+len(remove))
	for _, a := range add {
		updates = append(updates, group.MemberUpdate{Address: a.Address, Weight: a.Weight})
	}
	for _, r := range remove {
		updates = append(updates, group.MemberUpdate{Address: r, Remove: true})
	}
	delta, err := c.Group.UpdateMembers(updates, height)
	if err != nil {
		return nil, err
	}
	for _, d := range delta.Diffs {
		if err := c.Rewards.AdjustWeightChange(d.Address, d.OldWeight, d.NewWeight); err != nil {
			return nil, err
		}
	}
	return c.Group.Dispatch(delta)
}

// AddHook registers a downstream hook address (spec.md §6 "AddHook(addr)").
// Admin-gated, or consumes one pre-authorization.
func (c *Circle) AddHook(sender, hook []byte) error {
	if err := c.authorizeGated(sender); err != nil {
		return err
	}
	return c.Group.Hooks.Add(hook)
}

// RemoveHook unregisters hook (spec.md §6 "RemoveHook(addr)"). A hook
// removing itself bypasses the admin check entirely (spec.md §4.B).
func (c *Circle) RemoveHook(sender, hook []byte) error {
	if !bytesEqual(sender, hook) {
		if err := c.authorizeGated(sender); err != nil {
			return err
		}
	}
	return c.Group.Hooks.Remove(hook)
}

// DistributeFunds folds the contract's undistributed balance into the
// reward accumulator (spec.md §6 "DistributeFunds{sender?}"). balance is the
// host-reported current contract balance in the circle's denom.
func (c *Circle) DistributeFunds(balance *uint256.Int) error {
	totalWeight, err := c.Group.TotalWeight()
	if err != nil {
		return err
	}
	_, withdrawableTotal, err := c.Rewards.Snapshot()
	if err != nil {
		return err
	}
	return c.Rewards.Distribute(balance, withdrawableTotal, totalWeight)
}

// WithdrawFunds claims sender's withdrawable balance and enqueues a bank
// transfer to receiver, which defaults to sender (spec.md §6
// "WithdrawFunds{receiver?}").
func (c *Circle) WithdrawFunds(sender, receiver []byte) (*uint256.Int, error) {
	if receiver == nil {
		receiver = sender
	}
	weight, _, err := c.Group.Snapshot.Load(sender)
	if err != nil {
		return nil, err
	}
	amount, err := c.Rewards.Withdraw(sender, weight)
	if err != nil {
		return nil, err
	}
	if !amount.IsZero() {
		c.Gateway.BankSend(receiver, c.cfg.Denom, amount)
	}
	return amount, nil
}

// DepositEscrow credits sender's escrow toward admission or re-admission
// (spec.md §6 "DepositEscrow").
func (c *Circle) DepositEscrow(sender []byte, amount *uint256.Int, height uint64) error {
	return c.Lifecycle.DepositEscrow(sender, amount, height)
}

// ReturnEscrow withdraws sender from a pending batch before voting begins
// (spec.md §6 "ReturnEscrow").
func (c *Circle) ReturnEscrow(sender []byte) (*uint256.Int, error) {
	return c.Lifecycle.ReturnEscrow(sender)
}

// ClaimLeaving refunds a former voter's escrow once the claim delay has
// elapsed (spec.md §4.D "Leave").
func (c *Circle) ClaimLeaving(sender []byte) (*uint256.Int, error) {
	return c.Lifecycle.ClaimLeaving(sender)
}

// validatePayload runs the per-variant dry-run preflight spec.md §9
// describes ("Validation and execution are two separate functions per
// variant to support dry-run-style preflight in Propose").
func (c *Circle) validatePayload(p ProposalPayload) error {
	switch p.Kind {
	case PayloadUpdateMembers:
		if p.UpdateMembers == nil {
			return fmt.Errorf("%w: missing update-members body", proposal.ErrInvalidPayload)
		}
		if len(p.UpdateMembers.Add) == 0 && len(p.UpdateMembers.Remove) == 0 {
			return ErrNoMembers
		}
		for _, a := range p.UpdateMembers.Add {
			if c.Denied(a.Address) {
				return fmt.Errorf("%w: %x", ErrDeniedAddress, a.Address)
			}
		}
	case PayloadUpdateRules:
		if p.UpdateRules == nil {
			return fmt.Errorf("%w: missing update-rules body", proposal.ErrInvalidPayload)
		}
		r := p.UpdateRules.Rules
		if r.QuorumBps == 0 || r.QuorumBps > 10000 {
			return ErrInvalidQuorum
		}
		if r.ThresholdBps == 0 || r.ThresholdBps > 10000 {
			return ErrInvalidThreshold
		}
		if r.VotingPeriodDays == 0 {
			return ErrInvalidVotingPeriod
		}
	case PayloadAllowlistHook:
		if p.AllowlistHook == nil || len(p.AllowlistHook.Hook) == 0 {
			return fmt.Errorf("%w: missing hook body", proposal.ErrInvalidPayload)
		}
	case PayloadPunishMember:
		if p.PunishMember == nil {
			return fmt.Errorf("%w: missing punish body", proposal.ErrInvalidPayload)
		}
		if p.PunishMember.PctBps == 0 || p.PunishMember.PctBps > 10000 {
			return ErrInvalidSlashingPercentage
		}
	case PayloadGovProposalPassthrough:
		// Opaque; the host validates its own governance payload.
	default:
		return fmt.Errorf("%w: unknown payload kind %d", proposal.ErrInvalidPayload, p.Kind)
	}
	return nil
}

// Propose creates a governance proposal carrying a tagged payload variant
// (spec.md §6 "Propose{title, description, payload}"). senderWeight and
// totalWeight are resolved from the current snapshot; startHeight anchors
// the weight every ballot is cast at (spec.md §4.E).
func (c *Circle) Propose(sender []byte, title, description string, payload ProposalPayload, startHeight uint64) (uint64, error) {
	if title == "" {
		return 0, ErrEmptyName
	}
	if len(title) > maxTitleLength {
		return 0, ErrLongName
	}
	if err := c.validatePayload(payload); err != nil {
		return 0, err
	}
	if err := c.CheckPending(startHeight); err != nil {
		return 0, err
	}
	senderWeight, _, err := c.Group.Snapshot.Load(sender)
	if err != nil {
		return 0, err
	}
	totalWeight, err := c.Group.TotalWeight()
	if err != nil {
		return 0, err
	}
	encoded, err := EncodeProposalPayload(payload)
	if err != nil {
		return 0, err
	}
	return c.Proposals.SubmitProposal(sender, title, description, encoded, senderWeight, totalWeight, startHeight, c.cfg.Rules, payload.Kind.altersRules())
}

// Vote casts sender's ballot on an open proposal (spec.md §6 "Vote{id,
// Yes|No|Abstain|Veto}"), using their weight at the proposal's own recorded
// start height rather than any height the caller supplies, so a voter
// cannot choose a more favorable snapshot than the one the proposal was
// created with.
func (c *Circle) Vote(sender []byte, id uint64, choice proposal.Choice) error {
	p, err := c.Proposals.Get(id)
	if err != nil {
		return err
	}
	weight, present, err := c.Group.Snapshot.LoadAt(sender, p.StartHeight)
	if err != nil {
		return err
	}
	if !present || weight == 0 {
		return ErrUnauthorized
	}
	rec, hasEscrow, err := c.Lifecycle.Escrow(sender)
	if err != nil {
		return err
	}
	leaving := hasEscrow && rec.Status == lifecycle.StatusLeaving
	return c.Proposals.CastVote(id, sender, weight, choice, leaving)
}

func (c *Circle) punishMember(p *PunishMemberPayload, height uint64) error {
	rec, present, err := c.Lifecycle.Escrow(p.Member)
	if err != nil {
		return err
	}
	if !present || rec.Status != lifecycle.StatusVoting {
		return ErrPunishInvalidMemberStatus
	}
	var result lifecycle.PunishmentResult
	if p.Burn {
		result, err = c.Lifecycle.BurnEscrow(p.Member, p.PctBps, p.KickOut, height)
	} else {
		result, err = c.Lifecycle.DistributeEscrow(p.Member, p.PctBps, p.Recipients, p.KickOut, height)
	}
	if err != nil {
		return err
	}
	if p.Burn && !result.Slashed.IsZero() {
		c.Gateway.BankBurn(c.cfg.Denom, result.Slashed)
	}
	for i, recipient := range p.Recipients {
		if i >= len(result.PerPayee) || result.PerPayee[i].IsZero() {
			continue
		}
		c.Gateway.BankSend(recipient, c.cfg.Denom, result.PerPayee[i])
	}
	return nil
}

func (c *Circle) executePayload(p ProposalPayload, height uint64) ([]group.HookMessage, error) {
	switch p.Kind {
	case PayloadUpdateMembers:
		return c.applyMemberUpdates(p.UpdateMembers.Add, p.UpdateMembers.Remove, height)
	case PayloadUpdateRules:
		c.cfg.Rules = p.UpdateRules.Rules
		return nil, nil
	case PayloadAllowlistHook:
		if p.AllowlistHook.Add {
			return nil, c.Group.Hooks.Add(p.AllowlistHook.Hook)
		}
		return nil, c.Group.Hooks.Remove(p.AllowlistHook.Hook)
	case PayloadPunishMember:
		return nil, c.punishMember(p.PunishMember, height)
	case PayloadGovProposalPassthrough:
		c.Gateway.ExecuteGovProposal(p.GovPassthrough)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %d", proposal.ErrInvalidPayload, p.Kind)
	}
}

// Execute dispatches a Passed proposal's payload via an exhaustive match
// over its kind (spec.md §4.E "Execute"; §9 "dispatch via exhaustive match
// in proposal_execute"), returning any hook fan-out the payload produced.
func (c *Circle) Execute(id uint64, height uint64) ([]group.HookMessage, error) {
	var hookMsgs []group.HookMessage
	err := c.Proposals.Execute(id, func(raw []byte) error {
		payload, err := DecodeProposalPayload(raw)
		if err != nil {
			return err
		}
		msgs, err := c.executePayload(payload, height)
		if err != nil {
			return err
		}
		hookMsgs = msgs
		return nil
	})
	return hookMsgs, err
}

// Close rejects an Open proposal once its voting period has expired without
// passing (spec.md §6 "Close{id}").
func (c *Circle) Close(id uint64) error {
	return c.Proposals.Close(id)
}

// Leave transitions a Voting member out, starting the claim delay, and
// adjusts every still-open proposal's snapshot the leaver had not voted on
// (spec.md §6 "Leave"; §4.E "Leaver adjustment").
func (c *Circle) Leave(sender []byte, height uint64) error {
	weight, _, err := c.Group.Snapshot.Load(sender)
	if err != nil {
		return err
	}
	if err := c.Lifecycle.Leave(sender, height); err != nil {
		return err
	}
	return c.Proposals.AdjustForLeaver(sender, weight)
}

// ScheduleEscrowChange queues a new escrow requirement to take effect once
// grace elapses (spec.md §3 Configuration "escrow_pending"). Admin-gated.
func (c *Circle) ScheduleEscrowChange(sender []byte, newAmount *uint256.Int, grace time.Duration) error {
	if err := c.requireAdmin(sender); err != nil {
		return err
	}
	if newAmount.Cmp(c.cfg.EscrowAmount) == 0 {
		return ErrInvalidEscrow
	}
	c.pendingEscrow = &lifecycle.EscrowAmountChange{NewAmount: newAmount, GraceEndsAt: uint64(c.nowFunc().Add(grace).Unix())}
	return nil
}

// CheckPending sweeps any pending escrow-amount change and batch timeouts
// (spec.md §6 "CheckPending"; idempotent when invoked twice at the same
// block time).
func (c *Circle) CheckPending(height uint64) error {
	if err := c.Lifecycle.CheckPendingSweep(c.pendingEscrow, height); err != nil {
		return err
	}
	if c.pendingEscrow != nil && uint64(c.nowFunc().Unix()) >= c.pendingEscrow.GraceEndsAt {
		c.cfg.EscrowAmount = c.pendingEscrow.NewAmount
		c.Lifecycle.SetEscrowAmount(c.pendingEscrow.NewAmount)
		c.pendingEscrow = nil
	}
	return nil
}

// RegisterValidatorKey records operator's consensus pubkey and metadata
// (spec.md §6 "RegisterValidatorKey{pubkey, metadata}").
func (c *Circle) RegisterValidatorKey(operator, pubkey []byte, metadata string) error {
	return c.Validators.RegisterValidatorKey(operator, pubkey, metadata)
}

// UpdateValidatorMetadata rewrites operator's metadata (spec.md §6
// "UpdateMetadata(metadata)").
func (c *Circle) UpdateValidatorMetadata(operator []byte, metadata string) error {
	return c.Validators.UpdateMetadata(operator, metadata)
}

// Jail suspends operator from validator-set consideration (spec.md §6
// "Jail{operator, duration?}"). Admin-gated.
func (c *Circle) Jail(sender, operator []byte, duration *time.Duration) error {
	if err := c.requireAdmin(sender); err != nil {
		return err
	}
	return c.Validators.Jail(operator, duration)
}

// Unjail lifts a jail (spec.md §6 "Unjail{operator?}"). The admin may lift a
// jail before its expiry; anyone else must wait for it to lapse (spec.md
// §4.F "Jail semantics").
func (c *Circle) Unjail(sender, operator []byte) error {
	byAdmin := c.cfg.Admin != nil && bytesEqual(sender, c.cfg.Admin)
	return c.Validators.Unjail(operator, byAdmin)
}

// UpdateMember is the host-only single-member edit bypassing the proposal
// flow entirely (spec.md §6 Sudo "UpdateMember").
func (c *Circle) UpdateMember(addr []byte, weight uint64, height uint64) error {
	old, _, err := c.Group.Snapshot.Load(addr)
	if err != nil {
		return err
	}
	if _, err := c.Group.UpdateMembers([]group.MemberUpdate{{Address: addr, Weight: weight}}, height); err != nil {
		return err
	}
	return c.Rewards.AdjustWeightChange(addr, old, weight)
}

// EndBlock runs the validator-set epoch projection (spec.md §6 Sudo
// "EndBlock").
func (c *Circle) EndBlock(height uint64) (validator.Diff, error) {
	return c.Validators.EndBlock(height)
}

// EndWithValidatorUpdate is EndBlock's host-invoked counterpart when the
// host additionally wants the resulting diff echoed back in its own
// envelope (spec.md §6 Sudo "EndWithValidatorUpdate").
func (c *Circle) EndWithValidatorUpdate(height uint64) (validator.Diff, error) {
	return c.EndBlock(height)
}

// PrivilegeChange notifies the circle of a host privilege grant or
// revocation (spec.md §6 Sudo "PrivilegeChange{Promoted|Demoted}"). Acting
// on a granted privilege is a host-specific effect out of scope here (spec.md
// §1 non-goals); the circle only forwards the notice onward.
func (c *Circle) PrivilegeChange(promoted bool) {
	kind := "demoted"
	if promoted {
		kind = "promoted"
	}
	c.Gateway.RequestPrivileges(kind)
}

// Dispatch checks a sudo message kind: the four known kinds return nil
// without performing anything, and any other kind returns ErrUnknownSudoMsg
// (spec.md §7 Infrastructure "UnknownSudoMsg").
func (c *Circle) Dispatch(kind string) error {
	switch kind {
	case "UpdateMember", "EndBlock", "PrivilegeChange", "EndWithValidatorUpdate":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSudoMsg, kind)
	}
}
