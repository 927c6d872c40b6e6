package circle

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"trustedcircle/proposal"
	"trustedcircle/storage"
	"trustedcircle/validator"
)

func addr(b byte) []byte {
	out := make([]byte, 20)
	out[19] = b
	return out
}

func standardRules() proposal.Rules {
	return proposal.Rules{VotingPeriodDays: 7, QuorumBps: 5000, ThresholdBps: 6000, AllowEndEarly: false}
}

func newTestCircle(t *testing.T, admin []byte, denyList [][]byte) *Circle {
	t.Helper()
	db := storage.NewMemDB()
	cfg := Config{
		Name:         "test",
		Denom:        "ucircle",
		Admin:        admin,
		EscrowAmount: uint256.NewInt(100),
		Rules:        standardRules(),
		DenyList:     denyList,
	}
	vcfg := validator.Config{EpochLength: time.Hour, MinWeight: 1, MaxValidators: 10, Scaling: 1, AutoUnjail: true}
	return New(db, cfg, vcfg, 7*24*time.Hour)
}

func TestUpdateMembersRejectsDeniedAddress(t *testing.T) {
	c := newTestCircle(t, addr(1), [][]byte{addr(9)})
	_, err := c.UpdateMembers(addr(1), []MemberWeight{{Address: addr(9), Weight: 5}}, nil, 1)
	require.ErrorIs(t, err, ErrDeniedAddress)
}

func TestUpdateMembersRequiresAdminOrPreauth(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(2), []MemberWeight{{Address: addr(3), Weight: 5}}, nil, 1)
	require.ErrorIs(t, err, ErrNoPreauth)

	require.NoError(t, c.Group.Hooks.AddPreauth(1))
	_, err = c.UpdateMembers(addr(2), []MemberWeight{{Address: addr(3), Weight: 5}}, nil, 1)
	require.NoError(t, err)

	weight, present, err := c.Group.Snapshot.Load(addr(3))
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 5, weight)
}

func TestUpdateMembersRejectsEmptyUpdate(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(1), nil, nil, 1)
	require.ErrorIs(t, err, ErrNoMembers)
}

func TestUpdateMembersAdjustsRewardWeight(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(1), []MemberWeight{{Address: addr(2), Weight: 10}}, nil, 1)
	require.NoError(t, err)

	require.NoError(t, c.DistributeFunds(uint256.NewInt(100)))

	amount, err := c.WithdrawFunds(addr(2), nil)
	require.NoError(t, err)
	require.EqualValues(t, 100, amount.Uint64())
}

func TestProposeRejectsEmptyTitle(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(1), []MemberWeight{{Address: addr(1), Weight: 10}}, nil, 1)
	require.NoError(t, err)

	payload := ProposalPayload{Kind: PayloadGovProposalPassthrough, GovPassthrough: []byte("x")}
	_, err = c.Propose(addr(1), "", "d", payload, 1)
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestProposeRejectsFrozenRulesAlteration(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(1), []MemberWeight{{Address: addr(1), Weight: 10}}, nil, 1)
	require.NoError(t, err)

	c.cfg.RulesFrozen = true
	c.Proposals.SetRulesFrozen(true)

	payload := ProposalPayload{Kind: PayloadUpdateRules, UpdateRules: &UpdateRulesPayload{Rules: standardRules()}}
	_, err = c.Propose(addr(1), "t", "d", payload, 1)
	require.Error(t, err)
}

func TestProposeValidatesPunishPayload(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(1), []MemberWeight{{Address: addr(1), Weight: 10}}, nil, 1)
	require.NoError(t, err)

	payload := ProposalPayload{Kind: PayloadPunishMember, PunishMember: &PunishMemberPayload{Member: addr(2), PctBps: 0}}
	_, err = c.Propose(addr(1), "t", "d", payload, 1)
	require.ErrorIs(t, err, ErrInvalidSlashingPercentage)
}

func TestExecuteUpdateMembersPayload(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(1), []MemberWeight{{Address: addr(1), Weight: 10}, {Address: addr(2), Weight: 5}}, nil, 1)
	require.NoError(t, err)

	payload := ProposalPayload{
		Kind:          PayloadUpdateMembers,
		UpdateMembers: &UpdateMembersPayload{Add: []MemberWeight{{Address: addr(3), Weight: 7}}},
	}
	// Members were added at height 1; ballots read weight as of the start of height 2.
	id, err := c.Propose(addr(1), "add member 3", "d", payload, 2)
	require.NoError(t, err)

	// Propose already recorded the proposer's Yes ballot.
	require.ErrorIs(t, c.Vote(addr(1), id, proposal.ChoiceYes), proposal.ErrAlreadyVoted)
	require.NoError(t, c.Vote(addr(2), id, proposal.ChoiceYes))

	c.SetNowFunc(func() time.Time { return time.Now().Add(8 * 24 * time.Hour) })

	msgs, err := c.Execute(id, 2)
	require.NoError(t, err)
	_ = msgs

	weight, present, err := c.Group.Snapshot.Load(addr(3))
	require.NoError(t, err)
	require.True(t, present)
	require.EqualValues(t, 7, weight)
}

func TestExecuteGovProposalPassthroughForwardsToGateway(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(1), []MemberWeight{{Address: addr(1), Weight: 10}}, nil, 1)
	require.NoError(t, err)

	gw := &RecordingGateway{}
	c.SetGateway(gw)

	payload := ProposalPayload{Kind: PayloadGovProposalPassthrough, GovPassthrough: []byte("opaque")}
	id, err := c.Propose(addr(1), "gov", "d", payload, 2)
	require.NoError(t, err)

	// Propose already recorded the proposer's Yes ballot.
	require.ErrorIs(t, c.Vote(addr(1), id, proposal.ChoiceYes), proposal.ErrAlreadyVoted)

	c.SetNowFunc(func() time.Time { return time.Now().Add(8 * 24 * time.Hour) })

	_, err = c.Execute(id, 2)
	require.NoError(t, err)

	require.Len(t, gw.Sent, 1)
	msg, ok := gw.Sent[0].(ExecuteGovProposalMsg)
	require.True(t, ok)
	require.Equal(t, []byte("opaque"), msg.Payload)
}

func TestLeaveAdjustsOpenProposalSnapshot(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	_, err := c.UpdateMembers(addr(1), []MemberWeight{{Address: addr(1), Weight: 10}, {Address: addr(2), Weight: 5}}, nil, 1)
	require.NoError(t, err)

	// Admit addr(2) into the voting lifecycle so Leave has a record to act on.
	require.NoError(t, c.Lifecycle.AddNonVoting(addr(2)))
	_, err = c.Lifecycle.ProposeVoting([][]byte{addr(2)}, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Lifecycle.DepositEscrow(addr(2), uint256.NewInt(100), 1))

	payload := ProposalPayload{Kind: PayloadGovProposalPassthrough, GovPassthrough: []byte("x")}
	id, err := c.Propose(addr(1), "t", "d", payload, 2)
	require.NoError(t, err)

	require.NoError(t, c.Leave(addr(2), 3))

	p, err := c.Proposals.Get(id)
	require.NoError(t, err)
	require.EqualValues(t, 10, p.TotalPointsSnapshot)
}

func TestUpdateAdminRequiresCurrentAdmin(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	require.ErrorIs(t, c.UpdateAdmin(addr(2), addr(3)), ErrNotAdmin)
	require.NoError(t, c.UpdateAdmin(addr(1), addr(3)))
	require.Equal(t, addr(3), c.Config().Admin)
}

func TestRemoveHookBypassesAdminForSelfRemoval(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	require.NoError(t, c.AddHook(addr(1), addr(5)))
	require.NoError(t, c.RemoveHook(addr(5), addr(5)))

	hooks, err := c.Group.Hooks.List()
	require.NoError(t, err)
	require.Empty(t, hooks)
}

func TestScheduleEscrowChangeAndCheckPending(t *testing.T) {
	c := newTestCircle(t, addr(1), nil)
	now := time.Unix(1_000_000, 0)
	c.SetNowFunc(func() time.Time { return now })

	require.NoError(t, c.ScheduleEscrowChange(addr(1), uint256.NewInt(200), time.Hour))
	require.NoError(t, c.CheckPending(1))
	require.EqualValues(t, 100, c.Config().EscrowAmount.Uint64())

	now = now.Add(2 * time.Hour)
	require.NoError(t, c.CheckPending(2))
	require.EqualValues(t, 200, c.Config().EscrowAmount.Uint64())
}
