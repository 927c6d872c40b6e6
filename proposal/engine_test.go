package proposal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustedcircle/storage"
)

func addr(b byte) []byte {
	out := make([]byte, 20)
	out[19] = b
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(storage.NewMemDB(), "proposal", nil)
}

func standardRules() Rules {
	return Rules{VotingPeriodDays: 7, QuorumBps: 5000, ThresholdBps: 6000, AllowEndEarly: false}
}

func TestSubmitProposalRejectsZeroWeightSender(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SubmitProposal(addr(1), "t", "d", nil, 0, 10, 1, standardRules(), false)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSubmitProposalRecordsProposersYesBallot(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 5, 1, standardRules(), false)
	require.NoError(t, err)

	p, err := e.Get(id)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.Votes.Yes)
	require.Equal(t, StatusOpen, p.Status)

	ballot, voted, err := e.Ballot(id, addr(1))
	require.NoError(t, err)
	require.True(t, voted)
	require.Equal(t, ChoiceYes, ballot.Vote)
}

func TestSubmitProposalRejectsRuleChangeWhenFrozen(t *testing.T) {
	e := newTestEngine(t)
	e.SetRulesFrozen(true)
	_, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 5, 1, standardRules(), true)
	require.ErrorIs(t, err, ErrRulesFrozen)

	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 5, 1, standardRules(), false)
	require.NoError(t, err, "non-rule-altering proposals still allowed while frozen")
	require.NotZero(t, id)
}

func TestCastVoteAlreadyVotedRejected(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 5, 1, standardRules(), false)
	require.NoError(t, err)

	err = e.CastVote(id, addr(1), 1, ChoiceNo, false)
	require.ErrorIs(t, err, ErrAlreadyVoted)
}

func TestProposalPassesOnQuorumAndThresholdAtExpiry(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })

	// 5 equal-weight voters, quorum 50%, threshold 60%.
	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 5, 1, standardRules(), false)
	require.NoError(t, err)
	require.NoError(t, e.CastVote(id, addr(2), 1, ChoiceYes, false))
	require.NoError(t, e.CastVote(id, addr(3), 1, ChoiceNo, false))

	p, err := e.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, Compute(p, now))

	after := now.Add(8 * 24 * time.Hour)
	p, err = e.Get(id)
	require.NoError(t, err)
	// Yes=2, No=1, V=3, quorum=ceil(5*0.5)=3 met; threshold=ceil(3*0.6)=2, Yes=2 -> passes.
	require.Equal(t, StatusPassed, Compute(p, after))
}

func TestProposalRejectedWhenThresholdNotMet(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })

	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 5, 1, standardRules(), false)
	require.NoError(t, err)
	require.NoError(t, e.CastVote(id, addr(2), 1, ChoiceNo, false))
	require.NoError(t, e.CastVote(id, addr(3), 1, ChoiceNo, false))
	require.NoError(t, e.CastVote(id, addr(4), 1, ChoiceNo, false))

	after := now.Add(8 * 24 * time.Hour)
	p, err := e.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, Compute(p, after))
}

func TestProposalPassesEarlyWhenAllowed(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })

	rules := Rules{VotingPeriodDays: 7, QuorumBps: 5000, ThresholdBps: 6000, AllowEndEarly: true}
	// S5: 5 voters weight 1 each, total=5. Proposer's implicit yes + two more yes = 3/5 = 60%.
	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 5, 1, rules, false)
	require.NoError(t, err)
	require.NoError(t, e.CastVote(id, addr(2), 1, ChoiceYes, false))
	require.NoError(t, e.CastVote(id, addr(3), 1, ChoiceYes, false))

	p, err := e.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, Compute(p, now), "should pass before expiry under allow_end_early")

	require.NoError(t, e.Execute(id, nil))
	p, err = e.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusExecuted, p.Status)

	err = e.Execute(id, nil)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCloseRequiresOpenAndExpired(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })

	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 10, 1, standardRules(), false)
	require.NoError(t, err)

	err = e.Close(id)
	require.ErrorIs(t, err, ErrInvalidStatus, "voting period has not elapsed")

	later := now.Add(8 * 24 * time.Hour)
	e.SetNowFunc(func() time.Time { return later })
	require.NoError(t, e.Close(id))

	p, err := e.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, p.Status)

	err = e.Close(id)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAdjustForLeaverDecrementsOpenUnvotedProposals(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })

	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 10, 1, standardRules(), false)
	require.NoError(t, err)

	require.NoError(t, e.AdjustForLeaver(addr(9), 3))
	p, err := e.Get(id)
	require.NoError(t, err)
	require.EqualValues(t, 7, p.TotalPointsSnapshot)
}

func TestAdjustForLeaverSkipsProposalsTheLeaverVotedOn(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })

	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 10, 1, standardRules(), false)
	require.NoError(t, err)
	require.NoError(t, e.CastVote(id, addr(9), 2, ChoiceYes, false))

	require.NoError(t, e.AdjustForLeaver(addr(9), 2))
	p, err := e.Get(id)
	require.NoError(t, err)
	require.EqualValues(t, 10, p.TotalPointsSnapshot, "leaver already voted, total should not change")
}

func TestAdjustForLeaverSkipsExpiredProposals(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1000, 0)
	e.SetNowFunc(func() time.Time { return now })

	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 10, 1, standardRules(), false)
	require.NoError(t, err)

	later := now.Add(8 * 24 * time.Hour)
	e.SetNowFunc(func() time.Time { return later })
	require.NoError(t, e.AdjustForLeaver(addr(9), 3))

	p, err := e.Get(id)
	require.NoError(t, err)
	require.EqualValues(t, 10, p.TotalPointsSnapshot, "expired proposal should not be adjusted")
}

func TestListVotesAscendingByVoter(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.SubmitProposal(addr(1), "t", "d", nil, 1, 10, 1, standardRules(), false)
	require.NoError(t, err)
	require.NoError(t, e.CastVote(id, addr(3), 1, ChoiceYes, false))
	require.NoError(t, e.CastVote(id, addr(2), 1, ChoiceNo, false))

	votes, err := e.ListVotes(id, nil, 0)
	require.NoError(t, err)
	require.Len(t, votes, 3)
	require.Equal(t, addr(1), votes[0].Voter)
	require.Equal(t, addr(2), votes[1].Voter)
	require.Equal(t, addr(3), votes[2].Voter)
}
