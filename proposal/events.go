package proposal

import (
	"strconv"

	"trustedcircle/crypto"
)

const (
	eventTypeProposalCreated  = "circle.proposal.created"
	eventTypeVoteCast         = "circle.proposal.vote_cast"
	eventTypeProposalFinal    = "circle.proposal.finalized"
)

func addressString(addr []byte) string {
	a, err := crypto.NewAddress(crypto.CirclePrefix, addr)
	if err != nil {
		return ""
	}
	return a.String()
}

type proposalCreatedEvent struct {
	id    uint64
	title string
}

func (e proposalCreatedEvent) EventType() string { return eventTypeProposalCreated }

func (e proposalCreatedEvent) Attributes() map[string]string {
	return map[string]string{
		"proposal_id": strconv.FormatUint(e.id, 10),
		"title":       e.title,
	}
}

type voteCastEvent struct {
	id     uint64
	voter  []byte
	choice Choice
}

func (e voteCastEvent) EventType() string { return eventTypeVoteCast }

func (e voteCastEvent) Attributes() map[string]string {
	return map[string]string{
		"proposal_id": strconv.FormatUint(e.id, 10),
		"voter":       addressString(e.voter),
		"choice":      e.choice.String(),
	}
}

type proposalFinalizedEvent struct {
	id     uint64
	status Status
}

func (e proposalFinalizedEvent) EventType() string { return eventTypeProposalFinal }

func (e proposalFinalizedEvent) Attributes() map[string]string {
	return map[string]string{
		"proposal_id": strconv.FormatUint(e.id, 10),
		"status":      e.status.String(),
	}
}
