package circle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"trustedcircle/proposal"
)

// PayloadKind tags the variant carried by a proposal's payload (spec.md §9
// "Polymorphism": "the payload of a proposal ranges across many variants...
// model as a tagged variant; dispatch via exhaustive match in
// proposal_execute").
type PayloadKind uint8

const (
	// PayloadUpdateMembers admits or removes members directly, bypassing the
	// escrow-gated lifecycle (mirrors the Sudo UpdateMember message, but
	// reachable via a passed vote instead of host privilege).
	PayloadUpdateMembers PayloadKind = iota
	// PayloadUpdateRules replaces the circle's voting rules snapshot used by
	// future proposals.
	PayloadUpdateRules
	// PayloadAllowlistHook registers or unregisters a downstream hook
	// address.
	PayloadAllowlistHook
	// PayloadPunishMember slashes a voting member's escrow.
	PayloadPunishMember
	// PayloadGovProposalPassthrough forwards an opaque payload to the host's
	// own governance module (spec.md §1 non-goals: "specific governance
	// payload effects beyond the lifecycle").
	PayloadGovProposalPassthrough
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadUpdateRules:
		return "update_rules"
	case PayloadAllowlistHook:
		return "allowlist_hook"
	case PayloadPunishMember:
		return "punish_member"
	case PayloadGovProposalPassthrough:
		return "gov_proposal_passthrough"
	default:
		return "update_members"
	}
}

// altersRules reports whether kind changes the circle's own rules, gating
// against the rules-frozen flag (spec.md §12 "Rules-frozen flag").
func (k PayloadKind) altersRules() bool { return k == PayloadUpdateRules }

// MemberWeight is one requested addition in an UpdateMembers payload or
// message.
type MemberWeight struct {
	Address []byte
	Weight  uint64
}

// UpdateMembersPayload is the body of a PayloadUpdateMembers variant.
type UpdateMembersPayload struct {
	Add    []MemberWeight
	Remove [][]byte
}

// UpdateRulesPayload is the body of a PayloadUpdateRules variant.
type UpdateRulesPayload struct {
	Rules proposal.Rules
}

// AllowlistHookPayload is the body of a PayloadAllowlistHook variant.
type AllowlistHookPayload struct {
	Hook []byte
	Add  bool
}

// PunishMemberPayload is the body of a PayloadPunishMember variant.
type PunishMemberPayload struct {
	Member     []byte
	PctBps     uint32
	Recipients [][]byte
	Burn       bool
	KickOut    bool
}

// ProposalPayload is the RLP-encodable envelope stored as a Proposal's raw
// Payload bytes: a kind tag plus the kind-specific body, RLP-encoded
// separately so the union never needs a nil-pointer field (go-ethereum's rlp
// codec has no native optional-field support for struct unions).
type ProposalPayload struct {
	Kind PayloadKind

	UpdateMembers  *UpdateMembersPayload
	UpdateRules    *UpdateRulesPayload
	AllowlistHook  *AllowlistHookPayload
	PunishMember   *PunishMemberPayload
	GovPassthrough []byte
}

// rawPayload is the wire shape: every body travels as its own RLP-encoded
// byte string, with only the one matching Kind populated.
type rawPayload struct {
	Kind PayloadKind
	Body []byte
}

// EncodeProposalPayload RLP-encodes p's active variant.
func EncodeProposalPayload(p ProposalPayload) ([]byte, error) {
	var body []byte
	var err error
	switch p.Kind {
	case PayloadUpdateMembers:
		body, err = rlp.EncodeToBytes(p.UpdateMembers)
	case PayloadUpdateRules:
		body, err = rlp.EncodeToBytes(p.UpdateRules)
	case PayloadAllowlistHook:
		body, err = rlp.EncodeToBytes(p.AllowlistHook)
	case PayloadPunishMember:
		body, err = rlp.EncodeToBytes(p.PunishMember)
	case PayloadGovProposalPassthrough:
		body, err = rlp.EncodeToBytes(p.GovPassthrough)
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %d", proposal.ErrInvalidPayload, p.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("circle: encode payload body: %w", err)
	}
	return rlp.EncodeToBytes(rawPayload{Kind: p.Kind, Body: body})
}

// DecodeProposalPayload is EncodeProposalPayload's inverse, dispatching on
// the stored Kind (spec.md §9 "dispatch via exhaustive match").
func DecodeProposalPayload(raw []byte) (ProposalPayload, error) {
	var rp rawPayload
	if err := rlp.DecodeBytes(raw, &rp); err != nil {
		return ProposalPayload{}, fmt.Errorf("circle: decode payload envelope: %w", err)
	}
	p := ProposalPayload{Kind: rp.Kind}
	var err error
	switch rp.Kind {
	case PayloadUpdateMembers:
		p.UpdateMembers = &UpdateMembersPayload{}
		err = rlp.DecodeBytes(rp.Body, p.UpdateMembers)
	case PayloadUpdateRules:
		p.UpdateRules = &UpdateRulesPayload{}
		err = rlp.DecodeBytes(rp.Body, p.UpdateRules)
	case PayloadAllowlistHook:
		p.AllowlistHook = &AllowlistHookPayload{}
		err = rlp.DecodeBytes(rp.Body, p.AllowlistHook)
	case PayloadPunishMember:
		p.PunishMember = &PunishMemberPayload{}
		err = rlp.DecodeBytes(rp.Body, p.PunishMember)
	case PayloadGovProposalPassthrough:
		err = rlp.DecodeBytes(rp.Body, &p.GovPassthrough)
	default:
		return ProposalPayload{}, fmt.Errorf("%w: unknown payload kind %d", proposal.ErrInvalidPayload, rp.Kind)
	}
	if err != nil {
		return ProposalPayload{}, fmt.Errorf("circle: decode payload body: %w", err)
	}
	return p, nil
}
