// Package circle wires the six Trusted Circle components (group, rewards,
// lifecycle, proposal, validator) behind the inbound message taxonomy of
// spec.md §6, and models the host boundary spec.md §1 places out of scope:
// transaction dispatch, the bank module, and custom host messages.
package circle

import "github.com/holiman/uint256"

// HostGateway is the boundary to the chain's bank module and custom host
// messages (spec.md §1 non-goals: "custom mint/privilege-grant messages",
// "specific governance payload effects beyond the lifecycle"). Every call is
// fire-and-forget: the core never awaits a result, since these are modeled
// as outbound messages the host schedules in a later, separately-atomic
// transaction (spec.md §9 "Host coupling").
type HostGateway interface {
	// BankSend enqueues a transfer of amount (in denom) to to.
	BankSend(to []byte, denom string, amount *uint256.Int)
	// BankBurn enqueues a burn of amount (in denom) from the circle's own
	// balance.
	BankBurn(denom string, amount *uint256.Int)
	// Mint requests the host mint amount (in denom) to to, a host-custom
	// privileged message (spec.md §6 "host-custom {Mint|...}").
	Mint(to []byte, denom string, amount *uint256.Int)
	// RequestPrivileges asks the host to grant or revoke the privilege kind
	// named (spec.md §6 Sudo "PrivilegeChange").
	RequestPrivileges(kind string)
	// ExecuteGovProposal forwards an opaque governance payload to the host's
	// own governance module (spec.md §9 "Polymorphism" governance
	// pass-through variant).
	ExecuteGovProposal(payload []byte)
	// ConsensusParams asks the host to update a consensus parameter, the
	// fourth host-custom outbound shape named alongside Mint,
	// RequestPrivileges, and ExecuteGovProposal (spec.md §6 "host-custom
	// {Mint|RequestPrivileges|ExecuteGovProposal|ConsensusParams}").
	ConsensusParams(payload []byte)
}

// OutboundMessage is the typed record of one HostGateway call, used by
// RecordingGateway to let tests assert on the host-bound message sequence
// without a real host.
type OutboundMessage interface {
	isOutboundMessage()
}

// BankSendMsg is a bank transfer outbound message (spec.md §6 "bank
// transfer {to, [coin]}").
type BankSendMsg struct {
	To     []byte
	Denom  string
	Amount *uint256.Int
}

func (BankSendMsg) isOutboundMessage() {}

// BankBurnMsg is a bank burn outbound message (spec.md §6 "bank burn
// {[coin]}").
type BankBurnMsg struct {
	Denom  string
	Amount *uint256.Int
}

func (BankBurnMsg) isOutboundMessage() {}

// MintMsg is a host-custom mint request.
type MintMsg struct {
	To     []byte
	Denom  string
	Amount *uint256.Int
}

func (MintMsg) isOutboundMessage() {}

// RequestPrivilegesMsg is a host-custom privilege request.
type RequestPrivilegesMsg struct {
	Kind string
}

func (RequestPrivilegesMsg) isOutboundMessage() {}

// ExecuteGovProposalMsg is a host-custom governance pass-through.
type ExecuteGovProposalMsg struct {
	Payload []byte
}

func (ExecuteGovProposalMsg) isOutboundMessage() {}

// ConsensusParamsMsg is a host-custom consensus parameter update request.
type ConsensusParamsMsg struct {
	Payload []byte
}

func (ConsensusParamsMsg) isOutboundMessage() {}

// NoopGateway discards every call, mirroring events.NoopEmitter: a Circle
// wired with no gateway still runs every state transition correctly, it
// simply drops the host-bound side effects.
type NoopGateway struct{}

func (NoopGateway) BankSend([]byte, string, *uint256.Int) {}
func (NoopGateway) BankBurn(string, *uint256.Int)         {}
func (NoopGateway) Mint([]byte, string, *uint256.Int)     {}
func (NoopGateway) RequestPrivileges(string)              {}
func (NoopGateway) ExecuteGovProposal([]byte)              {}
func (NoopGateway) ConsensusParams([]byte)                 {}

// RecordingGateway appends every call as an OutboundMessage, in call order,
// for tests to assert against (spec.md §5 "messages appear in the response
// in insertion order").
type RecordingGateway struct {
	Sent []OutboundMessage
}

func (g *RecordingGateway) BankSend(to []byte, denom string, amount *uint256.Int) {
	g.Sent = append(g.Sent, BankSendMsg{To: append([]byte(nil), to...), Denom: denom, Amount: amount})
}

func (g *RecordingGateway) BankBurn(denom string, amount *uint256.Int) {
	g.Sent = append(g.Sent, BankBurnMsg{Denom: denom, Amount: amount})
}

func (g *RecordingGateway) Mint(to []byte, denom string, amount *uint256.Int) {
	g.Sent = append(g.Sent, MintMsg{To: append([]byte(nil), to...), Denom: denom, Amount: amount})
}

func (g *RecordingGateway) RequestPrivileges(kind string) {
	g.Sent = append(g.Sent, RequestPrivilegesMsg{Kind: kind})
}

func (g *RecordingGateway) ExecuteGovProposal(payload []byte) {
	g.Sent = append(g.Sent, ExecuteGovProposalMsg{Payload: append([]byte(nil), payload...)})
}

func (g *RecordingGateway) ConsensusParams(payload []byte) {
	g.Sent = append(g.Sent, ConsensusParamsMsg{Payload: append([]byte(nil), payload...)})
}
