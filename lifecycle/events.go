package lifecycle

import (
	"strconv"

	"github.com/holiman/uint256"

	"trustedcircle/crypto"
)

const (
	eventTypeStatusChanged   = "circle.lifecycle.status_changed"
	eventTypeBatchCreated    = "circle.lifecycle.batch_created"
	eventTypeEscrowDeposited = "circle.lifecycle.escrow_deposited"
	eventTypeEscrowReturned  = "circle.lifecycle.escrow_returned"
	eventTypePunished        = "circle.lifecycle.punished"
)

func addressString(addr []byte) string {
	a, err := crypto.NewAddress(crypto.CirclePrefix, addr)
	if err != nil {
		return ""
	}
	return a.String()
}

type statusChangedEvent struct {
	addr     []byte
	from, to MemberStatus
}

func (e statusChangedEvent) EventType() string { return eventTypeStatusChanged }

func (e statusChangedEvent) Attributes() map[string]string {
	return map[string]string{
		"address": addressString(e.addr),
		"from":    e.from.String(),
		"to":      e.to.String(),
	}
}

type batchCreatedEvent struct {
	batchID string
	members [][]byte
}

func (e batchCreatedEvent) EventType() string { return eventTypeBatchCreated }

func (e batchCreatedEvent) Attributes() map[string]string {
	return map[string]string{
		"batch_id": e.batchID,
		"members":  strconv.Itoa(len(e.members)),
	}
}

type escrowDepositedEvent struct {
	addr   []byte
	amount *uint256.Int
}

func (e escrowDepositedEvent) EventType() string { return eventTypeEscrowDeposited }

func (e escrowDepositedEvent) Attributes() map[string]string {
	return map[string]string{"address": addressString(e.addr), "amount": e.amount.String()}
}

type escrowReturnedEvent struct {
	addr   []byte
	amount *uint256.Int
}

func (e escrowReturnedEvent) EventType() string { return eventTypeEscrowReturned }

func (e escrowReturnedEvent) Attributes() map[string]string {
	return map[string]string{"address": addressString(e.addr), "amount": e.amount.String()}
}

type punishedEvent struct {
	addr    []byte
	slashed *uint256.Int
	burned  bool
}

func (e punishedEvent) EventType() string { return eventTypePunished }

func (e punishedEvent) Attributes() map[string]string {
	return map[string]string{
		"address": addressString(e.addr),
		"slashed": e.slashed.String(),
		"burned":  strconv.FormatBool(e.burned),
	}
}
