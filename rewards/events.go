package rewards

import (
	"github.com/holiman/uint256"

	"trustedcircle/crypto"
)

const (
	eventTypeFundsDistributed = "circle.rewards.funds_distributed"
	eventTypeFundsWithdrawn   = "circle.rewards.funds_withdrawn"
)

type fundsDistributedEvent struct {
	denom  string
	amount *uint256.Int
}

func (e fundsDistributedEvent) EventType() string { return eventTypeFundsDistributed }

func (e fundsDistributedEvent) Attributes() map[string]string {
	return map[string]string{
		"denom":  e.denom,
		"amount": e.amount.String(),
	}
}

type fundsWithdrawnEvent struct {
	denom  string
	addr   []byte
	amount *uint256.Int
}

func (e fundsWithdrawnEvent) EventType() string { return eventTypeFundsWithdrawn }

func (e fundsWithdrawnEvent) Attributes() map[string]string {
	addrStr := ""
	if a, err := crypto.NewAddress(crypto.CirclePrefix, e.addr); err == nil {
		addrStr = a.String()
	}
	return map[string]string{
		"denom":    e.denom,
		"receiver": addrStr,
		"amount":   e.amount.String(),
	}
}
