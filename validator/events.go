package validator

import (
	"strconv"

	"trustedcircle/crypto"
)

const (
	eventTypeJailed   = "circle.validator.jailed"
	eventTypeUnjailed = "circle.validator.unjailed"
)

func addressString(addr []byte) string {
	a, err := crypto.NewAddress(crypto.CirclePrefix, addr)
	if err != nil {
		return ""
	}
	return a.String()
}

type jailedEvent struct {
	operator []byte
	forever  bool
	until    uint64
}

func (e jailedEvent) EventType() string { return eventTypeJailed }

func (e jailedEvent) Attributes() map[string]string {
	attrs := map[string]string{
		"operator": addressString(e.operator),
		"forever":  strconv.FormatBool(e.forever),
	}
	if !e.forever {
		attrs["until"] = strconv.FormatUint(e.until, 10)
	}
	return attrs
}

type unjailedEvent struct {
	operator []byte
}

func (e unjailedEvent) EventType() string { return eventTypeUnjailed }

func (e unjailedEvent) Attributes() map[string]string {
	return map[string]string{"operator": addressString(e.operator)}
}
