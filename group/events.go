package group

import (
	"strconv"

	"trustedcircle/crypto"
)

const (
	eventTypeMemberChanged = "circle.group.member_changed"
	eventTypeHookAdded     = "circle.group.hook_added"
	eventTypeHookRemoved   = "circle.group.hook_removed"
)

// memberChangedEvent announces a single member's weight transition.
type memberChangedEvent struct {
	diff MemberDiff
}

func (e memberChangedEvent) EventType() string { return eventTypeMemberChanged }

// Attributes exposes the event payload as a flat string map, matching the
// attribute-style construction used elsewhere in the core.
func (e memberChangedEvent) Attributes() map[string]string {
	addr, err := crypto.NewAddress(crypto.CirclePrefix, e.diff.Address)
	addrStr := ""
	if err == nil {
		addrStr = addr.String()
	}
	return map[string]string{
		"address":    addrStr,
		"old_weight": strconv.FormatUint(e.diff.OldWeight, 10),
		"new_weight": strconv.FormatUint(e.diff.NewWeight, 10),
	}
}

type hookAddedEvent struct {
	hook []byte
}

func (e hookAddedEvent) EventType() string { return eventTypeHookAdded }

func (e hookAddedEvent) Attributes() map[string]string {
	addr, err := crypto.NewAddress(crypto.CirclePrefix, e.hook)
	addrStr := ""
	if err == nil {
		addrStr = addr.String()
	}
	return map[string]string{"hook": addrStr}
}

type hookRemovedEvent struct {
	hook []byte
}

func (e hookRemovedEvent) EventType() string { return eventTypeHookRemoved }

func (e hookRemovedEvent) Attributes() map[string]string {
	addr, err := crypto.NewAddress(crypto.CirclePrefix, e.hook)
	addrStr := ""
	if err == nil {
		addrStr = addr.String()
	}
	return map[string]string{"hook": addrStr}
}
