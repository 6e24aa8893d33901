package app

import (
	"fmt"

	"github.com/dkeye/Broadcast/internal/core"
)

type BackpressureAction int

const (
	// NoAction drops the notification and keeps the member.
	NoAction BackpressureAction = iota
	// MarkSlow drops the notification and flags the member slow.
	MarkSlow
	KickMember
)

// Policy decides what happens to a member whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction {
	return p.Action
}

// ParseBackpressureAction maps the config spelling to an action.
func ParseBackpressureAction(s string) (BackpressureAction, error) {
	switch s {
	case "", "none":
		return NoAction, nil
	case "mark":
		return MarkSlow, nil
	case "kick":
		return KickMember, nil
	}
	return NoAction, fmt.Errorf("%w: unknown backpressure action %q", core.ErrConfiguration, s)
}
