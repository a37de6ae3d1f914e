package app

import "github.com/dkeye/soundmesh/internal/core"

// Policy decides whether a sender's audio may be routed at all.
type Policy interface {
	CanTalk(sender *core.Session) bool
}

// OpenPolicy routes every active track; talk permissions stay advisory.
type OpenPolicy struct{}

func (OpenPolicy) CanTalk(*core.Session) bool { return true }

// TalkPermissionPolicy routes a track only if the sender may talk on its current channel.
type TalkPermissionPolicy struct{}

func (TalkPermissionPolicy) CanTalk(sender *core.Session) bool {
	if sender.CurrentChannel == "" {
		return false
	}
	return sender.Permissions.For(sender.CurrentChannel).Talk
}

func NewPolicy(enforceTalk bool) Policy {
	if enforceTalk {
		return TalkPermissionPolicy{}
	}
	return OpenPolicy{}
}
