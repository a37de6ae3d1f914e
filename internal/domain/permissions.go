package domain

// ChannelPermissions is what a client may do on one channel.
type ChannelPermissions struct {
	Talk   bool `json:"talk"`
	Listen bool `json:"listen"`
}

// DefaultChannelPermissions applies to every channel without an explicit entry.
func DefaultChannelPermissions() ChannelPermissions {
	return ChannelPermissions{Talk: false, Listen: true}
}

// Permissions maps channel ids to the client's rights on them.
type Permissions struct {
	Channels map[ChannelID]ChannelPermissions `json:"channel_permissions"`
}

func NewPermissions() Permissions {
	return Permissions{Channels: make(map[ChannelID]ChannelPermissions)}
}

func (p Permissions) For(ch ChannelID) ChannelPermissions {
	if cp, ok := p.Channels[ch]; ok {
		return cp
	}
	return DefaultChannelPermissions()
}

// Clone returns a copy that does not share the underlying map.
func (p Permissions) Clone() Permissions {
	out := NewPermissions()
	for k, v := range p.Channels {
		out.Channels[k] = v
	}
	return out
}
