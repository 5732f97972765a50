package notify

import "github.com/user/mediasync/internal/types"

// Channel names the bus gates individually.
const (
	ChannelSound    = "sound"
	ChannelToast    = "toast"
	ChannelDesktop  = "desktop"
	ChannelTelegram = "telegram"
)

// Config decides which channels present an event. The log itself is
// always written regardless of these switches.
type Config struct {
	Enabled              bool `json:"enabled"`
	SoundEnabled         bool `json:"soundEnabled"`
	ShowToast            bool `json:"showToast"`
	BrowserNotifications bool `json:"browserNotifications"`
	PushEnabled          bool `json:"pushEnabled"`
	// EventFilters silences a type only when it maps to false; absent
	// types are presented.
	EventFilters map[types.EventType]bool `json:"eventFilters"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		SoundEnabled: true,
		ShowToast:    true,
		EventFilters: make(map[types.EventType]bool),
	}
}

// Allows reports whether events of type t are presented at all.
func (c Config) Allows(t types.EventType) bool {
	if !c.Enabled {
		return false
	}
	if on, ok := c.EventFilters[t]; ok && !on {
		return false
	}
	return true
}

// ChannelEnabled reports the switch for a named channel. Channels without
// a dedicated switch follow the global one.
func (c Config) ChannelEnabled(name string) bool {
	switch name {
	case ChannelSound:
		return c.SoundEnabled
	case ChannelToast:
		return c.ShowToast
	case ChannelDesktop:
		return c.BrowserNotifications
	case ChannelTelegram:
		return c.PushEnabled
	default:
		return c.Enabled
	}
}

func (c Config) clone() Config {
	out := c
	out.EventFilters = make(map[types.EventType]bool, len(c.EventFilters))
	for k, v := range c.EventFilters {
		out.EventFilters[k] = v
	}
	return out
}
