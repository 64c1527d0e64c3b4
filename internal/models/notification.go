package models

import (
	"encoding/json"
	"time"
)

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is a user-facing event delivered over the realtime channel or
// created locally.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Read      bool            `json:"read"`
	Priority  Priority        `json:"priority,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChannelToggles enables delivery channels for one notification type.
type ChannelToggles struct {
	Push  bool `json:"push" yaml:"push"`
	Email bool `json:"email" yaml:"email"`
	InApp bool `json:"inApp" yaml:"in_app"`
}

// QuietHours is a local-time window, "HH:MM" to "HH:MM", that may span midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Start   string `json:"start" yaml:"start"`
	End     string `json:"end" yaml:"end"`
}

// Preferences are a user's notification settings.
type Preferences struct {
	Types      map[string]ChannelToggles `json:"types" yaml:"types"`
	Default    ChannelToggles            `json:"default" yaml:"default"`
	QuietHours QuietHours                `json:"quietHours" yaml:"quiet_hours"`
}

// DefaultPreferences enables every channel with quiet hours off.
func DefaultPreferences() Preferences {
	return Preferences{
		Types:   map[string]ChannelToggles{},
		Default: ChannelToggles{Push: true, Email: true, InApp: true},
	}
}

// For returns the toggles configured for a notification type, falling back to
// the defaults.
func (p Preferences) For(kind string) ChannelToggles {
	if t, ok := p.Types[kind]; ok {
		return t
	}
	return p.Default
}

// Clone returns a copy of p that shares no map with it.
func (p Preferences) Clone() Preferences {
	out := p
	if p.Types != nil {
		out.Types = make(map[string]ChannelToggles, len(p.Types))
		for k, v := range p.Types {
			out.Types[k] = v
		}
	}
	return out
}
