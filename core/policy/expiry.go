// Package policy maps request priorities onto notification urgency.
package policy

import (
	"time"

	"vetdispatch/core/model"
)

// Expiry describes how long a request stays open and which channels the
// fan-out uses.
type Expiry struct {
	TTL      time.Duration
	Channels []model.Channel
}

// Resolve returns the expiry policy for a priority. Pure and deterministic:
// emergency cases get a short fuse and every channel, routine cases wait a
// day on the in-app feed.
func Resolve(p model.Priority) Expiry {
	switch p {
	case model.PriorityEmergency:
		return Expiry{
			TTL:      2 * time.Hour,
			Channels: []model.Channel{model.ChannelApp, model.ChannelSMS, model.ChannelEmail},
		}
	case model.PriorityUrgent:
		return Expiry{TTL: 6 * time.Hour, Channels: []model.Channel{model.ChannelApp}}
	default:
		return Expiry{TTL: 24 * time.Hour, Channels: []model.Channel{model.ChannelApp}}
	}
}
