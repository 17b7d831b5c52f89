// Package notification routes notifications to channels per user preference
// and delivers them through registered channel handlers with retries,
// bounded fan-out and a deferred queue.
package notification

import (
	"strings"

	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail     Channel = "EMAIL"
	ChannelSMS       Channel = "SMS"
	ChannelSlack     Channel = "SLACK"
	ChannelTeams     Channel = "TEAMS"
	ChannelPush      Channel = "PUSH"
	ChannelWebhook   Channel = "WEBHOOK"
	ChannelPagerDuty Channel = "PAGERDUTY"
)

// AllChannels lists every channel in priority tie-break order.
var AllChannels = []Channel{
	ChannelPagerDuty,
	ChannelSMS,
	ChannelSlack,
	ChannelTeams,
	ChannelPush,
	ChannelWebhook,
	ChannelEmail,
}

var channelPriority = map[Channel]int{
	ChannelPagerDuty: 5,
	ChannelSMS:       4,
	ChannelSlack:     3,
	ChannelTeams:     3,
	ChannelPush:      3,
	ChannelWebhook:   3,
	ChannelEmail:     1,
}

// Priority returns the channel's rank for primary selection; unknown is 0.
func (c Channel) Priority() int {
	return channelPriority[c]
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	_, ok := channelPriority[c]
	return ok
}

func (c Channel) String() string { return string(c) }

// ParseChannel converts a case-insensitive name to a Channel.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

// DefaultChannels returns the channels used for a severity when the request
// does not name any. Higher severities reach more channels.
func DefaultChannels(l severity.Level) []Channel {
	switch l {
	case severity.Critical:
		return []Channel{ChannelEmail, ChannelPush, ChannelSlack, ChannelSMS, ChannelPagerDuty}
	case severity.High:
		return []Channel{ChannelEmail, ChannelPush, ChannelSlack, ChannelSMS}
	case severity.Medium:
		return []Channel{ChannelEmail, ChannelPush, ChannelSlack}
	case severity.Warning:
		return []Channel{ChannelEmail, ChannelPush}
	default:
		return []Channel{ChannelEmail}
	}
}

// orderOf returns the tie-break position of c.
func orderOf(c Channel) int {
	for i, ch := range AllChannels {
		if ch == c {
			return i
		}
	}
	return len(AllChannels)
}
