package action

import "strings"

// Channel identifies a reportable channel.
type Channel int

const (
	// Unknown is the fallback arm for action keys this build does not recognise.
	Unknown Channel = iota
	Call
	SMS
	WhatsApp
	Email
)

var channelKeys = map[Channel]string{
	Call:     "call",
	SMS:      "sms",
	WhatsApp: "whatsapp",
	Email:    "email",
}

// Parse maps an action key to a Channel, case-insensitively.
func Parse(key string) Channel {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "call":
		return Call
	case "sms":
		return SMS
	case "whatsapp":
		return WhatsApp
	case "email":
		return Email
	default:
		return Unknown
	}
}

// String returns the canonical action key, or "unknown".
func (c Channel) String() string {
	if k, ok := channelKeys[c]; ok {
		return k
	}
	return "unknown"
}

// Known reports whether c is one of the supported channels.
func (c Channel) Known() bool {
	_, ok := channelKeys[c]
	return ok
}

// All returns the supported channels in display order.
func All() []Channel {
	return []Channel{Call, SMS, WhatsApp, Email}
}
