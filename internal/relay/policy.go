package relay

import "fmt"

// BroadcasterPolicy decides what a teacher join does when another broadcaster
// already holds the room.
type BroadcasterPolicy string

const (
	// Displace overwrites the current broadcaster without telling it.
	Displace BroadcasterPolicy = "displace"
	// Notify overwrites the current broadcaster and sends it teacher_replaced.
	Notify BroadcasterPolicy = "notify"
	// Reject ignores the second join while a different broadcaster is present.
	Reject BroadcasterPolicy = "reject"
)

// ChatPolicy decides who may post into a room.
type ChatPolicy string

const (
	// Open lets any connection post into any room.
	Open ChatPolicy = "open"
	// MembersOnly drops messages from connections that are neither the
	// broadcaster nor a viewer of the room.
	MembersOnly ChatPolicy = "members_only"
)

// ParseBroadcasterPolicy parses a configured policy name. Empty means Displace.
func ParseBroadcasterPolicy(s string) (BroadcasterPolicy, error) {
	switch p := BroadcasterPolicy(s); p {
	case "":
		return Displace, nil
	case Displace, Notify, Reject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown broadcaster policy %q", s)
	}
}

// ParseChatPolicy parses a configured policy name. Empty means Open.
func ParseChatPolicy(s string) (ChatPolicy, error) {
	switch p := ChatPolicy(s); p {
	case "":
		return Open, nil
	case Open, MembersOnly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown chat policy %q", s)
	}
}
