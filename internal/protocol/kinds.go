// ABOUTME: Closed enumeration of inbound event kinds handled by the host orchestrator
// ABOUTME: New kinds must be added here and to every exhaustive switch over EventKind

package protocol

// EventKind classifies an inbound event for dispatch.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindDiscordMessage
	KindVisitorState
	KindInviteState
	KindMemorySyncInitiate
	KindMemorySyncChunk
	KindMemorySyncComplete
	KindMemorySyncAck
	KindResyncRequired
	KindStateSyncAck
	KindHeartbeatAck
)

// KindOf maps a wire type to its event kind.
func KindOf(t MessageType) EventKind {
	switch t {
	case TypeDiscordMessage:
		return KindDiscordMessage
	case TypeVisitorState:
		return KindVisitorState
	case TypeInviteState:
		return KindInviteState
	case TypeMemorySyncInitiate:
		return KindMemorySyncInitiate
	case TypeMemorySyncChunk:
		return KindMemorySyncChunk
	case TypeMemorySyncComplete:
		return KindMemorySyncComplete
	case TypeMemorySyncAck:
		return KindMemorySyncAck
	case TypeResyncRequired:
		return KindResyncRequired
	case TypeStateSyncAck:
		return KindStateSyncAck
	case TypeHeartbeatAck:
		return KindHeartbeatAck
	default:
		return KindUnknown
	}
}

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case KindDiscordMessage:
		return string(TypeDiscordMessage)
	case KindVisitorState:
		return string(TypeVisitorState)
	case KindInviteState:
		return string(TypeInviteState)
	case KindMemorySyncInitiate:
		return string(TypeMemorySyncInitiate)
	case KindMemorySyncChunk:
		return string(TypeMemorySyncChunk)
	case KindMemorySyncComplete:
		return string(TypeMemorySyncComplete)
	case KindMemorySyncAck:
		return string(TypeMemorySyncAck)
	case KindResyncRequired:
		return string(TypeResyncRequired)
	case KindStateSyncAck:
		return string(TypeStateSyncAck)
	case KindHeartbeatAck:
		return string(TypeHeartbeatAck)
	default:
		return "unknown"
	}
}

// IsHostCommand reports whether t is a command a connected host may send to the bot.
func IsHostCommand(t MessageType) bool {
	switch t {
	case TypeHeartbeat, TypeAck, TypeStateSyncRequest, TypePostMessage, TypePermissionDenied,
		TypeMemorySyncInitiate, TypeMemorySyncChunk, TypeMemorySyncComplete, TypeMemorySyncAck:
		return true
	default:
		return false
	}
}
