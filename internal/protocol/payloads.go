// ABOUTME: Payload structs for every event and command on the gateway wire
// ABOUTME: Field names follow the snake_case JSON used by both peers

package protocol

// Visitor state actions.
const (
	VisitorRegister = "register"
	VisitorUpdate   = "update"
	VisitorRelocate = "relocate"
	VisitorRemove   = "remove"
)

// Invite state actions.
const (
	InviteGrant  = "grant"
	InviteRevoke = "revoke"
	InviteClear  = "clear"
)

// Memory sync statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusAccepted = "accepted"
)

// DiscordMessage is a platform user message routed to the channel owner.
type DiscordMessage struct {
	EventID    string   `json:"event_id"`
	ChannelID  string   `json:"channel_id"`
	ChannelSeq int64    `json:"channel_seq,omitempty"`
	MessageID  string   `json:"message_id,omitempty"`
	AuthorID   string   `json:"author_id"`
	AuthorName string   `json:"author_name,omitempty"`
	Content    string   `json:"content"`
	Roles      []string `json:"roles,omitempty"`
}

// VisitorState announces a persona visiting through the gateway.
type VisitorState struct {
	EventID       string         `json:"event_id"`
	Action        string         `json:"action"`
	ChannelID     string         `json:"channel_id,omitempty"`
	ChannelSeq    int64          `json:"channel_seq,omitempty"`
	DiscordUserID string         `json:"discord_user_id"`
	PersonaID     string         `json:"persona_id,omitempty"`
	OwnerUserID   string         `json:"owner_user_id,omitempty"`
	CityID        string         `json:"city_id,omitempty"`
	BuildingID    string         `json:"building_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// InviteState mutates the invitation registry of a channel.
type InviteState struct {
	EventID    string `json:"event_id"`
	Action     string `json:"action"`
	ChannelID  string `json:"channel_id"`
	ChannelSeq int64  `json:"channel_seq,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// MemorySyncInitiate opens a chunked transfer.
type MemorySyncInitiate struct {
	EventID       string  `json:"event_id,omitempty"`
	TransferID    string  `json:"transfer_id"`
	DiscordUserID string  `json:"discord_user_id,omitempty"`
	PersonaID     string  `json:"persona_id,omitempty"`
	OwnerUserID   string  `json:"owner_user_id,omitempty"`
	TotalSize     FlexInt `json:"total_size"`
	TotalChunks   FlexInt `json:"total_chunks"`
	Checksum      string  `json:"checksum"`
	BuildingID    string  `json:"building_id,omitempty"`
	CityID        string  `json:"city_id,omitempty"`
	SourceUserID  string  `json:"source_user_id,omitempty"`
	TargetUserID  string  `json:"target_user_id,omitempty"`
}

// MemorySyncChunk carries one base64 slice of a transfer.
type MemorySyncChunk struct {
	EventID       string `json:"event_id,omitempty"`
	TransferID    string `json:"transfer_id"`
	Index         int    `json:"index"`
	Data          string `json:"data"`
	DiscordUserID string `json:"discord_user_id,omitempty"`
	PersonaID     string `json:"persona_id,omitempty"`
	SourceUserID  string `json:"source_user_id,omitempty"`
	TargetUserID  string `json:"target_user_id,omitempty"`
}

// MemorySyncComplete closes a transfer. Status and Reason are set on replies.
type MemorySyncComplete struct {
	EventID       string `json:"event_id,omitempty"`
	TransferID    string `json:"transfer_id"`
	Status        string `json:"status,omitempty"`
	Reason        string `json:"reason,omitempty"`
	DiscordUserID string `json:"discord_user_id,omitempty"`
	PersonaID     string `json:"persona_id,omitempty"`
	SourceUserID  string `json:"source_user_id,omitempty"`
	TargetUserID  string `json:"target_user_id,omitempty"`
}

// MemorySyncAck acknowledges an accepted initiate.
type MemorySyncAck struct {
	EventID      string `json:"event_id,omitempty"`
	TransferID   string `json:"transfer_id"`
	Status       string `json:"status"`
	SourceUserID string `json:"source_user_id,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`
}

// ResyncRequired tells the host it may have missed events.
type ResyncRequired struct {
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason"`
	Dropped int    `json:"dropped,omitempty"`
}

// StateSyncRequest asks the bot for its view of the backlog.
type StateSyncRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StateSyncAck reports the pending backlog size.
type StateSyncAck struct {
	Pending int `json:"pending"`
}

// Ack retires one or more delivered events.
type Ack struct {
	EventID    string   `json:"event_id,omitempty"`
	EventIDs   []string `json:"event_ids,omitempty"`
	ChannelID  string   `json:"channel_id,omitempty"`
	ChannelSeq *int64   `json:"channel_seq,omitempty"`
}

// IDs returns every event id carried by the ack.
func (a Ack) IDs() []string {
	ids := make([]string, 0, len(a.EventIDs)+1)
	for _, id := range a.EventIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if a.EventID != "" {
		ids = append(ids, a.EventID)
	}
	return ids
}

// PostMessage asks the bot to post into a bound channel.
type PostMessage struct {
	ChannelID  string `json:"channel_id"`
	Content    string `json:"content"`
	PersonaID  string `json:"persona_id,omitempty"`
	BuildingID string `json:"building_id,omitempty"`
	CityID     string `json:"city_id,omitempty"`
}

// PermissionDenied reports a refused message back to the channel.
type PermissionDenied struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
}
