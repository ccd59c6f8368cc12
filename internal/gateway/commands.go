// ABOUTME: CommandProcessor handles commands sent by authenticated hosts
// ABOUTME: Posts messages into owned channels and relays memory transfers between hosts

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/maha0525/SAIVerse-sub002/internal/platform"
	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Command rejection errors
var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrNotChannelHost = errors.New("session is not the channel host")
	ErrEmptyContent   = errors.New("content empty after sanitizing")
)

// defaultDeniedNotice is posted when a host refuses a user without a reason.
const defaultDeniedNotice = "you do not have permission to talk here"

// CommandProcessor validates and executes host commands.
type CommandProcessor struct {
	bindings   BindingStore
	sender     platform.Sender
	relay      Relay
	maxMessage int
	logger     *slog.Logger
}

// NewCommandProcessor creates a processor. maxMessage is the rune limit for posted content.
func NewCommandProcessor(bindings BindingStore, sender platform.Sender, relay Relay, maxMessage int, logger *slog.Logger) *CommandProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandProcessor{
		bindings:   bindings,
		sender:     sender,
		relay:      relay,
		maxMessage: maxMessage,
		logger:     logger.With("component", "commands"),
	}
}

// Process executes one command on behalf of identity. A returned error means
// the command was rejected; the connection stays open.
func (p *CommandProcessor) Process(ctx context.Context, identity string, ev protocol.Event) error {
	switch ev.Type {
	case protocol.TypePostMessage:
		var cmd protocol.PostMessage
		if err := ev.DecodePayload(&cmd); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		return p.postMessage(ctx, identity, cmd)

	case protocol.TypePermissionDenied:
		var cmd protocol.PermissionDenied
		if err := ev.DecodePayload(&cmd); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		return p.permissionDenied(ctx, identity, cmd)

	case protocol.TypeMemorySyncInitiate, protocol.TypeMemorySyncChunk,
		protocol.TypeMemorySyncComplete, protocol.TypeMemorySyncAck:
		return p.relayMemorySync(identity, ev)

	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidCommand, ev.Type)
	}
}

func (p *CommandProcessor) postMessage(ctx context.Context, identity string, cmd protocol.PostMessage) error {
	if cmd.ChannelID == "" {
		return fmt.Errorf("%w: channel_id is required", ErrInvalidCommand)
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidCommand)
	}
	if err := p.checkHost(ctx, identity, cmd.ChannelID); err != nil {
		return err
	}

	content := SanitizeContent(cmd.Content, p.maxMessage)
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	if err := p.sender.SendMessage(ctx, cmd.ChannelID, content); err != nil {
		return fmt.Errorf("posting message: %w", err)
	}

	p.logger.Debug("posted message",
		"channel_id", cmd.ChannelID,
		"persona_id", cmd.PersonaID,
		"length", utf8.RuneCountInString(content),
	)
	return nil
}

func (p *CommandProcessor) permissionDenied(ctx context.Context, identity string, cmd protocol.PermissionDenied) error {
	if cmd.ChannelID == "" || cmd.UserID == "" {
		return fmt.Errorf("%w: channel_id and user_id are required", ErrInvalidCommand)
	}
	if err := p.checkHost(ctx, identity, cmd.ChannelID); err != nil {
		return err
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = defaultDeniedNotice
	}
	notice := SanitizeContent(fmt.Sprintf("<@%s> %s", cmd.UserID, reason), p.maxMessage)

	if err := p.sender.SendMessage(ctx, cmd.ChannelID, notice); err != nil {
		return fmt.Errorf("posting permission notice: %w", err)
	}
	return nil
}

// relayMemorySync forwards a memory transfer frame to target_user_id with
// source_user_id set to the sending identity.
func (p *CommandProcessor) relayMemorySync(identity string, ev protocol.Event) error {
	payload := make(map[string]any)
	if err := ev.DecodePayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	target, _ := payload["target_user_id"].(string)
	if target == "" {
		return fmt.Errorf("%w: target_user_id is required", ErrInvalidCommand)
	}
	if transferID, _ := payload["transfer_id"].(string); transferID == "" {
		return fmt.Errorf("%w: transfer_id is required", ErrInvalidCommand)
	}
	payload["source_user_id"] = identity

	delivered, err := p.relay.SendToOwner(target, ev.Type, payload)
	if err != nil {
		return fmt.Errorf("relaying %s: %w", ev.Type, err)
	}

	p.logger.Debug("relayed memory sync frame",
		"type", ev.Type,
		"source_user_id", identity,
		"target_user_id", target,
		"delivered", delivered,
	)
	return nil
}

// checkHost verifies the channel is bound to identity.
func (p *CommandProcessor) checkHost(ctx context.Context, identity, channelID string) error {
	binding, err := p.bindings.GetBinding(ctx, channelID)
	if errors.Is(err, store.ErrBindingNotFound) {
		return ErrNoRoute
	}
	if err != nil {
		return fmt.Errorf("lookup binding: %w", err)
	}
	if binding.HostUserID != identity {
		return ErrNotChannelHost
	}
	return nil
}

// SanitizeContent strips NUL characters and truncates to maxRunes runes.
// A non-positive maxRunes disables truncation.
func SanitizeContent(content string, maxRunes int) string {
	content = strings.ReplaceAll(content, "\x00", "")
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
	}
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		runes := []rune(content)
		content = string(runes[:maxRunes])
	}
	return content
}
