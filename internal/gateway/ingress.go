// ABOUTME: HTTP ingress for events produced by the platform integration
// ABOUTME: Accepts discord_message, visitor_state and invite_state envelopes and routes them

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/maha0525/SAIVerse-sub002/internal/auth"
	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
)

// ingressResponse is returned for accepted events.
type ingressResponse struct {
	EventID    string `json:"event_id"`
	ChannelSeq int64  `json:"channel_seq"`
	Delivered  bool   `json:"delivered"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleIngress routes one platform event envelope.
func (g *Gateway) handleIngress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.Server.MaxPayloadSize))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	ev, err := protocol.Decode(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed event")
		return
	}

	ctx := r.Context()
	var routed *Routed
	switch ev.Type {
	case protocol.TypeDiscordMessage:
		var msg protocol.DiscordMessage
		if err = ev.DecodePayload(&msg); err == nil {
			routed, err = g.router.RouteMessage(ctx, msg)
		}
	case protocol.TypeVisitorState:
		var st protocol.VisitorState
		if err = ev.DecodePayload(&st); err == nil {
			routed, err = g.router.RouteVisitorState(ctx, st)
		}
	case protocol.TypeInviteState:
		var st protocol.InviteState
		if err = ev.DecodePayload(&st); err == nil {
			routed, err = g.router.RouteInviteState(ctx, st)
		}
	default:
		writeJSONError(w, http.StatusBadRequest, "unsupported event type")
		return
	}

	switch {
	case errors.Is(err, ErrNoRoute):
		writeJSONError(w, http.StatusNotFound, "channel is not bound")
		return
	case errors.Is(err, ErrInvalidEvent):
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			writeJSONError(w, http.StatusBadRequest, "malformed payload")
			return
		}
		g.logger.Error("failed to route platform event", "type", ev.Type, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.logger.Debug("accepted platform event",
		"type", ev.Type,
		"source", auth.IngressSubject(ctx),
		"event_id", routed.EventID,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(ingressResponse{
		EventID:    routed.EventID,
		ChannelSeq: routed.ChannelSeq,
		Delivered:  routed.Delivered,
	})
}
