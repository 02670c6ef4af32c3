package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/weiawesome/wes-io-live/internal/config"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/metrics"
	"github.com/weiawesome/wes-io-live/internal/service"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

var errUnknownEvent = domain.BadRequest("unknown message type")

// WSHandler upgrades connections and routes their frames to the engine.
type WSHandler struct {
	hub      *hub.Hub
	engine   service.Engine
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, eng service.Engine, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:    h,
		engine: eng,
		wsCfg:  wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

// originChecker allows requests without an Origin header, and any origin
// when the list is empty or holds "*".
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldClientIP, r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)
	h.hub.Register(client)
	metrics.ConnectionsActive.Set(float64(h.hub.Count()))
	client.Logger.Debug().Str(log.FieldClientIP, r.RemoteAddr).Msg("connection opened")

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		ctx := log.WithLogger(context.Background(), eventLogger(client, "disconnect"))
		if err := h.engine.HandleDisconnect(ctx, client); err != nil {
			client.Logger.Error().Err(err).Msg("disconnect cleanup failed")
		}
	}()
}

// eventLogger scopes a logger to one inbound event. The user is read from the
// session per event since it changes once the connection authenticates.
func eventLogger(c *hub.Client, eventType string) zerolog.Logger {
	lc := c.Logger.With().Str(log.FieldEvent, eventType)
	if userID := c.Session.GetUserID(); userID != "" {
		lc = lc.Str(log.FieldUserID, userID)
	}
	return lc.Logger()
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	eventType := gjson.GetBytes(message, "type").String()
	if eventType == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid message format", ""))
		metrics.EventsTotal.WithLabelValues("invalid", domain.ErrCodeBadRequest).Inc()
		return
	}
	client.Session.UpdateActivity()

	ctx := log.WithLogger(context.Background(), eventLogger(client, eventType))
	err := h.dispatch(ctx, client, eventType, message)
	h.report(ctx, client, eventType, err)
}

func (h *WSHandler) dispatch(ctx context.Context, c *hub.Client, eventType string, message []byte) error {
	switch eventType {
	case domain.MsgTypeAuthenticate:
		msg, err := decode[domain.AuthenticateMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleAuthenticate(ctx, c, msg)

	case domain.MsgTypePresenceUpdate:
		msg, err := decode[domain.PresenceUpdateMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandlePresenceUpdate(ctx, c, msg)

	case domain.MsgTypeJoinRoom:
		msg, err := decode[domain.JoinRoomMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleJoinGroup(ctx, c, msg.RoomID.String())

	case domain.MsgTypeJoinTodoChat:
		msg, err := decode[domain.JoinTodoChatMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleJoinResource(ctx, c, msg.TodoID.String(), msg.GroupID.String())

	case domain.MsgTypeLeaveTodoChat:
		msg, err := decode[domain.LeaveTodoChatMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleLeaveResource(ctx, c, msg.TodoID.String())

	case domain.MsgTypeSendMessage, domain.MsgTypeChatMessage, domain.MsgTypeTodoMessage:
		msg, err := decode[domain.SendMessageRequest](message, eventType)
		if err != nil {
			return err
		}
		kind := domain.RoomResource
		if eventType == domain.MsgTypeSendMessage {
			kind = domain.RoomGroup
		}
		return h.engine.HandleSendMessage(ctx, c, kind, msg)

	case domain.MsgTypeTypingStart, domain.MsgTypeTypingStop, domain.MsgTypeTodoTyping, domain.MsgTypeTodoStopTyping:
		msg, err := decode[domain.TypingMessage](message, eventType)
		if err != nil {
			return err
		}
		room := domain.GroupRoom(msg.RoomID.String())
		if msg.TodoID != "" || eventType == domain.MsgTypeTodoTyping || eventType == domain.MsgTypeTodoStopTyping {
			room = domain.ResourceRoom(msg.TodoID.String())
		}
		typing := eventType == domain.MsgTypeTypingStart || eventType == domain.MsgTypeTodoTyping
		return h.engine.HandleTyping(ctx, c, room, typing)

	case domain.MsgTypeAddReaction, domain.MsgTypeRemoveReaction:
		msg, err := decode[domain.ReactionMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleReaction(ctx, c, msg, eventType == domain.MsgTypeAddReaction)

	case domain.MsgTypeMarkRead:
		msg, err := decode[domain.MarkReadMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleMarkRead(ctx, c, msg)

	case domain.MsgTypeEditMessage:
		msg, err := decode[domain.EditMessageRequest](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleEditMessage(ctx, c, msg)

	case domain.MsgTypeDeleteMessage:
		msg, err := decode[domain.DeleteMessageRequest](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleDeleteMessage(ctx, c, msg)

	case domain.MsgTypeCallOffer:
		msg, err := decode[domain.CallOfferMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleCallOffer(ctx, c, msg)

	case domain.MsgTypeCallAnswer:
		msg, err := decode[domain.CallAnswerMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleCallAnswer(ctx, c, msg)

	case domain.MsgTypeCallICECandidate:
		msg, err := decode[domain.CallICECandidateMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleCallICECandidate(ctx, c, msg)

	case domain.MsgTypeCallEnd:
		msg, err := decode[domain.CallEndMessage](message, eventType)
		if err != nil {
			return err
		}
		return h.engine.HandleCallEnd(ctx, c, msg)

	case domain.MsgTypePing:
		return c.SendMessage(&domain.BaseMessage{Type: domain.MsgTypePong})

	default:
		return errUnknownEvent
	}
}

func decode[T any](message []byte, eventType string) (*T, error) {
	var msg T
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, domain.BadRequest("invalid %s message", eventType)
	}
	return &msg, nil
}

// report delivers the outcome of an event to its connection. Suppressed
// duplicates are silent; authentication failures close the connection.
func (h *WSHandler) report(ctx context.Context, c *hub.Client, eventType string, err error) {
	label := eventType
	if errors.Is(err, errUnknownEvent) {
		label = "unknown"
	}
	switch {
	case err == nil:
		metrics.EventsTotal.WithLabelValues(label, "ok").Inc()
		return
	case errors.Is(err, domain.ErrDuplicate):
		metrics.EventsTotal.WithLabelValues(label, "duplicate").Inc()
		return
	}

	e := domain.AsError(err)
	metrics.EventsTotal.WithLabelValues(label, e.Code).Inc()
	l := log.Ctx(ctx)
	if e.Err != nil {
		l.Error().Err(e.Err).Str("code", e.Code).Msg(e.Message)
	} else {
		l.Debug().Str("code", e.Code).Msg(e.Message)
	}

	if e.Fatal() {
		c.SendMessage(&domain.AuthErrorMessage{Type: domain.MsgTypeAuthError, Message: e.Message})
		c.Close()
		return
	}
	c.SendMessage(domain.NewErrorMessage(e.Code, e.Message, eventType))
}
