package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"signalhub/internal/core/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const handleTimeout = 5 * time.Second

// inbound is the client-to-server frame. Data stays opaque for
// signaling payloads.
type inbound struct {
	Type       string                 `json:"type"`
	Token      string                 `json:"token,omitempty"`
	RoomID     domain.RoomID          `json:"roomId,omitempty"`
	ToUserID   domain.UserID          `json:"toUserId,omitempty"`
	Password   string                 `json:"password,omitempty"`
	Role       domain.ParticipantRole `json:"role,omitempty"`
	DeviceInfo string                 `json:"deviceInfo,omitempty"`
	Data       json.RawMessage        `json:"data,omitempty"`
}

type client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	authed    bool
	userID    domain.UserID
	username  string
	userAgent string

	// connID and roomID are set by a successful join and only touched
	// from the read pump.
	connID domain.ConnectionID
	roomID domain.RoomID
	role   domain.ParticipantRole

	limiter *rate.Limiter
}

func (c *client) readPump() {
	defer c.disconnect()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warnw("websocket read failed", "user_id", c.userID, "error", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError("rate limit exceeded")
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) dispatch(msg *inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if msg.Type == "authenticate" {
		c.handleAuthenticate(msg)
		return
	}
	if !c.authed {
		c.sendError(domain.ErrNotAuthenticated.Error())
		return
	}

	switch msg.Type {
	case "join-room":
		c.handleJoin(ctx, msg)
	case "leave-room":
		c.handleLeave(ctx)
	case string(domain.MessageOffer), string(domain.MessageAnswer), string(domain.MessageICECandidate):
		c.handleSignal(ctx, domain.MessageType(msg.Type), msg)
	case string(domain.MessageStateChange):
		c.handleSignal(ctx, domain.MessageStateChange, msg)
	case "stats-update":
		c.handleStatsUpdate(ctx, msg)
	default:
		c.server.logger.Debugw("unknown message type", "type", msg.Type, "user_id", c.userID)
		c.sendError(domain.ErrUnknownMessage.Error())
	}
}

func (c *client) handleAuthenticate(msg *inbound) {
	claims, err := c.server.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendEvent(map[string]interface{}{
			"type":  "authenticated",
			"ok":    false,
			"error": "invalid or expired token",
		})
		return
	}

	c.authed = true
	c.userID = domain.UserID(claims.UserID)
	c.username = claims.Username

	c.sendEvent(map[string]interface{}{
		"type":   "authenticated",
		"ok":     true,
		"userId": c.userID,
	})
	c.server.logger.Infow("websocket session authenticated", "user_id", c.userID)
}

func (c *client) handleJoin(ctx context.Context, msg *inbound) {
	if c.roomID != "" {
		c.sendError("already in a room")
		return
	}

	role := msg.Role
	if role == "" {
		role = domain.RoleViewer
	}

	start := time.Now()
	connID, err := c.server.rooms.JoinRoom(ctx, msg.RoomID, domain.JoinRequest{
		UserID:     c.userID,
		Username:   c.username,
		Role:       role,
		Password:   msg.Password,
		DeviceInfo: msg.DeviceInfo,
		UserAgent:  c.userAgent,
	})
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if m := c.server.metrics; m != nil {
		m.JoinDuration.Observe(time.Since(start).Seconds())
	}

	c.connID = connID
	c.roomID = msg.RoomID
	c.role = role
	c.server.register(connID, c)

	c.sendEvent(map[string]interface{}{
		"type":         "room-joined",
		"roomId":       msg.RoomID,
		"connectionId": connID,
		"role":         role,
	})
	c.notifyRoom(ctx, map[string]interface{}{
		"type":         "user-joined",
		"roomId":       msg.RoomID,
		"userId":       c.userID,
		"username":     c.username,
		"role":         role,
		"connectionId": connID,
	})
}

func (c *client) handleLeave(ctx context.Context) {
	if c.roomID == "" {
		c.sendError(domain.ErrNotInRoom.Error())
		return
	}

	roomID := c.roomID

	// Membership first. A leave that loses the race against a delete or
	// an out-of-band removal must not broadcast a notice for it.
	err := c.server.rooms.LeaveRoom(ctx, roomID, c.userID)
	switch {
	case err == nil:
		c.notifyRoom(ctx, map[string]interface{}{
			"type":     "user-left",
			"roomId":   roomID,
			"userId":   c.userID,
			"username": c.username,
		})
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrNotAParticipant):
		c.server.logger.Debugw("membership already gone on leave", "room_id", roomID, "user_id", c.userID, "error", err)
	default:
		c.sendError(err.Error())
		return
	}

	c.server.unregister(c.connID)
	c.connID = ""
	c.roomID = ""

	c.sendEvent(map[string]interface{}{"type": "room-left", "roomId": roomID})
}

func (c *client) handleSignal(ctx context.Context, msgType domain.MessageType, msg *inbound) {
	if c.roomID == "" {
		c.sendError(domain.ErrNotInRoom.Error())
		return
	}

	err := c.server.relay.Relay(ctx, c.connID, &domain.SignalingMessage{
		Type:       msgType,
		RoomID:     c.roomID,
		FromUserID: c.userID,
		ToUserID:   msg.ToUserID,
		Data:       msg.Data,
		Timestamp:  time.Now(),
	})
	if m := c.server.metrics; m != nil {
		if err != nil {
			m.RelayErrors.WithLabelValues(relayErrorReason(err)).Inc()
		} else {
			m.MessagesRelayed.WithLabelValues(string(msgType)).Inc()
		}
	}
	if err != nil {
		c.sendError(err.Error())
	}
}

func (c *client) handleStatsUpdate(ctx context.Context, msg *inbound) {
	if c.roomID == "" {
		c.sendError(domain.ErrNotInRoom.Error())
		return
	}

	var report domain.StatsReport
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		c.sendError("malformed stats report")
		return
	}

	if err := c.server.stats.Update(ctx, c.connID, c.roomID, c.userID, &report); err != nil {
		c.sendError(err.Error())
	}
}

// notifyRoom fan-outs a membership notice to the other local
// participants. Best-effort, same rules as relayed messages.
func (c *client) notifyRoom(ctx context.Context, payload map[string]interface{}) {
	conns, err := c.server.rooms.BroadcastConnections(ctx, c.roomID, c.userID)
	if err != nil {
		return
	}
	if m := c.server.metrics; m != nil {
		m.BroadcastTarget.Observe(float64(len(conns)))
	}
	for _, conn := range conns {
		if err := c.server.Send(conn, payload); err != nil {
			c.server.logger.Debugw("membership notice dropped", "connection_id", conn, "error", err)
		}
	}
}

// disconnect tears the session down: membership first, then the
// registry, so no relay target survives a dead socket.
func (c *client) disconnect() {
	if c.roomID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		err := c.server.rooms.LeaveRoom(ctx, c.roomID, c.userID)
		switch {
		case err == nil:
			c.notifyRoom(ctx, map[string]interface{}{
				"type":     "user-left",
				"roomId":   c.roomID,
				"userId":   c.userID,
				"username": c.username,
			})
		case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrNotAParticipant):
		default:
			c.server.logger.Warnw("leave on disconnect failed", "room_id", c.roomID, "user_id", c.userID, "error", err)
		}
		cancel()
	}
	if c.connID != "" {
		c.server.unregister(c.connID)
	}

	_ = c.conn.Close()
	if m := c.server.metrics; m != nil {
		m.WebSocketSessions.Dec()
	}
	c.server.logger.Infow("websocket session closed", "user_id", c.userID)
}

func (c *client) sendEvent(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.logger.Warnw("send buffer full, dropping event", "user_id", c.userID)
	}
}

func (c *client) sendError(message string) {
	c.sendEvent(map[string]interface{}{"type": "error", "error": message})
}

func relayErrorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	default:
		return "internal"
	}
}
