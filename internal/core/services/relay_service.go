package services

import (
	"context"
	"encoding/json"
	"time"

	"signalhub/internal/core/domain"
	"signalhub/internal/core/ports"

	"go.uber.org/zap"
)

// RelayService routes signaling messages between participants of a room.
// Delivery is at-least-once and fire-and-forget: a target that cannot be
// reached is logged and skipped, the sender is never told.
type RelayService struct {
	rooms *RoomService
	stats *StatsService
	sink  ports.MessageSink
	bus   ports.FanoutBus // nil in single-instance mode

	logger *zap.SugaredLogger
}

func NewRelayService(rooms *RoomService, stats *StatsService, sink ports.MessageSink, bus ports.FanoutBus, logger *zap.SugaredLogger) *RelayService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RelayService{
		rooms:  rooms,
		stats:  stats,
		sink:   sink,
		bus:    bus,
		logger: logger,
	}
}

// Relay validates sender membership, routes the message to its local
// targets and hands it to the fan-out bus for sibling instances.
func (r *RelayService) Relay(ctx context.Context, from domain.ConnectionID, msg *domain.SignalingMessage) error {
	ok, err := r.rooms.IsParticipant(ctx, msg.RoomID, msg.FromUserID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotInRoom
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if msg.Type == domain.MessageStateChange {
		if err := r.applyStateChange(ctx, from, msg); err != nil {
			return err
		}
	} else {
		r.deliverLocal(ctx, msg)
	}

	r.publish(ctx, msg)
	return nil
}

// HandleFanout routes a message relayed by a sibling instance to targets
// hosted here. The sender already passed membership checks at its own
// instance, and stats were recorded there.
func (r *RelayService) HandleFanout(msg *domain.SignalingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if msg.Type == domain.MessageStateChange {
		payload, err := decodeStateChange(msg)
		if err != nil {
			r.logger.Warnw("dropping malformed fan-out state change", "room_id", msg.RoomID, "error", err)
			return
		}
		r.broadcastNotice(ctx, msg.RoomID, msg.FromUserID, payload.State)
		return
	}

	r.deliverLocal(ctx, msg)
}

// applyStateChange records the new connection state, then broadcasts an
// informational notice to the rest of the room. The raw payload is not
// forwarded to other participants.
func (r *RelayService) applyStateChange(ctx context.Context, from domain.ConnectionID, msg *domain.SignalingMessage) error {
	payload, err := decodeStateChange(msg)
	if err != nil {
		return err
	}
	if !payload.State.Valid() {
		return domain.ErrInvalidState
	}

	state := payload.State
	report := &domain.StatsReport{ConnectionState: &state}
	if err := r.stats.Update(ctx, from, msg.RoomID, msg.FromUserID, report); err != nil {
		return err
	}

	r.broadcastNotice(ctx, msg.RoomID, msg.FromUserID, state)
	return nil
}

func (r *RelayService) broadcastNotice(ctx context.Context, room domain.RoomID, user domain.UserID, state domain.ConnectionState) {
	conns, err := r.rooms.BroadcastConnections(ctx, room, user)
	if err != nil {
		r.logger.Debugw("state notice skipped", "room_id", room, "error", err)
		return
	}
	notice := domain.NewStateNotice(room, user, state)
	for _, conn := range conns {
		if err := r.sink.Send(conn, notice); err != nil {
			r.logger.Warnw("state notice delivery failed", "connection_id", conn, "error", err)
		}
	}
}

func (r *RelayService) deliverLocal(ctx context.Context, msg *domain.SignalingMessage) {
	var (
		conns []domain.ConnectionID
		err   error
	)
	if msg.Broadcast() {
		conns, err = r.rooms.BroadcastConnections(ctx, msg.RoomID, msg.FromUserID)
	} else {
		conns, err = r.rooms.TargetConnections(ctx, msg.RoomID, msg.ToUserID)
	}
	if err != nil {
		// The room may only exist on a sibling instance.
		r.logger.Debugw("no local targets for message",
			"type", msg.Type,
			"room_id", msg.RoomID,
			"error", err,
		)
		return
	}

	for _, conn := range conns {
		if err := r.sink.Send(conn, msg); err != nil {
			r.logger.Warnw("message delivery failed",
				"type", msg.Type,
				"room_id", msg.RoomID,
				"connection_id", conn,
				"error", err,
			)
		}
	}
}

func (r *RelayService) publish(ctx context.Context, msg *domain.SignalingMessage) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, msg); err != nil {
		r.logger.Warnw("fan-out publish failed", "type", msg.Type, "room_id", msg.RoomID, "error", err)
	}
}

func decodeStateChange(msg *domain.SignalingMessage) (*domain.StateChangePayload, error) {
	var payload domain.StateChangePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
