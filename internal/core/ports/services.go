package ports

import (
	"context"

	"signalhub/internal/core/domain"
)

// MessageSink delivers payloads to locally-connected transports.
// Delivery is fire-and-forget; a send error means the target was
// unreachable and is logged by the caller, never propagated.
type MessageSink interface {
	Send(id domain.ConnectionID, payload interface{}) error
	Connected(id domain.ConnectionID) bool
}

// RoomService is the authoritative room/participant store.
type RoomService interface {
	CreateRoom(ctx context.Context, spec domain.RoomSpec, creator domain.UserID) (*domain.Room, error)
	ListRooms(ctx context.Context, filter domain.RoomFilter, page, pageSize int) (*domain.RoomPage, error)
	GetRoom(ctx context.Context, id domain.RoomID) (domain.RoomSummary, error)
	JoinRoom(ctx context.Context, id domain.RoomID, req domain.JoinRequest) (domain.ConnectionID, error)
	LeaveRoom(ctx context.Context, id domain.RoomID, user domain.UserID) error
	DeleteRoom(ctx context.Context, id domain.RoomID, requester domain.UserID) error
}

// StatsService aggregates per-connection quality metrics.
type StatsService interface {
	Update(ctx context.Context, conn domain.ConnectionID, room domain.RoomID, user domain.UserID, report *domain.StatsReport) error
	RoomSummary(ctx context.Context, room domain.RoomID) (*domain.RoomStatsSummary, error)
	UserSummary(ctx context.Context, user domain.UserID) *domain.UserStatsSummary
}

// RelayService routes signaling messages between participants.
type RelayService interface {
	Relay(ctx context.Context, from domain.ConnectionID, msg *domain.SignalingMessage) error
}
