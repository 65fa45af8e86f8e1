package ports

import (
	"context"

	"signalhub/internal/core/domain"
)

// SnapshotStore persists room snapshots with a TTL for crash recovery.
// All writes are best-effort: the in-memory state is authoritative.
type SnapshotStore interface {
	Save(ctx context.Context, room *domain.Room) error
	Delete(ctx context.Context, id domain.RoomID) error
	LoadAll(ctx context.Context) ([]*domain.Room, error)
	Ping(ctx context.Context) error
}

// FanoutBus spreads signaling messages to sibling server processes.
type FanoutBus interface {
	Publish(ctx context.Context, msg *domain.SignalingMessage) error
	// Subscribe blocks until ctx is cancelled, invoking handler for every
	// message published by a sibling instance (own messages are skipped).
	Subscribe(ctx context.Context, handler func(*domain.SignalingMessage)) error
	Close() error
}
