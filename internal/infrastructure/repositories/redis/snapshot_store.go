package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"signalhub/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const roomKeyPrefix = "signalhub:room:"

// SnapshotStore persists room snapshots in redis with a TTL. Snapshots
// are a recovery aid only; the in-memory store stays authoritative.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// roomSnapshot carries the password out of band (domain.Room never
// serializes it on API surfaces) and flattens participants to an
// ordered list of (userId, participant) entries instead of the room's
// map, which would lose join order on the wire.
type roomSnapshot struct {
	Room         *domain.Room       `json:"room"`
	Participants []participantEntry `json:"participants"`
	Password     string             `json:"password,omitempty"`
	SavedAt      time.Time          `json:"savedAt"`
}

type participantEntry struct {
	UserID      domain.UserID       `json:"userId"`
	Participant *domain.Participant `json:"participant"`
}

// flattenParticipants orders the room's participant map by join time,
// falling back to userId for same-instant joins.
func flattenParticipants(participants map[domain.UserID]*domain.Participant) []participantEntry {
	entries := make([]participantEntry, 0, len(participants))
	for id, p := range participants {
		entries = append(entries, participantEntry{UserID: id, Participant: p})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Participant, entries[j].Participant
		if a.JoinedAt.Equal(b.JoinedAt) {
			return entries[i].UserID < entries[j].UserID
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
	return entries
}

func unflattenParticipants(entries []participantEntry) map[domain.UserID]*domain.Participant {
	participants := make(map[domain.UserID]*domain.Participant, len(entries))
	for _, e := range entries {
		if e.Participant == nil {
			continue
		}
		participants[e.UserID] = e.Participant
	}
	return participants
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *SnapshotStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SnapshotStore{client: client, ttl: ttl, logger: logger}
}

func (s *SnapshotStore) Save(ctx context.Context, room *domain.Room) error {
	shell := *room
	shell.Participants = nil
	snapshot := roomSnapshot{
		Room:         &shell,
		Participants: flattenParticipants(room.Participants),
		Password:     room.Password,
		SavedAt:      time.Now(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal room snapshot: %w", err)
	}

	if err := s.client.Set(ctx, roomKey(room.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store room snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Delete(ctx context.Context, id domain.RoomID) error {
	if err := s.client.Del(ctx, roomKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete room snapshot: %w", err)
	}
	return nil
}

// LoadAll scans every persisted room snapshot. Entries that fail to
// decode are skipped with a warning so one corrupt key cannot block
// recovery of the rest.
func (s *SnapshotStore) LoadAll(ctx context.Context) ([]*domain.Room, error) {
	var rooms []*domain.Room

	iter := s.client.Scan(ctx, 0, roomKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read room snapshot %s: %w", key, err)
		}

		var snapshot roomSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			s.logger.Warnw("skipping corrupt room snapshot", "key", key, "error", err)
			continue
		}
		if snapshot.Room == nil {
			s.logger.Warnw("skipping empty room snapshot", "key", key)
			continue
		}

		snapshot.Room.Password = snapshot.Password
		snapshot.Room.Participants = unflattenParticipants(snapshot.Participants)
		rooms = append(rooms, snapshot.Room)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan room snapshots: %w", err)
	}

	return rooms, nil
}

func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func roomKey(id domain.RoomID) string {
	return roomKeyPrefix + string(id)
}
