package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"signalhub/internal/core/domain"
	"signalhub/internal/core/ports"
	"signalhub/pkg/circuitbreaker"
	"signalhub/pkg/retry"
	"signalhub/pkg/utils"
	"signalhub/pkg/validation"

	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// roomEntry pairs a room with its serialization lock. The 1-buffered
// channel gives bounded-wait acquisition, which a sync.Mutex cannot.
type roomEntry struct {
	room    *domain.Room
	lock    chan struct{}
	deleted bool
}

// RoomServiceOptions configures the store.
type RoomServiceOptions struct {
	Snapshots              ports.SnapshotStore // nil runs without persistence
	DefaultMaxParticipants int
	MaxParticipantsLimit   int
	LockTimeout            time.Duration
	Logger                 *zap.SugaredLogger
}

// RoomService is the authoritative in-memory room/participant store.
// All mutations to one room are serialized by that room's lock;
// different rooms proceed independently. The user→connections index has
// its own lock, always acquired after a room lock, never before.
type RoomService struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry

	index *connectionIndex

	snapshots ports.SnapshotStore
	breaker   *circuitbreaker.CircuitBreaker
	retryCfg  retry.Config

	defaultMax  int
	maxLimit    int
	lockTimeout time.Duration

	onLeave func(domain.ConnectionID)

	logger *zap.SugaredLogger
}

func NewRoomService(opts RoomServiceOptions) *RoomService {
	if opts.DefaultMaxParticipants <= 0 {
		opts.DefaultMaxParticipants = 10
	}
	if opts.MaxParticipantsLimit <= 0 {
		opts.MaxParticipantsLimit = 100
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &RoomService{
		rooms:       make(map[domain.RoomID]*roomEntry),
		index:       newConnectionIndex(),
		snapshots:   opts.Snapshots,
		breaker:     circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retryCfg:    retry.DefaultConfig(),
		defaultMax:  opts.DefaultMaxParticipants,
		maxLimit:    opts.MaxParticipantsLimit,
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger,
	}
}

// SetOnLeave registers a hook invoked for every removed participant's
// connection, so dependent state (connection stats) is torn down with it.
func (s *RoomService) SetOnLeave(fn func(domain.ConnectionID)) {
	s.onLeave = fn
}

// Breaker exposes the snapshot-store circuit breaker for health reporting.
func (s *RoomService) Breaker() *circuitbreaker.CircuitBreaker {
	return s.breaker
}

func (s *RoomService) CreateRoom(ctx context.Context, spec domain.RoomSpec, creator domain.UserID) (*domain.Room, error) {
	if err := validation.ValidateRoomSpec(spec); err != nil {
		return nil, err
	}

	maxParticipants := spec.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = s.defaultMax
	}
	if maxParticipants < 1 {
		maxParticipants = 1
	}
	if maxParticipants > s.maxLimit {
		maxParticipants = s.maxLimit
	}

	password := spec.Password
	if !spec.IsPrivate {
		password = ""
	}

	now := time.Now()
	room := &domain.Room{
		ID:              domain.RoomID(utils.GenerateRoomID()),
		Name:            strings.TrimSpace(spec.Name),
		Description:     spec.Description,
		Status:          domain.RoomWaiting,
		CreatorID:       creator,
		CreatedAt:       now,
		UpdatedAt:       now,
		MaxParticipants: maxParticipants,
		IsPrivate:       spec.IsPrivate,
		Password:        password,
		Tags:            append([]string(nil), spec.Tags...),
		Participants:    make(map[domain.UserID]*domain.Participant),
	}

	s.mu.Lock()
	s.rooms[room.ID] = &roomEntry{room: room, lock: make(chan struct{}, 1)}
	s.mu.Unlock()

	s.persistAsync(room.Clone())
	s.logger.Infow("room created", "room_id", room.ID, "creator_id", creator, "max_participants", maxParticipants)

	return room.Clone(), nil
}

func (s *RoomService) ListRooms(ctx context.Context, filter domain.RoomFilter, page, pageSize int) (*domain.RoomPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	s.mu.RLock()
	entries := make([]*roomEntry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var summaries []domain.RoomSummary
	for _, e := range entries {
		if err := s.acquire(ctx, e); err != nil {
			// A listing is an advisory snapshot; a room busy past the
			// lock timeout is skipped rather than stalling the caller.
			s.logger.Debugw("skipping busy room during list", "error", err)
			continue
		}
		if !e.deleted && filter.Matches(e.room) {
			summaries = append(summaries, e.room.Summary())
		}
		s.release(e)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	total := len(summaries)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return &domain.RoomPage{
		Rooms:    summaries[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasNext:  end < total,
		HasPrev:  page > 1,
	}, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id domain.RoomID) (domain.RoomSummary, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	if err := s.acquire(ctx, e); err != nil {
		return domain.RoomSummary{}, err
	}
	defer s.release(e)

	if e.deleted {
		return domain.RoomSummary{}, domain.ErrRoomNotFound
	}
	return e.room.Summary(), nil
}

func (s *RoomService) JoinRoom(ctx context.Context, id domain.RoomID, req domain.JoinRequest) (domain.ConnectionID, error) {
	if err := validation.ValidateJoinRequest(req); err != nil {
		return "", err
	}

	e, err := s.entry(id)
	if err != nil {
		return "", err
	}
	if err := s.acquire(ctx, e); err != nil {
		return "", err
	}
	defer s.release(e)

	room := e.room
	switch {
	case e.deleted:
		return "", domain.ErrRoomNotFound
	case room.Status == domain.RoomEnded:
		return "", domain.ErrRoomEnded
	case room.IsPrivate && room.Password != req.Password:
		return "", domain.ErrInvalidPassword
	}
	if _, joined := room.Participants[req.UserID]; joined {
		return "", domain.ErrAlreadyJoined
	}
	if room.CurrentParticipants() >= room.MaxParticipants {
		return "", domain.ErrRoomFull
	}

	now := time.Now()
	p := &domain.Participant{
		UserID:          req.UserID,
		Username:        req.Username,
		Role:            req.Role,
		ConnectionID:    domain.ConnectionID(utils.GenerateConnectionID()),
		ConnectionState: domain.ConnNew,
		JoinedAt:        now,
		LastActiveAt:    now,
		DeviceInfo:      req.DeviceInfo,
		UserAgent:       req.UserAgent,
	}

	room.Participants[req.UserID] = p
	if room.Status == domain.RoomWaiting {
		room.Status = domain.RoomActive
	}
	room.UpdatedAt = now

	// Fixed lock order: room lock first, index lock second.
	s.index.add(req.UserID, p.ConnectionID, id)

	s.persistAsync(room.Clone())
	s.logger.Infow("participant joined",
		"room_id", id,
		"user_id", req.UserID,
		"role", req.Role,
		"connection_id", p.ConnectionID,
		"participants", room.CurrentParticipants(),
	)

	return p.ConnectionID, nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, id domain.RoomID, user domain.UserID) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if err := s.acquire(ctx, e); err != nil {
		return err
	}
	defer s.release(e)

	if e.deleted {
		return domain.ErrRoomNotFound
	}
	if _, ok := e.room.Participants[user]; !ok {
		return domain.ErrNotAParticipant
	}

	s.removeParticipantLocked(e.room, user)
	s.persistAsync(e.room.Clone())
	return nil
}

func (s *RoomService) DeleteRoom(ctx context.Context, id domain.RoomID, requester domain.UserID) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if err := s.acquire(ctx, e); err != nil {
		return err
	}
	defer s.release(e)

	if e.deleted {
		return domain.ErrRoomNotFound
	}
	if e.room.CreatorID != requester {
		return domain.ErrNotCreator
	}

	// Every remaining participant goes through the same removal path as
	// an explicit leave before the room disappears.
	for user := range e.room.Participants {
		s.removeParticipantLocked(e.room, user)
	}

	e.room.Status = domain.RoomEnded
	e.deleted = true

	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()

	s.deleteSnapshotAsync(id)
	s.logger.Infow("room deleted", "room_id", id, "requester_id", requester)
	return nil
}

// UpdateParticipant runs fn on a participant with the room lock held, so
// the participant write and any dependent write inside fn form one
// logical operation with respect to concurrent room mutations.
func (s *RoomService) UpdateParticipant(ctx context.Context, id domain.RoomID, user domain.UserID, fn func(*domain.Participant) error) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if err := s.acquire(ctx, e); err != nil {
		return err
	}
	defer s.release(e)

	if e.deleted {
		return domain.ErrRoomNotFound
	}
	p, ok := e.room.Participants[user]
	if !ok {
		return domain.ErrNotAParticipant
	}
	if err := fn(p); err != nil {
		return err
	}

	e.room.UpdatedAt = time.Now()
	s.persistAsync(e.room.Clone())
	return nil
}

// IsParticipant reports room membership; ErrRoomNotFound if the room is gone.
func (s *RoomService) IsParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, err
	}
	if err := s.acquire(ctx, e); err != nil {
		return false, err
	}
	defer s.release(e)

	if e.deleted {
		return false, domain.ErrRoomNotFound
	}
	_, ok := e.room.Participants[user]
	return ok, nil
}

// TargetConnections resolves a targeted delivery to the user's live
// connection(s) in the room. An empty slice means the target is not
// hosted here, which the relay treats as a no-op.
func (s *RoomService) TargetConnections(ctx context.Context, id domain.RoomID, user domain.UserID) ([]domain.ConnectionID, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer s.release(e)

	if e.deleted {
		return nil, domain.ErrRoomNotFound
	}
	return s.index.connectionsInRoom(user, id), nil
}

// BroadcastConnections resolves a room broadcast, excluding the sender.
func (s *RoomService) BroadcastConnections(ctx context.Context, id domain.RoomID, exclude domain.UserID) ([]domain.ConnectionID, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer s.release(e)

	if e.deleted {
		return nil, domain.ErrRoomNotFound
	}

	conns := make([]domain.ConnectionID, 0, len(e.room.Participants))
	for user, p := range e.room.Participants {
		if user == exclude {
			continue
		}
		conns = append(conns, p.ConnectionID)
	}
	return conns, nil
}

// EvictIdle removes rooms that have had zero participants for longer
// than threshold, together with their persisted snapshots when
// deleteSnapshots is set. One room's failure never aborts the pass.
func (s *RoomService) EvictIdle(ctx context.Context, threshold time.Duration, deleteSnapshots bool) []domain.RoomID {
	s.mu.RLock()
	candidates := make(map[domain.RoomID]*roomEntry, len(s.rooms))
	for id, e := range s.rooms {
		candidates[id] = e
	}
	s.mu.RUnlock()

	var evicted []domain.RoomID
	for id, e := range candidates {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Errorw("panic during room eviction", "room_id", id, "panic", r)
				}
			}()

			if err := s.acquire(ctx, e); err != nil {
				return
			}
			defer s.release(e)

			if e.deleted || e.room.CurrentParticipants() > 0 {
				return
			}
			if utils.Since(e.room.UpdatedAt) <= threshold {
				return
			}

			e.room.Status = domain.RoomEnded
			e.deleted = true

			s.mu.Lock()
			delete(s.rooms, id)
			s.mu.Unlock()

			if deleteSnapshots {
				s.deleteSnapshotAsync(id)
			}
			evicted = append(evicted, id)
			s.logger.Infow("evicted idle room", "room_id", id, "idle_for", utils.Since(e.room.UpdatedAt))
		}()
	}
	return evicted
}

// Counts returns live room and participant totals for health and metrics.
func (s *RoomService) Counts() (rooms, participants int) {
	s.mu.RLock()
	entries := make([]*roomEntry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	rooms = len(entries)
	participants = s.index.size()
	return rooms, participants
}

// RecoverSnapshots reloads persisted rooms after a restart. Participant
// lists are reset: their transports did not survive the old process.
func (s *RoomService) RecoverSnapshots(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	restored, err := s.snapshots.LoadAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, room := range restored {
		if _, exists := s.rooms[room.ID]; exists || room.Status == domain.RoomEnded {
			continue
		}
		room.Status = domain.RoomWaiting
		room.Participants = make(map[domain.UserID]*domain.Participant)
		s.rooms[room.ID] = &roomEntry{room: room, lock: make(chan struct{}, 1)}
		count++
	}
	if count > 0 {
		s.logger.Infow("recovered rooms from snapshots", "count", count)
	}
	return nil
}

func (s *RoomService) entry(id domain.RoomID) (*roomEntry, error) {
	s.mu.RLock()
	e, ok := s.rooms[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return e, nil
}

func (s *RoomService) acquire(ctx context.Context, e *roomEntry) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case e.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RoomService) release(e *roomEntry) {
	<-e.lock
}

// removeParticipantLocked must be called with the room lock held.
func (s *RoomService) removeParticipantLocked(room *domain.Room, user domain.UserID) {
	p := room.Participants[user]
	delete(room.Participants, user)
	s.index.remove(user, p.ConnectionID)

	if room.CurrentParticipants() == 0 && room.Status == domain.RoomActive {
		room.Status = domain.RoomWaiting
	}
	room.UpdatedAt = time.Now()

	if s.onLeave != nil {
		s.onLeave(p.ConnectionID)
	}

	s.logger.Infow("participant left",
		"room_id", room.ID,
		"user_id", user,
		"participants", room.CurrentParticipants(),
	)
}

// persistAsync dispatches a best-effort snapshot write. The in-memory
// mutation has already committed; a persistence failure never rolls it
// back or blocks the caller.
func (s *RoomService) persistAsync(room *domain.Room) {
	if s.snapshots == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.breaker.Execute(func() error {
			return retry.Do(ctx, s.retryCfg, func() error {
				return s.snapshots.Save(ctx, room)
			})
		})
		if err != nil {
			s.logger.Warnw("room snapshot persist failed", "room_id", room.ID, "error", err)
		}
	}()
}

func (s *RoomService) deleteSnapshotAsync(id domain.RoomID) {
	if s.snapshots == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.breaker.Execute(func() error {
			return s.snapshots.Delete(ctx, id)
		})
		if err != nil {
			s.logger.Warnw("room snapshot delete failed", "room_id", id, "error", err)
		}
	}()
}
