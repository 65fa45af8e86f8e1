package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signalhub/internal/core/domain"
	"signalhub/pkg/cache"
	"signalhub/pkg/utils"

	"go.uber.org/zap"
)

// StatsService aggregates per-connection quality reports in memory.
// A stats record exists only while its connection is known: it is
// created on the first report, removed with the participant, and
// expired after the TTL if no reports arrive.
type StatsService struct {
	mu     sync.RWMutex
	byConn map[domain.ConnectionID]*domain.ConnectionStats
	byRoom map[domain.RoomID]map[domain.ConnectionID]struct{}
	byUser map[domain.UserID]map[domain.ConnectionID]struct{}

	rooms *RoomService
	ttl   time.Duration

	summaries *cache.Cache

	logger *zap.SugaredLogger
}

func NewStatsService(rooms *RoomService, ttl, summaryCacheTTL time.Duration, logger *zap.SugaredLogger) *StatsService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if summaryCacheTTL <= 0 {
		summaryCacheTTL = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &StatsService{
		byConn:    make(map[domain.ConnectionID]*domain.ConnectionStats),
		byRoom:    make(map[domain.RoomID]map[domain.ConnectionID]struct{}),
		byUser:    make(map[domain.UserID]map[domain.ConnectionID]struct{}),
		rooms:     rooms,
		ttl:       ttl,
		summaries: cache.New(summaryCacheTTL),
		logger:    logger,
	}
}

// Update merges a quality report into the connection's stats record and
// mirrors connection state onto the room's participant. The participant
// write and the stats write happen under the room's lock, so no reader
// sees stats for a state the participant does not yet show.
func (s *StatsService) Update(ctx context.Context, conn domain.ConnectionID, room domain.RoomID, user domain.UserID, report *domain.StatsReport) error {
	if report == nil {
		return nil
	}
	if report.ConnectionState != nil && !report.ConnectionState.Valid() {
		return domain.ErrInvalidState
	}

	now := time.Now()
	err := s.rooms.UpdateParticipant(ctx, room, user, func(p *domain.Participant) error {
		if p.ConnectionID != conn {
			return domain.ErrNotAParticipant
		}
		if report.ConnectionState != nil {
			p.ConnectionState = *report.ConnectionState
		}
		p.LastActiveAt = now

		s.mu.Lock()
		defer s.mu.Unlock()

		stats, ok := s.byConn[conn]
		if !ok {
			stats = &domain.ConnectionStats{
				ConnectionID:    conn,
				UserID:          user,
				RoomID:          room,
				ConnectionState: p.ConnectionState,
				CreatedAt:       now,
			}
			s.byConn[conn] = stats
			s.indexLocked(conn, room, user)
		}
		stats.Merge(report)
		stats.LastUpdated = now
		return nil
	})
	if err != nil {
		return err
	}

	s.summaries.Delete(roomSummaryKey(room))
	s.summaries.Delete(userSummaryKey(user))
	return nil
}

// Remove drops the stats record for a connection. Wired as the room
// store's leave hook so stats never outlive membership.
func (s *StatsService) Remove(conn domain.ConnectionID) {
	s.mu.Lock()
	stats, ok := s.byConn[conn]
	if ok {
		s.dropLocked(conn, stats)
	}
	s.mu.Unlock()

	if ok {
		s.summaries.Delete(roomSummaryKey(stats.RoomID))
		s.summaries.Delete(userSummaryKey(stats.UserID))
	}
}

// RoomSummary aggregates current connection quality across a room.
// The room must exist; a room with no stats yields a zero summary.
func (s *StatsService) RoomSummary(ctx context.Context, room domain.RoomID) (*domain.RoomStatsSummary, error) {
	key := roomSummaryKey(room)
	if cached, ok := s.summaries.Get(key); ok {
		return cached.(*domain.RoomStatsSummary), nil
	}

	if _, err := s.rooms.GetRoom(ctx, room); err != nil {
		return nil, err
	}

	s.mu.RLock()
	summary := &domain.RoomStatsSummary{
		RoomID:           room,
		ConnectionStates: make(map[domain.ConnectionState]int),
	}

	now := time.Now()
	var latencySum, bitrateSum, frameRateSum float64
	for conn := range s.byRoom[room] {
		stats := s.byConn[conn]
		summary.ParticipantCount++
		latencySum += stats.LatencyMs
		bitrateSum += float64(stats.BitrateKbps)
		frameRateSum += stats.FrameRate
		summary.ConnectionStates[stats.ConnectionState]++
		if d := stats.Duration(now); d > summary.MaxDuration {
			summary.MaxDuration = d
		}
	}
	s.mu.RUnlock()

	if summary.ParticipantCount > 0 {
		n := float64(summary.ParticipantCount)
		summary.AverageLatencyMs = latencySum / n
		summary.AverageBitrateKbps = bitrateSum / n
		summary.AverageFrameRate = frameRateSum / n
	}

	s.summaries.Set(key, summary)
	return summary, nil
}

// UserSummary aggregates a user's connections across all rooms. An
// unknown user yields the zero summary, never an error.
func (s *StatsService) UserSummary(ctx context.Context, user domain.UserID) *domain.UserStatsSummary {
	key := userSummaryKey(user)
	if cached, ok := s.summaries.Get(key); ok {
		return cached.(*domain.UserStatsSummary)
	}

	s.mu.RLock()
	summary := &domain.UserStatsSummary{UserID: user}

	now := time.Now()
	var latencySum float64
	for conn := range s.byUser[user] {
		stats := s.byConn[conn]
		summary.TotalConnections++
		if stats.ConnectionState == domain.ConnConnected {
			summary.ActiveConnections++
		}
		latencySum += stats.LatencyMs
		summary.TotalDuration += stats.Duration(now)
		if stats.LastUpdated.After(summary.LastActivity) {
			summary.LastActivity = stats.LastUpdated
		}
	}
	s.mu.RUnlock()

	if summary.TotalConnections > 0 {
		summary.AverageLatencyMs = latencySum / float64(summary.TotalConnections)
	}

	s.summaries.Set(key, summary)
	return summary
}

// ExpireStale removes records that have not been updated within the TTL
// and returns how many were dropped.
func (s *StatsService) ExpireStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for conn, stats := range s.byConn {
		if utils.IsExpired(stats.LastUpdated, s.ttl) {
			s.dropLocked(conn, stats)
			expired++
		}
	}
	if expired > 0 {
		s.summaries.Invalidate("stats:")
		s.logger.Infow("expired stale connection stats", "count", expired)
	}
	return expired
}

// Size returns the number of tracked connections.
func (s *StatsService) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConn)
}

// Stop releases the summary cache janitor.
func (s *StatsService) Stop() {
	s.summaries.Stop()
}

func (s *StatsService) indexLocked(conn domain.ConnectionID, room domain.RoomID, user domain.UserID) {
	if s.byRoom[room] == nil {
		s.byRoom[room] = make(map[domain.ConnectionID]struct{})
	}
	s.byRoom[room][conn] = struct{}{}

	if s.byUser[user] == nil {
		s.byUser[user] = make(map[domain.ConnectionID]struct{})
	}
	s.byUser[user][conn] = struct{}{}
}

func (s *StatsService) dropLocked(conn domain.ConnectionID, stats *domain.ConnectionStats) {
	delete(s.byConn, conn)

	if conns := s.byRoom[stats.RoomID]; conns != nil {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(s.byRoom, stats.RoomID)
		}
	}
	if conns := s.byUser[stats.UserID]; conns != nil {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(s.byUser, stats.UserID)
		}
	}
}

func roomSummaryKey(room domain.RoomID) string {
	return fmt.Sprintf("stats:room:%s", room)
}

func userSummaryKey(user domain.UserID) string {
	return fmt.Sprintf("stats:user:%s", user)
}
