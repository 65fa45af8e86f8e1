package services

import (
	"context"
	"time"

	"signalhub/pkg/distributed"

	"go.uber.org/zap"
)

// Sweeper periodically evicts idle rooms and expires stale connection
// stats. A sweep pass never panics out of the loop: one bad room is
// logged and the pass continues.
type Sweeper struct {
	rooms *RoomService
	stats *StatsService

	interval      time.Duration
	idleThreshold time.Duration

	// snapshotLock coordinates snapshot deletion across instances so
	// only one sweeper touches the shared store per pass. Nil when
	// running without redis.
	snapshotLock *distributed.Lock

	// onSweep reports pass totals to whoever wants them (metrics).
	onSweep func(evicted, expired int)

	logger *zap.SugaredLogger
}

// SetOnSweep registers a callback invoked after every pass.
func (s *Sweeper) SetOnSweep(fn func(evicted, expired int)) {
	s.onSweep = fn
}

func NewSweeper(rooms *RoomService, stats *StatsService, interval, idleThreshold time.Duration, snapshotLock *distributed.Lock, logger *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if idleThreshold <= 0 {
		idleThreshold = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{
		rooms:         rooms,
		stats:         stats,
		interval:      interval,
		idleThreshold: idleThreshold,
		snapshotLock:  snapshotLock,
		logger:        logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("sweeper started", "interval", s.interval, "idle_threshold", s.idleThreshold)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one eviction and expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic during sweep", "panic", r)
		}
	}()

	deleteSnapshots := s.acquireSnapshotLock(ctx)
	if deleteSnapshots && s.snapshotLock != nil {
		defer func() {
			if err := s.snapshotLock.Release(ctx); err != nil {
				s.logger.Warnw("sweeper lock release failed", "error", err)
			}
		}()
	}

	evicted := s.rooms.EvictIdle(ctx, s.idleThreshold, deleteSnapshots)
	expired := s.stats.ExpireStale()

	if s.onSweep != nil {
		s.onSweep(len(evicted), expired)
	}
	if len(evicted) > 0 || expired > 0 {
		s.logger.Infow("sweep completed", "rooms_evicted", len(evicted), "stats_expired", expired)
	}
}

// acquireSnapshotLock reports whether this instance should delete shared
// snapshots this pass. Without redis there is no contention and the
// answer is always yes.
func (s *Sweeper) acquireSnapshotLock(ctx context.Context) bool {
	if s.snapshotLock == nil {
		return true
	}
	ok, err := s.snapshotLock.TryAcquire(ctx)
	if err != nil {
		s.logger.Warnw("sweeper lock acquire failed", "error", err)
		return false
	}
	return ok
}
