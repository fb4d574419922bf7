package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/folio/internal/folio/store"
)

// HousekeepingService periodically deletes expired and verified pending
// sessions. FindActive ignores them anyway; this only bounds storage.
type HousekeepingService struct {
	Sessions store.TwoFactorSessions
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService defaults a non-positive interval to one hour.
func NewHousekeepingService(sessions store.TwoFactorSessions, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}

	return &HousekeepingService{
		Sessions: sessions,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the worker in the background until Stop is called.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until an in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup performs one sweep and returns the number of sessions removed.
func (s *HousekeepingService) Cleanup(ctx context.Context) int64 {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	deleted, err := s.Sessions.DeleteExpired(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired pending sessions", "err", err)
		return deleted
	}

	s.Logger.Debug("housekeeping cleanup completed", "deleted_sessions", deleted)
	return deleted
}
