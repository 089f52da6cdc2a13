package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cache"
)

// DefaultHousekeepingInterval is used when no interval is configured.
const DefaultHousekeepingInterval = 5 * time.Minute

// HousekeepingService periodically reclaims expired cache entries from
// backends that only expire lazily. It is advisory: reads already ignore
// expired entries, so a failed or skipped sweep is only logged.
type HousekeepingService struct {
	Sweeper  cache.Sweeper
	Logger   *slog.Logger
	Interval time.Duration

	// Timeout bounds a single sweep (default: Interval).
	Timeout time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewHousekeepingService(sweeper cache.Sweeper, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	return &HousekeepingService{
		Sweeper:  sweeper,
		Logger:   logger,
		Interval: interval,
		Timeout:  interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker. It returns immediately.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping started", "interval", s.Interval)
}

// Stop signals the worker and waits for an in-flight sweep to finish.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce()
		case <-s.stopCh:
			return
		}
	}
}

// SweepOnce runs a single sweep and reports how many entries it removed.
func (s *HousekeepingService) SweepOnce() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	start := time.Now()
	n, err := s.Sweeper.Sweep(ctx)
	if err != nil {
		s.Logger.Warn("housekeeping sweep failed", "error", err)
		return n
	}

	s.Logger.Debug("housekeeping sweep done",
		"removed", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return n
}
