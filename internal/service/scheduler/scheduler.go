// Package scheduler drives the auction lifecycle from wall-clock time:
// auto-start, auto-end, ending-soon warnings, and the fail-safe sweep that
// force-closes auctions a stalled scheduler left behind.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/infrastructure/events"
	"github.com/allabud/auction-backend/internal/metrics"
)

// Lifecycle is the subset of the lifecycle service the scheduler drives.
type Lifecycle interface {
	Start(ctx context.Context, id uuid.UUID) (*auction.Auction, error)
	End(ctx context.Context, id uuid.UUID) (*auction.Auction, error)
}

// Config tunes tick cadence and windows.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// EndingSoonWindow is how close to the end an auction must be before
	// warnings are emitted.
	EndingSoonWindow time.Duration
	// EndingSoonEvery throttles warnings per auction.
	EndingSoonEvery time.Duration
	// GracePeriod is how far past its end time an active auction may drift
	// before the fail-safe force-closes it.
	GracePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Second,
		EndingSoonWindow: 5 * time.Minute,
		EndingSoonEvery:  30 * time.Second,
		GracePeriod:      time.Minute,
	}
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Ticks               uint64        `json:"ticks"`
	AuctionsStarted     uint64        `json:"auctions_started"`
	AuctionsEnded       uint64        `json:"auctions_ended"`
	EndingSoonEmitted   uint64        `json:"ending_soon_emitted"`
	FailSafeActivations uint64        `json:"fail_safe_activations"`
	SkippedTicks        uint64        `json:"skipped_ticks"`
	Uptime              time.Duration `json:"uptime_ns"`
}

// Scheduler is a single cooperative timer. Ticks never overlap: a tick that
// fires while the previous one still runs is skipped and its work picked up
// by the next one.
type Scheduler struct {
	cfg       Config
	auctions  auction.Repository
	lifecycle Lifecycle
	bus       events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
	looping atomic.Bool
	startAt time.Time

	mu       sync.Mutex
	warnedAt map[uuid.UUID]time.Time
	stats    Stats

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(cfg Config, auctions auction.Repository, lifecycle Lifecycle, bus events.Publisher, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.EndingSoonWindow <= 0 {
		cfg.EndingSoonWindow = def.EndingSoonWindow
	}
	if cfg.EndingSoonEvery <= 0 {
		cfg.EndingSoonEvery = def.EndingSoonEvery
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	return &Scheduler{
		cfg:       cfg,
		auctions:  auctions,
		lifecycle: lifecycle,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		warnedAt:  make(map[uuid.UUID]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// WithClock overrides the time source. Tests only.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run ticks until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.looping.Store(true)
	s.mu.Lock()
	s.startAt = s.now()
	s.mu.Unlock()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer close(s.doneCh)
	s.logger.InfoContext(ctx, "scheduler running", "interval", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop halts the loop and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.looping.Load() {
		<-s.doneCh
	}
}

// Tick runs one scheduling pass. Safe to call directly; concurrent calls
// collapse into one (the loser is counted as skipped).
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.stats.SkippedTicks++
		s.mu.Unlock()
		return
	}
	defer s.running.Store(false)

	metrics.SchedulerTicks.Inc()
	s.mu.Lock()
	s.stats.Ticks++
	s.mu.Unlock()

	s.startDue(ctx)
	s.closeDue(ctx)
	s.RunFailSafe(ctx)
}

// startDue activates pending auctions whose start time has passed.
func (s *Scheduler) startDue(ctx context.Context) {
	now := s.now()
	pending, err := s.auctions.GetByStatus(ctx, auction.StatusPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler: listing pending auctions", "error", err)
		return
	}
	for _, a := range pending {
		if now.Before(a.StartTime) {
			continue
		}
		if _, err := s.lifecycle.Start(ctx, a.ID); err != nil {
			s.logger.WarnContext(ctx, "scheduler: auto-start failed",
				"auction_id", a.ID, "error", err)
			continue
		}
		s.mu.Lock()
		s.stats.AuctionsStarted++
		s.mu.Unlock()
	}
}

// closeDue ends expired active auctions and warns on those about to close.
func (s *Scheduler) closeDue(ctx context.Context) {
	now := s.now()
	active, err := s.auctions.GetByStatus(ctx, auction.StatusActive)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler: listing active auctions", "error", err)
		return
	}
	for _, a := range active {
		switch {
		case a.HasTimeLimit && !now.Before(a.EndTime):
			if _, err := s.lifecycle.End(ctx, a.ID); err != nil {
				s.logger.WarnContext(ctx, "scheduler: auto-end failed",
					"auction_id", a.ID, "error", err)
				continue
			}
			s.mu.Lock()
			s.stats.AuctionsEnded++
			delete(s.warnedAt, a.ID)
			s.mu.Unlock()
		case a.IsEndingSoon(now, s.cfg.EndingSoonWindow):
			s.warnEndingSoon(a, now)
		}
	}
}

func (s *Scheduler) warnEndingSoon(a *auction.Auction, now time.Time) {
	s.mu.Lock()
	last, warned := s.warnedAt[a.ID]
	if warned && now.Sub(last) < s.cfg.EndingSoonEvery {
		s.mu.Unlock()
		return
	}
	s.warnedAt[a.ID] = now
	s.stats.EndingSoonEmitted++
	s.mu.Unlock()

	s.bus.Publish(events.Event{
		Type:      events.TypeAuctionEndingSoon,
		AuctionID: a.ID,
		Payload: map[string]any{
			"auction":           a,
			"time_remaining_ms": a.TimeRemaining(now).Milliseconds(),
		},
	})
}

// RunFailSafe force-closes active auctions stuck past end time plus grace.
// It backstops scheduler pauses and is safe to run at any time.
func (s *Scheduler) RunFailSafe(ctx context.Context) {
	now := s.now()
	active, err := s.auctions.GetByStatus(ctx, auction.StatusActive)
	if err != nil {
		s.logger.ErrorContext(ctx, "fail-safe: listing active auctions", "error", err)
		return
	}
	for _, a := range active {
		if !a.HasTimeLimit || now.Sub(a.EndTime) <= s.cfg.GracePeriod {
			continue
		}
		s.logger.WarnContext(ctx, "fail-safe closing overdue auction",
			"auction_id", a.ID,
			"overdue", now.Sub(a.EndTime))
		if _, err := s.lifecycle.End(ctx, a.ID); err != nil {
			s.logger.ErrorContext(ctx, "fail-safe: force-end failed",
				"auction_id", a.ID, "error", err)
			continue
		}
		s.mu.Lock()
		s.stats.FailSafeActivations++
		delete(s.warnedAt, a.ID)
		s.mu.Unlock()
	}
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if !s.startAt.IsZero() {
		st.Uptime = s.now().Sub(s.startAt)
	}
	return st
}
