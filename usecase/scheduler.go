package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/issaops/contract-pipeline/pkg/logging"
)

// ScheduleConfig describes when automated runs fire.
type ScheduleConfig struct {
	Frequency string // "daily", "hourly", "weekly"
	Time      string // "HH:MM", for daily and weekly
	Weekday   string // weekday name, for weekly
}

// Scheduler triggers pipeline runs on a fixed schedule. It polls rather
// than arming timers, so clock jumps and long runs cannot wedge it; a
// fired slot is latched so one slot never triggers twice.
type Scheduler struct {
	pipeline *PipelineUseCase
	config   *ScheduleConfig
	logger   *logging.Logger

	pollInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	lastSlot  string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScheduler creates a scheduler for the pipeline.
func NewScheduler(pipeline *PipelineUseCase, cfg *ScheduleConfig, logger *logging.Logger) *Scheduler {
	if cfg == nil {
		cfg = &ScheduleConfig{Frequency: "daily", Time: "06:00"}
	}
	return &Scheduler{
		pipeline:     pipeline,
		config:       cfg,
		logger:       logger.WithComponent("scheduler"),
		pollInterval: 30 * time.Second,
		now:          time.Now,
	}
}

// Start launches the polling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.logger.Info("Scheduler started",
		logging.String("frequency", s.config.Frequency),
		logging.String("time", s.config.Time),
	)

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// tick fires a run when the current time enters an unfired slot.
func (s *Scheduler) tick(ctx context.Context) {
	slot, due := s.currentSlot(s.now())
	if !due {
		return
	}

	s.mu.Lock()
	if s.lastSlot == slot {
		s.mu.Unlock()
		return
	}
	s.lastSlot = slot
	s.mu.Unlock()

	s.logger.Info("Scheduled run due", logging.String("slot", slot))

	if _, err := s.pipeline.Run(ctx, false); err != nil {
		s.logger.Warn("Scheduled run skipped",
			logging.String("slot", slot),
			logging.String("error", err.Error()),
		)
	}
}

// currentSlot identifies the schedule slot the given time falls in, and
// whether it is a firing slot. Slot identity keys the latch.
func (s *Scheduler) currentSlot(now time.Time) (string, bool) {
	switch s.config.Frequency {
	case "hourly":
		// The first poll of every hour fires.
		return now.Format("2006-01-02T15"), true

	case "weekly":
		if !strings.EqualFold(now.Weekday().String(), s.config.Weekday) {
			return "", false
		}
		if now.Format("15:04") != s.config.Time {
			return "", false
		}
		return now.Format("2006-01-02") + " " + s.config.Time, true

	default: // daily
		if now.Format("15:04") != s.config.Time {
			return "", false
		}
		return now.Format("2006-01-02") + " " + s.config.Time, true
	}
}
