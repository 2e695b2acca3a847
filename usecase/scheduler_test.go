package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issaops/contract-pipeline/pkg/logging"
)

func newTestScheduler(t *testing.T, cfg *ScheduleConfig) (*Scheduler, *PipelineUseCase) {
	t.Helper()
	pipeline, _ := newTestPipeline(t, &fakeRegistry{}, &fakeNormalizer{}, nil)
	return NewScheduler(pipeline, cfg, logging.NewNopLogger()), pipeline
}

func TestSchedulerDailySlot(t *testing.T) {
	s, _ := newTestScheduler(t, &ScheduleConfig{Frequency: "daily", Time: "06:00"})

	slot, due := s.currentSlot(time.Date(2026, 2, 10, 6, 0, 15, 0, time.UTC))
	assert.True(t, due)
	assert.Equal(t, "2026-02-10 06:00", slot)

	_, due = s.currentSlot(time.Date(2026, 2, 10, 6, 1, 0, 0, time.UTC))
	assert.False(t, due)

	_, due = s.currentSlot(time.Date(2026, 2, 10, 18, 0, 0, 0, time.UTC))
	assert.False(t, due)
}

func TestSchedulerHourlySlot(t *testing.T) {
	s, _ := newTestScheduler(t, &ScheduleConfig{Frequency: "hourly"})

	slotA, due := s.currentSlot(time.Date(2026, 2, 10, 6, 5, 0, 0, time.UTC))
	assert.True(t, due)
	slotB, due := s.currentSlot(time.Date(2026, 2, 10, 6, 45, 0, 0, time.UTC))
	assert.True(t, due)
	// Both polls fall in the same hour slot, so the latch fires once.
	assert.Equal(t, slotA, slotB)

	slotC, _ := s.currentSlot(time.Date(2026, 2, 10, 7, 0, 0, 0, time.UTC))
	assert.NotEqual(t, slotA, slotC)
}

func TestSchedulerWeeklySlot(t *testing.T) {
	s, _ := newTestScheduler(t, &ScheduleConfig{Frequency: "weekly", Time: "06:00", Weekday: "Monday"})

	// 2026-02-09 is a Monday.
	_, due := s.currentSlot(time.Date(2026, 2, 9, 6, 0, 0, 0, time.UTC))
	assert.True(t, due)

	_, due = s.currentSlot(time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC))
	assert.False(t, due)
}

func TestSchedulerFiresOncePerSlot(t *testing.T) {
	s, pipeline := newTestScheduler(t, &ScheduleConfig{Frequency: "daily", Time: "06:00"})
	s.now = func() time.Time {
		return time.Date(2026, 2, 10, 6, 0, 10, 0, time.UTC)
	}

	// Multiple ticks inside the same slot trigger exactly one run.
	s.tick(context.Background())
	s.tick(context.Background())
	s.tick(context.Background())

	_, _, stats := pipeline.Status()
	assert.Equal(t, 1, stats.TotalRuns)
}

func TestSchedulerFiresAgainNextDay(t *testing.T) {
	s, pipeline := newTestScheduler(t, &ScheduleConfig{Frequency: "daily", Time: "06:00"})

	day := time.Date(2026, 2, 10, 6, 0, 10, 0, time.UTC)
	s.now = func() time.Time { return day }
	s.tick(context.Background())

	day = day.AddDate(0, 0, 1)
	s.tick(context.Background())

	_, _, stats := pipeline.Status()
	assert.Equal(t, 2, stats.TotalRuns)
}

func TestSchedulerStartStop(t *testing.T) {
	s, _ := newTestScheduler(t, &ScheduleConfig{Frequency: "daily", Time: "06:00"})
	s.pollInterval = 10 * time.Millisecond

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	// Stop returns only after the loop exits; a second Stop is harmless.
	require.NotPanics(t, func() { s.Stop() })
}
