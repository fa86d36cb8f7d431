package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recomputer is the job the scheduler runs.
type Recomputer interface {
	RecomputeAll(ctx context.Context) (*RecomputeResult, error)
}

// PointsScheduler runs the points batch once a day at a fixed UTC hour.
//
// ONE GOROUTINE, NO OVERLAP:
// A single loop goroutine sleeps until the next run, runs the batch to
// completion, and only then computes the following run time. A slow run
// delays the next one instead of overlapping with it.
//
// LIFECYCLE:
// Start launches the loop (once). Stop signals it and waits. A run already
// in progress is allowed to finish; Stop returns after it does.
type PointsScheduler struct {
	job        Recomputer
	hour       int
	runOnStart bool
	logger     *slog.Logger
	now        Clock

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPointsScheduler creates a scheduler firing daily at hour:00 UTC.
// Hours outside 0-23 are wrapped into range.
func NewPointsScheduler(job Recomputer, hour int, runOnStart bool, logger *slog.Logger) *PointsScheduler {
	hour %= 24
	if hour < 0 {
		hour += 24
	}
	return &PointsScheduler{
		job:        job,
		hour:       hour,
		runOnStart: runOnStart,
		logger:     logger,
		now:        utcNow,
		done:       make(chan struct{}),
	}
}

// Start begins the schedule in the background.
func (s *PointsScheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting points scheduler",
			slog.Int("hourUTC", s.hour),
			slog.Time("nextRun", nextRun(s.now(), s.hour)),
		)
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the schedule and waits for any in-flight run.
func (s *PointsScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down points scheduler")
		close(s.done)
	})
	s.wg.Wait()
}

func (s *PointsScheduler) loop() {
	defer s.wg.Done()

	if s.runOnStart {
		s.run()
	}

	for {
		wait := nextRun(s.now(), s.hour).Sub(s.now())
		timer := time.NewTimer(wait)

		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
			s.run()
		}
	}
}

// run executes one batch. The batch is not tied to Stop: once started it
// finishes, bounded by the per-record timeouts inside the job.
func (s *PointsScheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("points batch panicked", slog.Any("panic", r))
		}
	}()

	if _, err := s.job.RecomputeAll(context.Background()); err != nil {
		s.logger.Error("scheduled points recompute failed", slog.String("error", err.Error()))
	}
}

// nextRun returns the first hour:00 UTC strictly after now.
func nextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
