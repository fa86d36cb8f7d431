package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/mumbai-dao/internal/metrics"
	"github.com/sakif/mumbai-dao/internal/points"
	"github.com/sakif/mumbai-dao/internal/repository"
)

const (
	defaultRecomputePageSize = 100
	defaultRecordTimeout     = 5 * time.Second
)

// PointsService recomputes stored point totals from the points formula.
type PointsService struct {
	users         repository.UserRepository
	logger        *slog.Logger
	now           Clock
	pageSize      int
	recordTimeout time.Duration
}

// PointsConfig tunes the batch. Zero values take defaults.
type PointsConfig struct {
	PageSize      int
	RecordTimeout time.Duration
	Clock         Clock
}

func NewPointsService(users repository.UserRepository, logger *slog.Logger, cfg PointsConfig) *PointsService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultRecomputePageSize
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = utcNow
	}
	return &PointsService{
		users:         users,
		logger:        logger,
		now:           cfg.Clock,
		pageSize:      cfg.PageSize,
		recordTimeout: cfg.RecordTimeout,
	}
}

// RecomputeResult summarizes one batch run.
type RecomputeResult struct {
	Processed int
	Updated   int
	Failed    int
	Duration  time.Duration
}

// RecomputeAll rewrites every member's points total.
//
// HOW IT RUNS:
// Members are read a page at a time, ordered by creation time, so memory
// stays flat no matter how many members exist. Each write gets its own
// timeout. A member whose write fails is logged and skipped; the run goes
// on. Every run uses a single "now" so all members are scored against the
// same instant.
//
// If listing a page fails, the run stops there. Totals already written
// stay written and the error is returned.
func (s *PointsService) RecomputeAll(ctx context.Context) (*RecomputeResult, error) {
	start := time.Now()
	now := s.now()
	res := &RecomputeResult{}

	s.logger.Info("starting points recompute")

	for offset := 0; ; offset += s.pageSize {
		if err := ctx.Err(); err != nil {
			return s.finish(res, start, fmt.Errorf("service/points: recompute cancelled: %w", err))
		}

		page, err := s.users.ListUsers(ctx, repository.ListOptions{Limit: s.pageSize, Offset: offset})
		if err != nil {
			return s.finish(res, start, fmt.Errorf("service/points: listing users at offset %d: %w", offset, err))
		}

		for i := range page {
			u := &page[i]
			res.Processed++

			total := points.Calculate(u, now)
			if err := s.setPoints(ctx, u.ID, total); err != nil {
				res.Failed++
				metrics.PointsRecomputeFailuresTotal.Inc()
				s.logger.Error("failed to update points",
					slog.String("userID", u.ID),
					slog.Int("points", total),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Updated++
		}

		if len(page) < s.pageSize {
			break
		}
	}

	return s.finish(res, start, nil)
}

// RecomputeUser rewrites one member's total and returns it.
func (s *PointsService) RecomputeUser(ctx context.Context, userID string) (int, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("service/points: loading user %s: %w", userID, err)
	}
	total := points.Calculate(u, s.now())
	if err := s.setPoints(ctx, u.ID, total); err != nil {
		return 0, fmt.Errorf("service/points: updating user %s: %w", userID, err)
	}
	return total, nil
}

func (s *PointsService) setPoints(ctx context.Context, userID string, total int) error {
	ctx, cancel := context.WithTimeout(ctx, s.recordTimeout)
	defer cancel()
	return s.users.SetPoints(ctx, userID, total)
}

func (s *PointsService) finish(res *RecomputeResult, start time.Time, err error) (*RecomputeResult, error) {
	res.Duration = time.Since(start)
	metrics.PointsRecomputeDuration.Observe(res.Duration.Seconds())

	attrs := []any{
		slog.Int("processed", res.Processed),
		slog.Int("updated", res.Updated),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", res.Duration),
	}

	if err != nil {
		metrics.PointsRecomputeRunsTotal.WithLabelValues("aborted").Inc()
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelWarn
		}
		s.logger.Log(context.Background(), level, "points recompute aborted", append(attrs, slog.String("error", err.Error()))...)
		return res, err
	}

	metrics.PointsRecomputeRunsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("points recompute finished", attrs...)
	return res, nil
}
