package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/mumbai-dao/internal/metrics"
	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/repository"
)

// DefaultActivityLimit is how many entries GET /activities returns.
const DefaultActivityLimit = 10

// ActivityRecorder is what the other services need from the activity
// logger. Recording never fails and never blocks.
type ActivityRecorder interface {
	Record(entry ActivityEntry)
}

// ActivityEntry is one audit event waiting to be written.
type ActivityEntry struct {
	UserID      string
	Type        model.ActivityType
	Description string
	Metadata    map[string]any
	Request     model.RequestMeta
}

// ActivityLoggerConfig tunes the background writer.
type ActivityLoggerConfig struct {
	QueueSize    int           // entries buffered before new ones are dropped
	WriteTimeout time.Duration // bound on each store write
}

// ActivityLogger writes the audit trail off the request path.
//
// FIRE-AND-FORGET:
// Record puts the entry on a buffered channel and returns immediately. A
// single background goroutine drains the channel and writes each entry with
// its own timeout. If the buffer is full the entry is dropped with a
// warning. Store failures are logged and swallowed. Nothing about audit
// logging can fail or slow down the request that triggered it.
//
// LIFECYCLE:
// NewActivityLogger starts the writer. Close stops accepting entries, lets
// the writer drain what is already queued, and waits for it to exit.
type ActivityLogger struct {
	repo    repository.ActivityRepository
	logger  *slog.Logger
	timeout time.Duration

	queue chan model.Activity
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewActivityLogger creates the logger and starts its writer goroutine.
func NewActivityLogger(repo repository.ActivityRepository, logger *slog.Logger, cfg ActivityLoggerConfig) *ActivityLogger {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	l := &ActivityLogger{
		repo:    repo,
		logger:  logger,
		timeout: cfg.WriteTimeout,
		queue:   make(chan model.Activity, cfg.QueueSize),
	}

	l.wg.Add(1)
	go l.writer()
	return l
}

// Record enqueues an entry. It never blocks.
func (l *ActivityLogger) Record(e ActivityEntry) {
	if e.UserID == "" {
		l.logger.Warn("cannot log activity: no user", slog.String("type", string(e.Type)))
		return
	}

	a := model.Activity{
		UserID:      e.UserID,
		Type:        e.Type,
		Description: e.Description,
		Metadata:    e.Metadata,
		IPAddress:   e.Request.IPAddress,
		UserAgent:   e.Request.UserAgent,
		CreatedAt:   time.Now().UTC(),
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		metrics.ActivitiesDroppedTotal.Inc()
		l.logger.Warn("activity logger closed, dropping entry", slog.String("type", string(e.Type)))
		return
	}

	select {
	case l.queue <- a:
	default:
		metrics.ActivitiesDroppedTotal.Inc()
		l.logger.Warn("activity queue full, dropping entry",
			slog.String("type", string(e.Type)),
			slog.String("userID", e.UserID),
		)
	}
}

// Recent returns the user's latest activities, most recent first.
func (l *ActivityLogger) Recent(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	activities, err := l.repo.ListActivities(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("service/activity: listing activities for %s: %w", userID, err)
	}
	return activities, nil
}

// Close stops intake, drains the queue and waits for the writer. Safe to
// call more than once.
func (l *ActivityLogger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *ActivityLogger) writer() {
	defer l.wg.Done()
	for a := range l.queue {
		l.write(a)
	}
}

// write persists one entry. A panic in the store is contained here so the
// writer keeps running.
func (l *ActivityLogger) write(a model.Activity) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ActivitiesDroppedTotal.Inc()
			l.logger.Error("panic while logging activity", slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.repo.CreateActivity(ctx, &a); err != nil {
		metrics.ActivitiesDroppedTotal.Inc()
		l.logger.Error("failed to log user activity",
			slog.String("type", string(a.Type)),
			slog.String("userID", a.UserID),
			slog.String("error", err.Error()),
		)
	}
}
