package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/model"
)

type fakeActivityRepo struct {
	mu      sync.Mutex
	stored  []model.Activity
	err     error
	block   chan struct{} // when non-nil, CreateActivity waits on it
	listErr error
}

func (r *fakeActivityRepo) CreateActivity(ctx context.Context, a *model.Activity) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.stored = append(r.stored, *a)
	return nil
}

func (r *fakeActivityRepo) ListActivities(_ context.Context, userID string, limit int) ([]model.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := []model.Activity{}
	for i := len(r.stored) - 1; i >= 0 && len(out) < limit; i-- {
		if r.stored[i].UserID == userID {
			out = append(out, r.stored[i])
		}
	}
	return out, nil
}

func (r *fakeActivityRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stored)
}

func TestActivityLogger_WritesInBackground(t *testing.T) {
	repo := &fakeActivityRepo{}
	l := NewActivityLogger(repo, testLogger(), ActivityLoggerConfig{})

	l.Record(ActivityEntry{
		UserID:      "user-1",
		Type:        model.ActivityLogin,
		Description: "User logged in with wallet",
		Request:     model.RequestMeta{IPAddress: "1.2.3.4", UserAgent: "test"},
	})
	l.Close()

	if repo.count() != 1 {
		t.Fatalf("stored = %d, want 1", repo.count())
	}
	got := repo.stored[0]
	if got.Type != model.ActivityLogin || got.IPAddress != "1.2.3.4" || got.UserAgent != "test" {
		t.Errorf("stored activity = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped at record time")
	}
}

func TestActivityLogger_StoreFailureIsSwallowed(t *testing.T) {
	repo := &fakeActivityRepo{err: apperror.Persistence("create activity", errors.New("disk full"))}
	l := NewActivityLogger(repo, testLogger(), ActivityLoggerConfig{})

	// Nothing to assert beyond "does not panic or block".
	l.Record(ActivityEntry{UserID: "user-1", Type: model.ActivityProfileView})
	l.Close()
}

func TestActivityLogger_DropsWhenQueueFull(t *testing.T) {
	repo := &fakeActivityRepo{block: make(chan struct{})}
	l := NewActivityLogger(repo, testLogger(), ActivityLoggerConfig{QueueSize: 2, WriteTimeout: time.Second})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			l.Record(ActivityEntry{UserID: "user-1", Type: model.ActivityProfileView})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(repo.block)
	l.Close()

	// At most one in the writer plus QueueSize buffered.
	if n := repo.count(); n > 3 || n == 0 {
		t.Errorf("stored = %d, want between 1 and 3", n)
	}
}

func TestActivityLogger_RecordAfterCloseIsDropped(t *testing.T) {
	repo := &fakeActivityRepo{}
	l := NewActivityLogger(repo, testLogger(), ActivityLoggerConfig{})
	l.Close()
	l.Close()

	l.Record(ActivityEntry{UserID: "user-1", Type: model.ActivityLogin})
	if repo.count() != 0 {
		t.Error("entries recorded after Close must be dropped")
	}
}

func TestActivityLogger_IgnoresEntryWithoutUser(t *testing.T) {
	repo := &fakeActivityRepo{}
	l := NewActivityLogger(repo, testLogger(), ActivityLoggerConfig{})
	l.Record(ActivityEntry{Type: model.ActivityLogin})
	l.Close()

	if repo.count() != 0 {
		t.Error("entry without a user should be ignored")
	}
}

func TestActivityLogger_RecentDefaultsLimit(t *testing.T) {
	repo := &fakeActivityRepo{}
	for i := 0; i < 15; i++ {
		repo.stored = append(repo.stored, model.Activity{UserID: "user-1", Type: model.ActivityProfileView})
	}
	l := NewActivityLogger(repo, testLogger(), ActivityLoggerConfig{})
	defer l.Close()

	got, err := l.Recent(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != DefaultActivityLimit {
		t.Errorf("len = %d, want %d", len(got), DefaultActivityLimit)
	}
}

func TestActivityLogger_RecentPropagatesErrors(t *testing.T) {
	repo := &fakeActivityRepo{listErr: apperror.Persistence("list activities", errors.New("boom"))}
	l := NewActivityLogger(repo, testLogger(), ActivityLoggerConfig{})
	defer l.Close()

	if _, err := l.Recent(context.Background(), "user-1", 5); !errors.Is(err, apperror.ErrPersistence) {
		t.Errorf("error = %v, want ErrPersistence", err)
	}
}
