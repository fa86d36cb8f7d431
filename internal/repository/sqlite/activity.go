package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/repository"
)

var _ repository.ActivityRepository = (*DB)(nil)

// CreateActivity appends an audit record. Metadata is stored as JSON text.
func (db *DB) CreateActivity(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = xid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}

	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return translate("activities.create.metadata", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO user_activities
		 (id, user_id, activity_type, description, metadata, ip_address, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.UserID,
		string(a.Type),
		a.Description,
		string(meta),
		a.IPAddress,
		a.UserAgent,
		a.CreatedAt.UnixMilli(),
	)
	return translate("activities.create", err)
}

// ListActivities returns a user's activities, most recent first.
// rowid breaks ties between entries written in the same millisecond.
func (db *DB) ListActivities(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, activity_type, description, metadata, ip_address, user_agent, created_at
		 FROM user_activities
		 WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, translate("activities.list", err)
	}
	defer rows.Close()

	activities := []model.Activity{}
	for rows.Next() {
		var (
			a         model.Activity
			kind      string
			meta      string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &kind, &a.Description, &meta, &a.IPAddress, &a.UserAgent, &createdAt); err != nil {
			return nil, translate("activities.list", err)
		}
		a.Type = model.ActivityType(kind)
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			a.Metadata = map[string]any{}
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("activities.list", err)
	}
	return activities, nil
}
