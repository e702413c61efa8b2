package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LastTransition returns the membership left by the newest entry or exit the
// user ever enqueued. siteID is empty after an exit; ok is false when no
// transition has been recorded. Delivered events are deleted from the queue,
// but the membership row survives them.
func (q *Queue) LastTransition(ctx context.Context, userID string) (siteID string, at time.Time, ok bool, err error) {
	var capturedAt int64
	err = q.db.QueryRowContext(
		ctx,
		`SELECT site_id, captured_at FROM site_membership WHERE user_id = ?;`,
		userID,
	).Scan(&siteID, &capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, &Error{Op: "last transition", Err: err}
	}
	return siteID, time.Unix(0, capturedAt).UTC(), true, nil
}
