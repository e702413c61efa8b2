package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"geoattend/engine/internal/model"
)

// Failure describes a failed delivery attempt for MarkFailed.
type Failure struct {
	Class   model.FailureClass
	Reason  string
	RetryAt time.Time
}

// Queue is the durable, append-only attendance event queue.
//
// Each statement is atomic on the single store connection. Events rejected
// by the server (FailureRejected) with AttemptCount >= maxAttempts are
// parked: kept on disk but never returned by Pending. Transient failures are
// retried without limit.
type Queue struct {
	db          *sql.DB
	maxAttempts int
	now         func() time.Time
}

// NewQueue constructs a queue over an already migrated database.
func NewQueue(db *sql.DB, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Queue{db: db, maxAttempts: maxAttempts, now: time.Now}
}

const eventColumns = `id, user_id, site_id, event_type, latitude, longitude, distance_m, captured_at,
	delivery_state, attempt_count, next_attempt_at, failure_class, last_error`

// Enqueue appends an event. Re-enqueuing an existing id is a no-op.
func (q *Queue) Enqueue(ctx context.Context, e model.AttendanceEvent) error {
	if q.db == nil {
		return fmt.Errorf("store not initialized")
	}

	var siteID sql.NullString
	if e.SiteID != "" {
		siteID = sql.NullString{String: e.SiteID, Valid: true}
	}
	var distance sql.NullFloat64
	if e.DistanceToNearestSite != nil {
		distance = sql.NullFloat64{Float64: *e.DistanceToNearestSite, Valid: true}
	}

	_, err := q.db.ExecContext(
		ctx,
		`INSERT INTO attendance_events (id, user_id, site_id, event_type, latitude, longitude, distance_m, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING;`,
		e.ID,
		e.UserID,
		siteID,
		string(e.EventType),
		e.Coordinate.Latitude,
		e.Coordinate.Longitude,
		distance,
		e.CapturedAt.UTC().UnixNano(),
	)
	if err != nil {
		return &Error{Op: "enqueue", Err: err}
	}
	return nil
}

// Pending returns up to limit deliverable events in ascending capturedAt order.
//
// Failed events whose retry time has elapsed return to pending first. The
// result stops at the first event that is not yet due, so a later event never
// overtakes an earlier one that is still awaiting retry.
func (q *Queue) Pending(ctx context.Context, limit int) ([]model.QueuedEvent, error) {
	if q.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	nowAt := q.now().UTC()
	now := nowAt.UnixNano()

	if _, err := q.db.ExecContext(
		ctx,
		`UPDATE attendance_events SET delivery_state = ?
		 WHERE delivery_state = ? AND next_attempt_at <= ?
		   AND NOT (failure_class = ? AND attempt_count >= ?);`,
		string(model.DeliveryPending),
		string(model.DeliveryFailed),
		now,
		string(model.FailureRejected),
		q.maxAttempts,
	); err != nil {
		return nil, &Error{Op: "release retries", Err: err}
	}

	rows, err := q.db.QueryContext(
		ctx,
		`SELECT `+eventColumns+` FROM attendance_events
		 WHERE delivery_state IN (?, ?)
		   AND NOT (failure_class = ? AND attempt_count >= ?)
		 ORDER BY captured_at ASC, seq ASC
		 LIMIT ?;`,
		string(model.DeliveryPending),
		string(model.DeliveryFailed),
		string(model.FailureRejected),
		q.maxAttempts,
		limit,
	)
	if err != nil {
		return nil, &Error{Op: "query pending", Err: err}
	}
	defer rows.Close()

	events := make([]model.QueuedEvent, 0, limit)
	for rows.Next() {
		qe, err := scanQueuedEvent(rows)
		if err != nil {
			return nil, &Error{Op: "scan pending", Err: err}
		}
		if qe.State != model.DeliveryPending || qe.NextAttemptAt.After(nowAt) {
			break
		}
		events = append(events, qe)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "iterate pending", Err: err}
	}

	return events, nil
}

// MarkInFlight moves the given pending events into the in-flight state.
func (q *Queue) MarkInFlight(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{string(model.DeliveryInFlight)}
	args = append(args, idArgs(ids)...)
	args = append(args, string(model.DeliveryPending), string(model.DeliveryFailed))

	_, err := q.db.ExecContext(
		ctx,
		`UPDATE attendance_events SET delivery_state = ?
		 WHERE id IN (`+placeholders(len(ids))+`) AND delivery_state IN (?, ?);`,
		args...,
	)
	if err != nil {
		return &Error{Op: "mark in flight", Err: err}
	}
	return nil
}

// MarkDelivered removes acknowledged events from the queue.
func (q *Queue) MarkDelivered(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.ExecContext(
		ctx,
		`DELETE FROM attendance_events WHERE id IN (`+placeholders(len(ids))+`);`,
		idArgs(ids)...,
	)
	if err != nil {
		return &Error{Op: "mark delivered", Err: err}
	}
	return nil
}

// MarkFailed records a failed attempt and schedules the retry.
func (q *Queue) MarkFailed(ctx context.Context, ids []string, f Failure) error {
	if len(ids) == 0 {
		return nil
	}
	var retryAt int64
	if !f.RetryAt.IsZero() {
		retryAt = f.RetryAt.UTC().UnixNano()
	}
	args := []any{
		string(model.DeliveryFailed),
		retryAt,
		string(f.Class),
		truncateString(f.Reason, 1024),
	}
	args = append(args, idArgs(ids)...)

	_, err := q.db.ExecContext(
		ctx,
		`UPDATE attendance_events
		 SET delivery_state = ?, attempt_count = attempt_count + 1, next_attempt_at = ?, failure_class = ?, last_error = ?
		 WHERE id IN (`+placeholders(len(ids))+`);`,
		args...,
	)
	if err != nil {
		return &Error{Op: "mark failed", Err: err}
	}
	return nil
}

// Release returns in-flight events to pending without counting an attempt.
// It is used for events that were never actually submitted.
func (q *Queue) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{string(model.DeliveryPending)}
	args = append(args, idArgs(ids)...)
	args = append(args, string(model.DeliveryInFlight))

	_, err := q.db.ExecContext(
		ctx,
		`UPDATE attendance_events SET delivery_state = ?
		 WHERE id IN (`+placeholders(len(ids))+`) AND delivery_state = ?;`,
		args...,
	)
	if err != nil {
		return &Error{Op: "release", Err: err}
	}
	return nil
}

// Recover returns events stranded in flight by a previous process to pending.
func (q *Queue) Recover(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE attendance_events SET delivery_state = ? WHERE delivery_state = ?;`,
		string(model.DeliveryPending),
		string(model.DeliveryInFlight),
	)
	if err != nil {
		return 0, &Error{Op: "recover in flight", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Get loads a single queued event by id.
func (q *Queue) Get(ctx context.Context, id string) (model.QueuedEvent, bool, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM attendance_events WHERE id = ?;`, id)
	qe, err := scanQueuedEvent(row)
	if err == sql.ErrNoRows {
		return model.QueuedEvent{}, false, nil
	}
	if err != nil {
		return model.QueuedEvent{}, false, &Error{Op: "get", Err: err}
	}
	return qe, true, nil
}

// Stats counts queued events by delivery state.
func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	rows, err := q.db.QueryContext(
		ctx,
		`SELECT delivery_state, (failure_class = ? AND attempt_count >= ?) AS parked, COUNT(*)
		 FROM attendance_events GROUP BY 1, 2;`,
		string(model.FailureRejected),
		q.maxAttempts,
	)
	if err != nil {
		return model.QueueStats{}, &Error{Op: "stats", Err: err}
	}
	defer rows.Close()

	var stats model.QueueStats
	for rows.Next() {
		var (
			state  string
			parked bool
			count  int
		)
		if err := rows.Scan(&state, &parked, &count); err != nil {
			return model.QueueStats{}, &Error{Op: "scan stats", Err: err}
		}
		switch {
		case parked:
			stats.Parked += count
		case state == string(model.DeliveryPending):
			stats.Pending += count
		case state == string(model.DeliveryInFlight):
			stats.InFlight += count
		case state == string(model.DeliveryFailed):
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return model.QueueStats{}, &Error{Op: "iterate stats", Err: err}
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueuedEvent(row rowScanner) (model.QueuedEvent, error) {
	var (
		qe           model.QueuedEvent
		siteID       sql.NullString
		distance     sql.NullFloat64
		eventType    string
		capturedAt   int64
		state        string
		nextAttempt  int64
		failureClass string
	)
	if err := row.Scan(
		&qe.Event.ID,
		&qe.Event.UserID,
		&siteID,
		&eventType,
		&qe.Event.Coordinate.Latitude,
		&qe.Event.Coordinate.Longitude,
		&distance,
		&capturedAt,
		&state,
		&qe.AttemptCount,
		&nextAttempt,
		&failureClass,
		&qe.LastError,
	); err != nil {
		return model.QueuedEvent{}, err
	}

	qe.Event.SiteID = siteID.String
	qe.Event.EventType = model.EventType(eventType)
	if distance.Valid {
		d := distance.Float64
		qe.Event.DistanceToNearestSite = &d
	}
	qe.Event.CapturedAt = time.Unix(0, capturedAt).UTC()
	qe.State = model.DeliveryState(state)
	if nextAttempt > 0 {
		qe.NextAttemptAt = time.Unix(0, nextAttempt).UTC()
	}
	qe.FailureClass = model.FailureClass(failureClass)
	return qe, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
