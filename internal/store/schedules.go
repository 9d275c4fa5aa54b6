package store

import (
	"context"
	"database/sql"
	"time"
)

// SchedulesRepo is the repository for the schedules table.
type SchedulesRepo struct {
	db *sql.DB
}

const scheduleColumns = `
	id, camera_id, name, cron_expr, duration_minutes, fps_override, enabled,
	next_run_at, created_at, updated_at`

func scanSchedule(row interface{ Scan(dest ...any) error }) (*Schedule, error) {
	var s Schedule
	var nextRun sql.NullTime
	var enabled int
	err := row.Scan(&s.ID, &s.CameraID, &s.Name, &s.CronExpr, &s.DurationMinutes, &s.FPSOverride,
		&enabled, &nextRun, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Enabled = enabled != 0
	if nextRun.Valid {
		s.NextRunAt = &nextRun.Time
	}
	return &s, nil
}

func (r SchedulesRepo) Create(ctx context.Context, s *Schedule) error {
	const q = `
		INSERT INTO schedules (camera_id, name, cron_expr, duration_minutes, fps_override, enabled)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.CameraID, s.Name, s.CronExpr, s.DurationMinutes, s.FPSOverride, boolToInt(s.Enabled))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (r SchedulesRepo) GetByID(ctx context.Context, id int64) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id=?", id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

func (r SchedulesRepo) List(ctx context.Context) ([]*Schedule, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+scheduleColumns+" FROM schedules ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListEnabled returns every schedule with enabled=true, used to seed the
// cron engine on process start (SPEC_FULL §4.I).
func (r SchedulesRepo) ListEnabled(ctx context.Context) ([]*Schedule, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE enabled=1 ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r SchedulesRepo) Update(ctx context.Context, s *Schedule) error {
	const q = `
		UPDATE schedules SET
			name=?, cron_expr=?, duration_minutes=?, fps_override=?, enabled=?, updated_at=CURRENT_TIMESTAMP
		WHERE id=?`
	res, err := r.db.ExecContext(ctx, q, s.Name, s.CronExpr, s.DurationMinutes, s.FPSOverride, boolToInt(s.Enabled), s.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r SchedulesRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE schedules SET enabled=?, updated_at=CURRENT_TIMESTAMP WHERE id=?", boolToInt(enabled), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r SchedulesRepo) SetNextRun(ctx context.Context, id int64, next time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE schedules SET next_run_at=? WHERE id=?", next, id)
	return err
}

func (r SchedulesRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id=?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
