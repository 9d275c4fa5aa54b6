package store

import (
	"context"
	"database/sql"
)

// RecordingRepo is the repository for the recordings table. A row is only
// ever inserted at finalize time (SPEC_FULL §3) — there is no "pending"
// state persisted.
type RecordingRepo struct {
	db *sql.DB
}

const recordingColumns = `
	id, camera_id, filename, thumbnail, size_bytes, start_time, end_time, created_at`

func scanRecording(row interface{ Scan(dest ...any) error }) (*Recording, error) {
	var rec Recording
	err := row.Scan(&rec.ID, &rec.CameraID, &rec.Filename, &rec.Thumbnail, &rec.SizeBytes,
		&rec.StartTime, &rec.EndTime, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts a finalized recording row. EndTime >= StartTime is
// enforced at the schema level (CHECK constraint); this method does no
// further validation.
func (r RecordingRepo) Create(ctx context.Context, rec *Recording) error {
	const q = `
		INSERT INTO recordings (camera_id, filename, thumbnail, size_bytes, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, rec.CameraID, rec.Filename, rec.Thumbnail, rec.SizeBytes,
		rec.StartTime, rec.EndTime)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (r RecordingRepo) GetByID(ctx context.Context, id int64) (*Recording, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+recordingColumns+" FROM recordings WHERE id=?", id)
	rec, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r RecordingRepo) List(ctx context.Context) ([]*Recording, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+recordingColumns+" FROM recordings ORDER BY start_time DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r RecordingRepo) ListByCamera(ctx context.Context, cameraID int64) ([]*Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+recordingColumns+" FROM recordings WHERE camera_id=? ORDER BY start_time DESC", cameraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a recording row. Caller deletes the media + thumbnail
// files first (tolerant of missing files), then calls this last.
func (r RecordingRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM recordings WHERE id=?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
