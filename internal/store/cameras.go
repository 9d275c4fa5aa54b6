package store

import (
	"context"
	"database/sql"
	"time"
)

// CameraRepo is the repository for the cameras table, grounded on the
// teacher's internal/data.CameraModel (plain database/sql, no ORM).
type CameraRepo struct {
	db *sql.DB
}

func (r CameraRepo) Create(ctx context.Context, c *Camera) error {
	const q = `
		INSERT INTO cameras (
			name, kind, host, port, username, password, xaddr, stream_path,
			device_node, pixel_format, width, height, fps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		c.Name, c.Kind, c.Host, c.Port, c.Username, c.Password, c.XAddr, c.StreamPath,
		c.DeviceNode, c.PixelFormat, c.Width, c.Height, c.FPS,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return r.scanByID(ctx, id, c)
}

func (r CameraRepo) scanByID(ctx context.Context, id int64, c *Camera) error {
	got, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	*c = *got
	return nil
}

const cameraColumns = `
	id, name, kind, host, port, username, password, xaddr, stream_path,
	device_node, pixel_format, width, height, fps, last_seen_at, created_at, updated_at`

func scanCamera(row interface{ Scan(dest ...any) error }) (*Camera, error) {
	var c Camera
	var lastSeen sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Kind, &c.Host, &c.Port, &c.Username, &c.Password, &c.XAddr, &c.StreamPath,
		&c.DeviceNode, &c.PixelFormat, &c.Width, &c.Height, &c.FPS, &lastSeen, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		c.LastSeenAt = &lastSeen.Time
	}
	return &c, nil
}

func (r CameraRepo) GetByID(ctx context.Context, id int64) (*Camera, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+cameraColumns+" FROM cameras WHERE id = ?", id)
	c, err := scanCamera(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (r CameraRepo) List(ctx context.Context) ([]*Camera, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+cameraColumns+" FROM cameras ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Camera
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r CameraRepo) Update(ctx context.Context, c *Camera) error {
	const q = `
		UPDATE cameras SET
			name=?, kind=?, host=?, port=?, username=?, password=?, xaddr=?, stream_path=?,
			device_node=?, pixel_format=?, width=?, height=?, fps=?, updated_at=CURRENT_TIMESTAMP
		WHERE id=?`
	res, err := r.db.ExecContext(ctx, q,
		c.Name, c.Kind, c.Host, c.Port, c.Username, c.Password, c.XAddr, c.StreamPath,
		c.DeviceNode, c.PixelFormat, c.Width, c.Height, c.FPS, c.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastSeen marks a camera as seen (called on stream start).
func (r CameraRepo) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE cameras SET last_seen_at=? WHERE id=?", at, id)
	return err
}

// Delete removes a camera row. Callers (rpc.Facade.DeleteCamera) must
// certify via the stream/recording supervisors that no session or job
// references this id before calling Delete — SPEC_FULL §4.A.
func (r CameraRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM cameras WHERE id=?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
