package store

import "time"

// CameraKind is the discriminator for kind-dependent fields (SPEC_FULL §3).
type CameraKind string

const (
	KindONVIF CameraKind = "onvif"
	KindRTSP  CameraKind = "rtsp"
	KindUVC   CameraKind = "uvc"
)

// Camera is a row in the cameras table. JSON tags make it the direct wire
// shape for internal/rpc's get_cameras/add_camera surface.
type Camera struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Kind     CameraKind `json:"kind"`
	Host     string     `json:"host,omitempty"`
	Port     int        `json:"port,omitempty"`
	Username string     `json:"username,omitempty"`
	Password string     `json:"password,omitempty"`

	// ONVIF
	XAddr string `json:"xaddr,omitempty"`
	// RTSP
	StreamPath string `json:"streamPath,omitempty"`
	// UVC
	DeviceNode  string `json:"deviceNode,omitempty"`
	PixelFormat string `json:"pixelFormat,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	FPS         int    `json:"fps,omitempty"`

	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Recording is a row in the recordings table. Invariant: EndTime >= StartTime,
// and the row is only created once the finalize step has produced the file.
type Recording struct {
	ID        int64     `json:"id"`
	CameraID  int64     `json:"cameraId"`
	Filename  string    `json:"filename"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	SizeBytes int64     `json:"sizeBytes"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	CreatedAt time.Time `json:"createdAt"`
}

// Schedule is a row in the schedules table.
type Schedule struct {
	ID              int64      `json:"id"`
	CameraID        int64      `json:"cameraId"`
	Name            string     `json:"name"`
	CronExpr        string     `json:"cronExpr"`
	DurationMinutes int        `json:"durationMinutes,omitempty"`
	FPSOverride     int        `json:"fpsOverride,omitempty"` // 0 means "no override"
	Enabled         bool       `json:"enabled"`
	NextRunAt       *time.Time `json:"nextRunAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
