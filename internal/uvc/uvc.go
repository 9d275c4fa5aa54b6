// Package uvc probes USB Video Class (webcam) devices attached to the host
// running the core (SPEC_FULL §4.E). Enumeration is platform-specific (see
// uvc_linux.go / uvc_windows.go / uvc_darwin.go); format selection is
// shared and grounded on the teacher's plain-function style in
// internal/platform rather than any one platform file.
package uvc

import (
	"context"
	"sort"

	"github.com/camdeck/core/internal/corerr"
)

// PixelFormat is a fourcc-style video format tag reported by the capture
// backend (e.g. "MJPG", "YUYV", "NV12").
type PixelFormat string

const (
	FormatMJPG PixelFormat = "MJPG"
	FormatYUYV PixelFormat = "YUYV"
)

// StreamOption is one (format, resolution, fps) combination a device node
// can be opened with.
type StreamOption struct {
	Format PixelFormat `json:"format"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	FPS    int         `json:"fps"`
}

// Device is a USB video capture device node discovered on the host.
type Device struct {
	Node    string // e.g. "/dev/video0", or a Windows/macOS moniker path
	Name    string
	Options []StreamOption
}

// List enumerates every UVC device node on the host, excluding nodes whose
// only advertised formats are metadata-only (no image formats at all) —
// some v4l2 drivers expose a companion "metadata" node alongside the real
// capture node (SPEC_FULL §4.E).
func List(ctx context.Context) ([]Device, error) {
	devices, err := platformList(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if len(d.Options) == 0 {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// SelectBest picks the capture configuration the core should default to
// for a device: MJPG is preferred over YUYV (lower USB bandwidth for the
// same resolution), ties broken by largest resolution, then by highest
// fps (SPEC_FULL §4.E).
func SelectBest(d Device) (StreamOption, error) {
	if len(d.Options) == 0 {
		return StreamOption{}, corerr.New(corerr.NotFound, "uvc.SelectBest",
			errNoOptions(d.Node))
	}

	opts := make([]StreamOption, len(d.Options))
	copy(opts, d.Options)

	sort.Slice(opts, func(i, j int) bool {
		pi, pj := formatPriority(opts[i].Format), formatPriority(opts[j].Format)
		if pi != pj {
			return pi > pj
		}
		areaI, areaJ := opts[i].Width*opts[i].Height, opts[j].Width*opts[j].Height
		if areaI != areaJ {
			return areaI > areaJ
		}
		return opts[i].FPS > opts[j].FPS
	})

	return opts[0], nil
}

func formatPriority(f PixelFormat) int {
	switch f {
	case FormatMJPG:
		return 2
	case FormatYUYV:
		return 1
	default:
		return 0
	}
}

type noOptionsError struct{ node string }

func (e noOptionsError) Error() string { return "uvc: device " + e.node + " advertises no usable formats" }

func errNoOptions(node string) error { return noOptionsError{node: node} }
