package stream

import (
	"fmt"
	"path/filepath"

	"github.com/camdeck/core/internal/encoder"
	"github.com/camdeck/core/internal/store"
)

// buildArgs constructs the transcoder argument list for a live HLS session
// (SPEC_FULL §4.F step 4). The flag grouping — input flags, then codec,
// then mapping, then muxer — mirrors the teacher pack's mapProfileToArgs
// (ManuGH-xg2g internal/infra/ffmpeg/builder.go), generalized from a
// one-shot VOD transcode to a continuously-rolling live HLS window.
func buildArgs(sourceURL string, kind store.CameraKind, workDir string, settings encoder.Settings, fps int) []string {
	args := []string{
		"-y", "-nostdin", "-hide_banner", "-loglevel", "warning",
		"-fflags", "nobuffer", "-flags", "low_delay",
	}

	if kind == store.KindONVIF || kind == store.KindRTSP {
		args = append(args, "-rtsp_transport", "tcp")
	}

	args = append(args, "-i", sourceURL)

	args = append(args, "-c:v", string(settings.Encoder))
	args = append(args, settings.RateControlFlags()...)

	gop := fps * settings.GOPMultiplier
	args = append(args, "-g", fmt.Sprint(gop))

	args = append(args, "-c:a", "aac", "-ar", "48000", "-ac", "2")

	args = append(args,
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", filepath.Join(workDir, "segment_%05d.ts"),
		filepath.Join(workDir, "stream.m3u8"),
	)

	return args
}
