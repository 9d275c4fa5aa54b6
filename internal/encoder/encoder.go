// Package encoder selects the transcoder's encoder and quality settings
// for a stream (SPEC_FULL §4.F), probing the configured transcoder binary
// once, self-testing each GPU candidate, and caching the verdict so a
// fleet of cameras starting concurrently collapses into one probe.
package encoder

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/camdeck/core/internal/corerr"
)

// Policy constrains which class of encoder the selector may return.
type Policy string

const (
	PolicyAuto    Policy = "auto"
	PolicyGPUOnly Policy = "gpu_only"
	PolicyCPUOnly Policy = "cpu_only"
)

// Kind identifies the encoder family.
type Kind string

const (
	KindNVENC        Kind = "h264_nvenc"
	KindQSV          Kind = "h264_qsv"
	KindAMF          Kind = "h264_amf"
	KindVAAPI        Kind = "h264_vaapi"
	KindVideoToolbox Kind = "h264_videotoolbox"
	KindSoftware     Kind = "libx264"
)

// Settings is the resolved encode configuration for a stream.
type Settings struct {
	Encoder Kind
	// CRF is used for libx264; CQ is the GPU-encoder equivalent. Both are
	// clamped to [18, 28] (SPEC_FULL §4.F).
	Quality int
	GOPMultiplier int // GOP length = fps * GOPMultiplier, fixed at 2 per §4.F
}

// RateControlFlags returns the transcoder flags selecting the rate-control
// mode appropriate to Encoder: CRF for the software encoder, CQ (or its
// vendor equivalent) for each hardware family (SPEC_FULL §4.B). Shared by
// the stream supervisor and the recording manager so both ffmpeg argument
// builders agree on how a given Settings maps to CLI flags.
func (s Settings) RateControlFlags() []string {
	q := strconv.Itoa(s.Quality)
	switch s.Encoder {
	case KindSoftware:
		return []string{"-preset", "veryfast", "-crf", q}
	case KindNVENC:
		return []string{"-preset", "p4", "-rc", "vbr", "-cq", q}
	case KindQSV:
		return []string{"-global_quality", q}
	case KindAMF:
		return []string{"-rc", "cqp", "-qp_i", q, "-qp_p", q}
	case KindVAAPI:
		return []string{"-qp", q}
	case KindVideoToolbox:
		return []string{"-q:v", q}
	default:
		return []string{"-crf", q}
	}
}

const (
	minQuality   = 18
	maxQuality   = 28
	defaultQuality = 23
	gopMultiplier = 2
)

// gpuPreferenceByOS lists candidate GPU encoders in the order they are
// self-tested, platform-appropriate order first.
var gpuPreferenceByOS = map[string][]Kind{
	"linux":   {KindNVENC, KindQSV, KindAMF, KindVAAPI},
	"windows": {KindNVENC, KindQSV, KindAMF},
	"darwin":  {KindVideoToolbox},
}

// Selector probes the transcoder binary's available encoders once per
// process and caches the result keyed by policy, so repeated
// add_camera/start_stream calls do not re-shell-out.
type Selector struct {
	transcoderPath string
	log            *zap.Logger

	cache  *lru.Cache[string, Kind]
	single singleflight.Group
}

func NewSelector(transcoderPath string, log *zap.Logger) (*Selector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cache, err := lru.New[string, Kind](8)
	if err != nil {
		return nil, corerr.New(corerr.Internal, "encoder.NewSelector", err)
	}
	return &Selector{transcoderPath: transcoderPath, log: log, cache: cache}, nil
}

// Resolve returns the best encoder available under policy, clamping
// quality to the configured value (or defaultQuality if requestedQuality
// is 0). Concurrent callers racing on a cold cache collapse into a single
// probe via singleflight.
func (s *Selector) Resolve(ctx context.Context, policy Policy, requestedQuality int) (Settings, error) {
	quality := clampQuality(requestedQuality)

	if kind, ok := s.cache.Get(string(policy)); ok {
		return Settings{Encoder: kind, Quality: quality, GOPMultiplier: gopMultiplier}, nil
	}

	kindAny, err, _ := s.single.Do(string(policy), func() (interface{}, error) {
		return s.probe(ctx, policy)
	})
	if err != nil {
		return Settings{}, err
	}

	kind := kindAny.(Kind)
	s.cache.Add(string(policy), kind)
	return Settings{Encoder: kind, Quality: quality, GOPMultiplier: gopMultiplier}, nil
}

// Invalidate purges every cached probe verdict, forcing the next Resolve
// call per policy to re-probe. Called after update_encoder_settings
// changes the configured policy or quality (SPEC_FULL §4.B: "cached for
// process lifetime, invalidated on settings change").
func (s *Selector) Invalidate() {
	s.cache.Purge()
}

func clampQuality(q int) int {
	if q == 0 {
		return defaultQuality
	}
	if q < minQuality {
		return minQuality
	}
	if q > maxQuality {
		return maxQuality
	}
	return q
}

func (s *Selector) probe(ctx context.Context, policy Policy) (Kind, error) {
	if policy == PolicyCPUOnly {
		return KindSoftware, nil
	}

	available, err := s.listAvailableEncoders(ctx)
	if err != nil {
		if policy == PolicyGPUOnly {
			return "", err
		}
		s.log.Warn("encoder probe failed, falling back to software", zap.Error(err))
		return KindSoftware, nil
	}

	for _, candidate := range gpuPreferenceByOS[runtime.GOOS] {
		if !available[string(candidate)] {
			continue
		}
		if s.selfTest(ctx, candidate) {
			return candidate, nil
		}
	}

	if policy == PolicyGPUOnly {
		return "", corerr.New(corerr.Unreachable, "encoder.probe", errNoGPU)
	}
	return KindSoftware, nil
}

// listAvailableEncoders runs `<transcoder> -hide_banner -encoders` and
// returns the set of encoder names the binary was built with.
func (s *Selector) listAvailableEncoders(ctx context.Context) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, s.transcoderPath, "-hide_banner", "-encoders")
	out, err := cmd.Output()
	if err != nil {
		return nil, corerr.New(corerr.Unreachable, "encoder.listAvailableEncoders", err)
	}

	set := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		for _, f := range fields {
			if strings.HasPrefix(f, "h264_") || f == "libx264" {
				set[f] = true
			}
		}
	}
	return set, nil
}

// selfTest encodes a single frame of a synthetic test source with
// candidate and reports whether the transcoder exits cleanly, the way the teacher
// self-tests optional subsystems before trusting them in the hot path.
func (s *Selector) selfTest(ctx context.Context, candidate Kind) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=c=black:s=320x240:d=1",
		"-c:v", string(candidate), "-frames:v", "1", "-f", "null", "-",
	}
	cmd := exec.CommandContext(ctx, s.transcoderPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		s.log.Debug("encoder self-test failed", zap.String("encoder", string(candidate)), zap.String("stderr", stderr.String()))
		return false
	}
	return true
}

type noGPUError struct{}

func (noGPUError) Error() string { return "encoder: no working GPU encoder found" }

var errNoGPU = noGPUError{}

// HostCPUCores reports the logical core count (gopsutil, falling back to
// runtime.NumCPU). The selector's policies do not consult it.
func HostCPUCores() int {
	counts, err := cpu.Counts(true)
	if err != nil || counts == 0 {
		return runtime.NumCPU()
	}
	return counts
}
