// Package rpc is the typed command façade (SPEC_FULL §4.J): a synchronous
// request/asynchronous-completion surface over the core's components,
// exposed as JSON-over-HTTP (http.go) and as a websocket event feed
// (hub.go) over the same loopback listener the media server binds.
// Grounded on the teacher's own internal/api service-layer shape: thin
// methods that validate, delegate to a single owning component, and wrap
// every failure in a corerr.Error before it reaches a transport.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camdeck/core/internal/corerr"
	"github.com/camdeck/core/internal/discovery"
	"github.com/camdeck/core/internal/encoder"
	"github.com/camdeck/core/internal/eventbus"
	"github.com/camdeck/core/internal/onvif"
	"github.com/camdeck/core/internal/recording"
	"github.com/camdeck/core/internal/schedule"
	"github.com/camdeck/core/internal/store"
	"github.com/camdeck/core/internal/stream"
	"github.com/camdeck/core/internal/uvc"
)

// Facade wires every core component behind the one surface the RPC
// transports call into. Nothing here owns state beyond the mutable
// encoder-policy snapshot (SPEC_FULL §4.B); everything else is delegated.
type Facade struct {
	log *zap.Logger

	store     *store.Store
	streaming *stream.Supervisor
	recording *recording.Manager
	schedules *schedule.Engine
	encoders  *encoder.Selector
	bus       *eventbus.Bus

	mediaPort   int
	dataRoot    string
	soapTimeout time.Duration

	policyMu sync.RWMutex
	policy   encoder.Policy
	quality  int
}

// New builds a Facade. initialPolicy/initialQuality seed the mutable
// encoder-settings snapshot get_encoder_settings/update_encoder_settings
// read and write. soapTimeout (config.Config.SOAPTimeout) bounds every
// ONVIF call the façade issues directly (PTZ, time sync) and every source
// URL it resolves ahead of a recording; a zero value falls back to
// onvif.DefaultTimeout.
func New(st *store.Store, streaming *stream.Supervisor, rec *recording.Manager, schedules *schedule.Engine,
	encoders *encoder.Selector, bus *eventbus.Bus, mediaPort int, dataRoot string,
	initialPolicy encoder.Policy, initialQuality int, soapTimeout time.Duration, log *zap.Logger) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Facade{
		log:         log,
		store:       st,
		streaming:   streaming,
		recording:   rec,
		schedules:   schedules,
		encoders:    encoders,
		bus:         bus,
		mediaPort:   mediaPort,
		dataRoot:    dataRoot,
		soapTimeout: soapTimeout,
		policy:      initialPolicy,
		quality:     initialQuality,
	}
	f.streaming.SetPolicy(initialPolicy)
	f.recording.SetPolicy(initialPolicy)
	return f
}

// --- cameras -----------------------------------------------------------

// GetCameras lists every camera row.
func (f *Facade) GetCameras(ctx context.Context) ([]*store.Camera, error) {
	return f.store.Cameras.List(ctx)
}

// AddCamera validates kind-dependent required fields and inserts the row
// (SPEC_FULL §3).
func (f *Facade) AddCamera(ctx context.Context, cam *store.Camera) error {
	if err := validateCamera(cam); err != nil {
		return err
	}
	if cam.Kind == store.KindONVIF && cam.XAddr == "" {
		cam.XAddr = onvif.BuildXAddr(cam.Host, cam.Port)
	}
	if err := f.store.Cameras.Create(ctx, cam); err != nil {
		return corerr.New(corerr.Internal, "rpc.AddCamera", err)
	}
	return nil
}

// DiscoverUVCDevices enumerates USB/UVC capture devices attached to the
// host and their SelectBest-recommended capture option, so the add-camera
// UI flow can offer them alongside ONVIF/RTSP discovery results without
// the caller needing to know v4l2/DirectShow/AVFoundation capability
// negotiation (SPEC_FULL §4.E).
func (f *Facade) DiscoverUVCDevices(ctx context.Context) ([]UVCDeviceView, error) {
	devices, err := uvc.List(ctx)
	if err != nil {
		// A missing enumeration tool or no attached device is an empty
		// result, not a failure.
		if k := corerr.KindOf(err); k == corerr.NotFound || k == corerr.Unreachable {
			return []UVCDeviceView{}, nil
		}
		return nil, corerr.New(corerr.Internal, "rpc.DiscoverUVCDevices", err)
	}
	out := make([]UVCDeviceView, 0, len(devices))
	for _, d := range devices {
		view := UVCDeviceView{Node: d.Node, Name: d.Name}
		if best, err := uvc.SelectBest(d); err == nil {
			view.Recommended = &best
		}
		out = append(out, view)
	}
	return out, nil
}

// UVCDeviceView is the add-camera UI's view of a discovered UVC device:
// the node to pass as Camera.DeviceNode, plus the capture option the core
// would default to if none is specified.
type UVCDeviceView struct {
	Node        string            `json:"node"`
	Name        string            `json:"name"`
	Recommended *uvc.StreamOption `json:"recommended,omitempty"`
}

func validateCamera(cam *store.Camera) error {
	if cam.Name == "" {
		return corerr.New(corerr.InvalidInput, "rpc.validateCamera", fmt.Errorf("name is required"))
	}
	switch cam.Kind {
	case store.KindONVIF:
		if cam.Host == "" {
			return corerr.New(corerr.InvalidInput, "rpc.validateCamera", fmt.Errorf("onvif camera requires host"))
		}
	case store.KindRTSP:
		if cam.Host == "" {
			return corerr.New(corerr.InvalidInput, "rpc.validateCamera", fmt.Errorf("rtsp camera requires host"))
		}
	case store.KindUVC:
		if cam.DeviceNode == "" {
			return corerr.New(corerr.InvalidInput, "rpc.validateCamera", fmt.Errorf("uvc camera requires device_node"))
		}
	default:
		return corerr.New(corerr.InvalidInput, "rpc.validateCamera", fmt.Errorf("unknown camera kind %q", cam.Kind))
	}
	return nil
}

// DeleteCamera stops any live stream and in-progress recording for id,
// then deletes the row (SPEC_FULL "Camera delete cascade" scenario). Both
// stops are best-effort: a NotFound from either (nothing was running) is
// not an error.
func (f *Facade) DeleteCamera(ctx context.Context, id int64) error {
	if err := f.streaming.Stop(ctx, id); err != nil && corerr.KindOf(err) != corerr.NotFound {
		return err
	}
	if err := f.recording.Stop(ctx, id); err != nil && corerr.KindOf(err) != corerr.NotFound {
		return err
	}
	if err := f.store.Cameras.Delete(ctx, id); err != nil {
		if err == store.ErrNotFound {
			return corerr.New(corerr.NotFound, "rpc.DeleteCamera", err)
		}
		return corerr.New(corerr.Internal, "rpc.DeleteCamera", err)
	}

	// The delete cascades any schedule rows for id (ON DELETE CASCADE), but
	// the cron engine's in-memory entries map doesn't know that on its own
	// and would keep firing a now-orphaned cron.EntryID forever.
	if err := f.schedules.Reload(ctx); err != nil {
		f.log.Warn("rpc.DeleteCamera: schedule reload after cascade failed", zap.Int64("camera_id", id), zap.Error(err))
	}
	return nil
}

// DiscoverCameras runs a bounded sweep of the host's local subnet.
func (f *Facade) DiscoverCameras(ctx context.Context) ([]discovery.Candidate, error) {
	localIP, err := discovery.LocalIPv4()
	if err != nil {
		return nil, corerr.New(corerr.Internal, "rpc.DiscoverCameras", err)
	}
	ctx, cancel := context.WithTimeout(ctx, discovery.SweepBound)
	defer cancel()
	return discovery.Sweep(ctx, localIP)
}

// --- streaming -----------------------------------------------------------

// StartStream starts (or returns the existing) live HLS session for id.
func (f *Facade) StartStream(ctx context.Context, id int64) (string, error) {
	return f.streaming.Start(ctx, id)
}

// StopStream idempotently tears down id's live session.
func (f *Facade) StopStream(ctx context.Context, id int64) error {
	if err := f.streaming.Stop(ctx, id); err != nil && corerr.KindOf(err) != corerr.NotFound {
		return err
	}
	return nil
}

// --- recording -----------------------------------------------------------

// StartRecording resolves id's source URL the same way a live session
// would and starts an independent capture child.
func (f *Facade) StartRecording(ctx context.Context, id int64, fpsOverride int, duration time.Duration) error {
	cam, err := f.store.Cameras.GetByID(ctx, id)
	if err != nil {
		return corerr.New(corerr.NotFound, "rpc.StartRecording", err)
	}
	sourceURL, err := stream.ResolveSourceURL(ctx, cam, f.soapTimeout)
	if err != nil {
		return err
	}
	return f.recording.Start(ctx, id, sourceURL, cam.FPS, recording.StartOptions{FPSOverride: fpsOverride, Duration: duration})
}

// StopRecording idempotently finalizes id's in-progress recording.
func (f *Facade) StopRecording(ctx context.Context, id int64) error {
	if err := f.recording.Stop(ctx, id); err != nil && corerr.KindOf(err) != corerr.NotFound {
		return err
	}
	return nil
}

// GetRecordings lists every finalized recording.
func (f *Facade) GetRecordings(ctx context.Context) ([]*store.Recording, error) {
	return f.recording.List(ctx)
}

// DeleteRecording removes a recording's media, thumbnail and row.
func (f *Facade) DeleteRecording(ctx context.Context, id int64) error {
	return f.recording.Delete(ctx, id)
}

// GetRecordingCameras lists camera IDs with an in-progress recording.
func (f *Facade) GetRecordingCameras() []int64 {
	return f.recording.RecordingCameras()
}

// --- PTZ & clock sync ----------------------------------------------------

// PTZCapabilities reports whether id advertises a PTZ service.
type PTZCapabilities struct {
	Supported  bool `json:"supported"`
	HasPanTilt bool `json:"hasPanTilt,omitempty"`
	HasZoom    bool `json:"hasZoom,omitempty"`
}

// CheckPTZCapabilities queries id's ONVIF device capabilities.
func (f *Facade) CheckPTZCapabilities(ctx context.Context, id int64) (PTZCapabilities, error) {
	_, client, err := f.onvifClientFor(ctx, id)
	if err != nil {
		return PTZCapabilities{}, err
	}
	caps, err := client.GetCapabilities(ctx)
	if err != nil {
		return PTZCapabilities{}, err
	}
	return PTZCapabilities{Supported: caps.HasPTZ, HasPanTilt: caps.HasPTZ, HasZoom: caps.HasPTZ}, nil
}

// MovePTZ issues a continuous-move command. onvif.Client.ContinuousMove
// rejects any component outside [-1, 1] with InvalidInput before sending.
func (f *Facade) MovePTZ(ctx context.Context, id int64, x, y, zoom float64, timeout time.Duration) error {
	_, client, err := f.onvifClientFor(ctx, id)
	if err != nil {
		return err
	}
	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	token, err := client.FirstProfileToken(opCtx)
	if err != nil {
		return err
	}
	return client.ContinuousMove(opCtx, token, onvif.PTZVector{X: x, Y: y, Zoom: zoom})
}

// StopPTZ halts any in-progress PTZ move.
func (f *Facade) StopPTZ(ctx context.Context, id int64) error {
	_, client, err := f.onvifClientFor(ctx, id)
	if err != nil {
		return err
	}
	token, err := client.FirstProfileToken(ctx)
	if err != nil {
		return err
	}
	return client.Stop(ctx, token, true, true)
}

// GetCameraTime reads id's ONVIF device clock.
func (f *Facade) GetCameraTime(ctx context.Context, id int64) (time.Time, error) {
	_, client, err := f.onvifClientFor(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return client.GetSystemDateAndTime(ctx)
}

// SyncResult reports the outcome of sync_camera_time (SPEC_FULL §6): the
// operation is success-with-drift-reporting, never a user-visible failure
// for a merely-drifted clock.
type SyncResult struct {
	Success    bool      `json:"success"`
	BeforeTime time.Time `json:"beforeTime"`
	ServerTime time.Time `json:"serverTime"`
	Message    string    `json:"message"`
}

// SyncCameraTime sets id's ONVIF device clock to the host's current UTC
// instant and reports the camera's prior value so the UI can display
// drift.
func (f *Facade) SyncCameraTime(ctx context.Context, id int64) (SyncResult, error) {
	_, client, err := f.onvifClientFor(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	now := time.Now().UTC()
	before, err := client.SetSystemDateAndTime(ctx, now)
	if err != nil {
		return SyncResult{}, err
	}
	drift := now.Sub(before)
	return SyncResult{
		Success:    true,
		BeforeTime: before,
		ServerTime: now,
		Message:    fmt.Sprintf("camera clock was off by %s", drift),
	}, nil
}

func (f *Facade) onvifClientFor(ctx context.Context, id int64) (*store.Camera, *onvif.Client, error) {
	cam, err := f.store.Cameras.GetByID(ctx, id)
	if err != nil {
		return nil, nil, corerr.New(corerr.NotFound, "rpc.onvifClientFor", err)
	}
	if cam.Kind != store.KindONVIF {
		return nil, nil, corerr.New(corerr.InvalidInput, "rpc.onvifClientFor", fmt.Errorf("camera %d is not an onvif camera", id))
	}
	client, err := onvif.NewClient(cam.XAddr, cam.Username, cam.Password, f.soapTimeout)
	if err != nil {
		return nil, nil, err
	}
	return cam, client, nil
}

// --- schedules -----------------------------------------------------------

// GetRecordingSchedules lists every schedule.
func (f *Facade) GetRecordingSchedules(ctx context.Context) ([]*store.Schedule, error) {
	return f.schedules.List(ctx)
}

// AddRecordingSchedule registers a new cron-driven schedule.
func (f *Facade) AddRecordingSchedule(ctx context.Context, s *store.Schedule) error {
	return f.schedules.Create(ctx, s)
}

// UpdateRecordingSchedule replaces a schedule's editable fields.
func (f *Facade) UpdateRecordingSchedule(ctx context.Context, s *store.Schedule) error {
	return f.schedules.Update(ctx, s)
}

// DeleteRecordingSchedule removes a schedule.
func (f *Facade) DeleteRecordingSchedule(ctx context.Context, id int64) error {
	return f.schedules.Delete(ctx, id)
}

// ToggleSchedule flips a schedule's enabled flag.
func (f *Facade) ToggleSchedule(ctx context.Context, id int64, enabled bool) error {
	return f.schedules.Toggle(ctx, id, enabled)
}

// --- encoder settings ------------------------------------------------------

// EncoderSettingsView is the user-facing view of the mutable encoder
// configuration (distinct from encoder.Settings, which is per-stream
// resolved state).
type EncoderSettingsView struct {
	Policy  encoder.Policy `json:"policy"`
	Quality int            `json:"quality"`
}

// DetectGPU forces a fresh probe under PolicyAuto and reports what the
// selector would choose, without changing the configured policy.
func (f *Facade) DetectGPU(ctx context.Context) (encoder.Settings, error) {
	f.encoders.Invalidate()
	return f.encoders.Resolve(ctx, encoder.PolicyAuto, 0)
}

// GetEncoderSettings returns the currently configured policy/quality.
func (f *Facade) GetEncoderSettings() EncoderSettingsView {
	f.policyMu.RLock()
	defer f.policyMu.RUnlock()
	return EncoderSettingsView{Policy: f.policy, Quality: f.quality}
}

// UpdateEncoderSettings stores a new policy/quality, invalidating the
// selector's cache and pushing the new policy to the stream supervisor
// and recording manager so the next start (of either kind) picks it up
// (SPEC_FULL §4.B: "invalidated on settings change"). The quality value is
// only stored and reported by GetEncoderSettings; streams and recordings
// resolve with the selector's default quality.
func (f *Facade) UpdateEncoderSettings(policy encoder.Policy, quality int) error {
	switch policy {
	case encoder.PolicyAuto, encoder.PolicyGPUOnly, encoder.PolicyCPUOnly:
	default:
		return corerr.New(corerr.InvalidInput, "rpc.UpdateEncoderSettings", fmt.Errorf("unknown policy %q", policy))
	}

	f.policyMu.Lock()
	f.policy = policy
	f.quality = quality
	f.policyMu.Unlock()

	f.encoders.Invalidate()
	f.streaming.SetPolicy(policy)
	f.recording.SetPolicy(policy)
	return nil
}

// --- server info -----------------------------------------------------------

// ServerInfo answers get_server_info, so the UI collaborator never
// hard-codes the media port (SPEC_FULL §6 ambient addition).
type ServerInfo struct {
	MediaPort int    `json:"mediaPort"`
	DataRoot  string `json:"dataRoot"`
}

// GetServerInfo returns the fixed media port and data root.
func (f *Facade) GetServerInfo() ServerInfo {
	return ServerInfo{MediaPort: f.mediaPort, DataRoot: f.dataRoot}
}
