package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/camdeck/core/internal/corerr"
	"github.com/camdeck/core/internal/store"
)

// Server mounts the Facade behind chi's JSON-over-HTTP routing and a
// websocket event feed, on the same loopback listener the media server
// binds (SPEC_FULL §4.J). Grounded on the teacher's own API router shape,
// rate-limited with go-chi/httprate the way the rest of the pack's HTTP
// services are.
type Server struct {
	log    *zap.Logger
	facade *Facade
	hub    *Hub
}

// NewServer builds a Server. hub may be started by the caller independently
// (it only needs an eventbus subscription channel, wired at cmd/ level).
func NewServer(f *Facade, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, facade: f, hub: hub}
}

// Router builds the chi router. Rate limiting is per-remote-address, loose
// enough to never bother a single local UI but to bound a runaway client.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(httprate.LimitByRealIP(200, time.Minute))

	r.Route("/rpc", func(r chi.Router) {
		r.Get("/cameras", s.handleGetCameras)
		r.Post("/cameras", s.handleAddCamera)
		r.Delete("/cameras/{id}", s.handleDeleteCamera)
		r.Post("/cameras/discover", s.handleDiscoverCameras)
		r.Get("/cameras/discover/uvc", s.handleDiscoverUVCDevices)

		r.Post("/cameras/{id}/stream/start", s.handleStartStream)
		r.Post("/cameras/{id}/stream/stop", s.handleStopStream)

		r.Post("/cameras/{id}/recording/start", s.handleStartRecording)
		r.Post("/cameras/{id}/recording/stop", s.handleStopRecording)
		r.Get("/recordings", s.handleGetRecordings)
		r.Delete("/recordings/{id}", s.handleDeleteRecording)
		r.Get("/recordings/active", s.handleGetRecordingCameras)

		r.Get("/cameras/{id}/ptz/capabilities", s.handleCheckPTZCapabilities)
		r.Post("/cameras/{id}/ptz/move", s.handleMovePTZ)
		r.Post("/cameras/{id}/ptz/stop", s.handleStopPTZ)

		r.Get("/cameras/{id}/time", s.handleGetCameraTime)
		r.Post("/cameras/{id}/time/sync", s.handleSyncCameraTime)

		r.Get("/schedules", s.handleGetRecordingSchedules)
		r.Post("/schedules", s.handleAddRecordingSchedule)
		r.Put("/schedules/{id}", s.handleUpdateRecordingSchedule)
		r.Delete("/schedules/{id}", s.handleDeleteRecordingSchedule)
		r.Post("/schedules/{id}/toggle", s.handleToggleSchedule)

		r.Post("/encoder/detect", s.handleDetectGPU)
		r.Get("/encoder/settings", s.handleGetEncoderSettings)
		r.Put("/encoder/settings", s.handleUpdateEncoderSettings)

		r.Get("/server/info", s.handleGetServerInfo)
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}

	return r
}

// --- helpers ---------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	kind := corerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case corerr.NotFound:
		status = http.StatusNotFound
	case corerr.AlreadyExists, corerr.Conflict:
		status = http.StatusConflict
	case corerr.InvalidInput:
		status = http.StatusBadRequest
	case corerr.Unauthorized:
		status = http.StatusUnauthorized
	case corerr.Unreachable, corerr.Timeout:
		status = http.StatusGatewayTimeout
	}
	s.log.Warn("rpc: request failed", zap.String("op", op), zap.Error(err))
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// --- cameras -----------------------------------------------------------

func (s *Server) handleGetCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := s.facade.GetCameras(r.Context())
	if err != nil {
		s.writeError(w, "GetCameras", err)
		return
	}
	writeJSON(w, http.StatusOK, cams)
}

func (s *Server) handleAddCamera(w http.ResponseWriter, r *http.Request) {
	var cam store.Camera
	if err := json.NewDecoder(r.Body).Decode(&cam); err != nil {
		s.writeError(w, "AddCamera", corerr.New(corerr.InvalidInput, "rpc.AddCamera", err))
		return
	}
	if err := s.facade.AddCamera(r.Context(), &cam); err != nil {
		s.writeError(w, "AddCamera", err)
		return
	}
	writeJSON(w, http.StatusCreated, &cam)
}

func (s *Server) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "DeleteCamera", corerr.New(corerr.InvalidInput, "rpc.DeleteCamera", err))
		return
	}
	if err := s.facade.DeleteCamera(r.Context(), id); err != nil {
		s.writeError(w, "DeleteCamera", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDiscoverCameras(w http.ResponseWriter, r *http.Request) {
	cands, err := s.facade.DiscoverCameras(r.Context())
	if err != nil {
		s.writeError(w, "DiscoverCameras", err)
		return
	}
	writeJSON(w, http.StatusOK, cands)
}

func (s *Server) handleDiscoverUVCDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.facade.DiscoverUVCDevices(r.Context())
	if err != nil {
		s.writeError(w, "DiscoverUVCDevices", err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// --- streaming -----------------------------------------------------------

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "StartStream", corerr.New(corerr.InvalidInput, "rpc.StartStream", err))
		return
	}
	playlistURL, err := s.facade.StartStream(r.Context(), id)
	if err != nil {
		s.writeError(w, "StartStream", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"playlistUrl": playlistURL})
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "StopStream", corerr.New(corerr.InvalidInput, "rpc.StopStream", err))
		return
	}
	if err := s.facade.StopStream(r.Context(), id); err != nil {
		s.writeError(w, "StopStream", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// --- recording -----------------------------------------------------------

type startRecordingRequest struct {
	FPSOverride  int `json:"fpsOverride,omitempty"`
	DurationMins int `json:"durationMinutes,omitempty"`
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "StartRecording", corerr.New(corerr.InvalidInput, "rpc.StartRecording", err))
		return
	}
	var req startRecordingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, "StartRecording", corerr.New(corerr.InvalidInput, "rpc.StartRecording", err))
			return
		}
	}
	var duration time.Duration
	if req.DurationMins > 0 {
		duration = time.Duration(req.DurationMins) * time.Minute
	}
	if err := s.facade.StartRecording(r.Context(), id, req.FPSOverride, duration); err != nil {
		s.writeError(w, "StartRecording", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "StopRecording", corerr.New(corerr.InvalidInput, "rpc.StopRecording", err))
		return
	}
	if err := s.facade.StopRecording(r.Context(), id); err != nil {
		s.writeError(w, "StopRecording", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.facade.GetRecordings(r.Context())
	if err != nil {
		s.writeError(w, "GetRecordings", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "DeleteRecording", corerr.New(corerr.InvalidInput, "rpc.DeleteRecording", err))
		return
	}
	if err := s.facade.DeleteRecording(r.Context(), id); err != nil {
		s.writeError(w, "DeleteRecording", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetRecordingCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.GetRecordingCameras())
}

// --- PTZ & clock sync ----------------------------------------------------

func (s *Server) handleCheckPTZCapabilities(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "CheckPTZCapabilities", corerr.New(corerr.InvalidInput, "rpc.CheckPTZCapabilities", err))
		return
	}
	caps, err := s.facade.CheckPTZCapabilities(r.Context(), id)
	if err != nil {
		s.writeError(w, "CheckPTZCapabilities", err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

type movePTZRequest struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Zoom       float64 `json:"zoom"`
	TimeoutSec int     `json:"timeoutSeconds,omitempty"`
}

func (s *Server) handleMovePTZ(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "MovePTZ", corerr.New(corerr.InvalidInput, "rpc.MovePTZ", err))
		return
	}
	var req movePTZRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "MovePTZ", corerr.New(corerr.InvalidInput, "rpc.MovePTZ", err))
		return
	}
	var timeout time.Duration
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	if err := s.facade.MovePTZ(r.Context(), id, req.X, req.Y, req.Zoom, timeout); err != nil {
		s.writeError(w, "MovePTZ", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleStopPTZ(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "StopPTZ", corerr.New(corerr.InvalidInput, "rpc.StopPTZ", err))
		return
	}
	if err := s.facade.StopPTZ(r.Context(), id); err != nil {
		s.writeError(w, "StopPTZ", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetCameraTime(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "GetCameraTime", corerr.New(corerr.InvalidInput, "rpc.GetCameraTime", err))
		return
	}
	t, err := s.facade.GetCameraTime(r.Context(), id)
	if err != nil {
		s.writeError(w, "GetCameraTime", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"time": t})
}

func (s *Server) handleSyncCameraTime(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "SyncCameraTime", corerr.New(corerr.InvalidInput, "rpc.SyncCameraTime", err))
		return
	}
	res, err := s.facade.SyncCameraTime(r.Context(), id)
	if err != nil {
		s.writeError(w, "SyncCameraTime", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- schedules -----------------------------------------------------------

func (s *Server) handleGetRecordingSchedules(w http.ResponseWriter, r *http.Request) {
	sch, err := s.facade.GetRecordingSchedules(r.Context())
	if err != nil {
		s.writeError(w, "GetRecordingSchedules", err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) handleAddRecordingSchedule(w http.ResponseWriter, r *http.Request) {
	var sch store.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sch); err != nil {
		s.writeError(w, "AddRecordingSchedule", corerr.New(corerr.InvalidInput, "rpc.AddRecordingSchedule", err))
		return
	}
	if err := s.facade.AddRecordingSchedule(r.Context(), &sch); err != nil {
		s.writeError(w, "AddRecordingSchedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, &sch)
}

func (s *Server) handleUpdateRecordingSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "UpdateRecordingSchedule", corerr.New(corerr.InvalidInput, "rpc.UpdateRecordingSchedule", err))
		return
	}
	var sch store.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sch); err != nil {
		s.writeError(w, "UpdateRecordingSchedule", corerr.New(corerr.InvalidInput, "rpc.UpdateRecordingSchedule", err))
		return
	}
	sch.ID = id
	if err := s.facade.UpdateRecordingSchedule(r.Context(), &sch); err != nil {
		s.writeError(w, "UpdateRecordingSchedule", err)
		return
	}
	writeJSON(w, http.StatusOK, &sch)
}

func (s *Server) handleDeleteRecordingSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "DeleteRecordingSchedule", corerr.New(corerr.InvalidInput, "rpc.DeleteRecordingSchedule", err))
		return
	}
	if err := s.facade.DeleteRecordingSchedule(r.Context(), id); err != nil {
		s.writeError(w, "DeleteRecordingSchedule", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, "ToggleSchedule", corerr.New(corerr.InvalidInput, "rpc.ToggleSchedule", err))
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, "ToggleSchedule", corerr.New(corerr.InvalidInput, "rpc.ToggleSchedule", err))
		return
	}
	if err := s.facade.ToggleSchedule(r.Context(), id, body.Enabled); err != nil {
		s.writeError(w, "ToggleSchedule", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// --- encoder settings ------------------------------------------------------

func (s *Server) handleDetectGPU(w http.ResponseWriter, r *http.Request) {
	settings, err := s.facade.DetectGPU(r.Context())
	if err != nil {
		s.writeError(w, "DetectGPU", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetEncoderSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.GetEncoderSettings())
}

func (s *Server) handleUpdateEncoderSettings(w http.ResponseWriter, r *http.Request) {
	var req EncoderSettingsView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "UpdateEncoderSettings", corerr.New(corerr.InvalidInput, "rpc.UpdateEncoderSettings", err))
		return
	}
	if err := s.facade.UpdateEncoderSettings(req.Policy, req.Quality); err != nil {
		s.writeError(w, "UpdateEncoderSettings", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- server info -----------------------------------------------------------

func (s *Server) handleGetServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.GetServerInfo())
}
