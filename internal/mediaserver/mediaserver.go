// Package mediaserver is the loopback-only HTTP media server (SPEC_FULL
// §4.H): it serves the stream supervisor's HLS working directories, the
// recording manager's finalized MP4s (with range support) and their
// thumbnails. Grounded on the teacher's internal/hlsd handler for routing
// and traversal-guard shape, simplified to the spec's no-auth, loopback-only
// contract (multi-tenant auth is an explicit non-goal here).
package mediaserver

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/camdeck/core/internal/platform/paths"
)

// Server serves every media root the core produces.
type Server struct {
	log            *zap.Logger
	hlsRoot        string
	recordingsRoot string
	thumbnailsRoot string
	mediaPort      int
}

// New builds a Server. Roots must already exist (internal/platform/paths
// .EnsureDataDirs is expected to have created them at startup).
func New(hlsRoot, recordingsRoot, thumbnailsRoot string, mediaPort int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:            log,
		hlsRoot:        hlsRoot,
		recordingsRoot: recordingsRoot,
		thumbnailsRoot: thumbnailsRoot,
		mediaPort:      mediaPort,
	}
}

// Router builds the chi router for the media server, CORS-restricted to
// the loopback origin the server itself listens on (SPEC_FULL §4.H).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	loopbackOrigin := fmt.Sprintf("http://127.0.0.1:%d", s.mediaPort)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{loopbackOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Range"},
		ExposedHeaders: []string{"Content-Range", "Accept-Ranges", "Content-Length"},
	}))

	r.Get("/hls/{camera_id}/{file}", s.serveHLS)
	r.Get("/recordings/{file}", s.serveRecording)
	r.Get("/thumbnails/{file}", s.serveThumbnail)

	return r
}

func (s *Server) serveHLS(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	file := chi.URLParam(r, "file")

	target, err := paths.SafeJoin(s.hlsRoot, cameraID, file)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	switch filepath.Ext(file) {
	case ".m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	case ".ts":
		w.Header().Set("Content-Type", "video/mp2t")
	}

	s.serveFile(w, r, target)
}

func (s *Server) serveRecording(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	target, err := paths.SafeJoin(s.recordingsRoot, file)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, info, ok := s.openRegular(w, r, target)
	if !ok {
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	// http.ServeContent drives the Range-request handling against a real
	// os.File so partial-content requests are satisfied by the stdlib.
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) serveThumbnail(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	target, err := paths.SafeJoin(s.thumbnailsRoot, file)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	s.serveFile(w, r, target)
}

// serveFile serves target with http.ServeFile, logging path-resolution
// failures at debug level — a 404 here is routine (a camera that hasn't
// started streaming yet, or a rolled-off HLS segment).
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, target string) {
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, target)
}

func (s *Server) openRegular(w http.ResponseWriter, r *http.Request, target string) (*os.File, os.FileInfo, bool) {
	f, err := os.Open(target)
	if err != nil {
		http.NotFound(w, r)
		return nil, nil, false
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		http.NotFound(w, r)
		return nil, nil, false
	}
	return f, info, true
}

func init() {
	// Ensure content-type sniffing never misclassifies segment extensions
	// mime doesn't know about on minimal container images.
	_ = mime.AddExtensionType(".ts", "video/mp2t")
	_ = mime.AddExtensionType(".m3u8", "application/vnd.apple.mpegurl")
}
