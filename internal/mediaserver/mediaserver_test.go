package mediaserver

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string, string, string) {
	t.Helper()
	root := t.TempDir()
	hlsRoot := filepath.Join(root, "hls")
	recordingsRoot := filepath.Join(root, "recordings")
	thumbnailsRoot := filepath.Join(root, "thumbnails")
	for _, d := range []string{hlsRoot, recordingsRoot, thumbnailsRoot} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	return New(hlsRoot, recordingsRoot, thumbnailsRoot, 38471, nil), hlsRoot, recordingsRoot, thumbnailsRoot
}

func TestServeHLSReturnsManifestWithContentType(t *testing.T) {
	s, hlsRoot, _, _ := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(hlsRoot, "7"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hlsRoot, "7", "stream.m3u8"), []byte("#EXTM3U\n"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/hls/7/stream.m3u8", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
}

func TestServeHLSRejectsPathTraversal(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/hls/7/..%2f..%2fsecret.m3u8", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeRecordingSupportsRangeRequests(t *testing.T) {
	s, _, recordingsRoot, _ := newTestServer(t)
	content := make([]byte, 1024)
	for i := range content {
		content[i] = byte(i % 256)
	}
	require.NoError(t, os.WriteFile(filepath.Join(recordingsRoot, "1_1700000000.mp4"), content, 0o644))

	req := httptest.NewRequest(http.MethodGet, "/recordings/1_1700000000.mp4", nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, 100, rec.Body.Len())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
}

func TestServeThumbnailMissingFileReturns404(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/thumbnails/nope.jpg", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
