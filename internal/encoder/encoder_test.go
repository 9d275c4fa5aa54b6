package encoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampQuality(t *testing.T) {
	assert.Equal(t, defaultQuality, clampQuality(0))
	assert.Equal(t, minQuality, clampQuality(5))
	assert.Equal(t, maxQuality, clampQuality(99))
	assert.Equal(t, 22, clampQuality(22))
}

func TestResolveCPUOnlyNeverShellsOut(t *testing.T) {
	sel, err := NewSelector("/nonexistent/ffmpeg-binary-that-does-not-exist", nil)
	require.NoError(t, err)

	settings, err := sel.Resolve(context.Background(), PolicyCPUOnly, 20)
	require.NoError(t, err)
	assert.Equal(t, KindSoftware, settings.Encoder)
	assert.Equal(t, 20, settings.Quality)
	assert.Equal(t, 2, settings.GOPMultiplier)
}

func TestResolveAutoFallsBackToSoftwareWhenTranscoderMissing(t *testing.T) {
	sel, err := NewSelector("/nonexistent/ffmpeg-binary-that-does-not-exist", nil)
	require.NoError(t, err)

	settings, err := sel.Resolve(context.Background(), PolicyAuto, 0)
	require.NoError(t, err)
	assert.Equal(t, KindSoftware, settings.Encoder)
}

func TestResolveGPUOnlyErrorsWhenTranscoderMissing(t *testing.T) {
	sel, err := NewSelector("/nonexistent/ffmpeg-binary-that-does-not-exist", nil)
	require.NoError(t, err)

	_, err = sel.Resolve(context.Background(), PolicyGPUOnly, 0)
	assert.Error(t, err)
}

func TestResolveCachesAcrossCalls(t *testing.T) {
	sel, err := NewSelector("/nonexistent/ffmpeg-binary-that-does-not-exist", nil)
	require.NoError(t, err)

	first, err := sel.Resolve(context.Background(), PolicyAuto, 0)
	require.NoError(t, err)
	second, err := sel.Resolve(context.Background(), PolicyAuto, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Encoder, second.Encoder)
}
