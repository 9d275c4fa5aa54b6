package uvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBestPrefersMJPGOverYUYV(t *testing.T) {
	d := Device{Node: "/dev/video0", Options: []StreamOption{
		{Format: FormatYUYV, Width: 1920, Height: 1080, FPS: 30},
		{Format: FormatMJPG, Width: 1280, Height: 720, FPS: 30},
	}}
	best, err := SelectBest(d)
	require.NoError(t, err)
	assert.Equal(t, FormatMJPG, best.Format)
}

func TestSelectBestPrefersLargerResolutionWithinSameFormat(t *testing.T) {
	d := Device{Node: "/dev/video0", Options: []StreamOption{
		{Format: FormatMJPG, Width: 640, Height: 480, FPS: 30},
		{Format: FormatMJPG, Width: 1920, Height: 1080, FPS: 30},
	}}
	best, err := SelectBest(d)
	require.NoError(t, err)
	assert.Equal(t, 1920, best.Width)
}

func TestSelectBestPrefersHigherFPSAsFinalTiebreak(t *testing.T) {
	d := Device{Node: "/dev/video0", Options: []StreamOption{
		{Format: FormatMJPG, Width: 1920, Height: 1080, FPS: 15},
		{Format: FormatMJPG, Width: 1920, Height: 1080, FPS: 60},
	}}
	best, err := SelectBest(d)
	require.NoError(t, err)
	assert.Equal(t, 60, best.FPS)
}

func TestSelectBestErrorsOnNoOptions(t *testing.T) {
	_, err := SelectBest(Device{Node: "/dev/video0"})
	assert.Error(t, err)
}
