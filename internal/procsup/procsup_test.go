//go:build unix

package procsup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnWaitCapturesExitCode(t *testing.T) {
	h, err := Spawn(context.Background(), "sh", []string{"-c", "echo hello 1>&2; exit 3"}, nil)
	require.NoError(t, err)

	err = h.Wait()
	assert.Error(t, err)
	assert.Contains(t, h.Diagnostics(), "hello")
}

func TestSpawnWaitSucceedsOnCleanExit(t *testing.T) {
	h, err := Spawn(context.Background(), "sh", []string{"-c", "exit 0"}, nil)
	require.NoError(t, err)
	assert.NoError(t, h.Wait())
}

func TestStopTerminatesLongRunningProcessWithinGrace(t *testing.T) {
	h, err := Spawn(context.Background(), "sh", []string{"-c", "trap 'exit 0' TERM; sleep 30"}, nil)
	require.NoError(t, err)

	start := time.Now()
	err = h.Stop()
	elapsed := time.Since(start)

	assert.NoError(t, err)
	assert.Less(t, elapsed, GraceWindow+time.Second)
}

func TestStopKillsProcessThatIgnoresGracefulSignal(t *testing.T) {
	h, err := Spawn(context.Background(), "sh", []string{"-c", "trap '' TERM; sleep 30"}, nil)
	require.NoError(t, err)

	start := time.Now()
	err = h.Stop()
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.GreaterOrEqual(t, elapsed, GraceWindow)
}

func TestRingBufferWrapsAroundCapacity(t *testing.T) {
	r := newRingBuffer(3)
	r.add("a")
	r.add("b")
	r.add("c")
	r.add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.all())
}
