//go:build darwin

package uvc

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/camdeck/core/internal/corerr"
)

// platformList parses `ffmpeg -f avfoundation -list_devices true -i ""`,
// which AVFoundation prints to stderr as a flat device list rather than a
// per-format table; each device therefore gets a single fixed YUYV
// 1280x720@30 option, which nothing later refines.
func platformList(ctx context.Context) ([]Device, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-f", "avfoundation", "-list_devices", "true", "-i", "")
	output, _ := cmd.CombinedOutput() // ffmpeg exits non-zero for this probe by design

	var devices []Device
	inVideoSection := false
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "AVFoundation video devices") {
			inVideoSection = true
			continue
		}
		if strings.Contains(line, "AVFoundation audio devices") {
			inVideoSection = false
			continue
		}
		if !inVideoSection {
			continue
		}
		if m := avDeviceRe.FindStringSubmatch(line); m != nil {
			devices = append(devices, Device{
				Node: m[1],
				Name: m[2],
				Options: []StreamOption{
					{Format: FormatYUYV, Width: 1280, Height: 720, FPS: 30},
				},
			})
		}
	}

	if len(devices) == 0 {
		return nil, corerr.New(corerr.NotFound, "uvc.platformList", errNoDevices)
	}
	return devices, nil
}

var avDeviceRe = regexp.MustCompile(`\[(\d+)\]\s+(.+)$`)

var errNoDevices = avFoundationError{}

type avFoundationError struct{}

func (avFoundationError) Error() string { return "uvc: no AVFoundation video devices found" }
