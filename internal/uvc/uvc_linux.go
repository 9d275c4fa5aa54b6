//go:build linux

package uvc

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/camdeck/core/internal/corerr"
)

// platformList shells out to v4l2-ctl, the standard v4l-utils CLI, the way
// the teacher shells out to platform tools for host facts (see
// internal/platform/windows wmi_discovery.go for the exec.CommandContext +
// text-output-parsing idiom this follows).
func platformList(ctx context.Context) ([]Device, error) {
	nodes, err := listNodes(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(nodes))
	for _, node := range nodes {
		opts, name, err := listFormats(ctx, node)
		if err != nil {
			continue // unreadable node, skip rather than fail the whole probe
		}
		out = append(out, Device{Node: node, Name: name, Options: opts})
	}
	return out, nil
}

var deviceHeaderRe = regexp.MustCompile(`^(.+)\s\(.+\):$`)
var videoNodeRe = regexp.MustCompile(`(/dev/video\d+)`)

func listNodes(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--list-devices")
	output, err := cmd.Output()
	if err != nil {
		return nil, corerr.New(corerr.Unreachable, "uvc.listNodes", err)
	}

	var nodes []string
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := videoNodeRe.FindStringSubmatch(line); m != nil {
			nodes = append(nodes, m[1])
		}
	}
	return nodes, nil
}

var (
	formatLineRe = regexp.MustCompile(`^\[\d+\]:\s'(\w+)'`)
	sizeLineRe   = regexp.MustCompile(`Size:\s+Discrete\s+(\d+)x(\d+)`)
	fpsLineRe    = regexp.MustCompile(`\(([\d.]+)\s+fps\)`)
)

// listFormats parses `v4l2-ctl -d <node> --list-formats-ext`, a nested
// format/size/fps listing.
func listFormats(ctx context.Context, node string) ([]StreamOption, string, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "-d", node, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return nil, "", corerr.New(corerr.Unreachable, "uvc.listFormats", err)
	}

	var opts []StreamOption
	var curFormat PixelFormat
	var curW, curH int

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := formatLineRe.FindStringSubmatch(line); m != nil {
			curFormat = PixelFormat(m[1])
			continue
		}
		if m := sizeLineRe.FindStringSubmatch(line); m != nil {
			curW, _ = strconv.Atoi(m[1])
			curH, _ = strconv.Atoi(m[2])
			continue
		}
		if m := fpsLineRe.FindStringSubmatch(line); m != nil {
			fpsFloat, _ := strconv.ParseFloat(m[1], 64)
			if curFormat != "" && curW > 0 && curH > 0 {
				opts = append(opts, StreamOption{
					Format: curFormat,
					Width:  curW,
					Height: curH,
					FPS:    int(fpsFloat),
				})
			}
		}
	}

	return opts, node, nil
}
