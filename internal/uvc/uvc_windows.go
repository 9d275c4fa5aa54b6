//go:build windows

package uvc

import (
	"context"
	"strings"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/camdeck/core/internal/corerr"
)

// platformList queries WMI's Win32_PnPEntity class over COM automation for
// USB video capture devices. This follows the same IDispatch session
// idiom the teacher uses for Windows Update Agent automation (see
// internal/patching/windows.go in the pack): CoInitialize, get an
// IDispatch for the automation root, ExecQuery, walk the result
// collection.
func platformList(ctx context.Context) ([]Device, error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		return nil, corerr.New(corerr.Internal, "uvc.platformList", err)
	}
	defer ole.CoUninitialize()

	locator, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, corerr.New(corerr.Unreachable, "uvc.platformList", err)
	}
	defer locator.Release()

	locatorDisp, err := locator.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, corerr.New(corerr.Internal, "uvc.platformList", err)
	}
	defer locatorDisp.Release()

	serviceRaw, err := oleutil.CallMethod(locatorDisp, "ConnectServer")
	if err != nil {
		return nil, corerr.New(corerr.Unreachable, "uvc.platformList", err)
	}
	service := serviceRaw.ToIDispatch()
	defer service.Release()

	query := "SELECT Name, DeviceID FROM Win32_PnPEntity WHERE PNPClass = 'Camera' OR PNPClass = 'Image'"
	resultRaw, err := oleutil.CallMethod(service, "ExecQuery", query)
	if err != nil {
		return nil, corerr.New(corerr.Internal, "uvc.platformList", err)
	}
	result := resultRaw.ToIDispatch()
	defer result.Release()

	countRaw, err := oleutil.GetProperty(result, "Count")
	if err != nil {
		return nil, corerr.New(corerr.Internal, "uvc.platformList", err)
	}
	count := int(countRaw.Val)

	var out []Device
	for i := 0; i < count; i++ {
		itemRaw, err := oleutil.CallMethod(result, "ItemIndex", i)
		if err != nil {
			continue
		}
		item := itemRaw.ToIDispatch()

		name, _ := oleutil.GetProperty(item, "Name")
		deviceID, _ := oleutil.GetProperty(item, "DeviceID")
		item.Release()

		node := strings.TrimSpace(deviceID.ToString())
		if node == "" {
			continue
		}

		// WMI only exposes plug-and-play identity, not capture formats, so
		// this seeds Name/Node and takes Options from probeDshowOptions.
		opts := probeDshowOptions(ctx, node)
		out = append(out, Device{Node: node, Name: strings.TrimSpace(name.ToString()), Options: opts})
	}

	return out, nil
}

// probeDshowOptions returns a single fixed MJPG 1280x720@30 option for
// node. It runs no probe: the formats DirectShow actually advertises for
// the device are not queried, here or when a stream is started.
func probeDshowOptions(ctx context.Context, node string) []StreamOption {
	return []StreamOption{{Format: FormatMJPG, Width: 1280, Height: 720, FPS: 30}}
}
