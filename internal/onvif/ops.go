package onvif

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/camdeck/core/internal/corerr"
)

// Profile is the subset of an ONVIF media profile the core cares about.
type Profile struct {
	Token string
	Name  string
}

// GetProfiles returns every media profile the device reports. Callers that
// only need "the" profile should take the first in document order, per
// SPEC_FULL §4.C.
func (c *Client) GetProfiles(ctx context.Context) ([]Profile, error) {
	body := `<trt:GetProfiles xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`
	resp, err := c.do(ctx, body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Body struct {
			GetProfilesResponse struct {
				Profiles []struct {
					Name  string `xml:"Name"`
					Token string `xml:"token,attr"`
				} `xml:"Profiles"`
			} `xml:"GetProfilesResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return nil, corerr.New(corerr.ProtocolError, "onvif.GetProfiles", err)
	}

	out := make([]Profile, 0, len(parsed.Body.GetProfilesResponse.Profiles))
	for _, p := range parsed.Body.GetProfilesResponse.Profiles {
		out = append(out, Profile{Token: p.Token, Name: p.Name})
	}
	return out, nil
}

// FirstProfileToken returns the first profile's token deterministically
// (first in document order), per SPEC_FULL §4.C.
func (c *Client) FirstProfileToken(ctx context.Context) (string, error) {
	profiles, err := c.GetProfiles(ctx)
	if err != nil {
		return "", err
	}
	if len(profiles) == 0 {
		return "", corerr.New(corerr.NotFound, "onvif.FirstProfileToken", fmt.Errorf("device reported no media profiles"))
	}
	return profiles[0].Token, nil
}

// Transport selects the RTSP transport requested of GetStreamUri.
type Transport string

const (
	TransportRTSPUDP Transport = "UDP"
	TransportRTSPTCP Transport = "TCP"
)

// GetStreamUri resolves a playable RTSP URL for profileToken. If the
// camera returns a URI without embedded credentials and credentials are
// configured on the client, they are injected at the authority position
// (SPEC_FULL §4.C).
func (c *Client) GetStreamUri(ctx context.Context, profileToken string, transport Transport) (string, error) {
	body := fmt.Sprintf(`<trt:GetStreamUri xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
		<trt:StreamSetup>
			<trt:Stream xmlns:tt="http://www.onvif.org/ver10/schema">tt:RTP-Unicast</trt:Stream>
			<trt:Transport xmlns:tt="http://www.onvif.org/ver10/schema">
				<tt:Protocol>%s</tt:Protocol>
			</trt:Transport>
		</trt:StreamSetup>
		<trt:ProfileToken>%s</trt:ProfileToken>
	</trt:GetStreamUri>`, transport, profileToken)

	resp, err := c.do(ctx, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Body struct {
			GetStreamUriResponse struct {
				MediaUri struct {
					Uri string `xml:"Uri"`
				} `xml:"MediaUri"`
			} `xml:"GetStreamUriResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return "", corerr.New(corerr.ProtocolError, "onvif.GetStreamUri", err)
	}

	uri := parsed.Body.GetStreamUriResponse.MediaUri.Uri
	if uri == "" {
		return "", corerr.New(corerr.ProtocolError, "onvif.GetStreamUri", fmt.Errorf("empty stream uri"))
	}

	return c.injectCredentials(uri), nil
}

func (c *Client) injectCredentials(rawURL string) string {
	if c.username == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.User != nil {
		return rawURL
	}
	u.User = url.UserPassword(c.username, c.password)
	return u.String()
}

// Capabilities reports whether a PTZ service is advertised by the device,
// per SPEC_FULL §4.C ("used to determine whether a PTZ service address
// exists").
type Capabilities struct {
	HasPTZ    bool
	HasMedia  bool
	PTZXAddr  string
	MediaXAddr string
}

func (c *Client) GetCapabilities(ctx context.Context) (Capabilities, error) {
	body := `<tds:GetCapabilities xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:Category>All</tds:Category>
	</tds:GetCapabilities>`

	resp, err := c.do(ctx, body)
	if err != nil {
		return Capabilities{}, err
	}

	var parsed struct {
		Body struct {
			GetCapabilitiesResponse struct {
				Capabilities struct {
					Media struct {
						XAddr string `xml:"XAddr"`
					} `xml:"Media"`
					PTZ struct {
						XAddr string `xml:"XAddr"`
					} `xml:"PTZ"`
				} `xml:"Capabilities"`
			} `xml:"GetCapabilitiesResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return Capabilities{}, corerr.New(corerr.ProtocolError, "onvif.GetCapabilities", err)
	}

	caps := parsed.Body.GetCapabilitiesResponse.Capabilities
	return Capabilities{
		HasPTZ:     caps.PTZ.XAddr != "",
		HasMedia:   caps.Media.XAddr != "",
		PTZXAddr:   caps.PTZ.XAddr,
		MediaXAddr: caps.Media.XAddr,
	}, nil
}

// PTZVector is a pan/tilt/zoom velocity vector; each component must lie in
// [-1, 1]. ContinuousMove does not clamp: it rejects an out-of-range
// vector with InvalidInput before building the SOAP call, so such values
// never reach the device (SPEC_FULL §8 boundary).
type PTZVector struct {
	X, Y, Zoom float64
}

func (c *Client) ContinuousMove(ctx context.Context, profileToken string, v PTZVector) error {
	if v.X < -1 || v.X > 1 || v.Y < -1 || v.Y > 1 || v.Zoom < -1 || v.Zoom > 1 {
		return corerr.New(corerr.InvalidInput, "onvif.ContinuousMove", fmt.Errorf("ptz components must be in [-1,1]"))
	}

	body := fmt.Sprintf(`<tptz:ContinuousMove xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:Velocity>
			<tt:PanTilt xmlns:tt="http://www.onvif.org/ver10/schema" x="%f" y="%f"/>
			<tt:Zoom xmlns:tt="http://www.onvif.org/ver10/schema" x="%f"/>
		</tptz:Velocity>
	</tptz:ContinuousMove>`, profileToken, v.X, v.Y, v.Zoom)

	_, err := c.do(ctx, body)
	return err
}

func (c *Client) Stop(ctx context.Context, profileToken string, panTilt, zoom bool) error {
	body := fmt.Sprintf(`<tptz:Stop xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl">
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:PanTilt>%t</tptz:PanTilt>
		<tptz:Zoom>%t</tptz:Zoom>
	</tptz:Stop>`, profileToken, panTilt, zoom)

	_, err := c.do(ctx, body)
	return err
}

// GetSystemDateAndTime returns the device's current UTC time.
func (c *Client) GetSystemDateAndTime(ctx context.Context) (time.Time, error) {
	body := `<tds:GetSystemDateAndTime xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>`
	resp, err := c.do(ctx, body)
	if err != nil {
		return time.Time{}, err
	}

	var parsed struct {
		Body struct {
			GetSystemDateAndTimeResponse struct {
				SystemDateAndTime struct {
					UTCDateTime struct {
						Time struct {
							Hour   int `xml:"Hour"`
							Minute int `xml:"Minute"`
							Second int `xml:"Second"`
						} `xml:"Time"`
						Date struct {
							Year  int `xml:"Year"`
							Month int `xml:"Month"`
							Day   int `xml:"Day"`
						} `xml:"Date"`
					} `xml:"UTCDateTime"`
				} `xml:"SystemDateAndTime"`
			} `xml:"GetSystemDateAndTimeResponse"`
		}
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return time.Time{}, corerr.New(corerr.ProtocolError, "onvif.GetSystemDateAndTime", err)
	}

	d := parsed.Body.GetSystemDateAndTimeResponse.SystemDateAndTime.UTCDateTime.Date
	t := parsed.Body.GetSystemDateAndTimeResponse.SystemDateAndTime.UTCDateTime.Time
	return time.Date(d.Year, time.Month(d.Month), d.Day, t.Hour, t.Minute, t.Second, 0, time.UTC), nil
}

// SetSystemDateAndTime sets the device clock to the host's current UTC
// instant, returning the device's prior reported value so callers can
// report drift (SPEC_FULL §4.C / §7).
func (c *Client) SetSystemDateAndTime(ctx context.Context, now time.Time) (before time.Time, err error) {
	before, err = c.GetSystemDateAndTime(ctx)
	if err != nil {
		return time.Time{}, err
	}

	now = now.UTC()
	body := fmt.Sprintf(`<tds:SetSystemDateAndTime xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:DateTimeType>Manual</tds:DateTimeType>
		<tds:DaylightSavings>false</tds:DaylightSavings>
		<tds:UTCDateTime>
			<tt:Time xmlns:tt="http://www.onvif.org/ver10/schema">
				<tt:Hour>%d</tt:Hour>
				<tt:Minute>%d</tt:Minute>
				<tt:Second>%d</tt:Second>
			</tt:Time>
			<tt:Date xmlns:tt="http://www.onvif.org/ver10/schema">
				<tt:Year>%d</tt:Year>
				<tt:Month>%d</tt:Month>
				<tt:Day>%d</tt:Day>
			</tt:Date>
		</tds:UTCDateTime>
	</tds:SetSystemDateAndTime>`,
		now.Hour(), now.Minute(), now.Second(), now.Year(), int(now.Month()), now.Day())

	if _, err := c.do(ctx, body); err != nil {
		return before, err
	}
	return before, nil
}

// BuildXAddr constructs the canonical ONVIF device-service XAddr for a
// host/port, used by discovery and by camera creation when only host/port
// are known.
func BuildXAddr(host string, port int) string {
	if port == 0 || port == 80 {
		return fmt.Sprintf("http://%s/onvif/device_service", host)
	}
	return fmt.Sprintf("http://%s:%d/onvif/device_service", host, port)
}
