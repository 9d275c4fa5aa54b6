// Package discovery implements the camera discovery sweep (SPEC_FULL §4.D):
// a bounded-parallel unicast probe across the host's local /24, grounded on
// the teacher's internal/discovery ws_discovery.go multicast WS-Discovery
// client, converted from multicast group membership to a per-host unicast
// probe plus TCP reachability check.
package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	maxWorkers      = 32
	tcpProbeTimeout = 500 * time.Millisecond
	// probeHTTPTimeout bounds the unicast WS-Discovery Probe POST issued
	// directly against each host's device service (SPEC_FULL §4.D: HTTP,
	// not multicast UDP, so the sweep needs no elevated network
	// permissions to run).
	probeHTTPTimeout = 1500 * time.Millisecond
	// SweepBound is the hard ceiling on a single sweep's wall-clock time
	// (SPEC_FULL §4.D: "~3 minute bound").
	SweepBound = 3 * time.Minute
)

// Candidate is a host that answered the discovery probe.
type Candidate struct {
	Address  string   `json:"address"`
	XAddrs   []string `json:"xaddrs,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	Types    []string `json:"types,omitempty"`
	ProfileS bool     `json:"profileS,omitempty"`
	ProfileT bool     `json:"profileT,omitempty"`
	ProfileG bool     `json:"profileG,omitempty"`
}

type envelope struct {
	XMLName xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Envelope"`
	Body    struct {
		ProbeMatches struct {
			ProbeMatch []struct {
				EndpointReference struct {
					Address string `xml:"Address"`
				}
				Types           string `xml:"Types"`
				Scopes          string `xml:"Scopes"`
				XAddrs          string `xml:"XAddrs"`
				MetadataVersion int    `xml:"MetadataVersion"`
			} `xml:"ProbeMatch"`
		} `xml:"http://schemas.xmlsoap.org/ws/2005/04/discovery ProbeMatches"`
	}
}

// Sweep enumerates every host in the /24 containing localAddr, probes each
// concurrently (bounded to maxWorkers), and returns the set of devices that
// answered either a WS-Discovery unicast probe or, failing that, exposed
// TCP port 80 (treated as a candidate ONVIF/HTTP device service endpoint
// the caller can still attempt to bind an ONVIF client against).
//
// The whole sweep is bounded by SweepBound via ctx; callers should derive
// ctx with that timeout. Results are deduplicated by address.
func Sweep(ctx context.Context, localAddr net.IP) ([]Candidate, error) {
	hosts, err := hostsIn24(localAddr)
	if err != nil {
		return nil, err
	}

	type result struct {
		addr string
		cand Candidate
		ok   bool
	}

	resultsCh := make(chan result, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for _, h := range hosts {
		host := h
		g.Go(func() error {
			cand, ok := probeHost(gctx, host)
			select {
			case resultsCh <- result{addr: host, cand: cand, ok: ok}:
			case <-gctx.Done():
			}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(resultsCh)
	}()

	seen := make(map[string]Candidate)
	for r := range resultsCh {
		if r.ok {
			seen[r.addr] = r.cand
		}
	}

	out := make([]Candidate, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out, nil
}

func probeHost(ctx context.Context, host string) (Candidate, bool) {
	if !tcpOpen(ctx, host, 80) {
		return Candidate{}, false
	}

	if cand, ok := probeWSDiscovery(ctx, host); ok {
		return cand, true
	}

	// No WS-Discovery reply but the host answers HTTP on 80: still a
	// candidate, left for the caller to attempt ONVIF GetCapabilities
	// against directly (some devices disable discovery but not the API).
	return Candidate{Address: host}, true
}

func tcpOpen(ctx context.Context, host string, port int) bool {
	d := net.Dialer{Timeout: tcpProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

var probeHTTPClient = &http.Client{Timeout: probeHTTPTimeout}

// probeWSDiscovery sends a WS-Discovery Probe envelope as a unicast HTTP
// POST to host's device service, rather than joining the WS-Discovery
// multicast group, so a sweep needs no raw-socket/multicast permissions
// (SPEC_FULL §4.D).
func probeWSDiscovery(ctx context.Context, host string) (Candidate, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeHTTPTimeout)
	defer cancel()

	msgID := uuid.New().String()
	url := fmt.Sprintf("http://%s/onvif/device_service", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(buildProbe(msgID)))
	if err != nil {
		return Candidate{}, false
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action="http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe"`)

	resp, err := probeHTTPClient.Do(req)
	if err != nil {
		return Candidate{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Candidate{}, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Candidate{}, false
	}

	return parseProbeMatch(host, body)
}

func buildProbe(msgID string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<e:Envelope xmlns:e="http://www.w3.org/2003/05/soap-envelope"
            xmlns:w="http://schemas.xmlsoap.org/ws/2005/04/discovery"
            xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
            xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
	<e:Header>
		<w:MessageID>uuid:` + msgID + `</w:MessageID>
		<w:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</w:To>
		<w:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</w:Action>
	</e:Header>
	<e:Body>
		<d:Probe>
			<d:Types>dn:NetworkVideoTransmitter</d:Types>
		</d:Probe>
	</e:Body>
</e:Envelope>`
}

func parseProbeMatch(host string, data []byte) (Candidate, bool) {
	var env envelope
	if err := xml.Unmarshal(bytes.TrimSpace(data), &env); err != nil {
		return Candidate{}, false
	}
	if len(env.Body.ProbeMatches.ProbeMatch) == 0 {
		return Candidate{}, false
	}

	match := env.Body.ProbeMatches.ProbeMatch[0]
	scopes := strings.Fields(match.Scopes)
	s, t, pg := detectProfileHints(scopes)

	return Candidate{
		Address:  host,
		XAddrs:   strings.Fields(match.XAddrs),
		Scopes:   scopes,
		Types:    strings.Fields(match.Types),
		ProfileS: s,
		ProfileT: t,
		ProfileG: pg,
	}, true
}

func detectProfileHints(scopes []string) (s, t, g bool) {
	for _, sc := range scopes {
		lower := strings.ToLower(sc)
		if strings.Contains(lower, "profile/s") {
			s = true
		}
		if strings.Contains(lower, "profile/t") {
			t = true
		}
		if strings.Contains(lower, "profile/g") {
			g = true
		}
	}
	return
}

// hostsIn24 returns every usable host address ("a.b.c.1".."a.b.c.254") in
// the /24 containing ip.
func hostsIn24(ip net.IP) ([]string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("discovery: %s is not an IPv4 address", ip)
	}

	out := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		out = append(out, fmt.Sprintf("%d.%d.%d.%d", v4[0], v4[1], v4[2], i))
	}
	return out, nil
}

// LocalIPv4 returns the non-loopback IPv4 address of the first active
// network interface, used to seed Sweep's /24 when the caller has not
// pinned a specific subnet.
func LocalIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("discovery: no active IPv4 interface found")
}
