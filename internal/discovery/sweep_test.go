package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostsIn24Enumeration(t *testing.T) {
	hosts, err := hostsIn24([]byte{192, 168, 1, 57})
	require.NoError(t, err)
	assert.Len(t, hosts, 254)
	assert.Equal(t, "192.168.1.1", hosts[0])
	assert.Equal(t, "192.168.1.254", hosts[253])
}

func TestHostsIn24RejectsIPv6(t *testing.T) {
	_, err := hostsIn24(net.ParseIP("::1"))
	assert.Error(t, err)
}

func TestDetectProfileHints(t *testing.T) {
	s, tt, g := detectProfileHints([]string{"onvif://www.onvif.org/Profile/S", "onvif://www.onvif.org/Profile/T"})
	assert.True(t, s)
	assert.True(t, tt)
	assert.False(t, g)
}

func TestParseProbeMatchRejectsGarbage(t *testing.T) {
	_, ok := parseProbeMatch("192.0.2.1", []byte("not xml"))
	assert.False(t, ok)
}

func TestParseProbeMatchExtractsXAddrsAndScopes(t *testing.T) {
	msg := `<?xml version="1.0"?>
<e:Envelope xmlns:e="http://www.w3.org/2003/05/soap-envelope" xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery">
  <e:Body>
    <d:ProbeMatches>
      <d:ProbeMatch>
        <d:EndpointReference><d:Address>urn:uuid:abc</d:Address></d:EndpointReference>
        <d:Types>dn:NetworkVideoTransmitter</d:Types>
        <d:Scopes>onvif://www.onvif.org/Profile/S</d:Scopes>
        <d:XAddrs>http://192.0.2.1/onvif/device_service</d:XAddrs>
      </d:ProbeMatch>
    </d:ProbeMatches>
  </e:Body>
</e:Envelope>`

	cand, ok := parseProbeMatch("192.0.2.1", []byte(msg))
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", cand.Address)
	assert.Contains(t, cand.XAddrs, "http://192.0.2.1/onvif/device_service")
	assert.True(t, cand.ProfileS)
}
