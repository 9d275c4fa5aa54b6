// Package onvif implements the subset of the ONVIF SOAP surface the core
// needs (SPEC_FULL §4.C), grounded on the teacher's internal/discovery
// OnvifClient: hand-written envelope templates, no XSD-bound object model.
package onvif

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/camdeck/core/internal/corerr"
)

// DefaultTimeout is used when NewClient is given a zero timeout.
const DefaultTimeout = 10 * time.Second

// Client talks SOAP to a single ONVIF device endpoint.
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	http     *http.Client
}

// NewClient builds a Client against xaddr. username/password may be empty
// for devices that allow unauthenticated Device/Media calls. timeout bounds
// both the underlying http.Client and each individual SOAP call's context;
// a zero timeout falls back to DefaultTimeout (config.Config.SOAPTimeout
// flows in here via the stream supervisor and RPC façade, SPEC_FULL §4.C).
func NewClient(xaddr, username, password string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(xaddr)
	if err != nil {
		return nil, corerr.New(corerr.InvalidInput, "onvif.NewClient", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  u.String(),
		username: username,
		password: password,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// soapEnvelope is the outer template every request is wrapped in.
const soapEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
	<s:Header>%s</s:Header>
	<s:Body>%s</s:Body>
</s:Envelope>`

// do sends bodyInner wrapped in a signed envelope and returns the raw
// response body. Any non-2xx status, a SOAP Fault body, or an XML parse
// failure downstream all collapse into a single ProtocolError per §4.C.
func (c *Client) do(ctx context.Context, bodyInner string) ([]byte, error) {
	header, err := c.securityHeader()
	if err != nil {
		return nil, corerr.New(corerr.Internal, "onvif.do", err)
	}
	payload := fmt.Sprintf(soapEnvelope, header, bodyInner)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBufferString(payload))
	if err != nil {
		return nil, corerr.New(corerr.InvalidInput, "onvif.do", err)
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action=""`)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, corerr.New(corerr.Unreachable, "onvif.do", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, corerr.New(corerr.ProtocolError, "onvif.do", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, corerr.New(corerr.ProtocolError, "onvif.do", fmt.Errorf("onvif http %d: %s", resp.StatusCode, body))
	}

	if fault := extractFault(body); fault != "" {
		return nil, corerr.New(corerr.ProtocolError, "onvif.do", fmt.Errorf("onvif fault: %s", fault))
	}

	return body, nil
}

type soapFaultDoc struct {
	Body struct {
		Fault struct {
			Reason struct {
				Text string `xml:"Text"`
			} `xml:"Reason"`
		} `xml:"Fault"`
	}
}

func extractFault(body []byte) string {
	var f soapFaultDoc
	if err := xml.Unmarshal(body, &f); err != nil {
		return ""
	}
	return f.Body.Fault.Reason.Text
}

// securityHeader builds the WS-UsernameToken password-digest header per
// SPEC_FULL §4.C: nonce = 16 random bytes, created = UTC ISO-8601 with Z,
// digest = Base64(SHA1(nonce_raw || created || password)).
func (c *Client) securityHeader() (string, error) {
	if c.username == "" {
		return "", nil
	}

	nonceRaw := make([]byte, 16)
	if _, err := rand.Read(nonceRaw); err != nil {
		return "", err
	}
	nonceB64 := base64.StdEncoding.EncodeToString(nonceRaw)
	created := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	h := sha1.New()
	h.Write(nonceRaw)
	h.Write([]byte(created))
	h.Write([]byte(c.password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf(`<Security xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
		<UsernameToken>
			<Username>%s</Username>
			<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>
			<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>
			<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>
		</UsernameToken>
	</Security>`, c.username, digest, nonceB64, created), nil
}
