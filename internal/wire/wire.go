// Package wire defines the reverse-tunnel handshake's on-the-wire request
// and response shapes. The generic request/response framing it rides on
// (header/body iteration, local replies) is an out-of-scope collaborator;
// this package only owns what travels inside that framing.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/blang/semver"
)

// ProtocolVersion is the handshake protocol version this build speaks.
// Bump the minor version for backward-compatible additions to Request or
// Response; bump major for breaking wire changes.
var ProtocolVersion = semver.MustParse("1.0.0")

// HandshakePath is the single request shape the handshake filter recognizes.
const HandshakePath = "/reverse_connections/request"

// Status mirrors the handshake response's status enum. ACCEPTED is the sole
// success value; every other value is a rejection reason.
type Status string

const (
	StatusAccepted        Status = "ACCEPTED"
	StatusInvalidArgument  Status = "InvalidArgument"
)

// Request is the handshake payload an initiator sends after dialing the
// acceptor. NodeUUID is the only field required to be non-empty; ClusterUUID
// and TenantUUID may be overwritten downstream by a TLS SAN overlay.
type Request struct {
	NodeUUID    string `json:"node_uuid"`
	ClusterUUID string `json:"cluster_uuid"`
	TenantUUID  string `json:"tenant_uuid"`
	Version     string `json:"version"`
}

// Response is the handshake reply the acceptor writes back before logically
// closing the connection and parking the duplicated FD.
type Response struct {
	Status Status `json:"status"`
	Text   string `json:"text,omitempty"`
}

// ErrFailedToParse is the exact rejection text the S2 scenario
// requires for a handshake body that fails to parse or is missing
// node_uuid.
const ErrFailedToParse = "Failed to parse request message or required fields missing"

// Encode serializes r as the handshake request body.
func Encode(r *Request) ([]byte, error) {
	r.Version = ProtocolVersion.String()
	return json.Marshal(r)
}

// Decode parses body as a handshake request. It returns an error if the
// body is not valid JSON, but does NOT itself enforce NodeUUID
// non-emptiness — callers apply that rule after any TLS SAN overlay, per
// step 1 vs step 2 ordering.
func Decode(body []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("wire: decode handshake request: %w", err)
	}
	return &r, nil
}

// NegotiateVersion checks that peerVersion is compatible with
// ProtocolVersion: same major version required, any minor/patch accepted.
// An empty peerVersion is treated as "0.0.0", so a peer that sends no
// version fails against major version 1; an unparseable peerVersion is an
// error.
func NegotiateVersion(peerVersion string) error {
	if peerVersion == "" {
		peerVersion = "0.0.0"
	}
	peer, err := semver.Parse(peerVersion)
	if err != nil {
		return fmt.Errorf("wire: unparseable protocol version %q: %w", peerVersion, err)
	}
	if peer.Major != ProtocolVersion.Major {
		return fmt.Errorf("wire: incompatible protocol major version: peer=%s local=%s", peer, ProtocolVersion)
	}
	return nil
}

// EncodeResponse serializes the handshake response.
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses a handshake response body, used by the initiator
// side after it dials and sends a Request.
func DecodeResponse(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("wire: decode handshake response: %w", err)
	}
	return &resp, nil
}
