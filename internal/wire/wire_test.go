package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := &Request{NodeUUID: "N1", ClusterUUID: "C1", TenantUUID: "T1"}
	body, err := Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NodeUUID != "N1" || got.ClusterUUID != "C1" || got.TenantUUID != "T1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Version != ProtocolVersion.String() {
		t.Fatalf("expected version stamped, got %q", got.Version)
	}
}

func TestDecodeMalformedBody(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected decode error for malformed body")
	}
}

func TestNegotiateVersionSameMajor(t *testing.T) {
	if err := NegotiateVersion("1.2.3"); err != nil {
		t.Fatalf("expected compatible version, got %v", err)
	}
}

func TestNegotiateVersionEmptyTreatedAsZero(t *testing.T) {
	if err := NegotiateVersion(""); err == nil {
		t.Fatalf("expected 0.0.0 to be incompatible with major version %d", ProtocolVersion.Major)
	}
}

func TestNegotiateVersionIncompatibleMajor(t *testing.T) {
	if err := NegotiateVersion("2.0.0"); err == nil {
		t.Fatalf("expected incompatible major version to fail negotiation")
	}
}
