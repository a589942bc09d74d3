package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePool struct {
	snapshot map[string]int
	pinged   []string
	evicted  []string
}

func (f *fakePool) Snapshot() map[string]int { return f.snapshot }
func (f *fakePool) Ping(nodeID string)       { f.pinged = append(f.pinged, nodeID) }
func (f *fakePool) Evict(nodeID string)      { f.evicted = append(f.evicted, nodeID) }

type fakeCluster struct{ count int }

func (f *fakeCluster) HostCount() int { return f.count }

func TestHandleStatus(t *testing.T) {
	p := &fakePool{snapshot: map[string]int{"N1": 2, "N2": 0}}
	c := &fakeCluster{count: 3}
	s := NewServer(p, c, nil)

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ParkedNodeCount != 2 || resp.SyntheticHosts != 3 {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestHandlePing(t *testing.T) {
	p := &fakePool{snapshot: map[string]int{}}
	s := NewServer(p, &fakeCluster{}, nil)

	body, _ := json.Marshal(nodeActionRequest{NodeID: "N1"})
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nodes/ping", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(p.pinged) != 1 || p.pinged[0] != "N1" {
		t.Fatalf("expected ping for N1, got %v", p.pinged)
	}
}

func TestHandleEvictMissingNodeID(t *testing.T) {
	p := &fakePool{snapshot: map[string]int{}}
	s := NewServer(p, &fakeCluster{}, nil)

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nodes/evict", bytes.NewReader([]byte("{}"))))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing node_id, got %d", rec.Code)
	}
	if len(p.evicted) != 0 {
		t.Fatalf("expected no eviction, got %v", p.evicted)
	}
}
