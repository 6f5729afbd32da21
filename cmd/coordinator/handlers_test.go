package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
)

func record(srv *server, id int, t cluster.ServerType, port string) {
	srv.registry.Record(cluster.Heartbeat{
		ServerInfo: cluster.ServerInfo{ServerID: id, Type: t, IP: "127.0.0.1", Port: port},
		Timestamp:  1,
	})
}

func TestHandleHeartbeats(t *testing.T) {
	srv := newServer(3)

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	beats := []cluster.Heartbeat{
		{ServerInfo: cluster.ServerInfo{ServerID: 1, Type: cluster.TypeMaster, IP: "10.0.0.1", Port: "9000"}, Timestamp: 1},
		{ServerInfo: cluster.ServerInfo{ServerID: 1, Type: cluster.TypeSlave, IP: "10.0.0.2", Port: "9001"}, Timestamp: 2},
		{ServerInfo: cluster.ServerInfo{ServerID: 0, Type: cluster.TypeMaster, IP: "bad", Port: "0"}, Timestamp: 3},
	}
	for _, b := range beats {
		if err := enc.Encode(b); err != nil {
			t.Fatalf("encode beat: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/heartbeats", &body)
	w := httptest.NewRecorder()
	srv.handleHeartbeats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	// The malformed beat is dropped, the two real ones are recorded.
	if got := len(srv.registry.Servers()); got != 2 {
		t.Fatalf("registered servers = %d, want 2", got)
	}
}

// The recorder above does not model HTTP/1 body draining, so this test runs
// the handler behind a real server and beats through a live reporter. The
// registry must fill while the stream is still open.
func TestHandleHeartbeatsOverLiveStream(t *testing.T) {
	srv := newServer(2)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleHeartbeats))
	defer ts.Close()

	info := cluster.ServerInfo{ServerID: 1, Type: cluster.TypeMaster, IP: "127.0.0.1", Port: "9000"}
	h := cluster.NewHeartbeatReporter(ts.URL, info)
	go h.Run()
	defer h.Stop()

	// The reporter's first beat is immediate; it must land while the
	// stream is still open, not after the body is fully drained.
	deadline := time.Now().Add(2 * time.Second)
	for {
		servers := srv.registry.Servers()
		if len(servers) == 1 && servers[0].ServerID == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("first beat never reached the registry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleAssign(t *testing.T) {
	srv := newServer(2)
	record(srv, 1, cluster.TypeMaster, "9000")
	record(srv, 2, cluster.TypeMaster, "9010")

	tests := []struct {
		name     string
		userID   string
		wantCode int
		wantID   int
	}{
		{"routes to first master", "2", http.StatusOK, 1},
		{"routes to second master", "3", http.StatusOK, 2},
		{"bad user id", "abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/assign?user_id="+tt.userID, nil)
			w := httptest.NewRecorder()
			srv.handleAssign(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var info cluster.ServerInfo
			if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if info.ServerID != tt.wantID {
				t.Errorf("server id = %d, want %d", info.ServerID, tt.wantID)
			}
		})
	}
}

func TestHandleAssignNoMasters(t *testing.T) {
	srv := newServer(2)

	req := httptest.NewRequest(http.MethodGet, "/assign?user_id=1", nil)
	w := httptest.NewRecorder()
	srv.handleAssign(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleSlave(t *testing.T) {
	srv := newServer(3)
	record(srv, 1, cluster.TypeSlave, "9001")

	req := httptest.NewRequest(http.MethodGet, "/slave?cluster_id=1", nil)
	w := httptest.NewRecorder()
	srv.handleSlave(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var info cluster.ServerInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ServerID != 1 || info.Type != cluster.TypeSlave {
		t.Errorf("got %+v, want slave 1", info)
	}

	req = httptest.NewRequest(http.MethodGet, "/slave?cluster_id=9", nil)
	w = httptest.NewRecorder()
	srv.handleSlave(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("missing slave: status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleFollowSyncs(t *testing.T) {
	srv := newServer(2)
	record(srv, 1, cluster.TypeSync, "9100")
	record(srv, 2, cluster.TypeSync, "9110")

	body, _ := json.Marshal(struct {
		UserIDs []int `json:"user_ids"`
	}{UserIDs: []int{1, 2, 3}})

	req := httptest.NewRequest(http.MethodPost, "/followsyncs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleFollowSyncs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Servers map[string]cluster.ServerInfo `json:"servers"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Servers) != 3 {
		t.Fatalf("assignments = %d, want 3", len(resp.Servers))
	}
	for _, userID := range []int{1, 2, 3} {
		if _, ok := resp.Servers[strconv.Itoa(userID)]; !ok {
			t.Errorf("user %d has no sync server", userID)
		}
	}
}

func TestHandleListServers(t *testing.T) {
	srv := newServer(3)
	record(srv, 1, cluster.TypeMaster, "9000")
	record(srv, 1, cluster.TypeSlave, "9001")

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	w := httptest.NewRecorder()
	srv.handleListServers(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Servers []struct {
			cluster.ServerInfo
			Live bool `json:"live"`
		} `json:"servers"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(resp.Servers))
	}
}
