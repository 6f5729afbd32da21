// Package main implements the chirp coordinator, the process every other
// server and client discovers the cluster through.
//
// The coordinator keeps three registration-ordered tables (masters, slaves,
// follow syncs) fed by heartbeat streams, routes users to masters by ID,
// and pairs masters with their slaves. It never relays application
// traffic: after discovery, clients and servers talk directly.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
	"github.com/dreamware/chirp/internal/coordinator"
)

func main() {
	addr := getenv("COORDINATOR_ADDR", ":8000")
	shardCount := getenvInt("COORDINATOR_SHARDS", 3)

	srv := newServer(shardCount)
	go srv.monitor.Start()
	defer srv.monitor.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/heartbeats", srv.handleHeartbeats)
	mux.HandleFunc("/assign", srv.handleAssign)
	mux.HandleFunc("/slave", srv.handleSlave)
	mux.HandleFunc("/followsyncs", srv.handleFollowSyncs)
	mux.HandleFunc("/servers", srv.handleListServers)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s (%d shards)", addr, shardCount)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Println("coordinator stopped")
}

type server struct {
	registry *coordinator.Registry
	monitor  *coordinator.LivenessMonitor
}

func newServer(shardCount int) *server {
	reg := coordinator.NewRegistry(shardCount)
	mon := coordinator.NewLivenessMonitor(reg,
		coordinator.DefaultLivenessWindow, cluster.HeartbeatInterval)
	return &server{registry: reg, monitor: mon}
}

// handleHeartbeats consumes one server's long-lived heartbeat stream. The
// response headers go out immediately so the dialing server unblocks, then
// beats are folded into the registry until the stream ends. A server that
// stops beating is never evicted, only flagged stale by the monitor.
func (s *server) handleHeartbeats(w http.ResponseWriter, r *http.Request) {
	// Full duplex keeps the server from draining the never-ending beat
	// body before committing the response headers. Writers that are
	// duplex already report ErrNotSupported, which is fine.
	rc := http.NewResponseController(w)
	if err := rc.EnableFullDuplex(); err != nil {
		log.Printf("heartbeats: full duplex: %v", err)
	}
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Printf("heartbeats: flush: %v", err)
		return
	}

	dec := json.NewDecoder(r.Body)
	for {
		var beat cluster.Heartbeat
		if err := dec.Decode(&beat); err != nil {
			return
		}
		if beat.ServerID <= 0 {
			log.Printf("heartbeats: dropping beat with bad server id %d", beat.ServerID)
			continue
		}
		s.registry.Record(beat)
	}
}

// handleAssign routes a user to a master: GET /assign?user_id=N.
func (s *server) handleAssign(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "bad user_id", http.StatusBadRequest)
		return
	}
	rec, err := s.registry.AssignMaster(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	log.Printf("assign: user %d -> master %d @ %s", userID, rec.ServerID, rec.Addr())
	writeJSON(w, rec.ServerInfo)
}

// handleSlave pairs a master with its slave: GET /slave?cluster_id=N.
func (s *server) handleSlave(w http.ResponseWriter, r *http.Request) {
	clusterID, err := strconv.Atoi(r.URL.Query().Get("cluster_id"))
	if err != nil {
		http.Error(w, "bad cluster_id", http.StatusBadRequest)
		return
	}
	rec, err := s.registry.GetSlave(clusterID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, rec.ServerInfo)
}

// handleFollowSyncs resolves the follow-sync server responsible for each
// requested user: POST /followsyncs {"user_ids":[...]}.
func (s *server) handleFollowSyncs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserIDs []int `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	assignments, err := s.registry.FollowSyncsFor(req.UserIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	out := make(map[string]cluster.ServerInfo, len(assignments))
	for userID, rec := range assignments {
		out[strconv.Itoa(userID)] = rec.ServerInfo
	}
	writeJSON(w, struct {
		Servers map[string]cluster.ServerInfo `json:"servers"`
	}{Servers: out})
}

// handleListServers reports every registered server with its liveness flag.
func (s *server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		cluster.ServerInfo
		Live bool `json:"live"`
	}
	records := s.registry.Servers()
	out := make([]entry, 0, len(records))
	for _, rec := range records {
		out = append(out, entry{
			ServerInfo: rec.ServerInfo,
			Live:       s.monitor.IsLive(rec.ServerID, rec.Type),
		})
	}
	writeJSON(w, struct {
		Servers []entry `json:"servers"`
	}{Servers: out})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("bad %s: %v", k, err)
	}
	return n
}
