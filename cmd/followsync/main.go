// Package main implements the chirp follow-sync helper, a sidecar that
// registers with the coordinator as a sync server and exposes the
// cross-shard reconciliation endpoints.
//
// The helper's job is to carry follow edges and timeline entries between
// shards whose users reference each other. Servers find their sync helper
// through the coordinator's /followsyncs route and push documents here;
// the shard servers pick merged edges back up through their periodic
// reload of follow.json.
//
// Configuration:
//   - SYNC_ID: Numeric identifier (required)
//   - SYNC_LISTEN: Listen address (default: ":8101")
//   - SYNC_IP: Address advertised in heartbeats (default: "127.0.0.1")
//   - SYNC_PORT: Port advertised in heartbeats (default: "8101")
//   - COORDINATOR_ADDR: Coordinator URL (required)
//   - DATA_DIR: Shard document directory to merge into (default: "data/sync-{id}")
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
	"github.com/dreamware/chirp/internal/storage"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	syncID := mustGetenvInt("SYNC_ID")
	listen := getenv("SYNC_LISTEN", ":8101")
	ip := getenv("SYNC_IP", "127.0.0.1")
	port := getenv("SYNC_PORT", "8101")
	coord := mustGetenv("COORDINATOR_ADDR")
	dataDir := getenv("DATA_DIR", "data/sync-"+strconv.Itoa(syncID))

	store, err := storage.Open(dataDir)
	if err != nil {
		logFatal("open store: %v", err)
	}

	srv := &syncServer{store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sync/users", srv.handleSyncUsers)
	mux.HandleFunc("/sync/relations", srv.handleSyncRelations)
	mux.HandleFunc("/sync/timeline", srv.handleSyncTimeline)

	hb := cluster.NewHeartbeatReporter(coord, cluster.ServerInfo{
		ServerID: syncID,
		Type:     cluster.TypeSync,
		IP:       ip,
		Port:     port,
	})
	go hb.Run()
	defer hb.Stop()

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("followsync[%d] listening on %s", syncID, listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Println("followsync stopped")
}

type syncServer struct {
	store storage.Store
}

// handleSyncUsers merges pushed users into the local follow document.
func (s *syncServer) handleSyncUsers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Usernames []string `json:"usernames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	for _, name := range req.Usernames {
		if err := s.store.CreateUser(name); err != nil {
			log.Printf("sync users: %s: %v", name, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	log.Printf("sync users: merged %d users", len(req.Usernames))
	w.WriteHeader(http.StatusNoContent)
}

// handleSyncRelations merges pushed follow edges, keeping their original
// follow timestamps.
func (s *syncServer) handleSyncRelations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Edges []struct {
			Follower  string `json:"follower"`
			Followee  string `json:"followee"`
			Timestamp int64  `json:"timestamp"`
		} `json:"edges"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	for _, e := range req.Edges {
		if err := s.store.AddFollow(e.Follower, e.Followee, e.Timestamp); err != nil {
			log.Printf("sync relations: %s -> %s: %v", e.Follower, e.Followee, err)
		}
	}
	log.Printf("sync relations: merged %d edges", len(req.Edges))
	w.WriteHeader(http.StatusNoContent)
}

// handleSyncTimeline appends pushed posts with their carried timestamps.
func (s *syncServer) handleSyncTimeline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Posts []storage.Post `json:"posts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	for _, p := range req.Posts {
		if err := s.store.AppendPost(p); err != nil {
			log.Printf("sync timeline: post by %s: %v", p.Username, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	log.Printf("sync timeline: merged %d posts", len(req.Posts))
	w.WriteHeader(http.StatusNoContent)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}

func mustGetenvInt(k string) int {
	n, err := strconv.Atoi(mustGetenv(k))
	if err != nil {
		logFatal("bad %s: %v", k, err)
	}
	return n
}
