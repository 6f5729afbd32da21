// Package main implements the chirp shard server, the process that owns one
// shard's users and serves them directly, as master or slave.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│             Shard server                 │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health         - Health check       │
//	│    /rpc/login      - Login/disconnect   │
//	│    /rpc/follow     - Follow edge        │
//	│    /rpc/unfollow   - Unfollow edge      │
//	│    /rpc/list       - Users + followers  │
//	│    /rpc/timeline   - Duplex stream      │
//	│    /rpc/replicate  - Master feed (slave)│
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    graph     - In-memory social graph   │
//	│    storage   - Two JSON documents       │
//	│    timeline  - Replay + fanout engine   │
//	│    heartbeat - Coordinator stream       │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - SERVER_ID: Numeric cluster identifier (required)
//   - SERVER_ROLE: "master" or "slave" (default: "master")
//   - SERVER_LISTEN: Listen address (default: ":8081")
//   - SERVER_IP: Address advertised in heartbeats (default: "127.0.0.1")
//   - SERVER_PORT: Port advertised in heartbeats (default: "8081")
//   - COORDINATOR_ADDR: Coordinator URL (required)
//   - DATA_DIR: Shard document directory (default: "data/server-{id}-{role}")
//
// Example usage:
//
//	# Start the master for cluster 1
//	SERVER_ID=1 \
//	SERVER_ROLE=master \
//	SERVER_LISTEN=:9000 \
//	SERVER_PORT=9000 \
//	COORDINATOR_ADDR=http://localhost:8000 \
//	./shardserver
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
	"github.com/dreamware/chirp/internal/server"
	"github.com/dreamware/chirp/internal/storage"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

const reloadInterval = 30 * time.Second

func main() {
	serverID := mustGetenvInt("SERVER_ID")
	role := server.Role(getenv("SERVER_ROLE", string(server.RoleMaster)))
	listen := getenv("SERVER_LISTEN", ":8081")
	ip := getenv("SERVER_IP", "127.0.0.1")
	port := getenv("SERVER_PORT", "8081")
	coord := mustGetenv("COORDINATOR_ADDR")
	dataDir := getenv("DATA_DIR", "data/server-"+strconv.Itoa(serverID)+"-"+string(role))

	if role != server.RoleMaster && role != server.RoleSlave {
		logFatal("bad SERVER_ROLE %q: want master or slave", role)
	}

	// A malformed document is terminal: refusing to start beats serving a
	// shard whose state cannot be trusted.
	store, err := storage.Open(dataDir)
	if err != nil {
		logFatal("open store: %v", err)
	}

	// A master must pair with its slave before serving.
	var repl *server.Replicator
	if role == server.RoleMaster {
		slave := locateSlave(context.Background(), coord, serverID)
		repl = server.NewReplicator("http://" + slave.Addr())
	}

	srv, err := server.New(server.Config{
		ServerID:       serverID,
		Role:           role,
		ReloadInterval: reloadInterval,
	}, store, repl)
	if err != nil {
		logFatal("start server: %v", err)
	}
	srv.Start()
	defer srv.Stop()

	serverType := cluster.TypeMaster
	if role == server.RoleSlave {
		serverType = cluster.TypeSlave
	}
	hb := cluster.NewHeartbeatReporter(coord, cluster.ServerInfo{
		ServerID: serverID,
		Type:     serverType,
		IP:       ip,
		Port:     port,
	})
	go hb.Run()
	defer hb.Stop()

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("server[%d/%s] listening on %s (data %s)", serverID, role, listen, dataDir)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("server stopped")
}

// locateSlave asks the coordinator for this cluster's slave, retrying to
// cover the slave's startup window. A master cannot safely serve without a
// replication target, so persistent failure is fatal.
func locateSlave(ctx context.Context, coord string, clusterID int) cluster.ServerInfo {
	var info cluster.ServerInfo
	var lastErr error

	url := coord + "/slave?cluster_id=" + strconv.Itoa(clusterID)
	for i := 0; i < 10; i++ {
		lastErr = cluster.GetJSON(ctx, url, &info)
		if lastErr == nil {
			log.Printf("paired with slave %d @ %s", info.ServerID, info.Addr())
			return info
		}
		log.Printf("locate slave retry %d: %v", i+1, lastErr)
		time.Sleep(400 * time.Millisecond)
	}

	logFatal("failed to locate slave for cluster %d: %v", clusterID, lastErr)
	return info
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv retrieves a required environment variable, terminating the
// program if it's not set.
func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}

// mustGetenvInt is mustGetenv for numeric settings.
func mustGetenvInt(k string) int {
	n, err := strconv.Atoi(mustGetenv(k))
	if err != nil {
		logFatal("bad %s: %v", k, err)
	}
	return n
}
