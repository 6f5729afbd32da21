package cluster

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

// HeartbeatInterval is how often a server announces itself while running.
const HeartbeatInterval = 10 * time.Second

// HeartbeatReporter owns the long-lived heartbeat stream from one server
// process to the coordinator. It dials once at startup and emits one
// Heartbeat per interval for the life of the process, redialing if the
// stream drops. The coordinator never responds on the stream.
type HeartbeatReporter struct {
	coordURL string
	info     ServerInfo
	interval time.Duration

	// ctx scopes every dial so Stop can abort one that is still waiting
	// on the coordinator's response headers.
	ctx    context.Context
	cancel context.CancelFunc
	stopc  chan struct{}
	donec  chan struct{}
}

// NewHeartbeatReporter builds a reporter for the given identity. coordURL is
// the coordinator base URL, e.g. "http://127.0.0.1:8000".
func NewHeartbeatReporter(coordURL string, info ServerInfo) *HeartbeatReporter {
	ctx, cancel := context.WithCancel(context.Background())
	return &HeartbeatReporter{
		coordURL: coordURL,
		info:     info,
		interval: HeartbeatInterval,
		ctx:      ctx,
		cancel:   cancel,
		stopc:    make(chan struct{}),
		donec:    make(chan struct{}),
	}
}

// Run blocks, sending heartbeats until Stop is called. Call it from its own
// goroutine. The first beat is sent immediately so the coordinator learns
// about the server before the first full interval elapses.
func (h *HeartbeatReporter) Run() {
	defer close(h.donec)

	var enc *json.Encoder
	var closeStream func()

	dial := func() bool {
		pr, pw := io.Pipe()
		req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, h.coordURL+"/heartbeats", pr)
		if err != nil {
			log.Printf("heartbeat: build request: %v", err)
			return false
		}
		req.Header.Set("Content-Type", "application/x-ndjson")
		resp, err := streamClient.Do(req)
		if err != nil {
			pw.Close()
			log.Printf("heartbeat: dial coordinator: %v", err)
			return false
		}
		enc = json.NewEncoder(pw)
		closeStream = func() {
			pw.Close()
			resp.Body.Close()
		}
		return true
	}

	connected := dial()
	if connected {
		log.Printf("heartbeat: stream open to coordinator @ %s", h.coordURL)
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	send := func() {
		if !connected {
			connected = dial()
			if !connected {
				return
			}
		}
		beat := Heartbeat{ServerInfo: h.info, Timestamp: time.Now().Unix()}
		if err := enc.Encode(beat); err != nil {
			log.Printf("heartbeat: send: %v", err)
			closeStream()
			connected = false
		}
	}

	send()
	for {
		select {
		case <-ticker.C:
			send()
		case <-h.stopc:
			if connected {
				closeStream()
			}
			return
		}
	}
}

// Stop aborts any in-flight dial, closes the stream, and waits for Run to
// return.
func (h *HeartbeatReporter) Stop() {
	h.cancel()
	close(h.stopc)
	<-h.donec
}
