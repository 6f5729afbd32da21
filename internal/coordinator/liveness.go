// Package coordinator provides the membership and routing layer.
// This file implements staleness tracking for registered servers.
package coordinator

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
)

// ServerLiveness is the monitor's view of one registered server: whether its
// most recent heartbeat falls inside the liveness window.
type ServerLiveness struct {
	ServerID      int
	Type          cluster.ServerType
	LastHeartbeat time.Time
	Live          bool
}

// LivenessMonitor periodically sweeps the registry and flags servers whose
// last heartbeat is older than the liveness window. It is strictly an
// observer: a flagged server stays in the registry and keeps receiving
// traffic, because eviction would change routing under the
// registration-order assignment scheme. The sweep exists so operators can
// see staleness, not so the coordinator can act on it.
//
// Thread-safe: all methods may be called concurrently.
type LivenessMonitor struct {
	registry *Registry
	window   time.Duration
	interval time.Duration

	mu     sync.RWMutex
	status map[string]ServerLiveness

	onStale func(rec ServerRecord)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DefaultLivenessWindow is how long a server may go without heartbeating
// before it is flagged stale: two missed 10s heartbeats.
const DefaultLivenessWindow = 20 * time.Second

// NewLivenessMonitor creates a monitor sweeping the given registry. window
// is the allowed heartbeat age; interval is how often to sweep.
func NewLivenessMonitor(registry *Registry, window, interval time.Duration) *LivenessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &LivenessMonitor{
		registry: registry,
		window:   window,
		interval: interval,
		status:   make(map[string]ServerLiveness),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetOnStale registers a callback invoked once each time a server crosses
// from live to stale. Used by tests; production wiring only logs.
func (m *LivenessMonitor) SetOnStale(fn func(rec ServerRecord)) {
	m.onStale = fn
}

// Start runs the sweep loop until Stop is called. Call from a goroutine.
func (m *LivenessMonitor) Start() {
	m.wg.Add(1)
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("liveness monitor started (window %v, interval %v)", m.window, m.interval)
	m.sweep(time.Now())
	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-m.ctx.Done():
			log.Println("liveness monitor stopping")
			return
		}
	}
}

// Stop shuts the monitor down and waits for the sweep loop to exit.
func (m *LivenessMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// sweep recomputes liveness for every registered server as of now.
func (m *LivenessMonitor) sweep(now time.Time) {
	records := m.registry.Servers()

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		key := livenessKey(rec.ServerID, rec.Type)
		seen[key] = true

		live := now.Sub(rec.LastHeartbeat) <= m.window
		prev, known := m.status[key]
		m.status[key] = ServerLiveness{
			ServerID:      rec.ServerID,
			Type:          rec.Type,
			LastHeartbeat: rec.LastHeartbeat,
			Live:          live,
		}

		if !live && (!known || prev.Live) {
			log.Printf("%s %d is stale: last heartbeat %v ago (not evicted)",
				rec.Type, rec.ServerID, now.Sub(rec.LastHeartbeat).Round(time.Second))
			if m.onStale != nil {
				go m.onStale(rec)
			}
		}
		if live && known && !prev.Live {
			log.Printf("%s %d is heartbeating again", rec.Type, rec.ServerID)
		}
	}

	// Forget status for records the registry no longer reports. The registry
	// never removes entries today, so this only matters if that changes.
	for key := range m.status {
		if !seen[key] {
			delete(m.status, key)
		}
	}
}

// IsLive reports whether the server's last observed heartbeat was inside
// the window as of the most recent sweep. Unknown servers are not live.
func (m *LivenessMonitor) IsLive(serverID int, t cluster.ServerType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status[livenessKey(serverID, t)].Live
}

// Statuses returns a copy of the current liveness table.
func (m *LivenessMonitor) Statuses() []ServerLiveness {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerLiveness, 0, len(m.status))
	for _, s := range m.status {
		out = append(out, s)
	}
	return out
}

func livenessKey(id int, t cluster.ServerType) string {
	return string(t) + "/" + strconv.Itoa(id)
}
