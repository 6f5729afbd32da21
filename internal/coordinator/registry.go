// Package coordinator implements the membership and routing layer for Chirp's
// sharded social backend. See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/chirp/internal/cluster"
)

// ServerRecord is one row in the coordinator's membership tables: the
// announced identity plus the time of the most recent heartbeat.
//
// Thread Safety:
// ServerRecord values are immutable once returned. The registry hands out
// copies to prevent external modification.
type ServerRecord struct {
	cluster.ServerInfo
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Registry maintains the three membership tables (masters, slaves, sync
// helpers) keyed by (server_id, type), and answers the routing queries that
// clients and masters issue at startup.
//
// The registry is a pure last-write-wins store:
//   - A heartbeat for an unseen (server_id, type) appends a new record.
//   - A heartbeat for a known pair refreshes its address and timestamp.
//   - Records are never evicted, no matter how stale they become; the
//     LivenessMonitor flags staleness but leaves the tables untouched.
//
// Master routing is intentionally registration-order based: shard k is
// whatever master registered k-th. A client's shard index is
// user_id mod shardCount, so routing is deterministic while the set of
// masters and shardCount are stable, but depends on startup order, not on a
// stable shard key.
//
// Concurrency Model:
//   - Read queries take the read lock and may run in parallel.
//   - Heartbeat upserts take the write lock.
//   - All returned records are copies.
type Registry struct {
	mu         sync.RWMutex
	shardCount int

	// Registration order is load-bearing for masters: AssignMaster indexes
	// this slice directly.
	masters []ServerRecord
	slaves  []ServerRecord
	syncs   []ServerRecord
}

// NewRegistry creates a registry routing across shardCount shards. The count
// is fixed for the coordinator's lifetime and must be > 0.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &Registry{shardCount: shardCount}
}

// ShardCount returns the configured number of shards.
func (r *Registry) ShardCount() int { return r.shardCount }

// Record upserts the server identified by the heartbeat: insert on first
// sight, refresh address and timestamp afterwards. Heartbeats carrying an
// unknown server type are dropped.
func (r *Registry) Record(beat cluster.Heartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.table(beat.Type)
	if table == nil {
		return
	}
	rec := ServerRecord{
		ServerInfo:    beat.ServerInfo,
		LastHeartbeat: time.Unix(beat.Timestamp, 0),
	}
	idx := slices.IndexFunc(*table, func(s ServerRecord) bool { return s.ServerID == beat.ServerID })
	if idx >= 0 {
		(*table)[idx] = rec
	} else {
		*table = append(*table, rec)
	}
}

// table returns the slice for one server type. Callers must hold the lock.
func (r *Registry) table(t cluster.ServerType) *[]ServerRecord {
	switch t {
	case cluster.TypeMaster:
		return &r.masters
	case cluster.TypeSlave:
		return &r.slaves
	case cluster.TypeSync:
		return &r.syncs
	}
	return nil
}

// AssignMaster routes a user to its master shard: shard index is
// userID mod shardCount, resolved against the masters table in registration
// order. It fails with a discovery error when fewer masters have registered
// than the index requires.
func (r *Registry) AssignMaster(userID int) (ServerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := userID % r.shardCount
	if idx < 0 {
		idx = -idx
	}
	if idx >= len(r.masters) {
		err := fmt.Errorf("shard %d has no registered master (%d registered)", idx, len(r.masters))
		return ServerRecord{}, cluster.WrapErr(cluster.KindDiscovery, "assign master", err)
	}
	return r.masters[idx], nil
}

// GetSlave returns the slave paired with the given cluster id. Masters call
// this once at startup to locate their replication target; absence is a
// discovery error and fatal for the caller.
func (r *Registry) GetSlave(clusterID int) (ServerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := slices.IndexFunc(r.slaves, func(s ServerRecord) bool { return s.ServerID == clusterID })
	if idx < 0 {
		err := fmt.Errorf("cluster %d has no registered slave", clusterID)
		return ServerRecord{}, cluster.WrapErr(cluster.KindDiscovery, "get slave", err)
	}
	return r.slaves[idx], nil
}

// ErrNoSyncs is returned by FollowSyncsFor when no sync helper has
// registered yet.
var ErrNoSyncs = errors.New("no sync helpers registered")

// FollowSyncsFor assigns each user id to a sync helper, round-robin over the
// sync table in registration order. This is an extension point: nothing in
// the core path consumes the assignment yet.
func (r *Registry) FollowSyncsFor(userIDs []int) (map[int]ServerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.syncs) == 0 {
		return nil, cluster.WrapErr(cluster.KindDiscovery, "follow syncs", ErrNoSyncs)
	}
	out := make(map[int]ServerRecord, len(userIDs))
	for i, id := range userIDs {
		out[id] = r.syncs[i%len(r.syncs)]
	}
	return out, nil
}

// Servers returns a snapshot of every record in all three tables, for the
// monitoring endpoint and the liveness monitor.
func (r *Registry) Servers() []ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerRecord, 0, len(r.masters)+len(r.slaves)+len(r.syncs))
	out = append(out, r.masters...)
	out = append(out, r.slaves...)
	out = append(out, r.syncs...)
	return out
}
