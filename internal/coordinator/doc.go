// Package coordinator implements the control plane for Chirp's sharded
// social backend: the liveness-tracked membership tables and the
// shard-assignment policy that routes every client to its master.
//
// # Overview
//
// The coordinator is a registry, not an orchestrator. Servers push their own
// membership via long-lived heartbeat streams; the coordinator upserts and
// answers lookups. It never initiates contact with a shard server and never
// removes an entry.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         COORDINATOR                 │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   Registry                   │   │
//	│  │   - masters (reg. order)     │   │
//	│  │   - slaves                   │   │
//	│  │   - sync helpers             │   │
//	│  │   keyed by (server_id, type) │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   LivenessMonitor            │   │
//	│  │   - sweeps heartbeat ages    │   │
//	│  │   - flags, never evicts      │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Routing contract
//
// AssignMaster(userID) returns the master at index userID mod shardCount in
// registration order. The mapping is a pure function of (userID, shardCount)
// while the master set is stable, and a NOT_FOUND-class discovery error when
// too few masters have registered. GetSlave(clusterID) resolves a master's
// replication target at startup; absence there is fatal to the master.
//
// # Failure semantics
//
// Last-write-wins on every heartbeat, no eviction of stale entries. The
// LivenessMonitor makes staleness visible to operators and to the /servers
// endpoint, deliberately without feeding back into routing.
package coordinator
