// Package cluster defines the wire surface shared by every Chirp process:
// the server identity and heartbeat types, the request/reply envelopes for
// the shard-server RPCs, the timeline Message frame, and the HTTP plumbing
// that carries all of them.
//
// # Overview
//
// Chirp is a coordinator-based topology. Shard servers (master/slave pairs)
// and sync helpers announce themselves to the coordinator over long-lived
// heartbeat streams; clients ask the coordinator for their assigned master
// and then talk to that master directly.
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │              │
//	              │ - Registry   │
//	              │ - Liveness   │
//	              └──────┬───────┘
//	          heartbeats │ assignment
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│ Master 0  │  │ Master 1  │  │ Master 2  │
//	│     │repl │  │     │repl │  │     │repl │
//	│ Slave 0   │  │ Slave 1   │  │ Slave 2   │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Transport
//
// Unary RPCs (Login, Follow, Unfollow, List, GetServer, GetSlave) are plain
// HTTP POST/GET with JSON bodies, via PostJSON and GetJSON.
//
// Streams (heartbeats, the timeline, and the master-to-slave replication
// feed) are a single long-lived HTTP request carrying newline-delimited
// JSON frames: the request body streams frames toward the handler and the
// flushed response body streams frames back. ServeStream and DialStream
// wrap the two ends; Stream.Send is safe for concurrent fanout writers.
//
// # Error model
//
// Expected command refusals (self-follow, unknown user, duplicate follow,
// already-logged-in) are Status values inside a normal Reply. Infrastructure
// faults are errors, classified by ErrKind so callers can distinguish
// retryable discovery/replication faults from terminal validation and
// storage failures.
package cluster
