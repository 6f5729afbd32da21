// Package server implements a shard server: the process that owns one
// shard's users, social graph, and timelines, in either the master or the
// slave role.
//
// A master serves clients directly. Every mutating call (Login, Follow,
// Unfollow, and each timeline post) is mirrored to the paired slave, unary
// calls as plain HTTP forwards and timeline frames on one shared
// replication stream. Replication is synchronous in ordering but
// best-effort in outcome: a dead slave is logged, never surfaced to the
// client, and the master keeps serving.
//
// A slave serves the same routes but receives traffic only from its
// master. Forwarded unary calls run through the identical handler path, so
// the slave's graph and documents track the master's. Timeline posts
// arrive on the /rpc/replicate feed and are applied with the timestamps
// the master stamped, with no fanout and no replay.
//
// State is rebuilt at startup from the shard's two JSON documents and kept
// fresh by a periodic reload that merges follow edges written out of band.
package server
