// Package graph holds the in-memory social graph for one shard: user
// records with symmetric follower/following edges, live stream attachments,
// and the follow timestamps that gate timeline replay.
//
// The graph is the one shared mutable resource on a shard server's serving
// path. Every connection goroutine touches it, so all access goes through
// Graph's mutex and the package never exposes interior references: edges are
// username sets, query results are copies, and the core invariant
//
//	A ∈ B.followers  ⇔  B ∈ A.following
//
// is maintained atomically inside each mutation.
//
// Durability lives elsewhere (package storage); Graph.Merge rebuilds the
// in-memory state from the persisted follow document at startup and folds
// in external updates on periodic reload.
package graph
