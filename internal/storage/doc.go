// Package storage is Chirp's persistence layer: the two JSON documents that
// hold a shard's only durable state, the follow graph and the append-only
// timeline post log.
//
// # Overview
//
// Each shard owns a data directory with exactly two documents:
//
//	follow.json    {"users": {name: {"username": ..., "following":
//	                 {other: {"username": ..., "timestamp": ...}}}}}
//	timeline.json  {"posts": [{"username": ..., "message": ..., "timestamp": ...}]}
//
// The follow document is merge-updated: user records are created once and
// follow edges are inserted or removed inside them. The timeline document is
// append-only: posts are never mutated or deleted once written. Everything
// the in-memory social graph and timeline engine hold is rebuilt from these
// two files at startup and merged again on periodic reload.
//
// # Layered design
//
//	┌─────────────────────────────────────┐
//	│       Application Layer             │
//	│   (graph.Graph, timeline.Engine)    │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│         Store interface             │
//	│  Load / CreateUser / AddFollow /    │
//	│  RemoveFollow / AppendPost          │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│            FileStore                │
//	│   whole-document read-modify-write  │
//	└─────────────────────────────────────┘
//
// # Concurrency
//
// FileStore serializes every operation behind one mutex; a mutation is a
// full read-parse-modify-write cycle of the backing document. That is
// deliberately simple: the documents are small, the write rate is one
// mutation per user action, and whole-document writes keep the on-disk form
// human-readable and trivially mergeable by external sync helpers.
//
// # Error handling
//
// A malformed document is a storage-class error (cluster.KindStorage) and is
// checked once in Open: a shard refuses to start over a corrupt graph rather
// than serve from partial state. Missing files are not errors; Open creates
// empty documents on first use.
package storage
