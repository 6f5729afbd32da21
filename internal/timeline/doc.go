// Package timeline implements a shard's post path: durable append of new
// posts, near-real-time fanout to the live streams of the author's
// followers, and bounded history replay on stream attach.
//
// Replay is where the follow graph and the post log meet. History is
// scanned newest first and a follower only sees posts made at or after the
// moment the follow relationship was recorded — the follow cutoff — while a
// user's own posts are always eligible. At most ReplayLimit posts are sent.
//
// Fanout is best-effort by design: only followers with an attached stream
// receive the live push, and a failed write is logged and skipped. Nothing
// is lost either way, because every post is persisted before fanout and the
// follower sees it on the next replay.
package timeline
