package timeline

import (
	"log"
	"sync"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
	"github.com/dreamware/chirp/internal/graph"
	"github.com/dreamware/chirp/internal/storage"
)

// ReplayLimit bounds how many historical posts a replay sends after a
// stream attaches.
const ReplayLimit = 20

// Engine owns a shard's post log: it persists new posts, fans them out to
// the attached streams of the author's followers, and replays bounded
// history when a stream (re)attaches.
//
// The engine keeps an in-memory mirror of timeline.json in arrival order,
// so replay never re-reads the document on the hot path. The store write
// happens before the fanout: a post that was pushed live is always already
// durable.
type Engine struct {
	mu    sync.Mutex
	posts []storage.Post

	store storage.Store
	graph *graph.Graph

	// now is stubbed in tests.
	now func() time.Time
}

// New creates an engine over the given durable store and social graph.
func New(store storage.Store, g *graph.Graph) *Engine {
	return &Engine{store: store, graph: g, now: time.Now}
}

// Load seeds the in-memory log from a persisted timeline document, at
// startup.
func (e *Engine) Load(td storage.TimelineDoc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.posts = append([]storage.Post(nil), td.Posts...)
}

// Post ingests a new post by author: stamps it with the server clock
// (client-supplied timestamps are ignored), persists it, and pushes it to
// every follower whose stream is attached. Followers without a live stream
// miss the push and catch up on their next replay.
func (e *Engine) Post(author, body string) (storage.Post, error) {
	p := storage.Post{
		Username:  author,
		Message:   body,
		Timestamp: e.now().Unix(),
	}
	if err := e.append(p); err != nil {
		return storage.Post{}, err
	}
	e.fanout(p)
	return p, nil
}

// Apply ingests a replicated post with its carried timestamp, so the slave
// log stays byte-for-byte consistent with the master's. No fanout: pushing
// to live streams is a master-only responsibility.
func (e *Engine) Apply(p storage.Post) error {
	return e.append(p)
}

func (e *Engine) append(p storage.Post) error {
	if err := e.store.AppendPost(p); err != nil {
		return err
	}
	e.mu.Lock()
	e.posts = append(e.posts, p)
	e.mu.Unlock()
	return nil
}

// fanout writes the post to each attached follower stream. Send failures
// are logged and skipped; a dead stream is detached by its own read loop
// and the follower recovers via replay.
func (e *Engine) fanout(p storage.Post) {
	msg := cluster.Message{Username: p.Username, Msg: p.Message, Timestamp: p.Timestamp}
	for _, sink := range e.graph.FollowerSinks(p.Username) {
		if err := sink.Send(msg); err != nil {
			log.Printf("timeline: fanout for %s: %v", p.Username, err)
		}
	}
}

// Replay sends username up to ReplayLimit recent posts on sink, newest
// first. Scanning walks the log backwards and stops once enough eligible
// posts are found or the log is exhausted. A post is eligible when:
//   - its author is username (own posts, regardless of any follow state), or
//   - username follows the author and the post is not older than the
//     recorded follow timestamp (the follow cutoff).
//
// Returns how many posts were sent. A send failure aborts the replay; the
// stream is dying anyway.
func (e *Engine) Replay(username string, sink graph.Sink) (int, error) {
	e.mu.Lock()
	snapshot := append([]storage.Post(nil), e.posts...)
	e.mu.Unlock()

	sent := 0
	for i := len(snapshot) - 1; i >= 0 && sent < ReplayLimit; i-- {
		p := snapshot[i]
		if p.Username != username {
			followedAt, ok := e.graph.FollowedAt(username, p.Username)
			if !ok {
				continue
			}
			if p.Timestamp < followedAt {
				continue
			}
		}
		msg := cluster.Message{Username: p.Username, Msg: p.Message, Timestamp: p.Timestamp}
		if err := sink.Send(msg); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Len reports the size of the in-memory log.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.posts)
}
