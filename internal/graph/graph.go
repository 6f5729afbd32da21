package graph

import (
	"errors"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/chirp/internal/cluster"
	"github.com/dreamware/chirp/internal/storage"
)

// Validation errors for follow-graph mutations. These are expected refusals:
// the server maps them onto Reply statuses, never onto transport failures.
var (
	ErrSelfFollow       = errors.New("cannot follow yourself")
	ErrUnknownUser      = errors.New("no such user")
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
)

// Sink is the live output channel of one connected user: the write side of
// their timeline stream. A user has at most one attached sink.
type Sink interface {
	Send(m cluster.Message) error
}

// user is one node in the follow graph. Edges are stored as username sets,
// not pointers, so records can be handed around without aliasing hazards.
// following carries the follow timestamp (unix seconds), the replay cutoff.
type user struct {
	username  string
	connected bool
	followers map[string]struct{}
	following map[string]int64
	sink      Sink
}

// LoginResult is the tri-state outcome of a Login: a brand new user, a known
// user reconnecting, or a user that is already marked connected. All three
// are successes; the last is informational.
type LoginResult int

const (
	LoginNew LoginResult = iota
	LoginWelcomeBack
	LoginDuplicate
)

// Graph is the in-memory social graph for one shard: username → user record
// with symmetric follower/following edges. It is the single shared mutable
// resource on the serving path, so every read-modify-write goes through one
// mutex; methods never return interior references.
//
// The graph holds no durable state. It is rebuilt from the persistent
// store's follow document at startup and re-merged on periodic reload.
type Graph struct {
	mu    sync.RWMutex
	users map[string]*user
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{users: make(map[string]*user)}
}

// ensure returns the record for username, creating a disconnected one if
// needed. Callers must hold the write lock.
func (g *Graph) ensure(username string) *user {
	u, ok := g.users[username]
	if !ok {
		u = &user{
			username:  username,
			followers: make(map[string]struct{}),
			following: make(map[string]int64),
		}
		g.users[username] = u
	}
	return u
}

// Login records username as connected, creating the user on first sight.
func (g *Graph) Login(username string) LoginResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, existed := g.users[username]
	if !existed {
		u = g.ensure(username)
		u.connected = true
		return LoginNew
	}
	if u.connected {
		return LoginDuplicate
	}
	u.connected = true
	return LoginWelcomeBack
}

// Disconnect marks username as no longer connected and drops its sink.
// Unknown users are ignored: the disconnect control signal must not create
// state.
func (g *Graph) Disconnect(username string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if u, ok := g.users[username]; ok {
		u.connected = false
		u.sink = nil
	}
}

// Has reports whether username exists in the graph.
func (g *Graph) Has(username string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.users[username]
	return ok
}

// Follow inserts the symmetric follower→followee edge stamped with ts.
// Self-follow, an unknown followee, and a duplicate edge are refused. The
// follower must exist (it logged in to issue the call); the followee is the
// one validated against the graph.
func (g *Graph) Follow(follower, followee string, ts int64) error {
	if follower == followee {
		return ErrSelfFollow
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fu, ok := g.users[follower]
	if !ok {
		return ErrUnknownUser
	}
	tu, ok := g.users[followee]
	if !ok {
		return ErrUnknownUser
	}
	if _, dup := fu.following[followee]; dup {
		return ErrAlreadyFollowing
	}

	// Both sides mutate under the one lock so edge symmetry cannot tear.
	fu.following[followee] = ts
	tu.followers[follower] = struct{}{}
	return nil
}

// Unfollow removes the symmetric edge, with the same validation shape as
// Follow: self-unfollow and unknown users are invalid, and removing an edge
// that does not exist is a distinct refusal.
func (g *Graph) Unfollow(follower, followee string) error {
	if follower == followee {
		return ErrSelfFollow
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fu, ok := g.users[follower]
	if !ok {
		return ErrUnknownUser
	}
	tu, ok := g.users[followee]
	if !ok {
		return ErrUnknownUser
	}
	if _, exists := fu.following[followee]; !exists {
		return ErrNotFollowing
	}

	delete(fu.following, followee)
	delete(tu.followers, follower)
	return nil
}

// FollowedAt returns the follow timestamp for follower→followee, and whether
// that edge exists.
func (g *Graph) FollowedAt(follower, followee string) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users[follower]
	if !ok {
		return 0, false
	}
	ts, ok := u.following[followee]
	return ts, ok
}

// Usernames returns every known username, sorted.
func (g *Graph) Usernames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.users))
	for name := range g.users {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Followers returns the usernames that follow username, sorted. This is the
// direction List reports: who follows the caller, not who the caller
// follows.
func (g *Graph) Followers(username string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users[username]
	if !ok {
		return nil, ErrUnknownUser
	}
	out := make([]string, 0, len(u.followers))
	for name := range u.followers {
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

// Attach binds sink as username's live stream, replacing any previous
// attachment: a reconnecting client's new stream wins. The previous sink is
// returned so the caller can tear it down.
func (g *Graph) Attach(username string, sink Sink) (prev Sink, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, ok := g.users[username]
	if !ok {
		return nil, ErrUnknownUser
	}
	prev = u.sink
	u.sink = sink
	u.connected = true
	return prev, nil
}

// Detach clears username's sink, but only if it is still the given one: a
// stale stream's teardown must not detach its replacement.
func (g *Graph) Detach(username string, sink Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if u, ok := g.users[username]; ok && u.sink == sink {
		u.sink = nil
	}
}

// FollowerSinks returns the attached sinks of author's current followers,
// the fanout targets for a new post. Followers without an attached stream
// are skipped; they catch up on their next replay.
func (g *Graph) FollowerSinks(author string) []Sink {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users[author]
	if !ok {
		return nil
	}
	var sinks []Sink
	for name := range u.followers {
		if f, ok := g.users[name]; ok && f.sink != nil {
			sinks = append(sinks, f.sink)
		}
	}
	return sinks
}

// Merge folds a persisted follow document into the graph: users and edges
// present in the document are created or have their timestamps refreshed.
// The merge is additive, matching the store's append/merge discipline; it
// runs at startup and on every reload tick, under the same graph lock as
// the mutations it races with.
func (g *Graph) Merge(fd storage.FollowDoc) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name, rec := range fd.Users {
		if rec.Username != "" {
			name = rec.Username
		}
		u := g.ensure(name)
		for _, edge := range rec.Following {
			if edge.Username == "" || edge.Username == name {
				continue
			}
			other := g.ensure(edge.Username)
			u.following[edge.Username] = edge.Timestamp
			other.followers[name] = struct{}{}
		}
	}
}
