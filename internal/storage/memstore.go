package storage

import (
	"fmt"
	"sync"

	"github.com/dreamware/chirp/internal/cluster"
)

// MemStore is an in-memory Store with the same semantics as FileStore,
// minus durability. It backs tests and ephemeral tooling that need shard
// state without touching disk.
type MemStore struct {
	mu sync.Mutex
	fd FollowDoc
	td TimelineDoc

	// Operation counters, useful when inspecting store traffic in tests.
	Writes uint64
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		fd: FollowDoc{Users: make(map[string]UserRecord)},
	}
}

func (m *MemStore) Load() (FollowDoc, TimelineDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotFollows(), TimelineDoc{Posts: append([]Post(nil), m.td.Posts...)}, nil
}

func (m *MemStore) LoadFollows() (FollowDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotFollows(), nil
}

func (m *MemStore) CreateUser(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if _, ok := m.fd.Users[username]; ok {
		return nil
	}
	m.fd.Users[username] = UserRecord{
		Username:  username,
		Following: make(map[string]FollowEdge),
	}
	return nil
}

func (m *MemStore) AddFollow(follower, followee string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	rec, ok := m.fd.Users[follower]
	if !ok {
		return cluster.WrapErr(cluster.KindStorage, "add follow", fmt.Errorf("%w: %s", ErrUnknownUser, follower))
	}
	rec.Following[followee] = FollowEdge{Username: followee, Timestamp: ts}
	m.fd.Users[follower] = rec
	return nil
}

func (m *MemStore) RemoveFollow(follower, followee string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	rec, ok := m.fd.Users[follower]
	if !ok {
		return cluster.WrapErr(cluster.KindStorage, "remove follow", fmt.Errorf("%w: %s", ErrUnknownUser, follower))
	}
	if _, ok := rec.Following[followee]; !ok {
		return cluster.WrapErr(cluster.KindStorage, "remove follow", fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, follower, followee))
	}
	delete(rec.Following, followee)
	return nil
}

func (m *MemStore) AppendPost(p Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	m.td.Posts = append(m.td.Posts, p)
	return nil
}

// snapshotFollows deep-copies the follow document so callers can merge it
// without racing later mutations. Callers must hold mu.
func (m *MemStore) snapshotFollows() FollowDoc {
	out := FollowDoc{Users: make(map[string]UserRecord, len(m.fd.Users))}
	for name, rec := range m.fd.Users {
		edges := make(map[string]FollowEdge, len(rec.Following))
		for k, v := range rec.Following {
			edges[k] = v
		}
		out.Users[name] = UserRecord{Username: rec.Username, Following: edges}
	}
	return out
}
