package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dreamware/chirp/internal/cluster"
)

// ErrUnknownUser is returned when a follow mutation names a user that has no
// record in the follow document.
var ErrUnknownUser = errors.New("user not in follow document")

// ErrEdgeNotFound is returned when removing a follow edge that is not
// persisted.
var ErrEdgeNotFound = errors.New("follow edge not found")

// FollowEdge is one persisted follow relationship as seen from the follower
// side. Timestamp is unix seconds at the moment the relationship was
// established and is the authoritative replay cutoff: posts by the followee
// older than this are never replayed to the follower.
type FollowEdge struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// UserRecord is one user's entry in the follow document.
type UserRecord struct {
	Username  string                `json:"username"`
	Following map[string]FollowEdge `json:"following"`
}

// FollowDoc mirrors follow.json, the durable follow graph for one shard.
type FollowDoc struct {
	Users map[string]UserRecord `json:"users"`
}

// Post is one persisted timeline post. Posts are append-only: never mutated
// or deleted once written.
type Post struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// TimelineDoc mirrors timeline.json, the durable post log for one shard.
type TimelineDoc struct {
	Posts []Post `json:"posts"`
}

// Store is the durable state of one shard: the follow graph and the
// append-only post log. All implementations must be safe for concurrent use;
// every mutation is a full read-modify-write of the backing document.
type Store interface {
	// Load reads both documents. A malformed document is a storage-class
	// error and fatal at startup.
	Load() (FollowDoc, TimelineDoc, error)

	// LoadFollows reads only the follow document, for the periodic reload.
	LoadFollows() (FollowDoc, error)

	// CreateUser adds a user with an empty following set. Idempotent.
	CreateUser(username string) error

	// AddFollow persists the follower→followee edge stamped with ts.
	AddFollow(follower, followee string, ts int64) error

	// RemoveFollow deletes the follower→followee edge.
	RemoveFollow(follower, followee string) error

	// AppendPost appends one post to the timeline log.
	AppendPost(p Post) error
}

const (
	followFile   = "follow.json"
	timelineFile = "timeline.json"
)

// FileStore implements Store over two JSON documents in a shard data
// directory, follow.json and timeline.json. Writes are serialized by a
// mutex and flushed whole-document, the same discipline as the single-file
// update path this layout descends from.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// Open prepares a FileStore rooted at dir, creating the directory and empty
// documents on first use. Existing documents are parsed once so corruption
// is detected before the shard starts serving; that failure is terminal.
func Open(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cluster.WrapErr(cluster.KindStorage, "open store", err)
	}
	s := &FileStore{dir: dir}

	if err := s.initDoc(followFile, FollowDoc{Users: map[string]UserRecord{}}); err != nil {
		return nil, err
	}
	if err := s.initDoc(timelineFile, TimelineDoc{Posts: []Post{}}); err != nil {
		return nil, err
	}
	// Refuse to serve over a corrupt graph.
	if _, _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// initDoc writes an empty document if the file is missing or zero-length.
func (s *FileStore) initDoc(name string, empty any) error {
	path := filepath.Join(s.dir, name)
	fi, err := os.Stat(path)
	if err == nil && fi.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return cluster.WrapErr(cluster.KindStorage, "init "+name, err)
	}
	return s.writeDoc(name, empty)
}

func (s *FileStore) readDoc(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return cluster.WrapErr(cluster.KindStorage, "read "+name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return cluster.WrapErr(cluster.KindStorage, "parse "+name, fmt.Errorf("malformed document: %w", err))
	}
	return nil
}

func (s *FileStore) writeDoc(name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return cluster.WrapErr(cluster.KindStorage, "encode "+name, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), append(data, '\n'), 0o644); err != nil {
		return cluster.WrapErr(cluster.KindStorage, "write "+name, err)
	}
	return nil
}

// Load reads both documents under the store lock.
func (s *FileStore) Load() (FollowDoc, TimelineDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fd FollowDoc
	var td TimelineDoc
	if err := s.readDoc(followFile, &fd); err != nil {
		return FollowDoc{}, TimelineDoc{}, err
	}
	if err := s.readDoc(timelineFile, &td); err != nil {
		return FollowDoc{}, TimelineDoc{}, err
	}
	if fd.Users == nil {
		fd.Users = map[string]UserRecord{}
	}
	return fd, td, nil
}

// LoadFollows reads the follow document under the store lock.
func (s *FileStore) LoadFollows() (FollowDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fd FollowDoc
	if err := s.readDoc(followFile, &fd); err != nil {
		return FollowDoc{}, err
	}
	if fd.Users == nil {
		fd.Users = map[string]UserRecord{}
	}
	return fd, nil
}

// CreateUser merges a new user record into follow.json. Re-creating an
// existing user is a no-op so replicated logins stay idempotent.
func (s *FileStore) CreateUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fd FollowDoc
	if err := s.readDoc(followFile, &fd); err != nil {
		return err
	}
	if fd.Users == nil {
		fd.Users = map[string]UserRecord{}
	}
	if _, ok := fd.Users[username]; ok {
		return nil
	}
	fd.Users[username] = UserRecord{
		Username:  username,
		Following: map[string]FollowEdge{},
	}
	return s.writeDoc(followFile, fd)
}

// AddFollow persists follower→followee stamped with ts.
func (s *FileStore) AddFollow(follower, followee string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fd FollowDoc
	if err := s.readDoc(followFile, &fd); err != nil {
		return err
	}
	rec, ok := fd.Users[follower]
	if !ok {
		return cluster.WrapErr(cluster.KindStorage, "add follow", fmt.Errorf("%w: %s", ErrUnknownUser, follower))
	}
	if rec.Following == nil {
		rec.Following = map[string]FollowEdge{}
	}
	rec.Following[followee] = FollowEdge{Username: followee, Timestamp: ts}
	fd.Users[follower] = rec
	return s.writeDoc(followFile, fd)
}

// RemoveFollow deletes the persisted follower→followee edge.
func (s *FileStore) RemoveFollow(follower, followee string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fd FollowDoc
	if err := s.readDoc(followFile, &fd); err != nil {
		return err
	}
	rec, ok := fd.Users[follower]
	if !ok {
		return cluster.WrapErr(cluster.KindStorage, "remove follow", fmt.Errorf("%w: %s", ErrUnknownUser, follower))
	}
	if _, ok := rec.Following[followee]; !ok {
		return cluster.WrapErr(cluster.KindStorage, "remove follow", fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, follower, followee))
	}
	delete(rec.Following, followee)
	fd.Users[follower] = rec
	return s.writeDoc(followFile, fd)
}

// AppendPost appends one post to timeline.json.
func (s *FileStore) AppendPost(p Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var td TimelineDoc
	if err := s.readDoc(timelineFile, &td); err != nil {
		return err
	}
	td.Posts = append(td.Posts, p)
	return s.writeDoc(timelineFile, td)
}
