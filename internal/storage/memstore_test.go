package storage

import (
	"errors"
	"testing"
)

func TestMemStoreMirrorsFileStoreSemantics(t *testing.T) {
	m := NewMemStore()

	if err := m.CreateUser("alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreateUser("alice"); err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if err := m.CreateUser("bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.AddFollow("alice", "bob", 9); err != nil {
		t.Fatalf("add follow: %v", err)
	}
	if err := m.AddFollow("ghost", "bob", 9); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown follower: got %v, want ErrUnknownUser", err)
	}

	fd, err := m.LoadFollows()
	if err != nil {
		t.Fatalf("load follows: %v", err)
	}
	edge, ok := fd.Users["alice"].Following["bob"]
	if !ok || edge.Timestamp != 9 {
		t.Fatalf("edge = %+v ok=%v, want timestamp 9", edge, ok)
	}

	if err := m.RemoveFollow("alice", "bob"); err != nil {
		t.Fatalf("remove follow: %v", err)
	}
	if err := m.RemoveFollow("alice", "bob"); !errors.Is(err, ErrEdgeNotFound) {
		t.Fatalf("missing edge: got %v, want ErrEdgeNotFound", err)
	}

	if err := m.AppendPost(Post{Username: "bob", Message: "hi", Timestamp: 3}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, td, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(td.Posts) != 1 || td.Posts[0].Timestamp != 3 {
		t.Fatalf("posts = %+v, want one post stamped 3", td.Posts)
	}
}

func TestMemStoreSnapshotsAreIsolated(t *testing.T) {
	m := NewMemStore()
	if err := m.CreateUser("alice"); err != nil {
		t.Fatal(err)
	}

	fd, err := m.LoadFollows()
	if err != nil {
		t.Fatal(err)
	}
	// Mutating the snapshot must not leak back into the store.
	fd.Users["alice"].Following["bob"] = FollowEdge{Username: "bob", Timestamp: 1}

	again, err := m.LoadFollows()
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Users["alice"].Following) != 0 {
		t.Fatal("snapshot mutation leaked into the store")
	}
}
