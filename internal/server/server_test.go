package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
	"github.com/dreamware/chirp/internal/storage"
)

func newTestServer(t *testing.T, role Role, repl *Replicator) (*Server, *httptest.Server) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s, err := New(Config{ServerID: 1, Role: role}, store, repl)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(s.Mux())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return s, ts
}

func call(t *testing.T, url string, req cluster.Request) cluster.Reply {
	t.Helper()
	var reply cluster.Reply
	if err := cluster.PostJSON(context.Background(), url, req, &reply); err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return reply
}

func TestLoginLifecycle(t *testing.T) {
	_, ts := newTestServer(t, RoleMaster, nil)
	url := ts.URL + "/rpc/login"

	if got := call(t, url, cluster.Request{Username: "alice"}); got.Status != cluster.StatusOK {
		t.Fatalf("first login: got %q, want %q", got.Status, cluster.StatusOK)
	}
	if got := call(t, url, cluster.Request{Username: "alice"}); got.Status != cluster.StatusAlreadyLoggedIn {
		t.Fatalf("duplicate login: got %q, want %q", got.Status, cluster.StatusAlreadyLoggedIn)
	}
	if got := call(t, url, cluster.Request{Username: "alice", Args: []string{cluster.ArgDisconnect}}); got.Status != cluster.StatusOK {
		t.Fatalf("disconnect: got %q, want %q", got.Status, cluster.StatusOK)
	}
	if got := call(t, url, cluster.Request{Username: "alice"}); got.Status != cluster.StatusWelcomeBack {
		t.Fatalf("relogin: got %q, want %q", got.Status, cluster.StatusWelcomeBack)
	}
}

func TestFollowAndList(t *testing.T) {
	_, ts := newTestServer(t, RoleMaster, nil)

	call(t, ts.URL+"/rpc/login", cluster.Request{Username: "alice"})
	call(t, ts.URL+"/rpc/login", cluster.Request{Username: "bob"})

	got := call(t, ts.URL+"/rpc/follow", cluster.Request{Username: "alice", Args: []string{"bob"}})
	if got.Status != cluster.StatusOK {
		t.Fatalf("follow: got %q, want %q", got.Status, cluster.StatusOK)
	}

	var list cluster.ListReply
	if err := cluster.PostJSON(context.Background(), ts.URL+"/rpc/list",
		cluster.Request{Username: "bob"}, &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.AllUsers) != 2 {
		t.Fatalf("all users: got %v, want 2 entries", list.AllUsers)
	}
	// List reports who follows the caller, not who the caller follows.
	if len(list.Followers) != 1 || list.Followers[0] != "alice" {
		t.Fatalf("followers of bob: got %v, want [alice]", list.Followers)
	}

	var aliceList cluster.ListReply
	if err := cluster.PostJSON(context.Background(), ts.URL+"/rpc/list",
		cluster.Request{Username: "alice"}, &aliceList); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(aliceList.Followers) != 0 {
		t.Fatalf("followers of alice: got %v, want none", aliceList.Followers)
	}
}

func TestFollowValidation(t *testing.T) {
	_, ts := newTestServer(t, RoleMaster, nil)
	call(t, ts.URL+"/rpc/login", cluster.Request{Username: "alice"})
	call(t, ts.URL+"/rpc/login", cluster.Request{Username: "bob"})
	call(t, ts.URL+"/rpc/follow", cluster.Request{Username: "alice", Args: []string{"bob"}})

	tests := []struct {
		name     string
		follower string
		followee string
		want     cluster.Status
	}{
		{"self follow", "alice", "alice", cluster.StatusInvalidUsername},
		{"unknown followee", "alice", "ghost", cluster.StatusInvalidUsername},
		{"unknown follower", "ghost", "alice", cluster.StatusInvalidUsername},
		{"duplicate edge", "alice", "bob", cluster.StatusAlreadyFollowing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := call(t, ts.URL+"/rpc/follow",
				cluster.Request{Username: tt.follower, Args: []string{tt.followee}})
			if got.Status != tt.want {
				t.Errorf("got %q, want %q", got.Status, tt.want)
			}
		})
	}
}

func TestUnfollow(t *testing.T) {
	_, ts := newTestServer(t, RoleMaster, nil)
	call(t, ts.URL+"/rpc/login", cluster.Request{Username: "alice"})
	call(t, ts.URL+"/rpc/login", cluster.Request{Username: "bob"})
	call(t, ts.URL+"/rpc/follow", cluster.Request{Username: "alice", Args: []string{"bob"}})

	got := call(t, ts.URL+"/rpc/unfollow", cluster.Request{Username: "alice", Args: []string{"bob"}})
	if got.Status != cluster.StatusOK {
		t.Fatalf("unfollow: got %q, want %q", got.Status, cluster.StatusOK)
	}
	got = call(t, ts.URL+"/rpc/unfollow", cluster.Request{Username: "alice", Args: []string{"bob"}})
	if got.Status != cluster.StatusNotFollowing {
		t.Fatalf("repeat unfollow: got %q, want %q", got.Status, cluster.StatusNotFollowing)
	}
}

func TestMasterMirrorsUnaryCallsToSlave(t *testing.T) {
	slave, slaveTS := newTestServer(t, RoleSlave, nil)
	master, masterTS := newTestServer(t, RoleMaster, NewReplicator(slaveTS.URL))

	call(t, masterTS.URL+"/rpc/login", cluster.Request{Username: "alice"})
	call(t, masterTS.URL+"/rpc/login", cluster.Request{Username: "bob"})
	call(t, masterTS.URL+"/rpc/follow", cluster.Request{Username: "alice", Args: []string{"bob"}})

	// Unary forwards complete before the master replies, so the slave's
	// graph already mirrors the master's.
	if !slave.graph.Has("alice") || !slave.graph.Has("bob") {
		t.Fatal("slave is missing forwarded users")
	}
	followers, err := slave.graph.Followers("bob")
	if err != nil {
		t.Fatalf("slave followers: %v", err)
	}
	if len(followers) != 1 || followers[0] != "alice" {
		t.Fatalf("slave followers of bob: got %v, want [alice]", followers)
	}

	// The master's stamp travels with the forward, so both replicas hold
	// the same replay cutoff for the edge.
	mStamp, ok := master.graph.FollowedAt("alice", "bob")
	if !ok {
		t.Fatal("master edge missing")
	}
	sStamp, ok := slave.graph.FollowedAt("alice", "bob")
	if !ok {
		t.Fatal("slave edge missing")
	}
	if mStamp != sStamp {
		t.Fatalf("edge stamps diverge: master %d, slave %d", mStamp, sStamp)
	}
}

func TestTimelineStreamReplayAndFanout(t *testing.T) {
	s, ts := newTestServer(t, RoleMaster, nil)

	call(t, ts.URL+"/rpc/login", cluster.Request{Username: "alice"})
	call(t, ts.URL+"/rpc/login", cluster.Request{Username: "bob"})
	call(t, ts.URL+"/rpc/follow", cluster.Request{Username: "alice", Args: []string{"bob"}})

	followedAt, ok := s.graph.FollowedAt("alice", "bob")
	if !ok {
		t.Fatal("follow edge missing")
	}
	seed := storage.Post{Username: "bob", Message: "old news", Timestamp: followedAt + 1}
	if err := s.tl.Apply(seed); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	alice, err := cluster.DialStream(context.Background(), ts.URL+"/rpc/timeline")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	if err := alice.Send(cluster.Message{Username: "alice", Msg: cluster.MsgInit}); err != nil {
		t.Fatalf("alice init: %v", err)
	}

	// The replay frame proves the INIT was processed and alice is attached.
	replayed, err := alice.Recv()
	if err != nil {
		t.Fatalf("alice replay: %v", err)
	}
	if replayed.Username != "bob" || replayed.Msg != "old news" {
		t.Fatalf("replay frame: got %+v", replayed)
	}

	bob, err := cluster.DialStream(context.Background(), ts.URL+"/rpc/timeline")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()
	if err := bob.Send(cluster.Message{Username: "bob", Msg: cluster.MsgInit}); err != nil {
		t.Fatalf("bob init: %v", err)
	}
	if _, err := bob.Recv(); err != nil {
		t.Fatalf("bob replay: %v", err)
	}
	if err := bob.Send(cluster.Message{Username: "bob", Msg: "fresh"}); err != nil {
		t.Fatalf("bob post: %v", err)
	}

	live, err := alice.Recv()
	if err != nil {
		t.Fatalf("alice live frame: %v", err)
	}
	if live.Username != "bob" || live.Msg != "fresh" {
		t.Fatalf("live frame: got %+v", live)
	}
	if live.Timestamp == 0 {
		t.Fatal("live frame was not stamped")
	}
}

func TestReplicateFeedAppliesCarriedTimestamps(t *testing.T) {
	slave, ts := newTestServer(t, RoleSlave, nil)

	feed, err := cluster.DialStream(context.Background(), ts.URL+"/rpc/replicate")
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer feed.Close()

	if err := feed.Send(cluster.Message{Username: "bob", Msg: cluster.MsgInit}); err != nil {
		t.Fatalf("send init: %v", err)
	}
	if err := feed.Send(cluster.Message{Username: "bob", Msg: "mirrored", Timestamp: 42}); err != nil {
		t.Fatalf("send post: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for slave.tl.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("post never applied")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, td, err := slave.store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(td.Posts) != 1 || td.Posts[0].Timestamp != 42 {
		t.Fatalf("persisted posts: got %+v, want one post stamped 42", td.Posts)
	}
}

func TestReplicateRejectedOnMaster(t *testing.T) {
	_, ts := newTestServer(t, RoleMaster, nil)

	// The dial must observe the 400 itself; the deadline turns a handler
	// that stalls draining the stream body into a distinct error.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cluster.DialStream(ctx, ts.URL+"/rpc/replicate")
	if err == nil {
		t.Fatal("expected dial to a master's replicate route to fail")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("dial error = %v, want the http 400 rejection", err)
	}
}
