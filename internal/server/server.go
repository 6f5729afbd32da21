package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
	"github.com/dreamware/chirp/internal/graph"
	"github.com/dreamware/chirp/internal/storage"
	"github.com/dreamware/chirp/internal/timeline"
)

// Role fixes a server's behavior for its process lifetime: a master
// replicates every mutation to its paired slave and owns fanout; a slave
// only applies what the master feeds it.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Config carries the per-process settings a shard server is started with.
type Config struct {
	ServerID int
	Role     Role

	// ReloadInterval is how often the follow document is re-read and merged
	// into the in-memory graph, to pick up edges written by sync helpers.
	// Zero disables the poller.
	ReloadInterval time.Duration
}

// Server is one shard server, master or slave. It owns the shard's social
// graph, persistent store, and timeline engine, and serves the four unary
// RPCs plus the duplex timeline stream and (on a slave) the replication
// feed.
type Server struct {
	cfg   Config
	graph *graph.Graph
	store storage.Store
	tl    *timeline.Engine

	// repl is non-nil only on a master.
	repl *Replicator

	stopc    chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a server over an opened store. The persisted documents are
// loaded immediately: a malformed document surfaces here and the caller
// must treat it as fatal. repl is the master's link to its slave, nil for a
// slave role.
func New(cfg Config, store storage.Store, repl *Replicator) (*Server, error) {
	fd, td, err := store.Load()
	if err != nil {
		return nil, err
	}

	g := graph.New()
	g.Merge(fd)

	tl := timeline.New(store, g)
	tl.Load(td)

	if cfg.Role != RoleMaster {
		repl = nil
	}
	s := &Server{
		cfg:   cfg,
		graph: g,
		store: store,
		tl:    tl,
		repl:  repl,
		stopc: make(chan struct{}),
	}
	return s, nil
}

// Start launches the background reload poller, if configured.
func (s *Server) Start() {
	if s.cfg.ReloadInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fd, err := s.store.LoadFollows()
				if err != nil {
					log.Printf("reload: %v", err)
					continue
				}
				s.graph.Merge(fd)
			case <-s.stopc:
				return
			}
		}
	}()
}

// Stop shuts down background work and the replication link.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopc) })
	s.wg.Wait()
	if s.repl != nil {
		s.repl.Close()
	}
}

// Mux returns the server's HTTP routes.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rpc/login", s.handleLogin)
	mux.HandleFunc("/rpc/follow", s.handleFollow)
	mux.HandleFunc("/rpc/unfollow", s.handleUnfollow)
	mux.HandleFunc("/rpc/list", s.handleList)
	mux.HandleFunc("/rpc/timeline", s.handleTimeline)
	mux.HandleFunc("/rpc/replicate", s.handleReplicate)
	return mux
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (cluster.Request, bool) {
	var req cluster.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return cluster.Request{}, false
	}
	if req.Username == "" {
		http.Error(w, "missing username", http.StatusBadRequest)
		return cluster.Request{}, false
	}
	return req, true
}

func writeReply(w http.ResponseWriter, reply any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

// handleLogin serves Login, including the disconnect control signal. On a
// master the request is forwarded to the slave before the local mutation;
// a forward failure is logged and does not fail the client call.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	if s.repl != nil {
		s.repl.ForwardLogin(req)
	}

	// Disconnect marks the user offline and must not create state.
	if len(req.Args) > 0 && req.Args[0] == cluster.ArgDisconnect {
		log.Printf("login: %s disconnected", req.Username)
		s.graph.Disconnect(req.Username)
		writeReply(w, cluster.Reply{Status: cluster.StatusOK, Msg: "Goodbye " + req.Username})
		return
	}

	log.Printf("serving login request - %s", req.Username)
	switch s.graph.Login(req.Username) {
	case graph.LoginNew:
		if err := s.store.CreateUser(req.Username); err != nil {
			log.Printf("login: persist %s: %v", req.Username, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeReply(w, cluster.Reply{Status: cluster.StatusOK, Msg: "Login Successful!"})
	case graph.LoginDuplicate:
		writeReply(w, cluster.Reply{Status: cluster.StatusAlreadyLoggedIn, Msg: "You have already logged in!"})
	case graph.LoginWelcomeBack:
		writeReply(w, cluster.Reply{Status: cluster.StatusWelcomeBack, Msg: "Welcome Back " + req.Username})
	}
}

// followStatus maps graph validation errors onto reply statuses.
func followStatus(err error) (cluster.Status, string) {
	switch {
	case errors.Is(err, graph.ErrSelfFollow), errors.Is(err, graph.ErrUnknownUser):
		return cluster.StatusInvalidUsername, "Follow Failed - Invalid Username"
	case errors.Is(err, graph.ErrAlreadyFollowing):
		return cluster.StatusAlreadyFollowing, "Follow Failed - Already Following User"
	case errors.Is(err, graph.ErrNotFollowing):
		return cluster.StatusNotFollowing, "Unfollow Failed - Not Following User"
	}
	return cluster.StatusNotFound, err.Error()
}

// handleFollow serves Follow: symmetric edge insert, persisted, and
// forwarded to the slave first on a master. The edge timestamp doubles as
// the follower's replay cutoff, so the master stamps it once and forwards
// the stamp; both replicas persist the same cutoff.
func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if len(req.Args) < 1 {
		http.Error(w, "missing followee", http.StatusBadRequest)
		return
	}
	follower, followee := req.Username, req.Args[0]
	log.Printf("serving follow request - %s -> %s", follower, followee)

	ts := time.Now().Unix()
	if len(req.Args) >= 2 {
		if carried, err := strconv.ParseInt(req.Args[1], 10, 64); err == nil {
			ts = carried
		}
	}

	if s.repl != nil {
		s.repl.ForwardFollow(cluster.Request{
			Username: follower,
			Args:     []string{followee, strconv.FormatInt(ts, 10)},
		})
	}

	if err := s.graph.Follow(follower, followee, ts); err != nil {
		status, msg := followStatus(err)
		writeReply(w, cluster.Reply{Status: status, Msg: msg})
		return
	}
	if err := s.store.AddFollow(follower, followee, ts); err != nil {
		log.Printf("follow: persist %s -> %s: %v", follower, followee, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeReply(w, cluster.Reply{Status: cluster.StatusOK, Msg: "Follow Successful"})
}

// handleUnfollow serves Unfollow: full symmetric removal with the same
// validation shape as Follow.
func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if len(req.Args) < 1 {
		http.Error(w, "missing followee", http.StatusBadRequest)
		return
	}
	follower, followee := req.Username, req.Args[0]
	log.Printf("serving unfollow request - %s -x-> %s", follower, followee)

	if s.repl != nil {
		s.repl.ForwardUnfollow(req)
	}

	if err := s.graph.Unfollow(follower, followee); err != nil {
		status, msg := followStatus(err)
		writeReply(w, cluster.Reply{Status: status, Msg: msg})
		return
	}
	if err := s.store.RemoveFollow(follower, followee); err != nil {
		log.Printf("unfollow: persist %s -x-> %s: %v", follower, followee, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeReply(w, cluster.Reply{Status: cluster.StatusOK, Msg: "Unfollow Successful"})
}

// handleList serves List: every known username plus the callers direct
// followers. The direction is deliberate: followers of the caller, not who
// the caller follows.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	log.Printf("serving list request - %s", req.Username)

	followers, err := s.graph.Followers(req.Username)
	if err != nil {
		writeReply(w, cluster.ListReply{Status: cluster.StatusInvalidUsername})
		return
	}
	writeReply(w, cluster.ListReply{
		Status:    cluster.StatusOK,
		AllUsers:  s.graph.Usernames(),
		Followers: followers,
	})
}

// handleTimeline serves the duplex timeline stream. The first inbound frame
// must be the INIT sentinel naming the user; it binds the stream (replacing
// any previous attachment) and triggers the bounded replay. Every later
// frame is a new post. On a master, INIT frames and stamped posts are also
// forwarded on the replication feed.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	stream, err := cluster.ServeStream(w, r)
	if err != nil {
		log.Printf("timeline: open stream: %v", err)
		return
	}

	first, err := stream.Recv()
	if err != nil {
		return
	}
	if !first.IsInit() {
		log.Printf("timeline: stream did not begin with INIT, dropping")
		return
	}
	username := first.Username
	log.Printf("serving timeline request - %s", username)

	if s.repl != nil {
		s.repl.ForwardTimeline(first)
	}

	sink := stream
	prev, err := s.graph.Attach(username, sink)
	if err != nil {
		log.Printf("timeline: attach %s: %v", username, err)
		return
	}
	if prev != nil {
		log.Printf("timeline: %s reattached, displacing previous stream", username)
	}
	defer s.graph.Detach(username, sink)

	if _, err := s.tl.Replay(username, sink); err != nil {
		return
	}

	for {
		msg, err := stream.Recv()
		if err != nil {
			if err != io.EOF {
				log.Printf("timeline: %s stream closed: %v", username, err)
			}
			return
		}
		// A repeated INIT is neither an error nor a post.
		if msg.IsInit() {
			continue
		}
		post, err := s.tl.Post(username, msg.Msg)
		if err != nil {
			log.Printf("timeline: persist post by %s: %v", username, err)
			continue
		}
		// Forward the stamped post so both replicas persist the same
		// timestamp.
		if s.repl != nil {
			s.repl.ForwardTimeline(cluster.Message{
				Username:  post.Username,
				Msg:       post.Message,
				Timestamp: post.Timestamp,
			})
		}
	}
}

// handleReplicate is the slave side of the timeline feed: one long-lived
// inbound stream from the master, multiplexing all users. INIT frames are
// acknowledged by nothing; post frames are applied with their carried
// timestamps. No fanout and no replay happen here.
func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Role != RoleSlave {
		// The dialer's body is an open-ended stream, so commit the
		// rejection without waiting to drain it.
		rc := http.NewResponseController(w)
		if err := rc.EnableFullDuplex(); err != nil {
			log.Printf("replicate: full duplex: %v", err)
		}
		http.Error(w, "not a slave", http.StatusBadRequest)
		_ = rc.Flush()
		return
	}
	stream, err := cluster.ServeStream(w, r)
	if err != nil {
		log.Printf("replicate: open stream: %v", err)
		return
	}
	log.Printf("replicate: feed attached")

	for {
		msg, err := stream.Recv()
		if err != nil {
			if err != io.EOF {
				log.Printf("replicate: feed closed: %v", err)
			}
			return
		}
		if msg.IsInit() {
			continue
		}
		p := storage.Post{Username: msg.Username, Message: msg.Msg, Timestamp: msg.Timestamp}
		if err := s.tl.Apply(p); err != nil {
			log.Printf("replicate: apply post by %s: %v", msg.Username, err)
		}
	}
}
