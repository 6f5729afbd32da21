package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
)

const forwardTimeout = 5 * time.Second

// Replicator is a master's link to its paired slave. Unary forwards are
// fire-and-forget HTTP calls; timeline frames travel on one lazily-dialed
// replication stream shared by every client. Forward failures are logged
// and never fail the originating client call.
type Replicator struct {
	addr string

	mu     sync.Mutex
	stream *cluster.Stream
}

// NewReplicator points the link at the slave's base URL, e.g.
// "http://10.0.0.7:9001". Nothing is dialed until the first timeline
// forward.
func NewReplicator(addr string) *Replicator {
	return &Replicator{addr: addr}
}

func (r *Replicator) forward(path string, req cluster.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	var reply cluster.Reply
	if err := cluster.PostJSON(ctx, r.addr+path, req, &reply); err != nil {
		log.Printf("replicate: forward %s for %s: %v",
			path, req.Username, cluster.WrapErr(cluster.KindReplication, "forward", err))
	}
}

// ForwardLogin mirrors a Login call, including the disconnect control
// signal, onto the slave.
func (r *Replicator) ForwardLogin(req cluster.Request) { r.forward("/rpc/login", req) }

// ForwardFollow mirrors a Follow call onto the slave. The master's edge
// stamp rides along in Args so both replicas persist the same cutoff.
func (r *Replicator) ForwardFollow(req cluster.Request) { r.forward("/rpc/follow", req) }

// ForwardUnfollow mirrors an Unfollow call onto the slave.
func (r *Replicator) ForwardUnfollow(req cluster.Request) { r.forward("/rpc/unfollow", req) }

// ForwardTimeline pushes one timeline frame onto the replication stream,
// dialing it first if needed. A send failure drops the stream so the next
// forward redials.
func (r *Replicator) ForwardTimeline(m cluster.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		// The context lives as long as the stream does, so no timeout here.
		stream, err := cluster.DialStream(context.Background(), r.addr+"/rpc/replicate")
		if err != nil {
			log.Printf("replicate: dial %s: %v", r.addr,
				cluster.WrapErr(cluster.KindReplication, "dial", err))
			return
		}
		r.stream = stream
	}
	if err := r.stream.Send(m); err != nil {
		log.Printf("replicate: send frame for %s: %v", m.Username,
			cluster.WrapErr(cluster.KindReplication, "send", err))
		_ = r.stream.Close()
		r.stream = nil
	}
}

// Close tears down the replication stream if one is up.
func (r *Replicator) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		_ = r.stream.Close()
		r.stream = nil
	}
}
