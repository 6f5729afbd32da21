package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ServerType distinguishes the three roles a process can announce to the
// coordinator. A shard is a master/slave pair; sync helpers run beside them.
type ServerType string

const (
	TypeMaster ServerType = "master"
	TypeSlave  ServerType = "slave"
	TypeSync   ServerType = "sync"
)

// ServerInfo identifies one announced server process. ServerID plus Type is
// the coordinator's lookup key: the same numeric id can appear once in the
// master table and once in the slave table.
type ServerInfo struct {
	ServerID int        `json:"server_id"`
	Type     ServerType `json:"type"`
	IP       string     `json:"ip"`
	Port     string     `json:"port"`
}

// Addr returns the host:port form used to dial the server.
func (s ServerInfo) Addr() string {
	return s.IP + ":" + s.Port
}

// Heartbeat is one liveness announcement on the long-lived stream from a
// server to the coordinator. Timestamp is unix seconds at the sender.
type Heartbeat struct {
	ServerInfo
	Timestamp int64 `json:"timestamp"`
}

// Request is the envelope for the unary shard-server RPCs (Login, Follow,
// Unfollow, List). Args carries the operation-specific extras: the followee
// for Follow/Unfollow, or the disconnect control signal for Login.
type Request struct {
	Username string   `json:"username"`
	Args     []string `json:"args,omitempty"`
}

// ArgDisconnect is the Login control signal a client sends on shutdown to
// mark itself disconnected without creating any state.
const ArgDisconnect = "disconnect"

// Reply is the structured response for the unary shard-server RPCs.
// Validation failures travel here as a Status plus human-readable Msg,
// never as a transport failure.
type Reply struct {
	Status Status `json:"status"`
	Msg    string `json:"msg"`
}

// ListReply answers a List request: every known username on the shard plus
// the usernames of the caller's direct followers. The followers direction
// (who follows the caller, not who the caller follows) is load-bearing for
// clients and must not be flipped.
type ListReply struct {
	Status    Status   `json:"status"`
	AllUsers  []string `json:"all_users"`
	Followers []string `json:"followers"`
}

// Message is one frame on a timeline stream, in both directions. The first
// inbound frame must carry Msg == MsgInit to bind the stream to Username;
// every later inbound frame is a new post. Timestamp is unix seconds,
// stamped by the server on ingest (client-supplied values are ignored for
// new posts and preserved only on the replication feed).
type Message struct {
	Username  string `json:"username"`
	Msg       string `json:"msg"`
	Timestamp int64  `json:"timestamp"`
}

// MsgInit is the sentinel body of the stream-binding first frame.
const MsgInit = "INIT"

// IsInit reports whether the message is the stream-binding sentinel.
func (m Message) IsInit() bool { return m.Msg == MsgInit }

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON marshals body, POSTs it to url, and decodes the JSON response
// into out (skipped when out is nil). Non-2xx responses are errors.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
