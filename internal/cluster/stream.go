package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// streamClient has no overall timeout: timeline and heartbeat streams stay
// open for the lifetime of the process, so the shared 5s client cannot be
// used for them.
var streamClient = &http.Client{}

// Stream is one end of a long-lived message stream carried over a single
// HTTP request: newline-delimited JSON frames on the request body in one
// direction and on the response body in the other. Send is safe for
// concurrent use; Recv must be called from one goroutine.
type Stream struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flush   func() error
	dec     *json.Decoder
	closers []io.Closer
}

// Send writes one frame and flushes it to the peer.
func (s *Stream) Send(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(m); err != nil {
		return err
	}
	if s.flush != nil {
		return s.flush()
	}
	return nil
}

// Recv blocks for the next inbound frame. It returns io.EOF when the peer
// closes its sending side.
func (s *Stream) Recv() (Message, error) {
	var m Message
	if err := s.dec.Decode(&m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Close tears down both directions of the stream.
func (s *Stream) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ServeStream upgrades an HTTP handler invocation into a duplex Stream.
// It commits the response headers immediately so the dialing side unblocks,
// and enables full-duplex so the request body can still be read after the
// first response frame is written.
func ServeStream(w http.ResponseWriter, r *http.Request) (*Stream, error) {
	rc := http.NewResponseController(w)
	if err := rc.EnableFullDuplex(); err != nil {
		return nil, err
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, err
	}
	return &Stream{
		enc:   json.NewEncoder(w),
		flush: rc.Flush,
		dec:   json.NewDecoder(r.Body),
	}, nil
}

// DialStream opens a duplex Stream to url. The request body is an io.Pipe
// fed by Send; Recv reads the streamed response body. The call returns once
// the peer has committed its response headers.
func DialStream(ctx context.Context, url string) (*Stream, error) {
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	resp, err := streamClient.Do(req)
	if err != nil {
		pw.Close()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		pw.Close()
		resp.Body.Close()
		return nil, fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return &Stream{
		enc:     json.NewEncoder(pw),
		dec:     json.NewDecoder(resp.Body),
		closers: []io.Closer{pw, resp.Body},
	}, nil
}
