package cluster

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestStreamDuplex exercises a full round trip: the client dials, frames
// flow both ways on one request, and close is seen as EOF on the far side.
func TestStreamDuplex(t *testing.T) {
	serverDone := make(chan []Message, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream, err := ServeStream(w, r)
		if err != nil {
			t.Errorf("serve stream: %v", err)
			return
		}
		var seen []Message
		for {
			m, err := stream.Recv()
			if err != nil {
				serverDone <- seen
				return
			}
			seen = append(seen, m)
			// Echo back with a server-side stamp.
			m.Timestamp = 100
			if err := stream.Send(m); err != nil {
				t.Errorf("server send: %v", err)
				return
			}
		}
	}))
	defer server.Close()

	stream, err := DialStream(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	frames := []Message{
		{Username: "alice", Msg: MsgInit},
		{Username: "alice", Msg: "first post"},
		{Username: "alice", Msg: "second post"},
	}
	for _, f := range frames {
		if err := stream.Send(f); err != nil {
			t.Fatalf("send %q: %v", f.Msg, err)
		}
		echo, err := stream.Recv()
		if err != nil {
			t.Fatalf("recv echo of %q: %v", f.Msg, err)
		}
		if echo.Msg != f.Msg || echo.Timestamp != 100 {
			t.Errorf("echo = %+v, want body %q stamped 100", echo, f.Msg)
		}
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	seen := <-serverDone
	if len(seen) != len(frames) {
		t.Fatalf("server saw %d frames, want %d", len(seen), len(frames))
	}
	if !seen[0].IsInit() {
		t.Error("first frame was not the sentinel")
	}
}

func TestDialStreamNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	if _, err := DialStream(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for rejected stream")
	}
}

func TestStreamRecvAfterPeerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream, err := ServeStream(w, r)
		if err != nil {
			t.Errorf("serve stream: %v", err)
			return
		}
		if err := stream.Send(Message{Username: "bob", Msg: "only frame"}); err != nil {
			log.Printf("send: %v", err)
		}
		// Handler returns, ending the response body.
	}))
	defer server.Close()

	stream, err := DialStream(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("first recv: %v", err)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("recv after close: got %v, want io.EOF", err)
	}
}
