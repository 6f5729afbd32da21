// Package main implements the chirp command-line client.
//
// The client discovers its shard master through the coordinator, logs in,
// and then runs a command loop:
//
//	FOLLOW <user>     follow another user
//	UNFOLLOW <user>   drop the edge again
//	LIST              all users plus your followers
//	TIMELINE          enter timeline mode (interactive stream)
//
// Timeline mode is terminal: the client binds a duplex stream, prints the
// replayed history and every live post from followed users, and treats
// each typed line as a new post until interrupted.
//
// Configuration:
//   - CHIRP_USER: Username to log in as (required)
//   - COORDINATOR_ADDR: Coordinator URL (default: "http://127.0.0.1:8000")
package main

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/chirp/internal/cluster"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	username := mustGetenv("CHIRP_USER")
	coord := getenv("COORDINATOR_ADDR", "http://127.0.0.1:8000")

	ctx := context.Background()
	server, err := discover(ctx, coord, username)
	if err != nil {
		logFatal("discover: %v", err)
	}
	base := "http://" + server.Addr()
	log.Printf("routed to server %d @ %s", server.ServerID, server.Addr())

	reply, err := login(ctx, base, username, false)
	if err != nil {
		logFatal("login: %v", err)
	}
	fmt.Println(reply.Msg)
	if !reply.Status.OK() {
		os.Exit(1)
	}

	// Disconnect on Ctrl-C so a relogin is greeted, not refused.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = login(ctx, base, username, true)
		os.Exit(0)
	}()

	runCommands(ctx, base, username)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = login(ctx, base, username, true)
}

// discover asks the coordinator which master serves this username.
func discover(ctx context.Context, coord, username string) (cluster.ServerInfo, error) {
	var info cluster.ServerInfo
	url := coord + "/assign?user_id=" + strconv.Itoa(routeID(username))
	if err := cluster.GetJSON(ctx, url, &info); err != nil {
		return info, err
	}
	return info, nil
}

// routeID maps a username onto the numeric routing space. Numeric names
// route by their value, everything else by a stable hash.
func routeID(username string) int {
	if n, err := strconv.Atoi(username); err == nil && n >= 0 {
		return n
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	return int(h.Sum32() % (1 << 30))
}

func login(ctx context.Context, base, username string, disconnect bool) (cluster.Reply, error) {
	req := cluster.Request{Username: username}
	if disconnect {
		req.Args = []string{cluster.ArgDisconnect}
	}
	var reply cluster.Reply
	err := cluster.PostJSON(ctx, base+"/rpc/login", req, &reply)
	return reply, err
}

// runCommands reads commands from stdin until EOF or timeline mode ends.
func runCommands(ctx context.Context, base, username string) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("Cmd> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			fmt.Print("Cmd> ")
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "FOLLOW":
			if len(fields) < 2 {
				fmt.Println("usage: FOLLOW <user>")
				break
			}
			unary(ctx, base+"/rpc/follow", username, fields[1])
		case "UNFOLLOW":
			if len(fields) < 2 {
				fmt.Println("usage: UNFOLLOW <user>")
				break
			}
			unary(ctx, base+"/rpc/unfollow", username, fields[1])
		case "LIST":
			list(ctx, base, username)
		case "TIMELINE":
			// Timeline mode does not return to the command loop.
			timelineMode(base, username)
			return
		default:
			fmt.Println("commands: FOLLOW, UNFOLLOW, LIST, TIMELINE")
		}
		fmt.Print("Cmd> ")
	}
}

func unary(ctx context.Context, url, username, arg string) {
	var reply cluster.Reply
	err := cluster.PostJSON(ctx, url, cluster.Request{Username: username, Args: []string{arg}}, &reply)
	if err != nil {
		fmt.Println("request failed:", err)
		return
	}
	fmt.Println(reply.Msg)
}

func list(ctx context.Context, base, username string) {
	var reply cluster.ListReply
	err := cluster.PostJSON(ctx, base+"/rpc/list", cluster.Request{Username: username}, &reply)
	if err != nil {
		fmt.Println("request failed:", err)
		return
	}
	fmt.Println("All users:", strings.Join(reply.AllUsers, ", "))
	fmt.Println("Followers:", strings.Join(reply.Followers, ", "))
}

// timelineMode binds the duplex stream, prints inbound posts, and posts
// each typed line. It returns when the stream or stdin closes.
func timelineMode(base, username string) {
	stream, err := cluster.DialStream(context.Background(), base+"/rpc/timeline")
	if err != nil {
		fmt.Println("timeline unavailable:", err)
		return
	}
	defer stream.Close()

	if err := stream.Send(cluster.Message{Username: username, Msg: cluster.MsgInit}); err != nil {
		fmt.Println("timeline init failed:", err)
		return
	}
	fmt.Println("Now you are in the timeline")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, err := stream.Recv()
			if err != nil {
				return
			}
			t := time.Unix(msg.Timestamp, 0).Format(time.DateTime)
			fmt.Printf("%s (%s) >> %s\n", msg.Username, t, msg.Msg)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		body := strings.TrimSpace(scanner.Text())
		if body == "" {
			continue
		}
		if err := stream.Send(cluster.Message{Username: username, Msg: body}); err != nil {
			fmt.Println("post failed:", err)
			break
		}
	}
	_ = stream.Close()
	<-done
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
