package cluster

// Status classifies the outcome of a unary shard-server RPC. All of these
// are "expected" command outcomes and travel in the normal Reply, never as
// an HTTP error. StatusOK and StatusAlreadyLoggedIn are both successes:
// duplicate login is informational, not a refusal.
type Status string

const (
	StatusOK              Status = "OK"
	StatusAlreadyLoggedIn Status = "ALREADY_LOGGED_IN"
	StatusWelcomeBack     Status = "WELCOME_BACK"

	// StatusInvalidUsername covers self-follow and unknown-user refusals.
	StatusInvalidUsername Status = "INVALID_USERNAME"
	// StatusAlreadyFollowing is the idempotent duplicate-follow refusal.
	StatusAlreadyFollowing Status = "ALREADY_FOLLOWING"
	// StatusNotFollowing is the unfollow analog of StatusAlreadyFollowing.
	StatusNotFollowing Status = "NOT_FOLLOWING"
	// StatusNotFound is the discovery refusal: no such shard, slave, or user.
	StatusNotFound Status = "NOT_FOUND"
)

// OK reports whether the status is one of the success outcomes.
func (s Status) OK() bool {
	return s == StatusOK || s == StatusAlreadyLoggedIn || s == StatusWelcomeBack
}
