package gitx

import (
	"fmt"
	"time"
)

// ExternalFailure reports a git invocation that exited non-zero.
type ExternalFailure struct {
	Code   int
	Stderr string
}

func (e *ExternalFailure) Error() string {
	return fmt.Sprintf("git exited %d: %s", e.Code, e.Stderr)
}

// ExternalTimeout reports a git invocation that exceeded its per-call timeout.
type ExternalTimeout struct {
	Args    []string
	Timeout time.Duration
}

func (e *ExternalTimeout) Error() string {
	return fmt.Sprintf("git %v timed out after %s", e.Args, e.Timeout)
}

// EnvironmentMissing reports an absent or unsupported git binary.
type EnvironmentMissing struct {
	Detail string
}

func (e *EnvironmentMissing) Error() string {
	return "git environment missing: " + e.Detail
}
