package daemon

import (
	"errors"
	"fmt"
)

// ErrRemoteUnreachable matches any UnreachableError via errors.Is.
var ErrRemoteUnreachable = errors.New("daemon unreachable")

// RemoteError is a non-2xx response from the daemon.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("daemon returned HTTP %d: %s", e.Status, e.Message)
}

// UnreachableError wraps a transport failure: refused connection, DNS,
// TLS, or the client timeout expiring.
type UnreachableError struct {
	Node string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("daemon on %s unreachable: %v", e.Node, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

func (e *UnreachableError) Is(target error) bool { return target == ErrRemoteUnreachable }

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == 404
}
