package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/nickromney-org/release-propagator/internal/failure"
)

// classifyTransportError maps go-git push/clone failures onto failure kinds.
// NoErrAlreadyUpToDate is not a failure and yields nil. Unrecognised errors
// get the fallback kind.
func classifyTransportError(op, remote string, err error, fallback failure.Kind) error {
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}

	l := strings.ToLower(err.Error())
	wrapped := fmt.Errorf("%s %s: %w", op, remote, err)
	switch {
	case errors.Is(err, git.ErrNonFastForwardUpdate),
		strings.Contains(l, "non-fast-forward"),
		strings.Contains(l, "fetch first"),
		strings.Contains(l, "[rejected]"):
		return failure.New(failure.KindPushRejected, wrapped)
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		strings.Contains(l, "authentication"),
		strings.Contains(l, "invalid username or password"),
		strings.Contains(l, "permission denied"):
		return failure.New(failure.KindUnauthorized, wrapped)
	default:
		return failure.New(fallback, wrapped)
	}
}
