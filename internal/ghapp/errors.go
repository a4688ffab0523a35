package ghapp

import (
	"errors"
	"fmt"
)

// ErrSigning indicates the app private key cannot sign a JWT. This is a
// configuration problem, not a transient failure, and is not retryable.
var ErrSigning = errors.New("jwt signing failed")

// ErrNoCredentials indicates a repository is not covered by any registered
// installation.
var ErrNoCredentials = errors.New("no credentials for repository")

// AuthError wraps a transient failure while exchanging a JWT for an
// installation token. Callers may retry.
type AuthError struct {
	InstallationID int64
	Err            error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("obtaining token for installation %d: %v", e.InstallationID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemoteError reports a non-2xx response from GitHub.
type RemoteError struct {
	StatusCode int
	URL        string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: HTTP %d from %s", e.StatusCode, e.URL)
}
