// Package dockerx wraps the Docker daemon behind retry and circuit-breaker
// policies. Every call into the runtime from the rest of the gateway goes
// through Manager; callers never touch the go-dockerclient API directly.
package dockerx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mcpgate/internal/common"

	docker "github.com/fsouza/go-dockerclient"
)

// Error taxonomy. Each sentinel wraps the matching common sentinel so
// common.HTTPStatusFromError maps dockerx failures without extra plumbing.
var (
	// ErrConnection: the daemon is unreachable. Recoverable.
	ErrConnection = fmt.Errorf("docker daemon unreachable: %w", common.ErrServiceUnavailable)
	// ErrNotFound: container/image/resource unknown. Never retried.
	ErrNotFound = fmt.Errorf("docker resource not found: %w", common.ErrNotFound)
	// ErrPermission: the daemon rejected the operation. Never retried.
	ErrPermission = fmt.Errorf("docker permission denied: %w", common.ErrForbidden)
	// ErrConflict: the operation clashes with current resource state.
	ErrConflict = fmt.Errorf("docker resource conflict: %w", common.ErrConflict)
	// ErrServer: the daemon failed internally (5xx). Recoverable.
	ErrServer = errors.New("docker daemon error")
	// ErrBuild: an image build failed.
	ErrBuild = errors.New("docker build failed")
)

// MapError translates go-dockerclient errors into the package taxonomy.
// Unrecognized errors pass through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var noSuchContainer *docker.NoSuchContainer
	if errors.As(err, &noSuchContainer) {
		return fmt.Errorf("%w: container %s", ErrNotFound, noSuchContainer.ID)
	}
	if errors.Is(err, docker.ErrNoSuchImage) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var apiErr *docker.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 404:
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		case apiErr.Status == 403:
			return fmt.Errorf("%w: %s", ErrPermission, apiErr.Message)
		case apiErr.Status == 409:
			return fmt.Errorf("%w: %s", ErrConflict, apiErr.Message)
		case apiErr.Status >= 500:
			return fmt.Errorf("%w: %s", ErrServer, apiErr.Message)
		}
		return err
	}

	if isConnectionString(err) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return err
}

// IsRecoverable reports whether an error is transient and eligible for
// retry: connectivity failures, timeouts and daemon-side (5xx) errors.
// Client errors (not-found, permission, conflict) are never retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermission) || errors.Is(err, ErrConflict) {
		return false
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, ErrServer) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *docker.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || isConnectionString(err)
}

func isConnectionString(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "cannot connect") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host")
}
