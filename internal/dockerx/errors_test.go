package dockerx

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"mcpgate/internal/common"

	docker "github.com/fsouza/go-dockerclient"
)

func TestMapError_NoSuchContainer(t *testing.T) {
	err := MapError(&docker.NoSuchContainer{ID: "abc123"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if common.HTTPStatusFromError(err) != http.StatusNotFound {
		t.Fatalf("expected 404 mapping, got %d", common.HTTPStatusFromError(err))
	}
}

func TestMapError_APIStatuses(t *testing.T) {
	cases := []struct {
		status   int
		sentinel error
	}{
		{404, ErrNotFound},
		{403, ErrPermission},
		{409, ErrConflict},
		{500, ErrServer},
		{503, ErrServer},
	}
	for _, tc := range cases {
		err := MapError(&docker.Error{Status: tc.status, Message: "daemon says no"})
		if !errors.Is(err, tc.sentinel) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.sentinel, err)
		}
	}
}

func TestMapError_ConnectionRefused(t *testing.T) {
	err := MapError(errors.New("dial unix /var/run/docker.sock: connect: connection refused"))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if common.HTTPStatusFromError(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 mapping, got %d", common.HTTPStatusFromError(err))
	}
}

func TestMapError_PassThrough(t *testing.T) {
	boom := errors.New("something opaque")
	if got := MapError(boom); !errors.Is(got, boom) {
		t.Fatalf("expected pass-through, got %v", got)
	}
	if MapError(nil) != nil {
		t.Fatal("nil must map to nil")
	}
}

func TestIsRecoverable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection", MapError(errors.New("connection refused")), true},
		{"server", MapError(&docker.Error{Status: 500}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"timeout string", errors.New("i/o timeout"), true},
		{"not found", MapError(&docker.Error{Status: 404}), false},
		{"permission", MapError(&docker.Error{Status: 403}), false},
		{"conflict", MapError(&docker.Error{Status: 409}), false},
		{"opaque", errors.New("opaque"), false},
	}
	for _, tc := range cases {
		if got := IsRecoverable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
