package build

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"mcpgate/internal/domain/model"
	"mcpgate/internal/platform/store"
)

// memStore is an in-memory stand-in for the Redis store used in tests.
type memStore struct {
	mu        sync.Mutex
	kv        map[string]string
	queues    map[string][]string
	published map[string][][]byte
}

func newMemStore() *memStore {
	return &memStore{
		kv:        make(map[string]string),
		queues:    make(map[string][]string),
		published: make(map[string][][]byte),
	}
}

func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return "", store.ErrKeyNotFound
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *memStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range s.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.kv[key]
	return ok, nil
}

func (s *memStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[channel] = append(s.published[channel], payload)
	return nil
}

func (s *memStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	out := make(chan []byte)
	close(out)
	return out, nil
}

func (s *memStore) Push(ctx context.Context, queue, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue] = append(s.queues[queue], value)
	return nil
}

func (s *memStore) BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[queue]
	if len(q) == 0 {
		return "", store.ErrEmpty
	}
	v := q[0]
	s.queues[queue] = q[1:]
	return v, nil
}

func (s *memStore) Len(ctx context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queues[queue])), nil
}

func (s *memStore) events(channel string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []Event
	for _, raw := range s.published[channel] {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err == nil {
			events = append(events, ev)
		}
	}
	return events
}

func newTestManager() (*Manager, *memStore) {
	s := newMemStore()
	return NewManager(s, s, s, "build_queue", time.Hour), s
}

func TestStartImageBuild(t *testing.T) {
	m, s := newTestManager()
	ctx := context.Background()

	id, err := m.StartImageBuild(ctx, model.ImageBuildPayload{
		ContextPath: "/tmp/ctx",
		ImageTag:    "demo:latest",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a build id")
	}

	job, err := m.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job == nil {
		t.Fatal("expected a stored record")
	}
	if job.Status != model.BuildStatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if job.Kind != model.BuildKindImage {
		t.Fatalf("expected image kind, got %s", job.Kind)
	}
	if job.ImageBuild == nil || job.ImageBuild.ImageTag != "demo:latest" {
		t.Fatal("payload not preserved on record")
	}
	if job.ImageBuild.Dockerfile != "Dockerfile" {
		t.Fatalf("expected Dockerfile default, got %q", job.ImageBuild.Dockerfile)
	}
	if job.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Fatal("pending build must not carry start/completion times")
	}

	if n, _ := s.Len(ctx, "build_queue"); n != 1 {
		t.Fatalf("expected 1 queued job, got %d", n)
	}
	if popped, _ := s.BlockingPop(ctx, "build_queue", 0); popped != id {
		t.Fatalf("queue carries %q, expected %q", popped, id)
	}
}

func TestStartBuild_UniqueIDs(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate build id %s", id)
		}
		seen[id] = true
	}
}

func TestGetStatus_Unknown(t *testing.T) {
	m, _ := newTestManager()
	job, err := m.GetStatus(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Fatal("unknown build must yield nil record")
	}
}

func TestCancel_PendingBuild(t *testing.T) {
	m, s := newTestManager()
	ctx := context.Background()

	id, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})

	cancelled, err := m.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cancelled {
		t.Fatal("expected pending build to be cancellable")
	}

	job, _ := m.GetStatus(ctx, id)
	if job.Status != model.BuildStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error == nil || *job.Error != "cancelled by user" {
		t.Fatalf("expected cancellation reason, got %v", job.Error)
	}
	if job.CompletedAt == nil {
		t.Fatal("expected CompletedAt on cancelled build")
	}
	if !m.IsCancelled(ctx, id) {
		t.Fatal("expected cancel flag to be set")
	}

	events := s.events(JobChannel(id))
	if len(events) != 1 || events[0].Type != "build_cancelled" {
		t.Fatalf("expected a build_cancelled event, got %+v", events)
	}
}

func TestCancel_TerminalAndUnknown(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	id, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})
	job, _ := m.GetStatus(ctx, id)
	job.Status = model.BuildStatusSuccess
	if err := m.WriteRecord(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cancelled, _ := m.Cancel(ctx, id); cancelled {
		t.Fatal("terminal build must not be cancellable")
	}
	// Terminal record untouched by the refused cancel.
	job, _ = m.GetStatus(ctx, id)
	if job.Status != model.BuildStatusSuccess {
		t.Fatalf("terminal status must be immutable, got %s", job.Status)
	}

	if cancelled, _ := m.Cancel(ctx, "nope"); cancelled {
		t.Fatal("unknown build must not be cancellable")
	}
}

func TestRetry_TruthTable(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	id, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})

	// Pending: not retryable.
	if newID, _ := m.Retry(ctx, id); newID != "" {
		t.Fatal("pending build must not be retryable")
	}

	// Failed: retryable, original payload replayed under a new id.
	job, _ := m.GetStatus(ctx, id)
	reason := "engine exploded"
	job.Status = model.BuildStatusFailed
	job.Error = &reason
	m.WriteRecord(ctx, job)

	newID, err := m.Retry(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newID == "" || newID == id {
		t.Fatalf("expected a fresh build id, got %q", newID)
	}
	replayed, _ := m.GetStatus(ctx, newID)
	if replayed.Status != model.BuildStatusPending {
		t.Fatalf("expected pending replay, got %s", replayed.Status)
	}
	if replayed.ImageBuild == nil || replayed.ImageBuild.ImageTag != "t" {
		t.Fatal("expected original payload on the replay")
	}
	if replayed.Error != nil {
		t.Fatal("replay must not inherit the failure")
	}

	// Success: not retryable.
	job.Status = model.BuildStatusSuccess
	job.Error = nil
	m.WriteRecord(ctx, job)
	if got, _ := m.Retry(ctx, id); got != "" {
		t.Fatal("successful build must not be retryable")
	}

	// Unknown: not retryable.
	if got, _ := m.Retry(ctx, "nope"); got != "" {
		t.Fatal("unknown build must not be retryable")
	}
}

func TestList_OrderFilterLimit(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})
		job, _ := m.GetStatus(ctx, id)
		job.CreatedAt = time.Date(2025, 6, 1, 10+i, 0, 0, 0, time.UTC)
		m.WriteRecord(ctx, job)
		ids = append(ids, id)
	}

	builds, err := m.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(builds) != 3 {
		t.Fatalf("expected 3 builds, got %d", len(builds))
	}
	// Newest first.
	if builds[0].ID != ids[2] || builds[2].ID != ids[0] {
		t.Fatal("expected newest-first ordering")
	}

	if builds, _ = m.List(ctx, "", 2); len(builds) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(builds))
	}

	job, _ := m.GetStatus(ctx, ids[0])
	job.Status = model.BuildStatusBuilding
	m.WriteRecord(ctx, job)

	builds, _ = m.List(ctx, model.BuildStatusBuilding, 0)
	if len(builds) != 1 || builds[0].ID != ids[0] {
		t.Fatalf("expected only the building record, got %d", len(builds))
	}
}

func TestList_SkipsCancelFlags(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	id, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})
	if _, err := m.Cancel(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	builds, err := m.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(builds) != 1 {
		t.Fatalf("cancel flag keys must not surface as builds, got %d records", len(builds))
	}
}

func TestCleanup(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	oldID, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})
	job, _ := m.GetStatus(ctx, oldID)
	job.CreatedAt = time.Now().UTC().AddDate(0, 0, -10)
	m.WriteRecord(ctx, job)

	freshID, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})

	removed, err := m.Cleanup(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if job, _ := m.GetStatus(ctx, oldID); job != nil {
		t.Fatal("old record should be gone")
	}
	if job, _ := m.GetStatus(ctx, freshID); job == nil {
		t.Fatal("fresh record must survive cleanup")
	}
}

func TestQueueStatus(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})
	}
	id, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})
	job, _ := m.GetStatus(ctx, id)
	job.Status = model.BuildStatusBuilding
	m.WriteRecord(ctx, job)

	status, err := m.QueueStatus(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.QueueLength != 4 {
		t.Fatalf("expected queue length 4, got %d", status.QueueLength)
	}
	if status.TotalBuilds != 4 {
		t.Fatalf("expected 4 total builds, got %d", status.TotalBuilds)
	}
	if status.ActiveBuilds != 1 {
		t.Fatalf("expected 1 active build, got %d", status.ActiveBuilds)
	}
}

func TestGetLogs(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	if logs, _ := m.GetLogs(ctx, "nope"); logs != nil {
		t.Fatal("unknown build must yield nil logs")
	}

	id, _ := m.StartImageBuild(ctx, model.ImageBuildPayload{ContextPath: "/c", ImageTag: "t"})
	logs, err := m.GetLogs(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logs == nil || len(logs) != 0 {
		t.Fatalf("expected empty slice for a known build without output, got %v", logs)
	}

	job, _ := m.GetStatus(ctx, id)
	job.Logs = []model.BuildLogEntry{{Status: "building", Message: "Step 1/3"}}
	m.WriteRecord(ctx, job)

	logs, _ = m.GetLogs(ctx, id)
	if len(logs) != 1 || logs[0].Message != "Step 1/3" {
		t.Fatalf("expected stored log entry, got %v", logs)
	}
}
