// Package build owns the build job lifecycle: creating jobs, dispatching
// them to the out-of-process worker pool, and reading/mutating the shared
// status records. The Redis-backed shared state is the single system of
// record for build status; records expire after a TTL.
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"mcpgate/internal/domain/model"
	"mcpgate/internal/platform/store"

	"github.com/google/uuid"
)

const (
	statusKeyPrefix = "build:"
	cancelKeyPrefix = "build:cancel:"
	// JobChannelPrefix prefixes the per-job event channel name.
	JobChannelPrefix = "job:"
)

// StatusKey returns the shared-state key of a build record.
func StatusKey(buildID string) string { return statusKeyPrefix + buildID }

// CancelKey returns the shared-state key of a build's cancellation flag.
func CancelKey(buildID string) string { return cancelKeyPrefix + buildID }

// JobChannel returns the event channel name for a build.
func JobChannel(buildID string) string { return JobChannelPrefix + buildID }

// Event is a lifecycle or progress event published on a job channel.
type Event struct {
	Type      string               `json:"type"`
	BuildID   string               `json:"build_id"`
	ImageTag  string               `json:"image_tag,omitempty"`
	Error     string               `json:"error,omitempty"`
	LogEntry  *model.BuildLogEntry `json:"log_entry,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Manager implements the build lifecycle operations over the shared state.
type Manager struct {
	kv        store.KV
	queue     store.Queue
	bus       store.Bus
	queueName string
	ttl       time.Duration
}

func NewManager(kv store.KV, queue store.Queue, bus store.Bus, queueName string, ttl time.Duration) *Manager {
	return &Manager{kv: kv, queue: queue, bus: bus, queueName: queueName, ttl: ttl}
}

// StartImageBuild creates a Docker image build job and dispatches it.
func (m *Manager) StartImageBuild(ctx context.Context, payload model.ImageBuildPayload) (string, error) {
	if payload.Dockerfile == "" {
		payload.Dockerfile = "Dockerfile"
	}
	job := &model.BuildJob{
		ID:         uuid.NewString(),
		Kind:       model.BuildKindImage,
		Status:     model.BuildStatusPending,
		CreatedAt:  time.Now().UTC(),
		ImageBuild: &payload,
	}
	if err := m.enqueue(ctx, job); err != nil {
		return "", err
	}
	log.Printf("INFO: Started Docker build %s for image %s", job.ID, payload.ImageTag)
	return job.ID, nil
}

// StartProjectBuild creates a composite project build job and dispatches it.
func (m *Manager) StartProjectBuild(ctx context.Context, payload model.ProjectBuildPayload) (string, error) {
	job := &model.BuildJob{
		ID:           uuid.NewString(),
		Kind:         model.BuildKindProject,
		Status:       model.BuildStatusPending,
		CreatedAt:    time.Now().UTC(),
		ProjectBuild: &payload,
	}
	if err := m.enqueue(ctx, job); err != nil {
		return "", err
	}
	log.Printf("INFO: Started project build %s for project %d", job.ID, payload.ProjectID)
	return job.ID, nil
}

func (m *Manager) enqueue(ctx context.Context, job *model.BuildJob) error {
	if err := m.writeRecord(ctx, job); err != nil {
		return fmt.Errorf("failed to store build record: %w", err)
	}
	if err := m.queue.Push(ctx, m.queueName, job.ID); err != nil {
		// The record will expire on its own; the job simply never runs.
		return fmt.Errorf("failed to dispatch build %s to worker queue: %w", job.ID, err)
	}
	return nil
}

// GetStatus returns the build record, or nil if it is unknown or expired.
func (m *Manager) GetStatus(ctx context.Context, buildID string) (*model.BuildJob, error) {
	raw, err := m.kv.Get(ctx, StatusKey(buildID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get build status for %s: %w", buildID, err)
	}
	var job model.BuildJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("corrupt build record %s: %w", buildID, err)
	}
	return &job, nil
}

// GetLogs returns the build's log entries. Unknown builds yield nil; a
// known build with no output yet yields an empty slice.
func (m *Manager) GetLogs(ctx context.Context, buildID string) ([]model.BuildLogEntry, error) {
	job, err := m.GetStatus(ctx, buildID)
	if err != nil || job == nil {
		return nil, err
	}
	if job.Logs == nil {
		return []model.BuildLogEntry{}, nil
	}
	return job.Logs, nil
}

// List returns live build records, newest first, optionally filtered by
// status, truncated to limit. Cost is proportional to the number of live
// records; acceptable because records expire.
func (m *Manager) List(ctx context.Context, statusFilter string, limit int) ([]*model.BuildJob, error) {
	keys, err := m.kv.Keys(ctx, statusKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}

	builds := make([]*model.BuildJob, 0, len(keys))
	for _, key := range keys {
		raw, err := m.kv.Get(ctx, key)
		if err != nil {
			continue // expired between Keys and Get, or a cancel flag key
		}
		var job model.BuildJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil || job.ID == "" {
			continue // cancel flags and foreign values are not build records
		}
		if statusFilter != "" && job.Status != statusFilter {
			continue
		}
		builds = append(builds, &job)
	}

	sort.Slice(builds, func(i, j int) bool {
		return builds[i].CreatedAt.After(builds[j].CreatedAt)
	})
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	return builds, nil
}

// Cancel requests termination of a pending or running build. It returns
// false for unknown or already-terminal builds. The status transition to
// FAILED happens here, synchronously; the worker notices the cancellation
// flag between steps and aborts.
func (m *Manager) Cancel(ctx context.Context, buildID string) (bool, error) {
	job, err := m.GetStatus(ctx, buildID)
	if err != nil {
		return false, err
	}
	if job == nil || model.IsTerminalStatus(job.Status) {
		return false, nil
	}

	// Signal the worker first so it stops producing status writes.
	if err := m.kv.Set(ctx, CancelKey(buildID), "1", m.ttl); err != nil {
		return false, fmt.Errorf("failed to set cancel flag for %s: %w", buildID, err)
	}

	now := time.Now().UTC()
	reason := "cancelled by user"
	job.Status = model.BuildStatusFailed
	job.Error = &reason
	job.CompletedAt = &now
	if err := m.writeRecord(ctx, job); err != nil {
		return false, fmt.Errorf("failed to persist cancelled build %s: %w", buildID, err)
	}

	m.publish(ctx, buildID, Event{
		Type:      "build_cancelled",
		BuildID:   buildID,
		Timestamp: now,
	})
	log.Printf("INFO: Cancelled build %s", buildID)
	return true, nil
}

// Retry re-submits a failed build with its original parameters and returns
// the new build id. It returns "" for unknown or non-failed builds.
func (m *Manager) Retry(ctx context.Context, buildID string) (string, error) {
	job, err := m.GetStatus(ctx, buildID)
	if err != nil {
		return "", err
	}
	if job == nil || job.Status != model.BuildStatusFailed {
		return "", nil
	}

	switch job.Kind {
	case model.BuildKindImage:
		if job.ImageBuild == nil {
			return "", fmt.Errorf("build %s has no image payload to replay", buildID)
		}
		return m.StartImageBuild(ctx, *job.ImageBuild)
	case model.BuildKindProject:
		if job.ProjectBuild == nil {
			return "", fmt.Errorf("build %s has no project payload to replay", buildID)
		}
		return m.StartProjectBuild(ctx, *job.ProjectBuild)
	}
	return "", nil
}

// Cleanup deletes build records older than the given number of days and
// returns the number removed. Records created after the scan began are
// never touched, so it is safe to run concurrently with job creation.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	keys, err := m.kv.Keys(ctx, statusKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to scan builds for cleanup: %w", err)
	}

	removed := 0
	for _, key := range keys {
		raw, err := m.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var job model.BuildJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil || job.ID == "" {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			if err := m.kv.Delete(ctx, key); err != nil {
				log.Printf("WARN: Failed to delete old build %s: %v", job.ID, err)
				continue
			}
			removed++
		}
	}
	log.Printf("INFO: Cleaned up %d old builds", removed)
	return removed, nil
}

// QueueStatus reports the dispatch queue length and live build counts.
type QueueStatus struct {
	QueueLength  int64 `json:"queue_length"`
	ActiveBuilds int   `json:"active_builds"`
	TotalBuilds  int   `json:"total_builds"`
}

func (m *Manager) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	length, err := m.queue.Len(ctx, m.queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue length: %w", err)
	}
	builds, err := m.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	status := &QueueStatus{QueueLength: length, TotalBuilds: len(builds)}
	for _, b := range builds {
		if b.Status == model.BuildStatusBuilding {
			status.ActiveBuilds++
		}
	}
	return status, nil
}

// IsCancelled reports whether a cancellation flag is set for the build.
func (m *Manager) IsCancelled(ctx context.Context, buildID string) bool {
	ok, err := m.kv.Exists(ctx, CancelKey(buildID))
	if err != nil {
		log.Printf("WARN: Failed to read cancel flag for %s: %v", buildID, err)
		return false
	}
	return ok
}

// WriteRecord persists a whole build record with the configured TTL.
// Exposed for the worker, which shares the manager's record format.
func (m *Manager) WriteRecord(ctx context.Context, job *model.BuildJob) error {
	return m.writeRecord(ctx, job)
}

func (m *Manager) writeRecord(ctx context.Context, job *model.BuildJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal build %s: %w", job.ID, err)
	}
	return m.kv.Set(ctx, StatusKey(job.ID), string(data), m.ttl)
}

// Publish broadcasts a job event on the build's channel through the bus.
func (m *Manager) Publish(ctx context.Context, buildID string, event Event) {
	m.publish(ctx, buildID, event)
}

func (m *Manager) publish(ctx context.Context, buildID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ERROR: Failed to marshal event for build %s: %v", buildID, err)
		return
	}
	if err := m.bus.Publish(ctx, JobChannel(buildID), payload); err != nil {
		log.Printf("ERROR: Failed to publish %s event for build %s: %v", event.Type, buildID, err)
	}
}
