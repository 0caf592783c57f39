// Package worker executes build jobs popped from the dispatch queue. It
// runs in a separate process from the API server; all coordination with the
// manager happens through the shared state and the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"mcpgate/internal/app/build"
	"mcpgate/internal/dockerx"
	"mcpgate/internal/domain/model"
	"mcpgate/internal/platform/store"
)

// ImageBuilder is the slice of the resilient execution client a build needs.
type ImageBuilder interface {
	BuildImage(ctx context.Context, opts dockerx.BuildImageOptions) (<-chan dockerx.BuildEvent, error)
}

// errCancelled aborts job processing after an external cancel; the record
// was already made terminal by the manager's cancel path.
var errCancelled = errors.New("build cancelled")

type BuildWorker struct {
	queue        store.Queue
	manager      *build.Manager
	builder      ImageBuilder
	queueName    string
	logWindow    int
	buildTimeout time.Duration
}

func NewBuildWorker(queue store.Queue, manager *build.Manager, builder ImageBuilder, queueName string, logWindow int, buildTimeout time.Duration) *BuildWorker {
	return &BuildWorker{
		queue:        queue,
		manager:      manager,
		builder:      builder,
		queueName:    queueName,
		logWindow:    logWindow,
		buildTimeout: buildTimeout,
	}
}

// Start runs the pop-and-process loop until ctx is cancelled.
func (w *BuildWorker) Start(ctx context.Context) {
	log.Println("Build worker started, listening to queue:", w.queueName)
	for {
		select {
		case <-ctx.Done():
			log.Println("Build worker stopping...")
			return
		default:
			buildID, err := w.queue.BlockingPop(ctx, w.queueName, 5*time.Second)
			if err != nil {
				if errors.Is(err, store.ErrEmpty) {
					continue
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				log.Printf("ERROR: Failed to pop from queue '%s': %v", w.queueName, err)
				time.Sleep(5 * time.Second)
				continue
			}
			w.ProcessJob(ctx, buildID)
		}
	}
}

// ProcessJob executes a single build end to end. Whatever happens, the job
// record is left in a terminal state before this returns.
func (w *BuildWorker) ProcessJob(ctx context.Context, buildID string) {
	job, err := w.manager.GetStatus(ctx, buildID)
	if err != nil {
		log.Printf("ERROR: Failed to fetch build %s: %v", buildID, err)
		return
	}
	if job == nil {
		log.Printf("WARN: Build %s expired before a worker picked it up", buildID)
		return
	}
	if model.IsTerminalStatus(job.Status) {
		// Cancelled while still queued.
		log.Printf("INFO: Build %s already terminal (%s), skipping", buildID, job.Status)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.buildTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Build %s panicked: %v", buildID, r)
			w.markFailed(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := w.run(runCtx, job); err != nil {
		if errors.Is(err, errCancelled) {
			log.Printf("INFO: Build %s aborted after cancellation", buildID)
			return
		}
		msg := err.Error()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("build exceeded %v timeout", w.buildTimeout)
		}
		// Terminal transition on any failure path, including errors raised
		// before the first daemon call.
		w.markFailed(ctx, job, msg)
	}
}

func (w *BuildWorker) run(ctx context.Context, job *model.BuildJob) error {
	now := time.Now().UTC()
	job.Status = model.BuildStatusBuilding
	job.StartedAt = &now
	job.Logs = nil
	if err := w.manager.WriteRecord(ctx, job); err != nil {
		return fmt.Errorf("failed to mark build %s as building: %w", job.ID, err)
	}

	opts, cleanup, err := w.prepareBuild(job)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return err
	}

	w.manager.Publish(ctx, job.ID, build.Event{
		Type:      "build_started",
		BuildID:   job.ID,
		ImageTag:  opts.Tag,
		Timestamp: now,
	})
	log.Printf("INFO: Starting build %s for image %s", job.ID, opts.Tag)

	events, err := w.builder.BuildImage(ctx, opts)
	if err != nil {
		return err
	}

	for ev := range events {
		if w.manager.IsCancelled(ctx, job.ID) {
			return errCancelled
		}

		entry := model.BuildLogEntry{Status: ev.Status, Message: ev.Message, Timestamp: ev.Timestamp}
		job.Logs = append(job.Logs, entry)
		if len(job.Logs) > w.logWindow {
			job.Logs = job.Logs[len(job.Logs)-w.logWindow:]
		}
		if err := w.manager.WriteRecord(ctx, job); err != nil {
			log.Printf("WARN: Failed to persist log update for build %s: %v", job.ID, err)
		}
		w.manager.Publish(ctx, job.ID, build.Event{
			Type:      "build_log",
			BuildID:   job.ID,
			LogEntry:  &entry,
			Timestamp: ev.Timestamp,
		})

		if ev.Status == "error" {
			return fmt.Errorf("%s", ev.Message)
		}
	}

	if w.manager.IsCancelled(ctx, job.ID) {
		return errCancelled
	}

	completed := time.Now().UTC()
	job.Status = model.BuildStatusSuccess
	job.CompletedAt = &completed
	if err := w.manager.WriteRecord(ctx, job); err != nil {
		return fmt.Errorf("failed to persist completed build %s: %w", job.ID, err)
	}
	w.manager.Publish(ctx, job.ID, build.Event{
		Type:      "build_completed",
		BuildID:   job.ID,
		ImageTag:  opts.Tag,
		Timestamp: completed,
	})
	log.Printf("INFO: Build %s completed successfully", job.ID)
	return nil
}

// prepareBuild resolves the kind-specific payload into concrete image build
// options, scaffolding a temporary context directory for project builds.
func (w *BuildWorker) prepareBuild(job *model.BuildJob) (dockerx.BuildImageOptions, func(), error) {
	switch job.Kind {
	case model.BuildKindImage:
		if job.ImageBuild == nil {
			return dockerx.BuildImageOptions{}, nil, fmt.Errorf("build %s has no image payload", job.ID)
		}
		p := job.ImageBuild
		return dockerx.BuildImageOptions{
			ContextDir: p.ContextPath,
			Tag:        p.ImageTag,
			Dockerfile: p.Dockerfile,
			BuildArgs:  p.BuildArgs,
		}, nil, nil

	case model.BuildKindProject:
		if job.ProjectBuild == nil {
			return dockerx.BuildImageOptions{}, nil, fmt.Errorf("build %s has no project payload", job.ID)
		}
		dir, tag, err := scaffoldProject(job.ProjectBuild)
		cleanup := func() {
			if dir != "" {
				os.RemoveAll(dir)
			}
		}
		if err != nil {
			return dockerx.BuildImageOptions{}, cleanup, fmt.Errorf("failed to scaffold project build %s: %w", job.ID, err)
		}
		return dockerx.BuildImageOptions{ContextDir: dir, Tag: tag}, cleanup, nil

	default:
		return dockerx.BuildImageOptions{}, nil, fmt.Errorf("unknown build kind %q for build %s", job.Kind, job.ID)
	}
}

func (w *BuildWorker) markFailed(ctx context.Context, job *model.BuildJob, message string) {
	if w.manager.IsCancelled(ctx, job.ID) {
		// The cancel path already wrote the terminal record.
		return
	}
	now := time.Now().UTC()
	job.Status = model.BuildStatusFailed
	job.Error = &message
	job.CompletedAt = &now
	if err := w.manager.WriteRecord(ctx, job); err != nil {
		log.Printf("ERROR: Failed to persist failed build %s: %v", job.ID, err)
	}
	w.manager.Publish(ctx, job.ID, build.Event{
		Type:      "build_failed",
		BuildID:   job.ID,
		Error:     message,
		Timestamp: now,
	})
	log.Printf("ERROR: Build %s failed: %s", job.ID, message)
}
