package model

import "time"

const (
	BuildKindImage   = "image_build"
	BuildKindProject = "project_build"

	BuildStatusPending  = "pending"
	BuildStatusBuilding = "building"
	BuildStatusSuccess  = "success"
	BuildStatusFailed   = "failed"
)

// IsTerminalStatus reports whether a build status admits no further
// transitions. A terminal build can only be superseded by a brand-new build
// created via retry.
func IsTerminalStatus(status string) bool {
	return status == BuildStatusSuccess || status == BuildStatusFailed
}

// BuildLogEntry is one line of build output. Status is one of
// building/error/completed, matching what the image build stream emits.
type BuildLogEntry struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildJob is the build status record persisted in the shared state under
// build:<id> with a finite TTL. Writes are whole-record replacements; each
// job has exactly one writer (its worker) plus the synchronous cancel path.
type BuildJob struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Logs        []BuildLogEntry `json:"logs"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       *string         `json:"error,omitempty"`

	// Kind-specific payload, kept inline so a failed job can be replayed by
	// retry with the original parameters.
	ImageBuild   *ImageBuildPayload   `json:"image_build,omitempty"`
	ProjectBuild *ProjectBuildPayload `json:"project_build,omitempty"`
}

// ImageBuildPayload holds the parameters of a plain Docker image build.
type ImageBuildPayload struct {
	ContextPath string            `json:"context_path"`
	ImageTag    string            `json:"image_tag"`
	Dockerfile  string            `json:"dockerfile"`
	BuildArgs   map[string]string `json:"build_args,omitempty"`
}

// ProjectBuildPayload holds the parameters of a composite project build:
// scaffold the project files into a build context, then build the image.
type ProjectBuildPayload struct {
	ProjectID    int64             `json:"project_id"`
	ProjectData  ProjectData       `json:"project_data"`
	BuildOptions map[string]string `json:"build_options,omitempty"`
}

// ProjectData is the subset of a project record a build needs to scaffold
// and tag the image.
type ProjectData struct {
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	PythonVersion string        `json:"python_version,omitempty"`
	Requirements  []string      `json:"requirements,omitempty"`
	Tools         []ProjectTool `json:"tools,omitempty"`
}

// ProjectTool describes one tool exposed by a generated MCP server.
type ProjectTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
