package dockerx

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	docker "github.com/fsouza/go-dockerclient"
)

const maxConnectionRetries = 3

// Manager is the resilient execution client for the Docker daemon. All
// operations are wrapped breaker-outside/retry-inside: the per-class
// circuit breaker short-circuits before any retry attempt begins.
type Manager struct {
	endpoint string
	timeout  time.Duration
	retry    Retryer

	mu     sync.Mutex
	client *docker.Client

	// One breaker per protected operation class.
	containerBreaker *CircuitBreaker
	imageBreaker     *CircuitBreaker
	systemBreaker    *CircuitBreaker
}

// NewManager builds a Manager and eagerly probes the daemon with bounded
// exponential backoff. A Manager whose probe never succeeded is still
// usable: every call surfaces ErrConnection until a later probe succeeds.
func NewManager(endpoint string, timeout time.Duration) *Manager {
	m := &Manager{
		endpoint:         endpoint,
		timeout:          timeout,
		retry:            DefaultRetryer(),
		containerBreaker: NewCircuitBreaker("containers", 5, 60*time.Second),
		imageBreaker:     NewCircuitBreaker("images", 5, 60*time.Second),
		systemBreaker:    NewCircuitBreaker("system", 5, 60*time.Second),
	}
	m.initClient()
	return m
}

func (m *Manager) initClient() {
	for attempt := 0; attempt < maxConnectionRetries; attempt++ {
		client, err := docker.NewClient(m.endpoint)
		if err == nil {
			client.SetTimeout(m.timeout)
			err = client.Ping()
		}
		if err == nil {
			m.mu.Lock()
			m.client = client
			m.mu.Unlock()
			log.Println("INFO: Docker client initialized successfully")
			return
		}

		mapped := MapError(err)
		if attempt < maxConnectionRetries-1 {
			delay := time.Duration(1<<attempt) * time.Second
			log.Printf("WARN: Docker connection attempt %d failed: %v. Retrying in %v...",
				attempt+1, mapped, delay)
			time.Sleep(delay)
		} else {
			log.Printf("ERROR: Failed to initialize Docker client after %d attempts: %v",
				maxConnectionRetries, mapped)
		}
	}
	m.mu.Lock()
	m.client = nil
	m.mu.Unlock()
}

// ensureConnection lazily verifies the daemon is reachable, reconnecting if
// the health probe fails.
func (m *Manager) ensureConnection(ctx context.Context) (*docker.Client, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client != nil {
		if err := client.PingWithContext(ctx); err == nil {
			return client, nil
		}
		log.Println("WARN: Docker connection test failed, attempting reconnection...")
	}

	m.initClient()

	m.mu.Lock()
	client = m.client
	m.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("%w: reconnection failed", ErrConnection)
	}
	return client, nil
}

// IsConnected reports whether the daemon currently answers a ping.
func (m *Manager) IsConnected(ctx context.Context) bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return false
	}
	return client.PingWithContext(ctx) == nil
}

// BreakerStates reports the mode of each operation-class breaker, keyed by
// breaker name.
func (m *Manager) BreakerStates() map[string]string {
	states := make(map[string]string, 3)
	for _, b := range []*CircuitBreaker{m.containerBreaker, m.imageBreaker, m.systemBreaker} {
		mode, _ := b.State()
		states[b.Name()] = mode
	}
	return states
}

// execute applies the protection stack for one operation class.
func (m *Manager) execute(breaker *CircuitBreaker, ctx context.Context, name string, op func(client *docker.Client) error) error {
	return breaker.Execute(func() error {
		return m.retry.Do(ctx, name, func() error {
			client, err := m.ensureConnection(ctx)
			if err != nil {
				return err
			}
			return MapError(op(client))
		})
	})
}

// ── Container operations ─────────────────────────────────────────

// ContainerSummary is the list-view shape of a container.
type ContainerSummary struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Status  string            `json:"status"`
	State   string            `json:"state"`
	Created time.Time         `json:"created"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// ContainerDetail is the inspect-view shape of a container.
type ContainerDetail struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Image       string    `json:"image"`
	Status      string    `json:"status"`
	Created     time.Time `json:"created"`
	StartedAt   time.Time `json:"started_at"`
	Environment []string  `json:"environment,omitempty"`
	Mounts      []string  `json:"mounts,omitempty"`
}

func (m *Manager) ListContainers(ctx context.Context, all bool) ([]ContainerSummary, error) {
	var out []ContainerSummary
	err := m.execute(m.containerBreaker, ctx, "ListContainers", func(client *docker.Client) error {
		containers, err := client.ListContainers(docker.ListContainersOptions{All: all, Context: ctx})
		if err != nil {
			return err
		}
		out = out[:0]
		for _, c := range containers {
			name := ""
			if len(c.Names) > 0 {
				name = c.Names[0]
			}
			out = append(out, ContainerSummary{
				ID:      shortID(c.ID),
				Name:    name,
				Image:   c.Image,
				Status:  c.Status,
				State:   c.State,
				Created: time.Unix(c.Created, 0).UTC(),
				Labels:  c.Labels,
			})
		}
		return nil
	})
	return out, err
}

func (m *Manager) GetContainer(ctx context.Context, containerID string) (*ContainerDetail, error) {
	var out *ContainerDetail
	err := m.execute(m.containerBreaker, ctx, "GetContainer", func(client *docker.Client) error {
		c, err := client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: containerID, Context: ctx})
		if err != nil {
			return err
		}
		detail := &ContainerDetail{
			ID:        c.ID,
			Name:      c.Name,
			Image:     c.Image,
			Status:    c.State.Status,
			Created:   c.Created,
			StartedAt: c.State.StartedAt,
		}
		if c.Config != nil {
			detail.Environment = c.Config.Env
		}
		for _, mnt := range c.Mounts {
			detail.Mounts = append(detail.Mounts, mnt.Source+":"+mnt.Destination)
		}
		out = detail
		return nil
	})
	return out, err
}

func (m *Manager) StartContainer(ctx context.Context, containerID string) error {
	return m.execute(m.containerBreaker, ctx, "StartContainer", func(client *docker.Client) error {
		return client.StartContainerWithContext(containerID, nil, ctx)
	})
}

func (m *Manager) StopContainer(ctx context.Context, containerID string, timeoutSeconds uint) error {
	return m.execute(m.containerBreaker, ctx, "StopContainer", func(client *docker.Client) error {
		return client.StopContainerWithContext(containerID, timeoutSeconds, ctx)
	})
}

func (m *Manager) RestartContainer(ctx context.Context, containerID string, timeoutSeconds uint) error {
	return m.execute(m.containerBreaker, ctx, "RestartContainer", func(client *docker.Client) error {
		return client.RestartContainer(containerID, timeoutSeconds)
	})
}

func (m *Manager) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	return m.execute(m.containerBreaker, ctx, "RemoveContainer", func(client *docker.Client) error {
		return client.RemoveContainer(docker.RemoveContainerOptions{ID: containerID, Force: force, Context: ctx})
	})
}

// StreamContainerLogs streams container log lines until the context is
// cancelled or the log stream ends. The returned channel is closed on
// stream end.
func (m *Manager) StreamContainerLogs(ctx context.Context, containerID string, tail int, follow bool) (<-chan string, error) {
	client, err := m.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		err := client.Logs(docker.LogsOptions{
			Container:    containerID,
			OutputStream: pw,
			ErrorStream:  pw,
			Stdout:       true,
			Stderr:       true,
			Tail:         fmt.Sprintf("%d", tail),
			Follow:       follow,
			Timestamps:   true,
			Context:      ctx,
		})
		pw.CloseWithError(MapError(err))
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				pr.Close()
				return
			}
		}
	}()
	return lines, nil
}

// ── Image operations ─────────────────────────────────────────────

type ImageSummary struct {
	ID      string            `json:"id"`
	Tags    []string          `json:"tags"`
	Created time.Time         `json:"created"`
	Size    int64             `json:"size"`
	Labels  map[string]string `json:"labels,omitempty"`
}

func (m *Manager) ListImages(ctx context.Context) ([]ImageSummary, error) {
	var out []ImageSummary
	err := m.execute(m.imageBreaker, ctx, "ListImages", func(client *docker.Client) error {
		images, err := client.ListImages(docker.ListImagesOptions{Context: ctx})
		if err != nil {
			return err
		}
		out = out[:0]
		for _, img := range images {
			out = append(out, ImageSummary{
				ID:      shortID(img.ID),
				Tags:    img.RepoTags,
				Created: time.Unix(img.Created, 0).UTC(),
				Size:    img.Size,
				Labels:  img.Labels,
			})
		}
		return nil
	})
	return out, err
}

func (m *Manager) RemoveImage(ctx context.Context, imageID string, force bool) error {
	return m.execute(m.imageBreaker, ctx, "RemoveImage", func(client *docker.Client) error {
		return client.RemoveImageExtended(imageID, docker.RemoveImageOptions{Force: force, Context: ctx})
	})
}

// ── Build ────────────────────────────────────────────────────────

// BuildEvent is one entry of a streaming image build.
type BuildEvent struct {
	Status    string    `json:"status"` // building | error | completed
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildImageOptions are the parameters of a streaming image build.
type BuildImageOptions struct {
	ContextDir string
	Tag        string
	Dockerfile string
	BuildArgs  map[string]string
}

// BuildImage builds an image and streams progress entries. The stream ends
// with either an "error" or a "completed" entry; builds are not retried and
// bypass the breaker because they are long-running and non-idempotent.
func (m *Manager) BuildImage(ctx context.Context, opts BuildImageOptions) (<-chan BuildEvent, error) {
	client, err := m.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}

	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	var buildArgs []docker.BuildArg
	for name, value := range opts.BuildArgs {
		buildArgs = append(buildArgs, docker.BuildArg{Name: name, Value: value})
	}

	pr, pw := io.Pipe()
	buildErr := make(chan error, 1)
	go func() {
		err := client.BuildImage(docker.BuildImageOptions{
			Name:           opts.Tag,
			ContextDir:     opts.ContextDir,
			Dockerfile:     dockerfile,
			BuildArgs:      buildArgs,
			RmTmpContainer: true,
			OutputStream:   pw,
			RawJSONStream:  true,
			Context:        ctx,
		})
		buildErr <- err
		pw.Close()
	}()

	events := make(chan BuildEvent)
	go func() {
		defer close(events)

		emit := func(ev BuildEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Raw JSON stream entries: {"stream": "..."} or {"error": "..."}.
		type streamEntry struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		failed := false
		dec := json.NewDecoder(pr)
		for {
			var entry streamEntry
			if err := dec.Decode(&entry); err != nil {
				break
			}
			switch {
			case entry.Error != "":
				failed = true
				emit(BuildEvent{Status: "error", Message: entry.Error, Timestamp: time.Now().UTC()})
			case entry.Stream != "":
				if msg := trimLine(entry.Stream); msg != "" {
					if !emit(BuildEvent{Status: "building", Message: msg, Timestamp: time.Now().UTC()}) {
						io.Copy(io.Discard, pr)
						<-buildErr
						return
					}
				}
			}
		}

		if err := <-buildErr; err != nil && !failed {
			failed = true
			emit(BuildEvent{Status: "error", Message: MapError(err).Error(), Timestamp: time.Now().UTC()})
		}
		if !failed {
			emit(BuildEvent{
				Status:    "completed",
				Message:   fmt.Sprintf("Image %s built successfully", opts.Tag),
				Timestamp: time.Now().UTC(),
			})
		}
	}()
	return events, nil
}

// ── Networks, volumes, system ────────────────────────────────────

type NetworkSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Driver     string   `json:"driver"`
	Scope      string   `json:"scope"`
	Containers []string `json:"containers"`
}

func (m *Manager) ListNetworks(ctx context.Context) ([]NetworkSummary, error) {
	var out []NetworkSummary
	err := m.execute(m.systemBreaker, ctx, "ListNetworks", func(client *docker.Client) error {
		networks, err := client.ListNetworks()
		if err != nil {
			return err
		}
		out = out[:0]
		for _, n := range networks {
			containers := make([]string, 0, len(n.Containers))
			for id := range n.Containers {
				containers = append(containers, shortID(id))
			}
			out = append(out, NetworkSummary{
				ID:         shortID(n.ID),
				Name:       n.Name,
				Driver:     n.Driver,
				Scope:      n.Scope,
				Containers: containers,
			})
		}
		return nil
	})
	return out, err
}

type VolumeSummary struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	Mountpoint string            `json:"mountpoint"`
	Labels     map[string]string `json:"labels,omitempty"`
}

func (m *Manager) ListVolumes(ctx context.Context) ([]VolumeSummary, error) {
	var out []VolumeSummary
	err := m.execute(m.systemBreaker, ctx, "ListVolumes", func(client *docker.Client) error {
		volumes, err := client.ListVolumes(docker.ListVolumesOptions{Context: ctx})
		if err != nil {
			return err
		}
		out = out[:0]
		for _, v := range volumes {
			out = append(out, VolumeSummary{
				Name:       v.Name,
				Driver:     v.Driver,
				Mountpoint: v.Mountpoint,
				Labels:     v.Labels,
			})
		}
		return nil
	})
	return out, err
}

type SystemInfo struct {
	Containers        int    `json:"containers"`
	ContainersRunning int    `json:"containers_running"`
	ContainersPaused  int    `json:"containers_paused"`
	ContainersStopped int    `json:"containers_stopped"`
	Images            int    `json:"images"`
	ServerVersion     string `json:"server_version"`
	Architecture      string `json:"architecture"`
	OS                string `json:"os"`
	TotalMemory       int64  `json:"total_memory"`
	CPUCount          int    `json:"cpu_count"`
	StorageDriver     string `json:"storage_driver"`
}

func (m *Manager) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var out *SystemInfo
	err := m.execute(m.systemBreaker, ctx, "GetSystemInfo", func(client *docker.Client) error {
		info, err := client.Info()
		if err != nil {
			return err
		}
		out = &SystemInfo{
			Containers:        info.Containers,
			ContainersRunning: info.ContainersRunning,
			ContainersPaused:  info.ContainersPaused,
			ContainersStopped: info.ContainersStopped,
			Images:            info.Images,
			ServerVersion:     info.ServerVersion,
			Architecture:      info.Architecture,
			OS:                info.OperatingSystem,
			TotalMemory:       info.MemTotal,
			CPUCount:          info.NCPU,
			StorageDriver:     info.Driver,
		}
		return nil
	})
	return out, err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func trimLine(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
