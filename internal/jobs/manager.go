package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/encoder"
	"github.com/xvanov/clipforge-sub000/internal/export"
	"github.com/xvanov/clipforge-sub000/internal/logging"
	"github.com/xvanov/clipforge-sub000/internal/media"
	"github.com/xvanov/clipforge-sub000/internal/metrics"
	"github.com/xvanov/clipforge-sub000/internal/timeline"
)

const (
	progressPersistInterval = time.Second
	notifyTimeout           = 10 * time.Second
)

// SnapshotSource provides the timeline state an export renders.
type SnapshotSource interface {
	Snapshot() timeline.Snapshot
}

// EncoderRunner executes an encoder invocation; see encoder.Runner.
type EncoderRunner interface {
	Run(ctx context.Context, inv encoder.Invocation, progress chan<- encoder.Progress) (encoder.Result, error)
}

// CapabilityProbe reports which encoders are installed.
type CapabilityProbe interface {
	Get(ctx context.Context) (*encoder.Capabilities, error)
}

// Notifier is told about terminal events, e.g. to call a webhook.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type ManagerConfig struct {
	Timeline SnapshotSource
	Media    media.Lookup
	Compiler *export.Compiler
	Runner   EncoderRunner
	// Probe is optional; without it hardware encoders are assumed present.
	Probe CapabilityProbe
	// Repo is optional; without it history is kept in memory only.
	Repo     Repository
	Bus      *Bus
	Notifier Notifier
	Logger   *slog.Logger
}

type handle struct {
	job    *Job
	cancel context.CancelFunc
	// finished is closed once the job is terminal and its output cleaned up.
	finished chan struct{}
	// done is closed after the terminal event has been delivered.
	done chan struct{}
}

// Manager runs at most one export at a time.
type Manager struct {
	timeline SnapshotSource
	media    media.Lookup
	compiler *export.Compiler
	runner   EncoderRunner
	probe    CapabilityProbe
	repo     Repository
	bus      *Bus
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	active *handle
	jobs   map[string]*Job
}

func NewManager(cfg ManagerConfig) *Manager {
	bus := cfg.Bus
	if bus == nil {
		bus = NewBus(cfg.Logger)
	}
	compiler := cfg.Compiler
	if compiler == nil {
		compiler = export.NewCompiler("")
	}
	return &Manager{
		timeline: cfg.Timeline,
		media:    cfg.Media,
		compiler: compiler,
		runner:   cfg.Runner,
		probe:    cfg.Probe,
		repo:     cfg.Repo,
		bus:      bus,
		notifier: cfg.Notifier,
		logger:   logging.WithComponent(logging.OrDiscard(cfg.Logger), "jobs"),
		jobs:     make(map[string]*Job),
	}
}

func (m *Manager) Bus() *Bus {
	return m.bus
}

// Start validates the output path, compiles the current timeline and launches
// the encoder. It returns once the job is running; progress and the terminal
// outcome are reported on the bus.
func (m *Manager) Start(ctx context.Context, outputPath string, settings export.Settings) (*Job, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrExportInProgress
	}
	now := time.Now().UTC()
	job := &Job{
		ID:         NewID(),
		Status:     StatusPending,
		Settings:   settings,
		OutputPath: outputPath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{job: job, cancel: cancel, finished: make(chan struct{}), done: make(chan struct{})}
	m.active = h
	m.jobs[job.ID] = job
	m.mu.Unlock()

	logger := logging.WithJobID(m.logger, job.ID)

	inv, err := m.prepare(ctx, job, outputPath, settings)
	if err == nil && m.repo != nil {
		if perr := m.repo.CreateJob(ctx, job.clone()); perr != nil {
			err = fmt.Errorf("persist export job: %w", perr)
		}
	}
	if err != nil {
		cancel()
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.active = nil
		m.mu.Unlock()
		close(h.finished)
		close(h.done)
		logger.Warn("export rejected", "error", err)
		return nil, err
	}

	m.mu.Lock()
	job.Status = StatusRunning
	job.VideoEncoder = inv.VideoEncoder
	job.TotalFrames = encoder.NewProgressParser(inv.TotalDuration, inv.OutputFPS).TotalFrames()
	job.UpdatedAt = time.Now().UTC()
	snapshot := job.clone()
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.UpdateJob(ctx, snapshot); err != nil {
			logger.Warn("failed to persist running status", "error", err)
		}
	}
	metrics.ExportsRunning.Inc()

	logger.Info("export started",
		"output", logging.SanitizePath(outputPath),
		"video_encoder", inv.VideoEncoder,
		"hardware", inv.Hardware,
		"duration_s", inv.TotalDuration.Seconds(),
	)
	logger.Debug("encoder command", "command", inv.String())

	go m.supervise(runCtx, h, inv, logger)
	return snapshot, nil
}

// prepare builds the encoder invocation from a snapshot of the timeline.
func (m *Manager) prepare(ctx context.Context, job *Job, outputPath string, settings export.Settings) (encoder.Invocation, error) {
	if err := settings.Validate(); err != nil {
		return encoder.Invocation{}, err
	}
	if err := export.ValidateOutputPath(outputPath); err != nil {
		return encoder.Invocation{}, &IOError{Op: "validate output", Path: outputPath, Err: err}
	}
	if m.timeline == nil {
		return encoder.Invocation{}, export.ErrEmptyTimeline
	}

	snap := m.timeline.Snapshot()
	if export.ComputeDuration(snap.Tracks) == 0 {
		return encoder.Invocation{}, export.ErrEmptyTimeline
	}
	plan, err := export.GeneratePlan(ctx, snap, m.media)
	if err != nil {
		return encoder.Invocation{}, err
	}

	inv, err := m.compiler.BuildCommand(plan, settings)
	if err != nil {
		return encoder.Invocation{}, err
	}
	if inv.Hardware && !m.hasEncoder(ctx, inv.VideoEncoder) {
		m.logger.Warn("hardware encoder unavailable, using software",
			"job_id", job.ID, "encoder", inv.VideoEncoder)
		metrics.EncoderFallbacks.WithLabelValues(inv.VideoEncoder).Inc()

		software := settings
		software.HardwareAcceleration = false
		if inv, err = m.compiler.BuildCommand(plan, software); err != nil {
			return encoder.Invocation{}, err
		}
	}
	inv.OutputPath = outputPath
	return inv, nil
}

func (m *Manager) hasEncoder(ctx context.Context, name string) bool {
	if m.probe == nil {
		return true
	}
	caps, err := m.probe.Get(ctx)
	if err != nil {
		m.logger.Warn("encoder probe failed", "error", err)
		return false
	}
	return caps.Has(name)
}

type runOutcome struct {
	result encoder.Result
	err    error
}

func (m *Manager) supervise(ctx context.Context, h *handle, inv encoder.Invocation, logger *slog.Logger) {
	defer close(h.done)
	defer h.cancel()

	progress := make(chan encoder.Progress, 16)
	outcome := make(chan runOutcome, 1)
	go func() {
		res, err := m.runner.Run(ctx, inv, progress)
		outcome <- runOutcome{res, err}
	}()

	var lastPersist time.Time
	for {
		select {
		case p := <-progress:
			m.onProgress(ctx, h, p, &lastPersist, logger)
		case out := <-outcome:
			// Run has returned, so nothing else will be sent
		drain:
			for {
				select {
				case p := <-progress:
					m.onProgress(ctx, h, p, &lastPersist, logger)
				default:
					break drain
				}
			}
			m.finish(ctx, h, out, logger)
			return
		}
	}
}

func (m *Manager) onProgress(ctx context.Context, h *handle, p encoder.Progress, lastPersist *time.Time, logger *slog.Logger) {
	m.mu.Lock()
	job := h.job
	job.Progress = p.Progress
	job.CurrentFrame = p.CurrentFrame
	if p.TotalFrames > 0 {
		job.TotalFrames = p.TotalFrames
	}
	job.EncodeFPS = p.EncodeFPS
	job.ETASeconds = p.ETASeconds
	job.UpdatedAt = time.Now().UTC()
	var snapshot *Job
	if time.Since(*lastPersist) >= progressPersistInterval {
		snapshot = job.clone()
		*lastPersist = time.Now()
	}
	m.mu.Unlock()

	m.bus.Publish(Event{Type: EventProgress, JobID: job.ID, Progress: &p})

	if snapshot != nil && m.repo != nil {
		if err := m.repo.UpdateJob(ctx, snapshot); err != nil && ctx.Err() == nil {
			logger.Debug("failed to persist progress", "error", err)
		}
	}
}

// finish moves the job to its terminal status. Partial output is removed
// before the status is published; a cancelled job whose partial output
// cannot be removed ends failed with the IOError.
func (m *Manager) finish(ctx context.Context, h *handle, out runOutcome, logger *slog.Logger) {
	job := h.job
	status := StatusCompleted
	var failure error

	switch {
	case out.err == nil:
	case errors.Is(out.err, context.Canceled) && ctx.Err() != nil:
		status = StatusCancelled
		if err := removePartial(job.OutputPath); err != nil {
			logger.Error("failed to remove partial output after cancel", "error", err)
			status = StatusFailed
			failure = err
		}
	default:
		status = StatusFailed
		failure = out.err
		if err := removePartial(job.OutputPath); err != nil {
			failure = errors.Join(failure, err)
		}
	}

	now := time.Now().UTC()
	m.mu.Lock()
	job.Status = status
	job.UpdatedAt = now
	job.FinishedAt = &now
	if status == StatusCompleted {
		job.Progress = 1
		job.ETASeconds = 0
	}
	if failure != nil {
		job.Error = failure.Error()
	}
	snapshot := job.clone()
	m.active = nil
	m.mu.Unlock()

	if m.repo != nil {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.repo.UpdateJob(persistCtx, snapshot); err != nil {
			logger.Warn("failed to persist terminal status", "error", err)
		}
		cancel()
	}

	metrics.ExportsRunning.Dec()
	metrics.RecordExportFinished(string(status), out.result.Duration.Seconds())
	close(h.finished)

	ev := Event{JobID: job.ID}
	switch status {
	case StatusCompleted:
		ev.Type = EventComplete
		ev.OutputPath = job.OutputPath
		logger.Info("export completed", "duration_ms", out.result.Duration.Milliseconds())
	case StatusCancelled:
		ev.Type = EventCancelled
		logger.Info("export cancelled")
	default:
		ev.Type = EventError
		ev.Error = snapshot.Error
		logger.Warn("export failed", "error", snapshot.Error)
	}

	m.bus.Publish(ev)

	if m.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := m.notifier.Notify(notifyCtx, ev); err != nil {
			logger.Warn("export notification failed", "error", err)
		}
		cancel()
	}
}

// removePartial deletes an unfinished output file. A missing file is not an
// error.
func removePartial(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOError{Op: "remove partial output", Path: path, Err: err}
	}
	return nil
}

// Cancel stops a running job and waits until its process is reaped and its
// partial output removed. Cancelling a terminal job returns it unchanged.
func (m *Manager) Cancel(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	h := m.active
	if h == nil || h.job.ID != id {
		m.mu.Unlock()
		return m.Get(ctx, id)
	}
	m.mu.Unlock()

	m.logger.Info("cancelling export", "job_id", id)
	h.cancel()

	select {
	case <-h.finished:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.Get(ctx, id)
}

// Get returns a copy of the job, falling back to persisted history for jobs
// that have been acknowledged.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	var c *Job
	if ok {
		c = job.clone()
	}
	m.mu.Unlock()
	if ok {
		return c, nil
	}

	if m.repo != nil {
		j, err := m.repo.GetJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load export job: %w", err)
		}
		if j != nil {
			return j, nil
		}
	}
	return nil, ErrNotFound
}

// List returns recent jobs, newest first. Live state overrides the persisted
// row for jobs still held in memory.
func (m *Manager) List(ctx context.Context, limit int) ([]*Job, error) {
	byID := make(map[string]*Job)
	if m.repo != nil {
		stored, err := m.repo.ListJobs(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("list export jobs: %w", err)
		}
		for _, j := range stored {
			byID[j.ID] = j
		}
	}

	m.mu.Lock()
	for id, j := range m.jobs {
		byID[id] = j.clone()
	}
	m.mu.Unlock()

	out := make([]*Job, 0, len(byID))
	for _, j := range byID {
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b *Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Active returns the running job, if any.
func (m *Manager) Active() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return m.active.job.clone()
}

// Acknowledge discards the in-memory state of a terminal job. The persisted
// history row is kept.
func (m *Manager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.Terminal() {
		return ErrNotTerminal
	}
	delete(m.jobs, id)
	return nil
}

// Shutdown cancels the running export, if any, and waits for its supervisor
// to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()
	if h == nil {
		return nil
	}

	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
