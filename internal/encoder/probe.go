package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/logging"
)

const (
	defaultProbeTTL     = 5 * time.Minute
	defaultProbeTimeout = 15 * time.Second
)

// Capabilities lists the encoders an ffmpeg build provides.
type Capabilities struct {
	Encoders map[string]bool `json:"encoders"`
	ProbedAt time.Time       `json:"probed_at"`
}

func (c *Capabilities) Has(encoder string) bool {
	return c != nil && c.Encoders[encoder]
}

// Prober reports the capabilities of the installed encoder.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// FFmpegProber runs `ffmpeg -hide_banner -encoders`.
type FFmpegProber struct {
	Path    string
	Timeout time.Duration
}

func (p FFmpegProber) Probe(ctx context.Context) (*Capabilities, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Path, "-hide_banner", "-encoders")
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		return nil, &ExternalToolError{Program: p.Path, ExitCode: exitCode(err), Stderr: stderr.String(), Err: err}
	}

	encoders := ParseEncoders(stdout.String())
	if len(encoders) == 0 {
		return nil, fmt.Errorf("%s -encoders listed no encoders", p.Path)
	}
	return &Capabilities{Encoders: encoders, ProbedAt: time.Now()}, nil
}

// ParseEncoders extracts encoder names from `ffmpeg -encoders` output: the
// second column of every row after the "------" separator.
func ParseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	inTable := false

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "---") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// CachedProbe caches probe results for a TTL. A failed refresh falls back to
// the stale result when there is one.
type CachedProbe struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedProbe(prober Prober, ttl time.Duration, logger *slog.Logger) *CachedProbe {
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	return &CachedProbe{
		prober: prober,
		ttl:    ttl,
		logger: logging.WithComponent(logging.OrDiscard(logger), "encoder_probe"),
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (p *CachedProbe) Get(ctx context.Context) (*Capabilities, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.cached.ProbedAt) < p.ttl {
		caps := p.cached
		p.mu.RUnlock()
		return caps, nil
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

func (p *CachedProbe) Peek() *Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (p *CachedProbe) Refresh(ctx context.Context) (*Capabilities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	caps, err := p.prober.Probe(ctx)
	if err != nil {
		p.logger.Warn("encoder probe failed", "error", err)
		if p.cached != nil {
			p.logger.Info("returning stale encoder capabilities")
			return p.cached, nil
		}
		return nil, err
	}

	p.logger.Info("encoder probe complete", "encoders", len(caps.Encoders))
	p.cached = caps
	return caps, nil
}

func (p *CachedProbe) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}
