// Package ui shows export status in the system tray.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/xvanov/clipforge-sub000/internal/jobs"
	"github.com/xvanov/clipforge-sub000/internal/logging"
)

const cancelTimeout = 10 * time.Second

// ExportControl is the part of the job manager the tray drives.
type ExportControl interface {
	Active() *jobs.Job
	Cancel(ctx context.Context, id string) (*jobs.Job, error)
	Bus() *jobs.Bus
}

type Tray struct {
	exports ExportControl
	logger  *slog.Logger

	statusItem *systray.MenuItem
	detailItem *systray.MenuItem
	cancelItem *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Exports ExportControl
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		exports: cfg.Exports,
		logger:  logging.WithComponent(logging.OrDiscard(cfg.Logger), "tray"),
		onQuit:  cfg.OnQuit,
	}
}

// Run blocks until the tray exits. It must be called from the main
// goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("ClipForge")
	systray.SetTooltip("ClipForge export agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current export status")
	t.statusItem.Disable()
	t.detailItem = systray.AddMenuItem("", "Export details")
	t.detailItem.Disable()
	t.detailItem.Hide()

	systray.AddSeparator()

	t.cancelItem = systray.AddMenuItem("Cancel Export", "Stop the running export")
	t.cancelItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit ClipForge")

	if job := t.exports.Active(); job != nil {
		t.show(Status{Title: "Exporting", Detail: fmt.Sprintf("%.0f%%", job.Progress*100), Cancellable: true})
	}

	bus := t.exports.Bus()
	sub := bus.Subscribe("", 64)

	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case ev := <-sub.Events():
				t.show(StatusFor(ev))
			case <-t.cancelItem.ClickedCh:
				t.cancelActive()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) cancelActive() {
	job := t.exports.Active()
	if job == nil {
		return
	}
	t.cancelItem.Disable()

	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if _, err := t.exports.Cancel(ctx, job.ID); err != nil {
		t.logger.Error("failed to cancel export", "job_id", job.ID, "error", err)
	}
}

func (t *Tray) show(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.statusItem.SetTitle("Status: " + s.Title)
	if s.Detail == "" {
		t.detailItem.Hide()
	} else {
		t.detailItem.SetTitle(s.Detail)
		t.detailItem.Show()
	}
	if s.Cancellable {
		t.cancelItem.Enable()
	} else {
		t.cancelItem.Disable()
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// Status is what the tray menu shows for one event.
type Status struct {
	Title       string
	Detail      string
	Cancellable bool
}

const maxDetailLen = 60

func StatusFor(ev jobs.Event) Status {
	switch ev.Type {
	case jobs.EventProgress:
		s := Status{Title: "Exporting", Cancellable: true}
		if ev.Progress == nil {
			return s
		}
		s.Title = fmt.Sprintf("Exporting %d%%", int(math.Floor(ev.Progress.Progress*100)))
		if ev.Progress.TotalFrames > 0 {
			s.Detail = fmt.Sprintf("Frame %d of %d", ev.Progress.CurrentFrame, ev.Progress.TotalFrames)
		}
		if ev.Progress.ETASeconds > 0 {
			eta := time.Duration(math.Ceil(ev.Progress.ETASeconds)) * time.Second
			if s.Detail != "" {
				s.Detail += ", "
			}
			s.Detail += "ETA " + eta.String()
		}
		return s
	case jobs.EventComplete:
		return Status{Title: "Export complete", Detail: filepath.Base(ev.OutputPath)}
	case jobs.EventError:
		return Status{Title: "Export failed", Detail: truncate(ev.Error, maxDetailLen)}
	case jobs.EventCancelled:
		return Status{Title: "Export cancelled"}
	default:
		return Status{Title: "Idle"}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
