package jobs

import (
	"log/slog"
	"sync"

	"github.com/xvanov/clipforge-sub000/internal/encoder"
	"github.com/xvanov/clipforge-sub000/internal/logging"
	"github.com/xvanov/clipforge-sub000/internal/metrics"
)

type EventType string

const (
	EventProgress  EventType = "export_progress"
	EventComplete  EventType = "export_complete"
	EventError     EventType = "export_error"
	EventCancelled EventType = "export_cancelled"
)

// Terminal reports whether t ends a job's event stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError || t == EventCancelled
}

// Event is published for every progress record and once per job on reaching
// a terminal status. Progress fields are only present on export_progress.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"job_id"`
	*encoder.Progress
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

const defaultSubscriberBuffer = 32

// Subscription receives events for one job, or for all jobs when created
// with an empty job id.
type Subscription struct {
	jobID string
	ch    chan Event
	done  chan struct{}
	once  sync.Once
}

// Events returns the delivery channel. It is never closed; stop reading
// after a terminal event or after Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) matches(ev Event) bool {
	return s.jobID == "" || s.jobID == ev.JobID
}

// Bus fans job events out to subscribers. Progress events are dropped for a
// subscriber whose buffer is full; terminal events are delivered unless the
// subscriber leaves first.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logging.WithComponent(logging.OrDiscard(logger), "events"),
	}
}

func (b *Bus) Subscribe(jobID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	s := &Subscription{
		jobID: jobID,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s and releases a publisher blocked on it. It is safe to
// call more than once.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Publish delivers ev to every matching subscriber. For terminal events it
// blocks until each subscriber has taken the event or unsubscribed.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.matches(ev) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		if ev.Type.Terminal() {
			select {
			case s.ch <- ev:
			case <-s.done:
			}
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.done:
		default:
			metrics.IncEventDrop(string(ev.Type))
			b.logger.Debug("dropped event for slow subscriber", "type", ev.Type, "job_id", ev.JobID)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
