// Package progress fans job transitions out to live subscribers.
//
// Delivery is best effort: each subscriber has a bounded buffer and an event
// that does not fit is dropped for that subscriber only. There is no replay;
// late subscribers read the current snapshot elsewhere first.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"vidgen/internal/domain"
)

// Event is one observed job transition.
type Event struct {
	JobID     string          `json:"jobId"`
	State     domain.JobState `json:"status"`
	Progress  int             `json:"progress"`
	Result    string          `json:"resultUrl,omitempty"`
	Error     string          `json:"error,omitempty"`
	Version   int64           `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
}

// Terminal reports whether the event closes the job's stream.
func (e Event) Terminal() bool { return e.State.Terminal() }

// EventFromJob snapshots a job into an event.
func EventFromJob(job domain.Job) Event {
	return Event{
		JobID:     job.ID,
		State:     job.State,
		Progress:  job.Progress,
		Result:    job.Result,
		Error:     job.FailureReason,
		Version:   job.Version,
		Timestamp: job.UpdatedAt,
	}
}

const DefaultBufferSize = 16

// Bus is safe for concurrent use.
type Bus struct {
	mu         sync.RWMutex
	topics     map[string]map[uint64]*Subscription // job id → subscription id → subscription
	nextID     atomic.Uint64
	bufferSize int
	published  atomic.Int64
	dropped    atomic.Int64
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		topics:     make(map[string]map[uint64]*Subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe registers interest in one job's events.
func (b *Bus) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		id:    b.nextID.Add(1),
		jobID: jobID,
		ch:    make(chan Event, b.bufferSize),
		bus:   b,
	}
	b.mu.Lock()
	subs, ok := b.topics[jobID]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.topics[jobID] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Publish delivers evt to every current subscriber of jobID and returns how
// many received it. Callers publish one job's events from a single goroutine
// at a time so order is preserved.
func (b *Bus) Publish(jobID string, evt Event) int {
	b.mu.RLock()
	subs := b.topics[jobID]
	targets := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	delivered := 0
	for _, s := range targets {
		if s.send(evt) {
			delivered++
		} else {
			b.dropped.Add(1)
		}
	}
	return delivered
}

func (b *Bus) unsubscribe(jobID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[jobID]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, jobID)
	}
}

// Subscribers returns the number of live subscriptions for a job.
func (b *Bus) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[jobID])
}

// Stats reports publish and drop counters.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

// Subscription is a single consumer's view of one job's events.
type Subscription struct {
	id    uint64
	jobID string
	bus   *Bus

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close removes the subscription from the bus. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.jobID, s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) send(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}
