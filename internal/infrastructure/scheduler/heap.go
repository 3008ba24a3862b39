package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ProposalTracker/internal/ports"
)

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Clock abstracts wall time so tests can drive the loop.
type Clock interface {
	Now() time.Time
	// NewTimer fires at or after at.
	NewTimer(at time.Time) Timer
}

// Timer is the subset of *time.Timer the loop needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// NewTimer wraps time.NewTimer.
func (SystemClock) NewTimer(at time.Time) Timer {
	return systemTimer{time.NewTimer(time.Until(at))}
}

type systemTimer struct{ t *time.Timer }

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }

type entry struct {
	id    string
	at    time.Time
	next  func(time.Time) (time.Time, error)
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.index = -1
	return e
}

// HeapScheduler keeps timers in a min-heap ordered by next fire time and runs
// due jobs one at a time on a single driver goroutine.
type HeapScheduler struct {
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	queue   entryHeap
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

var _ ports.Scheduler = (*HeapScheduler)(nil)

// NewHeapScheduler builds a stopped scheduler; a nil clock means SystemClock.
func NewHeapScheduler(clock Clock, logger *slog.Logger) *HeapScheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeapScheduler{
		clock:   clock,
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Register adds or replaces the timer for id, first firing at next(now).
func (s *HeapScheduler) Register(id string, next func(time.Time) (time.Time, error)) error {
	if next == nil {
		return fmt.Errorf("register %s: nil next function", id)
	}
	at, err := next(s.clock.Now())
	if err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}

	s.mu.Lock()
	if old, ok := s.entries[id]; ok {
		heap.Remove(&s.queue, old.index)
	}
	e := &entry{id: id, at: at, next: next}
	s.entries[id] = e
	heap.Push(&s.queue, e)
	s.mu.Unlock()

	s.signal()
	return nil
}

// Unregister drops the timer for id; unknown ids are ignored.
func (s *HeapScheduler) Unregister(id string) {
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		heap.Remove(&s.queue, e.index)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.signal()
}

// NextFire reports the pending fire time of id.
func (s *HeapScheduler) NextFire(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Start launches the driver loop; job runs synchronously for each due timer.
func (s *HeapScheduler) Start(ctx context.Context, job func(id string, at time.Time)) error {
	if job == nil {
		return fmt.Errorf("start scheduler: nil job")
	}

	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	s.mu.Unlock()

	go s.loop(ctx, job, stop, done)
	return nil
}

// Stop signals the loop and waits for it until ctx expires. A job already
// running is not interrupted; it completes after Stop returns on timeout.
func (s *HeapScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *HeapScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *HeapScheduler) loop(ctx context.Context, job func(string, time.Time), stop, done chan struct{}) {
	defer close(done)

	for {
		var (
			timer  Timer
			timerC <-chan time.Time
		)
		s.mu.Lock()
		if len(s.queue) > 0 {
			timer = s.clock.NewTimer(s.queue[0].at)
			timerC = timer.C()
		}
		s.mu.Unlock()

		select {
		case <-timerC:
			for _, due := range s.popDue() {
				s.run(job, due.id, due.at)
				select {
				case <-stop:
					return
				default:
				}
			}
		case <-s.wake:
		case <-stop:
			stopTimer(timer)
			return
		case <-ctx.Done():
			stopTimer(timer)
			return
		}
		stopTimer(timer)
	}
}

type firing struct {
	id string
	at time.Time
}

// popDue removes every entry due by now and re-queues it at its next fire time.
func (s *HeapScheduler) popDue() []firing {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []firing
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		e := heap.Pop(&s.queue).(*entry)
		out = append(out, firing{id: e.id, at: e.at})

		from := now
		if e.at.After(from) {
			from = e.at
		}
		next, err := e.next(from)
		if err != nil {
			s.logger.Error("schedule dropped", "id", e.id, "error", err)
			delete(s.entries, e.id)
			continue
		}
		e.at = next
		heap.Push(&s.queue, e)
	}
	return out
}

func (s *HeapScheduler) run(job func(string, time.Time), id string, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "id", id, "panic", r)
		}
	}()
	job(id, at)
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
