package scheduler

import (
	"log/slog"
	"time"

	"github.com/total-audio/autopilot/internal/logging"
)

// pollInterval bounds how long a worker sleeps between queue checks when
// no signal arrives. Signals make dispatch prompt; polling makes it
// eventual even if a signal is dropped.
const pollInterval = 2 * time.Second

// roleWorker drains the pending queue for one agent role. Concurrency
// above 1 runs that many drain loops against the same queue; claims are
// atomic so a task is never executed twice.
type roleWorker struct {
	role      string
	scheduler *Scheduler
	signal    chan struct{}
	log       *slog.Logger
}

func newRoleWorker(role string, s *Scheduler, concurrency int) *roleWorker {
	w := &roleWorker{
		role:      role,
		scheduler: s,
		signal:    make(chan struct{}, concurrency),
		log:       logging.WithComponent("scheduler").With(slog.String("agent_role", role)),
	}
	for i := 0; i < concurrency; i++ {
		s.wg.Add(1)
		go w.run()
	}
	return w
}

// Signal wakes one drain loop. Non-blocking; a full channel means the
// worker is already awake.
func (w *roleWorker) Signal() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *roleWorker) run() {
	defer w.scheduler.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.scheduler.ctx.Done():
			return
		case <-w.signal:
			w.drain()
		case <-ticker.C:
			w.drain()
		}
	}
}

// drain dispatches until the queue is empty or the scheduler stops.
func (w *roleWorker) drain() {
	for {
		select {
		case <-w.scheduler.ctx.Done():
			return
		default:
		}
		err := w.scheduler.DispatchNext(w.scheduler.ctx, w.role)
		if err == ErrNoWork {
			return
		}
		if err != nil {
			w.log.Warn("Dispatch failed", slog.Any("error", err))
		}
	}
}

// ensureWorker starts the role's worker if it is not already running.
func (s *Scheduler) ensureWorker(role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[role]; ok {
		return
	}
	s.workers[role] = newRoleWorker(role, s, s.config.concurrency(role))
}

// signalRole wakes the role's worker, if one is running.
func (s *Scheduler) signalRole(role string) {
	s.mu.RLock()
	w := s.workers[role]
	s.mu.RUnlock()
	if w != nil {
		w.Signal()
	}
}

// signalAll wakes every worker, used after a mission resumes.
func (s *Scheduler) signalAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workers {
		w.Signal()
	}
}
