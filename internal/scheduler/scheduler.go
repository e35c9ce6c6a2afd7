// Package scheduler runs named, self-rescheduling tasks. Each task waits a
// freshly drawn delay after its previous run finishes, so a task never
// overlaps with itself.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// DelayFunc draws the wait before the next run.
type DelayFunc func() time.Duration

// Fixed always waits d.
func Fixed(d time.Duration) DelayFunc {
	return func() time.Duration { return d }
}

// Between draws uniformly from [min, max].
func Between(min, max time.Duration) DelayFunc {
	return BetweenWith(min, max, rand.Float64)
}

// BetweenWith draws from [min, max] using rnd, which returns values in [0, 1).
func BetweenWith(min, max time.Duration, rnd func() float64) DelayFunc {
	if max < min {
		max = min
	}
	return func() time.Duration {
		return min + time.Duration(rnd()*float64(max-min))
	}
}

// WholeMinutes draws a whole number of minutes in [min, max].
func WholeMinutes(min, max int) DelayFunc {
	if max < min {
		max = min
	}
	return func() time.Duration {
		return time.Duration(min+rand.IntN(max-min+1)) * time.Minute
	}
}

// Task is one named repeating job.
type Task struct {
	Name  string
	Delay DelayFunc
	// Immediate runs the task once before the first delay.
	Immediate bool
	Run       func(ctx context.Context) error
}

type Scheduler struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]Task
	order []string
	runs  map[string]int
	wg    sync.WaitGroup
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{logger: logger, tasks: map[string]Task{}, runs: map[string]int{}}
}

// Add registers a task. Names must be unique.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil || t.Delay == nil {
		return fmt.Errorf("scheduler: task %q needs a name, a delay and a run func", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[t.Name]; dup {
		return fmt.Errorf("scheduler: task %q already registered", t.Name)
	}
	s.tasks[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

// Start launches every registered task. Tasks stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]Task, 0, len(s.order))
	for _, name := range s.order {
		tasks = append(tasks, s.tasks[name])
	}
	s.mu.Unlock()

	for _, t := range tasks {
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			s.loop(ctx, t)
		}(t)
	}
}

// Wait blocks until all tasks have stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Runs reports how many times the named task has fired.
func (s *Scheduler) Runs(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[name]
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	if t.Immediate {
		s.fire(ctx, t)
	}
	for {
		d := t.Delay()
		s.logger.Info("task_scheduled", "task", t.Name, "in", d.String())
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("task_stopped", "task", t.Name)
			return
		case <-timer.C:
		}
		s.fire(ctx, t)
	}
}

// fire runs t once. Errors and panics are logged and never stop the loop.
func (s *Scheduler) fire(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task_panic", "task", t.Name, "panic", fmt.Sprint(r))
		}
		s.mu.Lock()
		s.runs[t.Name]++
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		s.logger.Error("task_failed", "task", t.Name, "error", err, "took", time.Since(start).String())
		return
	}
	s.logger.Debug("task_done", "task", t.Name, "took", time.Since(start).String())
}
