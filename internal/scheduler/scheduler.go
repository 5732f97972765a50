// Package scheduler runs named recurring jobs on a cron ticker.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns one cron ticker and a set of named jobs. Re-registering a
// name replaces the earlier job. A job that is still running when its next
// tick fires is skipped for that tick.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Every schedules fn to run every interval. Intervals below one second are
// rounded up to one second.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	return s.add(name, cron.Every(interval), fn)
}

// Validate reports whether spec is a cron expression Schedule accepts.
func Validate(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return nil
}

// Schedule registers fn under a cron expression such as "*/5 * * * *" or
// "@hourly".
func (s *Scheduler) Schedule(name, spec string, fn func()) error {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s.add(name, sched, fn)
}

func (s *Scheduler) add(name string, sched cron.Schedule, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	s.entries[name] = s.cron.Schedule(sched, cron.FuncJob(func() {
		slog.Debug("scheduled job firing", "name", name)
		fn()
	}))
	slog.Info("scheduled job", "name", name)
	return nil
}

// Remove unschedules the named job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Has reports whether a job is registered under name.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// Next returns when the named job fires next. The zero time means the job
// is unknown or the ticker is not started.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Start starts the cron ticker. Calling it again is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop stops the ticker and waits for running jobs to return. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}
