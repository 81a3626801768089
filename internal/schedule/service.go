// Package schedule runs named maintenance jobs on cron patterns.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRunTimeout bounds one run of a job.
const DefaultRunTimeout = 5 * time.Minute

type entry struct {
	id   cron.EntryID
	task Task
	job  Job
}

type Service struct {
	cron    *cron.Cron
	parser  cron.Parser
	timeout time.Duration
	logger  *slog.Logger
	mu      sync.Mutex
	jobs    map[string]*entry
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		timeout: DefaultRunTimeout,
		logger:  log.With(slog.String("service", "schedule")),
		jobs:    map[string]*entry{},
	}
}

// Register adds a job. Jobs registered before Start begin ticking when it runs.
func (s *Service) Register(name, pattern string, task Task) error {
	name = strings.TrimSpace(name)
	pattern = strings.TrimSpace(pattern)
	if name == "" || pattern == "" || task == nil {
		return fmt.Errorf("name, pattern, task are required")
	}
	if _, err := s.parser.Parse(pattern); err != nil {
		return fmt.Errorf("invalid cron pattern: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	e := &entry{task: task, job: Job{Name: name, Pattern: pattern}}
	id, err := s.cron.AddFunc(pattern, func() {
		_ = s.run(context.Background(), name)
	})
	if err != nil {
		return err
	}
	e.id = id
	s.jobs[name] = e
	return nil
}

// Remove unregisters a job.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
	}
}

// Trigger runs a job now, outside its schedule.
func (s *Service) Trigger(ctx context.Context, name string) error {
	return s.run(ctx, name)
}

// Jobs lists the registered jobs by name.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		job := e.job
		job.Next = s.cron.Entry(e.id).Next
		items = append(items, job)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (s *Service) Start(context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())))
	return nil
}

// Stop stops ticking and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	err := e.task.Run(ctx)

	s.mu.Lock()
	e.job.Runs++
	e.job.LastRun = started.UTC()
	e.job.LastErr = ""
	if err != nil {
		e.job.Failures++
		e.job.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("job failed", slog.String("job", name), slog.Any("error", err))
		return err
	}
	s.logger.Debug("job finished", slog.String("job", name), slog.Duration("took", time.Since(started)))
	return nil
}
