// Package scheduler runs the evaluation jobs on fixed intervals defined
// in a yaml file. Each enabled job gets its own ticker goroutine; ticks
// funnel into one channel so jobs execute serially in the runner and
// never overlap with themselves or each other. A tick arriving while a
// run is in flight is dropped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/copyrun/internal/config"
)

// Job is one scheduled job definition.
type Job struct {
	Name           string          `yaml:"name"`
	Interval       config.Duration `yaml:"interval"`
	Enabled        bool            `yaml:"enabled"`
	RunImmediately bool            `yaml:"run_immediately"`
}

// Config is the scheduler's job file.
type Config struct {
	Jobs []Job `yaml:"jobs"`
}

// LoadConfig reads and validates the yaml job file.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read jobs file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse jobs file: %w", err)
	}

	seen := make(map[string]bool)
	for _, j := range cfg.Jobs {
		if j.Name == "" {
			return cfg, fmt.Errorf("job with empty name")
		}
		if seen[j.Name] {
			return cfg, fmt.Errorf("duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if j.Enabled && j.Interval <= 0 {
			return cfg, fmt.Errorf("job %q: interval must be positive", j.Name)
		}
	}
	return cfg, nil
}

// JobRunner executes one named job.
type JobRunner interface {
	Run(ctx context.Context, jobName string) error
}

// Scheduler drives the runner from the job file.
type Scheduler struct {
	cfg    Config
	runner JobRunner

	mu      sync.Mutex
	lastRun map[string]time.Time
	started time.Time
}

func New(cfg Config, runner JobRunner) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		lastRun: make(map[string]time.Time),
	}
}

// Run blocks until ctx is done. Enabled jobs tick on their intervals;
// a tick that arrives while the runner is busy is skipped, so a slow
// run never piles up a backlog.
func (s *Scheduler) Run(ctx context.Context) error {
	s.started = time.Now()

	ticks := make(chan string)
	var wg sync.WaitGroup

	enabled := 0
	for _, job := range s.cfg.Jobs {
		if !job.Enabled {
			continue
		}
		enabled++
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.tickLoop(ctx, job, ticks)
		}(job)
	}
	if enabled == 0 {
		log.Warn().Msg("No jobs enabled, scheduler idle")
	}
	log.Info().Int("jobs", enabled).Msg("Scheduler started")

	go func() {
		wg.Wait()
		close(ticks)
	}()

	for jobName := range ticks {
		if ctx.Err() != nil {
			break
		}
		s.execute(ctx, jobName)
	}
	return ctx.Err()
}

func (s *Scheduler) tickLoop(ctx context.Context, job Job, ticks chan<- string) {
	if job.RunImmediately {
		select {
		case ticks <- job.Name:
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(time.Duration(job.Interval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case ticks <- job.Name:
			case <-ctx.Done():
				return
			default:
				log.Debug().Str("job", job.Name).Msg("Tick skipped, runner busy")
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, jobName string) {
	start := time.Now()
	err := s.runner.Run(ctx, jobName)

	s.mu.Lock()
	s.lastRun[jobName] = start
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("job", jobName).Msg("Scheduled job failed")
	}
}

// LastRun returns when the job last started, zero if never.
func (s *Scheduler) LastRun(jobName string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[jobName]
}
