// Package cron runs periodic maintenance jobs such as sweeping expired
// pending requests and logging connection status.
package cron

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/openclaw-qq/qqbridge/pkg/logger"
)

const (
	KindCron  = "cron"
	KindEvery = "every"
)

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMS int64  `json:"everyMs,omitempty"`
}

// CronExpr builds a schedule from a five-field cron expression.
func CronExpr(expr string) Schedule { return Schedule{Kind: KindCron, Expr: expr} }

func Every(d time.Duration) Schedule { return Schedule{Kind: KindEvery, EveryMS: d.Milliseconds()} }

type JobState struct {
	NextRunAtMS *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMS *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	Runs        int    `json:"runs"`
}

type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	State    JobState `json:"state"`
	handler  JobHandler
}

type JobHandler func(job Job) error

type Service struct {
	jobs     []*Job
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	tick     time.Duration
	now      func() time.Time
}

func NewService() *Service {
	return &Service{
		tick: time.Second,
		now:  time.Now,
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.recomputeNextRuns()
	s.running = true
	s.stopChan = make(chan struct{})
	go s.runLoop(s.stopChan)
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

func (s *Service) runLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.checkJobs()
		}
	}
}

func (s *Service) checkJobs() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	now := s.now().UnixMilli()
	var due []*Job
	for _, job := range s.jobs {
		if job.Enabled && job.State.NextRunAtMS != nil && *job.State.NextRunAtMS <= now {
			due = append(due, job)
			// Cleared so a slow handler is not started twice.
			job.State.NextRunAtMS = nil
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.executeJob(job)
	}
}

func (s *Service) executeJob(job *Job) {
	startTime := s.now().UnixMilli()

	s.mu.RLock()
	snapshot := *job
	s.mu.RUnlock()

	err := runHandler(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()

	job.State.LastRunAtMS = &startTime
	job.State.Runs++
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		logger.WarnCF("cron", "Job failed", map[string]interface{}{
			"job":   job.Name,
			"error": err.Error(),
		})
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}
	if job.Enabled {
		job.State.NextRunAtMS = computeNextRun(job.Schedule, s.now())
	}
}

func runHandler(job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	if job.handler == nil {
		return nil
	}
	return job.handler(job)
}

func computeNextRun(schedule Schedule, now time.Time) *int64 {
	switch schedule.Kind {
	case KindEvery:
		if schedule.EveryMS <= 0 {
			return nil
		}
		next := now.UnixMilli() + schedule.EveryMS
		return &next
	case KindCron:
		if schedule.Expr == "" {
			return nil
		}
		nextTime, err := gronx.NextTickAfter(schedule.Expr, now, false)
		if err != nil {
			logger.WarnCF("cron", "Failed to compute next run", map[string]interface{}{
				"expr":  schedule.Expr,
				"error": err.Error(),
			})
			return nil
		}
		nextMS := nextTime.UnixMilli()
		return &nextMS
	}
	return nil
}

func (s *Service) recomputeNextRuns() {
	now := s.now()
	for _, job := range s.jobs {
		if job.Enabled {
			job.State.NextRunAtMS = computeNextRun(job.Schedule, now)
		}
	}
}

// AddJob registers an enabled job. Cron expressions are validated up front.
func (s *Service) AddJob(name string, schedule Schedule, handler JobHandler) (Job, error) {
	switch schedule.Kind {
	case KindCron:
		if !gronx.New().IsValid(schedule.Expr) {
			return Job{}, fmt.Errorf("invalid cron expression %q", schedule.Expr)
		}
	case KindEvery:
		if schedule.EveryMS <= 0 {
			return Job{}, fmt.Errorf("interval must be positive")
		}
	default:
		return Job{}, fmt.Errorf("unknown schedule kind %q", schedule.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{
		ID:       uuid.NewString(),
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		handler:  handler,
	}
	job.State.NextRunAtMS = computeNextRun(schedule, s.now())
	s.jobs = append(s.jobs, job)

	logger.DebugCF("cron", "Job added", map[string]interface{}{
		"job":      name,
		"schedule": schedule.Expr,
	})
	return *job, nil
}

func (s *Service) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == jobID {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) EnableJob(jobID string, enabled bool) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.ID == jobID {
			job.Enabled = enabled
			if enabled {
				job.State.NextRunAtMS = computeNextRun(job.Schedule, s.now())
			} else {
				job.State.NextRunAtMS = nil
			}
			return *job, true
		}
	}
	return Job{}, false
}

// ListJobs returns copies ordered by name.
func (s *Service) ListJobs(includeDisabled bool) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if includeDisabled || job.Enabled {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nextWake *int64
	for _, job := range s.jobs {
		if job.Enabled && job.State.NextRunAtMS != nil {
			if nextWake == nil || *job.State.NextRunAtMS < *nextWake {
				nextWake = job.State.NextRunAtMS
			}
		}
	}
	return map[string]interface{}{
		"enabled":      s.running,
		"jobs":         len(s.jobs),
		"nextWakeAtMS": nextWake,
	}
}
