package cron

import (
	"errors"
	"testing"
	"time"
)

func newTestService(start time.Time) (*Service, *time.Time) {
	now := start
	s := NewService()
	s.now = func() time.Time { return now }
	s.running = true
	return s, &now
}

func TestComputeNextRun_CronExpr(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 7, 30, 0, time.Local)
	next := computeNextRun(CronExpr("*/10 * * * *"), now)
	if next == nil {
		t.Fatal("next run is nil")
	}
	want := time.Date(2026, 3, 1, 10, 10, 0, 0, time.Local)
	if got := time.UnixMilli(*next); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestAddJob_RejectsInvalidSchedules(t *testing.T) {
	s := NewService()
	if _, err := s.AddJob("bad", CronExpr("not a cron"), nil); err == nil {
		t.Fatal("expected error for invalid expression")
	}
	if _, err := s.AddJob("bad", Every(0), nil); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if _, err := s.AddJob("bad", Schedule{Kind: "at"}, nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestCheckJobs_RunsDueJobsOnce(t *testing.T) {
	s, now := newTestService(time.Unix(1_700_000_000, 0))
	runs := 0
	job, err := s.AddJob("sweep", Every(time.Minute), func(Job) error {
		runs++
		return nil
	})
	if err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	s.checkJobs()
	if runs != 0 {
		t.Fatalf("job ran before it was due")
	}

	*now = now.Add(time.Minute)
	s.checkJobs()
	s.checkJobs()
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	jobs := s.ListJobs(false)
	if len(jobs) != 1 || jobs[0].ID != job.ID || jobs[0].State.LastStatus != "ok" || jobs[0].State.Runs != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}
	if next := jobs[0].State.NextRunAtMS; next == nil || *next != now.Add(time.Minute).UnixMilli() {
		t.Fatalf("next run not rescheduled: %v", next)
	}
}

func TestExecuteJob_RecordsFailureAndPanic(t *testing.T) {
	s, now := newTestService(time.Unix(1_700_000_000, 0))
	_, _ = s.AddJob("a-fails", Every(time.Second), func(Job) error { return errors.New("boom") })
	_, _ = s.AddJob("b-panics", Every(time.Second), func(Job) error { panic("oops") })

	*now = now.Add(time.Second)
	s.checkJobs()

	jobs := s.ListJobs(true)
	if jobs[0].State.LastStatus != "error" || jobs[0].State.LastError != "boom" {
		t.Fatalf("failing job state = %+v", jobs[0].State)
	}
	if jobs[1].State.LastStatus != "error" || jobs[1].State.LastError == "" {
		t.Fatalf("panicking job state = %+v", jobs[1].State)
	}
}

func TestEnableAndRemoveJob(t *testing.T) {
	s, now := newTestService(time.Unix(1_700_000_000, 0))
	runs := 0
	job, _ := s.AddJob("status", Every(time.Second), func(Job) error {
		runs++
		return nil
	})

	if _, ok := s.EnableJob(job.ID, false); !ok {
		t.Fatal("EnableJob() did not find job")
	}
	*now = now.Add(time.Second)
	s.checkJobs()
	if runs != 0 {
		t.Fatal("disabled job ran")
	}
	if got := s.ListJobs(false); len(got) != 0 {
		t.Fatalf("ListJobs(false) = %+v", got)
	}

	if !s.RemoveJob(job.ID) || s.RemoveJob(job.ID) {
		t.Fatal("RemoveJob() should succeed exactly once")
	}
	if st := s.Status(); st["jobs"] != 0 {
		t.Fatalf("status = %+v", st)
	}
}
