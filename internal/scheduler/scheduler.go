package scheduler

import (
	"context"
	"errors"
	"fmt"
	"go-poll/internal/engine"
	"go-poll/internal/model"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

var ErrStopped = errors.New("scheduler is stopped")

type JobLister interface {
	GetJob(ctx context.Context, id model.JobId) (model.Job, error)
	ListEnabledJobs(ctx context.Context) ([]model.Job, error)
}

type Runner interface {
	Execute(ctx context.Context, id model.JobId, trigger engine.Trigger) error
}

// Scheduler keeps one recurring cron entry per enabled job and runs manual triggers
// next to them. There is one instance per process.
type Scheduler struct {
	storage JobLister
	runner  Runner
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[model.JobId]cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped bool

	manualWg *sync.WaitGroup
}

func New(storage JobLister, runner Runner) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	runCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		storage: storage,
		runner:  runner,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		entries:  make(map[model.JobId]cron.EntryID),
		runCtx:   runCtx,
		cancel:   cancel,
		manualWg: &sync.WaitGroup{},
	}
}

// Start installs the enabled jobs and starts firing them. Runs use a context derived from ctx.
func (skd *Scheduler) Start(ctx context.Context) error {
	skd.mu.Lock()
	if skd.stopped {
		skd.mu.Unlock()
		return ErrStopped
	}
	skd.cancel()
	skd.runCtx, skd.cancel = context.WithCancel(ctx)
	skd.mu.Unlock()

	if err := skd.Reload(ctx); err != nil {
		return fmt.Errorf("failed loading schedule: %w", err)
	}
	skd.cron.Start()
	log.Info("Scheduler started")
	return nil
}

// Stop stops firing and waits for running executions until ctx is done. Executions still
// running then are cancelled.
func (skd *Scheduler) Stop(ctx context.Context) error {
	skd.mu.Lock()
	skd.stopped = true
	cancel := skd.cancel
	skd.mu.Unlock()

	cronDone := skd.cron.Stop()
	allDone := make(chan struct{})
	go func() {
		<-cronDone.Done()
		skd.manualWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		cancel()
		log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("failed waiting for running jobs: %w", ctx.Err())
	}
}

// Reload replaces every recurring entry with the current set of enabled jobs.
// Executions already running keep the job parameters they started with.
func (skd *Scheduler) Reload(ctx context.Context) error {
	jobs, err := skd.storage.ListEnabledJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed listing enabled jobs: %w", err)
	}

	skd.mu.Lock()
	defer skd.mu.Unlock()

	for id, entryId := range skd.entries {
		skd.cron.Remove(entryId)
		delete(skd.entries, id)
	}

	for _, job := range jobs {
		schedule, err := cron.ParseStandard(job.Schedule)
		if err != nil {
			log.WithFields(log.Fields{"error": err, "job": job.Name, "jobId": job.Id}).Error("Invalid schedule, job is not scheduled")
			continue
		}
		id := job.Id
		skd.entries[id] = skd.cron.Schedule(schedule, cron.FuncJob(func() {
			skd.runner.Execute(skd.context(), id, engine.Scheduled)
		}))
	}
	log.WithFields(log.Fields{"scheduled": len(skd.entries), "enabled": len(jobs)}).Info("Schedule reloaded")
	return nil
}

// RunNow executes the job once in the background, independent of its recurring entry.
func (skd *Scheduler) RunNow(ctx context.Context, id model.JobId) error {
	if _, err := skd.storage.GetJob(ctx, id); err != nil {
		return fmt.Errorf("failed triggering job %d: %w", id, err)
	}

	skd.mu.Lock()
	defer skd.mu.Unlock()
	if skd.stopped {
		return ErrStopped
	}
	runCtx := skd.runCtx
	skd.manualWg.Add(1)
	go func() {
		defer skd.manualWg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{"jobId": id, "panic": r}).Error("Manual run panicked")
			}
		}()
		skd.runner.Execute(runCtx, id, engine.Manual)
	}()
	log.WithFields(log.Fields{"jobId": id}).Info("Manual run triggered")
	return nil
}

// Triggers returns the next fire time of every scheduled job. Times are zero until Start.
func (skd *Scheduler) Triggers() map[model.JobId]time.Time {
	skd.mu.Lock()
	defer skd.mu.Unlock()

	triggers := make(map[model.JobId]time.Time, len(skd.entries))
	for id, entryId := range skd.entries {
		triggers[id] = skd.cron.Entry(entryId).Next
	}
	return triggers
}

func (skd *Scheduler) context() context.Context {
	skd.mu.Lock()
	defer skd.mu.Unlock()
	return skd.runCtx
}
