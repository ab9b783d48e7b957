// Package scheduler enqueues the periodic sweeps on their cron specs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/metrics"
	"github.com/samjaninf/stelace-sub000/internal/tasks"
)

// Job is one sweep enqueued on a cron spec.
type Job struct {
	Spec     string
	TaskType string
}

// Jobs lists the sweeps configured in cfg.
func Jobs(cfg *config.Config) []Job {
	return []Job{
		{Spec: cfg.ScheduleBookingExpiry, TaskType: tasks.TypeBookingExpireSweep},
		{Spec: cfg.ScheduleBookingCompletion, TaskType: tasks.TypeBookingCompleteSweep},
		{Spec: cfg.ScheduleRatingReveal, TaskType: tasks.TypeRatingRevealSweep},
	}
}

type Scheduler struct {
	cron   *cron.Cron
	client tasks.IAsynqClient
}

// New registers every job. An empty spec disables its job.
func New(cfg *config.Config, client tasks.IAsynqClient) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(logrus.StandardLogger())),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	s := &Scheduler{cron: c, client: client}
	for _, job := range Jobs(cfg) {
		if job.Spec == "" {
			continue
		}
		taskType := job.TaskType
		if _, err := c.AddFunc(job.Spec, func() { s.Dispatch(context.Background(), taskType) }); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", job.Spec, taskType, err)
		}
	}
	return s, nil
}

// Dispatch enqueues one sweep. A sweep still pending from the previous tick is
// not enqueued twice.
func (s *Scheduler) Dispatch(ctx context.Context, taskType string) {
	log := logrus.WithField("job", taskType)
	_, err := s.client.EnqueueContext(ctx, asynq.NewTask(taskType, nil),
		asynq.Queue(tasks.QueueLow), asynq.Unique(time.Minute), asynq.MaxRetry(1))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		log.Debug("sweep already pending")
		return
	}
	if err != nil {
		metrics.RecordJobRun("dispatch:"+taskType, false)
		log.WithError(err).Error("failed to enqueue sweep")
		return
	}
	log.Debug("sweep enqueued")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running dispatches to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
