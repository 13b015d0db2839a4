package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"search-market-agent/internal/models"
	"search-market-agent/internal/reporting"
)

type Resumer interface {
	Resume(ctx context.Context, task *models.SettlementTask) error
}

// TaskStore is the slice of the settlement repository the resumer needs
type TaskStore interface {
	ListResumable(ctx context.Context) ([]models.SettlementTask, error)
	ReopenFailed(ctx context.Context, id uuid.UUID) (*models.SettlementTask, error)
	Save(ctx context.Context, task *models.SettlementTask) error
}

// SettlementResumer continues settlements that stopped between steps: tasks
// interrupted by a shutdown on start, failed tasks on operator request
type SettlementResumer struct {
	store    TaskStore
	resumer  Resumer
	reporter reporting.Reporter
	logger   *zap.Logger
	queue    chan *models.SettlementTask
	inflight sync.WaitGroup
	stopped  chan struct{}
}

// NewSettlementResumer creates a new settlement resumer job
func NewSettlementResumer(store TaskStore, resumer Resumer, reporter reporting.Reporter, logger *zap.Logger) *SettlementResumer {
	return &SettlementResumer{
		store:    store,
		resumer:  resumer,
		reporter: reporter,
		logger:   logger,
		queue:    make(chan *models.SettlementTask, 64),
		stopped:  make(chan struct{}),
	}
}

// Start resumes interrupted tasks, then serves retry requests until ctx is cancelled
func (r *SettlementResumer) Start(ctx context.Context) {
	defer close(r.stopped)
	tasks, err := r.store.ListResumable(ctx)
	if err != nil {
		r.logger.Error("failed to list interrupted settlements", zap.Error(err))
	} else if len(tasks) > 0 {
		r.logger.Info("resuming interrupted settlements", zap.Int("tasks", len(tasks)))
	}
	for i := range tasks {
		r.launch(ctx, &tasks[i])
	}

	for {
		select {
		case task := <-r.queue:
			r.launch(ctx, task)
		case <-ctx.Done():
			r.logger.Info("stopping settlement resumer")
			return
		}
	}
}

// Retry reopens a failed task at its last confirmed state and queues it. A
// task that cannot be queued is put back to failed.
func (r *SettlementResumer) Retry(ctx context.Context, id uuid.UUID) (*models.SettlementTask, error) {
	task, err := r.store.ReopenFailed(ctx, id)
	if err != nil {
		return nil, err
	}

	queued := *task
	select {
	case r.queue <- &queued:
		return task, nil
	case <-ctx.Done():
	}

	task.State = models.SettlementStateFailed
	task.LastError = fmt.Sprintf("retry not queued: %v", ctx.Err())
	if err := r.store.Save(context.WithoutCancel(ctx), task); err != nil {
		r.logger.Error("failed to restore unqueued retry",
			zap.String("task_id", task.ID.String()),
			zap.Error(err),
		)
	}
	return nil, ctx.Err()
}

// Wait blocks until Start has returned and every launched resume has
// finished. It must only be called once Start has been launched.
func (r *SettlementResumer) Wait() {
	<-r.stopped
	r.inflight.Wait()
}

func (r *SettlementResumer) launch(ctx context.Context, task *models.SettlementTask) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		log := r.logger.With(zap.String("task_id", task.ID.String()), zap.String("state", string(task.State)))
		if err := r.resumer.Resume(ctx, task); err != nil {
			log.Error("settlement resume failed", zap.Error(err))
			r.reporter.Report(ctx, err, reporting.Metadata{
				"settlement": {
					"taskId":      task.ID.String(),
					"market":      task.MarketAddress,
					"index":       task.CandidateIndex,
					"resumedFrom": string(task.LastConfirmedState),
				},
			})
			return
		}
		log.Info("settlement resumed to completion")
	}()
}
