package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conveyorhq/conveyor/pkg/otelhelper"
	"github.com/conveyorhq/conveyor/pkg/queue"
	"github.com/conveyorhq/conveyor/pkg/workflow"
)

// Worker drains the job queue and runs each execution through the
// engine. One Worker hosts queue.Config.Concurrency goroutines.
type Worker struct {
	workerID   string
	dispatcher queue.Dispatcher
	engine     *workflow.Engine
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewWorker(
	workerID string,
	dispatcher queue.Dispatcher,
	engine *workflow.Engine,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		workerID:   workerID,
		dispatcher: dispatcher,
		engine:     engine,
		tracer:     tracer,
		logger:     logger,
	}
}

// Start blocks until the context is cancelled or a shutdown signal
// arrives, then drains the dispatcher.
func (w *Worker) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := w.dispatcher.Start(ctx, w.handleJob)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started, waiting for jobs")

	<-ctx.Done()

	w.logger.Info("Shutting down worker")

	return w.dispatcher.Stop(context.Background())
}

func (w *Worker) handleJob(ctx context.Context, job queue.Job) error {
	jobCtx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.execute",
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.WorkerIDKey, w.workerID),
		attribute.Int(otelhelper.JobAttemptKey, job.Attempt),
	)
	defer span.End()

	err := w.engine.Execute(jobCtx, job.ExecutionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}
