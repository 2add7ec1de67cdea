package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"failedjobs/internal/executor"
	"failedjobs/internal/models"
	"failedjobs/internal/repository"
)

const defaultLimit = 10

// Summary reports what one batch run did.
type Summary struct {
	Selected  int
	Completed int
	Failed    int
	Skipped   int
}

// Processor is the consumer side of the action spool. Each RunBatch claims
// up to limit due records, executes them strictly in order, and resolves
// each one independently; a crash mid-batch leaves later records pending and
// safe to re-run.
type Processor struct {
	actions     *repository.ActionRepository
	executors   executor.Factory
	logger      *zap.Logger
	out         io.Writer
	execTimeout time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithOutput sets the writer for human progress lines. The CLI points this
// at stdout; the in-server cron run leaves it discarded.
func WithOutput(w io.Writer) Option {
	return func(p *Processor) { p.out = w }
}

// WithExecTimeout bounds each executor call. A stuck call fails the record
// with a timeout error instead of leaving it in processing forever.
func WithExecTimeout(d time.Duration) Option {
	return func(p *Processor) { p.execTimeout = d }
}

func New(actions *repository.ActionRepository, executors executor.Factory, logger *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		actions:     actions,
		executors:   executors,
		logger:      logger,
		out:         io.Discard,
		execTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunBatch drains up to limit due records, optionally restricted to one
// project. Only a failure to read the spool itself is returned as an error;
// per-record failures are recorded on the record and counted in the summary.
func (p *Processor) RunBatch(ctx context.Context, projectKey string, limit int) (Summary, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	runID := uuid.NewString()[:8]
	p.logger.Info("Processing action spool",
		zap.String("run", runID),
		zap.String("project", projectKey),
		zap.Int("limit", limit))

	fmt.Fprintln(p.out, "Processing failed job action spool...")
	if projectKey != "" {
		fmt.Fprintf(p.out, "Filtering for project: %s\n", projectKey)
	}

	actions, err := p.actions.ListDue(projectKey, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("read action spool: %w", err)
	}

	if len(actions) == 0 {
		fmt.Fprintln(p.out, "No pending actions found.")
		return Summary{}, nil
	}
	fmt.Fprintf(p.out, "Found %d pending action(s).\n", len(actions))

	summary := Summary{Selected: len(actions)}
	for _, action := range actions {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}
		p.processAction(ctx, action, &summary)
	}

	p.logger.Info("Action spool batch finished",
		zap.String("run", runID),
		zap.Int("selected", summary.Selected),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

func (p *Processor) processAction(ctx context.Context, action models.FailedJobAction, summary *Summary) {
	claimed, err := p.actions.Claim(action.ID)
	if err != nil {
		p.logger.Error("Failed to claim action", zap.Uint("id", action.ID), zap.Error(err))
		summary.Skipped++
		return
	}
	if !claimed {
		// Another processor got there first.
		summary.Skipped++
		return
	}

	fmt.Fprintf(p.out, "Processing action #%d: %s for project %s\n", action.ID, action.Action, action.Project)

	if err := p.execute(ctx, action); err != nil {
		msg := describeFailure(err)
		if err := p.actions.Fail(action.ID, msg); err != nil {
			p.logger.Error("Failed to record action failure", zap.Uint("id", action.ID), zap.Error(err))
		}
		fmt.Fprintf(p.out, "✗ Action #%d failed: %s\n", action.ID, msg)
		p.logger.Warn("Action failed", zap.Uint("id", action.ID), zap.String("error", msg))
		summary.Failed++
		return
	}

	if err := p.actions.Complete(action.ID); err != nil {
		p.logger.Error("Failed to record action completion", zap.Uint("id", action.ID), zap.Error(err))
	}
	fmt.Fprintf(p.out, "✓ Action #%d completed successfully.\n", action.ID)
	summary.Completed++
}

func (p *Processor) execute(ctx context.Context, action models.FailedJobAction) error {
	payload, err := models.ParseActionPayload(action.Payload)
	if err != nil {
		return &executor.QueueError{Category: executor.CategoryPayload, Origin: "spool", Message: err.Error()}
	}

	// Runtime flavor comes from the snapshot taken at dispatch time; the
	// factory resolves connection handles only.
	exec, err := p.executors.For(action.Project, payload.Project)
	if err != nil {
		return err
	}

	switch action.Action {
	case models.ActionRetryJobs:
		return p.retryJobs(ctx, exec, payload)
	case models.ActionDeleteJobs:
		return p.deleteJobs(ctx, exec, payload)
	case models.ActionRetryQueue:
		return p.retryQueue(ctx, exec, payload)
	case models.ActionPrune:
		return p.prune(ctx, exec, payload)
	default:
		return &executor.QueueError{
			Category: executor.CategoryPayload,
			Origin:   "spool",
			Message:  fmt.Sprintf("unknown action type %q", action.Action),
		}
	}
}

func (p *Processor) retryJobs(ctx context.Context, exec executor.Executor, payload models.ActionPayload) error {
	for _, job := range payload.Jobs {
		id := job.Ref()
		if id == "" {
			continue
		}
		if err := p.call(ctx, func(ctx context.Context) error { return exec.RetryJob(ctx, id) }); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "  Retried job: %s\n", id)
	}
	return nil
}

func (p *Processor) deleteJobs(ctx context.Context, exec executor.Executor, payload models.ActionPayload) error {
	for _, job := range payload.Jobs {
		id := job.Ref()
		if id == "" {
			continue
		}
		if err := p.call(ctx, func(ctx context.Context) error { return exec.ForgetJob(ctx, id) }); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "  Deleted job: %s\n", id)
	}
	return nil
}

func (p *Processor) retryQueue(ctx context.Context, exec executor.Executor, payload models.ActionPayload) error {
	queue := payload.Queue
	if queue == "" {
		queue = executor.QueueAll
	}
	if err := p.call(ctx, func(ctx context.Context) error { return exec.RetryAll(ctx, queue) }); err != nil {
		return err
	}
	if queue == executor.QueueAll {
		fmt.Fprintln(p.out, "  Retried all jobs")
	} else {
		fmt.Fprintf(p.out, "  Retried all jobs in queue: %s\n", queue)
	}
	return nil
}

func (p *Processor) prune(ctx context.Context, exec executor.Executor, payload models.ActionPayload) error {
	hours := payload.Hours
	if hours <= 0 {
		hours = 24
	}
	if err := p.call(ctx, func(ctx context.Context) error { return exec.PruneOlderThan(ctx, hours) }); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "  Pruned jobs older than %d hours\n", hours)
	return nil
}

// call bounds a single executor invocation with the configured timeout.
func (p *Processor) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.execTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return &executor.QueueError{
			Category: executor.CategoryTimeout,
			Origin:   "spool",
			Message:  fmt.Sprintf("executor call exceeded %s", p.execTimeout),
		}
	}
	return err
}

// describeFailure formats the error text stored on a failed record:
// category, origin and description for typed failures, a generic executor
// category otherwise.
func describeFailure(err error) string {
	var qe *executor.QueueError
	if errors.As(err, &qe) {
		return qe.Error()
	}
	return fmt.Sprintf("%s in %s: %v", executor.CategoryRuntime, "executor", err)
}
