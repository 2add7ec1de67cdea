package executor

import (
	"context"
	"fmt"
)

// Executor performs retry/delete/prune operations against one project's
// queue runtime. Which concrete implementation runs is decided by the
// runtime flavor snapshotted into the action payload at dispatch time.
type Executor interface {
	// RetryJob pushes a single failed job back onto its queue.
	RetryJob(ctx context.Context, id string) error

	// ForgetJob removes a single failed job without retrying it.
	ForgetJob(ctx context.Context, id string) error

	// RetryAll retries every failed job, or only those of the named queue.
	// The sentinel queue "all" means no queue restriction.
	RetryAll(ctx context.Context, queue string) error

	// PruneOlderThan deletes failed jobs older than the given number of hours.
	PruneOlderThan(ctx context.Context, hours int) error
}

// QueueAll is the sentinel queue name meaning "every queue".
const QueueAll = "all"

// Error categories recorded in the spool's error column.
const (
	CategoryNotFound = "not-found"
	CategoryStorage  = "storage"
	CategoryRuntime  = "runtime"
	CategoryTimeout  = "timeout"
	CategoryPayload  = "payload"
	CategorySetup    = "executor-setup"
)

// QueueError is a typed executor failure. Its string form (category, origin,
// description) is what lands in the spool record, so it carries everything an
// operator needs for follow-up.
type QueueError struct {
	Category string
	Origin   string
	Message  string
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("%s in %s: %s", e.Category, e.Origin, e.Message)
}

func newError(category, origin, format string, args ...interface{}) *QueueError {
	return &QueueError{
		Category: category,
		Origin:   origin,
		Message:  fmt.Sprintf(format, args...),
	}
}
