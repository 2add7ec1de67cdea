package executor

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"failedjobs/internal/models"
)

const databaseOrigin = "database-executor"

// jobsTable is where retried jobs are re-enqueued for projects running the
// database-backed queue runtime.
const jobsTable = "jobs"

// DatabaseExecutor executes actions for projects whose queue runtime is
// database-backed: retrying a job moves its envelope from the failed jobs
// table back into the jobs table of the same database.
type DatabaseExecutor struct {
	db    *gorm.DB
	table string
}

func NewDatabaseExecutor(db *gorm.DB, failedJobsTable string) *DatabaseExecutor {
	return &DatabaseExecutor{db: db, table: failedJobsTable}
}

func (e *DatabaseExecutor) RetryJob(ctx context.Context, id string) error {
	row, err := findFailedJob(ctx, e.db, e.table, id, databaseOrigin)
	if err != nil {
		return err
	}
	return e.retryRow(ctx, row)
}

func (e *DatabaseExecutor) ForgetJob(ctx context.Context, id string) error {
	return forgetFailedJob(ctx, e.db, e.table, id, databaseOrigin)
}

func (e *DatabaseExecutor) RetryAll(ctx context.Context, queue string) error {
	rows, err := listFailedJobs(ctx, e.db, e.table, queue, databaseOrigin)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := e.retryRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *DatabaseExecutor) PruneOlderThan(ctx context.Context, hours int) error {
	return pruneFailedJobs(ctx, e.db, e.table, hours, databaseOrigin)
}

// retryRow re-enqueues one failed job and removes its failed row. Both
// writes commit together so a job is never duplicated or lost halfway.
func (e *DatabaseExecutor) retryRow(ctx context.Context, row models.FailedJobRow) error {
	now := time.Now().Unix()
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(jobsTable).Create(map[string]interface{}{
			"queue":        row.Queue,
			"payload":      row.Payload,
			"attempts":     0,
			"reserved_at":  nil,
			"available_at": now,
			"created_at":   now,
		}).Error; err != nil {
			return err
		}
		return tx.Table(e.table).Where("id = ?", row.ID).Delete(&models.FailedJobRow{}).Error
	})
	if err != nil {
		return newError(CategoryStorage, databaseOrigin, "retry job %d: %v", row.ID, err)
	}
	return nil
}

// ── shared row helpers (both runtime flavors keep failed rows in the
// project database) ──────────────────────────────────────────────────

func findFailedJob(ctx context.Context, db *gorm.DB, table, id, origin string) (models.FailedJobRow, error) {
	var row models.FailedJobRow
	err := db.WithContext(ctx).Table(table).Where("uuid = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.WithContext(ctx).Table(table).Where("id = ?", id).First(&row).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, newError(CategoryNotFound, origin, "failed job %s not found", id)
	}
	if err != nil {
		return row, newError(CategoryStorage, origin, "lookup failed job %s: %v", id, err)
	}
	return row, nil
}

func listFailedJobs(ctx context.Context, db *gorm.DB, table, queue, origin string) ([]models.FailedJobRow, error) {
	var rows []models.FailedJobRow
	q := db.WithContext(ctx).Table(table).Order("id ASC")
	if queue != "" && queue != QueueAll {
		q = q.Where("queue = ?", queue)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, newError(CategoryStorage, origin, "list failed jobs: %v", err)
	}
	return rows, nil
}

func forgetFailedJob(ctx context.Context, db *gorm.DB, table, id, origin string) error {
	res := db.WithContext(ctx).Table(table).Where("uuid = ? OR id = ?", id, id).Delete(&models.FailedJobRow{})
	if res.Error != nil {
		return newError(CategoryStorage, origin, "forget job %s: %v", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return newError(CategoryNotFound, origin, "failed job %s not found", id)
	}
	return nil
}

func pruneFailedJobs(ctx context.Context, db *gorm.DB, table string, hours int, origin string) error {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	if err := db.WithContext(ctx).Table(table).Where("failed_at < ?", cutoff).Delete(&models.FailedJobRow{}).Error; err != nil {
		return newError(CategoryStorage, origin, "prune failed jobs: %v", err)
	}
	return nil
}
