package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"failedjobs/internal/models"
)

// queuedJob mirrors the jobs table the database runtime drains.
type queuedJob struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Queue       string `gorm:"column:queue"`
	Payload     string `gorm:"column:payload"`
	Attempts    int    `gorm:"column:attempts"`
	ReservedAt  *int64 `gorm:"column:reserved_at"`
	AvailableAt int64  `gorm:"column:available_at"`
	CreatedAt   int64  `gorm:"column:created_at"`
}

func (queuedJob) TableName() string { return "jobs" }

func openProjectDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Table("failed_jobs").AutoMigrate(&models.FailedJobRow{}); err != nil {
		t.Fatalf("migrate failed_jobs: %v", err)
	}
	if err := db.AutoMigrate(&queuedJob{}); err != nil {
		t.Fatalf("migrate jobs: %v", err)
	}
	return db
}

func seedFailedJob(t *testing.T, db *gorm.DB, row models.FailedJobRow) models.FailedJobRow {
	t.Helper()
	if row.FailedAt == nil {
		now := time.Now()
		row.FailedAt = &now
	}
	if err := db.Table("failed_jobs").Create(&row).Error; err != nil {
		t.Fatalf("seed failed job: %v", err)
	}
	return row
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := db.Table(table).Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRetryJobMovesRowBackToJobsTable(t *testing.T) {
	db := openProjectDB(t)
	exec := NewDatabaseExecutor(db, "failed_jobs")

	seedFailedJob(t, db, models.FailedJobRow{
		UUID:    "u-1",
		Queue:   "emails",
		Payload: `{"displayName":"App\\Jobs\\SendEmail","attempts":3}`,
	})

	if err := exec.RetryJob(context.Background(), "u-1"); err != nil {
		t.Fatalf("retry job: %v", err)
	}

	if n := countRows(t, db, "failed_jobs"); n != 0 {
		t.Fatalf("expected failed row removed, %d left", n)
	}

	var job queuedJob
	if err := db.First(&job).Error; err != nil {
		t.Fatalf("read re-enqueued job: %v", err)
	}
	if job.Queue != "emails" || job.Attempts != 0 || job.ReservedAt != nil {
		t.Fatalf("unexpected re-enqueued job: %+v", job)
	}
	if job.AvailableAt == 0 || job.CreatedAt == 0 {
		t.Fatalf("expected unix timestamps on the job row, got %+v", job)
	}
}

func TestRetryJobFallsBackToNumericID(t *testing.T) {
	db := openProjectDB(t)
	exec := NewDatabaseExecutor(db, "failed_jobs")

	row := seedFailedJob(t, db, models.FailedJobRow{Queue: "default", Payload: "{}"})

	if err := exec.RetryJob(context.Background(), "1"); err != nil {
		t.Fatalf("retry by id %d: %v", row.ID, err)
	}
	if n := countRows(t, db, "jobs"); n != 1 {
		t.Fatalf("expected one re-enqueued job, got %d", n)
	}
}

func TestRetryJobNotFound(t *testing.T) {
	db := openProjectDB(t)
	exec := NewDatabaseExecutor(db, "failed_jobs")

	err := exec.RetryJob(context.Background(), "missing")
	var qe *QueueError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueueError, got %v", err)
	}
	if qe.Category != CategoryNotFound {
		t.Fatalf("expected not-found category, got %s", qe.Category)
	}
}

func TestForgetJobRemovesRow(t *testing.T) {
	db := openProjectDB(t)
	exec := NewDatabaseExecutor(db, "failed_jobs")

	seedFailedJob(t, db, models.FailedJobRow{UUID: "u-2", Queue: "emails", Payload: "{}"})

	if err := exec.ForgetJob(context.Background(), "u-2"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if n := countRows(t, db, "failed_jobs"); n != 0 {
		t.Fatalf("expected row removed, %d left", n)
	}
	if n := countRows(t, db, "jobs"); n != 0 {
		t.Fatal("forget must not re-enqueue the job")
	}

	err := exec.ForgetJob(context.Background(), "u-2")
	var qe *QueueError
	if !errors.As(err, &qe) || qe.Category != CategoryNotFound {
		t.Fatalf("expected not-found on second forget, got %v", err)
	}
}

func TestRetryAllHonorsQueueFilter(t *testing.T) {
	db := openProjectDB(t)
	exec := NewDatabaseExecutor(db, "failed_jobs")

	seedFailedJob(t, db, models.FailedJobRow{UUID: "u-a", Queue: "emails", Payload: "{}"})
	seedFailedJob(t, db, models.FailedJobRow{UUID: "u-b", Queue: "reports", Payload: "{}"})

	if err := exec.RetryAll(context.Background(), "emails"); err != nil {
		t.Fatalf("retry queue: %v", err)
	}
	if n := countRows(t, db, "failed_jobs"); n != 1 {
		t.Fatalf("expected only the emails row retried, %d left", n)
	}

	if err := exec.RetryAll(context.Background(), QueueAll); err != nil {
		t.Fatalf("retry all: %v", err)
	}
	if n := countRows(t, db, "failed_jobs"); n != 0 {
		t.Fatalf("expected all rows retried, %d left", n)
	}
	if n := countRows(t, db, "jobs"); n != 2 {
		t.Fatalf("expected two re-enqueued jobs, got %d", n)
	}
}

func TestPruneOlderThanRemovesOnlyStaleRows(t *testing.T) {
	db := openProjectDB(t)
	exec := NewDatabaseExecutor(db, "failed_jobs")

	stale := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-time.Hour)
	seedFailedJob(t, db, models.FailedJobRow{UUID: "old", Queue: "emails", Payload: "{}", FailedAt: &stale})
	seedFailedJob(t, db, models.FailedJobRow{UUID: "new", Queue: "emails", Payload: "{}", FailedAt: &fresh})

	if err := exec.PruneOlderThan(context.Background(), 24); err != nil {
		t.Fatalf("prune: %v", err)
	}

	var rows []models.FailedJobRow
	if err := db.Table("failed_jobs").Find(&rows).Error; err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].UUID != "new" {
		t.Fatalf("expected only the fresh row kept, got %+v", rows)
	}
}
