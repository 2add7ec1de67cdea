package repository

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"failedjobs/internal/models"
)

// ActionRepository handles the action spool table. The dispatcher only
// inserts; the spool processor only updates rows it has claimed.
type ActionRepository struct {
	db    *gorm.DB
	table string
}

func NewActionRepository(db *gorm.DB, table string) *ActionRepository {
	if table == "" {
		table = models.FailedJobAction{}.TableName()
	}
	return &ActionRepository{db: db, table: table}
}

func (r *ActionRepository) spool() *gorm.DB {
	return r.db.Table(r.table)
}

// Create appends one action record. Exactly one durable row per call; no
// batching, no deduplication.
func (r *ActionRepository) Create(action *models.FailedJobAction) error {
	return r.spool().Create(action).Error
}

// FindByID returns a single action record.
func (r *ActionRepository) FindByID(id uint) (*models.FailedJobAction, error) {
	var action models.FailedJobAction
	if err := r.spool().Where("id = ?", id).First(&action).Error; err != nil {
		return nil, err
	}
	return &action, nil
}

// ListDue returns up to limit pending records whose available_at has passed,
// oldest first. projectKey restricts the batch to one project when set.
func (r *ActionRepository) ListDue(projectKey string, limit int) ([]models.FailedJobAction, error) {
	var actions []models.FailedJobAction
	q := r.spool().
		Where("status = ?", models.ActionStatusPending).
		Where("available_at IS NULL OR available_at <= ?", time.Now()).
		Order("id ASC")
	if projectKey != "" {
		q = q.Where("project = ?", projectKey)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&actions).Error
	return actions, err
}

// Claim transitions a record to processing and increments attempts. The
// update is conditional on the row still being pending, so two concurrent
// processors cannot both claim the same record; the loser gets false.
func (r *ActionRepository) Claim(id uint) (bool, error) {
	res := r.spool().
		Where("id = ? AND status = ?", id, models.ActionStatusPending).
		Updates(map[string]interface{}{
			"status":   models.ActionStatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Complete moves a processing record to its completed terminal state.
func (r *ActionRepository) Complete(id uint) error {
	return r.spool().
		Where("id = ? AND status = ?", id, models.ActionStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.ActionStatusCompleted,
			"processed_at": time.Now(),
			"error":        "",
		}).Error
}

// Fail moves a processing record to its failed terminal state, recording the
// diagnostic message for operator follow-up.
func (r *ActionRepository) Fail(id uint, errMsg string) error {
	return r.spool().
		Where("id = ? AND status = ?", id, models.ActionStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.ActionStatusFailed,
			"processed_at": time.Now(),
			"error":        trimErr(errMsg),
		}).Error
}

// Requeue resets a failed record back to pending under operator control.
// Terminal states never move backwards on their own; this is the explicit
// reset the operator tooling exposes.
func (r *ActionRepository) Requeue(id uint) (bool, error) {
	res := r.spool().
		Where("id = ? AND status = ?", id, models.ActionStatusFailed).
		Updates(map[string]interface{}{
			"status":       models.ActionStatusPending,
			"attempts":     0,
			"processed_at": nil,
			"error":        "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// List returns spool records filtered by status and project, newest first,
// with offset pagination.
func (r *ActionRepository) List(status, projectKey string, page, limit int) ([]models.FailedJobAction, int64, error) {
	var actions []models.FailedJobAction
	var total int64

	q := r.spool()
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if projectKey != "" {
		q = q.Where("project = ?", projectKey)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&actions).Error; err != nil {
		return nil, 0, err
	}
	return actions, total, nil
}

// CountByStatus returns record counts grouped by status.
func (r *ActionRepository) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.spool().
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

func trimErr(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 900 {
		msg = msg[:900]
	}
	return msg
}
