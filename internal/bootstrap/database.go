package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"failedjobs/internal/models"
)

// Migrate ensures the action spool table exists. Project data sources are
// never migrated here: they belong to the remote systems.
func Migrate(db *gorm.DB, spoolTable string) error {
	if spoolTable == "" {
		spoolTable = models.FailedJobAction{}.TableName()
	}
	if err := db.Table(spoolTable).AutoMigrate(&models.FailedJobAction{}); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}
