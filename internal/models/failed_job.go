package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// FailedJobRow maps one raw row of a project's failed jobs table. The table
// name differs per project, so queries always go through Table() with the
// name from the project config.
type FailedJobRow struct {
	ID         int64      `gorm:"column:id" json:"id"`
	UUID       string     `gorm:"column:uuid" json:"uuid"`
	Connection string     `gorm:"column:connection" json:"connection"`
	Queue      string     `gorm:"column:queue" json:"queue"`
	Payload    string     `gorm:"column:payload" json:"payload"`
	Exception  string     `gorm:"column:exception" json:"exception"`
	FailedAt   *time.Time `gorm:"column:failed_at" json:"failed_at"`
}

// FailedJobRecord joins a failed job row with the identity of the project it
// came from. Records are recomputed on every read and never persisted.
type FailedJobRecord struct {
	Key              string     `json:"key"`
	ProjectKey       string     `json:"project_key"`
	ProjectName      string     `json:"project_name"`
	UsesRedisRuntime bool       `json:"uses_redis_runtime"`
	ID               int64      `json:"id"`
	UUID             string     `json:"uuid"`
	Connection       string     `json:"connection"`
	Queue            string     `json:"queue"`
	Payload          string     `json:"payload"`
	JobName          string     `json:"job_name"`
	Exception        string     `json:"exception"`
	FailedAt         *time.Time `json:"failed_at"`
}

// RecordKey builds the composite key identifying a failed job across
// projects: "<project-key>::<uuid or id>".
func RecordKey(projectKey, uuid string, id int64) string {
	if uuid != "" {
		return fmt.Sprintf("%s::%s", projectKey, uuid)
	}
	return fmt.Sprintf("%s::%d", projectKey, id)
}

// JobDisplayName extracts the job class name from a serialized job envelope.
// Returns "" when the payload has no displayName field or is not JSON.
func JobDisplayName(payload string) string {
	if payload == "" {
		return ""
	}
	var envelope struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return ""
	}
	return envelope.DisplayName
}
