package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action types accepted by the spool. The string values are persisted in the
// ledger, so they are part of the storage contract.
const (
	ActionRetryJobs  = "retry-jobs"
	ActionDeleteJobs = "delete-jobs"
	ActionRetryQueue = "retry-queue"
	ActionPrune      = "prune"
)

// Action statuses. A record only ever moves forward:
// pending -> processing -> completed | failed.
const (
	ActionStatusPending    = "pending"
	ActionStatusProcessing = "processing"
	ActionStatusCompleted  = "completed"
	ActionStatusFailed     = "failed"
)

// ValidActionType reports whether a is one of the four spool action types.
func ValidActionType(a string) bool {
	switch a {
	case ActionRetryJobs, ActionDeleteJobs, ActionRetryQueue, ActionPrune:
		return true
	}
	return false
}

// FailedJobAction is one row of the action spool: an operator-issued action
// waiting to be executed against the owning project's queue runtime.
type FailedJobAction struct {
	ID          uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Project     string     `gorm:"column:project;size:191;index:idx_spool_project_status,priority:1" json:"project"`
	Action      string     `gorm:"column:action;size:50" json:"action"`
	Payload     string     `gorm:"column:payload;type:longtext" json:"payload"`
	Status      string     `gorm:"column:status;size:30;index:idx_spool_project_status,priority:2;index:idx_spool_status" json:"status"`
	Attempts    int        `gorm:"column:attempts;default:0" json:"attempts"`
	AvailableAt *time.Time `gorm:"column:available_at" json:"available_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at" json:"processed_at"`
	Error       string     `gorm:"column:error;type:text" json:"error"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (FailedJobAction) TableName() string {
	return "failed_job_action_spool"
}

// ProjectSnapshot is the denormalized project identity written into every
// action payload at dispatch time. Execution reads the runtime flavor from
// here, never from the live registry, so a project that is reconfigured or
// removed between dispatch and processing is still executed as dispatched.
type ProjectSnapshot struct {
	Name             string `json:"name"`
	UsesRedisRuntime bool   `json:"uses_redis_runtime"`
}

// JobRef identifies one failed job inside an action payload.
type JobRef struct {
	ID   string `json:"id,omitempty"`
	UUID string `json:"uuid,omitempty"`
}

// Ref returns the identifier to hand to the executor, preferring the numeric
// id. An empty result means the entry is skipped.
func (j JobRef) Ref() string {
	if j.ID != "" {
		return j.ID
	}
	return j.UUID
}

// ActionPayload is the structured payload document stored with each action.
// Only the fields relevant to the action type are set.
type ActionPayload struct {
	Jobs    []JobRef        `json:"jobs,omitempty"`
	Queue   string          `json:"queue,omitempty"`
	Hours   int             `json:"hours,omitempty"`
	Project ProjectSnapshot `json:"project"`
}

// Encode serializes the payload for storage in the ledger.
func (p ActionPayload) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode action payload: %w", err)
	}
	return string(raw), nil
}

// ParseActionPayload decodes a stored payload document.
func ParseActionPayload(raw string) (ActionPayload, error) {
	var p ActionPayload
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ActionPayload{}, fmt.Errorf("parse action payload: %w", err)
	}
	return p, nil
}
