package executor

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"failedjobs/internal/models"
)

const redisOrigin = "redis-executor"

// RedisExecutor executes actions for projects whose queue runtime drains
// redis lists. Failed rows still live in the project database; retrying
// re-pushes the job envelope onto the project's redis queue and clears the
// failed row.
type RedisExecutor struct {
	db     *gorm.DB
	rdb    redis.Cmdable
	table  string
	prefix string
}

func NewRedisExecutor(db *gorm.DB, rdb redis.Cmdable, failedJobsTable, queuePrefix string) *RedisExecutor {
	if queuePrefix == "" {
		queuePrefix = "queues:"
	}
	return &RedisExecutor{db: db, rdb: rdb, table: failedJobsTable, prefix: queuePrefix}
}

func (e *RedisExecutor) RetryJob(ctx context.Context, id string) error {
	row, err := findFailedJob(ctx, e.db, e.table, id, redisOrigin)
	if err != nil {
		return err
	}
	return e.retryRow(ctx, row)
}

func (e *RedisExecutor) ForgetJob(ctx context.Context, id string) error {
	return forgetFailedJob(ctx, e.db, e.table, id, redisOrigin)
}

func (e *RedisExecutor) RetryAll(ctx context.Context, queue string) error {
	rows, err := listFailedJobs(ctx, e.db, e.table, queue, redisOrigin)
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

func (e *RedisExecutor) PruneOlderThan(ctx context.Context, hours int) error {
	return pruneFailedJobs(ctx, e.db, e.table, hours, redisOrigin)
}

func (e *RedisExecutor) retryRow(ctx context.Context, row models.FailedJobRow) error {
	queue := row.Queue
	if queue == "" {
		queue = "default"
	}
	key := e.prefix + queue

	if err := e.rdb.RPush(ctx, key, retryEnvelope(row.Payload)).Err(); err != nil {
		return newError(CategoryRuntime, redisOrigin, "push job %d onto %s: %v", row.ID, key, err)
	}
	// Wake up blocked workers the way the runtime's own push path does.
	if err := e.rdb.RPush(ctx, key+":notify", 1).Err(); err != nil {
		return newError(CategoryRuntime, redisOrigin, "notify queue %s: %v", key, err)
	}

	if err := e.db.WithContext(ctx).Table(e.table).Where("id = ?", row.ID).Delete(&models.FailedJobRow{}).Error; err != nil {
		return newError(CategoryStorage, redisOrigin, "clear failed row %d: %v", row.ID, err)
	}
	return nil
}

// retryEnvelope resets the envelope for a fresh run: zero attempts and a new
// uuid so the runtime treats it as a distinct delivery. Non-JSON payloads
// are pushed untouched.
func retryEnvelope(payload string) string {
	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return payload
	}
	envelope["attempts"] = 0
	envelope["uuid"] = uuid.NewString()
	raw, err := json.Marshal(envelope)
	if err != nil {
		return payload
	}
	return string(raw)
}
