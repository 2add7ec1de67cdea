package executor

import (
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"failedjobs/internal/models"
	"failedjobs/internal/registry"
)

// Factory builds the executor for one action. The runtime flavor comes from
// the payload snapshot written at dispatch time; only connection locators
// are resolved against the live registry.
type Factory interface {
	For(projectKey string, snapshot models.ProjectSnapshot) (Executor, error)
}

// RuntimeFactory is the production Factory backed by the project registry.
// Redis clients are cached per address so repeated batches reuse
// connections.
type RuntimeFactory struct {
	registry *registry.Registry
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[string]*redis.Client
}

func NewFactory(reg *registry.Registry, logger *zap.Logger) *RuntimeFactory {
	return &RuntimeFactory{
		registry: reg,
		logger:   logger,
		clients:  make(map[string]*redis.Client),
	}
}

func (f *RuntimeFactory) For(projectKey string, snapshot models.ProjectSnapshot) (Executor, error) {
	project, ok := f.registry.Get(projectKey)
	if !ok {
		return nil, newError(CategorySetup, "factory", "project %q is no longer registered", projectKey)
	}

	db, err := f.registry.DB(projectKey)
	if err != nil {
		return nil, newError(CategorySetup, "factory", "%v", err)
	}

	if snapshot.UsesRedisRuntime {
		return NewRedisExecutor(db, f.redisClient(project), project.FailedJobsTable, project.QueuePrefix), nil
	}
	return NewDatabaseExecutor(db, project.FailedJobsTable), nil
}

func (f *RuntimeFactory) redisClient(project registry.Project) *redis.Client {
	key := fmt.Sprintf("%s/%d", project.RedisAddr, project.RedisDB)

	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[key]; ok {
		return client
	}
	client := redis.NewClient(&redis.Options{
		Addr:     project.RedisAddr,
		Password: project.RedisPass,
		DB:       project.RedisDB,
	})
	f.clients[key] = client
	return client
}
