package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"failedjobs/internal/config"
)

// Project is one registered external system whose failed jobs this service
// aggregates and whose actions it spools. The Key is stable for the lifetime
// of any spool record referencing it.
type Project struct {
	Key              string `json:"key"`
	Name             string `json:"name"`
	DSN              string `json:"-"`
	FailedJobsTable  string `json:"failed_jobs_table"`
	UsesRedisRuntime bool   `json:"uses_redis_runtime"`
	RedisAddr        string `json:"-"`
	RedisPass        string `json:"-"`
	RedisDB          int    `json:"-"`
	QueuePrefix      string `json:"-"`
}

// Registry resolves the configured project set and hands out cached database
// handles per project. The resolved set is memoized until ForgetCache.
type Registry struct {
	cfg    *config.Config
	logger *zap.Logger

	mu    sync.Mutex
	cache []Project
	conns map[string]*gorm.DB
	open  func(dsn string) (*gorm.DB, error)
}

// New creates a registry over the loaded configuration.
func New(cfg *config.Config, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[string]*gorm.DB),
		open:   config.OpenMySQL,
	}
}

// SetOpener replaces the connection opener. Tests use this to point projects
// at sqlite files instead of MySQL servers.
func (r *Registry) SetOpener(open func(dsn string) (*gorm.DB, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = open
}

// All returns the configured projects ordered by key. When no projects are
// configured it synthesizes a single "local" project from the ambient
// database config, preserving single-project deployments.
func (r *Registry) All() []Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allLocked()
}

func (r *Registry) allLocked() []Project {
	if r.cache != nil {
		return r.cache
	}

	if len(r.cfg.Projects) == 0 {
		table := config.DefaultFailedJobsTable()
		if table == "" {
			table = "failed_jobs"
		}
		name := r.cfg.App.Name
		if name == "" {
			name = "Local"
		}
		r.cache = []Project{{
			Key:              "local",
			Name:             name,
			DSN:              r.cfg.Database.DSN(),
			FailedJobsTable:  table,
			UsesRedisRuntime: config.DefaultUsesRedisRuntime(),
			RedisAddr:        r.cfg.Redis.Addr,
			RedisPass:        r.cfg.Redis.Pass,
			RedisDB:          r.cfg.Redis.DB,
			QueuePrefix:      "queues:",
		}}
		return r.cache
	}

	projects := make([]Project, 0, len(r.cfg.Projects))
	for key, pc := range r.cfg.Projects {
		p := Project{
			Key:              key,
			Name:             pc.Name,
			DSN:              pc.DSN,
			FailedJobsTable:  pc.FailedJobsTable,
			UsesRedisRuntime: pc.UsesRedisRuntime,
			RedisAddr:        pc.RedisAddr,
			RedisPass:        pc.RedisPass,
			RedisDB:          pc.RedisDB,
			QueuePrefix:      pc.QueuePrefix,
		}
		if p.Name == "" {
			p.Name = key
		}
		if p.FailedJobsTable == "" {
			p.FailedJobsTable = "failed_jobs"
		}
		if p.RedisAddr == "" {
			p.RedisAddr = r.cfg.Redis.Addr
			p.RedisPass = r.cfg.Redis.Pass
			p.RedisDB = r.cfg.Redis.DB
		}
		if p.QueuePrefix == "" {
			p.QueuePrefix = "queues:"
		}
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Key < projects[j].Key })

	r.cache = projects
	return r.cache
}

// Get looks up a project by key.
func (r *Registry) Get(key string) (Project, bool) {
	for _, p := range r.All() {
		if p.Key == key {
			return p, true
		}
	}
	return Project{}, false
}

// Options returns a key -> display name map for selection UIs.
func (r *Registry) Options() map[string]string {
	projects := r.All()
	options := make(map[string]string, len(projects))
	for _, p := range projects {
		options[p.Key] = p.Name
	}
	return options
}

// ForgetCache drops the memoized project set so the next read picks up
// configuration changes. Open connections are kept: a project's DSN is not
// expected to change without a restart.
func (r *Registry) ForgetCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = nil
}

// DB returns a cached database handle for the project's data source.
func (r *Registry) DB(key string) (*gorm.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.conns[key]; ok {
		return db, nil
	}

	var project *Project
	for _, p := range r.allLocked() {
		if p.Key == key {
			project = &p
			break
		}
	}
	if project == nil {
		return nil, fmt.Errorf("project %q is not registered", key)
	}

	db, err := r.open(project.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect project %q: %w", key, err)
	}
	r.conns[key] = db
	return db, nil
}
