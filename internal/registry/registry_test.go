package registry

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"failedjobs/internal/config"
)

func TestAllFallsBackToImplicitLocalProject(t *testing.T) {
	cfg := &config.Config{
		App: config.AppConfig{Name: "Billing"},
		Database: config.DatabaseConfig{
			Host: "localhost", Port: "3306", Name: "billing", User: "app", Charset: "utf8mb4",
		},
	}
	reg := New(cfg, zap.NewNop())

	projects := reg.All()
	if len(projects) != 1 {
		t.Fatalf("expected one implicit project, got %d", len(projects))
	}
	p := projects[0]
	if p.Key != "local" || p.Name != "Billing" {
		t.Fatalf("unexpected implicit project: %+v", p)
	}
	if p.FailedJobsTable != "failed_jobs" {
		t.Fatalf("expected default failed jobs table, got %q", p.FailedJobsTable)
	}
	if p.DSN == "" {
		t.Fatal("implicit project must inherit the ambient database DSN")
	}
}

func TestAllAppliesDefaultsAndSortsByKey(t *testing.T) {
	cfg := &config.Config{
		Redis: config.RedisConfig{Addr: "cache:6379", DB: 2},
		Projects: map[string]config.ProjectConfig{
			"zeta":  {DSN: "dsn-z"},
			"alpha": {Name: "Alpha", DSN: "dsn-a", FailedJobsTable: "legacy_failed", QueuePrefix: "jobs:"},
		},
	}
	reg := New(cfg, zap.NewNop())

	projects := reg.All()
	if len(projects) != 2 {
		t.Fatalf("expected two projects, got %d", len(projects))
	}
	if projects[0].Key != "alpha" || projects[1].Key != "zeta" {
		t.Fatalf("expected key order, got %s, %s", projects[0].Key, projects[1].Key)
	}

	zeta := projects[1]
	if zeta.Name != "zeta" {
		t.Fatalf("name must default to the key, got %q", zeta.Name)
	}
	if zeta.FailedJobsTable != "failed_jobs" || zeta.QueuePrefix != "queues:" {
		t.Fatalf("missing defaults: %+v", zeta)
	}
	if zeta.RedisAddr != "cache:6379" || zeta.RedisDB != 2 {
		t.Fatalf("expected ambient redis locator inherited, got %+v", zeta)
	}

	alpha := projects[0]
	if alpha.FailedJobsTable != "legacy_failed" || alpha.QueuePrefix != "jobs:" {
		t.Fatalf("explicit settings must win over defaults: %+v", alpha)
	}
}

func TestGetAndOptions(t *testing.T) {
	cfg := &config.Config{
		Projects: map[string]config.ProjectConfig{
			"shop": {Name: "Shop"},
		},
	}
	reg := New(cfg, zap.NewNop())

	if _, ok := reg.Get("shop"); !ok {
		t.Fatal("expected shop to resolve")
	}
	if _, ok := reg.Get("ghost"); ok {
		t.Fatal("unknown keys must not resolve")
	}

	opts := reg.Options()
	if opts["shop"] != "Shop" {
		t.Fatalf("unexpected options: %v", opts)
	}
}

func TestForgetCachePicksUpConfigChanges(t *testing.T) {
	cfg := &config.Config{
		Projects: map[string]config.ProjectConfig{
			"shop": {Name: "Shop"},
		},
	}
	reg := New(cfg, zap.NewNop())
	if len(reg.All()) != 1 {
		t.Fatal("expected one project")
	}

	cfg.Projects["crm"] = config.ProjectConfig{Name: "CRM"}
	if len(reg.All()) != 1 {
		t.Fatal("the memoized set must not change until ForgetCache")
	}

	reg.ForgetCache()
	if len(reg.All()) != 2 {
		t.Fatal("expected the new project after ForgetCache")
	}
}

func TestDBCachesConnectionsPerProject(t *testing.T) {
	cfg := &config.Config{
		Projects: map[string]config.ProjectConfig{
			"shop": {DSN: "dsn-shop"},
		},
	}
	reg := New(cfg, zap.NewNop())

	opens := 0
	reg.SetOpener(func(dsn string) (*gorm.DB, error) {
		opens++
		return gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	})

	first, err := reg.DB("shop")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	second, err := reg.DB("shop")
	if err != nil {
		t.Fatalf("db again: %v", err)
	}
	if first != second || opens != 1 {
		t.Fatalf("expected one cached connection, opens=%d", opens)
	}

	if _, err := reg.DB("ghost"); err == nil {
		t.Fatal("expected an error for an unregistered project")
	}
}

func TestDBSurfacesOpenFailure(t *testing.T) {
	cfg := &config.Config{
		Projects: map[string]config.ProjectConfig{
			"shop": {DSN: "dsn-shop"},
		},
	}
	reg := New(cfg, zap.NewNop())
	reg.SetOpener(func(dsn string) (*gorm.DB, error) {
		return nil, fmt.Errorf("dial %s: refused", dsn)
	})

	if _, err := reg.DB("shop"); err == nil {
		t.Fatal("expected the opener failure to surface")
	}
}
