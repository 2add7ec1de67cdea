package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	API      APIConfig
	Spool    SpoolConfig
	Projects map[string]ProjectConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type AppConfig struct {
	Name string
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type APIConfig struct {
	Key string
}

// SpoolConfig controls the action spool table and its processor.
type SpoolConfig struct {
	Table       string
	Limit       int
	ExecTimeout time.Duration
	CronEnabled bool
}

// ProjectConfig describes one registered project: where its failed jobs live
// and which queue runtime executes its actions. The map key in the projects
// file is the stable project key referenced by spool records.
type ProjectConfig struct {
	Name             string `mapstructure:"name"`
	DSN              string `mapstructure:"dsn"`
	FailedJobsTable  string `mapstructure:"failed_jobs_table"`
	UsesRedisRuntime bool   `mapstructure:"uses_redis_runtime"`
	RedisAddr        string `mapstructure:"redis_addr"`
	RedisPass        string `mapstructure:"redis_pass"`
	RedisDB          int    `mapstructure:"redis_db"`
	QueuePrefix      string `mapstructure:"queue_prefix"`
}

// Load reads configuration from .env file and environment variables, plus an
// optional yaml projects file pointed at by FAILEDJOBS_CONFIG.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("APP_NAME", "Local")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("SPOOL_TABLE", "failed_job_action_spool")
	viper.SetDefault("SPOOL_LIMIT", 10)
	viper.SetDefault("SPOOL_EXEC_TIMEOUT", "30s")
	viper.SetDefault("SPOOL_CRON_ENABLED", true)
	viper.SetDefault("USES_REDIS_RUNTIME", false)
	viper.SetDefault("FAILED_JOBS_TABLE", "failed_jobs")

	execTimeout, err := time.ParseDuration(viper.GetString("SPOOL_EXEC_TIMEOUT"))
	if err != nil {
		execTimeout = 30 * time.Second
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		App: AppConfig{
			Name: viper.GetString("APP_NAME"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
		Spool: SpoolConfig{
			Table:       viper.GetString("SPOOL_TABLE"),
			Limit:       viper.GetInt("SPOOL_LIMIT"),
			ExecTimeout: execTimeout,
			CronEnabled: viper.GetBool("SPOOL_CRON_ENABLED"),
		},
	}

	if err := loadProjects(cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}

	return cfg, nil
}

// loadProjects merges the projects file into cfg.Projects. An absent file is
// fine: the registry falls back to a single implicit project built from the
// ambient database config.
func loadProjects(cfg *Config) error {
	path := viper.GetString("FAILEDJOBS_CONFIG")
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		log.Printf("WARNING: could not read projects file %s: %v", path, err)
		return nil
	}

	projects := make(map[string]ProjectConfig)
	if err := v.UnmarshalKey("projects", &projects); err != nil {
		return err
	}
	cfg.Projects = projects
	return nil
}

// DefaultUsesRedisRuntime reports the runtime flavor of the implicit local
// project used when no projects are configured.
func DefaultUsesRedisRuntime() bool {
	return viper.GetBool("USES_REDIS_RUNTIME")
}

// DefaultFailedJobsTable is the failed jobs table of the implicit project.
func DefaultFailedJobsTable() string {
	return viper.GetString("FAILED_JOBS_TABLE")
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
