// Package config loads harvester configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Sternrassler/github-harvester/pkg/github"
)

// GitHubConfig holds GitHub API access configuration.
type GitHubConfig struct {
	// Token is the personal access token used for GraphQL auth (REQUIRED).
	Token string

	// Endpoint is the GraphQL API endpoint.
	Endpoint string

	// BaseQuery is an additional search predicate ANDed into every
	// partition query (empty = unrestricted).
	BaseQuery string

	// TargetCount is the global number of unique repositories to harvest.
	TargetCount int

	// BatchSize is the page size per search request (max 100).
	BatchSize int
}

// DatabaseConfig holds Postgres connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=10",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// Config is the full harvester configuration.
type Config struct {
	GitHub   GitHubConfig
	Database DatabaseConfig

	// OutputPath is the CSV export destination.
	OutputPath string

	// MetricsAddr exposes a Prometheus /metrics listener when non-empty.
	MetricsAddr string

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string

	// LogPretty enables console-formatted log output.
	LogPretty bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is merged in when present.
func Load() (Config, error) {
	cfg := load()
	return cfg, cfg.Validate()
}

// LoadDatabase reads configuration for commands that only touch the
// database and never call the API, so no token is required.
func LoadDatabase() (Config, error) {
	cfg := load()
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return cfg, fmt.Errorf("invalid database port %d", cfg.Database.Port)
	}
	return cfg, nil
}

func load() Config {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("github_endpoint", "https://api.github.com/graphql")
	v.SetDefault("github_base_query", "")
	v.SetDefault("max_repos", 100000)
	v.SetDefault("batch_size", github.MaxPageSize)

	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "github_harvester")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "postgres")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("output_path", "repositories.csv")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	cfg := Config{
		GitHub: GitHubConfig{
			Token:       v.GetString("github_token"),
			Endpoint:    v.GetString("github_endpoint"),
			BaseQuery:   v.GetString("github_base_query"),
			TargetCount: v.GetInt("max_repos"),
			BatchSize:   v.GetInt("batch_size"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("db_host"),
			Port:     v.GetInt("db_port"),
			Name:     v.GetString("db_name"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			SSLMode:  v.GetString("db_sslmode"),
		},
		OutputPath:  v.GetString("output_path"),
		MetricsAddr: v.GetString("metrics_addr"),
		LogLevel:    v.GetString("log_level"),
		LogPretty:   v.GetBool("log_pretty"),
	}

	return cfg
}

// Validate checks configuration invariants before any network activity.
func (c Config) Validate() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.GitHub.Endpoint == "" {
		return fmt.Errorf("github endpoint must not be empty")
	}
	if c.GitHub.TargetCount <= 0 {
		return fmt.Errorf("target count must be positive (got %d)", c.GitHub.TargetCount)
	}
	if c.GitHub.BatchSize <= 0 || c.GitHub.BatchSize > github.MaxPageSize {
		return fmt.Errorf("batch size must be in 1..%d (got %d)", github.MaxPageSize, c.GitHub.BatchSize)
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port %d", c.Database.Port)
	}
	return nil
}
