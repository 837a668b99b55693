package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/david/volunteer-match/internal/db"
)

const app = "volunteer-match"

type Config struct {
	Port         string        `mapstructure:"port"`
	DatabaseURL  string        `mapstructure:"database-url"`
	JWTSecret    string        `mapstructure:"jwt-secret"`
	AdminSecret  string        `mapstructure:"admin-secret"`
	CORSOrigins  []string      `mapstructure:"cors-origins"`
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	PolicyFile   string        `mapstructure:"policy-file"`
	LogJSON      bool          `mapstructure:"log-json"`
	LogDebug     bool          `mapstructure:"log-debug"`
}

var envBindings = map[string]string{
	"port":          "PORT",
	"database-url":  "DATABASE_URL",
	"jwt-secret":    "JWT_SECRET",
	"admin-secret":  "ADMIN_SECRET",
	"cors-origins":  "CORS_ORIGINS",
	"workers":       "WORKERS",
	"poll-interval": "POLL_INTERVAL",
	"policy-file":   "POLICY_FILE",
	"log-json":      "LOG_JSON",
	"log-debug":     "LOG_DEBUG",
}

// Load reads configuration from the environment and, when path is set, a
// config file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8081")
	v.SetDefault("database-url", db.DefaultURL)
	v.SetDefault("cors-origins", []string{"http://localhost:4200"})
	v.SetDefault("workers", 2)
	v.SetDefault("poll-interval", 2*time.Second)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.CORSOrigins = cleanList(cfg.CORSOrigins)
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}

	return &cfg, nil
}

// DefaultFile is the config file looked up in the working directory.
func DefaultFile() string {
	return app + ".yaml"
}

// Discover picks the config file to load: the explicit path, then
// CONFIG_FILE, then DefaultFile when it exists. Empty means environment only.
func Discover(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv("CONFIG_FILE")); env != "" {
		return env
	}
	if _, err := os.Stat(DefaultFile()); err == nil {
		return DefaultFile()
	}
	return ""
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
