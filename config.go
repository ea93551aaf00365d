package spangle

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/sethvargo/go-envconfig"
)

// Config holds the environment-driven settings consumed when a Logger is
// constructed. It is read once at construction time; it only affects which
// remote identity a flush targets, never core correctness.
type Config struct {
	Project      string `env:"SPANGLE_PROJECT"`
	LogStream    string `env:"SPANGLE_LOG_STREAM"`
	ExperimentID string `env:"SPANGLE_EXPERIMENT_ID"`

	BaseURL  string `env:"SPANGLE_BASE_URL"`
	APIKey   string `env:"SPANGLE_API_KEY"`
	Username string `env:"SPANGLE_USERNAME"`
	Password string `env:"SPANGLE_PASSWORD"`
}

type loadConfig struct {
	dotenvFiles []string
	lookuper    envconfig.Lookuper
}

// LoadOption configures LoadConfig.
type LoadOption func(*loadConfig)

// WithDotEnv loads the given .env files (default ".env") before reading the
// environment. Missing files are ignored.
func WithDotEnv(files ...string) LoadOption {
	return func(c *loadConfig) {
		if len(files) == 0 {
			files = []string{".env"}
		}
		c.dotenvFiles = append(c.dotenvFiles, files...)
	}
}

// WithLookuper overrides the environment source, mainly for tests.
func WithLookuper(l envconfig.Lookuper) LoadOption {
	return func(c *loadConfig) {
		c.lookuper = l
	}
}

// LoadConfig reads configuration from the environment.
func LoadConfig(ctx context.Context, opts ...LoadOption) (*Config, error) {
	lc := loadConfig{lookuper: envconfig.OsLookuper()}
	for _, opt := range opts {
		opt(&lc)
	}

	for _, f := range lc.dotenvFiles {
		if err := godotenv.Load(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, goerr.Wrap(err, "failed to load dotenv file", goerr.V("file", f))
		}
	}

	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lc.lookuper,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to process environment config")
	}
	return &cfg, nil
}
