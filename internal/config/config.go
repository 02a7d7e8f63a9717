package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	NodeID   string
	HTTPPort int
	BaseURL  string
	Debug    bool
	LogLevel string

	// DataDir enables the badger-backed deployment store. Empty keeps
	// deployments in memory for the lifetime of the process.
	DataDir  string
	BotsFile string

	StageDelayScale float64

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DeployRateLimit int

	SessionCheck bool
	ConfigCheck  bool
	RepoCheck    bool
	PolicyScript string

	// GitUsername and GitToken authenticate the repository check against
	// private remotes over HTTPS.
	GitUsername string
	GitToken    string

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. Any files passed in are
// loaded into the environment first; a missing default .env is ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		NodeID:          getEnv("NODE_ID", "deployer-default"),
		HTTPPort:        getEnvInt("HTTP_PORT", 8000),
		Debug:           getEnvBool("DEBUG", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DataDir:         getEnv("DATA_DIR", ""),
		BotsFile:        getEnv("BOTS_FILE", ""),
		StageDelayScale: getEnvFloat("STAGE_DELAY_SCALE", 1.0),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		DeployRateLimit: getEnvInt("DEPLOY_RATE_LIMIT", 10),
		SessionCheck:    getEnvBool("SESSION_CHECK", false),
		ConfigCheck:     getEnvBool("CONFIG_CHECK", false),
		RepoCheck:       getEnvBool("REPO_CHECK", false),
		PolicyScript:    getEnv("POLICY_SCRIPT", ""),
		GitUsername:     getEnv("GIT_USERNAME", "git"),
		GitToken:        getEnv("GIT_TOKEN", ""),
		ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT", 10)) * time.Second,
	}
	cfg.BaseURL = getEnv("BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.HTTPPort))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d", c.HTTPPort)
	}
	if c.StageDelayScale < 0 {
		return fmt.Errorf("invalid STAGE_DELAY_SCALE: %g", c.StageDelayScale)
	}
	if c.DeployRateLimit < 0 {
		return fmt.Errorf("invalid DEPLOY_RATE_LIMIT: %d", c.DeployRateLimit)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// DeploymentURL is the link handed back to clients for polling a deployment.
func (c *Config) DeploymentURL(id string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/deployment/" + id
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
