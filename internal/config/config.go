package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"codesync/internal/exec"
	"codesync/internal/session"
)

const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Config is the server configuration. Sources are layered, later ones
// winning: defaults, .env, YAML file, environment, command-line flags.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	LogLevel       string   `yaml:"logLevel"`

	GracePeriod time.Duration `yaml:"gracePeriod"`

	ExecTimeout             time.Duration     `yaml:"execTimeout"`
	MaxConcurrentExecutions int64             `yaml:"maxConcurrentExecutions"`
	SandboxBackend          string            `yaml:"sandboxBackend"`
	TempDir                 string            `yaml:"tempDir"`
	Toolchain               exec.Toolchain    `yaml:"toolchain"`
	Images                  map[string]string `yaml:"images"`
	JanitorSchedule         string            `yaml:"janitorSchedule"`

	RedisAddr    string `yaml:"redisAddr"`
	RedisChannel string `yaml:"redisChannel"`
}

func Default() *Config {
	return &Config{
		Port:                    "3001",
		AllowedOrigins:          []string{"http://localhost:5173"},
		LogLevel:                "info",
		GracePeriod:             session.DefaultGracePeriod,
		ExecTimeout:             exec.DefaultTimeout,
		MaxConcurrentExecutions: exec.DefaultMaxConcurrent,
		SandboxBackend:          BackendLocal,
		Toolchain:               exec.DefaultToolchain(),
		JanitorSchedule:         exec.DefaultJanitorSchedule,
		RedisChannel:            "codesync:rooms",
	}
}

// Load builds the configuration from args (without the program name) and
// the process environment.
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("codesync", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	port := flags.StringP("port", "p", "", "HTTP listen port")
	origins := flags.StringSlice("allowed-origins", nil, "CORS allowed origins")
	grace := flags.Duration("grace-period", 0, "how long an empty room survives")
	timeout := flags.Duration("exec-timeout", 0, "wall-clock limit per execution")
	maxExec := flags.Int64("max-executions", 0, "concurrent execution cap")
	backend := flags.String("sandbox", "", "execution backend: local or docker")
	redisAddr := flags.String("redis-addr", "", "redis address for the room event feed")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("CODESYNC_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("allowed-origins") {
		cfg.AllowedOrigins = *origins
	}
	if flags.Changed("grace-period") {
		cfg.GracePeriod = *grace
	}
	if flags.Changed("exec-timeout") {
		cfg.ExecTimeout = *timeout
	}
	if flags.Changed("max-executions") {
		cfg.MaxConcurrentExecutions = *maxExec
	}
	if flags.Changed("sandbox") {
		cfg.SandboxBackend = *backend
	}
	if flags.Changed("redis-addr") {
		cfg.RedisAddr = *redisAddr
	}

	cfg.Toolchain = cfg.Toolchain.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("CODESYNC_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("CODESYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CODESYNC_SANDBOX_BACKEND"); v != "" {
		c.SandboxBackend = v
	}
	if v := os.Getenv("CODESYNC_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv("CODESYNC_JANITOR_SCHEDULE"); v != "" {
		c.JanitorSchedule = v
	}
	if v := os.Getenv("CODESYNC_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("CODESYNC_REDIS_CHANNEL"); v != "" {
		c.RedisChannel = v
	}

	var err error
	if c.GracePeriod, err = envDuration("CODESYNC_GRACE_PERIOD", c.GracePeriod); err != nil {
		return err
	}
	if c.ExecTimeout, err = envDuration("CODESYNC_EXEC_TIMEOUT", c.ExecTimeout); err != nil {
		return err
	}
	if v := os.Getenv("CODESYNC_MAX_EXECUTIONS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CODESYNC_MAX_EXECUTIONS: %w", err)
		}
		c.MaxConcurrentExecutions = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must be set")
	}
	if c.SandboxBackend != BackendLocal && c.SandboxBackend != BackendDocker {
		return fmt.Errorf("unsupported sandbox backend %q (want %s or %s)", c.SandboxBackend, BackendLocal, BackendDocker)
	}
	if c.ExecTimeout <= 0 {
		return errors.New("exec timeout must be positive")
	}
	if c.GracePeriod <= 0 {
		return errors.New("grace period must be positive")
	}
	if c.MaxConcurrentExecutions <= 0 {
		return errors.New("max executions must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.Port }

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
