// Package config loads process configuration from the environment, an
// optional .env file and an optional YAML/TOML file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP API
	HTTPAddr       string
	APITitle       string
	APIVersion     string
	APIDescription string
	JWTSecret      string  // empty disables bearer auth
	SubmitRate     float64 // task submissions per second, 0 disables the limiter
	SubmitBurst    int

	// State store
	StateDriver  string
	StateDSN     string
	StateTable   string
	StoreTimeout time.Duration

	// Result warehouse; empty driver reuses the state connection
	WarehouseDriver   string
	WarehouseDSN      string
	ResultTablePrefix string
	SampleLimit       int
	RecentLimit       int

	// Queue broker
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Stages
	DefaultQueue      string
	WorkerQueues      map[string]int
	WorkerConcurrency int
	StageMaxRetry     int
	StageTimeout      time.Duration
	PatternDir        string
	LabelCommand      []string
	GenerateCommand   []string
	MaxOutputBytes    int

	// Reconciler
	ReconcileSchedule string
	ReconcileGrace    time.Duration
	ReconcileBackfill bool

	LogLevel          string
	WorkerMetricsAddr string
}

// BindFlags lets command-line flags override the loaded values.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.String("config", "", "Config file (yaml|toml), read before flags are parsed")
	fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.StateDriver, "state-driver", c.StateDriver, "State store driver (sqlite|mysql|pgx)")
	fs.StringVar(&c.StateDSN, "state-dsn", c.StateDSN, "State store connection string")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Queue broker address")
	fs.StringVar(&c.DefaultQueue, "queue", c.DefaultQueue, "Default queue for new tasks")
	fs.IntVar(&c.WorkerConcurrency, "concurrency", c.WorkerConcurrency, "Concurrent stage executions")
	fs.DurationVar(&c.StageTimeout, "stage-timeout", c.StageTimeout, "Per-stage execution timeout")
	fs.StringVar(&c.PatternDir, "patterns", c.PatternDir, "Pattern directory")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.StringVar(&c.WorkerMetricsAddr, "metrics-addr", c.WorkerMetricsAddr, "Worker metrics listen address")
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	// A missing .env file is fine; real environment variables win.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8000"),
		APITitle:          getEnv("API_TITLE", "labelx"),
		APIVersion:        getEnv("API_VERSION", "1.0.0"),
		APIDescription:    getEnv("API_DESCRIPTION", "labeling task orchestration"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		StateDriver:       getEnv("STATE_DRIVER", "sqlite"),
		StateDSN:          getEnv("STATE_DSN", "file:labelx.db?_pragma=busy_timeout(5000)"),
		StateTable:        getEnv("STATE_TABLE", "state"),
		WarehouseDriver:   os.Getenv("WAREHOUSE_DRIVER"),
		WarehouseDSN:      os.Getenv("WAREHOUSE_DSN"),
		ResultTablePrefix: getEnv("RESULT_TABLE_PREFIX", "wh_panel_mapping_"),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		DefaultQueue:      getEnv("DEFAULT_QUEUE", "default"),
		PatternDir:        getEnv("PATTERN_DIR", "patterns"),
		LabelCommand:      strings.Fields(os.Getenv("LABEL_COMMAND")),
		GenerateCommand:   strings.Fields(os.Getenv("GENERATE_COMMAND")),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 1m"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		WorkerMetricsAddr: getEnv("WORKER_METRICS_ADDR", ":9090"),
	}

	var err error
	if cfg.SubmitRate, err = getFloat("SUBMIT_RATE", 0); err != nil {
		return nil, err
	}
	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"SUBMIT_BURST", 5, &cfg.SubmitBurst},
		{"SAMPLE_LIMIT", 10, &cfg.SampleLimit},
		{"RECENT_LIMIT", 20, &cfg.RecentLimit},
		{"REDIS_DB", 0, &cfg.RedisDB},
		{"WORKER_CONCURRENCY", 10, &cfg.WorkerConcurrency},
		{"STAGE_MAX_RETRY", 3, &cfg.StageMaxRetry},
		{"MAX_OUTPUT_BYTES", 1 << 20, &cfg.MaxOutputBytes},
	}
	for _, it := range ints {
		if *it.dest, err = getInt(it.key, it.def); err != nil {
			return nil, err
		}
	}
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"STORE_TIMEOUT", 5 * time.Second, &cfg.StoreTimeout},
		{"STAGE_TIMEOUT", 30 * time.Minute, &cfg.StageTimeout},
		{"RECONCILE_GRACE", 2 * time.Minute, &cfg.ReconcileGrace},
	}
	for _, it := range durations {
		if *it.dest, err = getDuration(it.key, it.def); err != nil {
			return nil, err
		}
	}
	if cfg.ReconcileBackfill, err = getBool("RECONCILE_BACKFILL", true); err != nil {
		return nil, err
	}
	if cfg.WorkerQueues, err = ParseQueues(getEnv("WORKER_QUEUES", cfg.DefaultQueue+":1")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseQueues parses "name:weight,name:weight". A missing weight is 1.
func ParseQueues(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, weight, found := strings.Cut(part, ":")
		w := 1
		if found {
			n, err := strconv.Atoi(weight)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid weight for queue %q: %q", name, weight)
			}
			w = n
		}
		out[name] = w
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no worker queues configured")
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// FromArgs loads the environment, overlays the config file named by args (or
// found by ResolveConfigPath) and finally applies flags parsed from args.
func FromArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	path, err := ResolveConfigPath(args)
	if err != nil {
		return nil, err
	}
	fileCfg, err := LoadFileConfig(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyFileConfig(cfg, fileCfg); err != nil {
		return nil, err
	}
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
