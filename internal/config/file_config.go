package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var defaultConfigFilenames = []string{
	"labelx.yaml",
	"labelx.yml",
	"labelx.toml",
}

type FileConfig struct {
	API       APIFileConfig       `yaml:"api" toml:"api"`
	State     StateFileConfig     `yaml:"state" toml:"state"`
	Warehouse WarehouseFileConfig `yaml:"warehouse" toml:"warehouse"`
	Redis     RedisFileConfig     `yaml:"redis" toml:"redis"`
	Worker    WorkerFileConfig    `yaml:"worker" toml:"worker"`
	Reconcile ReconcileFileConfig `yaml:"reconcile" toml:"reconcile"`
}

type APIFileConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	Title       string   `yaml:"title" toml:"title"`
	Version     string   `yaml:"version" toml:"version"`
	Description string   `yaml:"description" toml:"description"`
	SubmitRate  *float64 `yaml:"submit_rate" toml:"submit_rate"`
	SubmitBurst *int     `yaml:"submit_burst" toml:"submit_burst"`
	RecentLimit *int     `yaml:"recent_limit" toml:"recent_limit"`
}

type StateFileConfig struct {
	Driver  string `yaml:"driver" toml:"driver"`
	DSN     string `yaml:"dsn" toml:"dsn"`
	Table   string `yaml:"table" toml:"table"`
	Timeout string `yaml:"timeout" toml:"timeout"`
}

type WarehouseFileConfig struct {
	Driver      string `yaml:"driver" toml:"driver"`
	DSN         string `yaml:"dsn" toml:"dsn"`
	TablePrefix string `yaml:"table_prefix" toml:"table_prefix"`
	SampleLimit *int   `yaml:"sample_limit" toml:"sample_limit"`
}

type RedisFileConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
	DB   *int   `yaml:"db" toml:"db"`
}

type WorkerFileConfig struct {
	DefaultQueue    string         `yaml:"default_queue" toml:"default_queue"`
	Queues          map[string]int `yaml:"queues" toml:"queues"`
	Concurrency     *int           `yaml:"concurrency" toml:"concurrency"`
	MaxRetry        *int           `yaml:"max_retry" toml:"max_retry"`
	StageTimeout    string         `yaml:"stage_timeout" toml:"stage_timeout"`
	PatternDir      string         `yaml:"pattern_dir" toml:"pattern_dir"`
	LabelCommand    []string       `yaml:"label_command" toml:"label_command"`
	GenerateCommand []string       `yaml:"generate_command" toml:"generate_command"`
	MetricsAddr     string         `yaml:"metrics_addr" toml:"metrics_addr"`
}

type ReconcileFileConfig struct {
	Schedule string `yaml:"schedule" toml:"schedule"`
	Grace    string `yaml:"grace" toml:"grace"`
	Backfill *bool  `yaml:"backfill" toml:"backfill"`
}

// ResolveConfigPath picks the config file from --config, LABELX_CONFIG or a
// default file name in the working directory. "" means no file.
func ResolveConfigPath(args []string) (string, error) {
	path, ok, err := parseConfigFlag(args)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}
	if env := os.Getenv("LABELX_CONFIG"); env != "" {
		return env, nil
	}
	for _, name := range defaultConfigFilenames {
		if fileExists(name) {
			return name, nil
		}
	}
	return "", nil
}

func LoadFileConfig(path string) (*FileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", filepath.Ext(path))
	}
	return &cfg, nil
}

// ApplyFileConfig overlays the non-empty file values onto cfg.
func ApplyFileConfig(cfg *Config, f *FileConfig) error {
	if f == nil {
		return nil
	}

	setString(&cfg.HTTPAddr, f.API.Addr)
	setString(&cfg.APITitle, f.API.Title)
	setString(&cfg.APIVersion, f.API.Version)
	setString(&cfg.APIDescription, f.API.Description)
	if f.API.SubmitRate != nil {
		cfg.SubmitRate = *f.API.SubmitRate
	}
	setInt(&cfg.SubmitBurst, f.API.SubmitBurst)
	setInt(&cfg.RecentLimit, f.API.RecentLimit)

	setString(&cfg.StateDriver, f.State.Driver)
	setString(&cfg.StateDSN, f.State.DSN)
	setString(&cfg.StateTable, f.State.Table)
	if err := setDuration(&cfg.StoreTimeout, "state.timeout", f.State.Timeout); err != nil {
		return err
	}

	setString(&cfg.WarehouseDriver, f.Warehouse.Driver)
	setString(&cfg.WarehouseDSN, f.Warehouse.DSN)
	setString(&cfg.ResultTablePrefix, f.Warehouse.TablePrefix)
	setInt(&cfg.SampleLimit, f.Warehouse.SampleLimit)

	setString(&cfg.RedisAddr, f.Redis.Addr)
	setInt(&cfg.RedisDB, f.Redis.DB)

	setString(&cfg.DefaultQueue, f.Worker.DefaultQueue)
	if len(f.Worker.Queues) > 0 {
		qs := make(map[string]int, len(f.Worker.Queues))
		for name, w := range f.Worker.Queues {
			if w <= 0 {
				return fmt.Errorf("worker.queues.%s must be positive", name)
			}
			qs[name] = w
		}
		cfg.WorkerQueues = qs
	}
	setInt(&cfg.WorkerConcurrency, f.Worker.Concurrency)
	setInt(&cfg.StageMaxRetry, f.Worker.MaxRetry)
	if err := setDuration(&cfg.StageTimeout, "worker.stage_timeout", f.Worker.StageTimeout); err != nil {
		return err
	}
	setString(&cfg.PatternDir, f.Worker.PatternDir)
	if len(f.Worker.LabelCommand) > 0 {
		cfg.LabelCommand = append([]string{}, f.Worker.LabelCommand...)
	}
	if len(f.Worker.GenerateCommand) > 0 {
		cfg.GenerateCommand = append([]string{}, f.Worker.GenerateCommand...)
	}
	setString(&cfg.WorkerMetricsAddr, f.Worker.MetricsAddr)

	setString(&cfg.ReconcileSchedule, f.Reconcile.Schedule)
	if err := setDuration(&cfg.ReconcileGrace, "reconcile.grace", f.Reconcile.Grace); err != nil {
		return err
	}
	if f.Reconcile.Backfill != nil {
		cfg.ReconcileBackfill = *f.Reconcile.Backfill
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}

func parseConfigFlag(args []string) (string, bool, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 >= len(args) || args[i+1] == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return args[i+1], true, nil
		}
		if strings.HasPrefix(arg, "--config=") {
			value := strings.TrimPrefix(arg, "--config=")
			if value == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return value, true, nil
		}
	}
	return "", false, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
