package config

import (
	"flag"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKER_QUEUES", "")
	t.Setenv("STAGE_TIMEOUT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateDriver != "sqlite" || cfg.StateTable != "state" {
		t.Fatalf("unexpected state defaults: %s %s", cfg.StateDriver, cfg.StateTable)
	}
	if cfg.ResultTablePrefix != "wh_panel_mapping_" || cfg.SampleLimit != 10 {
		t.Fatalf("unexpected warehouse defaults: %s %d", cfg.ResultTablePrefix, cfg.SampleLimit)
	}
	if cfg.WorkerQueues["default"] != 1 || cfg.StageTimeout != 30*time.Minute {
		t.Fatalf("unexpected worker defaults: %v %s", cfg.WorkerQueues, cfg.StageTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STATE_DRIVER", "pgx")
	t.Setenv("WORKER_QUEUES", "high:6, default:3,low")
	t.Setenv("STAGE_MAX_RETRY", "0")
	t.Setenv("LABEL_COMMAND", "python3 -m labeler")
	t.Setenv("RECONCILE_BACKFILL", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateDriver != "pgx" || cfg.StageMaxRetry != 0 || cfg.ReconcileBackfill {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.WorkerQueues["high"] != 6 || cfg.WorkerQueues["default"] != 3 || cfg.WorkerQueues["low"] != 1 {
		t.Fatalf("unexpected queues: %v", cfg.WorkerQueues)
	}
	if len(cfg.LabelCommand) != 3 || cfg.LabelCommand[0] != "python3" {
		t.Fatalf("unexpected label command: %v", cfg.LabelCommand)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SAMPLE_LIMIT", "ten")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric SAMPLE_LIMIT")
	}
}

func TestParseQueues(t *testing.T) {
	if _, err := ParseQueues("a:0"); err == nil {
		t.Fatal("zero weight should be rejected")
	}
	if _, err := ParseQueues(" , "); err == nil {
		t.Fatal("empty queue list should be rejected")
	}
}

func TestBindFlagsOverrides(t *testing.T) {
	cfg := &Config{DefaultQueue: "default", WorkerConcurrency: 10}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"--queue", "q1", "--concurrency", "4", "--config", "x.yaml"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DefaultQueue != "q1" || cfg.WorkerConcurrency != 4 {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}
