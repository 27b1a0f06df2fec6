// Package stages runs the label and generate computations as external commands.
//
// The command is invoked as
//
//	<command...> --stage <label|generate> --task-id <id> --payload <json>
//
// and must print one JSON document on stdout. Exit code 0 is success,
// RevokedExitCode marks a deliberate cancellation, anything else is a
// retryable failure.
package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mohans/labelx/labelx"
)

const RevokedExitCode = 3

const (
	defaultMaxOutput = 1 << 20
	waitDelay        = 2 * time.Second
)

// limitedBuffer caps what is kept from a stream; the rest is dropped.
type limitedBuffer struct {
	bytes.Buffer
	cap int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	left := l.cap - l.Len()
	if left <= 0 {
		return len(p), nil
	}
	if len(p) > left {
		l.Buffer.Write(p[:left])
		return len(p), nil
	}
	return l.Buffer.Write(p)
}

// Runner executes one stage command.
type Runner struct {
	Command   []string
	MaxOutput int
}

func NewRunner(command []string, maxOutput int) (*Runner, error) {
	if len(command) == 0 {
		return nil, errors.New("stage command is empty")
	}
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	return &Runner{Command: append([]string{}, command...), MaxOutput: maxOutput}, nil
}

type stageInput struct {
	TaskID string            `json:"task_id"`
	Config labelx.TaskConfig `json:"config"`
	RunIDs []string          `json:"run_ids,omitempty"`
}

// Run executes the command and decodes its stdout into out.
func (r *Runner) Run(ctx context.Context, stage string, in stageInput, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", stage, err)
	}
	args := append([]string{}, r.Command[1:]...)
	args = append(args, "--stage", stage, "--task-id", in.TaskID, "--payload", string(payload))

	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	stdout := &limitedBuffer{cap: r.MaxOutput}
	stderr := &limitedBuffer{cap: r.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children that inherit stdout must not hold Wait open after a kill.
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s stage interrupted: %w", stage, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == RevokedExitCode {
			return fmt.Errorf("%s stage: %w", stage, labelx.ErrStageRevoked)
		}
		return fmt.Errorf("%s stage failed: %w: %s", stage, err, tail(stderr.String(), 512))
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), out); err != nil {
		return fmt.Errorf("parse %s stage output: %w", stage, err)
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Labeler runs the label stage command.
type Labeler struct{ runner *Runner }

func NewLabeler(r *Runner) *Labeler { return &Labeler{runner: r} }

func (l *Labeler) Label(ctx context.Context, taskID string, cfg labelx.TaskConfig) (labelx.LabelResult, error) {
	var res labelx.LabelResult
	err := l.runner.Run(ctx, "label", stageInput{TaskID: taskID, Config: cfg}, &res)
	return res, err
}

// Generator runs the generate stage command.
type Generator struct{ runner *Runner }

func NewGenerator(r *Runner) *Generator { return &Generator{runner: r} }

func (g *Generator) Generate(ctx context.Context, taskID string, cfg labelx.TaskConfig, runIDs []string) (labelx.GenerateResult, error) {
	var res labelx.GenerateResult
	err := g.runner.Run(ctx, "generate", stageInput{TaskID: taskID, Config: cfg, RunIDs: runIDs}, &res)
	return res, err
}

var (
	_ labelx.Labeler   = (*Labeler)(nil)
	_ labelx.Generator = (*Generator)(nil)
)
