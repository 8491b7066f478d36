package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/logging"
)

const (
	maxLineBytes    = 16 << 20
	stderrTailBytes = 512
	// waitDelay bounds how long Wait blocks on output pipes held open by
	// grandchildren after the provider process is killed.
	waitDelay = 2 * time.Second
)

// taskRequest is written to the provider process's stdin.
type taskRequest struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// CommandWorker runs one provider process per call in the workspace. The
// task is written to stdin as JSON. The output is the "result" field of the
// last {"type":"result"} line when the process speaks JSON lines, otherwise
// all of stdout.
//
// Every call of a consensus batch runs in the same workspace, so file writes
// from losing candidates are not undone when the winner is picked. Only the
// returned output is voted on; the workspace keeps the union of all writes
// until the scheduler commits or rolls back the wave. Providers that edit
// files should report the edit as output and leave the tree alone.
type CommandWorker struct {
	spec         ProviderSpec
	dir          string
	startRetries uint64
	logger       *logging.Logger
}

// NewCommandWorker validates spec and creates a CommandWorker.
func NewCommandWorker(spec ProviderSpec, opts BuildOptions) (*CommandWorker, error) {
	if spec.Command == "" {
		return nil, domain.NewEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("provider %s: command is empty", spec.Name))
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CommandWorker{
		spec:         spec,
		dir:          opts.Dir,
		startRetries: opts.StartRetries,
		logger:       logger,
	}, nil
}

// Execute implements domain.WorkerPort. Failures to start the process are
// retried with exponential backoff; a process that ran and failed is not.
func (w *CommandWorker) Execute(ctx context.Context, task domain.Task) (domain.CandidateOutput, error) {
	payload, err := json.Marshal(taskRequest{ID: task.ID, Description: task.Description, DependsOn: task.DependsOn})
	if err != nil {
		return domain.CandidateOutput{}, fmt.Errorf("encode task: %w", err)
	}

	var stdout, stderr bytes.Buffer
	run := func() error {
		stdout.Reset()
		stderr.Reset()

		cmd := exec.CommandContext(ctx, w.spec.Command, w.spec.Args...)
		cmd.Dir = w.dir
		cmd.WaitDelay = waitDelay
		cmd.Env = os.Environ()
		for k, v := range w.spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		cmd.Stdin = bytes.NewReader(payload)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", w.spec.Command, err)
		}
		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return backoff.Permanent(domain.NewEngineError(domain.ErrWorkerFailed.Code,
				fmt.Sprintf("%s: %s: %v: %s", domain.ErrWorkerFailed.Message, w.spec.Name, err, tail(stderr.String()))))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.startRetries), ctx)
	notify := func(err error, next time.Duration) {
		w.logger.Warn(ctx, "provider start failed, retrying",
			zap.String("provider", w.spec.Name), zap.Duration("next", next), zap.Error(err))
	}
	if err := backoff.RetryNotify(run, b, notify); err != nil {
		return domain.CandidateOutput{}, err
	}

	raw, err := extractResult(stdout.Bytes())
	if err != nil {
		return domain.CandidateOutput{}, domain.NewEngineError(domain.ErrWorkerFailed.Code,
			fmt.Sprintf("%s: %s: %v", domain.ErrWorkerFailed.Message, w.spec.Name, err))
	}
	return domain.CandidateOutput{Raw: raw}, nil
}

// event is one JSON line emitted by a provider.
type event struct {
	Type   string `json:"type"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// extractResult picks the output from stdout. Lines that are not JSON
// objects with a type are ignored when looking for events.
func extractResult(stdout []byte) (string, error) {
	var last *event
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			continue
		}
		switch ev.Type {
		case "result", "error":
			last = &ev
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read output: %w", err)
	}
	if last == nil {
		return string(stdout), nil
	}
	if last.Type == "error" {
		return "", fmt.Errorf("provider reported error: %s", last.Error)
	}
	return last.Result, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		return "..." + s[len(s)-stderrTailBytes:]
	}
	return s
}
