package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	stderrTailLines = 20
	killWaitDelay   = 5 * time.Second
)

// Command describes one external process invocation.
type Command struct {
	Binary string
	Args   []string
	// OnStdout, when set, receives stdout line by line instead of it being
	// buffered into CommandResult.Stdout.
	OnStdout func(line string)
}

// CommandResult captures what a finished process left behind.
type CommandResult struct {
	Stdout     []byte
	StderrTail string
	ExitCode   int
}

// Runner abstracts process execution so the engine can be tested without
// real binaries.
type Runner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ExecRunner runs commands through os/exec. Cancelling ctx kills the process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, command Command) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, command.Binary, command.Args...)
	cmd.WaitDelay = killWaitDelay

	tail := newTailBuffer(stderrTailLines)
	cmd.Stderr = tail

	var stdout bytes.Buffer
	var pipe io.ReadCloser
	if command.OnStdout != nil {
		var err error
		pipe, err = cmd.StdoutPipe()
		if err != nil {
			return CommandResult{ExitCode: -1}, fmt.Errorf("stdout pipe: %w", err)
		}
	} else {
		cmd.Stdout = &stdout
	}

	if err := cmd.Start(); err != nil {
		return CommandResult{ExitCode: -1}, fmt.Errorf("start %s: %w", command.Binary, err)
	}

	var scanErr error
	if pipe != nil {
		scanner := bufio.NewScanner(pipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				command.OnStdout(line)
			}
		}
		scanErr = scanner.Err()
	}

	err := cmd.Wait()
	result := CommandResult{Stdout: stdout.Bytes(), StderrTail: tail.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, err
	}
	if scanErr != nil {
		return result, fmt.Errorf("read stdout: %w", scanErr)
	}
	return result, nil
}

// tailBuffer keeps the last n non-empty lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{max: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partial = append(t.partial, p...)
	for {
		idx := bytes.IndexAny(t.partial, "\r\n")
		if idx < 0 {
			break
		}
		t.push(string(t.partial[:idx]))
		t.partial = t.partial[idx+1:]
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := append([]string(nil), t.lines...)
	if rest := strings.TrimSpace(string(t.partial)); rest != "" {
		lines = append(lines, rest)
	}
	if len(lines) > t.max {
		lines = lines[len(lines)-t.max:]
	}
	return strings.Join(lines, "\n")
}

// LastLine returns the final line of a stderr tail, which for ffmpeg is
// usually the actual error.
func LastLine(tail string) string {
	tail = strings.TrimSpace(tail)
	if idx := strings.LastIndexByte(tail, '\n'); idx >= 0 {
		return strings.TrimSpace(tail[idx+1:])
	}
	return tail
}
