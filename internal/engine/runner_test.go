package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecRunnerStreamsStdoutAndKeepsStderrTail(t *testing.T) {
	var lines []string
	result, err := ExecRunner{}.Run(context.Background(), Command{
		Binary:   "sh",
		Args:     []string{"-c", "echo out_time_ms=100; echo progress=end; echo warn >&2; echo fatal >&2; exit 3"},
		OnStdout: func(line string) { lines = append(lines, line) },
	})
	if err == nil {
		t.Fatal("expected exit error")
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if strings.Join(lines, ",") != "out_time_ms=100,progress=end" {
		t.Fatalf("unexpected stdout lines %v", lines)
	}
	if LastLine(result.StderrTail) != "fatal" {
		t.Fatalf("unexpected stderr tail %q", result.StderrTail)
	}
}

func TestExecRunnerBuffersStdout(t *testing.T) {
	result, err := ExecRunner{}.Run(context.Background(), Command{Binary: "sh", Args: []string{"-c", "printf hello"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(result.Stdout) != "hello" {
		t.Fatalf("unexpected stdout %q", result.Stdout)
	}
}

func TestExecRunnerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExecRunner{}.Run(ctx, Command{Binary: "sh", Args: []string{"-c", "sleep 5"}})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) && !strings.Contains(err.Error(), "context canceled") {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	tail := newTailBuffer(2)
	_, _ = tail.Write([]byte("one\ntwo\r\nthr"))
	_, _ = tail.Write([]byte("ee\n\nfour"))
	if got := tail.String(); got != "three\nfour" {
		t.Fatalf("unexpected tail %q", got)
	}
	if LastLine("a\nb\n") != "b" || LastLine("") != "" {
		t.Fatal("LastLine mismatch")
	}
}
