package main

import (
	"strings"
	"testing"

	"uploadai/internal/status"
)

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("FFmpeg", statusOK, "/usr/bin/ffmpeg", false)
	if !strings.Contains(line, "FFmpeg:") || !strings.Contains(line, "[OK] /usr/bin/ffmpeg") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("expected no color codes, got %q", line)
	}

	colored := renderStatusLine("Remote API", statusError, "connection refused", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
}

func TestRenderSnapshot(t *testing.T) {
	tests := []struct {
		snap status.Snapshot
		want string
	}{
		{status.Snapshot{State: status.StateConverting, Label: "Converting", Progress: 0.42}, "[INFO]  42%"},
		{status.Snapshot{State: status.StateGenerating, Label: "Generating", VideoID: "abc123"}, "video abc123"},
		{status.Snapshot{State: status.StateError, Label: "Error", Stage: "uploading", Message: "boom"}, "[ERROR] uploading: boom"},
		{status.Snapshot{State: status.StateCancelled, Label: "Cancelled", Stage: "converting"}, "[WARN] during converting"},
	}
	for _, tc := range tests {
		got := renderSnapshot(tc.snap, false)
		if !strings.Contains(got, tc.want) {
			t.Errorf("%s: expected %q in %q", tc.snap.State, tc.want, got)
		}
	}
}

func TestPrintSnapshotsBucketsProgress(t *testing.T) {
	updates := make(chan status.Snapshot, 8)
	for _, snap := range []status.Snapshot{
		{State: status.StateWaiting, Label: "Waiting"},
		{State: status.StateConverting, Label: "Converting", Progress: 0},
		{State: status.StateConverting, Label: "Converting", Progress: 0.01},
		{State: status.StateConverting, Label: "Converting", Progress: 0.5},
		{State: status.StateUploading, Label: "Uploading"},
		{State: status.StateUploading, Label: "Uploading"},
	} {
		updates <- snap
	}
	close(updates)

	var out strings.Builder
	printSnapshots(&out, updates, false)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), out.String())
	}
}

func TestRenderTablePadsRows(t *testing.T) {
	rendered := renderTable([]string{"Binary", "Source"}, [][]string{{"ffmpeg"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(rendered, "Binary") || !strings.Contains(rendered, "ffmpeg") {
		t.Fatalf("unexpected table:\n%s", rendered)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty render without headers")
	}
}

func TestShortDigest(t *testing.T) {
	if got := shortDigest("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("unexpected digest %q", got)
	}
	if got := shortDigest(""); got != "-" {
		t.Fatalf("unexpected empty digest %q", got)
	}
}
