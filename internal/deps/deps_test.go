package deps

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckBinariesFindsExecutable(t *testing.T) {
	present := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{
		{Name: "FFmpeg", Command: present},
		{Name: "Missing", Command: "uploadai-no-such-binary"},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("expected available ffmpeg, got %#v", results[0])
	}
	if results[1].Satisfied() {
		t.Fatalf("expected missing binary to block, got %#v", results[1])
	}
}

func TestCheckStatuses(t *testing.T) {
	missing := func(string) (string, error) { return "", errors.New("not found") }
	found := func(cmd string) (string, error) { return "/opt/bin/" + cmd, nil }

	tests := []struct {
		name          string
		req           Requirement
		lookup        LookupFunc
		wantSatisfied bool
		wantFetchable bool
		wantDetail    string
	}{
		{"found", Requirement{Name: "FFprobe", Command: "ffprobe"}, found, true, false, ""},
		{"fetchable", Requirement{Name: "FFmpeg", Command: "ffmpeg", FallbackURL: "https://example.test/ffmpeg"}, missing, true, true, "https://example.test/ffmpeg"},
		{"optional", Requirement{Name: "FFprobe", Command: "ffprobe", Optional: true}, missing, true, false, "not found"},
		{"blocking", Requirement{Name: "FFmpeg", Command: "ffmpeg"}, missing, false, false, `"ffmpeg" not found`},
		{"blank command", Requirement{Name: "FFmpeg", Command: "  "}, found, false, false, "command not configured"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := check(tc.req, tc.lookup)
			if st.Satisfied() != tc.wantSatisfied {
				t.Fatalf("Satisfied() = %v, want %v (%#v)", st.Satisfied(), tc.wantSatisfied, st)
			}
			if st.Fetchable != tc.wantFetchable {
				t.Fatalf("Fetchable = %v, want %v", st.Fetchable, tc.wantFetchable)
			}
			if tc.wantDetail == "" && st.Detail != "" || !strings.Contains(st.Detail, tc.wantDetail) {
				t.Fatalf("unexpected detail %q", st.Detail)
			}
		})
	}
}
