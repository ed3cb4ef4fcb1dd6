package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"uploadai/internal/config"
	"uploadai/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	api        *fakeAPI
}

type fakeAPI struct {
	mu      sync.Mutex
	uploads int
	prompt  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/videos":
		f.uploads++
		_, _ = w.Write([]byte(`{"video":{"id":"abc123"}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/videos/abc123/transcription":
		data, _ := io.ReadAll(r.Body)
		f.prompt = string(data)
		_, _ = w.Write([]byte(`{}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) snapshot() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.prompt
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("UPLOADAI_API_URL", "")
	t.Setenv("UPLOADAI_NTFY_TOPIC", "")

	api := &fakeAPI{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithStubbedEngine(),
		testsupport.WithAPIURL(server.URL),
	)
	cfg.Engine.MinFreeMB = 1
	cfg.Paths.LogDir = ""

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config", "uploadai.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, api: api}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}
