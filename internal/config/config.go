package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkspaceDir string `toml:"workspace_dir"`
	CacheDir     string `toml:"cache_dir"`
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
}

// Engine contains configuration for the local codec engine. The core is the
// ffmpeg binary and the probe is ffprobe. Empty paths fall back to PATH
// lookup and then to the download URLs, when set.
type Engine struct {
	FFmpegPath   string `toml:"ffmpeg_path"`
	FFprobePath  string `toml:"ffprobe_path"`
	CoreURL      string `toml:"core_url"`
	ProbeURL     string `toml:"probe_url"`
	FetchTimeout int    `toml:"fetch_timeout"`
	MinFreeMB    int    `toml:"min_free_mb"`
}

// API contains configuration for the remote upload and transcription service.
type API struct {
	BaseURL              string `toml:"base_url"`
	UploadTimeout        int    `toml:"upload_timeout"`
	TranscriptionTimeout int    `toml:"transcription_timeout"`
	RetryAttempts        int    `toml:"retry_attempts"`
}

// Server contains configuration for the local control server.
type Server struct {
	Bind        string `toml:"bind"`
	MaxUploadMB int    `toml:"max_upload_mb"`
	Advertise   bool   `toml:"advertise"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Transcription  bool   `toml:"transcription"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for uploadai.
//
// Configuration sections by subsystem:
//   - Paths: engine workspace, download cache, lock/state and log directories
//   - Engine: ffmpeg/ffprobe resolution and download settings
//   - API: remote upload/transcription endpoint, timeouts and retries
//   - Server: local control server bind address and limits
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Engine        Engine        `toml:"engine"`
	API           API           `toml:"api"`
	Server        Server        `toml:"server"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("uploadai.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the engine and daemon write to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceDir, c.Paths.CacheDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the configured core binary, or the bare executable
// name when none is configured.
func (c *Config) FFmpegBinary() string {
	if path := strings.TrimSpace(c.Engine.FFmpegPath); path != "" {
		return path
	}
	return "ffmpeg"
}

// FFprobeBinary returns the configured probe binary, or the bare executable
// name when none is configured.
func (c *Config) FFprobeBinary() string {
	if path := strings.TrimSpace(c.Engine.FFprobePath); path != "" {
		return path
	}
	return "ffprobe"
}

// LockPath returns the single-instance lock file used by the control server.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "uploadai.lock")
}

// UploadTimeout bounds a single upload request.
func (c *Config) UploadTimeout() time.Duration {
	return seconds(c.API.UploadTimeout, defaultUploadTimeout)
}

// TranscriptionTimeout bounds a single transcription request.
func (c *Config) TranscriptionTimeout() time.Duration {
	return seconds(c.API.TranscriptionTimeout, defaultTranscriptionTimeout)
}

// FetchTimeout bounds downloading one engine resource.
func (c *Config) FetchTimeout() time.Duration {
	return seconds(c.Engine.FetchTimeout, defaultFetchTimeout)
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "uploadai")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/uploadai"
	}
	return filepath.Join(home, ".cache", "uploadai")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
