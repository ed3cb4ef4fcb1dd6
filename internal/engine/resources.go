package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"uploadai/internal/fileutil"
	"uploadai/internal/logging"
	"uploadai/internal/services"
)

// Resource names one engine binary and where it may come from.
type Resource struct {
	// Name is the executable name looked up on PATH ("ffmpeg", "ffprobe").
	Name string
	// Configured is an explicit path or executable name from configuration.
	Configured string
	// URL, when set, is downloaded into the cache directory as a last resort.
	URL string
}

// ResolvedResource reports where a resource was found.
type ResolvedResource struct {
	Name   string
	Path   string
	Source string // configured, path, cache or download
	SHA256 string
}

// resolve follows configured path, PATH lookup, then download.
func (c *Client) resolve(ctx context.Context, res Resource) (ResolvedResource, error) {
	configured := strings.TrimSpace(res.Configured)
	if configured != "" && strings.ContainsRune(configured, filepath.Separator) {
		if err := checkExecutable(configured); err != nil {
			return ResolvedResource{}, services.WithHint(
				services.Wrap(services.ErrEngineLoad, "engine", "resolve "+res.Name, "configured binary unusable", err),
				"Fix engine."+res.Name+"_path in the config file",
			)
		}
		return ResolvedResource{Name: res.Name, Path: configured, Source: "configured"}, nil
	}

	lookup := res.Name
	if configured != "" {
		lookup = configured
	}
	if path, err := c.lookPath(lookup); err == nil {
		return ResolvedResource{Name: res.Name, Path: path, Source: "path"}, nil
	}

	if strings.TrimSpace(res.URL) == "" {
		return ResolvedResource{}, services.WithHint(
			services.Wrap(services.ErrEngineLoad, "engine", "resolve "+res.Name, fmt.Sprintf("%s not found on PATH", lookup), nil),
			"Install ffmpeg or set engine.core_url/engine.probe_url",
		)
	}
	return c.fetch(ctx, res)
}

func (c *Client) cachedPath(name string) string {
	return filepath.Join(c.opts.CacheDir, "bin", name)
}

// fetch downloads res.URL into the cache directory. A binary already present
// in the cache from an earlier process is reused.
func (c *Client) fetch(ctx context.Context, res Resource) (ResolvedResource, error) {
	dst := c.cachedPath(res.Name)
	if checkExecutable(dst) == nil {
		return ResolvedResource{Name: res.Name, Path: dst, Source: "cache"}, nil
	}
	if strings.TrimSpace(c.opts.CacheDir) == "" {
		return ResolvedResource{}, services.Wrap(services.ErrEngineLoad, "engine", "fetch "+res.Name, "cache directory not configured", nil)
	}

	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return ResolvedResource{}, services.Wrap(services.ErrEngineLoad, "engine", "fetch "+res.Name, "build request", err)
	}
	c.logger.Info("downloading engine resource",
		logging.String(logging.FieldEventType, "engine_fetch"),
		logging.String("resource", res.Name),
		logging.String("url", res.URL),
	)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", services.ErrTimeout, err)
		}
		return ResolvedResource{}, services.Wrap(services.ErrEngineLoad, "engine", "fetch "+res.Name, "download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ResolvedResource{}, services.Wrap(services.ErrEngineLoad, "engine", "fetch "+res.Name,
			fmt.Sprintf("download returned HTTP %d", resp.StatusCode), nil)
	}

	written, sum, err := fileutil.WriteAtomic(dst, resp.Body, 0o755)
	if err != nil {
		return ResolvedResource{}, services.Wrap(services.ErrEngineLoad, "engine", "fetch "+res.Name, "write cache", err)
	}
	if written == 0 {
		_ = os.Remove(dst)
		return ResolvedResource{}, services.Wrap(services.ErrEngineLoad, "engine", "fetch "+res.Name, "download was empty", nil)
	}
	c.logger.Info("engine resource cached",
		logging.String(logging.FieldEventType, "engine_fetch_complete"),
		logging.String("resource", res.Name),
		logging.String("path", dst),
		logging.Int64("bytes", written),
		logging.String("sha256", sum),
	)
	return ResolvedResource{Name: res.Name, Path: dst, Source: "download", SHA256: sum}, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
