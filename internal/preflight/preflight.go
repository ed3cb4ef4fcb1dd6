package preflight

import (
	"context"
	"strings"

	"uploadai/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config: engine
// binaries, workspace and cache directories, free space and the remote API.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, status := range CheckSystemDeps(cfg) {
		detail := status.Detail
		if status.Available {
			detail = status.Path
		}
		results = append(results, Result{Name: status.Name, Passed: status.Satisfied(), Detail: detail})
	}

	results = append(results, CheckDirectoryAccess("Workspace directory", cfg.Paths.WorkspaceDir))
	results = append(results, CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir))
	results = append(results, CheckFreeSpace("Workspace free space", cfg.Paths.WorkspaceDir, cfg.Engine.MinFreeMB))

	if strings.TrimSpace(cfg.API.BaseURL) != "" {
		results = append(results, CheckAPI(ctx, cfg.API.BaseURL))
	} else {
		results = append(results, Result{Name: "Remote API", Detail: "api.base_url not configured"})
	}

	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
