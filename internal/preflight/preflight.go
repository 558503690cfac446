package preflight

import (
	"fmt"
	"strings"

	"hush/internal/config"
	"hush/internal/deps"
	"hush/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the tool and staging checks for the given config.
// inputBytes sizes the free-space requirement; pass 0 to skip it.
func RunAll(cfg *config.Config, inputBytes int64) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Path}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	if inputBytes > 0 {
		results = append(results, CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, RequiredSpace(inputBytes)))
	}
	return results
}

// Verify runs RunAll and converts any failed check into a configuration error.
func Verify(cfg *config.Config, inputBytes int64) error {
	var failed []string
	for _, result := range RunAll(cfg, inputBytes) {
		if !result.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "verify", strings.Join(failed, "; "), nil)
}
