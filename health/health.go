package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pythseq/compleconta/exec"
	"github.com/pythseq/compleconta/search"
	"github.com/pythseq/compleconta/taxonomy"
)

// versionTimeout bounds the run of "<binary> -version".
const versionTimeout = 5 * time.Second

// BinaryCheck verifies that a binary exists and is executable. name may
// be a bare command looked up in PATH or a path.
//
//	status := health.BinaryCheck("blastp")
//	if status.IsUnhealthy() {
//	    log.Fatal("blastp is required but not installed")
//	}
func BinaryCheck(name string) Status {
	if name == "" {
		return Unhealthy("binary name cannot be empty", nil)
	}

	path, err := exec.BinaryPath(name)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("binary '%s' not found", name),
			map[string]any{
				"binary": name,
				"error":  err.Error(),
			},
		)
	}

	return Healthy(fmt.Sprintf("binary '%s' found at %s", name, path))
}

// BinaryVersionCheck verifies that a binary runs and reports a version of
// at least minVersion when called with versionFlag ("-version" if empty).
// An empty minVersion accepts any version. Output without a recognisable
// version is degraded, not unhealthy.
//
//	status := health.BinaryVersionCheck(ctx, "blastp", "2.9.0", "-version")
func BinaryVersionCheck(ctx context.Context, name, minVersion, versionFlag string) Status {
	if s := BinaryCheck(name); s.IsUnhealthy() {
		return s
	}
	if versionFlag == "" {
		versionFlag = "-version"
	}

	res, err := exec.Run(ctx, exec.Config{
		Command: name,
		Args:    []string{versionFlag},
		Timeout: versionTimeout,
	})
	if err == nil {
		err = res.ExitError()
	}
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("failed to get version for '%s'", name),
			map[string]any{
				"binary": name,
				"error":  err.Error(),
			},
		)
	}

	output := string(res.Stdout) + string(res.Stderr)
	version := parseVersion(output)
	if version == "" {
		return Degraded(
			fmt.Sprintf("could not parse version from '%s' output", name),
			map[string]any{
				"binary": name,
				"output": strings.TrimSpace(output),
			},
		)
	}

	if minVersion != "" && !versionMeetsMinimum(version, minVersion) {
		return Unhealthy(
			fmt.Sprintf("binary '%s' version %s does not meet minimum requirement %s", name, version, minVersion),
			map[string]any{
				"binary":      name,
				"version":     version,
				"min_version": minVersion,
			},
		)
	}

	return Status{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("binary '%s' version %s", name, version),
		Details: map[string]any{"version": version},
	}
}

// FileCheck verifies that a file or directory exists at the specified path.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Unhealthy(
				fmt.Sprintf("path '%s' does not exist", path),
				map[string]any{"path": path},
			)
		}
		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{
				"path":  path,
				"error": err.Error(),
			},
		)
	}

	fileType := "file"
	if info.IsDir() {
		fileType = "directory"
	}
	return Healthy(fmt.Sprintf("%s '%s' exists", fileType, path))
}

// TaxonomyCheck verifies that dir holds both taxonomy dumps, plain or
// gzip-compressed. It does not parse them.
func TaxonomyCheck(dir string) Status {
	if s := FileCheck(dir); s.IsUnhealthy() {
		return s
	}

	var missing []string
	for _, name := range []string{taxonomy.NamesFile, taxonomy.NodesFile} {
		p := filepath.Join(dir, name)
		if FileCheck(p).IsHealthy() || FileCheck(p+".gz").IsHealthy() {
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) > 0 {
		return Unhealthy(
			fmt.Sprintf("taxonomy dir '%s' is missing %s", dir, strings.Join(missing, ", ")),
			map[string]any{"dir": dir, "missing": missing},
		)
	}
	return Healthy(fmt.Sprintf("taxonomy dumps found in '%s'", dir))
}

// DatabaseCheck verifies that dir holds a search database for every
// family. A database counts as present when either the FASTA file or its
// makeblastdb index exists. Missing databases make the check degraded:
// classification still runs, with failed lookups for those families.
func DatabaseCheck(dir string, families []string) Status {
	if s := FileCheck(dir); s.IsUnhealthy() {
		return s
	}

	var missing []string
	for _, fam := range families {
		db := filepath.Join(dir, fam+search.DatabaseSuffix)
		if FileCheck(db).IsHealthy() || FileCheck(db+".pin").IsHealthy() || FileCheck(db+".pal").IsHealthy() {
			continue
		}
		missing = append(missing, fam)
	}

	switch {
	case len(families) > 0 && len(missing) == len(families):
		return Unhealthy(
			fmt.Sprintf("no family databases found in '%s'", dir),
			map[string]any{"dir": dir, "missing": missing},
		)
	case len(missing) > 0:
		return Degraded(
			fmt.Sprintf("%d of %d family databases missing in '%s'", len(missing), len(families), dir),
			map[string]any{"dir": dir, "missing": missing},
		)
	}
	return Healthy(fmt.Sprintf("%d family databases found in '%s'", len(families), dir))
}

// CacheCheck verifies that the Redis candidate cache at url answers a
// ping. An unreachable cache is degraded: lookups then run uncached.
func CacheCheck(ctx context.Context, url string) Status {
	if url == "" {
		return Healthy("candidate cache disabled")
	}
	cache, err := search.NewRedisCache(search.RedisOptions{URL: url, ConnectTimeout: versionTimeout})
	if err != nil {
		return Degraded(
			"candidate cache unreachable",
			map[string]any{"error": err.Error()},
		)
	}
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		return Degraded(
			"candidate cache unreachable",
			map[string]any{"error": err.Error()},
		)
	}
	return Healthy("candidate cache reachable")
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthyCount,
				"failed_checks": unhealthy,
			},
		)
	}

	if len(degraded) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degraded),
				"healthy":         healthyCount,
				"degraded_checks": degraded,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}

// parseVersion extracts a version string from command output, e.g.
// "2.12.0" from "blastp: 2.12.0+".
func parseVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		for _, field := range strings.Fields(line) {
			field = strings.TrimPrefix(field, "v")
			field = strings.TrimPrefix(field, "V")

			if strings.Contains(field, ".") && containsDigit(field) {
				if version := extractVersionNumber(field); version != "" {
					return version
				}
			}
		}
	}
	return ""
}

func containsDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// extractVersionNumber extracts a major.minor[.patch] prefix from s.
func extractVersionNumber(s string) string {
	var version strings.Builder
	dotCount := 0

	for i, c := range s {
		switch {
		case c >= '0' && c <= '9':
			version.WriteRune(c)
		case c == '.' && dotCount < 2 && i > 0 && version.Len() > 0:
			version.WriteRune(c)
			dotCount++
		case version.Len() > 0:
			return trimVersion(version.String())
		}
	}
	return trimVersion(version.String())
}

func trimVersion(v string) string {
	v = strings.TrimSuffix(v, ".")
	if strings.Contains(v, ".") && len(v) > 2 {
		return v
	}
	return ""
}

// versionMeetsMinimum compares dotted versions numerically.
func versionMeetsMinimum(version, minVersion string) bool {
	vParts := strings.Split(version, ".")
	minParts := strings.Split(minVersion, ".")

	for i := range max(len(vParts), len(minParts)) {
		var v, m int
		if i < len(vParts) {
			v, _ = strconv.Atoi(strings.TrimSpace(vParts[i]))
		}
		if i < len(minParts) {
			m, _ = strconv.Atoi(strings.TrimSpace(minParts[i]))
		}
		if v != m {
			return v > m
		}
	}
	return true
}
