package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pythseq/compleconta/health"
)

// minBlastVersion is the oldest blastp known to write the tabular format
// the search reader expects.
const minBlastVersion = "2.2.31"

func (a *app) doctorCmd() *cobra.Command {
	var (
		databaseDir string
		binary      string
		redisURL    string
		families    []string
	)
	cmd := &cobra.Command{
		Use:         "doctor",
		Short:       "Check the configuration, taxonomy, search binary and databases",
		Args:        args(cobra.NoArgs),
		Annotations: map[string]string{reportsConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("database-dir") {
				a.cfg.DatabaseDir = databaseDir
			}
			bin := a.cfg.Search.GetBinary()
			if cmd.Flags().Changed("blast") {
				bin = binary
			}
			url := ""
			if a.cfg.Cache.Enabled() {
				url = a.cfg.Cache.RedisURL
			}
			if cmd.Flags().Changed("redis-url") {
				url = redisURL
			}

			checks := []health.Check{
				{Name: "config", Status: configStatus(a.cfg.Validate())},
				{Name: "taxonomy", Status: health.TaxonomyCheck(a.cfg.TaxonomyDir)},
				{Name: "blastp", Status: health.BinaryVersionCheck(cmd.Context(), bin, minBlastVersion, "-version")},
				{Name: "databases", Status: databaseStatus(a.cfg.DatabaseDir, families)},
				{Name: "cache", Status: health.CacheCheck(cmd.Context(), url)},
			}
			if err := a.writeChecks(checks); err != nil {
				return err
			}

			statuses := make([]health.Status, len(checks))
			for i, c := range checks {
				statuses[i] = c.Status
			}
			if overall := health.Combine(statuses...); overall.IsUnhealthy() {
				return fmt.Errorf("doctor: %s", overall.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseDir, "database-dir", "", "directory holding the family search databases")
	cmd.Flags().StringVar(&binary, "blast", "", "blastp executable")
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL of the candidate cache")
	cmd.Flags().StringSliceVar(&families, "families", nil, "marker families whose databases must exist (default: any *.fa)")
	return cmd
}

func configStatus(err error) health.Status {
	if err != nil {
		return health.Unhealthy("configuration is invalid", map[string]any{"error": err.Error()})
	}
	return health.Healthy("configuration is valid")
}

// databaseStatus checks the named families, or any database at all when
// none are named.
func databaseStatus(dir string, families []string) health.Status {
	if dir == "" {
		return health.Unhealthy("database directory not set", nil)
	}
	if len(families) > 0 {
		return health.DatabaseCheck(dir, families)
	}
	found, err := filepath.Glob(filepath.Join(dir, "*.fa"))
	if err != nil || len(found) == 0 {
		return health.Unhealthy(fmt.Sprintf("no *.fa databases in '%s'", dir), map[string]any{"dir": dir})
	}
	names := make([]string, len(found))
	for i, p := range found {
		names[i] = strings.TrimSuffix(filepath.Base(p), ".fa")
	}
	return health.DatabaseCheck(dir, names)
}

func (a *app) writeChecks(checks []health.Check) error {
	if a.format == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(checks)
	}
	w := bufio.NewWriter(a.stdout)
	for _, c := range checks {
		fmt.Fprintf(w, "%-10s %-9s %s\n", c.Name, c.Status.Status, c.Status.Message)
	}
	return w.Flush()
}
