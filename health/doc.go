// Package health checks the external dependencies of a classification run:
// the search binary, the taxonomy dumps, the per-family search databases
// and the optional Redis cache.
//
// Every check returns a Status. Combine folds several into one:
//
//   - Unhealthy: If any check is unhealthy, the combined result is unhealthy
//   - Degraded: If any check is degraded (and none unhealthy), the result is degraded
//   - Healthy: If all checks are healthy, the result is healthy
//
// # Usage Example
//
//	overall := health.Combine(
//	    health.BinaryVersionCheck(ctx, "blastp", "2.9.0", "-version"),
//	    health.TaxonomyCheck("/data/taxdump"),
//	    health.DatabaseCheck("/data/markers", collection.Profile()),
//	)
//	if overall.IsUnhealthy() {
//	    log.Printf("Health check failed: %s", overall.Message)
//	}
//
// # Version Comparison
//
// BinaryVersionCheck compares dotted versions numerically on each segment
// and accepts output such as "blastp: 2.12.0+" or "v1.4".
package health
