package config

import "time"

// Default runtime limits and guardrails for the tradescope MCP server.
// Conservative values; overridable via flags or environment in cmd/server.
// Referenced by internal/runtime and internal/dataset.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 8
	DefaultMaxOpenDatasets       = 4

	// Payload and row limits
	DefaultMaxPayloadBytes = 256 * 1024 // 256KB
	DefaultPreviewRowLimit = 100        // dashboards previewed the first 100 rows
	DefaultMaxExportRows   = 250_000
	DefaultTopProducts     = 50 // concentration_table rows returned by default
)

const (
	// Timeouts and lifecycle
	DefaultOperationTimeout      = 60 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second
	DefaultDatasetIdleTTL        = 30 * time.Minute
	DefaultDatasetCleanupPeriod  = 5 * time.Minute
)
