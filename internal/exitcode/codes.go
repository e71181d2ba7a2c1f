package exitcode

// Exit codes for the ingest CLI.
// The orchestrator can use these to decide retry strategy.
const (
	// Success - job completed successfully
	Success = 0

	// ConfigError - missing or invalid configuration
	// Don't retry: fix the config first
	ConfigError = 1

	// NetworkError - transient network failure (connection refused, DNS, etc.)
	// Retry with backoff
	NetworkError = 2

	// SyncError - mirroring the run folder into the collection failed
	// Check logs, may need manual intervention
	SyncError = 3

	// StorageError - the remote collection store rejected an operation
	// Retry with backoff
	StorageError = 4

	// DataError - manifest mismatch or unparseable run folder data
	// Don't retry: investigate the data
	DataError = 5
)
