package domain

// RefreshKind identifies which reconciliation path a pass took.
// Corresponds to refresh_log.kind in ClickHouse.
type RefreshKind string

const (
	// RefreshFull is a full metadata reconciliation (token count grew).
	RefreshFull RefreshKind = "full"
	// RefreshIDs is an id-only refresh (token count stable).
	RefreshIDs RefreshKind = "ids"
)

// RefreshRecord is the audit record of one reconciliation pass.
// Corresponds to one row of the refresh_log table in ClickHouse.
type RefreshRecord struct {
	NetworkID    uint64
	Kind         RefreshKind
	TokensBefore int
	TokensAfter  int
	Added        int
	Removed      int
	Failed       int
	DurationMs   int64
	Error        string // empty on success
	Timestamp    int64  // Unix timestamp in milliseconds
}
