package ir

// Version constants for the persisted layout and the binary.
const (
	// SchemaVersion is the on-disk layout version written to PRAGMA user_version.
	SchemaVersion = 1

	// Version is the atomledger release.
	Version = "0.3.0"
)
