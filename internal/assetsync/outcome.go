package assetsync

import "github.com/keithlinneman/linnemanlabs-profile/internal/mapping"

type Status string

const (
	// StatusChanged means the destination was created or rewritten.
	StatusChanged Status = "changed"
	// StatusUnchanged means the fetched bytes matched the file on disk.
	StatusUnchanged Status = "unchanged"
	// StatusSkipped means the entry was never fetched or written: it was
	// invalid or its destination was already claimed.
	StatusSkipped Status = "skipped"
	// StatusFailed means fetching or writing went wrong.
	StatusFailed Status = "failed"
)

// Outcome records what happened to one entry.
type Outcome struct {
	Entry mapping.Entry
	// Path is the resolved repository-relative destination, empty when the
	// entry never got that far
	Path   string
	Ext    string
	Status Status
	Bytes  int
	Err    error
}
