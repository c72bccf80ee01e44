// Package producers implements the background tasks that feed the
// ingest queue: a clipboard poller, a browser history poller, a
// filesystem watcher, a keystroke tap, and the terminal-command
// buffer backing the HTTP surface's /terminal/cmd handler
// (spec.md §4.8).
package producers

import (
	"context"

	"soulagent/internal/types"
)

// Sink is anything a producer can push a raw ingest item into. The
// queue satisfies this without producers needing to import it
// directly.
type Sink interface {
	Put(item types.IngestItem) bool
}

// Producer is the common shape every background source implements
// (spec.md §5: each runs on its own task with a dedicated stop flag).
type Producer interface {
	// Run blocks until ctx is canceled, pushing items into its sink as
	// they're observed.
	Run(ctx context.Context)
	// Name identifies the producer for logging and status reporting.
	Name() string
}
