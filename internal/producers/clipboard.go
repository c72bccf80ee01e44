package producers

import (
	"context"
	"time"

	"github.com/atotto/clipboard"

	"soulagent/internal/logging"
	"soulagent/internal/types"
)

// clipboardPollInterval matches spec.md §4.8.
const clipboardPollInterval = 3 * time.Second

// maxClipboardLength truncates absurdly large clipboard payloads
// (spec.md §4.8: "strip if length > 10_000").
const maxClipboardLength = 10_000

// clipboardReader is satisfied by clipboard.ReadAll, injected for tests.
type clipboardReader func() (string, error)

// Clipboard polls the platform clipboard and emits a note-like item
// whenever the content changes and is non-empty.
type Clipboard struct {
	sink   Sink
	read   clipboardReader
	logger logging.Logger
	now    func() time.Time

	last string
}

// NewClipboard constructs a Clipboard producer backed by the real
// platform clipboard.
func NewClipboard(sink Sink, logger logging.Logger) *Clipboard {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Clipboard{sink: sink, read: clipboard.ReadAll, logger: logger, now: time.Now}
}

func (c *Clipboard) Name() string { return "clipboard" }

// Run polls until ctx is canceled.
func (c *Clipboard) Run(ctx context.Context) {
	ticker := time.NewTicker(clipboardPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *Clipboard) poll() {
	text, err := c.read()
	if err != nil {
		// Platform clipboard access can fail transiently (e.g. no
		// display server); degrade silently like the keystroke tap.
		c.logger.Debug("clipboard: read failed", logging.F("error", err))
		return
	}
	if len(text) > maxClipboardLength {
		text = text[:maxClipboardLength]
	}
	if text == "" || text == c.last {
		return
	}
	c.last = text
	c.sink.Put(types.NewClipboardItem(text, c.now()))
}
