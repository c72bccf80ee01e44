package producers

import (
	"context"
	"strings"
	"time"

	"soulagent/internal/logging"
	"soulagent/internal/types"
)

// keystrokeIdleFlush is how long the buffer must sit untouched before
// it's flushed (spec.md §4.8).
const keystrokeIdleFlush = 5 * time.Second

// minKeystrokeFlushLength is the minimum buffered length worth emitting.
const minKeystrokeFlushLength = 10

// KeyEvent is one observed keystroke, as reported by a KeySource.
type KeyEvent struct {
	Char          rune
	FrontmostApp  string // bundle identifier of the focused application
	FieldIsSecure bool   // true when the OS reports the focused field as a password field
}

// KeySource abstracts the platform-specific, permission-gated keyboard
// tap. spec.md treats the actual OS event source as opaque platform
// code outside our control; cmd/soulagentd wires
// NoPermissionKeySource here (no OS tap ships in this repository),
// tests wire a channel.
type KeySource interface {
	// Events returns a channel of key events. It may be closed at any
	// time (e.g. the OS revoked permission) — the producer degrades
	// silently rather than erroring.
	Events() <-chan KeyEvent
}

// Keystroke buffers characters from a KeySource and flushes them as
// input-method items, suppressing dedicated apps and secure fields
// (spec.md §4.8).
type Keystroke struct {
	source        KeySource
	sink          Sink
	dedicatedApps map[string]bool
	logger        logging.Logger
	now           func() time.Time
}

// NewKeystroke constructs a Keystroke producer. dedicatedApps names
// bundle identifiers (terminal apps, tool clients) whose focus
// suppresses capture.
func NewKeystroke(source KeySource, sink Sink, dedicatedApps []string, logger logging.Logger) *Keystroke {
	if logger == nil {
		logger = logging.Nop()
	}
	set := make(map[string]bool, len(dedicatedApps))
	for _, app := range dedicatedApps {
		set[app] = true
	}
	return &Keystroke{source: source, sink: sink, dedicatedApps: set, logger: logger, now: time.Now}
}

func (k *Keystroke) Name() string { return "keystroke" }

// Run consumes k.source's events until either ctx is canceled or the
// source closes its channel (permission denied or revoked mid-run).
func (k *Keystroke) Run(ctx context.Context) {
	events := k.source.Events()
	if events == nil {
		k.logger.Debug("keystroke: no event source available, degrading silently")
		return
	}

	var buf strings.Builder
	timer := time.NewTimer(keystrokeIdleFlush)
	defer timer.Stop()

	flush := func() {
		if buf.Len() >= minKeystrokeFlushLength {
			k.sink.Put(types.NewInputMethodItem(buf.String(), k.now()))
		}
		buf.Reset()
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case event, ok := <-events:
			if !ok {
				flush()
				return
			}
			if k.dedicatedApps[event.FrontmostApp] || event.FieldIsSecure {
				continue
			}
			buf.WriteRune(event.Char)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(keystrokeIdleFlush)
		case <-timer.C:
			flush()
			timer.Reset(keystrokeIdleFlush)
		}
	}
}

// NoPermissionKeySource is the default KeySource when the platform tap
// can't be initialized (e.g. accessibility permission denied). Its
// channel is nil, causing Keystroke.Run to return immediately.
type NoPermissionKeySource struct{}

func (NoPermissionKeySource) Events() <-chan KeyEvent { return nil }
