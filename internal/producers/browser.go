package producers

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"soulagent/internal/logging"
	"soulagent/internal/runtimestate"
	"soulagent/internal/types"
)

// browserPollInterval matches spec.md §4.8.
const browserPollInterval = 5 * time.Minute

var ignoredURLPrefixes = []string{
	"chrome://", "about:", "data:", "blob:", "file://", "chrome-extension://",
}

// browserProfile locates one browser's history database and knows how
// to query it. Chrome and Safari use different schemas and epochs.
type browserProfile struct {
	name       string
	dbPath     string
	query      string
	toUnixSecs func(raw int64) int64
}

// chromeEpochOffset is the number of seconds between the Windows/Chrome
// epoch (1601-01-01) and the Unix epoch, since Chrome stores
// microseconds since 1601-01-01.
const chromeEpochOffset = 11644473600

func chromeVisitTimeToUnix(raw int64) int64 {
	return raw/1_000_000 - chromeEpochOffset
}

// safariEpochOffset is the number of seconds between the Cocoa epoch
// (2001-01-01) and the Unix epoch.
const safariEpochOffset = 978307200

func safariVisitTimeToUnix(raw int64) int64 {
	return raw + safariEpochOffset
}

// BrowserHistory polls Chrome's and Safari's history databases,
// tracking each browser's cursor independently (spec.md §4.8).
type BrowserHistory struct {
	sink     Sink
	state    *runtimestate.Store
	logger   logging.Logger
	now      func() time.Time
	profiles []browserProfile
}

// NewBrowserHistory constructs a BrowserHistory poller. Missing
// profile paths (e.g. Safari on a non-macOS host) are skipped at
// poll time rather than at construction, so tests can inject
// arbitrary paths.
func NewBrowserHistory(profiles []browserProfile, sink Sink, state *runtimestate.Store, logger logging.Logger) *BrowserHistory {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BrowserHistory{sink: sink, state: state, logger: logger, now: time.Now, profiles: profiles}
}

// DefaultProfiles returns the standard Chrome and Safari history
// locations for the current user's home directory.
func DefaultProfiles(home string) []browserProfile {
	return []browserProfile{
		{
			name:   "chrome",
			dbPath: home + "/Library/Application Support/Google/Chrome/Default/History",
			query:  "SELECT urls.url, urls.title, visits.visit_time FROM urls JOIN visits ON visits.url = urls.id WHERE visits.visit_time > ? ORDER BY visits.visit_time ASC",
			toUnixSecs: chromeVisitTimeToUnix,
		},
		{
			name:   "safari",
			dbPath: home + "/Library/Safari/History.db",
			query:  "SELECT history_items.url, history_visits.title, history_visits.visit_time FROM history_visits JOIN history_items ON history_visits.history_item = history_items.id WHERE history_visits.visit_time > ? ORDER BY history_visits.visit_time ASC",
			toUnixSecs: safariVisitTimeToUnix,
		},
	}
}

func (b *BrowserHistory) Name() string { return "browser-history" }

// Run polls every browserPollInterval until ctx is canceled.
func (b *BrowserHistory) Run(ctx context.Context) {
	ticker := time.NewTicker(browserPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, profile := range b.profiles {
				b.pollProfile(profile)
			}
		}
	}
}

func (b *BrowserHistory) pollProfile(profile browserProfile) {
	if _, err := os.Stat(profile.dbPath); err != nil {
		return
	}

	tmpPath, err := copyToTemp(profile.dbPath)
	if err != nil {
		b.logger.Debug("browser: copy failed", logging.F("browser", profile.name), logging.F("error", err))
		return
	}
	defer os.Remove(tmpPath)

	cursor, err := b.state.BrowserCursor(profile.name)
	if err != nil {
		b.logger.Warn("browser: cursor read failed", logging.F("browser", profile.name), logging.F("error", err))
		return
	}

	db, err := sql.Open("sqlite", tmpPath+"?mode=ro")
	if err != nil {
		b.logger.Warn("browser: open failed", logging.F("browser", profile.name), logging.F("error", err))
		return
	}
	defer db.Close()

	rows, err := db.Query(profile.query, cursor)
	if err != nil {
		b.logger.Debug("browser: query failed", logging.F("browser", profile.name), logging.F("error", err))
		return
	}
	defer rows.Close()

	maxSeen := cursor
	for rows.Next() {
		var url, title string
		var visitTime int64
		if err := rows.Scan(&url, &title, &visitTime); err != nil {
			continue
		}
		if visitTime > maxSeen {
			maxSeen = visitTime
		}
		if isIgnoredURL(url) {
			continue
		}
		ts := time.Unix(profile.toUnixSecs(visitTime), 0)
		b.sink.Put(types.NewBrowserItem(url, title, ts))
	}

	if maxSeen > cursor {
		if err := b.state.SetBrowserCursor(profile.name, maxSeen); err != nil {
			b.logger.Warn("browser: cursor write failed", logging.F("browser", profile.name), logging.F("error", err))
		}
	}
}

func isIgnoredURL(url string) bool {
	for _, prefix := range ignoredURLPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

func copyToTemp(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.CreateTemp("", "soulagent-history-*.db")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("copy: %w", err)
	}
	return out.Name(), nil
}
