// Package dailylog appends classified activity to per-day Markdown
// files under logs/, keeping a small in-memory cache of recent days so
// the insight engine and search don't re-read disk on every hit
// (spec.md §4.5).
package dailylog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"soulagent/internal/types"
	"soulagent/internal/vault"
)

const dir = "logs"

// cacheSize bounds how many distinct days are held in memory at once
// (spec.md §4.5: "last 3 days").
const cacheSize = 3

// Log appends classified items to daily Markdown files and caches the
// most recently touched days' bodies.
type Log struct {
	store *vault.Store

	mu    sync.Mutex
	cache map[string]string   // date -> full file content (frontmatter + body)
	order []string            // LRU order, oldest first
}

// New constructs a Log backed by store.
func New(store *vault.Store) *Log {
	return &Log{
		store: store,
		cache: make(map[string]string),
	}
}

// Append writes one line for item to the log file of the date of
// item.Timestamp, creating the file with P2 default frontmatter on the
// first write for that date
// (spec.md §4.5).
func (l *Log) Append(item types.ClassifiedItem) error {
	return l.appendAt(item, item.Timestamp)
}

func (l *Log) appendAt(item types.ClassifiedItem, at time.Time) error {
	date := types.FormatDate(at)
	name := date + ".md"

	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.store.Read(dir, name)
	if err != nil {
		return fmt.Errorf("dailylog: read %s: %w", name, err)
	}

	var fields map[string]string
	var body string
	if raw == nil {
		fields = map[string]string{
			"priority": string(types.PriorityP2),
			"date":     date,
		}
		if item.Category != "" {
			vault.AddClassification(fields, item.Category, item.Tags, item.Importance)
		}
		body = ""
	} else {
		fields, body = vault.Parse(raw)
	}

	line := formatLine(item, at)
	if body != "" && body[len(body)-1] != '\n' {
		body += "\n"
	}
	body += line

	content := vault.Build(fields, body)
	if err := l.store.Write(dir, name, content); err != nil {
		return fmt.Errorf("dailylog: write %s: %w", name, err)
	}

	l.putCacheLocked(date, string(content))
	return nil
}

// formatLine renders "[HH:MM] (source) [category] text", omitting the
// category bracket when empty, with embedded newlines flattened to
// spaces (spec.md §4.6).
func formatLine(item types.ClassifiedItem, at time.Time) string {
	text := strings.ReplaceAll(item.Text, "\n", " ")
	if item.Category == "" {
		return fmt.Sprintf("[%s] (%s) %s\n", at.Format("15:04"), item.Source, text)
	}
	return fmt.Sprintf("[%s] (%s) [%s] %s\n", at.Format("15:04"), item.Source, item.Category, text)
}

// Read returns the raw content of the log for date (YYYY-MM-DD),
// serving from cache when available.
func (l *Log) Read(date string) (string, error) {
	l.mu.Lock()
	if content, ok := l.cache[date]; ok {
		l.touchLocked(date)
		l.mu.Unlock()
		return content, nil
	}
	l.mu.Unlock()

	raw, err := l.store.Read(dir, date+".md")
	if err != nil {
		return "", fmt.Errorf("dailylog: read %s: %w", date, err)
	}
	if raw == nil {
		return "", nil
	}

	l.mu.Lock()
	l.putCacheLocked(date, string(raw))
	l.mu.Unlock()
	return string(raw), nil
}

func (l *Log) putCacheLocked(date, content string) {
	l.cache[date] = content
	l.touchLocked(date)
	for len(l.order) > cacheSize {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.cache, oldest)
	}
}

func (l *Log) touchLocked(date string) {
	l.removeFromOrderLocked(date)
	l.order = append(l.order, date)
}

func (l *Log) removeFromOrderLocked(date string) {
	for i, d := range l.order {
		if d == date {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}
