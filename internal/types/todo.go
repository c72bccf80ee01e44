package types

import "time"

// Priority is the P0..P3 urgency band assigned to a to-do or a daily log.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// TodoStatus is the lifecycle state of a to-do file.
type TodoStatus string

const (
	TodoStatusActive TodoStatus = "active"
	TodoStatusDone   TodoStatus = "done"
)

// ActivityEntry is one dated bucket of a to-do's activity log:
// how many events landed on that date, and which sources produced them.
type ActivityEntry struct {
	Date    string // YYYY-MM-DD
	Count   int
	Sources []string
}

// TodoItem is a VaultResource under todos/active/ or todos/done/.
type TodoItem struct {
	ID           string
	Priority     Priority
	Status       TodoStatus
	Created      string // YYYY-MM-DD
	ActivityLog  []ActivityEntry
	LastActivity string // YYYY-MM-DD
	AutoDetected bool
	Completed    string // YYYY-MM-DD, empty until Complete stamps it
	Text         string // body
}

// TodoSummary is the compact {id, text} shape handed to the classifier.
type TodoSummary struct {
	ID   string
	Text string
}

// LastActivityDate returns LastActivity, falling back to Created when empty.
func (t TodoItem) LastActivityDate() string {
	if t.LastActivity != "" {
		return t.LastActivity
	}
	return t.Created
}

// FormatDate renders t in the YYYY-MM-DD form used throughout the vault.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
