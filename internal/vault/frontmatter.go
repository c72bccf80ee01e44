// Package vault implements the on-disk Markdown-with-frontmatter store
// (spec.md §4.1) and its frontmatter codec (spec.md §4.2).
package vault

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"soulagent/internal/types"
)

// canonicalOrder is the fixed key order frontmatter fields are emitted
// in when known (spec.md §4.2). Unknown keys are appended afterward in
// lexicographic order.
var canonicalOrder = []string{
	"id", "type", "priority", "status", "category", "tags", "importance",
	"created", "expires", "last_activity", "activity_log", "auto_detected", "completed", "date",
}

const delimiter = "---"

// Parse splits raw Markdown into its frontmatter fields and body.
// If the input has no opening "---" line, the whole input is treated
// as body with an empty fields map — the codec never errors.
func Parse(raw []byte) (map[string]string, string) {
	text := string(raw)
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != delimiter {
		return map[string]string{}, text
	}

	fields := make(map[string]string)
	i := 1
	for ; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if line == delimiter {
			break
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		fields[key] = value
	}
	if i >= len(lines) {
		// No closing delimiter found: the leading "---" was not really
		// a frontmatter block. Treat the entire input as body.
		return map[string]string{}, text
	}
	body := strings.Join(lines[i+1:], "\n")
	body = strings.TrimPrefix(body, "\n")
	return fields, body
}

func splitKeyValue(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	value := strings.TrimSpace(line[idx+1:])
	return key, value, true
}

// Build serializes fields (in canonical order, unknown keys appended
// lexicographically) and body back into frontmatter Markdown.
func Build(fields map[string]string, body string) []byte {
	var sb strings.Builder
	sb.WriteString(delimiter)
	sb.WriteString("\n")

	seen := make(map[string]bool, len(fields))
	for _, key := range canonicalOrder {
		value, ok := fields[key]
		if !ok {
			continue
		}
		seen[key] = true
		writeKeyValue(&sb, key, value)
	}

	extra := make([]string, 0, len(fields)-len(seen))
	for key := range fields {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		writeKeyValue(&sb, key, fields[key])
	}

	sb.WriteString(delimiter)
	sb.WriteString("\n")
	sb.WriteString(body)
	return []byte(sb.String())
}

func writeKeyValue(sb *strings.Builder, key, value string) {
	sb.WriteString(key)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteString("\n")
}

// AddClassification stamps category/tags/importance fields (spec.md §3).
func AddClassification(fields map[string]string, category types.Category, tags []string, importance int) {
	fields["category"] = string(category)
	fields["tags"] = strings.Join(tags, ",")
	fields["importance"] = strconv.Itoa(importance)
}

// lifecycleTTL is the P0..P3 duration table from spec.md §4.2.
// A zero duration means "no expiry" (P0).
var lifecycleTTL = map[types.Priority]time.Duration{
	types.PriorityP0: 0,
	types.PriorityP1: 30 * 24 * time.Hour,
	types.PriorityP2: 14 * 24 * time.Hour,
	types.PriorityP3: 7 * 24 * time.Hour,
}

// AddLifecycle stamps priority, created, and expires fields, computing
// expires from the fixed TTL table (spec.md §4.2). now is the creation
// instant.
func AddLifecycle(fields map[string]string, priority types.Priority, now time.Time) {
	fields["priority"] = string(priority)
	created := types.FormatDate(now)
	fields["created"] = created
	ttl, ok := lifecycleTTL[priority]
	if !ok || ttl == 0 {
		delete(fields, "expires")
		return
	}
	fields["expires"] = types.FormatDate(now.Add(ttl))
}

// ParseTags splits a comma-separated tag list, dropping empty entries.
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseActivityLog decodes the "YYYY-MM-DD:N:src1,src2|..." encoding
// from spec.md §6. An empty string yields no entries.
func ParseActivityLog(raw string) []types.ActivityEntry {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	segments := strings.Split(raw, "|")
	entries := make([]types.ActivityEntry, 0, len(segments))
	for _, seg := range segments {
		parts := strings.SplitN(seg, ":", 3)
		if len(parts) != 3 {
			continue
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		var sources []string
		if parts[2] != "" {
			sources = strings.Split(parts[2], ",")
		}
		entries = append(entries, types.ActivityEntry{
			Date:    parts[0],
			Count:   count,
			Sources: sources,
		})
	}
	return entries
}

// FormatActivityLog encodes entries back into the "|"-joined string form.
func FormatActivityLog(entries []types.ActivityEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s:%d:%s", e.Date, e.Count, strings.Join(e.Sources, ",")))
	}
	return strings.Join(parts, "|")
}

// AddActivityEntry inserts or updates the entry for date in the encoded
// activity_log field, adding source to that date's source set, and
// keeps last_activity in sync with the maximum date seen (spec.md §3, §4.2).
func AddActivityEntry(fields map[string]string, date, source string) {
	entries := ParseActivityLog(fields["activity_log"])
	entries = upsertActivityEntry(entries, date, source)
	fields["activity_log"] = FormatActivityLog(entries)
	fields["last_activity"] = maxDate(entries)
}

func upsertActivityEntry(entries []types.ActivityEntry, date, source string) []types.ActivityEntry {
	for i := range entries {
		if entries[i].Date != date {
			continue
		}
		entries[i].Count++
		if !containsString(entries[i].Sources, source) {
			entries[i].Sources = append(entries[i].Sources, source)
		}
		return entries
	}
	entries = append(entries, types.ActivityEntry{Date: date, Count: 1, Sources: []string{source}})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	return entries
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func maxDate(entries []types.ActivityEntry) string {
	max := ""
	for _, e := range entries {
		if e.Date > max {
			max = e.Date
		}
	}
	return max
}
