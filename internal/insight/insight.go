// Package insight parses daily logs into a time-allocation report,
// augmented with to-do lifecycle summaries and an optional LLM advice
// section, and schedules that report to run once a day (spec.md §4.10).
package insight

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"soulagent/internal/dailylog"
	"soulagent/internal/logging"
	"soulagent/internal/memory"
	"soulagent/internal/runtimestate"
	"soulagent/internal/soul"
	"soulagent/internal/todostore"
	"soulagent/internal/types"
	"soulagent/internal/vault"
)

// lineRe parses one daily-log line back into its parts (spec.md §4.10).
var lineRe = regexp.MustCompile(`\[(\d{2}:\d{2})\]\s+\((\w[\w-]*)\)\s*(?:\[(\w+)\])?\s*(.*)`)

// LogEntry is one parsed daily-log line.
type LogEntry struct {
	Time     string
	Source   string
	Category string
	Text     string
}

// ParseLog parses body's lines into entries, skipping lines that don't match.
func ParseLog(body string) []LogEntry {
	var entries []LogEntry
	for _, line := range strings.Split(body, "\n") {
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		entries = append(entries, LogEntry{Time: m[1], Source: m[2], Category: m[3], Text: m[4]})
	}
	return entries
}

// CategoryStat is one category's share of a day's entries.
type CategoryStat struct {
	Category   string
	Count      int
	Percent    int
	TopEntries []string
}

// allocate computes per-category counts, rounded percentages (summing
// to 100 within rounding), and up to 3 representative entries per
// category (spec.md §4.10).
func allocate(entries []LogEntry) []CategoryStat {
	counts := make(map[string]int)
	samples := make(map[string][]string)
	order := make([]string, 0)
	for _, e := range entries {
		cat := e.Category
		if cat == "" {
			cat = "uncategorized"
		}
		if _, ok := counts[cat]; !ok {
			order = append(order, cat)
		}
		counts[cat]++
		if len(samples[cat]) < 3 {
			samples[cat] = append(samples[cat], e.Text)
		}
	}
	sort.Strings(order)

	total := len(entries)
	stats := make([]CategoryStat, 0, len(order))
	for _, cat := range order {
		percent := 0
		if total > 0 {
			percent = int(math.Round(float64(counts[cat]) / float64(total) * 100))
		}
		stats = append(stats, CategoryStat{Category: cat, Count: counts[cat], Percent: percent, TopEntries: samples[cat]})
	}
	return stats
}

// Advisor calls the LLM for the "work advice" section. Any component
// exposing Advise(ctx, report string) satisfies it; a failure means
// the section is simply omitted (spec.md §4.10).
type Advisor interface {
	Advise(ctx context.Context, partialReport string) (string, error)
}

// Chat is the minimal LLM capability an Advisor built on top of another
// package's client needs.
type Chat interface {
	Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// llmAdvisor is the concrete Advisor wired in production: it reuses
// whatever Chat-capable client the daemon already has configured (in
// practice *classifier.Classifier) for a single one-shot completion.
type llmAdvisor struct {
	chat   Chat
	logger logging.Logger
}

// NewLLMAdvisor builds an Advisor around chat, so the work-advice
// section actually fires on the success path instead of always being
// disabled (spec.md §4.10: the section "is produced by a single LLM
// call").
func NewLLMAdvisor(chat Chat, logger logging.Logger) Advisor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &llmAdvisor{chat: chat, logger: logger}
}

const adviceSystemPrompt = "You are a terse productivity coach. Given a partial daily activity report, " +
	"give 2-3 sentences of concrete, specific advice for the rest of the day or for tomorrow. No preamble."

func (a *llmAdvisor) Advise(ctx context.Context, partialReport string) (string, error) {
	prompt := "Partial daily report:\n\n" + partialReport
	return a.chat.Chat(ctx, adviceSystemPrompt, prompt, 300)
}

// Reflector bundles the optional long-term-memory and soul-profile
// engines that Persist chains into after writing a report, mirroring
// original_source soul_agent/modules/insight.py's save_daily_insight:
// extract memories from the fresh report, and if any were extracted,
// evolve the soul profile from them.
type Reflector struct {
	Memory *memory.Engine
	Soul   *soul.Engine
}

// Engine produces daily insight reports.
type Engine struct {
	log       *dailylog.Log
	todos     *todostore.Store
	vault     *vault.Store
	state     *runtimestate.Store
	advisor   Advisor
	reflector *Reflector
	logger    logging.Logger
	now       func() time.Time
}

// New constructs an Engine. advisor may be nil, in which case the
// work-advice section is always omitted. reflector may be nil, in
// which case Persist never extracts memories or evolves the soul.
func New(log *dailylog.Log, todos *todostore.Store, v *vault.Store, state *runtimestate.Store, advisor Advisor, reflector *Reflector, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{log: log, todos: todos, vault: v, state: state, advisor: advisor, reflector: reflector, logger: logger, now: time.Now}
}

// Generate produces the Markdown report for date (YYYY-MM-DD). If no
// log exists for that date, it returns a "no data" marker instead of
// an error (spec.md §4.10).
func (e *Engine) Generate(ctx context.Context, date string) (string, error) {
	body, err := e.log.Read(date)
	if err != nil {
		return "", fmt.Errorf("insight: read log %s: %w", date, err)
	}
	if body == "" {
		return "_no data for " + date + "_\n", nil
	}

	_, logBody := vault.Parse([]byte(body))
	entries := ParseLog(logBody)
	stats := allocate(entries)

	var sb strings.Builder
	writeTimeAllocation(&sb, stats)
	if err := e.writeTaskTracking(&sb, date); err != nil {
		e.logger.Warn("insight: task tracking section failed", logging.F("error", err))
	}
	writeCoreTopics(&sb, stats)

	if e.advisor != nil {
		advice, err := e.advisor.Advise(ctx, sb.String())
		if err != nil {
			e.logger.Warn("insight: advice generation failed, omitting section", logging.F("error", err))
		} else if advice != "" {
			sb.WriteString("\n## Work advice\n\n")
			sb.WriteString(advice)
			sb.WriteString("\n")
		}
	}

	return sb.String(), nil
}

func writeTimeAllocation(sb *strings.Builder, stats []CategoryStat) {
	sb.WriteString("## Time allocation\n\n")
	for _, s := range stats {
		fmt.Fprintf(sb, "- %s: %d%% (%d entries)\n", s.Category, s.Percent, s.Count)
	}
	sb.WriteString("\n")
}

func (e *Engine) writeTaskTracking(sb *strings.Builder, date string) error {
	sb.WriteString("## Task tracking\n\n")

	today, err := time.Parse("2006-01-02", date)
	if err != nil {
		today = e.now()
	}

	active, err := e.todos.List()
	if err != nil {
		return err
	}
	stalled, err := e.todos.Stalled(today, 3)
	if err != nil {
		return err
	}
	done, err := e.todos.ListDone()
	if err != nil {
		return err
	}

	doneToday := make([]types.TodoItem, 0)
	for _, t := range done {
		if t.Completed == date {
			doneToday = append(doneToday, t)
		}
	}

	fmt.Fprintf(sb, "- Done today: %d\n", len(doneToday))
	for _, t := range doneToday {
		fmt.Fprintf(sb, "  - %s\n", t.Text)
	}
	fmt.Fprintf(sb, "- Active: %d\n", len(active))
	fmt.Fprintf(sb, "- Stalled: %d\n", len(stalled))
	for _, t := range stalled {
		fmt.Fprintf(sb, "  - %s (last activity %s)\n", t.Text, t.LastActivityDate())
	}
	sb.WriteString("\n")
	return nil
}

func writeCoreTopics(sb *strings.Builder, stats []CategoryStat) {
	sb.WriteString("## Core topics\n\n")
	for _, s := range stats {
		if len(s.TopEntries) == 0 {
			continue
		}
		fmt.Fprintf(sb, "**%s**\n", s.Category)
		for _, entry := range s.TopEntries {
			fmt.Fprintf(sb, "- %s\n", entry)
		}
	}
}

// Persist writes report to insights/daily-YYYY-MM-DD.md with P2
// lifecycle fields (matching the daily log's own default priority),
// then chains into memory extraction and soul evolution when a
// Reflector is configured and the report has real content.
func (e *Engine) Persist(ctx context.Context, date, report string) error {
	fields := map[string]string{"date": date}
	vault.AddLifecycle(fields, types.PriorityP2, e.now())
	name := "daily-" + date + ".md"
	if err := e.vault.Write("insights", name, vault.Build(fields, report)); err != nil {
		return err
	}

	e.reflect(ctx, date, report)
	return nil
}

// reflect extracts long-term memories from report and, if any survive
// deduplication, evolves the soul profile from them. Failures here are
// logged and swallowed: reflection is best-effort and must never fail
// the daily persist that already succeeded.
func (e *Engine) reflect(ctx context.Context, date, report string) {
	if e.reflector == nil || e.reflector.Memory == nil {
		return
	}
	trimmed := strings.TrimSpace(report)
	if trimmed == "" || strings.Contains(trimmed, "_no data") {
		return
	}

	soulContext := ""
	if e.reflector.Soul != nil {
		if text, err := e.reflector.Soul.Context(); err == nil {
			soulContext = text
		}
	}

	mems, err := e.reflector.Memory.Extract(ctx, date, soulContext, report)
	if err != nil {
		e.logger.Warn("insight: memory extraction failed", logging.F("error", err))
		return
	}
	if len(mems) == 0 || e.reflector.Soul == nil {
		return
	}
	if _, err := e.reflector.Soul.Evolve(ctx, mems, report); err != nil {
		e.logger.Warn("insight: soul evolution failed", logging.F("error", err))
	}
}

// LatestDailyReport returns the most recently written daily report's
// body, or "" if none exist yet. It satisfies soul.InsightReader
// without soul needing to import this package.
func (e *Engine) LatestDailyReport() (string, error) {
	names, err := e.vault.List("insights")
	if err != nil {
		return "", fmt.Errorf("insight: list insights: %w", err)
	}
	var daily []string
	for _, n := range names {
		if strings.HasPrefix(n, "daily-") {
			daily = append(daily, n)
		}
	}
	if len(daily) == 0 {
		return "", nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(daily)))
	raw, err := e.vault.Read("insights", daily[0])
	if err != nil {
		return "", fmt.Errorf("insight: read %s: %w", daily[0], err)
	}
	if raw == nil {
		return "", nil
	}
	_, body := vault.Parse(raw)
	return strings.TrimSpace(body), nil
}

// nextRunAt computes the next local hour:minute boundary strictly after
// from, without drifting across DST transitions the way a naive
// time.Sleep(24h) loop would (spec.md §4.10, §9).
func nextRunAt(from time.Time, hour, minute int) time.Time {
	candidate := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// parseDailyTime parses an "HH:MM" string, defaulting to 20:00 on
// malformed input.
func parseDailyTime(raw string) (hour, minute int) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 20, 0
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil {
		return 20, 0
	}
	return h, m
}

// RunScheduler blocks until ctx is canceled, generating and persisting
// a report every day at dailyTime local time ("HH:MM").
func (e *Engine) RunScheduler(ctx context.Context, dailyTime string) {
	hour, minute := parseDailyTime(dailyTime)
	for {
		next := nextRunAt(e.now(), hour, minute)
		timer := time.NewTimer(next.Sub(e.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			date := types.FormatDate(e.now())
			report, err := e.Generate(ctx, date)
			if err != nil {
				e.logger.Warn("insight: scheduled generation failed", logging.F("error", err))
				continue
			}
			if err := e.Persist(ctx, date, report); err != nil {
				e.logger.Warn("insight: scheduled persist failed", logging.F("error", err))
				continue
			}
			if e.state != nil {
				if err := e.state.SetLastInsightRun(date); err != nil {
					e.logger.Warn("insight: failed to record last run", logging.F("error", err))
				}
			}
		}
	}
}
