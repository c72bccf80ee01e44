// Package compact aggregates daily logs into weekly reports, and weekly
// reports into monthly ones, running a background check that backfills
// last week's report if it's missing (spec.md supplement; grounded on
// original_source soul_agent/modules/compact.py and its scheduling in
// service.py's _compaction_loop).
package compact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"soulagent/internal/dailylog"
	"soulagent/internal/logging"
	"soulagent/internal/todostore"
	"soulagent/internal/vault"
)

const dir = "insights"

// checkInterval is how often the background scheduler re-checks
// whether last week's report exists (compact.py's daily poll).
const checkInterval = 24 * time.Hour

const weeklySystemPrompt = "You are a personal memory analyst. Given the following daily logs and context " +
	"from a week, produce a structured weekly report in markdown with these sections:\n\n" +
	"## Key Activities\n- Bullet list of main things done\n\n" +
	"## Decisions Made\n- Important choices and their rationale\n\n" +
	"## Ongoing Threads\n- Work in progress, unresolved items\n\n" +
	"## Patterns & Observations\n- Recurring themes, habits, or notable trends\n\n" +
	"Be concise. ~300 tokens max. Focus on signal, not noise."

const monthlySystemPrompt = "You are a personal memory analyst. Given the following weekly reports for a month, " +
	"produce a structured monthly summary in markdown with these sections:\n\n" +
	"## Month Overview\n- High-level summary (2-3 sentences)\n\n" +
	"## Key Accomplishments\n- Major completions and milestones\n\n" +
	"## Themes\n- Recurring topics and focus areas\n\n" +
	"## Looking Forward\n- Open threads and upcoming priorities\n\n" +
	"Be concise. ~400 tokens max."

// Chat is the minimal LLM capability compact needs.
type Chat interface {
	Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Engine builds and persists weekly/monthly reports.
type Engine struct {
	log    *dailylog.Log
	todos  *todostore.Store
	vault  *vault.Store
	chat   Chat
	logger logging.Logger
	now    func() time.Time
}

// New constructs an Engine. chat may be nil, in which case reports fall
// back to a plain concatenation of their source material.
func New(log *dailylog.Log, todos *todostore.Store, v *vault.Store, chat Chat, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{log: log, todos: todos, vault: v, chat: chat, logger: logger, now: time.Now}
}

func weekLabel(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthLabel(t time.Time) string {
	return t.Format("2006-01")
}

// Week generates the weekly report covering the Mon-Sun week containing
// target, writing it to insights/YYYY-Www.md. Returns "" if there were
// no daily logs to summarize for that week.
func (e *Engine) Week(ctx context.Context, target time.Time) (string, error) {
	weekday := int(target.Weekday())
	if weekday == 0 {
		weekday = 7 // Go's Sunday=0; we want Monday-first like Python's weekday()
	}
	weekStart := target.AddDate(0, 0, -(weekday - 1))
	weekEnd := weekStart.AddDate(0, 0, 6)

	var logs []string
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i)
		body, err := e.log.Read(day.Format("2006-01-02"))
		if err != nil {
			return "", fmt.Errorf("compact: read log %s: %w", day.Format("2006-01-02"), err)
		}
		if body == "" {
			continue
		}
		_, plain := vault.Parse([]byte(body))
		logs = append(logs, fmt.Sprintf("### %s\n%s", day.Format("2006-01-02"), plain))
	}
	if len(logs) == 0 {
		return "", nil
	}

	todoContext := e.completedTodoContext()
	context := strings.Join(logs, "\n\n") + todoContext
	prompt := fmt.Sprintf("Week: %s to %s\n\n%s", weekStart.Format("2006-01-02"), weekEnd.Format("2006-01-02"), context)

	report := e.callLLM(ctx, weeklySystemPrompt, prompt, 500)
	if report == "" {
		report = fmt.Sprintf("# Week %s\n\n%s", weekLabel(target), strings.Join(logs, "\n\n"))
	}

	label := weekLabel(target)
	fields := map[string]string{"type": "weekly-report", "week": label}
	if err := e.vault.Write(dir, label+".md", vault.Build(fields, report)); err != nil {
		return "", fmt.Errorf("compact: write weekly report: %w", err)
	}
	return report, nil
}

func (e *Engine) completedTodoContext() string {
	if e.todos == nil {
		return ""
	}
	done, err := e.todos.ListDone()
	if err != nil || len(done) == 0 {
		return ""
	}
	n := len(done)
	if n > 10 {
		n = 10
	}
	lines := make([]string, 0, n)
	for _, t := range done[:n] {
		lines = append(lines, "- "+truncateRunes(t.Text, 100))
	}
	return "\n\n### Completed Todos\n" + strings.Join(lines, "\n")
}

// Month generates the monthly report covering target's calendar month,
// aggregating the weekly reports of every ISO week that touches that
// month (or, absent any, that month's daily logs), writing to
// insights/YYYY-MM.md.
func (e *Engine) Month(ctx context.Context, target time.Time) (string, error) {
	label := monthLabel(target)
	year, month := target.Year(), target.Month()

	names, err := e.vault.List(dir)
	if err != nil {
		return "", fmt.Errorf("compact: list insights: %w", err)
	}
	monthWeeks := make(map[string]bool)
	for day := time.Date(year, month, 1, 0, 0, 0, 0, target.Location()); day.Month() == month; day = day.AddDate(0, 0, 1) {
		monthWeeks[weekLabel(day)+".md"] = true
	}
	var weeklyReports []string
	for _, name := range names {
		if monthWeeks[name] {
			raw, err := e.vault.Read(dir, name)
			if err != nil {
				return "", fmt.Errorf("compact: read %s: %w", name, err)
			}
			if raw == nil {
				continue
			}
			weeklyReports = append(weeklyReports, fmt.Sprintf("### %s\n%s", strings.TrimSuffix(name, ".md"), string(raw)))
		}
	}

	var dailyContext []string
	if len(weeklyReports) == 0 {
		day := time.Date(year, month, 1, 0, 0, 0, 0, target.Location())
		for day.Month() == month {
			body, err := e.log.Read(day.Format("2006-01-02"))
			if err == nil && body != "" {
				_, plain := vault.Parse([]byte(body))
				dailyContext = append(dailyContext, fmt.Sprintf("### %s\n%s", day.Format("2006-01-02"), truncateRunes(plain, 200)))
			}
			day = day.AddDate(0, 0, 1)
		}
	}

	if len(weeklyReports) == 0 && len(dailyContext) == 0 {
		return "", nil
	}

	var context string
	if len(weeklyReports) > 0 {
		context = strings.Join(weeklyReports, "\n\n")
	} else {
		context = strings.Join(dailyContext, "\n\n")
	}
	prompt := fmt.Sprintf("Month: %s\n\n%s", label, context)

	report := e.callLLM(ctx, monthlySystemPrompt, prompt, 600)
	if report == "" {
		report = fmt.Sprintf("# Month %s\n\n%s", label, context)
	}

	fields := map[string]string{"type": "monthly-report", "month": label}
	if err := e.vault.Write(dir, label+".md", vault.Build(fields, report)); err != nil {
		return "", fmt.Errorf("compact: write monthly report: %w", err)
	}
	return report, nil
}

func (e *Engine) callLLM(ctx context.Context, system, prompt string, maxTokens int) string {
	if e.chat == nil {
		return ""
	}
	response, err := e.chat.Chat(ctx, system, prompt, maxTokens)
	if err != nil {
		e.logger.Warn("compact: llm call failed, using fallback", logging.F("error", err))
		return ""
	}
	return response
}

// RunScheduler blocks until ctx is canceled, checking once on startup
// and then once every 24h whether last week's report exists yet, and
// backfilling it if not.
func (e *Engine) RunScheduler(ctx context.Context) {
	e.checkLastWeek(ctx)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkLastWeek(ctx)
		}
	}
}

func (e *Engine) checkLastWeek(ctx context.Context) {
	lastWeek := e.now().AddDate(0, 0, -7)
	label := weekLabel(lastWeek)
	raw, err := e.vault.Read(dir, label+".md")
	if err != nil {
		e.logger.Warn("compact: check last week failed", logging.F("error", err))
		return
	}
	if raw != nil {
		return
	}
	if _, err := e.Week(ctx, lastWeek); err != nil {
		e.logger.Warn("compact: backfill last week failed", logging.F("error", err))
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
