package insight

import (
	"context"
	"strings"
	"testing"
	"time"

	"soulagent/internal/dailylog"
	"soulagent/internal/todostore"
	"soulagent/internal/types"
	"soulagent/internal/vault"
)

func TestParseLogSkipsMalformedLines(t *testing.T) {
	body := "[09:30] (note) [work] wrote report\nnot a log line\n[10:00] (terminal) git status\n"
	entries := ParseLog(body)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Category != "work" || entries[0].Text != "wrote report" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Category != "" || entries[1].Source != "terminal" {
		t.Fatalf("expected empty category for bracket-less line, got %+v", entries[1])
	}
}

func TestAllocatePercentagesAndTopEntries(t *testing.T) {
	entries := []LogEntry{
		{Category: "coding", Text: "a"},
		{Category: "coding", Text: "b"},
		{Category: "life", Text: "c"},
		{Category: "life", Text: "d"},
	}
	stats := allocate(entries)
	if len(stats) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(stats))
	}
	total := 0
	for _, s := range stats {
		total += s.Percent
	}
	if total < 90 || total > 110 {
		t.Fatalf("expected percentages to sum near 100, got %d", total)
	}
	if stats[0].Category != "coding" || len(stats[0].TopEntries) != 2 || stats[0].TopEntries[0] != "a" || stats[0].TopEntries[1] != "b" {
		t.Fatalf("expected coding top entries [a b], got %+v", stats[0])
	}
}

func setupEngine(t *testing.T) (*Engine, *vault.Store) {
	t.Helper()
	v := vault.New(t.TempDir())
	log := dailylog.New(v)
	todos := todostore.New(v)

	at := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	_ = log.Append(types.ClassifiedItem{
		IngestItem: types.IngestItem{Text: "wrote some code", Source: types.SourceNote, Timestamp: at},
		Category:   types.CategoryCoding,
	})
	_ = log.Append(types.ClassifiedItem{
		IngestItem: types.IngestItem{Text: "had lunch", Source: types.SourceNote, Timestamp: at.Add(2 * time.Hour)},
		Category:   types.CategoryLife,
	})

	return New(log, todos, v, nil, nil, nil, nil), v
}

func TestGenerateProducesFixedSectionOrder(t *testing.T) {
	e, _ := setupEngine(t)
	report, err := e.Generate(context.Background(), "2026-03-05")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	timeIdx := strings.Index(report, "## Time allocation")
	taskIdx := strings.Index(report, "## Task tracking")
	topicsIdx := strings.Index(report, "## Core topics")
	if timeIdx < 0 || taskIdx < 0 || topicsIdx < 0 {
		t.Fatalf("missing expected sections: %q", report)
	}
	if !(timeIdx < taskIdx && taskIdx < topicsIdx) {
		t.Fatalf("expected sections in fixed order, got indices %d %d %d", timeIdx, taskIdx, topicsIdx)
	}
	if strings.Contains(report, "## Work advice") {
		t.Fatal("expected no advice section when advisor is nil")
	}
}

func TestGenerateReturnsNoDataMarkerForMissingDate(t *testing.T) {
	e, _ := setupEngine(t)
	report, err := e.Generate(context.Background(), "2020-01-01")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(report, "no data") {
		t.Fatalf("expected no-data marker, got %q", report)
	}
}

type fakeAdvisor struct {
	advice string
	err    error
}

func (f fakeAdvisor) Advise(ctx context.Context, partial string) (string, error) {
	return f.advice, f.err
}

func TestGenerateOmitsAdviceSectionOnAdvisorFailure(t *testing.T) {
	v := vault.New(t.TempDir())
	log := dailylog.New(v)
	todos := todostore.New(v)
	at := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	_ = log.Append(types.ClassifiedItem{
		IngestItem: types.IngestItem{Text: "x", Source: types.SourceNote, Timestamp: at},
		Category:   types.CategoryWork,
	})

	e := New(log, todos, v, nil, fakeAdvisor{err: context.DeadlineExceeded}, nil, nil)
	report, err := e.Generate(context.Background(), "2026-03-05")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(report, "Work advice") {
		t.Fatal("expected advice section omitted on failure")
	}
}

func TestGenerateIncludesAdviceOnSuccess(t *testing.T) {
	v := vault.New(t.TempDir())
	log := dailylog.New(v)
	todos := todostore.New(v)
	at := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	_ = log.Append(types.ClassifiedItem{
		IngestItem: types.IngestItem{Text: "x", Source: types.SourceNote, Timestamp: at},
		Category:   types.CategoryWork,
	})

	e := New(log, todos, v, nil, fakeAdvisor{advice: "take a break"}, nil, nil)
	report, err := e.Generate(context.Background(), "2026-03-05")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(report, "take a break") {
		t.Fatal("expected advice text present")
	}
}

func TestPersistWritesUnderInsightsDir(t *testing.T) {
	e, v := setupEngine(t)
	if err := e.Persist(context.Background(), "2026-03-05", "report body"); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	raw, err := v.Read("insights", "daily-2026-03-05.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	fields, body := vault.Parse(raw)
	if fields["priority"] != "P2" {
		t.Fatalf("expected P2 priority, got %+v", fields)
	}
	if !strings.Contains(body, "report body") {
		t.Fatalf("expected body preserved, got %q", body)
	}
}

func TestNextRunAtRollsToNextDayWhenPast(t *testing.T) {
	from := time.Date(2026, 3, 5, 21, 0, 0, 0, time.UTC)
	next := nextRunAt(from, 20, 0)
	if next.Day() != 6 || next.Hour() != 20 {
		t.Fatalf("expected next day at 20:00, got %v", next)
	}
}

func TestNextRunAtSameDayWhenStillAhead(t *testing.T) {
	from := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	next := nextRunAt(from, 20, 0)
	if next.Day() != 5 || next.Hour() != 20 {
		t.Fatalf("expected same day at 20:00, got %v", next)
	}
}
