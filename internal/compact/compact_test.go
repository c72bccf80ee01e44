package compact

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

type fakeChat struct {
	response string
	err      error
}

func (f fakeChat) Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return f.response, f.err
}

func TestWeekReturnsEmptyWhenNoLogsExist(t *testing.T) {
	v := vault.New(t.TempDir())
	log := dailylog.New(v)
	todos := todostore.New(v)
	e := New(log, todos, v, nil, nil)

	report, err := e.Week(context.Background(), time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Week: %v", err)
	}
	if report != "" {
		t.Fatalf("expected empty report, got %q", report)
	}
}

func TestWeekAggregatesDailyLogsAndFallsBackWithoutChat(t *testing.T) {
	v := vault.New(t.TempDir())
	log := dailylog.New(v)
	todos := todostore.New(v)
	e := New(log, todos, v, nil, nil)

	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	_ = log.Append(types.ClassifiedItem{
		IngestItem: types.IngestItem{Text: "shipped the release", Source: types.SourceNote, Timestamp: monday},
		Category:   types.CategoryWork,
	})

	report, err := e.Week(context.Background(), monday.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("Week: %v", err)
	}
	if !strings.Contains(report, "shipped the release") {
		t.Fatalf("expected fallback report to include the log line, got %q", report)
	}

	label := weekLabel(monday)
	raw, err := v.Read(dir, label+".md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if raw == nil {
		t.Fatal("expected weekly report written to vault")
	}
}

func TestWeekUsesLLMWhenAvailable(t *testing.T) {
	v := vault.New(t.TempDir())
	log := dailylog.New(v)
	todos := todostore.New(v)
	e := New(log, todos, v, fakeChat{response: "## Key Activities\n- shipped things"}, nil)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	_ = log.Append(types.ClassifiedItem{
		IngestItem: types.IngestItem{Text: "shipped the release", Source: types.SourceNote, Timestamp: at},
		Category:   types.CategoryWork,
	})

	report, err := e.Week(context.Background(), at)
	if err != nil {
		t.Fatalf("Week: %v", err)
	}
	if report != "## Key Activities\n- shipped things" {
		t.Fatalf("expected llm report passed through, got %q", report)
	}
}

func TestMonthFallsBackToDailyLogsWithoutWeeklyReports(t *testing.T) {
	v := vault.New(t.TempDir())
	log := dailylog.New(v)
	todos := todostore.New(v)
	e := New(log, todos, v, nil, nil)

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_ = log.Append(types.ClassifiedItem{
		IngestItem: types.IngestItem{Text: "wrote a design doc", Source: types.SourceNote, Timestamp: at},
		Category:   types.CategoryWork,
	})

	report, err := e.Month(context.Background(), at)
	if err != nil {
		t.Fatalf("Month: %v", err)
	}
	if !strings.Contains(report, "wrote a design doc") {
		t.Fatalf("expected daily-log fallback content, got %q", report)
	}
}

func TestCheckLastWeekBackfillsMissingReport(t *testing.T) {
	v := vault.New(t.TempDir())
	log := dailylog.New(v)
	todos := todostore.New(v)
	e := New(log, todos, v, nil, nil)

	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	lastWeekDay := now.AddDate(0, 0, -7)
	_ = log.Append(types.ClassifiedItem{
		IngestItem: types.IngestItem{Text: "worked on the backlog", Source: types.SourceNote, Timestamp: lastWeekDay},
		Category:   types.CategoryWork,
	})

	e.checkLastWeek(context.Background())

	label := weekLabel(lastWeekDay)
	raw, err := v.Read(dir, label+".md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if raw == nil {
		t.Fatal("expected backfilled weekly report")
	}
}
