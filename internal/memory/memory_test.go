package memory

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"soulagent/internal/vault"
)

type fakeChat struct {
	response string
	err      error
}

func (f fakeChat) Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return f.response, f.err
}

func longReport(body string) string {
	return strings.Repeat("x", 100) + "\n" + body
}

func TestExtractSkipsEmptyOrShortReports(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, fakeChat{response: `[{"text":"likes deep work in the morning","category":"preference","importance":4}]`}, nil)

	frags, err := e.Extract(context.Background(), "2026-03-05", "", "  ")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(frags) != 0 {
		t.Fatalf("expected no fragments for empty report, got %+v", frags)
	}

	frags, err = e.Extract(context.Background(), "2026-03-05", "", "too short")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(frags) != 0 {
		t.Fatalf("expected no fragments for short report, got %+v", frags)
	}
}

func TestExtractParsesLLMResponseAndPersists(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, fakeChat{response: `[{"text":"prefers async communication","category":"preference","importance":4,"tags":"comms"}]`}, nil)

	frags, err := e.Extract(context.Background(), "2026-03-05", "", longReport("## Work advice\n- take breaks"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, got %d: %+v", len(frags), frags)
	}
	if frags[0].Category != CategoryPreference || frags[0].Importance != 4 {
		t.Fatalf("unexpected fragment: %+v", frags[0])
	}

	raw, err := v.Read(dir, frags[0].Filename)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if raw == nil {
		t.Fatal("expected fragment written to vault")
	}
}

func TestExtractDeduplicatesAgainstExisting(t *testing.T) {
	v := vault.New(t.TempDir())
	fields := map[string]string{"type": "memory", "category": "preference", "importance": "4"}
	if err := v.Write(dir, "2026-03-01-1.md", vault.Build(fields, "prefers async communication over meetings")); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	e := New(v, fakeChat{response: `[{"text":"prefers async communication instead of meetings","category":"preference","importance":4}]`}, nil)
	frags, err := e.Extract(context.Background(), "2026-03-05", "", longReport("## Work advice\n- take breaks"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(frags) != 0 {
		t.Fatalf("expected duplicate to be filtered out, got %+v", frags)
	}
}

func TestExtractFallsBackWhenChatIsNil(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, nil, nil)
	report := longReport("## Work advice\n\n- ship the release notes today\n- follow up with design\n## Other")
	frags, err := e.Extract(context.Background(), "2026-03-05", "", report)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(frags) == 0 {
		t.Fatal("expected fallback extraction to find advice bullets")
	}
}

func TestLoadHighImportanceFiltersAndCaps(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, nil, nil)
	for i, importance := range []int{2, 5, 4, 1} {
		fields := map[string]string{"type": "memory", "category": "learning", "importance": strconv.Itoa(importance)}
		name := strconv.Itoa(i) + ".md"
		if err := v.Write(dir, name, vault.Build(fields, "memory text "+strconv.Itoa(i))); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := e.LoadHighImportance(3, 10)
	if err != nil {
		t.Fatalf("LoadHighImportance: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 fragments with importance >= 3, got %d: %+v", len(got), got)
	}

	capped, err := e.LoadHighImportance(1, 3)
	if err != nil {
		t.Fatalf("LoadHighImportance: %v", err)
	}
	if len(capped) != 3 {
		t.Fatalf("expected limit 3 to cap 4 qualifying fragments, got %d: %+v", len(capped), capped)
	}
}
