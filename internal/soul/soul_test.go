package soul

import (
	"context"
	"strings"
	"testing"
	"time"

	"soulagent/internal/memory"
	"soulagent/internal/vault"
)

type fakeChat struct {
	response string
	err      error
}

func (f fakeChat) Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return f.response, f.err
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestInitUsesPresetDirectlyWhenAlreadyStructured(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, nil, nil)
	e.now = fixedNow(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))

	preset := "## Identity\nengineer\n\n## Traits\ncurious\n\n## Work style\ndeep focus"
	content, err := e.Init(context.Background(), preset)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !strings.Contains(content, "## Identity") || !strings.Contains(content, "engineer") {
		t.Fatalf("expected preset content preserved, got %q", content)
	}
	if !strings.Contains(content, "## Growth log") {
		t.Fatalf("expected growth log appended, got %q", content)
	}
}

func TestInitFallsBackToRuleBasedFormatWithoutChat(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, nil, nil)
	content, err := e.Init(context.Background(), "I like building things and writing")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !strings.Contains(content, "## Identity") || !strings.Contains(content, "I like building things") {
		t.Fatalf("expected fallback format with identity section, got %q", content)
	}
}

func TestContextSkipsGrowthLogAndPlaceholders(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, nil, nil)
	if _, err := e.Init(context.Background(), "curious and direct"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got, err := e.Context()
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if strings.Contains(got, "Growth log") {
		t.Fatalf("expected growth log excluded from context, got %q", got)
	}
	if strings.Contains(got, placeholder) {
		t.Fatalf("expected placeholder sections excluded from context, got %q", got)
	}
}

func TestEvolveNoOpsWithoutExistingSoul(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, fakeChat{response: `{"Recent focus": "shipping the release"}`}, nil)
	evolved, err := e.Evolve(context.Background(), nil, "some report")
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if evolved {
		t.Fatal("expected no evolution without an existing soul")
	}
}

func TestEvolveMergesUpdatesAndAppendsGrowthLog(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, fakeChat{response: `{"Recent focus": "shipping the v2 release"}`}, nil)
	e.now = fixedNow(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))
	preset := "## Identity\nengineer\n\n## Traits\ncurious\n\n## Work style\ndeep focus"
	if _, err := e.Init(context.Background(), preset); err != nil {
		t.Fatalf("Init: %v", err)
	}

	mems := []memory.Fragment{{Text: "ships incrementally"}}
	evolved, err := e.Evolve(context.Background(), mems, "daily report body")
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if !evolved {
		t.Fatal("expected soul to evolve")
	}

	content, err := e.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(content, "shipping the v2 release") {
		t.Fatalf("expected updated section content, got %q", content)
	}
	if !strings.Contains(content, "evolved") {
		t.Fatalf("expected growth log entry appended, got %q", content)
	}
	fields, _ := vault.Parse([]byte(content))
	if fields["evolution_count"] != "1" {
		t.Fatalf("expected evolution_count incremented, got %+v", fields)
	}
}

func TestEvolveNoOpWhenLLMReturnsNoUpdates(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, fakeChat{response: `{}`}, nil)
	preset := "## Identity\nengineer\n\n## Traits\ncurious\n\n## Work style\ndeep focus"
	if _, err := e.Init(context.Background(), preset); err != nil {
		t.Fatalf("Init: %v", err)
	}

	evolved, err := e.Evolve(context.Background(), nil, "report")
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if evolved {
		t.Fatal("expected no evolution when LLM returns no updates")
	}
}

func TestAskFallsBackToProfileSummaryWithoutChat(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, nil, nil)
	if _, err := e.Init(context.Background(), "curious and direct"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	answer, err := e.Ask(context.Background(), "how am I doing?", nil, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(answer, "Identity") {
		t.Fatalf("expected fallback to include profile summary, got %q", answer)
	}
}

func TestAskReturnsLLMAnswerWhenAvailable(t *testing.T) {
	v := vault.New(t.TempDir())
	e := New(v, fakeChat{response: "you're making good progress"}, nil)
	if _, err := e.Init(context.Background(), "curious and direct"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	answer, err := e.Ask(context.Background(), "how am I doing?", nil, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "you're making good progress" {
		t.Fatalf("expected llm answer passed through, got %q", answer)
	}
}
