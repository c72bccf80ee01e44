// Package soul maintains a single persistent user profile — identity,
// traits, work style, preferences, values, recent focus, and a growth
// log — that evolves after each daily insight cycle and is injected
// into other LLM calls for personalized context (spec.md supplement;
// grounded on original_source soul_agent/modules/soul.py).
package soul

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"soulagent/internal/logging"
	"soulagent/internal/memory"
	"soulagent/internal/vault"
)

const path = "core"
const filename = "SOUL.md"

// sections is the fixed, ordered set of profile sections. GrowthLog is
// never written directly by the LLM; it only grows via an automatic
// append on each evolution.
var sections = []string{"Identity", "Traits", "Work style", "Preferences", "Values", "Recent focus", "Growth log"}

const growthLogSection = "Growth log"

const placeholder = "(not yet observed)"

// Chat is the minimal LLM capability soul needs.
type Chat interface {
	Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Engine reads and evolves the profile stored at core/SOUL.md.
type Engine struct {
	vault  *vault.Store
	chat   Chat
	logger logging.Logger
	now    func() time.Time
}

// New constructs an Engine. chat may be nil, in which case Init and
// Evolve fall back to rule-based text and Ask returns a textual
// fallback instead of a generated answer.
func New(v *vault.Store, chat Chat, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{vault: v, chat: chat, logger: logger, now: time.Now}
}

// Load returns the raw SOUL.md content, or "" if it doesn't exist yet.
func (e *Engine) Load() (string, error) {
	raw, err := e.vault.Read(path, filename)
	if err != nil {
		return "", fmt.Errorf("soul: read: %w", err)
	}
	if raw == nil {
		return "", nil
	}
	return string(raw), nil
}

// Context returns the profile summarized for injection into another
// LLM prompt: every section but the growth log, skipping placeholders.
func (e *Engine) Context() (string, error) {
	content, err := e.Load()
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", nil
	}
	_, body := vault.Parse([]byte(content))
	if strings.TrimSpace(body) == "" {
		return "", nil
	}

	parsed := parseSections(body)
	var parts []string
	for _, name := range sections {
		if name == growthLogSection {
			continue
		}
		text := strings.TrimSpace(parsed[name])
		if text != "" && text != placeholder {
			parts = append(parts, fmt.Sprintf("[%s] %s", name, text))
		}
	}
	return strings.Join(parts, "\n"), nil
}

const initSystemPrompt = "You organize a user's free-text self-description into a standard profile with " +
	"fixed sections. Preserve the user's own meaning; never invent facts. If a section has nothing to draw on, " +
	"write \"(not yet observed)\"."

const initPromptTemplate = "Organize this self-description into the standard profile format.\n\n" +
	"User description:\n%s\n\n" +
	"Output exactly these sections (each starting with ##):\n" +
	"## Identity\n## Traits\n## Work style\n## Preferences\n## Values\n## Recent focus\n\n" +
	"Keep each section to 1-3 concise lines. Output only the sections, nothing else."

// Init creates SOUL.md from a free-text preset. If the preset already
// has at least 3 of the standard section headers it is used directly;
// otherwise an LLM formats it into sections, with a rule-based fallback
// when no LLM is configured or it fails.
func (e *Engine) Init(ctx context.Context, preset string) (string, error) {
	today := formatDate(e.now())

	matched := 0
	for _, s := range sections {
		if strings.Contains(preset, "## "+s) {
			matched++
		}
	}

	var body string
	if matched >= 3 {
		body = strings.TrimSpace(preset)
	} else {
		body = e.llmFormat(ctx, preset)
		if body == "" {
			body = fallbackFormat(preset)
		}
	}
	if !strings.Contains(body, "## "+growthLogSection) {
		body += fmt.Sprintf("\n\n## %s\n- %s: profile initialized", growthLogSection, today)
	}

	fullBody := "# My digital soul\n\n" + body
	fields := map[string]string{
		"type":            "soul",
		"version":         "1",
		"last_evolved":    today,
		"evolution_count": "0",
	}
	content := vault.Build(fields, fullBody)
	if err := e.vault.Write(path, filename, content); err != nil {
		return "", fmt.Errorf("soul: init write: %w", err)
	}
	return string(content), nil
}

func (e *Engine) llmFormat(ctx context.Context, preset string) string {
	if e.chat == nil {
		return ""
	}
	prompt := fmt.Sprintf(initPromptTemplate, truncateRunes(preset, 2000))
	response, err := e.chat.Chat(ctx, initSystemPrompt, prompt, 600)
	if err != nil {
		e.logger.Warn("soul: llm format failed, using fallback", logging.F("error", err))
		return ""
	}
	return response
}

func fallbackFormat(preset string) string {
	var sb strings.Builder
	sb.WriteString("## Identity\n")
	sb.WriteString(strings.TrimSpace(preset))
	sb.WriteString("\n\n")
	for _, s := range sections[1:] {
		if s == growthLogSection {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n%s\n\n", s, placeholder)
	}
	return strings.TrimSpace(sb.String())
}

const evolveSystemPrompt = "You decide which parts of a user's profile need updating given new memories " +
	"and a daily report. Only update sections with a real, substantive change. Prefer to leave a section " +
	"untouched over making a speculative edit."

const evolvePromptTemplate = "Current profile:\n%s\n\n" +
	"New memory fragments:\n%s\n\n" +
	"Today's report summary:\n%s\n\n" +
	"Decide which sections need updating.\n" +
	"Rules:\n" +
	"- only return sections that actually need updating; omit the rest\n" +
	"- never update \"Growth log\" (the system appends to it automatically)\n" +
	"- if nothing needs updating, return an empty object {}\n" +
	"- an update's value must be that section's complete new content, not a diff\n\n" +
	`Return a strict JSON object, e.g. {"Recent focus": "new content"}. No prose, no markdown fences.`

// Evolve updates the profile given freshly extracted memories and
// today's insight report. It reports whether anything changed.
func (e *Engine) Evolve(ctx context.Context, newMemories []memory.Fragment, insightReport string) (bool, error) {
	current, err := e.Load()
	if err != nil {
		return false, err
	}
	if current == "" {
		return false, nil
	}
	fields, body := vault.Parse([]byte(current))

	memLines := make([]string, 0, len(newMemories))
	for i, m := range newMemories {
		if i >= 10 {
			break
		}
		if m.Text != "" {
			memLines = append(memLines, "- "+m.Text)
		}
	}
	memoryText := "(no new memories)"
	if len(memLines) > 0 {
		memoryText = strings.Join(memLines, "\n")
	}

	insightText := "(no insight)"
	if insightReport != "" {
		insightText = truncateRunes(insightReport, 2000)
	}

	updates := e.llmEvolve(ctx, truncateRunes(body, 3000), memoryText, truncateRunes(insightText, 1500))
	if len(updates) == 0 {
		return false, nil
	}

	today := e.now()
	newBody := mergeSections(body, updates, today)

	evolutionCount, _ := strconv.Atoi(fields["evolution_count"])
	fields["last_evolved"] = formatDate(today)
	fields["evolution_count"] = strconv.Itoa(evolutionCount + 1)

	if err := e.vault.Write(path, filename, vault.Build(fields, newBody)); err != nil {
		return false, fmt.Errorf("soul: evolve write: %w", err)
	}
	return true, nil
}

func (e *Engine) llmEvolve(ctx context.Context, currentSoul, memoryText, insightText string) map[string]string {
	if e.chat == nil {
		return nil
	}
	prompt := fmt.Sprintf(evolvePromptTemplate, currentSoul, memoryText, insightText)
	response, err := e.chat.Chat(ctx, evolveSystemPrompt, prompt, 800)
	if err != nil || response == "" {
		e.logger.Warn("soul: llm evolve failed, skipping", logging.F("error", err))
		return nil
	}
	return parseEvolveResponse(response)
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

func parseEvolveResponse(response string) map[string]string {
	response = strings.TrimSpace(response)
	if m := codeFenceRe.FindStringSubmatch(response); m != nil {
		response = strings.TrimSpace(m[1])
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		if m := jsonObjectRe.FindString(response); m != "" {
			if err2 := json.Unmarshal([]byte(m), &raw); err2 != nil {
				return nil
			}
		} else {
			return nil
		}
	}

	valid := make(map[string]string)
	for key, value := range raw {
		if key == growthLogSection || !containsSection(key) {
			continue
		}
		text, ok := value.(string)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		valid[key] = text
	}
	return valid
}

func containsSection(name string) bool {
	for _, s := range sections {
		if s == name {
			return true
		}
	}
	return false
}

func parseSections(body string) map[string]string {
	out := make(map[string]string)
	var current string
	var lines []string
	flush := func() {
		if current != "" {
			out[current] = strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimSpace(line[3:])
			lines = nil
			continue
		}
		if current != "" {
			lines = append(lines, line)
		}
	}
	flush()
	return out
}

func mergeSections(currentBody string, updates map[string]string, today time.Time) string {
	parsed := parseSections(currentBody)

	var changed []string
	for name, content := range updates {
		if name == growthLogSection {
			continue
		}
		if containsSection(name) {
			parsed[name] = strings.TrimSpace(content)
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)

	growth := parsed[growthLogSection]
	desc := "minor refinements"
	if len(changed) > 0 {
		desc = strings.Join(changed, ", ") + " updated"
	}
	growth = strings.TrimSpace(growth + fmt.Sprintf("\n- %s: evolved — %s", formatDate(today), desc))
	parsed[growthLogSection] = growth

	var sb strings.Builder
	sb.WriteString("# My digital soul\n\n")
	for _, name := range sections {
		if content, ok := parsed[name]; ok {
			fmt.Fprintf(&sb, "## %s\n%s\n\n", name, content)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

const chatSystemPrompt = "You are the user's digital soul. You have their profile, recent memories, and " +
	"insight reports. Answer using only that real context, giving personalized, grounded advice. Never invent " +
	"information you don't have; say so plainly if the context is insufficient. Keep the tone concise, honest, " +
	"and perceptive."

const chatPromptTemplate = "Context about the user:\n\n%s\n\n" +
	"The user's question: %s\n\n" +
	"Answer using the context above."

// InsightReader loads the most recent daily insight report body, so Ask
// can ground its answer in it without soul importing the insight
// package (which would create an import cycle back through Reflector).
type InsightReader interface {
	LatestDailyReport() (string, error)
}

// Ask answers a free-form question about the user, blending profile
// context, high-importance memories, and the latest insight report into
// one LLM prompt, with a textual fallback when no LLM is configured.
func (e *Engine) Ask(ctx context.Context, question string, memEngine *memory.Engine, insights InsightReader) (string, error) {
	soulContext, err := e.Context()
	if err != nil {
		return "", err
	}

	memoryText := "(no important memories yet)"
	if memEngine != nil {
		mems, err := memEngine.LoadHighImportance(3, 5)
		if err == nil && len(mems) > 0 {
			lines := make([]string, 0, len(mems))
			for _, m := range mems {
				if m.Text != "" {
					lines = append(lines, "- "+m.Text)
				}
			}
			if len(lines) > 0 {
				memoryText = strings.Join(lines, "\n")
			}
		}
	}

	var insightText string
	if insights != nil {
		if report, err := insights.LatestDailyReport(); err == nil {
			insightText = truncateRunes(report, 2000)
		}
	}

	var parts []string
	if soulContext != "" {
		parts = append(parts, "[Profile]\n"+soulContext)
	}
	parts = append(parts, "[Important recent memories]\n"+memoryText)
	if insightText != "" {
		parts = append(parts, "[Latest insight report]\n"+insightText)
	}
	fullContext := strings.Join(parts, "\n\n")

	if e.chat == nil {
		return fallbackAnswer(soulContext), nil
	}
	prompt := fmt.Sprintf(chatPromptTemplate, fullContext, question)
	response, err := e.chat.Chat(ctx, chatSystemPrompt, prompt, 800)
	if err != nil || response == "" {
		e.logger.Warn("soul: llm chat failed, using fallback", logging.F("error", err))
		return fallbackAnswer(soulContext), nil
	}
	return response, nil
}

func fallbackAnswer(soulContext string) string {
	if soulContext != "" {
		return "(the LLM is unavailable right now. Here is your profile summary instead:)\n\n" + soulContext
	}
	return "(the LLM is unavailable and no profile has been initialized yet. Run soul init first.)"
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
