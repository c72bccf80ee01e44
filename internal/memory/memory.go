// Package memory distills long-term memory fragments out of daily
// insight reports: preferences, behavioral patterns, decisions, lessons
// learned, and beliefs that are worth keeping long after the report
// itself ages out (spec.md supplement; grounded on original_source
// soul_agent/modules/memory.py).
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"soulagent/internal/logging"
	"soulagent/internal/vault"
)

const dir = "memories"

// Category is the fixed set of memory kinds the extractor may assign.
type Category string

const (
	CategoryPreference Category = "preference"
	CategoryPattern    Category = "pattern"
	CategoryDecision   Category = "decision"
	CategoryLearning   Category = "learning"
	CategoryBelief     Category = "belief"
)

func (c Category) valid() bool {
	switch c {
	case CategoryPreference, CategoryPattern, CategoryDecision, CategoryLearning, CategoryBelief:
		return true
	}
	return false
}

// Fragment is one persisted memory.
type Fragment struct {
	Text       string
	Category   Category
	Importance int
	Tags       string
	SourceDate string
	Filename   string
}

// Chat is the minimal LLM capability memory needs: a single completion
// call. *classifier.Classifier satisfies this via its Chat method.
type Chat interface {
	Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Engine extracts and stores memory fragments in the vault.
type Engine struct {
	vault  *vault.Store
	chat   Chat
	logger logging.Logger
}

// New constructs an Engine. chat may be nil, in which case Extract
// falls back to a rule-based scan of the report's advice section.
func New(v *vault.Store, chat Chat, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{vault: v, chat: chat, logger: logger}
}

const extractSystemPrompt = "You distill long-term memory fragments from a user's daily activity report. " +
	"Only extract things with lasting value: preferences, behavioral patterns, notable decisions, lessons " +
	"learned, core beliefs. Do not extract one-off event details."

const extractPromptTemplate = "Distill 3-5 memory fragments worth remembering long-term from this daily report.\n\n" +
	"Report:\n%s\n\n" +
	"Rules:\n" +
	"- each memory is an independent, durable observation or conclusion\n" +
	"- category must be one of: preference, pattern, decision, learning, belief\n" +
	"- importance ranges 1-5, 5 is most important\n" +
	"- tags are comma-separated\n\n" +
	`Return a strict JSON array only, e.g. [{"text": "...", "category": "pattern", "importance": 4, "tags": "focus,deep-work"}]. ` +
	"No prose, no markdown fences."

// Extract distills memory fragments from an insight report generated
// for targetDate, deduplicates them against what is already stored, and
// persists the survivors. Empty or too-short reports are skipped
// (spec.md supplement, mirroring the "no data" short-circuit in
// original_source/soul_agent/modules/memory.py's extract_memories).
func (e *Engine) Extract(ctx context.Context, targetDate, soulContext, report string) ([]Fragment, error) {
	trimmed := strings.TrimSpace(report)
	if trimmed == "" || len(trimmed) < 100 || strings.Contains(trimmed, "_no data") {
		return nil, nil
	}

	candidates := e.llmExtract(ctx, soulContext, report)
	if len(candidates) == 0 {
		return nil, nil
	}

	existing, err := e.loadExistingTexts()
	if err != nil {
		return nil, fmt.Errorf("memory: load existing: %w", err)
	}
	fresh := deduplicate(candidates, existing)

	saved := make([]Fragment, 0, len(fresh))
	for i, frag := range fresh {
		frag.SourceDate = targetDate
		frag.Filename = fmt.Sprintf("%s-%d.md", targetDate, i+1)
		if err := e.save(frag); err != nil {
			return saved, fmt.Errorf("memory: save fragment %d: %w", i+1, err)
		}
		saved = append(saved, frag)
	}
	return saved, nil
}

func (e *Engine) llmExtract(ctx context.Context, soulContext, report string) []Fragment {
	if e.chat == nil {
		return fallbackExtract(report)
	}

	prompt := fmt.Sprintf(extractPromptTemplate, truncateRunes(report, 3000))
	system := extractSystemPrompt
	if soulContext != "" {
		system = "User profile:\n" + soulContext + "\n\n" + system
	}

	response, err := e.chat.Chat(ctx, system, prompt, 800)
	if err != nil || response == "" {
		e.logger.Warn("memory: llm extraction failed, using fallback", logging.F("error", err))
		return fallbackExtract(report)
	}
	return parseLLMResponse(response)
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
var jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)

func parseLLMResponse(response string) []Fragment {
	response = strings.TrimSpace(response)
	if m := codeFenceRe.FindStringSubmatch(response); m != nil {
		response = strings.TrimSpace(m[1])
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		if m := jsonArrayRe.FindString(response); m != "" {
			if err2 := json.Unmarshal([]byte(m), &raw); err2 != nil {
				return nil
			}
		} else {
			return nil
		}
	}

	out := make([]Fragment, 0, len(raw))
	for i, item := range raw {
		if i >= 5 {
			break
		}
		text, _ := item["text"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		category := CategoryLearning
		if cat, ok := item["category"].(string); ok && Category(cat).valid() {
			category = Category(cat)
		}

		importance := 3
		switch v := item["importance"].(type) {
		case float64:
			importance = int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				importance = n
			}
		}
		if importance < 1 || importance > 5 {
			importance = 3
		}

		tags, _ := item["tags"].(string)

		out = append(out, Fragment{Text: text, Category: category, Importance: importance, Tags: strings.TrimSpace(tags)})
	}
	return out
}

// fallbackExtract scans the report's "Work advice" bullets when the LLM
// is unavailable, mirroring memory.py's _fallback_extract.
func fallbackExtract(report string) []Fragment {
	var out []Fragment
	inAdvice := false
	for _, line := range strings.Split(report, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, "Work advice") {
			inAdvice = true
			continue
		}
		if inAdvice && strings.HasPrefix(trimmed, "##") {
			break
		}
		if inAdvice && strings.HasPrefix(trimmed, "- ") && len(trimmed) > 10 {
			out = append(out, Fragment{Text: strings.TrimSpace(trimmed[2:]), Category: CategoryLearning, Importance: 3})
		}
		if len(out) >= 3 {
			break
		}
	}
	return out
}

func (e *Engine) loadExistingTexts() ([]string, error) {
	names, err := e.vault.List(dir)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := e.vault.Read(dir, name)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		_, body := vault.Parse(raw)
		if strings.TrimSpace(body) != "" {
			texts = append(texts, strings.TrimSpace(body))
		}
	}
	return texts, nil
}

// deduplicate drops candidates whose token overlap with any existing
// memory meets or exceeds 0.6, the same threshold memory.py uses.
func deduplicate(candidates []Fragment, existing []string) []Fragment {
	if len(existing) == 0 {
		return candidates
	}
	existingTokens := make([]map[string]bool, len(existing))
	for i, text := range existing {
		existingTokens[i] = tokenSet(text)
	}

	out := make([]Fragment, 0, len(candidates))
	for _, c := range candidates {
		if !isDuplicate(tokenSet(c.Text), existingTokens) {
			out = append(out, c)
		}
	}
	return out
}

func isDuplicate(newTokens map[string]bool, existing []map[string]bool) bool {
	if len(newTokens) == 0 {
		return false
	}
	for _, oldTokens := range existing {
		if len(oldTokens) == 0 {
			continue
		}
		overlap := 0
		for t := range newTokens {
			if oldTokens[t] {
				overlap++
			}
		}
		smaller := len(newTokens)
		if len(oldTokens) < smaller {
			smaller = len(oldTokens)
		}
		if smaller > 0 && float64(overlap)/float64(smaller) >= 0.6 {
			return true
		}
	}
	return false
}

var tokenSplitRe = regexp.MustCompile(`[\s,.!?;:]+`)

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenSplitRe.Split(strings.ToLower(text), -1) {
		if len([]rune(tok)) > 1 {
			set[tok] = true
		}
	}
	return set
}

func (e *Engine) save(frag Fragment) error {
	fields := map[string]string{
		"type":        "memory",
		"source_date": frag.SourceDate,
		"category":    string(frag.Category),
		"importance":  strconv.Itoa(frag.Importance),
		"tags":        frag.Tags,
	}
	return e.vault.Write(dir, frag.Filename, vault.Build(fields, frag.Text))
}

// LoadHighImportance returns stored fragments with importance >=
// minImportance, most-recently-listed first, capped at limit.
func (e *Engine) LoadHighImportance(minImportance, limit int) ([]Fragment, error) {
	all, err := e.listAll()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Filename > all[j].Filename })

	out := make([]Fragment, 0, limit)
	for _, f := range all {
		if f.Importance < minImportance {
			continue
		}
		out = append(out, f)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListAll returns every stored memory fragment with its metadata.
func (e *Engine) ListAll() ([]Fragment, error) {
	return e.listAll()
}

func (e *Engine) listAll() ([]Fragment, error) {
	names, err := e.vault.List(dir)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	out := make([]Fragment, 0, len(names))
	for _, name := range names {
		raw, err := e.vault.Read(dir, name)
		if err != nil {
			return nil, fmt.Errorf("memory: read %s: %w", name, err)
		}
		if raw == nil {
			continue
		}
		fields, body := vault.Parse(raw)
		importance, _ := strconv.Atoi(fields["importance"])
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		out = append(out, Fragment{
			Text:       body,
			Category:   Category(fields["category"]),
			Importance: importance,
			Tags:       fields["tags"],
			SourceDate: fields["source_date"],
			Filename:   name,
		})
	}
	return out, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
