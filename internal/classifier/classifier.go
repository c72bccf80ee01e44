// Package classifier turns a batch of IngestItems into ClassifiedItems
// via a remote LLM, degrading to a deterministic fallback on any
// failure (spec.md §4.4).
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"soulagent/internal/logging"
	"soulagent/internal/runtimestate"
	"soulagent/internal/types"
)

// DefaultTimeout bounds the LLM HTTP call (spec.md §4.4).
const DefaultTimeout = 30 * time.Second

// DefaultMaxTokens is the response budget requested from the model.
const DefaultMaxTokens = 1024

// Config carries the model endpoint the classifier talks to.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	APIBase  string
}

// Classifier formats prompts, calls an OpenAI-compatible chat
// completion endpoint, and applies the fallback table on any failure.
// Grounded on the request/response shape of an OpenAI-compatible HTTP
// embedding client, generalized to a chat-completions call.
type Classifier struct {
	cfg     Config
	client  *http.Client
	timeout time.Duration
	logger  logging.Logger
	state   *runtimestate.Store

	fallbackCount atomic.Int64
}

// New constructs a Classifier for cfg.
func New(cfg Config, logger logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Classifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: DefaultTimeout},
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// FallbackCount reports how many items have degraded to the fallback
// rule table since the classifier was created.
func (c *Classifier) FallbackCount() int64 {
	return c.fallbackCount.Load()
}

// WithRuntimeState wires the persisted runtime-state ledger (spec.md
// §6) so classifier fallbacks are counted across restarts, not just
// for the lifetime of this process. Optional: without it, only
// FallbackCount's in-process figure is available. Returns c so it
// chains onto New.
func (c *Classifier) WithRuntimeState(state *runtimestate.Store) *Classifier {
	c.state = state
	return c
}

// recordFallbacks bumps the in-process counter and, if a runtime-state
// ledger is wired, the persisted one too.
func (c *Classifier) recordFallbacks(n int64) {
	if n == 0 {
		return
	}
	c.fallbackCount.Add(n)
	if c.state == nil {
		return
	}
	if _, err := c.state.IncrementClassifierFailures(n); err != nil {
		c.logger.Warn("classifier: failed to persist fallback count", logging.F("error", err))
	}
}

// Chat issues a single chat-completion call against the same endpoint
// and credentials the classifier itself uses, for callers that want an
// occasional one-shot completion (e.g. the insight engine's advice
// section, or the soul/memory reflection passes) without standing up a
// second HTTP client. system and prompt map directly onto the
// completion's system and user messages.
func (c *Classifier) Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return c.chat(ctx, system, prompt, maxTokens)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// rawClassification is the shape of one element of the LLM's JSON array
// response, before coercion into a ClassifiedItem.
type rawClassification struct {
	Category      string   `json:"category"`
	Tags          []string `json:"tags"`
	Importance    int      `json:"importance"`
	Summary       string   `json:"summary"`
	ActionType    string   `json:"action_type"`
	ActionDetail  string   `json:"action_detail"`
	RelatedTodoID string   `json:"related_todo_id"`
}

// Classify formats a single prompt covering the whole batch and the
// active to-dos, calls the LLM once, and returns exactly len(batch)
// ClassifiedItems, index-aligned with batch. It never returns an
// error: any failure degrades the whole batch (or the deviant indices)
// to the fallback rule table (spec.md §4.4, §9).
func (c *Classifier) Classify(ctx context.Context, batch []types.IngestItem, activeTodos []types.TodoSummary) []types.ClassifiedItem {
	results := make([]types.ClassifiedItem, len(batch))
	if len(batch) == 0 {
		return results
	}

	raw, err := c.call(ctx, batch, activeTodos)
	if err != nil {
		c.logger.Warn("classifier: LLM call failed, using fallback for whole batch", logging.F("error", err))
		for i, item := range batch {
			results[i] = fallback(item)
		}
		c.recordFallbacks(int64(len(batch)))
		return results
	}

	parsed, ok := parseResponseArray(raw, len(batch))
	if !ok {
		c.logger.Warn("classifier: response shape mismatch, using fallback for whole batch")
		for i, item := range batch {
			results[i] = fallback(item)
		}
		c.recordFallbacks(int64(len(batch)))
		return results
	}

	var fallbacks int64
	for i, item := range batch {
		if parsed[i] == nil {
			results[i] = fallback(item)
			fallbacks++
			continue
		}
		results[i] = coerce(item, *parsed[i])
	}
	c.recordFallbacks(fallbacks)
	return results
}

func (c *Classifier) call(ctx context.Context, batch []types.IngestItem, activeTodos []types.TodoSummary) (string, error) {
	prompt := buildPrompt(batch, activeTodos)
	return c.chat(ctx, "You are a strict JSON classifier. Respond with a JSON array only, no prose, no markdown fences.", prompt, DefaultMaxTokens)
}

// chat is the shared HTTP path for every LLM call the classifier makes,
// whether it is producing a classification array or, via Chat, a plain
// one-shot completion for another package.
func (c *Classifier) chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := chatRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.APIBase, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// buildPrompt embeds the active to-dos and the batch, one line per
// item as "[source, HH:MM] text" (spec.md §4.4 step 1).
func buildPrompt(batch []types.IngestItem, activeTodos []types.TodoSummary) string {
	todosJSON, _ := json.Marshal(activeTodos)

	var sb strings.Builder
	sb.WriteString("Active to-dos:\n")
	sb.Write(todosJSON)
	sb.WriteString("\n\nBatch:\n")
	for _, item := range batch {
		fmt.Fprintf(&sb, "[%s, %s] %s\n", item.Source, item.Timestamp.Format("15:04"), item.Text)
	}
	return sb.String()
}

// stripCodeFences removes a leading ```json / ``` fence and trailing ```
// if present (spec.md §4.4 step 3).
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseResponseArray parses raw as a JSON array of length n. It also
// tolerates a bare JSON object being returned instead of a
// single-element array (spec.md §9), wrapping it. Any other shape, or
// a length mismatch, is reported as ok=false and the whole batch falls
// back.
func parseResponseArray(raw string, n int) ([]*rawClassification, bool) {
	cleaned := stripCodeFences(raw)
	if cleaned == "" {
		return nil, false
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &arr); err != nil {
		// Tolerate a bare object where an array was expected, but only
		// when the batch itself is a single item.
		if n == 1 {
			var obj map[string]any
			if err2 := json.Unmarshal([]byte(cleaned), &obj); err2 == nil {
				arr = []json.RawMessage{json.RawMessage(cleaned)}
			} else {
				return nil, false
			}
		} else {
			return nil, false
		}
	}
	if len(arr) != n {
		return nil, false
	}

	out := make([]*rawClassification, n)
	for i, elem := range arr {
		var rc rawClassification
		if err := json.Unmarshal(elem, &rc); err != nil {
			out[i] = nil
			continue
		}
		if !types.Category(rc.Category).IsValid() && rc.Category != "" {
			// invalid category is still a "valid object", coercion will
			// map it to work; only a totally unparseable element is nil.
		}
		out[i] = &rc
	}
	return out, true
}

// coerce applies the per-field validation rules from spec.md §4.4 step 4.
func coerce(item types.IngestItem, rc rawClassification) types.ClassifiedItem {
	category := types.Category(rc.Category)
	if !category.IsValid() {
		category = types.CategoryWork
	}

	importance := rc.Importance
	if importance == 0 {
		importance = 3
	}
	if importance < 1 {
		importance = 1
	}
	if importance > 5 {
		importance = 5
	}

	summary := rc.Summary
	if summary == "" {
		summary = truncate(item.Text, 30)
	} else {
		summary = truncate(summary, 30)
	}

	actionType := types.ActionType(rc.ActionType)
	if !actionType.IsValid() {
		actionType = ""
	}

	tags := rc.Tags
	if tags == nil {
		tags = []string{}
	}
	if len(tags) > 5 {
		tags = tags[:5]
	}

	return types.ClassifiedItem{
		IngestItem:    item,
		Category:      category,
		Tags:          tags,
		Importance:    importance,
		Summary:       summary,
		ActionType:    actionType,
		ActionDetail:  rc.ActionDetail,
		RelatedTodoID: rc.RelatedTodoID,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
