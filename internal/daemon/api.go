// Package daemon implements the local-loopback HTTP surface
// (spec.md §4.9): JSON in/out, no authentication (explicit Non-goal),
// backed by the queue, vault, daily log, to-do store, and insight
// engine.
package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"soulagent/internal/compact"
	"soulagent/internal/dailylog"
	"soulagent/internal/insight"
	"soulagent/internal/logging"
	"soulagent/internal/memory"
	"soulagent/internal/producers"
	"soulagent/internal/runtimestate"
	"soulagent/internal/soul"
	"soulagent/internal/todostore"
	"soulagent/internal/types"
	"soulagent/internal/vault"
)

// Sink is the subset of the ingest queue the HTTP surface needs.
type Sink interface {
	Put(item types.IngestItem) bool
}

// API holds every dependency an HTTP handler might need.
type API struct {
	Sink     Sink
	Vault    *vault.Store
	DailyLog *dailylog.Log
	Todos    *todostore.Store
	Insight  *insight.Engine
	Soul     *soul.Engine
	Memory   *memory.Engine
	Compact  *compact.Engine
	State    *runtimestate.Store
	Terminal *producers.TerminalSink
	Logger   logging.Logger
	Version  string
}

// Routes registers every endpoint from spec.md §4.9 onto mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /note", a.handleNote)
	mux.HandleFunc("POST /terminal/cmd", a.handleTerminalCmd)
	mux.HandleFunc("POST /ingest/claudecode", a.handleClaudeCode)
	mux.HandleFunc("GET /search", a.handleSearch)
	mux.HandleFunc("GET /recall", a.handleRecall)
	mux.HandleFunc("GET /insight", a.handleInsight)
	mux.HandleFunc("GET /categories", a.handleCategories)
	mux.HandleFunc("GET /todo/list", a.handleTodoList)
	mux.HandleFunc("GET /todo/progress/{id}", a.handleTodoProgress)
	mux.HandleFunc("GET /core", a.handleCore)
	mux.HandleFunc("GET /service/status", a.handleServiceStatus)
	mux.HandleFunc("GET /soul", a.handleSoulGet)
	mux.HandleFunc("POST /soul/init", a.handleSoulInit)
	mux.HandleFunc("POST /soul/chat", a.handleSoulChat)
	mux.HandleFunc("POST /soul/evolve", a.handleSoulEvolve)
	mux.HandleFunc("POST /compact", a.handleCompact)
}

type noteRequest struct {
	Text string `json:"text"`
}

func (a *API) handleNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, invalidError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeServiceError(w, invalidError("text is required", nil))
		return
	}
	a.Sink.Put(types.NewNoteItem(req.Text, time.Now()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type terminalCmdRequest struct {
	Token    string `json:"token"`
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Duration string `json:"duration"`
}

func (a *API) handleTerminalCmd(w http.ResponseWriter, r *http.Request) {
	var req terminalCmdRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, invalidError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeServiceError(w, invalidError("command is required", nil))
		return
	}
	token := req.Token
	if token == "" {
		token = a.Terminal.NewSessionToken()
	}
	a.Terminal.Record(token, producers.TerminalCommand{
		Command:  req.Command,
		ExitCode: req.ExitCode,
		Duration: req.Duration,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "buffered", "token": token})
}

type textRequest struct {
	Text string `json:"text"`
}

func (a *API) handleClaudeCode(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, invalidError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeServiceError(w, invalidError("text is required", nil))
		return
	}
	a.Sink.Put(types.NewClaudeCodeItem(req.Text, time.Now()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// searchWindowDays bounds how many recent daily logs /search scans.
const searchWindowDays = 30

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		writeServiceError(w, invalidError("q is required", nil))
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var matches []string
	now := time.Now()
	for i := 0; i < searchWindowDays && len(matches) < limit; i++ {
		date := types.FormatDate(now.AddDate(0, 0, -i))
		body, err := a.DailyLog.Read(date)
		if err != nil || body == "" {
			continue
		}
		for _, line := range strings.Split(body, "\n") {
			if strings.Contains(strings.ToLower(line), q) {
				matches = append(matches, line)
				if len(matches) >= limit {
					break
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": matches})
}

func (a *API) handleRecall(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	days, err := periodToDays(period)
	if err != nil {
		writeServiceError(w, invalidError(err.Error(), nil))
		return
	}

	now := time.Now()
	bodies := make(map[string]string)
	for i := 0; i < days; i++ {
		date := types.FormatDate(now.AddDate(0, 0, -i))
		body, err := a.DailyLog.Read(date)
		if err != nil {
			continue
		}
		if body != "" {
			bodies[date] = body
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "logs": bodies})
}

func (a *API) handleInsight(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" || date == "today" {
		date = types.FormatDate(time.Now())
	}
	report, err := a.Insight.Generate(r.Context(), date)
	if err != nil {
		writeServiceError(w, unavailableError("failed to generate insight", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"date": date, "report": report})
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	days, err := periodToDays(period)
	if err != nil {
		writeServiceError(w, invalidError(err.Error(), nil))
		return
	}

	counts := make(map[string]int)
	now := time.Now()
	for i := 0; i < days; i++ {
		date := types.FormatDate(now.AddDate(0, 0, -i))
		body, err := a.DailyLog.Read(date)
		if err != nil || body == "" {
			continue
		}
		_, logBody := vault.Parse([]byte(body))
		for _, entry := range insight.ParseLog(logBody) {
			cat := entry.Category
			if cat == "" {
				cat = "uncategorized"
			}
			counts[cat]++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "categories": counts})
}

func periodToDays(period string) (int, error) {
	switch period {
	case "", "today":
		return 1, nil
	case "week":
		return 7, nil
	case "month":
		return 30, nil
	default:
		return 0, errUnknownPeriod
	}
}

var errUnknownPeriod = errors.New("period must be one of today, week, month")

func (a *API) handleTodoList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", "active":
		items, err := a.Todos.List()
		if err != nil {
			writeServiceError(w, unavailableError("failed to list to-dos", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"todos": items})
	case "all":
		items, err := a.Todos.ListAll()
		if err != nil {
			writeServiceError(w, unavailableError("failed to list to-dos", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"todos": items})
	case "stalled":
		stalled, err := a.Todos.Stalled(time.Now(), 3)
		if err != nil {
			writeServiceError(w, unavailableError("failed to list stalled to-dos", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"todos": stalled})
	default:
		writeServiceError(w, invalidError("status must be one of active, stalled, all", nil))
	}
}

func (a *API) handleTodoProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, ok, err := a.Todos.Get(id)
	if err != nil {
		writeServiceError(w, unavailableError("failed to read to-do", err))
		return
	}
	if !ok {
		writeServiceError(w, notFoundError("to-do not found", nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       item.ID,
		"text":     item.Text,
		"activity": item.ActivityLog,
	})
}

func (a *API) handleCore(w http.ResponseWriter, r *http.Request) {
	data, err := a.Vault.Read("core", "MEMORY.md")
	if err != nil {
		writeServiceError(w, unavailableError("failed to read core memory", err))
		return
	}
	if data == nil {
		data = []byte("")
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"ok":      true,
		"version": a.Version,
		"pid":     os.Getpid(),
	}
	if a.State != nil {
		if n, err := a.State.ClassifierFailures(); err == nil {
			status["classifier_failures"] = n
		} else {
			a.Logger.Warn("service status: failed to read classifier failure count", logging.F("error", err))
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleSoulGet(w http.ResponseWriter, r *http.Request) {
	if a.Soul == nil {
		writeServiceError(w, notConfiguredError("soul profile"))
		return
	}
	content, err := a.Soul.Load()
	if err != nil {
		writeServiceError(w, unavailableError("failed to read soul profile", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "content": content})
}

type soulInitRequest struct {
	Preset string `json:"preset"`
	Force  bool   `json:"force"`
}

func (a *API) handleSoulInit(w http.ResponseWriter, r *http.Request) {
	if a.Soul == nil {
		writeServiceError(w, notConfiguredError("soul profile"))
		return
	}
	var req soulInitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, invalidError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Preset) == "" {
		writeServiceError(w, invalidError("preset is required", nil))
		return
	}

	if !req.Force {
		existing, err := a.Soul.Load()
		if err != nil {
			writeServiceError(w, unavailableError("failed to check existing soul profile", err))
			return
		}
		if existing != "" {
			writeServiceError(w, conflictError("soul profile already initialized; pass force=true to reinitialize", nil))
			return
		}
	}

	content, err := a.Soul.Init(r.Context(), req.Preset)
	if err != nil {
		writeServiceError(w, unavailableError("failed to initialize soul profile", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "content": content})
}

type soulChatRequest struct {
	Question string `json:"question"`
}

func (a *API) handleSoulChat(w http.ResponseWriter, r *http.Request) {
	if a.Soul == nil {
		writeServiceError(w, notConfiguredError("soul profile"))
		return
	}
	var req soulChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, invalidError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeServiceError(w, invalidError("question is required", nil))
		return
	}
	answer, err := a.Soul.Ask(r.Context(), req.Question, a.Memory, a.Insight)
	if err != nil {
		writeServiceError(w, unavailableError("failed to answer question", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "answer": answer})
}

func (a *API) handleSoulEvolve(w http.ResponseWriter, r *http.Request) {
	if a.Soul == nil || a.Memory == nil {
		writeServiceError(w, notConfiguredError("soul profile"))
		return
	}
	date := types.FormatDate(time.Now())
	report, err := a.Insight.LatestDailyReport()
	if err != nil {
		writeServiceError(w, unavailableError("failed to read latest insight report", err))
		return
	}
	mems, err := a.Memory.LoadHighImportance(3, 10)
	if err != nil {
		writeServiceError(w, unavailableError("failed to load memories", err))
		return
	}
	evolved, err := a.Soul.Evolve(r.Context(), mems, report)
	if err != nil {
		writeServiceError(w, unavailableError("failed to evolve soul profile", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "evolved": evolved, "date": date})
}

type compactRequest struct {
	Scope string `json:"scope"`
}

func (a *API) handleCompact(w http.ResponseWriter, r *http.Request) {
	if a.Compact == nil {
		writeServiceError(w, notConfiguredError("compaction"))
		return
	}
	var req compactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, invalidError("invalid request body", err))
		return
	}

	now := time.Now()
	var report string
	var err error
	switch req.Scope {
	case "month":
		report, err = a.Compact.Month(r.Context(), now)
	case "", "week":
		report, err = a.Compact.Week(r.Context(), now)
	default:
		writeServiceError(w, invalidError("scope must be one of week, month", nil))
		return
	}
	if err != nil {
		writeServiceError(w, unavailableError("failed to generate report", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "report": report, "report_length": len(report)})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
