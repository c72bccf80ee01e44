package producers

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"soulagent/internal/logging"
	"soulagent/internal/types"
)

// terminalIdleFlush and terminalCountThreshold gate a buffered
// session's flush (spec.md §4.8).
const (
	terminalIdleFlush      = 5 * time.Second
	terminalCountThreshold = 10
)

// TerminalCommand is one shell invocation reported by the hook.
type TerminalCommand struct {
	Command  string
	ExitCode int
	Duration string
}

type terminalSession struct {
	mu       sync.Mutex
	commands []TerminalCommand
	timer    *time.Timer
}

// TerminalSink buffers commands per session token, flushing on an idle
// timeout or a count threshold, and emits one summarized item per
// flush (spec.md §4.8). It's driven by the HTTP surface's
// /terminal/cmd handler rather than a polling loop.
type TerminalSink struct {
	sink   Sink
	logger logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*terminalSession
}

// NewTerminalSink constructs a TerminalSink.
func NewTerminalSink(sink Sink, logger logging.Logger) *TerminalSink {
	if logger == nil {
		logger = logging.Nop()
	}
	return &TerminalSink{sink: sink, logger: logger, now: time.Now, sessions: make(map[string]*terminalSession)}
}

func (t *TerminalSink) Name() string { return "terminal" }

// NewSessionToken mints a fresh session token for a shell hook's first
// command that arrives without one (spec.md §9 Open Questions).
func (t *TerminalSink) NewSessionToken() string {
	return ulid.Make().String()
}

// Record buffers cmd under token, flushing immediately if the count
// threshold is reached and otherwise arming an idle timer.
func (t *TerminalSink) Record(token string, cmd TerminalCommand) {
	session := t.sessionFor(token)

	session.mu.Lock()
	session.commands = append(session.commands, cmd)
	full := len(session.commands) >= terminalCountThreshold
	if session.timer != nil {
		session.timer.Stop()
	}
	if !full {
		session.timer = time.AfterFunc(terminalIdleFlush, func() { t.flush(token) })
	}
	session.mu.Unlock()

	if full {
		t.flush(token)
	}
}

func (t *TerminalSink) sessionFor(token string) *terminalSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[token]
	if !ok {
		s = &terminalSession{}
		t.sessions[token] = s
	}
	return s
}

func (t *TerminalSink) flush(token string) {
	t.mu.Lock()
	session, ok := t.sessions[token]
	if ok {
		delete(t.sessions, token)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	session.mu.Lock()
	commands := session.commands
	if session.timer != nil {
		session.timer.Stop()
	}
	session.mu.Unlock()
	if len(commands) == 0 {
		return
	}

	summary, joined, lastExit, lastDuration := summarizeCommands(commands)
	t.sink.Put(types.NewTerminalItem(summary, joined, lastExit, lastDuration, t.now()))
}

func summarizeCommands(commands []TerminalCommand) (summary, joined string, lastExit, lastDuration string) {
	lines := make([]string, len(commands))
	for i, c := range commands {
		lines[i] = c.Command
	}
	joined = strings.Join(lines, "; ")
	summary = joined
	if len(commands) > 0 {
		last := commands[len(commands)-1]
		lastExit = fmt.Sprintf("%d", last.ExitCode)
		lastDuration = last.Duration
	}
	return summary, joined, lastExit, lastDuration
}
