package types

import "time"

// IngestItem is a raw, pre-classification record produced by one of the
// daemon's producers or handed in directly over the HTTP surface.
type IngestItem struct {
	Text      string
	Source    Source
	Timestamp time.Time
	Meta      map[string]string
}

// Typed constructors keep producers from typo-ing meta keys — the
// per-source shape lives here, not scattered across producer code.

// NewNoteItem builds an IngestItem for a manually authored note.
func NewNoteItem(text string, ts time.Time) IngestItem {
	return IngestItem{Text: text, Source: SourceNote, Timestamp: ts}
}

// NewClipboardItem builds an IngestItem for a clipboard snapshot.
func NewClipboardItem(text string, ts time.Time) IngestItem {
	return IngestItem{Text: text, Source: SourceClipboard, Timestamp: ts}
}

// NewBrowserItem builds an IngestItem for a visited browser history row.
func NewBrowserItem(url, title string, ts time.Time) IngestItem {
	text := title
	if text == "" {
		text = url
	} else {
		text = title + " — " + url
	}
	return IngestItem{
		Text:      text,
		Source:    SourceBrowser,
		Timestamp: ts,
		Meta:      map[string]string{"url": url, "title": title},
	}
}

// NewFileItem builds an IngestItem for a filesystem change.
func NewFileItem(path, action, filename, preview string, ts time.Time) IngestItem {
	return IngestItem{
		Text:      "[" + action + "] " + filename + ": " + preview,
		Source:    SourceFile,
		Timestamp: ts,
		Meta:      map[string]string{"path": path, "action": action, "filename": filename},
	}
}

// NewTerminalItem builds an IngestItem summarizing a flushed batch of
// shell commands.
func NewTerminalItem(summary, command, exitCode, duration string, ts time.Time) IngestItem {
	return IngestItem{
		Text:      summary,
		Source:    SourceTerminal,
		Timestamp: ts,
		Meta:      map[string]string{"command": command, "exit_code": exitCode, "duration": duration},
	}
}

// NewClaudeCodeItem builds an IngestItem for conversational tool output.
func NewClaudeCodeItem(text string, ts time.Time) IngestItem {
	return IngestItem{Text: text, Source: SourceClaudeCode, Timestamp: ts}
}

// NewInputMethodItem builds an IngestItem for a flushed keystroke buffer.
func NewInputMethodItem(text string, ts time.Time) IngestItem {
	return IngestItem{Text: text, Source: SourceInputMethod, Timestamp: ts}
}
