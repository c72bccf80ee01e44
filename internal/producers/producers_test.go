package producers

import (
	"context"
	"sync"
	"testing"
	"time"

	"soulagent/internal/types"
)

// fakeSink records every item pushed into it, safe for concurrent use.
type fakeSink struct {
	mu    sync.Mutex
	items []types.IngestItem
}

func (f *fakeSink) Put(item types.IngestItem) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return true
}

func (f *fakeSink) snapshot() []types.IngestItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.IngestItem, len(f.items))
	copy(out, f.items)
	return out
}

func TestClipboardEmitsOnChangeOnly(t *testing.T) {
	sink := &fakeSink{}
	c := NewClipboard(sink, nil)
	values := []string{"hello", "hello", "world", ""}
	i := 0
	c.read = func() (string, error) {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v, nil
	}

	for range values {
		c.poll()
	}

	items := sink.snapshot()
	if len(items) != 2 {
		t.Fatalf("expected 2 emitted items (hello, world), got %d: %v", len(items), items)
	}
	if items[0].Text != "hello" || items[1].Text != "world" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestClipboardTruncatesOversizedPayload(t *testing.T) {
	sink := &fakeSink{}
	c := NewClipboard(sink, nil)
	huge := make([]byte, maxClipboardLength+500)
	for i := range huge {
		huge[i] = 'x'
	}
	c.read = func() (string, error) { return string(huge), nil }
	c.poll()

	items := sink.snapshot()
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if len(items[0].Text) != maxClipboardLength {
		t.Fatalf("expected truncated to %d, got %d", maxClipboardLength, len(items[0].Text))
	}
}

type fakeKeySource struct {
	ch chan KeyEvent
}

func (f *fakeKeySource) Events() <-chan KeyEvent { return f.ch }

func TestKeystrokeFlushesOnIdle(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeKeySource{ch: make(chan KeyEvent, 32)}
	k := NewKeystroke(src, sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { k.Run(ctx); close(done) }()

	for _, r := range "hello world" {
		src.ch <- KeyEvent{Char: r}
	}

	time.Sleep(keystrokeIdleFlush + 200*time.Millisecond)
	cancel()
	<-done

	items := sink.snapshot()
	if len(items) != 1 || items[0].Text != "hello world" {
		t.Fatalf("expected one flushed item 'hello world', got %v", items)
	}
}

func TestKeystrokeSuppressesDedicatedAppsAndSecureFields(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeKeySource{ch: make(chan KeyEvent, 32)}
	k := NewKeystroke(src, sink, []string{"com.apple.Terminal"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { k.Run(ctx); close(done) }()

	for _, r := range "secret" {
		src.ch <- KeyEvent{Char: r, FieldIsSecure: true}
	}
	for _, r := range "terminal cmd" {
		src.ch <- KeyEvent{Char: r, FrontmostApp: "com.apple.Terminal"}
	}

	time.Sleep(keystrokeIdleFlush + 200*time.Millisecond)
	cancel()
	<-done

	if items := sink.snapshot(); len(items) != 0 {
		t.Fatalf("expected no items emitted, got %v", items)
	}
}

func TestKeystrokeBelowMinLengthNeverFlushes(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeKeySource{ch: make(chan KeyEvent, 32)}
	k := NewKeystroke(src, sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { k.Run(ctx); close(done) }()

	for _, r := range "hi" {
		src.ch <- KeyEvent{Char: r}
	}
	time.Sleep(keystrokeIdleFlush + 200*time.Millisecond)
	cancel()
	<-done

	if items := sink.snapshot(); len(items) != 0 {
		t.Fatalf("expected no items below min length, got %v", items)
	}
}

func TestKeystrokeNoPermissionSourceReturnsImmediately(t *testing.T) {
	sink := &fakeSink{}
	k := NewKeystroke(NoPermissionKeySource{}, sink, nil, nil)

	done := make(chan struct{})
	go func() { k.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return immediately with a nil-channel source")
	}
}

func TestTerminalSinkFlushesOnCountThreshold(t *testing.T) {
	sink := &fakeSink{}
	ts := NewTerminalSink(sink, nil)
	token := "session-1"
	for i := 0; i < terminalCountThreshold; i++ {
		ts.Record(token, TerminalCommand{Command: "echo hi", ExitCode: 0, Duration: "10ms"})
	}

	items := sink.snapshot()
	if len(items) != 1 {
		t.Fatalf("expected 1 flushed item, got %d", len(items))
	}
	if items[0].Source != types.SourceTerminal {
		t.Fatalf("expected terminal source, got %q", items[0].Source)
	}
}

func TestTerminalSinkFlushesOnIdle(t *testing.T) {
	sink := &fakeSink{}
	ts := NewTerminalSink(sink, nil)
	ts.Record("session-2", TerminalCommand{Command: "ls", ExitCode: 0, Duration: "5ms"})

	time.Sleep(terminalIdleFlush + 200*time.Millisecond)

	items := sink.snapshot()
	if len(items) != 1 {
		t.Fatalf("expected 1 flushed item after idle, got %d", len(items))
	}
}

func TestFileWatcherFiltersIgnoredPaths(t *testing.T) {
	f := NewFileWatcher(nil, &fakeSink{}, nil)
	cases := map[string]bool{
		"/repo/node_modules/pkg/index.js": false,
		"/repo/.git/HEAD":                 false,
		"/repo/src/main.go":               true,
		"/repo/.DS_Store":                 false,
		"/repo/build/output.exe":          false,
		"/repo/README.md":                 true,
	}
	for path, want := range cases {
		if got := f.shouldEmit(path); got != want {
			t.Errorf("shouldEmit(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestBrowserHistoryIgnoresInternalSchemes(t *testing.T) {
	cases := map[string]bool{
		"chrome://settings":       true,
		"about:blank":             true,
		"https://example.com":     false,
		"chrome-extension://abcd": true,
	}
	for url, want := range cases {
		if got := isIgnoredURL(url); got != want {
			t.Errorf("isIgnoredURL(%q) = %v, want %v", url, got, want)
		}
	}
}
