// Command soulagentd runs the digital-activity daemon: it starts every
// background task from spec.md §5 and serves the local HTTP surface
// until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"soulagent/internal/classifier"
	"soulagent/internal/compact"
	"soulagent/internal/config"
	"soulagent/internal/daemon"
	"soulagent/internal/dailylog"
	"soulagent/internal/insight"
	"soulagent/internal/logging"
	"soulagent/internal/memory"
	"soulagent/internal/pipeline"
	"soulagent/internal/producers"
	"soulagent/internal/queue"
	"soulagent/internal/runtimestate"
	"soulagent/internal/soul"
	"soulagent/internal/todostore"
	"soulagent/internal/vault"
)

// shutdownTimeout bounds how long background tasks get to exit after
// the stop signal fires (spec.md §5: "must exit within 3s").
const shutdownTimeout = 3 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the daemon's JSON config file")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "soulagentd: -config is required")
		os.Exit(1)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "soulagentd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stateDir, err := config.StateDir()
	if err != nil {
		return fmt.Errorf("resolve state dir: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	logPath, err := config.LogPath()
	if err != nil {
		return fmt.Errorf("resolve log path: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := logging.NewWithMirror(logFile, logging.Info, os.Stderr, logging.Warn)

	if err := writePIDFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer removePIDFile()

	runtimeStatePath, err := config.RuntimeStatePath()
	if err != nil {
		return fmt.Errorf("resolve runtime state path: %w", err)
	}
	state, err := runtimestate.Open(runtimeStatePath)
	if err != nil {
		return fmt.Errorf("open runtime state: %w", err)
	}
	defer state.Close()

	v := vault.New(cfg.VaultPath)
	q := queue.New(
		queue.WithBatchSize(cfg.Queue.BatchSize),
		queue.WithFlushInterval(cfg.Queue.FlushInterval),
		queue.WithDedupWindow(cfg.Queue.DedupWindow),
	)
	log := dailylog.New(v)
	todos := todostore.New(v)
	cls := classifier.New(classifier.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		APIBase:  cfg.LLM.APIBase,
	}, logger.With(logging.F("component", "classifier"))).WithRuntimeState(state)

	memEngine := memory.New(v, cls, logger.With(logging.F("component", "memory")))
	soulEngine := soul.New(v, cls, logger.With(logging.F("component", "soul")))
	compactEngine := compact.New(log, todos, v, cls, logger.With(logging.F("component", "compact")))

	advisor := insight.NewLLMAdvisor(cls, logger.With(logging.F("component", "advisor")))
	reflector := &insight.Reflector{Memory: memEngine, Soul: soulEngine}
	eng := insight.New(log, todos, v, state, advisor, reflector, logger.With(logging.F("component", "insight")))
	pipe := pipeline.New(q, cls, log, v, todos, logger.With(logging.F("component", "pipeline")))
	terminal := producers.NewTerminalSink(q, logger.With(logging.F("component", "terminal")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	startTask := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("task started", logging.F("task", name))
			fn(ctx)
			logger.Info("task stopped", logging.F("task", name))
		}()
	}

	startTask("pipeline", pipe.Run)
	startTask("clipboard", producers.NewClipboard(q, logger).Run)

	home, err := os.UserHomeDir()
	if err == nil {
		roots := make([]string, 0, len(cfg.WatchDirs))
		for _, dir := range cfg.WatchDirs {
			roots = append(roots, filepath.Join(home, dir))
		}
		startTask("filewatcher", producers.NewFileWatcher(roots, q, logger).Run)

		browserSink := q
		browser := producers.NewBrowserHistory(producers.DefaultProfiles(home), browserSink, state, logger)
		startTask("browser-history", browser.Run)
	}

	if cfg.InputHook.Enabled {
		keystroke := producers.NewKeystroke(producers.NoPermissionKeySource{}, q, cfg.InputHook.DedicatedApps, logger)
		startTask("keystroke", keystroke.Run)
	}

	startTask("insight-scheduler", func(ctx context.Context) { eng.RunScheduler(ctx, cfg.Insight.DailyTime) })
	startTask("compact-scheduler", compactEngine.RunScheduler)

	mux := http.NewServeMux()
	api := &daemon.API{
		Sink:     q,
		Vault:    v,
		DailyLog: log,
		Todos:    todos,
		Insight:  eng,
		Soul:     soulEngine,
		Memory:   memEngine,
		Compact:  compactEngine,
		State:    state,
		Terminal: terminal,
		Logger:   logger.With(logging.F("component", "http")),
		Version:  "dev",
	}
	api.Routes(mux)

	server := &http.Server{
		Addr:    "127.0.0.1:" + strconv.Itoa(cfg.HTTPPort),
		Handler: mux,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("http server listening", logging.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", logging.F("error", err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", logging.F("error", err))
	}

	pipe.Wait()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out waiting for background tasks")
	}

	return nil
}

func writePIDFile() error {
	path, err := config.PIDPath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile() {
	path, err := config.PIDPath()
	if err != nil {
		return
	}
	_ = os.Remove(path)
}
