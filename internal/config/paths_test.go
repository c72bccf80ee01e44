package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPaths(t *testing.T) {
	t.Setenv("HOME", filepath.Join(t.TempDir(), "home"))

	stateDir, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if !strings.HasSuffix(stateDir, filepath.Join(".soul-agent")) {
		t.Fatalf("unexpected state dir: %s", stateDir)
	}

	pidPath, err := PIDPath()
	if err != nil {
		t.Fatalf("PIDPath: %v", err)
	}
	if !strings.HasSuffix(pidPath, filepath.Join(".soul-agent", "daemon.pid")) {
		t.Fatalf("unexpected pid path: %s", pidPath)
	}

	logPath, err := LogPath()
	if err != nil {
		t.Fatalf("LogPath: %v", err)
	}
	if !strings.HasSuffix(logPath, filepath.Join(".soul-agent", "daemon.log")) {
		t.Fatalf("unexpected log path: %s", logPath)
	}

	runtimeStatePath, err := RuntimeStatePath()
	if err != nil {
		t.Fatalf("RuntimeStatePath: %v", err)
	}
	if !strings.HasSuffix(runtimeStatePath, filepath.Join(".soul-agent", "runtime.db")) {
		t.Fatalf("unexpected runtime state path: %s", runtimeStatePath)
	}
}
