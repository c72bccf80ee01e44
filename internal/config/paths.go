package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".soul-agent"

// StateDir returns the base per-user state directory for the daemon:
// PID file, log files, and the runtime-state bbolt ledger all live here.
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// PIDPath returns the path to the daemon's PID file.
func PIDPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.pid"), nil
}

// LogPath returns the path to the daemon's stdout/stderr log file.
func LogPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.log"), nil
}

// RuntimeStatePath returns the path to the bbolt-backed runtime ledger
// (browser poller cursors, classifier failure counters, insight schedule
// bookkeeping). This is internal plumbing, distinct from the user's vault.
func RuntimeStatePath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "runtime.db"), nil
}
