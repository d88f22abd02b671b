// Package state centralizes filesystem locations for browserbridge runtime
// artifacts: the state root, its logs subdirectory, the PID file, and the
// data directory the Store and its snapshot-asset tree live under.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// StateDirEnv overrides the default runtime state root.
	StateDirEnv = "BROWSERBRIDGE_STATE_DIR"

	// DataDirEnv overrides the directory the Store's database and
	// snapshot-asset tree live under, independent of the state root (useful
	// for pointing at a project-local debug DB rather than the user-profile
	// default).
	DataDirEnv = "BROWSERBRIDGE_DATA_DIR"

	xdgStateHomeEnv = "XDG_STATE_HOME"
	appName         = "browserbridge"
)

// RootDir returns the runtime state root for browserbridge. Resolution
// order:
//  1. BROWSERBRIDGE_STATE_DIR (if set)
//  2. XDG_STATE_HOME/browserbridge (if XDG_STATE_HOME is set)
//  3. os.UserConfigDir()/browserbridge (cross-platform fallback)
func RootDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(StateDirEnv)); override != "" {
		return normalizePath(override)
	}

	if xdg := strings.TrimSpace(os.Getenv(xdgStateHomeEnv)); xdg != "" {
		root, err := normalizePath(xdg)
		if err != nil {
			return "", err
		}
		return filepath.Join(root, appName), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	root, err := normalizePath(configDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appName), nil
}

// DataDir returns the directory the Store's database file and
// snapshot-asset tree live under: BROWSERBRIDGE_DATA_DIR if set, else
// "data" under RootDir.
func DataDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(DataDirEnv)); override != "" {
		return normalizePath(override)
	}
	return InRoot("data")
}

// LogsDir returns the logs directory under RootDir.
func LogsDir() (string, error) {
	return InRoot("logs")
}

// DefaultLogFile returns the default structured log file path.
func DefaultLogFile() (string, error) {
	return InRoot("logs", "browserbridge.jsonl")
}

// CrashLogFile returns the panic crash log file path.
func CrashLogFile() (string, error) {
	return InRoot("logs", "crash.log")
}

// PIDFile returns the PID file path for the given server port.
func PIDFile(port int) (string, error) {
	return InRoot("run", "browserbridge-"+strconv.Itoa(port)+".pid")
}

// InRoot returns a path rooted under RootDir with additional path elements.
func InRoot(parts ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	all := make([]string, 0, len(parts)+1)
	all = append(all, root)
	all = append(all, parts...)
	return filepath.Join(all...), nil
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}
