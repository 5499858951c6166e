package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirName is the per-project directory holding the store, feeds,
// alerts, logs and the daemon control sockets.
const StateDirName = ".governor"

// DatabaseFile is the store file name inside the state directory.
const DatabaseFile = "governor.db"

// FindProjectRoot walks up from startDir to the first directory containing
// a .governor state directory. Hooks are invoked from arbitrary working
// directories inside a project, so unlike the database path this lookup
// does walk the tree.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, StateDirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf(
		"no %s directory found in %s or parent directories\n"+
			"  Run 'gov init' to initialize governance state in this project",
		StateDirName, startDir)
}

// GetProjectRoot returns the directory containing the state directory that
// holds path, typically the database or the config file.
//
// Example:
//
//	path: /home/user/myproject/.governor/governor.db
//	returns: /home/user/myproject
func GetProjectRoot(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	stateDir := filepath.Dir(absPath)
	if filepath.Base(stateDir) != StateDirName {
		return "", fmt.Errorf("%s is not inside a %s/ directory", path, StateDirName)
	}
	return filepath.Dir(stateDir), nil
}

// InitProject creates the state directory under projectDir and returns the
// database path that should be used. The database itself is created on
// first connection.
func InitProject(projectDir string) (string, error) {
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		return "", fmt.Errorf("project directory does not exist: %s", projectDir)
	}

	stateDir := filepath.Join(projectDir, StateDirName)
	for _, sub := range []string{"", "alerts", "logs", "scratch", "models", "feeds"} {
		if err := os.MkdirAll(filepath.Join(stateDir, sub), 0755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", filepath.Join(stateDir, sub), err)
		}
	}

	return filepath.Join(stateDir, DatabaseFile), nil
}
