package migration

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

const modulePath = "github.com/elskow/ditzler"

// getMigrationsDir prefers the configured directory and otherwise looks for
// migrations/ next to this module's go.mod.
func getMigrationsDir(configured string) (string, error) {
	if configured != "" {
		return filepath.Abs(configured)
	}

	dir, err := findModuleRoot()
	if err != nil {
		return "", fmt.Errorf("failed to find project root: %w", err)
	}

	return filepath.Join(dir, "migrations"), nil
}

func findModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		gomod := filepath.Join(dir, "go.mod")
		if content, err := os.ReadFile(gomod); err == nil {
			if modfile.ModulePath(content) == modulePath {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod for %s not found", modulePath)
		}
		dir = parent
	}
}

// Dir returns the directory migrations are read from.
func (m *Migrator) Dir() string {
	return m.dir
}

// FindMigrationsDir is getMigrationsDir for callers outside the package, such
// as integration tests that run goose against a throwaway database.
func FindMigrationsDir() (string, error) {
	return getMigrationsDir("")
}
