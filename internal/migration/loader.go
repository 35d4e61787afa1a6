package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadFromDir reads every <dir>/<name>/migration.sql and returns the
// migrations sorted by name. Directories without a script file and plain
// files are skipped. Scripts are kept byte for byte so that checksums match
// what was recorded in the ledger.
func LoadFromDir(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	var migrations []Migration

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		m, ok, err := readMigration(dir, entry.Name())
		if err != nil {
			return nil, err
		}

		if ok {
			migrations = append(migrations, m)
		}
	}

	return Sort(migrations), nil
}

// readMigration reports ok=false when the directory has no script file.
func readMigration(dir, name string) (Migration, bool, error) {
	path := filepath.Join(dir, name, ScriptFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Migration{}, false, nil
	}

	if err != nil {
		return Migration{}, false, fmt.Errorf("reading migration file %s: %w", path, err)
	}

	return NewMigration(name, string(data), path), true, nil
}
