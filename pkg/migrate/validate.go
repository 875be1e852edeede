package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// ValidateDir checks a migrations directory for files that goose would
// reject or silently skip: bad filenames, duplicate versions, and files
// missing the Up annotation.
func ValidateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{}
	var problems []string

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := migrationFileRe.FindStringSubmatch(name)
		if m == nil {
			problems = append(problems, fmt.Sprintf("%s: filename does not match <version>_<name>.sql", name))
			continue
		}
		version := m[1]
		if prev, ok := seen[version]; ok {
			problems = append(problems, fmt.Sprintf("%s: duplicate version %s (also %s)", name, version, prev))
		}
		seen[version] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if !strings.Contains(string(body), "-- +goose Up") {
			problems = append(problems, fmt.Sprintf("%s: missing '-- +goose Up' annotation", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid migrations in %q:\n  %s", dir, strings.Join(problems, "\n  "))
	}
	return nil
}
