package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	versionLayout = "20060102150405"
	upMarker      = "-- +goose Up"
	downMarker    = "-- +goose Down"
)

var (
	fileNameRe  = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	nameCleanRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeName turns free text into the snake_case part of a file name.
func NormalizeName(name string) string {
	return strings.Trim(nameCleanRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// ParseVersion accepts the 14 digit timestamp that prefixes every file.
func ParseVersion(raw string) (int64, error) {
	if _, err := time.Parse(versionLayout, raw); err != nil {
		return 0, fmt.Errorf("version %q is not a %s timestamp", raw, versionLayout)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Create writes an empty Up/Down migration stamped with now and returns its
// path. It never overwrites an existing file.
func Create(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", errors.New("migration dir is required")
	}
	slug := NormalizeName(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, now.UTC().Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer f.Close()

	body := upMarker + "\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n\n" +
		downMarker + "\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n"
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Validate checks that every .sql file at the root of migrations is named
// <version>_<name>.sql with a unique version and declares an Up section
// before a Down section.
func Validate(migrations fs.FS) error {
	names, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	versions := make(map[string]string, len(names))
	for _, name := range names {
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("migration %s: name must look like %s_name.sql", name, versionLayout)
		}
		if _, err := ParseVersion(m[1]); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if other, dup := versions[m[1]]; dup {
			return fmt.Errorf("migrations %s and %s share version %s", other, name, m[1])
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(migrations, name)
		if err != nil {
			return err
		}
		up := strings.Index(string(body), upMarker)
		down := strings.Index(string(body), downMarker)
		switch {
		case up < 0:
			return fmt.Errorf("migration %s: missing %q", name, upMarker)
		case down < 0:
			return fmt.Errorf("migration %s: missing %q", name, downMarker)
		case down < up:
			return fmt.Errorf("migration %s: Down section precedes Up", name)
		}
	}
	return nil
}
