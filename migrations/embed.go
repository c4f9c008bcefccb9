// Package migrations embeds the database schema migrations for the support
// ticket enrichment pipeline and validates them at startup.
//
// Migrations follow a strict naming standard (001_name.up.sql / 001_name.down.sql)
// so that lexicographic ordering matches apply order. Both the migrator binary
// and the integration-test helpers consume the same embedded filesystem,
// enabling zero-config deployment without external file dependencies.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Info contains parsed information about a migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// FS returns the embedded filesystem containing all migration files.
// All migrations are embedded at build time using the go:embed directive.
func FS() fs.FS {
	return embeddedMigrations
}

// List returns all embedded migration files that conform to the naming standard,
// in lexicographic (= apply) order. Files with invalid names are excluded so that
// Validate can reject them explicitly.
func List() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate performs startup validation of the embedded migration files:
// filename format, up/down pairing, and gapless sequence numbering.
// The migrator refuses to run against a corrupted migration set.
func Validate() error {
	files, err := List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	parsed := make([]*Info, 0, len(files))

	for _, file := range files {
		info, err := parseFilename(file)
		if err != nil {
			return fmt.Errorf("filename validation failed for %s: %w", file, err)
		}

		if _, err := fs.ReadFile(embeddedMigrations, file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		parsed = append(parsed, info)
	}

	if err := validatePairing(parsed); err != nil {
		return err
	}

	return validateSequence(parsed)
}

// parseFilename parses a migration filename and extracts its components.
func parseFilename(filename string) (*Info, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures that every up migration has a corresponding down migration.
func validatePairing(migrations []*Info) error {
	pairs := make(map[string]map[string]bool)

	for _, m := range migrations {
		key := fmt.Sprintf("%03d_%s", m.Sequence, m.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][m.Direction] = true
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("migration %s is missing its up file", key)
		}

		if !directions["down"] {
			return fmt.Errorf("migration %s is missing its down file", key)
		}
	}

	return nil
}

// validateSequence ensures migration sequence numbers start at 1 and have no gaps.
func validateSequence(migrations []*Info) error {
	seen := make(map[int]bool)

	maxSeq := 0

	for _, m := range migrations {
		seen[m.Sequence] = true
		if m.Sequence > maxSeq {
			maxSeq = m.Sequence
		}
	}

	for seq := 1; seq <= maxSeq; seq++ {
		if !seen[seq] {
			return fmt.Errorf("migration sequence has a gap: missing sequence %03d", seq)
		}
	}

	return nil
}
