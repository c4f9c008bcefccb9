package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	files, err := List()
	require.NoError(t, err)

	expected := []string{
		"001_init.down.sql",
		"001_init.up.sql",
		"002_add_kb_embeddings.down.sql",
		"002_add_kb_embeddings.up.sql",
		"003_update_kb_embedding_dim.down.sql",
		"003_update_kb_embedding_dim.up.sql",
		"004_add_ticket_citations.down.sql",
		"004_add_ticket_citations.up.sql",
		"005_add_kb_content_tsv.down.sql",
		"005_add_kb_content_tsv.up.sql",
	}
	assert.Equal(t, expected, files)

	for _, file := range files {
		assert.True(t, migrationFilenameRegex.MatchString(file),
			"file %s violates the naming standard", file)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate())
}

func TestEmbeddedFilesReadable(t *testing.T) {
	files, err := List()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		content, err := fs.ReadFile(FS(), file)
		require.NoError(t, err, "file %s", file)
		assert.NotEmpty(t, content, "file %s", file)
	}
}

func TestParseFilename(t *testing.T) {
	t.Run("parses a valid up migration", func(t *testing.T) {
		info, err := parseFilename("003_update_kb_embedding_dim.up.sql")
		require.NoError(t, err)

		assert.Equal(t, 3, info.Sequence)
		assert.Equal(t, "update_kb_embedding_dim", info.Name)
		assert.Equal(t, "up", info.Direction)
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		invalid := []string{
			"migration.sql",          // no sequence
			"001.sql",                // no name or direction
			"001_test.invalid.sql",   // bad direction
			"1_short_prefix.up.sql",  // prefix must be three digits
			"001_wrong_case.UP.sql",  // direction is lowercase
			"001_no_extension.up",    // missing .sql
			"001_bad-chars.up.sql",   // hyphens not allowed
			"0001_too_long.down.sql", // prefix too long
		}

		for _, name := range invalid {
			_, err := parseFilename(name)
			assert.Error(t, err, "name %s", name)
		}
	})
}

func TestValidatePairing(t *testing.T) {
	t.Run("accepts paired migrations", func(t *testing.T) {
		err := validatePairing([]*Info{
			{Sequence: 1, Name: "init", Direction: "up"},
			{Sequence: 1, Name: "init", Direction: "down"},
		})
		assert.NoError(t, err)
	})

	t.Run("rejects a missing down file", func(t *testing.T) {
		err := validatePairing([]*Info{
			{Sequence: 1, Name: "init", Direction: "up"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing its down file")
	})

	t.Run("rejects an orphaned down file", func(t *testing.T) {
		err := validatePairing([]*Info{
			{Sequence: 1, Name: "init", Direction: "up"},
			{Sequence: 1, Name: "init", Direction: "down"},
			{Sequence: 2, Name: "orphan", Direction: "down"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing its up file")
	})
}

func TestValidateSequence(t *testing.T) {
	t.Run("accepts a gapless sequence", func(t *testing.T) {
		err := validateSequence([]*Info{
			{Sequence: 1}, {Sequence: 1},
			{Sequence: 2}, {Sequence: 2},
			{Sequence: 3}, {Sequence: 3},
		})
		assert.NoError(t, err)
	})

	t.Run("rejects a gap", func(t *testing.T) {
		err := validateSequence([]*Info{
			{Sequence: 1}, {Sequence: 1},
			{Sequence: 3}, {Sequence: 3},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing sequence 002")
	})
}
