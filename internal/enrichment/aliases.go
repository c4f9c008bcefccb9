package enrichment

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/support-intel/enricher/internal/config"
)

// AliasConfig holds deployment-specific category aliases loaded from
// .enricher.yaml. Different customer support stacks label categories
// differently ("payments", "auth", "sso"); aliases map those labels onto the
// canonical enum before the keyword table is consulted.
type AliasConfig struct {
	// CategoryAliases maps a deployment-specific label to a canonical
	// category. Key is the alias, value must be a member of the enum.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	CategoryAliases map[string]string `yaml:"category_aliases"`
}

// DefaultAliasConfigPath is the default location for the enricher
// configuration file. Uses hidden file format following common tool
// conventions (.eslintrc, .prettierrc, etc.).
const DefaultAliasConfigPath = ".enricher.yaml"

// AliasConfigPathEnvVar is the environment variable name for a custom config path.
const AliasConfigPathEnvVar = "ENRICHER_CONFIG_PATH"

// LoadAliasConfig loads category alias configuration from a YAML file.
//
// Behavior:
//   - Returns empty config (not error) if the file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Drops aliases whose canonical value is outside the category enum, with a warning
//
// Graceful degradation ensures the enricher can start without an alias file,
// as category aliasing is an optional feature.
func LoadAliasConfig(path string) (*AliasConfig, error) {
	cfg := &AliasConfig{
		CategoryAliases: make(map[string]string),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - aliases are optional
			slog.Debug("Alias config file not found, continuing without aliases",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read alias config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no aliases
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse alias config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &AliasConfig{CategoryAliases: make(map[string]string)}, nil
	}

	if cfg.CategoryAliases == nil {
		cfg.CategoryAliases = make(map[string]string)
	}

	for alias, canonical := range cfg.CategoryAliases {
		if !ValidCategory(canonical) {
			slog.Warn("Skipping alias with non-canonical category",
				slog.String("alias", alias),
				slog.String("category", canonical))

			delete(cfg.CategoryAliases, alias)
		}
	}

	return cfg, nil
}

// LoadAliasConfigFromEnv loads config from the path specified in
// ENRICHER_CONFIG_PATH. Falls back to ".enricher.yaml" in the current
// directory if not set.
func LoadAliasConfigFromEnv() (*AliasConfig, error) {
	path := config.GetEnvStr(AliasConfigPathEnvVar, DefaultAliasConfigPath)

	return LoadAliasConfig(path)
}
