package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// DefaultPath is where the filter looks for its configuration when the
// VERP_FILTER_CONFIG environment variable is unset. The filter command
// cannot take a --config flag because Postfix owns its argv.
const DefaultPath = "/etc/postfix/verp-filter.toml"

// EnvConfigPath overrides DefaultPath when set.
const EnvConfigPath = "VERP_FILTER_CONFIG"

// Config captures everything the filter needs to run. It is built once at
// process start and passed by value; nothing mutates it afterwards.
type Config struct {
	// Database is the SQLite file holding the mails correlation table.
	// The filter requires it to exist; `verp-filter init` creates it.
	Database string `toml:"database"`
	// LogFile receives append-only structured log lines.
	LogFile  string `toml:"log_file"`
	LogLevel string `toml:"log_level"`
	// Marker is the token prefixed to tagged envelope senders. A sender
	// containing Marker+"." is treated as already tagged.
	Marker string `toml:"marker"`
	// Sendmail is the submission binary used to re-inject the message.
	Sendmail string `toml:"sendmail"`
}

// Default returns the deployed defaults, matching the Postfix-side
// configuration this filter ships with.
func Default() Config {
	return Config{
		Database: "/etc/postfix/db/undel.db",
		LogFile:  "/var/log/verp-filter.log",
		LogLevel: "info",
		Marker:   "uatbounce",
		Sendmail: "/usr/sbin/sendmail",
	}
}

// RegisterFlags attaches the config-file flag to an operator subcommand.
func RegisterFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to the TOML config file (falls back to "+EnvConfigPath+" env var, then "+DefaultPath+")")
}

// LoadFromCommand resolves the config path from the subcommand's --config
// flag and loads it.
func LoadFromCommand(cmd *cobra.Command) (Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return Config{}, err
	}
	return Load(path)
}

// Load reads the TOML file at path, or at the resolved default location if
// path is empty. A missing file at the default location is not an error:
// the defaults apply unchanged.
func Load(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, validate(cfg)
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Database == "" {
		return fmt.Errorf("database must not be empty")
	}
	if cfg.Sendmail == "" {
		return fmt.Errorf("sendmail must not be empty")
	}
	if cfg.Marker == "" {
		return fmt.Errorf("marker must not be empty")
	}
	if strings.ContainsAny(cfg.Marker, "@ \t") {
		return fmt.Errorf("marker %q must not contain %q, spaces or tabs", cfg.Marker, "@")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", cfg.LogLevel)
	}
	return nil
}
