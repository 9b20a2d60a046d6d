package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/rendis/formula/internal/formula"
	"github.com/rendis/formula/internal/logging"
	"github.com/rendis/formula/internal/registry"
	"github.com/rendis/formula/internal/scheduler"
)

// Config holds all formulad configuration.
// Priority: flags > env vars > formula.toml > defaults.
type Config struct {
	LogLevel       string                 `toml:"log_level"`
	LogFormat      string                 `toml:"log_format"`
	Budget         duration               `toml:"budget"`
	Envelope       bool                   `toml:"envelope"`
	MaxSequence    int                    `toml:"max_sequence"`
	MaxOutput      int                    `toml:"max_output"`
	BindingsSchema string                 `toml:"bindings_schema"`
	Journal        JournalConfig          `toml:"journal"`
	Functions      []registry.Declaration `toml:"functions"`
}

// JournalConfig configures the evaluation journal. An empty Path disables it.
type JournalConfig struct {
	Path          string   `toml:"path"`
	Retention     duration `toml:"retention"`
	PruneSchedule string   `toml:"prune_schedule"`
}

// duration reads Go duration strings such as "250ms" from TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func defaultConfig() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Budget:      duration{formula.DefaultBudget},
		MaxSequence: formula.DefaultMaxSequence,
		MaxOutput:   formula.DefaultMaxOutput,
		Journal: JournalConfig{
			Retention:     duration{7 * 24 * time.Hour},
			PruneSchedule: scheduler.DefaultSchedule,
		},
	}
}

func formulaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".formula"
	}
	return filepath.Join(home, ".formula")
}

func defaultConfigPath() string {
	return filepath.Join(formulaDir(), "formula.toml")
}

// loadConfig layers defaults, the TOML file and environment variables. The
// file named by path must exist; with an empty path the FORMULA_CONFIG file or
// the default location is read if present.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		if path = getenv("FORMULA_CONFIG"); path != "" {
			explicit = true
		} else {
			path = defaultConfigPath()
		}
	}
	md, err := toml.DecodeFile(path, &cfg)
	switch {
	case err == nil:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return cfg, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("FORMULA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("FORMULA_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("FORMULA_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FORMULA_BUDGET: %w", err)
		}
		cfg.Budget.Duration = d
	}
	if v := getenv("FORMULA_ENVELOPE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORMULA_ENVELOPE: %w", err)
		}
		cfg.Envelope = b
	}
	if v := getenv("FORMULA_MAX_SEQUENCE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORMULA_MAX_SEQUENCE: %w", err)
		}
		cfg.MaxSequence = n
	}
	if v := getenv("FORMULA_MAX_OUTPUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORMULA_MAX_OUTPUT: %w", err)
		}
		cfg.MaxOutput = n
	}
	if v := getenv("FORMULA_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	return nil
}

// applyFlags overrides cfg with every persistent flag set on the command line.
func applyFlags(cfg *Config, cmd *cobra.Command) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("budget") {
		if cfg.Budget.Duration, err = flags.GetDuration("budget"); err != nil {
			return err
		}
	}
	if flags.Changed("envelope") {
		if cfg.Envelope, err = flags.GetBool("envelope"); err != nil {
			return err
		}
	}
	if flags.Changed("max-sequence") {
		if cfg.MaxSequence, err = flags.GetInt("max-sequence"); err != nil {
			return err
		}
	}
	if flags.Changed("max-output") {
		if cfg.MaxOutput, err = flags.GetInt("max-output"); err != nil {
			return err
		}
	}
	if flags.Changed("journal") {
		cfg.Journal.Path, _ = flags.GetString("journal")
	}
	return nil
}

func (c Config) validate() error {
	var problems []string
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	if c.Budget.Duration <= 0 {
		problems = append(problems, fmt.Sprintf("budget must be positive, got %s", c.Budget))
	}
	if c.MaxSequence < 0 {
		problems = append(problems, fmt.Sprintf("max_sequence must not be negative, got %d", c.MaxSequence))
	}
	if c.MaxOutput < 0 {
		problems = append(problems, fmt.Sprintf("max_output must not be negative, got %d", c.MaxOutput))
	}
	if c.Journal.Path != "" && c.Journal.Retention.Duration <= 0 {
		problems = append(problems, fmt.Sprintf("journal retention must be positive, got %s", c.Journal.Retention))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// journalDSN turns a configured journal path into a libSQL file URI.
func journalDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "://") {
		return path
	}
	return "file:" + path
}
