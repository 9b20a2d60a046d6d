package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/formula/internal/formula"
	"github.com/rendis/formula/internal/scheduler"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "formula.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, formula.DefaultBudget, cfg.Budget.Duration)
	assert.Equal(t, formula.DefaultMaxSequence, cfg.MaxSequence)
	assert.Equal(t, formula.DefaultMaxOutput, cfg.MaxOutput)
	assert.False(t, cfg.Envelope)
	assert.Empty(t, cfg.Journal.Path)
	assert.Equal(t, 7*24*time.Hour, cfg.Journal.Retention.Duration)
	assert.Equal(t, scheduler.DefaultSchedule, cfg.Journal.PruneSchedule)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfig_MissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := loadConfig("", envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig().LogLevel, cfg.LogLevel)
}

func TestLoadConfig_MissingExplicitFileFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")

	_, err := loadConfig(missing, envOf(nil))
	assert.Error(t, err)

	_, err = loadConfig("", envOf(map[string]string{"FORMULA_CONFIG": missing}))
	assert.Error(t, err)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
log_format = "json"
budget = "250ms"
envelope = true
max_sequence = 1000
max_output = 4096

[journal]
path = "/tmp/journal.db"
retention = "48h"
prune_schedule = "@daily"

[[functions]]
name = "double"
engine = "expr"
params = ["x"]
body = "x * 2"
description = "Twice x"
`)
	cfg, err := loadConfig(path, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 250*time.Millisecond, cfg.Budget.Duration)
	assert.True(t, cfg.Envelope)
	assert.Equal(t, 1000, cfg.MaxSequence)
	assert.Equal(t, 4096, cfg.MaxOutput)
	assert.Equal(t, "/tmp/journal.db", cfg.Journal.Path)
	assert.Equal(t, 48*time.Hour, cfg.Journal.Retention.Duration)
	assert.Equal(t, "@daily", cfg.Journal.PruneSchedule)
	require.Len(t, cfg.Functions, 1)
	assert.Equal(t, "double", cfg.Functions[0].Name)
	assert.Equal(t, []string{"x"}, cfg.Functions[0].Params)
}

func TestLoadConfig_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad toml", `log_level = `},
		{"bad duration", `budget = "soon"`},
		{"unknown key", `budgett = "1s"`},
		{"unknown journal key", "[journal]\nretain = \"1h\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body), envOf(nil))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
budget = "250ms"
`)
	cfg, err := loadConfig("", envOf(map[string]string{
		"FORMULA_CONFIG":       path,
		"FORMULA_LOG_LEVEL":    "warn",
		"FORMULA_LOG_FORMAT":   "json",
		"FORMULA_BUDGET":       "2s",
		"FORMULA_ENVELOPE":     "true",
		"FORMULA_MAX_SEQUENCE": "64",
		"FORMULA_MAX_OUTPUT":   "128",
		"FORMULA_JOURNAL_PATH": "/var/lib/formula/journal.db",
	}))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2*time.Second, cfg.Budget.Duration)
	assert.True(t, cfg.Envelope)
	assert.Equal(t, 64, cfg.MaxSequence)
	assert.Equal(t, 128, cfg.MaxOutput)
	assert.Equal(t, "/var/lib/formula/journal.db", cfg.Journal.Path)
}

func TestLoadConfig_BadEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"FORMULA_BUDGET", "FORMULA_ENVELOPE", "FORMULA_MAX_SEQUENCE", "FORMULA_MAX_OUTPUT"} {
		t.Run(key, func(t *testing.T) {
			_, err := loadConfig("", envOf(map[string]string{key: "lots"}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "unknown log level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "unknown log format"},
		{"budget", func(c *Config) { c.Budget.Duration = 0 }, "budget must be positive"},
		{"max sequence", func(c *Config) { c.MaxSequence = -1 }, "max_sequence"},
		{"max output", func(c *Config) { c.MaxOutput = -1 }, "max_output"},
		{"retention", func(c *Config) {
			c.Journal.Path = "j.db"
			c.Journal.Retention.Duration = 0
		}, "retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestJournalDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/j.db", journalDSN("/tmp/j.db"))
	assert.Equal(t, "file:/tmp/j.db", journalDSN("file:/tmp/j.db"))
	assert.Equal(t, "libsql://db.example.com", journalDSN("libsql://db.example.com"))
}
