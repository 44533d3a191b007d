// Package config loads shipit settings from defaults, the repository's
// .shipit.yaml, SHIPIT_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/report"
	"shipit.dev/shipit/internal/resolution"
)

// FileName is the optional config file at the repository root
const FileName = ".shipit.yaml"

// EnvPrefix prefixes environment overrides, e.g. SHIPIT_FILES_REPORT for files.report
const EnvPrefix = "SHIPIT"

// Config represents the complete shipit configuration
type Config struct {
	// Target is the integration branch being built
	Target string `mapstructure:"target"`
	// Remote is fetched from
	Remote string `mapstructure:"remote"`
	// PushRemote receives pushes. Empty means Remote.
	PushRemote string `mapstructure:"push_remote"`
	Trunk      string `mapstructure:"trunk"`
	// ResolutionPrefix starts every conflict resolution branch name
	ResolutionPrefix string `mapstructure:"resolution_prefix"`

	Files  FilesConfig  `mapstructure:"files"`
	Report ReportConfig `mapstructure:"report"`
	Log    LogConfig    `mapstructure:"log"`

	// DelayedConflictDrop keeps resolutions of branches merged to the trunk
	// for one more rebuild
	DelayedConflictDrop bool `mapstructure:"delayed_conflict_drop"`
}

// FilesConfig names the request and report files in the working directory
type FilesConfig struct {
	Additions string `mapstructure:"additions"`
	Removals  string `mapstructure:"removals"`
	Report    string `mapstructure:"report"`
}

// ReportConfig controls the structured failure report
type ReportConfig struct {
	// Format is json or yaml
	Format string `mapstructure:"format"`
}

// LogConfig controls file logging
type LogConfig struct {
	// File additionally receives every log record. Empty disables file logging.
	File string `mapstructure:"file"`
}

// Default returns a Config with the default values
func Default() *Config {
	return &Config{
		Target:           "staging",
		Remote:           "origin",
		Trunk:            "master",
		ResolutionPrefix: resolution.DefaultPrefix,
		Files: FilesConfig{
			Additions: branchlist.AdditionsFile,
			Removals:  branchlist.RemovalsFile,
			Report:    report.DefaultFile,
		},
		Report: ReportConfig{Format: string(report.FormatJSON)},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("target", defaults.Target)
	v.SetDefault("remote", defaults.Remote)
	v.SetDefault("push_remote", defaults.PushRemote)
	v.SetDefault("trunk", defaults.Trunk)
	v.SetDefault("resolution_prefix", defaults.ResolutionPrefix)

	v.SetDefault("files.additions", defaults.Files.Additions)
	v.SetDefault("files.removals", defaults.Files.Removals)
	v.SetDefault("files.report", defaults.Files.Report)

	v.SetDefault("report.format", defaults.Report.Format)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("delayed_conflict_drop", defaults.DelayedConflictDrop)
}

// Load reads the configuration for the repository rooted at repoRoot into a
// Config. Flags must already be bound to v.
func Load(v *viper.Viper, repoRoot string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	// SHIPIT_FILES_REPORT for files.report
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if repoRoot != "" {
		path := filepath.Join(repoRoot, FileName)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	var errs []error
	for key, value := range map[string]string{"target": c.Target, "remote": c.Remote, "trunk": c.Trunk} {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", key))
		}
	}
	if c.Target == c.Trunk && c.Target != "" {
		errs = append(errs, fmt.Errorf("target and trunk must differ (both %q)", c.Target))
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ReportFormat returns the validated report format
func (c *Config) ReportFormat() report.Format {
	format, _ := report.ParseFormat(c.Report.Format)
	return format
}
