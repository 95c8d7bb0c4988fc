// Package config loads the changeguard project configuration.
//
// The configuration describes the run environment, the changelog directory
// layout, the Liquibase CLI location, and the set of datasources to
// reconcile. Each datasource carries both a Go database/sql DSN (used for the
// content ledger and history queries) and a JDBC URL (handed to the
// Liquibase CLI).
package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Mode classifies the current run environment. It maps 1:1 onto the
// Liquibase context passed to every engine command.
type Mode string

const (
	Development Mode = "development"
	Test        Mode = "test"
	Production  Mode = "production"

	// EnvVar overrides the configured environment when set.
	EnvVar = "CHANGEGUARD_ENV"
)

type (
	// Liquibase holds settings for invoking the Liquibase CLI.
	Liquibase struct {
		// Bin is the liquibase executable. Resolved via PATH when relative.
		Bin string `yaml:"bin,omitempty"`

		// Classpath is passed through to the CLI for JDBC driver discovery.
		Classpath string `yaml:"classpath,omitempty"`
	}

	// Datasource describes one database to reconcile and (optionally) upgrade.
	Datasource struct {
		// Name identifies the datasource and selects its changelog
		// subdirectory: <changelog_dir>/<name>/db.changelog-master.xml.
		Name string `yaml:"name"`

		// Driver is the database/sql driver name (sqlite, mysql, postgres).
		Driver string `yaml:"driver"`

		// DSN is the Go-side connection string for Driver.
		DSN string `yaml:"dsn"`

		// URL is the JDBC URL handed to the Liquibase CLI.
		URL string `yaml:"url"`

		Username string `yaml:"username,omitempty"`
		Password string `yaml:"password,omitempty"`

		// AutoApply controls whether unrun changesets are applied after a
		// clean reconciliation. Off by default; reconciliation always runs.
		AutoApply bool `yaml:"auto_apply"`
	}

	// Config represents the full changeguard configuration.
	Config struct {
		// Environment selects the run mode (development, test, production).
		Environment Mode `yaml:"environment,omitempty"`

		// ChangelogDir is the root directory holding per-datasource
		// changelog trees.
		ChangelogDir string `yaml:"changelog_dir,omitempty"`

		Liquibase   Liquibase    `yaml:"liquibase,omitempty"`
		Datasources []Datasource `yaml:"datasources"`
	}
)

// Context returns the Liquibase context string for the mode, mirroring the
// engine-side naming (dev, test, prod).
func (m Mode) Context() (string, error) {
	switch m {
	case Development:
		return "dev", nil
	case Test:
		return "test", nil
	case Production:
		return "prod", nil
	default:
		return "", errors.Errorf("unknown environment: %q", string(m))
	}
}

// MasterFile returns the path of the datasource's master changelog file under
// the configured changelog directory.
func (d Datasource) MasterFile(changelogDir string) string {
	return filepath.Join(changelogDir, d.Name, consts.MasterFilename)
}

// LoadConfig parses a changeguard configuration from the provided io.Reader.
//
// The function expects YAML-formatted data. Omitted values receive defaults:
// environment defaults to development (overridable via CHANGEGUARD_ENV),
// changelog_dir to conf/liquibase, and liquibase.bin to "liquibase".
//
// Example:
//
//	cfg, err := config.LoadConfig(strings.NewReader(yamlData))
//	if err != nil {
//		return err
//	}
//	for _, ds := range cfg.Datasources {
//		fmt.Println(ds.Name, ds.MasterFile(cfg.ChangelogDir))
//	}
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal changeguard config")
	}

	if env := os.Getenv(EnvVar); env != "" {
		cfg.Environment = Mode(env)
	}
	if cfg.Environment == "" {
		cfg.Environment = Development
	}
	if cfg.ChangelogDir == "" {
		cfg.ChangelogDir = filepath.Join("conf", "liquibase")
	}
	if cfg.Liquibase.Bin == "" {
		cfg.Liquibase.Bin = "liquibase"
	}

	if _, err := cfg.Environment.Context(); err != nil {
		return nil, err
	}

	for i, ds := range cfg.Datasources {
		if ds.Name == "" {
			return nil, errors.Errorf("datasource %d: name is required", i)
		}
		if ds.Driver == "" || ds.DSN == "" {
			return nil, errors.Errorf("datasource %s: driver and dsn are required", ds.Name)
		}
	}

	return &cfg, nil
}

// LoadConfigFile loads a configuration from the specified file path.
// This is a convenience function that opens the file and calls LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer func() { _ = f.Close() }()

	return LoadConfig(f)
}
