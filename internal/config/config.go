// Package config holds the explicit configuration of a record store.
//
// There is no global path state: every component receives its paths from a
// Config value built by Default, Load or the CLI flags, then checked by
// Validate.
//
// Layout under DataDir:
//
//	db/recstore.snapshot       index snapshot
//	db/recstore.snapshot.lock  advisory lock held by the running process
//	records/                   version blobs
//	templates/                 template definitions (.cue, .json)
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvDataDir = "RECSTORE_DATA_DIR"
	EnvCodec   = "RECSTORE_SNAPSHOT_CODEC"
	EnvAuthor  = "RECSTORE_AUTHOR"
)

// Config configures a record store.
type Config struct {
	// DataDir is the root of all persistent state.
	DataDir string `yaml:"data_dir" validate:"required"`

	// SnapshotCodec compresses the snapshot body: "none" or "zstd". Empty
	// means none.
	SnapshotCodec string `yaml:"snapshot_codec" validate:"omitempty,oneof=none zstd"`

	// Collation is the BCP 47 tag used to order diff labels.
	Collation string `yaml:"collation" validate:"required,bcp47_language_tag"`

	// DefaultAuthor is recorded when a caller supplies no author.
	DefaultAuthor string `yaml:"default_author"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:       "data",
		SnapshotCodec: "none",
		Collation:     "ja",
		LogLevel:      "info",
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables that are set and
// non-empty. getenv is usually os.Getenv.
func (c Config) ApplyEnv(getenv func(string) string) Config {
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvCodec); v != "" {
		c.SnapshotCodec = v
	}
	if v := getenv(EnvAuthor); v != "" {
		c.DefaultAuthor = v
	}
	return c
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %q)", fe.Field(), fe.Tag(), fmt.Sprint(fe.Value())))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SnapshotPath is the index snapshot file.
func (c Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "db", "recstore.snapshot")
}

// LockPath is the advisory lock file guarding the snapshot.
func (c Config) LockPath() string {
	return c.SnapshotPath() + ".lock"
}

// RecordsDir is the blob store root.
func (c Config) RecordsDir() string {
	return filepath.Join(c.DataDir, "records")
}

// TemplatesDir holds template definitions.
func (c Config) TemplatesDir() string {
	return filepath.Join(c.DataDir, "templates")
}

// SlogLevel maps LogLevel onto a slog level. Unknown values map to Info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
