// Package config loads the configuration of the changes-follow command.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "CHANGEFEED"

// Transport client names.
const (
	ClientHTTP     = "http"
	ClientFastHTTP = "fasthttp"
)

// Checkpoint drivers.
const (
	DriverNone     = ""
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the complete configuration of a follower.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Database   string           `yaml:"database" json:"database"`
	Reader     ReaderConfig     `yaml:"reader" json:"reader"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	NATS       NATSConfig       `yaml:"nats" json:"nats"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	// LogLevel is a loggo specification, e.g. "<root>=INFO;changefeed=DEBUG"
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// ServerConfig describes the database server.
type ServerConfig struct {
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// Client is "http" (default) or "fasthttp"
	Client string `yaml:"client" json:"client"`
	// Timeout is a duration string such as "90s". JSON files may also
	// give a number of nanoseconds.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// UnmarshalJSON accepts Timeout as a duration string or as nanoseconds.
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type plain ServerConfig
	aux := struct {
		*plain
		Timeout json.RawMessage `json:"timeout"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Timeout) == 0 || string(aux.Timeout) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(aux.Timeout, &text); err == nil {
		d, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("invalid server timeout %q: %w", text, err)
		}
		s.Timeout = d
		return nil
	}
	var nanos int64
	if err := json.Unmarshal(aux.Timeout, &nanos); err != nil {
		return fmt.Errorf("invalid server timeout %s", aux.Timeout)
	}
	s.Timeout = time.Duration(nanos)
	return nil
}

// ReaderConfig mirrors changefeed.ReaderConfig plus the mode.
type ReaderConfig struct {
	BatchSize         int    `yaml:"batch_size" json:"batch_size"`
	Since             string `yaml:"since" json:"since"`
	IncludeDocs       bool   `yaml:"include_docs" json:"include_docs"`
	Mode              string `yaml:"mode" json:"mode"`
	StopOnZeroPending bool   `yaml:"stop_on_zero_pending" json:"stop_on_zero_pending"`
}

// CheckpointConfig selects where the reader's position is persisted.
type CheckpointConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
	Table  string `yaml:"table" json:"table"`
	// Name identifies the follower; it defaults to the database name
	Name string `yaml:"name" json:"name"`
}

// NATSConfig enables republishing when URL is set.
type NATSConfig struct {
	URL    string `yaml:"url" json:"url"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Default returns a configuration with every optional field filled in.
func Default() Config {
	return Config{
		Server: ServerConfig{
			URL:     "http://localhost:5984",
			Client:  ClientHTTP,
			Timeout: 90 * time.Second,
		},
		Reader: ReaderConfig{
			BatchSize: changefeed.DefaultBatchSize,
			Since:     changefeed.Now.String(),
			Mode:      changefeed.Continuous.String(),
		},
		LogLevel: "<root>=INFO",
	}
}

// LoadFile reads path over the defaults, then applies environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return Config{}, errors.Trace(err)
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, &cfg); err != nil {
		return Config{}, errors.Annotate(err, "applying environment overrides")
	}
	return cfg, nil
}

// Validate returns an error if the config is not valid.
func (c Config) Validate() error {
	if c.Server.URL == "" {
		return errors.NotValidf("empty server url")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	switch c.Server.Client {
	case "", ClientHTTP, ClientFastHTTP:
	default:
		return errors.NotValidf("server client %q", c.Server.Client)
	}
	if c.Server.Timeout < 0 {
		return errors.NotValidf("negative server timeout")
	}
	if c.Reader.BatchSize < 0 {
		return errors.NotValidf("negative batch size")
	}
	if _, err := c.Reader.ParseMode(); err != nil {
		return errors.Trace(err)
	}
	switch c.Checkpoint.Driver {
	case DriverNone, DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Checkpoint.DSN == "" {
			return errors.NotValidf("%s checkpoint driver without dsn", c.Checkpoint.Driver)
		}
	default:
		return errors.NotValidf("checkpoint driver %q", c.Checkpoint.Driver)
	}
	return nil
}

// ParseMode converts the configured mode name.
func (r ReaderConfig) ParseMode() (changefeed.Mode, error) {
	switch strings.ToLower(r.Mode) {
	case "", changefeed.Continuous.String():
		return changefeed.Continuous, nil
	case changefeed.StopOnEmpty.String():
		return changefeed.StopOnEmpty, nil
	}
	return changefeed.Continuous, errors.NotValidf("reader mode %q", r.Mode)
}

// ToReaderConfig returns the library reader configuration.
func (r ReaderConfig) ToReaderConfig() changefeed.ReaderConfig {
	return changefeed.ReaderConfig{
		BatchSize:         r.BatchSize,
		Since:             changefeed.Cursor(r.Since),
		IncludeDocs:       r.IncludeDocs,
		StopOnZeroPending: r.StopOnZeroPending,
	}
}

// CheckpointName returns the name the follower's checkpoint is saved under.
func (c Config) CheckpointName() string {
	if c.Checkpoint.Name != "" {
		return c.Checkpoint.Name
	}
	return c.Database
}
