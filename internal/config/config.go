// Package config loads crev's YAML configuration files.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned when no file exists at a searched location.
var ErrNoConfig = errors.New("no config file")

// FileConfig is the on-disk YAML configuration shape. Unset fields are nil
// so they can fall back to defaults.
type FileConfig struct {
	Git      *string        `yaml:"git"`
	DBPath   *string        `yaml:"db_path"`
	LogLevel *string        `yaml:"log_level"`
	LogJSON  *bool          `yaml:"log_json"`
	Exclude  []string       `yaml:"exclude"`
	Backend  *BackendConfig `yaml:"backend"`
	API      *APIConfig     `yaml:"api"`
	Policy   *PolicyConfig  `yaml:"policy"`
}

// BackendConfig selects the analysis backend.
type BackendConfig struct {
	// Kind is "local" or "http".
	Kind    *string `yaml:"kind"`
	URL     *string `yaml:"url"`
	Timeout *string `yaml:"timeout"`
	// MaxLineLength tunes the local backend.
	MaxLineLength *int `yaml:"max_line_length"`
}

type APIConfig struct {
	Addr *string `yaml:"addr"`
}

// PolicyConfig names a policy file imported on first start when no policy
// is active.
type PolicyConfig struct {
	DefaultFile *string `yaml:"default_file"`
}

// Settings is the resolved configuration with defaults applied.
type Settings struct {
	Git            string
	DBPath         string
	LogLevel       string
	LogJSON        bool
	Exclude        []string
	BackendKind    string
	BackendURL     string
	BackendTimeout time.Duration
	MaxLineLength  int
	APIAddr        string
	PolicyFile     string
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Git:         "git",
		DBPath:      defaultDBPath(),
		LogLevel:    "info",
		BackendKind: "local",
		APIAddr:     "127.0.0.1:7400",
	}
}

func defaultDBPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		if home == "" {
			return ".crev/db"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "crev", "db")
}

// LoadFile reads a YAML config file from the provided path. Unknown keys
// are rejected.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadLocal searches dir for .crev.yml/.yaml and crev.yml/.yaml.
func LoadLocal(dir string) (FileConfig, string, error) {
	for _, name := range []string{".crev.yml", ".crev.yaml", "crev.yml", "crev.yaml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			cfg, err := LoadFile(p)
			return cfg, p, err
		}
	}
	return FileConfig{}, "", ErrNoConfig
}

// LoadGlobal loads $XDG_CONFIG_HOME/crev/config.yml, falling back to
// ~/.config.
func LoadGlobal() (FileConfig, string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			base = filepath.Join(home, ".config")
		}
	}
	if base == "" {
		return FileConfig{}, "", ErrNoConfig
	}
	p := filepath.Join(base, "crev", "config.yml")
	if _, err := os.Stat(p); err != nil {
		return FileConfig{}, "", ErrNoConfig
	}
	cfg, err := LoadFile(p)
	return cfg, p, err
}

// Load resolves settings from explicit (when non-empty), else the first
// local config in dir, else the global config. It returns the path of the
// file used, or "" when only defaults apply.
func Load(explicit, dir string) (Settings, string, error) {
	s := Defaults()
	if explicit != "" {
		cfg, err := LoadFile(explicit)
		if err != nil {
			return s, explicit, err
		}
		err = s.apply(cfg)
		return s, explicit, err
	}

	cfg, path, err := LoadLocal(dir)
	if errors.Is(err, ErrNoConfig) {
		cfg, path, err = LoadGlobal()
	}
	if errors.Is(err, ErrNoConfig) {
		return s, "", nil
	}
	if err != nil {
		return s, path, err
	}
	err = s.apply(cfg)
	return s, path, err
}

func (s *Settings) apply(fc FileConfig) error {
	setString(&s.Git, fc.Git)
	setString(&s.DBPath, fc.DBPath)
	setString(&s.LogLevel, fc.LogLevel)
	if fc.LogJSON != nil {
		s.LogJSON = *fc.LogJSON
	}
	if len(fc.Exclude) > 0 {
		s.Exclude = fc.Exclude
	}
	if b := fc.Backend; b != nil {
		setString(&s.BackendKind, b.Kind)
		setString(&s.BackendURL, b.URL)
		if b.Timeout != nil {
			d, err := time.ParseDuration(*b.Timeout)
			if err != nil {
				return fmt.Errorf("backend.timeout: %w", err)
			}
			s.BackendTimeout = d
		}
		if b.MaxLineLength != nil {
			s.MaxLineLength = *b.MaxLineLength
		}
	}
	if fc.API != nil {
		setString(&s.APIAddr, fc.API.Addr)
	}
	if fc.Policy != nil {
		setString(&s.PolicyFile, fc.Policy.DefaultFile)
	}
	return s.Validate()
}

// Validate checks settings that the YAML types cannot express.
func (s Settings) Validate() error {
	switch s.BackendKind {
	case "local":
	case "http":
		if s.BackendURL == "" {
			return errors.New("backend.url is required for the http backend")
		}
	default:
		return fmt.Errorf("backend.kind: unknown backend %q", s.BackendKind)
	}
	if s.BackendTimeout < 0 {
		return errors.New("backend.timeout must not be negative")
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}
