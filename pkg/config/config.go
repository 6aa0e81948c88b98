// Package config loads and saves the persisted settings: which backend
// holds the notes and how to reach it.
//
// The file is read with a YAML parser, so both YAML and the JSON written by
// earlier versions (~/.til/config.json) load unchanged. Credentials are never
// stored inline; the file names an environment variable or a command that
// yields them.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend names, a closed set.
const (
	BackendGitHub   = "github"
	BackendS3       = "s3"
	BackendGCS      = "gcs"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendFS       = "fs"
	BackendMemory   = "memory"
)

// Backends lists every supported backend.
var Backends = []string{BackendGitHub, BackendS3, BackendGCS, BackendBadger, BackendPostgres, BackendFS, BackendMemory}

// Environment overrides.
const (
	EnvPath       = "TIL_CONFIG"
	EnvBackend    = "TIL_BACKEND"
	EnvGitHubRepo = "TIL_GITHUB_REPO"
)

// ErrNoToken is returned when no configured credential source yields a
// GitHub token.
var ErrNoToken = errors.New("no GitHub token available")

// Duration is a time.Duration written as "15s" in both YAML and JSON.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the persisted configuration.
type Config struct {
	Backend string `yaml:"backend" json:"backend" validate:"required,backend"`
	// Dir is the notes directory inside the backend.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" validate:"required,excludes=.."`
	// Timezone names the zone used for "today" and file dates. Empty means
	// the local zone.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty" validate:"omitempty,timezone"`

	Remote RemoteConfig `yaml:"remote,omitempty" json:"remote,omitempty"`

	GitHub   *GitHubConfig   `yaml:"github,omitempty" json:"github,omitempty"`
	S3       *S3Config       `yaml:"s3,omitempty" json:"s3,omitempty"`
	GCS      *GCSConfig      `yaml:"gcs,omitempty" json:"gcs,omitempty"`
	Badger   *BadgerConfig   `yaml:"badger,omitempty" json:"badger,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	FS       *FSConfig       `yaml:"fs,omitempty" json:"fs,omitempty"`
}

// RemoteConfig tunes the remote backend. Zero values keep its defaults.
type RemoteConfig struct {
	CallTimeout Duration `yaml:"call_timeout,omitempty" json:"call_timeout,omitempty" validate:"gte=0"`
	MaxRetries  uint64   `yaml:"max_retries,omitempty" json:"max_retries,omitempty" validate:"lte=10"`
	CacheTTL    Duration `yaml:"cache_ttl,omitempty" json:"cache_ttl,omitempty" validate:"gte=0"`
	Concurrency int      `yaml:"concurrency,omitempty" json:"concurrency,omitempty" validate:"gte=0,lte=64"`
}

// GitHubConfig stores notes in a GitHub repository.
type GitHubConfig struct {
	Repo   string `yaml:"repo,omitempty" json:"repo,omitempty" validate:"omitempty,repo"`
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`
	// TokenEnv names the variable holding the token.
	TokenEnv string `yaml:"token_env,omitempty" json:"token_env,omitempty"`
	// TokenCommand prints a token when TokenEnv is unset or empty.
	TokenCommand      []string `yaml:"token_command,omitempty" json:"token_command,omitempty"`
	BaseURL           string   `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	AutoCreate        bool     `yaml:"auto_create,omitempty" json:"auto_create,omitempty"`
	Private           bool     `yaml:"private,omitempty" json:"private,omitempty"`
	RequestsPerSecond float64  `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty" validate:"gte=0"`
}

// S3Config stores notes in an S3 (or compatible) bucket.
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket" validate:"required"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`
	// AccessKeyEnv and SecretKeyEnv name static credentials. Unset uses the
	// default AWS credential chain.
	AccessKeyEnv string `yaml:"access_key_env,omitempty" json:"access_key_env,omitempty"`
	SecretKeyEnv string `yaml:"secret_key_env,omitempty" json:"secret_key_env,omitempty" validate:"required_with=AccessKeyEnv"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty" json:"use_path_style,omitempty"`
	AutoCreate   bool   `yaml:"auto_create,omitempty" json:"auto_create,omitempty"`
}

// GCSConfig stores notes in a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket" validate:"required"`
	Prefix          string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	ProjectID       string `yaml:"project_id,omitempty" json:"project_id,omitempty" validate:"required_with=AutoCreate"`
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`
	AutoCreate      bool   `yaml:"auto_create,omitempty" json:"auto_create,omitempty"`
}

// BadgerConfig stores notes in an embedded database.
type BadgerConfig struct {
	Path     string `yaml:"path,omitempty" json:"path,omitempty" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory,omitempty" json:"in_memory,omitempty"`
}

// PostgresConfig stores notes in a PostgreSQL table.
type PostgresConfig struct {
	// DSNEnv names the variable holding the connection string.
	DSNEnv string `yaml:"dsn_env" json:"dsn_env" validate:"required"`
}

// FSConfig stores notes as files in a local directory, optionally a git
// repository.
type FSConfig struct {
	Path    string `yaml:"path" json:"path" validate:"required"`
	Gitless bool   `yaml:"gitless,omitempty" json:"gitless,omitempty"`
	// Watch reloads the cache when files change outside the process.
	Watch bool `yaml:"watch,omitempty" json:"watch,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Backend: BackendGitHub,
		Dir:     "tils",
		GitHub:  &GitHubConfig{},
	}
}

// DefaultPath returns $TIL_CONFIG or ~/.til/config.json.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".til", "config.json"), nil
}

// Load reads path, applies environment overrides and validates the result.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	case len(bytes.TrimSpace(data)) > 0:
		cfg.GitHub = nil
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(lookup)
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvGitHubRepo); ok && v != "" {
		if c.GitHub == nil {
			c.GitHub = &GitHubConfig{}
		}
		c.GitHub.Repo = strings.TrimSpace(v)
	}
}

// fill sets section defaults that depend on the chosen backend.
func (c *Config) fill() {
	if c.Dir == "" {
		c.Dir = "tils"
	}
	if c.Backend == BackendGitHub && c.GitHub == nil {
		c.GitHub = &GitHubConfig{}
	}
	if c.GitHub != nil {
		if c.GitHub.TokenEnv == "" {
			c.GitHub.TokenEnv = "GITHUB_TOKEN"
		}
		if len(c.GitHub.TokenCommand) == 0 {
			c.GitHub.TokenCommand = []string{"gh", "auth", "token"}
		}
	}
}

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("backend", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		for _, b := range Backends {
			if b == name {
				return true
			}
		}
		return false
	})
	_ = v.RegisterValidation("repo", func(fl validator.FieldLevel) bool {
		return repoPattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(Config)
		var missing bool
		switch c.Backend {
		case BackendGitHub:
			missing = c.GitHub == nil || c.GitHub.Repo == ""
		case BackendS3:
			missing = c.S3 == nil
		case BackendGCS:
			missing = c.GCS == nil
		case BackendBadger:
			missing = c.Badger == nil
		case BackendPostgres:
			missing = c.Postgres == nil
		case BackendFS:
			missing = c.FS == nil
		}
		if missing {
			sl.ReportError(c.Backend, "Backend", "Backend", "section", c.Backend)
		}
	}, Config{})
	return v
}

// Validate checks the configuration, including that the active backend has
// its section.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "section":
		if fe.Param() == BackendGitHub {
			return fmt.Sprintf("backend %q needs github.repo (or %s)", fe.Param(), EnvGitHubRepo)
		}
		return fmt.Sprintf("backend %q needs a %q section", fe.Param(), fe.Param())
	case "backend":
		return fmt.Sprintf("unknown backend %q (want one of %s)", fe.Value(), strings.Join(Backends, ", "))
	case "repo":
		return fmt.Sprintf("github.repo %q must look like owner/name", fe.Value())
	case "required", "required_with", "required_without":
		return fmt.Sprintf("%s is required", fe.Namespace())
	}
	return fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Save writes cfg to path, as JSON when the extension is .json and YAML
// otherwise. The file is private to the user.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// tokenCommandTimeout bounds the external token command.
const tokenCommandTimeout = 10 * time.Second

// ResolveToken returns the GitHub token from TokenEnv, falling back to
// TokenCommand.
func (g GitHubConfig) ResolveToken(ctx context.Context) (string, error) {
	if g.TokenEnv != "" {
		if v := strings.TrimSpace(os.Getenv(g.TokenEnv)); v != "" {
			return v, nil
		}
	}
	if len(g.TokenCommand) == 0 {
		return "", fmt.Errorf("%w: %s is not set", ErrNoToken, g.TokenEnv)
	}

	ctx, cancel := context.WithTimeout(ctx, tokenCommandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, g.TokenCommand[0], g.TokenCommand[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s is not set and %q failed: %w", ErrNoToken, g.TokenEnv, strings.Join(g.TokenCommand, " "), err)
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", fmt.Errorf("%w: %q printed nothing", ErrNoToken, strings.Join(g.TokenCommand, " "))
	}
	return token, nil
}

// Secret reads a credential from the named environment variable.
func Secret(env string) (string, error) {
	if env == "" {
		return "", nil
	}
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return "", fmt.Errorf("environment variable %s is not set", env)
	}
	return v, nil
}
