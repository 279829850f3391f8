package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/km-arc/go-ioc/framework/container"
)

// Config is the central typed configuration struct.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Log         LogConfig         `yaml:"log"`
	Container   ContainerConfig   `yaml:"container"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

type AppConfig struct {
	Name string `yaml:"name" validate:"required"`
	Env  string `yaml:"env" validate:"oneof=local production testing"`
}

type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=json console"`
}

// ContainerConfig maps onto container.Option values, see ContainerOptions.
type ContainerConfig struct {
	ValidateOnBuild  bool   `yaml:"validate_on_build"`
	DisposeDiscarded bool   `yaml:"dispose_discarded"`
	TrackScopes      bool   `yaml:"track_scopes"`
	TagName          string `yaml:"tag_name" validate:"required,alphanum"`
}

// DiagnosticsConfig controls the introspection HTTP endpoint. An empty Addr
// disables it.
type DiagnosticsConfig struct {
	Addr        string   `yaml:"addr" validate:"omitempty,hostname_port"`
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,required"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		App:       AppConfig{Name: "GoIoC", Env: "local"},
		Log:       LogConfig{Level: "info", Encoding: "console"},
		Container: ContainerConfig{DisposeDiscarded: true, TagName: "inject"},
	}
}

// Load reads .env (if present) and populates a Config from environment
// variables on top of Default.
//
//	cfg, err := config.Load()
func Load(envFiles ...string) (*Config, error) {
	loadDotEnv(envFiles)
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML file on top of Default, then applies .env and
// environment variables over it.
func LoadFile(path string, envFiles ...string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	loadDotEnv(envFiles)
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func loadDotEnv(files []string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s validation (got %q)", fe.Namespace(), fe.Tag(), fmt.Sprint(fe.Value())))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.App.Name = env("APP_NAME", c.App.Name)
	c.App.Env = env("APP_ENV", c.App.Env)
	c.Log.Level = env("IOC_LOG_LEVEL", c.Log.Level)
	c.Log.Encoding = env("IOC_LOG_ENCODING", c.Log.Encoding)
	c.Container.TagName = env("IOC_TAG_NAME", c.Container.TagName)
	c.Diagnostics.Addr = env("IOC_DIAGNOSTICS_ADDR", c.Diagnostics.Addr)
	if origins := os.Getenv("IOC_DIAGNOSTICS_CORS_ORIGINS"); origins != "" {
		c.Diagnostics.CORSOrigins = strings.Split(origins, ",")
	}

	var err error
	for key, dst := range map[string]*bool{
		"IOC_VALIDATE_ON_BUILD": &c.Container.ValidateOnBuild,
		"IOC_DISPOSE_DISCARDED": &c.Container.DisposeDiscarded,
		"IOC_TRACK_SCOPES":      &c.Container.TrackScopes,
	} {
		if *dst, err = envBool(key, *dst); err != nil {
			return err
		}
	}
	return nil
}

// ContainerOptions translates the container section into build options.
func (c *Config) ContainerOptions() []container.Option {
	return []container.Option{
		container.WithValidation(c.Container.ValidateOnBuild),
		container.WithDisposeDiscarded(c.Container.DisposeDiscarded),
		container.WithScopeTracking(c.Container.TrackScopes),
		container.WithMetadataProvider(container.NewTagMetadata(c.Container.TagName)),
	}
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.App.Env == "production" }

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %q is not a boolean", key, v)
	}
	return b, nil
}
