package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/container"
)

// ── helpers ──────────────────────────────────────────────────────────────────

var keys = []string{
	"APP_NAME", "APP_ENV",
	"IOC_LOG_LEVEL", "IOC_LOG_ENCODING", "IOC_TAG_NAME",
	"IOC_DIAGNOSTICS_ADDR", "IOC_DIAGNOSTICS_CORS_ORIGINS",
	"IOC_VALIDATE_ON_BUILD", "IOC_DISPOSE_DISCARDED", "IOC_TRACK_SCOPES",
}

// clearEnv unsets every variable the loader reads and restores them after
// the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val)
}

// ── Load ─────────────────────────────────────────────────────────────────────

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("testdata/empty.env")
	require.NoError(t, err)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"App.Name", cfg.App.Name, "GoIoC"},
		{"App.Env", cfg.App.Env, "local"},
		{"Log.Level", cfg.Log.Level, "info"},
		{"Log.Encoding", cfg.Log.Encoding, "console"},
		{"Container.ValidateOnBuild", cfg.Container.ValidateOnBuild, false},
		{"Container.DisposeDiscarded", cfg.Container.DisposeDiscarded, true},
		{"Container.TrackScopes", cfg.Container.TrackScopes, false},
		{"Container.TagName", cfg.Container.TagName, "inject"},
		{"Diagnostics.Addr", cfg.Diagnostics.Addr, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	setEnv(t, "APP_NAME", "Billing")
	setEnv(t, "APP_ENV", "production")
	setEnv(t, "IOC_LOG_LEVEL", "debug")
	setEnv(t, "IOC_TAG_NAME", "wire")
	setEnv(t, "IOC_DIAGNOSTICS_ADDR", "localhost:8081")
	setEnv(t, "IOC_DIAGNOSTICS_CORS_ORIGINS", "https://a.example,https://b.example")
	setEnv(t, "IOC_VALIDATE_ON_BUILD", "true")
	setEnv(t, "IOC_DISPOSE_DISCARDED", "false")

	cfg, err := config.Load("testdata/empty.env")
	require.NoError(t, err)

	assert.Equal(t, "Billing", cfg.App.Name)
	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "wire", cfg.Container.TagName)
	assert.Equal(t, "localhost:8081", cfg.Diagnostics.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Diagnostics.CORSOrigins)
	assert.True(t, cfg.Container.ValidateOnBuild)
	assert.False(t, cfg.Container.DisposeDiscarded)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("testdata/ioc.env")
	require.NoError(t, err)

	assert.Equal(t, "FromDotEnv", cfg.App.Name)
	assert.True(t, cfg.Container.TrackScopes)
}

func TestLoad_RealEnvBeatsDotEnv(t *testing.T) {
	clearEnv(t)
	setEnv(t, "APP_NAME", "FromShell")
	cfg, err := config.Load("testdata/ioc.env")
	require.NoError(t, err)

	assert.Equal(t, "FromShell", cfg.App.Name)
}

func TestLoad_MalformedBool(t *testing.T) {
	clearEnv(t)
	setEnv(t, "IOC_TRACK_SCOPES", "sometimes")

	_, err := config.Load("testdata/empty.env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IOC_TRACK_SCOPES")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, val, field string
	}{
		{"APP_ENV", "staging", "App.Env"},
		{"IOC_LOG_LEVEL", "verbose", "Log.Level"},
		{"IOC_LOG_ENCODING", "xml", "Log.Encoding"},
		{"IOC_TAG_NAME", "in-ject", "Container.TagName"},
		{"IOC_DIAGNOSTICS_ADDR", "not an address", "Diagnostics.Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			setEnv(t, tt.key, tt.val)

			_, err := config.Load("testdata/empty.env")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config: invalid")
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

// ── LoadFile ─────────────────────────────────────────────────────────────────

func TestLoadFile_YAML(t *testing.T) {
	clearEnv(t)
	cfg, err := config.LoadFile("testdata/config.yaml", "testdata/empty.env")
	require.NoError(t, err)

	assert.Equal(t, "Inventory", cfg.App.Name)
	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
	assert.True(t, cfg.Container.ValidateOnBuild)
	assert.False(t, cfg.Container.DisposeDiscarded)
	assert.True(t, cfg.Container.TrackScopes)
	assert.Equal(t, "di", cfg.Container.TagName)
	assert.Equal(t, "127.0.0.1:9090", cfg.Diagnostics.Addr)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.Diagnostics.CORSOrigins)
}

func TestLoadFile_EnvBeatsYAML(t *testing.T) {
	clearEnv(t)
	setEnv(t, "IOC_LOG_LEVEL", "error")
	cfg, err := config.LoadFile("testdata/config.yaml", "testdata/empty.env")
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoadFile_Invalid(t *testing.T) {
	clearEnv(t)
	_, err := config.LoadFile("testdata/invalid.yaml", "testdata/empty.env")
	require.Error(t, err)
	for _, field := range []string{"App.Name", "App.Env", "Log.Level"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := config.LoadFile("testdata/nope.yaml")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// ── ContainerOptions ─────────────────────────────────────────────────────────

type tagged struct {
	Clock *clock `di:""`
}

type clock struct{}

func TestContainerOptions_UseTagName(t *testing.T) {
	cfg := config.Default()
	cfg.Container.TagName = "di"

	reg := container.NewRegistry()
	_, err := reg.Register(container.WithInstance(&clock{}))
	require.NoError(t, err)
	_, err = reg.Register(container.Concrete[*tagged]())
	require.NoError(t, err)

	c, err := container.Build(reg, cfg.ContainerOptions()...)
	require.NoError(t, err)
	defer c.Dispose()

	got, err := container.Resolve[*tagged](c)
	require.NoError(t, err)
	assert.NotNil(t, got.Clock)
}

func TestContainerOptions_ValidateOnBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Container.ValidateOnBuild = true

	reg := container.NewRegistry()
	_, err := reg.Register(container.Implementation(func(*clock) *tagged { return &tagged{} }))
	require.NoError(t, err)

	_, err = container.Build(reg, cfg.ContainerOptions()...)
	assert.ErrorIs(t, err, container.ErrUnresolvableParameter)
}

// ── Environment ──────────────────────────────────────────────────────────────

func TestConfig_IsProduction(t *testing.T) {
	for env, want := range map[string]bool{"production": true, "local": false, "testing": false} {
		cfg := config.Default()
		cfg.App.Env = env
		assert.Equal(t, want, cfg.IsProduction(), env)
	}
}
