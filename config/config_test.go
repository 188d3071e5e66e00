// Tests in this package set environment variables and must not run in parallel.

package config_test

import (
	"embed"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
)

const (
	testPrefix = "TCFG_"
	testEnv    = "TCFG_ENV"
)

//go:embed testdata/*
var testdata embed.FS

type natsConfig struct {
	Address string
	Timeout string
}

type consumerConfig struct {
	Stream       string
	Subject      string
	DurableQueue string
}

func load(t *testing.T) *config.Configuration {
	t.Helper()
	cfg, err := config.NewConfiguration(testdata,
		config.WithFilePath("testdata/settings.toml"),
		config.WithEnvPrefix(testPrefix),
	)
	require.NoError(t, err)
	return cfg
}

func TestDefaultEnvironment(t *testing.T) { //nolint:paralleltest // uses env vars
	cfg := load(t)
	assert.Equal(t, "default", cfg.Environment())

	nats, err := config.Load(cfg, "nats", natsConfig{Timeout: "5s"})
	require.NoError(t, err)
	assert.Equal(t, natsConfig{Address: "nats://localhost:4222", Timeout: "5s"}, nats)

	consumer, err := config.Load(cfg, "relay.consumer", consumerConfig{})
	require.NoError(t, err)
	assert.Equal(t, consumerConfig{Stream: "THUNK", Subject: "thunk.actions", DurableQueue: "thunk-consumer"}, consumer)

	assert.True(t, cfg.Exists("relay.publisher.subject"))
	assert.False(t, cfg.Exists("relay.missing"))
}

// env vars > selected environment > default environment > struct defaults
func TestHierarchy(t *testing.T) {
	t.Setenv(testEnv, "local")
	t.Setenv(testPrefix+"RELAY_CONSUMER_STREAM", "OVERRIDE")

	cfg := load(t)
	assert.Equal(t, "local", cfg.Environment())

	var level struct{ LogLevel string }
	require.NoError(t, cfg.Unmarshal("", &level))
	assert.Equal(t, "debug", level.LogLevel)

	nats, err := config.Load(cfg, "nats", natsConfig{})
	require.NoError(t, err)
	assert.Equal(t, "nats://127.0.0.1:14222", nats.Address)

	consumer, err := config.Load(cfg, "relay.consumer", consumerConfig{})
	require.NoError(t, err)
	assert.Equal(t, "OVERRIDE", consumer.Stream)
	assert.Equal(t, "thunk.actions", consumer.Subject)
}

func TestMissingEnvironment(t *testing.T) {
	t.Setenv(testEnv, "nowhere")

	_, err := config.NewConfiguration(testdata,
		config.WithFilePath("testdata/settings.toml"),
		config.WithEnvPrefix(testPrefix),
	)
	require.Error(t, err)
	assert.Equal(t, errclass.Persistent, errclass.GetClass(err))
}

func TestMissingDefault(t *testing.T) { //nolint:paralleltest // uses env vars
	_, err := config.NewConfiguration(testdata,
		config.WithFilePath("testdata/settings.toml"),
		config.WithEnvPrefix(testPrefix),
		config.WithDefaultEnv("absent"),
	)
	require.Error(t, err)
}

func TestMissingFile(t *testing.T) { //nolint:paralleltest // uses env vars
	_, err := config.NewConfiguration(testdata, config.WithFilePath("testdata/none.toml"))
	require.Error(t, err)
	assert.Equal(t, errclass.Persistent, errclass.GetClass(err))
}

func TestEnvOnly(t *testing.T) {
	t.Setenv(testPrefix+"NATS_ADDRESS", "nats://env:4222")

	cfg, err := config.NewConfiguration(nil, config.WithEnvPrefix(testPrefix))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Environment())

	nats, err := config.Load(cfg, "nats", natsConfig{})
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", nats.Address)
}

func TestTypeMismatch(t *testing.T) {
	t.Setenv(testEnv, "broken")

	cfg := load(t)
	var level struct{ LogLevel struct{ Name string } }
	err := cfg.Unmarshal("", &level)
	require.Error(t, err)
	assert.Equal(t, errclass.Persistent, errclass.GetClass(err))
}

func TestFromMap(t *testing.T) { //nolint:paralleltest // uses env vars
	cfg, err := config.NewConfigurationFromMap(map[string]any{
		"nats.address":          "nats://map:4222",
		"relay.consumer.stream": "MAP",
	})
	require.NoError(t, err)

	nats, err := config.Load(cfg, "nats", natsConfig{})
	require.NoError(t, err)
	assert.Equal(t, "nats://map:4222", nats.Address)
	assert.True(t, cfg.Exists("relay.consumer"))
}
