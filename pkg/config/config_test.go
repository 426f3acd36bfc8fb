package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/flightdeck/pkg/logger"
	"github.com/carverauto/flightdeck/pkg/models"
)

var errAlwaysInvalid = errors.New("always invalid")

type validatedConfig struct {
	Name  string `json:"name"`
	valid bool
}

func (c *validatedConfig) Validate() error {
	if !c.valid {
		c.valid = true
		return nil
	}

	return errAlwaysInvalid
}

type failingConfig struct {
	Name string `json:"name"`
}

func (*failingConfig) Validate() error {
	return errAlwaysInvalid
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	path := writeTempConfig(t, `{"name":"fleet-a"}`)

	var cfg validatedConfig

	c := NewConfig(logger.NewTestLogger())
	require.NoError(t, c.LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "fleet-a", cfg.Name)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg validatedConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "absent.json"), &cfg)

	require.Error(t, err)
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	path := writeTempConfig(t, `{"name":"fleet-a"}`)

	var cfg failingConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), path, &cfg)

	require.ErrorIs(t, err, errAlwaysInvalid)
}

func TestLoadAndValidateBadSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "carrier-pigeon")

	var cfg validatedConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), "ignored.json", &cfg)

	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestEnvLoader(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("FLIGHTDECK_CONFIG_JSON", `{"name":"from-env"}`)

	var cfg validatedConfig

	c := NewConfig(logger.NewTestLogger())
	require.NoError(t, c.LoadAndValidate(context.Background(), "ignored.json", &cfg))

	assert.Equal(t, "from-env", cfg.Name)
}

func TestEnvLoaderMissingVariable(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("FLIGHTDECK_CONFIG_JSON", "")

	var cfg validatedConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), "ignored.json", &cfg)

	require.ErrorIs(t, err, ErrEnvConfigMissing)
}

func TestFleetConfigThroughLoader(t *testing.T) {
	path := writeTempConfig(t, `{
		"devices": [
			{"id": "alpha", "ip": "192.168.10.1"},
			{"id": "bravo", "ip": "192.168.10.2", "video_port": 11112}
		]
	}`)

	var fleet models.FleetConfig

	c := NewConfig(logger.NewTestLogger())
	require.NoError(t, c.LoadAndValidate(context.Background(), path, &fleet))

	require.Len(t, fleet.Devices, 2)
	assert.Equal(t, "alpha", fleet.Devices[0].ID)
	assert.Equal(t, 11112, fleet.Devices[1].VideoPort)
}

func TestFleetConfigValidationFailureSurfaces(t *testing.T) {
	path := writeTempConfig(t, `{"devices":[{"ip":"bogus"}]}`)

	var fleet models.FleetConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), path, &fleet)

	require.ErrorIs(t, err, models.ErrInvalidDeviceIP)
}

func TestNewConfigNilLoggerUsesBootstrap(t *testing.T) {
	path := writeTempConfig(t, `{"name":"fleet-a"}`)

	var cfg validatedConfig

	c := NewConfig(nil)
	require.NoError(t, c.LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "fleet-a", cfg.Name)
}
