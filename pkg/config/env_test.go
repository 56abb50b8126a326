package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetDurationEnvParsesDaySuffix(t *testing.T) {
	t.Setenv("KILLMAIL_TTL", "2d")
	assert.Equal(t, 48*time.Hour, GetDurationEnv("KILLMAIL_TTL", time.Hour))
}

func TestGetDurationEnvFallsBackOnUnparsable(t *testing.T) {
	t.Setenv("KILLMAIL_TTL", "not-a-duration")
	assert.Equal(t, time.Hour, GetDurationEnv("KILLMAIL_TTL", time.Hour))
}

func TestGetDurationEnvUsesDefaultWhenUnset(t *testing.T) {
	assert.Equal(t, 3*time.Hour, GetDurationEnv("UNSET_DURATION_KEY", 3*time.Hour))
}

func TestGetIntEnvParsesSetValue(t *testing.T) {
	t.Setenv("TASKPOOL_WORKERS", "8")
	assert.Equal(t, 8, GetIntEnv("TASKPOOL_WORKERS", 4))
}

func TestGetBoolEnvParsesSetValue(t *testing.T) {
	t.Setenv("ENABLE_TELEMETRY", "true")
	assert.True(t, GetBoolEnv("ENABLE_TELEMETRY", false))
}
