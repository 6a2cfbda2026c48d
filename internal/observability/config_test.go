package observability

import (
	"testing"

	"github.com/smallbiznis/attribution/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "HTTP")

	cfg := LoadConfig(config.Config{AppVersion: "1.2.3", Environment: "production"})

	assert.Equal(t, "attribution", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestDebugFollowsEnvironment(t *testing.T) {
	assert.True(t, Config{Environment: "development"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "debug"}.Debug())
	assert.False(t, Config{Environment: "staging"}.Debug())
}

func TestGormLogParamsNeverInProduction(t *testing.T) {
	t.Setenv("GORM_LOG_PARAMS", "true")
	assert.False(t, LoadConfig(config.Config{Environment: "production"}).GormLogParams)
	assert.True(t, LoadConfig(config.Config{Environment: "development"}).GormLogParams)
}
