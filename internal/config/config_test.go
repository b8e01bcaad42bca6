package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("development_defaults_are_valid", func(t *testing.T) {
		cfg := &Config{
			Environment:   "development",
			BlobPath:      "./data/blobs",
			PublicBaseURL: "http://localhost:8080",
		}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("production_requires_public_base_url", func(t *testing.T) {
		cfg := &Config{
			Environment: "production",
			BlobPath:    "./data/blobs",
		}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "PUBLIC_BASE_URL")
	})

	t.Run("blob_path_required", func(t *testing.T) {
		cfg := &Config{Environment: "development"}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "BLOB_PATH")
	})
}

func TestConfig_Environment(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.True(t, (&Config{Environment: "prod"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())

	assert.True(t, (&Config{Environment: "dev"}).IsDevelopment())
	assert.True(t, (&Config{Environment: ""}).IsDevelopment())
	assert.False(t, (&Config{Environment: "production"}).IsDevelopment())
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_CONFIG_KEY", "from-env")
	assert.Equal(t, "from-env", getEnv("TEST_CONFIG_KEY", "fallback"))
	assert.Equal(t, "fallback", getEnv("TEST_CONFIG_KEY_MISSING", "fallback"))
}
