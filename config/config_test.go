package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
working_dir: /tmp/run
style: noir comic
chat_model:
  backend: openai
  model: gpt-4o
  api_key_env: OPENAI_API_KEY
  max_requests_per_minute: 10
image_generator:
  backend: gemini
  model: gemini-2.5-flash-image
  api_key_env: GEMINI_API_KEY
  max_requests_per_minute: 8
  max_requests_per_day: 200
video_generator:
  backend: veo
  model: veo-3.0-generate-preview
  api_key_env: GEMINI_API_KEY
  max_requests_per_minute: 2
metadata:
  generate_headlines: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadParsesServices(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/run", cfg.WorkingDir)
	assert.Equal(t, "noir comic", cfg.Style)
	assert.Equal(t, "openai", cfg.ChatModel.Backend)
	assert.Equal(t, 8, cfg.ImageGenerator.MaxRequestsPerMinute)
	assert.Equal(t, 200, cfg.ImageGenerator.MaxRequestsPerDay)
	assert.Equal(t, "veo", cfg.VideoGenerator.Backend)
	assert.True(t, cfg.Metadata.GenerateHeadlines)
}

func TestLoadAppliesMetadataDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Metadata.ThumbnailCount)
	assert.Equal(t, 5, cfg.Metadata.HeadlineCount)
}

func TestLoadRequiresWorkingDir(t *testing.T) {
	_, err := Load(writeConfig(t, "style: noir\n"))
	assert.Error(t, err)
}

func TestAPIKeyResolution(t *testing.T) {
	svc := ServiceConfig{Backend: "gemini", APIKeyEnv: "TEST_PIPELINE_KEY"}

	_, err := svc.APIKey()
	assert.Error(t, err, "unset variable must fail")

	t.Setenv("TEST_PIPELINE_KEY", "secret")
	key, err := svc.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "secret", key)

	_, err = ServiceConfig{Backend: "gemini"}.APIKey()
	assert.Error(t, err, "missing api_key_env must fail")
}
