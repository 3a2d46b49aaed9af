package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	WorkingDir     string         `yaml:"working_dir"`
	Style          string         `yaml:"style"`
	ChatModel      ServiceConfig  `yaml:"chat_model"`
	ImageGenerator ServiceConfig  `yaml:"image_generator"`
	VideoGenerator ServiceConfig  `yaml:"video_generator"`
	Metadata       MetadataConfig `yaml:"metadata"`
}

// ServiceConfig configures one external generation service: which backend to
// construct, which model to request, and the rate budget for its calls.
// A zero rate limit means that window is unbounded.
type ServiceConfig struct {
	Backend              string `yaml:"backend"`
	Model                string `yaml:"model"`
	APIKeyEnv            string `yaml:"api_key_env"`
	MaxRequestsPerMinute int    `yaml:"max_requests_per_minute"`
	MaxRequestsPerDay    int    `yaml:"max_requests_per_day"`
}

type MetadataConfig struct {
	GenerateThumbnails  bool `yaml:"generate_thumbnails"`
	GenerateHeadlines   bool `yaml:"generate_headlines"`
	GenerateDescription bool `yaml:"generate_description"`
	ThumbnailCount      int  `yaml:"thumbnail_count"`
	HeadlineCount       int  `yaml:"headline_count"`
}

// APIKey resolves the service's API key from the environment.
func (s ServiceConfig) APIKey() (string, error) {
	if s.APIKeyEnv == "" {
		return "", fmt.Errorf("backend %q has no api_key_env configured", s.Backend)
	}
	key := os.Getenv(s.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s not set", s.APIKeyEnv)
	}
	return key, nil
}

// Load reads a YAML config file and returns a Config struct.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.WorkingDir == "" {
		return nil, fmt.Errorf("working_dir is required")
	}
	if cfg.Metadata.ThumbnailCount == 0 {
		cfg.Metadata.ThumbnailCount = 3
	}
	if cfg.Metadata.HeadlineCount == 0 {
		cfg.Metadata.HeadlineCount = 5
	}
	return &cfg, nil
}
