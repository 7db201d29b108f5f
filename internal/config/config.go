package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	ManifestPath      string        `yaml:"manifest_path"`
	OutputDir         string        `yaml:"output_dir"`
	LogDir            string        `yaml:"log_dir"`
	LogLevel          string        `yaml:"log_level"`
	MaxRetries        int           `yaml:"max_retries"`
	Workers           int           `yaml:"workers"`
	Resume            bool          `yaml:"resume"`
	ConvertH264       bool          `yaml:"convert_h264"`
	EnforcePortrait   bool          `yaml:"enforce_portrait"`
	UseSystemTimezone bool          `yaml:"use_system_timezone"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	FFprobePath       string        `yaml:"ffprobe_path"`
	VLCPath           string        `yaml:"vlc_path"`
	TranscodeTimeout  time.Duration `yaml:"transcode_timeout"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	MinFreeBytes      int64         `yaml:"min_free_bytes"`

	fileKeys map[string]bool
}

// DefaultWorkers mirrors the pool size used when WORKERS is unset.
func DefaultWorkers() int {
	return min(4, runtime.NumCPU())
}

// Load returns a Config struct populated with current configuration.
// Values come from the environment; a YAML file named by CONFIG_FILE fills
// in anything the environment leaves unset.
func Load() (*Config, error) {
	c := &Config{}

	if path := getEnvOrDefault("CONFIG_FILE", ""); path != "" {
		if err := c.mergeFile(path); err != nil {
			return nil, err
		}
	}

	c.ManifestPath = getEnvOrDefault("MANIFEST_PATH", c.ManifestPath)
	c.OutputDir = getEnvOrDefault("OUTPUT_DIR", c.OutputDir)
	c.LogDir = getEnvOrDefault("LOG_DIR", c.LogDir)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", orString(c.LogLevel, "INFO"))

	c.MaxRetries = getEnvAsIntOrDefault("MAX_RETRIES", orInt(c.MaxRetries, 3))
	c.Workers = getEnvAsIntOrDefault("WORKERS", orInt(c.Workers, DefaultWorkers()))
	c.Resume = getEnvAsBoolOrDefault("RESUME", c.Resume)
	// Both normalization passes default to on unless the file turns them off.
	if !c.fileKeys["convert_h264"] {
		c.ConvertH264 = true
	}
	if !c.fileKeys["enforce_portrait"] {
		c.EnforcePortrait = true
	}
	c.ConvertH264 = getEnvAsBoolOrDefault("CONVERT_H264", c.ConvertH264)
	c.EnforcePortrait = getEnvAsBoolOrDefault("ENFORCE_PORTRAIT", c.EnforcePortrait)
	c.UseSystemTimezone = getEnvAsBoolOrDefault("USE_SYSTEM_TIMEZONE", c.UseSystemTimezone)

	c.HTTPTimeout = getEnvAsDurationOrDefault("HTTP_TIMEOUT", orDuration(c.HTTPTimeout, 60*time.Second))
	c.RequestsPerSecond = getEnvAsFloatOrDefault("REQUESTS_PER_SECOND", orFloat(c.RequestsPerSecond, 5))

	c.FFmpegPath = getEnvOrDefault("FFMPEG_PATH", orString(c.FFmpegPath, "ffmpeg"))
	c.FFprobePath = getEnvOrDefault("FFPROBE_PATH", orString(c.FFprobePath, "ffprobe"))
	c.VLCPath = getEnvOrDefault("VLC_PATH", c.VLCPath)

	c.TranscodeTimeout = getEnvAsDurationOrDefault("TRANSCODE_TIMEOUT", orDuration(c.TranscodeTimeout, 5*time.Minute))
	c.ProbeTimeout = getEnvAsDurationOrDefault("PROBE_TIMEOUT", orDuration(c.ProbeTimeout, 10*time.Second))
	c.MinFreeBytes = int64(getEnvAsIntOrDefault("MIN_FREE_BYTES", int(c.MinFreeBytes)))

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports missing required settings and out-of-range values.
func (c *Config) Validate() error {
	var missingVars []string
	if c.ManifestPath == "" {
		missingVars = append(missingVars, "MANIFEST_PATH")
	}
	if c.OutputDir == "" {
		missingVars = append(missingVars, "OUTPUT_DIR")
	}
	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missingVars, ", "))
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.fileKeys = make(map[string]bool, len(raw))
	for k := range raw {
		c.fileKeys[k] = true
	}
	return nil
}
