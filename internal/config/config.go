package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Course import service
	CourseAPIURL    string  `yaml:"course_api_url"`
	CourseAPIToken  string  `yaml:"course_api_token"`
	ImportRateLimit float64 `yaml:"import_rate_limit"` // requests per second

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl"`

	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig selects and configures the output storage backend.
type StorageConfig struct {
	Adapter string             `yaml:"adapter"` // "local" or "s3"
	Local   LocalStorageConfig `yaml:"local"`
	S3      S3StorageConfig    `yaml:"s3"`
}

type LocalStorageConfig struct {
	BasePath string `yaml:"base_path"`
}

type S3StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:            "8090",
		CourseAPIURL:    "http://localhost:8000",
		ImportRateLimit: 5,
		WorkerCount:     1,
		MaxQueueSize:    100,
		MaxUploadBytes:  104857600, // 100MB
		JobTTL:          1 * time.Hour,
		Storage: StorageConfig{
			Adapter: "local",
			Local:   LocalStorageConfig{BasePath: "./output"},
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// EPUBNORM_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("EPUBNORM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIKey = envOr("EPUBNORM_API_KEY", cfg.APIKey)

	cfg.CourseAPIURL = envOr("COURSE_API_URL", cfg.CourseAPIURL)
	cfg.CourseAPIToken = envOr("COURSE_API_TOKEN", cfg.CourseAPIToken)
	cfg.ImportRateLimit = envFloat("IMPORT_RATE_LIMIT", cfg.ImportRateLimit)

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)

	cfg.Storage.Adapter = envOr("STORAGE_ADAPTER", cfg.Storage.Adapter)
	cfg.Storage.Local.BasePath = envOr("STORAGE_LOCAL_BASE_PATH", cfg.Storage.Local.BasePath)
	cfg.Storage.S3.Bucket = envOr("STORAGE_S3_BUCKET", cfg.Storage.S3.Bucket)
	cfg.Storage.S3.Region = envOr("STORAGE_S3_REGION", cfg.Storage.S3.Region)
	cfg.Storage.S3.Endpoint = envOr("STORAGE_S3_ENDPOINT", cfg.Storage.S3.Endpoint)
	cfg.Storage.S3.AccessKeyID = envOr("STORAGE_S3_ACCESS_KEY_ID", cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = envOr("STORAGE_S3_SECRET_ACCESS_KEY", cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.S3.Prefix = envOr("STORAGE_S3_PREFIX", cfg.Storage.S3.Prefix)

	def := Defaults()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = def.JobTTL
	}
	if cfg.ImportRateLimit <= 0 {
		cfg.ImportRateLimit = def.ImportRateLimit
	}

	return cfg, nil
}

// Validate checks the settings the HTTP server needs.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("EPUBNORM_API_KEY is required")
	}
	switch c.Storage.Adapter {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("STORAGE_S3_BUCKET is required for the s3 adapter")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("STORAGE_S3_REGION is required for the s3 adapter")
		}
	default:
		return fmt.Errorf("unknown STORAGE_ADAPTER %q", c.Storage.Adapter)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
