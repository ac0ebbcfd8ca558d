// Package config provides configuration loading for the pipeline daemons.
// Environment variables carry deployment settings; the dataset descriptor
// (tables and their CDC settings) is a JSON file referenced from them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/nucleus/cdc-core/internal/blobstore"
	"github.com/nucleus/cdc-core/internal/table"
)

// DatasetConfig is the JSON dataset descriptor shared by all three daemons.
type DatasetConfig struct {
	Dataset   string             `json:"dataset"`
	Schema    string             `json:"schema"`
	BatchSize int                `json:"batch_size,omitempty"`
	Tables    []table.Descriptor `json:"tables"`
}

// DefaultBatchSize bounds extraction batch files when the descriptor does
// not set one.
const DefaultBatchSize = 250_000

// LoadDataset reads and validates a dataset descriptor file.
func LoadDataset(fileName string) (*DatasetConfig, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("read dataset config: %w", err)
	}
	var cfg DatasetConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse dataset config %s: %w", fileName, err)
	}
	if cfg.Dataset == "" {
		return nil, fmt.Errorf("dataset config %s: dataset name is required", fileName)
	}
	if cfg.Schema == "" {
		return nil, fmt.Errorf("dataset config %s: schema is required", fileName)
	}
	if len(cfg.Tables) == 0 {
		return nil, fmt.Errorf("dataset config %s: at least one table is required", fileName)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &cfg, nil
}

// CaptureConfig holds capture daemon configuration.
type CaptureConfig struct {
	DatasetFile string
	StateFolder string
	WorkFolder  string

	SourcePlatform string
	SourceDSN      string

	Landing blobstore.S3Config
	// Recovery is the recovery-snapshot area; it defaults to the landing
	// bucket but can point anywhere.
	Recovery blobstore.S3Config

	PollSeconds int
}

// LoadCaptureConfig loads configuration from environment.
func LoadCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		DatasetFile:    getEnv("CDC_DATASET_FILE", "dataset.json"),
		StateFolder:    getEnv("CDC_STATE_FOLDER", "state"),
		WorkFolder:     getEnv("CDC_WORK_FOLDER", "work"),
		SourcePlatform: getEnv("CDC_SOURCE_PLATFORM", "postgresql"),
		SourceDSN:      getEnv("CDC_SOURCE_DSN", ""),
		Landing:        loadS3Config("CDC_LANDING", "landing"),
		Recovery:       loadS3Config("CDC_RECOVERY", getEnv("CDC_LANDING_BUCKET", "landing")),
		PollSeconds:    getEnvInt("CDC_POLL_SECONDS", 60),
	}
}

// ArchiveConfig holds archive daemon configuration.
type ArchiveConfig struct {
	Dataset    string
	WorkFolder string

	Landing blobstore.S3Config
	Archive blobstore.S3Config

	ControlDSN  string
	PollSeconds int
}

// LoadArchiveConfig loads configuration from environment.
func LoadArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		Dataset:     getEnv("CDC_DATASET", ""),
		WorkFolder:  getEnv("CDC_WORK_FOLDER", "work"),
		Landing:     loadS3Config("CDC_LANDING", "landing"),
		Archive:     loadS3Config("CDC_ARCHIVE", "archive"),
		ControlDSN:  getEnv("CDC_CONTROL_DSN", ""),
		PollSeconds: getEnvInt("CDC_POLL_SECONDS", 60),
	}
}

// StageConfig holds stage daemon configuration. The stage daemon handles
// whatever datasets arrive; it needs no dataset descriptor of its own.
type StageConfig struct {
	WorkFolder string

	Archive blobstore.S3Config

	TargetPlatform string
	TargetDSN      string
	TargetSchema   string

	ControlDSN  string
	PollSeconds int
}

// LoadStageConfig loads configuration from environment.
func LoadStageConfig() *StageConfig {
	return &StageConfig{
		WorkFolder:     getEnv("CDC_WORK_FOLDER", "work"),
		Archive:        loadS3Config("CDC_ARCHIVE", "archive"),
		TargetPlatform: getEnv("CDC_TARGET_PLATFORM", "mssql"),
		TargetDSN:      getEnv("CDC_TARGET_DSN", ""),
		TargetSchema:   getEnv("CDC_TARGET_SCHEMA", "stage"),
		ControlDSN:     getEnv("CDC_CONTROL_DSN", ""),
		PollSeconds:    getEnvInt("CDC_POLL_SECONDS", 60),
	}
}

func loadS3Config(prefix, defaultBucket string) blobstore.S3Config {
	return blobstore.S3Config{
		EndpointURL:     getEnv(prefix+"_ENDPOINT", "localhost:9000"),
		Region:          getEnv(prefix+"_REGION", "us-east-1"),
		UseSSL:          getEnvBool(prefix+"_USE_SSL", false),
		AccessKeyID:     getEnv(prefix+"_ACCESS_KEY", ""),
		SecretAccessKey: getEnv(prefix+"_SECRET_KEY", ""),
		Bucket:          getEnv(prefix+"_BUCKET", defaultBucket),
		Prefix:          getEnv(prefix+"_PREFIX", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
