package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ThinkingBudgetUnlimited disables the provider's thinking cap. Forced onto
// stronger-model retry attempts, which ignore a finite budget anyway.
const ThinkingBudgetUnlimited = -1

// Config carries every tunable for the translation pipeline. Components take
// a snapshot at launch; in-flight work keeps the record it started with.
type Config struct {
	// APIKey authenticates against the model provider
	APIKey string `yaml:"api_key"`

	// ModelName is the primary model alias used for translation and summaries
	ModelName string `yaml:"model_name"`

	// StrongerRetryModelName, when set, is used for chunk attempts beyond 3
	StrongerRetryModelName string `yaml:"stronger_retry_model_name"`

	// TargetLanguage is the BCP-47 code translations are produced in (e.g. "vi")
	TargetLanguage string `yaml:"target_language"`

	// SourceLanguage is the source code; empty means auto-detect
	SourceLanguage string `yaml:"source_language"`

	// Temperature and TopP are passed through to the provider
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`

	// RPM is the requests-per-minute bucket capacity
	RPM int `yaml:"rpm"`

	// TPMLimit is the tokens-per-minute bucket capacity
	TPMLimit int `yaml:"tpm_limit"`

	// TPMOutputEstimationFactor scales estimated input tokens to a total
	// (input + predicted output) charge against the TPM bucket (default 2.5)
	TPMOutputEstimationFactor float64 `yaml:"tpm_output_estimation_factor"`

	// EnableFileConcurrency gates MaxActiveFilesProcessing; when false the
	// active cap is forced to 1
	EnableFileConcurrency bool `yaml:"enable_file_concurrency"`

	// MaxActiveFilesProcessing caps jobs admitted concurrently (default 1)
	MaxActiveFilesProcessing int `yaml:"max_active_files_processing"`

	// EntriesPerChunk is how many subtitle entries go into one API call
	EntriesPerChunk int `yaml:"entries_per_chunk"`

	// ChunkRetries is the per-chunk attempt budget (default 2)
	ChunkRetries int `yaml:"chunk_retries"`

	// InitialRetryDelayMs / MaxRetryDelayMs bound the exponential backoff
	InitialRetryDelayMs int `yaml:"initial_retry_delay_ms"`
	MaxRetryDelayMs     int `yaml:"max_retry_delay_ms"`

	// ThinkingBudget is a provider hint; ThinkingBudgetUnlimited disables the cap
	ThinkingBudget int `yaml:"thinking_budget"`

	// EnableSummarization toggles the summary phase before translation
	EnableSummarization bool `yaml:"enable_summarization"`

	// HistoryDBPath is where the sqlite job history lives; empty disables it
	HistoryDBPath string `yaml:"history_db_path"`

	// LogLevel is debug, info, warn or error
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ModelName:                 "gemini-2.5-flash",
		TargetLanguage:            "en",
		Temperature:               0.7,
		TopP:                      0.95,
		RPM:                       10,
		TPMLimit:                  250000,
		TPMOutputEstimationFactor: 2.5,
		EnableFileConcurrency:     true,
		MaxActiveFilesProcessing:  1,
		EntriesPerChunk:           30,
		ChunkRetries:              2,
		InitialRetryDelayMs:       2000,
		MaxRetryDelayMs:           30000,
		ThinkingBudget:            ThinkingBudgetUnlimited,
		EnableSummarization:       false,
		LogLevel:                  "info",
	}
}

// Load reads config from a YAML file, applying defaults for missing values.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values left by a sparse config file.
func (c *Config) applyDefaults() {
	if c.ModelName == "" {
		c.ModelName = "gemini-2.5-flash"
	}
	if c.RPM < 1 {
		c.RPM = 10
	}
	if c.TPMLimit < 1 {
		c.TPMLimit = 250000
	}
	if c.TPMOutputEstimationFactor <= 0 {
		c.TPMOutputEstimationFactor = 2.5
	}
	if c.MaxActiveFilesProcessing < 1 {
		c.MaxActiveFilesProcessing = 1
	}
	if c.EntriesPerChunk < 1 {
		c.EntriesPerChunk = 30
	}
	if c.ChunkRetries < 1 {
		c.ChunkRetries = 2
	}
	if c.InitialRetryDelayMs < 1 {
		c.InitialRetryDelayMs = 2000
	}
	if c.MaxRetryDelayMs < c.InitialRetryDelayMs {
		c.MaxRetryDelayMs = 30000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// EffectiveMaxActive returns the active-job cap honoring the concurrency gate.
func (c *Config) EffectiveMaxActive() int {
	if !c.EnableFileConcurrency {
		return 1
	}
	if c.MaxActiveFilesProcessing < 1 {
		return 1
	}
	return c.MaxActiveFilesProcessing
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.TargetLanguage == "" {
		return fmt.Errorf("target_language is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %v", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be in [0, 1], got %v", c.TopP)
	}
	return nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
