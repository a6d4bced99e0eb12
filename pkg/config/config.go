package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file settings.
// Nesting is expressed with a double underscore: SPAMLENS_SERVER__ADDRESS.
const EnvPrefix = "SPAMLENS_"

// Config represents spamlens configuration
type Config struct {
	// Logging settings
	Logging LoggingConfig `yaml:"logging" koanf:"logging"`

	// Text normalization applied before vectorization
	Normalization NormalizationConfig `yaml:"normalization" koanf:"normalization"`

	// Feature vectorizer settings
	Vectorizer VectorizerConfig `yaml:"vectorizer" koanf:"vectorizer"`

	// Classifier settings
	Classifier ClassifierConfig `yaml:"classifier" koanf:"classifier"`

	// Training run settings
	Training TrainingConfig `yaml:"training" koanf:"training"`

	// Image text extraction settings
	OCR OCRConfig `yaml:"ocr" koanf:"ocr"`

	// Artifact storage settings
	Storage StorageConfig `yaml:"storage" koanf:"storage"`

	// HTTP inference server settings
	Server ServerConfig `yaml:"server" koanf:"server"`

	// Milter server settings
	Milter MilterConfig `yaml:"milter" koanf:"milter"`

	// Training history settings
	History HistoryConfig `yaml:"history" koanf:"history"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Env   string `yaml:"env" koanf:"env"`     // prod, dev, local
	Level string `yaml:"level" koanf:"level"` // debug, info, warn, error
}

// NormalizationConfig selects the normalization profile used for training.
// Inference always follows the profile recorded in the trained artifact.
type NormalizationConfig struct {
	Profile string `yaml:"profile" koanf:"profile"` // basic, stemmed
}

// VectorizerConfig contains TF-IDF vocabulary settings
type VectorizerConfig struct {
	MaxVocabularySize int    `yaml:"max_vocabulary_size" koanf:"max_vocabulary_size"`
	StopWordPolicy    string `yaml:"stop_word_policy" koanf:"stop_word_policy"` // english, none
	NgramMin          int    `yaml:"ngram_min" koanf:"ngram_min"`
	NgramMax          int    `yaml:"ngram_max" koanf:"ngram_max"`
}

// ClassifierConfig contains naive Bayes parameters
type ClassifierConfig struct {
	Alpha float64 `yaml:"alpha" koanf:"alpha"` // additive smoothing
}

// TrainingConfig contains corpus and split settings
type TrainingConfig struct {
	SpamDir   string `yaml:"spam_dir" koanf:"spam_dir"`
	NormalDir string `yaml:"normal_dir" koanf:"normal_dir"`
	TSVPath   string `yaml:"tsv_path" koanf:"tsv_path"`

	MinExamples         int     `yaml:"min_examples" koanf:"min_examples"`
	TestRatio           float64 `yaml:"test_ratio" koanf:"test_ratio"`
	Seed                int64   `yaml:"seed" koanf:"seed"`
	MinPerClassForSplit int     `yaml:"min_per_class_for_split" koanf:"min_per_class_for_split"`
}

// OCRConfig contains image preprocessing and tesseract settings
type OCRConfig struct {
	Tesseract     string `yaml:"tesseract" koanf:"tesseract"` // binary name or absolute path
	Lang          string `yaml:"lang" koanf:"lang"`
	PSM           int    `yaml:"psm" koanf:"psm"` // 6 = single uniform block of text
	TessdataDir   string `yaml:"tessdata_dir" koanf:"tessdata_dir"`
	MedianRadius  int    `yaml:"median_radius" koanf:"median_radius"`
	MinTextLength int    `yaml:"min_text_length" koanf:"min_text_length"`
	MaxPixels     int    `yaml:"max_pixels" koanf:"max_pixels"` // width*height cap applied before decoding
	TempDir       string `yaml:"temp_dir" koanf:"temp_dir"` // empty = os.TempDir()
}

// StorageConfig contains artifact persistence settings
type StorageConfig struct {
	// Backend selection: "file" or "redis"
	Backend string `yaml:"backend" koanf:"backend"`

	// File-based backend settings
	Dir             string `yaml:"dir" koanf:"dir"`
	KeepGenerations int    `yaml:"keep_generations" koanf:"keep_generations"`

	// Redis-based backend settings
	Redis RedisStorageConfig `yaml:"redis" koanf:"redis"`
}

// RedisStorageConfig contains Redis artifact storage settings
type RedisStorageConfig struct {
	RedisURL    string `yaml:"redis_url" koanf:"redis_url"`
	KeyPrefix   string `yaml:"key_prefix" koanf:"key_prefix"`
	DatabaseNum int    `yaml:"database_num" koanf:"database_num"`
}

// ServerConfig contains HTTP inference server settings
type ServerConfig struct {
	Address           string `yaml:"address" koanf:"address"`
	MaxUploadMB       int    `yaml:"max_upload_mb" koanf:"max_upload_mb"`
	MaxTextKB         int    `yaml:"max_text_kb" koanf:"max_text_kb"` // /predict JSON body limit
	ReadTimeoutMs     int    `yaml:"read_timeout_ms" koanf:"read_timeout_ms"`
	WriteTimeoutMs    int    `yaml:"write_timeout_ms" koanf:"write_timeout_ms"`
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms" koanf:"shutdown_timeout_ms"`
	ExcerptLength     int    `yaml:"excerpt_length" koanf:"excerpt_length"`
}

// MilterConfig contains milter server settings
type MilterConfig struct {
	Network                 string  `yaml:"network" koanf:"network"` // tcp, unix
	Address                 string  `yaml:"address" koanf:"address"`
	HeaderPrefix            string  `yaml:"header_prefix" koanf:"header_prefix"`
	RejectSpam              bool    `yaml:"reject_spam" koanf:"reject_spam"`
	RejectConfidence        float64 `yaml:"reject_confidence" koanf:"reject_confidence"` // percent, 0-100
	RejectMessage           string  `yaml:"reject_message" koanf:"reject_message"`
	MaxBodyBytes            int     `yaml:"max_body_bytes" koanf:"max_body_bytes"`
	ReadTimeoutMs           int     `yaml:"read_timeout_ms" koanf:"read_timeout_ms"`
	WriteTimeoutMs          int     `yaml:"write_timeout_ms" koanf:"write_timeout_ms"`
	GracefulShutdownTimeout int     `yaml:"graceful_shutdown_timeout_ms" koanf:"graceful_shutdown_timeout_ms"`
}

// HistoryConfig contains the training run ledger settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Path    string `yaml:"path" koanf:"path"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Env:   "dev",
			Level: "info",
		},
		Normalization: NormalizationConfig{
			Profile: "basic",
		},
		Vectorizer: VectorizerConfig{
			MaxVocabularySize: 5000,
			StopWordPolicy:    "english",
			NgramMin:          1,
			NgramMax:          1,
		},
		Classifier: ClassifierConfig{
			Alpha: 1.0,
		},
		Training: TrainingConfig{
			SpamDir:             "emails/spam",
			NormalDir:           "emails/normal",
			MinExamples:         10,
			TestRatio:           0.2,
			Seed:                42,
			MinPerClassForSplit: 4,
		},
		OCR: OCRConfig{
			Tesseract:     "tesseract",
			Lang:          "eng",
			PSM:           6,
			MedianRadius:  1,
			MinTextLength: 10,
			MaxPixels:     25_000_000,
		},
		Storage: StorageConfig{
			Backend:         "file",
			Dir:             "models",
			KeepGenerations: 3,
			Redis: RedisStorageConfig{
				RedisURL:    "redis://localhost:6379",
				KeyPrefix:   "spamlens:artifacts",
				DatabaseNum: 0,
			},
		},
		Server: ServerConfig{
			Address:           ":5001",
			MaxUploadMB:       16,
			MaxTextKB:         1024,
			ReadTimeoutMs:     30000,
			WriteTimeoutMs:    60000,
			ShutdownTimeoutMs: 10000,
			ExcerptLength:     500,
		},
		Milter: MilterConfig{
			Network:                 "tcp",
			Address:                 "127.0.0.1:7357",
			HeaderPrefix:            "X-Spamlens-",
			RejectSpam:              false,
			RejectConfidence:        95,
			MaxBodyBytes:            1 << 20,
			ReadTimeoutMs:           10000,
			WriteTimeoutMs:          10000,
			GracefulShutdownTimeout: 30000,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "spamlens-history.db",
		},
	}
}

// LoadConfig loads configuration: defaults, then the YAML file (if any), then
// SPAMLENS_* environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		if err := k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	config := DefaultConfig()
	if err := k.Unmarshal("", config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// envKey maps SPAMLENS_SERVER__MAX_UPLOAD_MB to server.max_upload_mb.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// SaveConfig saves configuration to file
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	validLevel := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	switch c.Normalization.Profile {
	case "basic", "stemmed":
	default:
		return fmt.Errorf("normalization profile must be 'basic' or 'stemmed'")
	}

	if c.Vectorizer.MaxVocabularySize < 1 {
		return fmt.Errorf("vectorizer max_vocabulary_size must be >= 1")
	}
	if c.Vectorizer.StopWordPolicy != "english" && c.Vectorizer.StopWordPolicy != "none" {
		return fmt.Errorf("vectorizer stop_word_policy must be 'english' or 'none'")
	}
	if c.Vectorizer.NgramMin < 1 || c.Vectorizer.NgramMax < c.Vectorizer.NgramMin {
		return fmt.Errorf("vectorizer ngram range must satisfy 1 <= ngram_min <= ngram_max")
	}

	if c.Classifier.Alpha <= 0 {
		return fmt.Errorf("classifier alpha must be > 0")
	}

	if c.Training.MinExamples < 1 {
		return fmt.Errorf("training min_examples must be >= 1")
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training test_ratio must be between 0 and 1")
	}
	if c.Training.MinPerClassForSplit < 2 {
		return fmt.Errorf("training min_per_class_for_split must be >= 2")
	}

	if c.OCR.MedianRadius < 0 {
		return fmt.Errorf("ocr median_radius must be >= 0")
	}
	if c.OCR.MinTextLength < 1 {
		return fmt.Errorf("ocr min_text_length must be >= 1")
	}
	if c.OCR.MaxPixels < 1 {
		return fmt.Errorf("ocr max_pixels must be >= 1")
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage dir cannot be empty for the file backend")
		}
	case "redis":
		if c.Storage.Redis.RedisURL == "" {
			return fmt.Errorf("storage redis_url cannot be empty for the redis backend")
		}
	default:
		return fmt.Errorf("storage backend must be 'file' or 'redis'")
	}

	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server max_upload_mb must be >= 1")
	}
	if c.Server.MaxTextKB < 1 {
		return fmt.Errorf("server max_text_kb must be >= 1")
	}
	if c.Server.ExcerptLength < 1 {
		return fmt.Errorf("server excerpt_length must be >= 1")
	}

	if c.Milter.Network != "tcp" && c.Milter.Network != "unix" {
		return fmt.Errorf("milter network must be 'tcp' or 'unix'")
	}
	if c.Milter.RejectConfidence < 50 || c.Milter.RejectConfidence > 100 {
		return fmt.Errorf("milter reject_confidence must be between 50 and 100")
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty when enabled")
	}

	return nil
}

// MaxTextBytes returns the /predict body limit in bytes.
func (c *Config) MaxTextBytes() int64 {
	return int64(c.Server.MaxTextKB) << 10
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}
