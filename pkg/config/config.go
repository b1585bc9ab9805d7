// Package config provides configuration management for facecheck.
// It loads configuration from YAML files with sensible defaults and
// environment overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/facecheck/pkg/match"
)

// Config holds all facecheck configuration.
type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Thresholds  match.Thresholds  `yaml:"thresholds"`
	Ensemble    EnsembleConfig    `yaml:"ensemble"`
	Geometry    GeometryConfig    `yaml:"geometry"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ScorerConfig selects a dlib descriptor scorer.
type ScorerConfig struct {
	Detector string `yaml:"detector"`
	Metric   string `yaml:"metric"`
}

// RecognitionConfig holds the models and the cascade scorers.
type RecognitionConfig struct {
	ModelPath    string       `yaml:"model_path"`
	MaxImageSize int          `yaml:"max_image_size"`
	Primary      ScorerConfig `yaml:"primary"`
	Secondary    ScorerConfig `yaml:"secondary"`
}

// VariantConfig is one ensemble variant. Kind "descriptor" uses Detector and
// Metric, kind "perceptual" uses Hash.
type VariantConfig struct {
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind"`
	Detector string  `yaml:"detector,omitempty"`
	Metric   string  `yaml:"metric,omitempty"`
	Hash     string  `yaml:"hash,omitempty"`
	Weight   float64 `yaml:"weight"`
	Negative string  `yaml:"negative,omitempty"`
	Scale    float64 `yaml:"scale,omitempty"`
}

// EnsembleConfig lists the enhanced verification variants.
type EnsembleConfig struct {
	Variants []VariantConfig `yaml:"variants"`
}

// GeometryConfig holds geometric verification settings.
type GeometryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Detector        string  `yaml:"detector"`
	Threshold       float64 `yaml:"threshold"`
	RatioTolerance  float64 `yaml:"ratio_tolerance"`
	ApplyToEnhanced bool    `yaml:"apply_to_enhanced"`

	// Weights of the eye, nose, mouth and jaw regions. The shipped dlib
	// model yields 5-point landmarks, so mouth and jaw are ignored and the
	// eye and nose weights are renormalized; they apply to 68-point input.
	Weights match.RegionWeights `yaml:"weights"`
}

// ReconcilerConfig holds attendance run settings.
type ReconcilerConfig struct {
	Workers int `yaml:"workers"`
}

// FetchConfig holds reference image download settings.
type FetchConfig struct {
	TimeoutSeconds int   `yaml:"timeout_seconds"`
	MaxBytes       int64 `yaml:"max_bytes"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Backend           string         `yaml:"backend"`
	DataDir           string         `yaml:"data_dir"`
	EncryptionEnabled bool           `yaml:"encryption_enabled"`
	Database          DatabaseConfig `yaml:"database"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// Storage backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Ensemble variant kinds.
const (
	KindDescriptor = "descriptor"
	KindPerceptual = "perceptual"
)

var (
	validDetectors = map[string]bool{"hog": true, "cnn": true}
	validMetrics   = map[string]bool{"cosine": true, "cosine-raw": true, "euclidean": true}
	validHashes    = map[string]bool{"dhash": true, "phash": true, "ahash": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats   = map[string]bool{"text": true, "json": true}
)

// DefaultVariants returns the reference ensemble.
func DefaultVariants() []VariantConfig {
	return []VariantConfig{
		{Name: "dlib-hog-cosine", Kind: KindDescriptor, Detector: "hog", Metric: "cosine", Weight: 0.3},
		{Name: "dhash-hamming", Kind: KindPerceptual, Hash: "dhash", Weight: 0.1},
		{Name: "dlib-cnn-euclidean", Kind: KindDescriptor, Detector: "cnn", Metric: "euclidean", Weight: 0.3},
		{Name: "dlib-cnn-cosine-raw", Kind: KindDescriptor, Detector: "cnn", Metric: "cosine-raw", Weight: 0.3, Negative: "abs_scaled", Scale: match.DefaultAbsScale},
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	geometry := match.DefaultGeometryConfig()
	return &Config{
		Recognition: RecognitionConfig{
			ModelPath:    filepath.Join(homeDir, ".local/share/facecheck/models"),
			MaxImageSize: 800,
			Primary:      ScorerConfig{Detector: "hog", Metric: "euclidean"},
			Secondary:    ScorerConfig{Detector: "cnn", Metric: "euclidean"},
		},
		Thresholds: match.DefaultThresholds(),
		Ensemble:   EnsembleConfig{Variants: DefaultVariants()},
		Geometry: GeometryConfig{
			Enabled:         true,
			Detector:        "hog",
			Threshold:       geometry.Threshold,
			RatioTolerance:  geometry.RatioTolerance,
			ApplyToEnhanced: false,
			Weights:         geometry.Weights,
		},
		Reconciler: ReconcilerConfig{
			Workers: 4,
		},
		Fetch: FetchConfig{
			TimeoutSeconds: 30,
			MaxBytes:       20 << 20,
		},
		Storage: StorageConfig{
			Backend:           BackendFile,
			DataDir:           filepath.Join(homeDir, ".local/share/facecheck"),
			EncryptionEnabled: true,
			Database: DatabaseConfig{
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facecheck/facecheck.yaml"); err == nil {
		return Load("/etc/facecheck/facecheck.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facecheck/facecheck.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ApplyEnv overrides settings from FACECHECK_* variables and DATABASE_URL.
// A DATABASE_URL switches the storage backend to postgres.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("FACECHECK_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("FACECHECK_MODEL_PATH"); v != "" {
		c.Recognition.ModelPath = v
	}
	if v := os.Getenv("FACECHECK_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FACECHECK_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FACECHECK_WORKERS: %w", err)
		}
		c.Reconciler.Workers = n
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.Database.URL = v
		c.Storage.Backend = BackendPostgres
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Recognition.Primary.validate("primary"); err != nil {
		return err
	}
	if err := c.Recognition.Secondary.validate("secondary"); err != nil {
		return err
	}
	if c.Recognition.MaxImageSize <= 0 {
		return fmt.Errorf("max_image_size must be positive, got %d", c.Recognition.MaxImageSize)
	}

	if err := c.Thresholds.Validate(); err != nil {
		return err
	}

	if err := c.validateEnsemble(); err != nil {
		return err
	}

	if c.Geometry.Enabled {
		if !validDetectors[c.Geometry.Detector] {
			return fmt.Errorf("invalid geometry detector: %s (must be hog or cnn)", c.Geometry.Detector)
		}
		if err := c.GeometrySettings().Validate(); err != nil {
			return err
		}
	}

	if c.Reconciler.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Reconciler.Workers)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %d", c.Fetch.TimeoutSeconds)
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("data_dir is required for the file backend")
		}
	case BackendPostgres:
		if c.Storage.Database.URL == "" {
			return fmt.Errorf("database url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be file or postgres)", c.Storage.Backend)
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

func (s ScorerConfig) validate(role string) error {
	if !validDetectors[s.Detector] {
		return fmt.Errorf("invalid %s detector: %s (must be hog or cnn)", role, s.Detector)
	}
	if !validMetrics[s.Metric] {
		return fmt.Errorf("invalid %s metric: %s (must be cosine, cosine-raw or euclidean)", role, s.Metric)
	}
	return nil
}

func (c *Config) validateEnsemble() error {
	variants := c.Ensemble.Variants
	if len(variants) == 0 {
		return fmt.Errorf("ensemble needs at least one variant")
	}

	var sum float64
	names := make(map[string]bool, len(variants))
	diverse := false
	for i, v := range variants {
		if v.Name == "" {
			return fmt.Errorf("ensemble variant %d has no name", i+1)
		}
		if names[v.Name] {
			return fmt.Errorf("duplicate ensemble variant %q", v.Name)
		}
		names[v.Name] = true

		switch v.Kind {
		case KindDescriptor:
			if err := (ScorerConfig{Detector: v.Detector, Metric: v.Metric}).validate("variant " + v.Name); err != nil {
				return err
			}
			if v.Detector != c.Recognition.Primary.Detector {
				diverse = true
			}
		case KindPerceptual:
			if !validHashes[v.Hash] {
				return fmt.Errorf("invalid hash for variant %s: %s (must be dhash, phash or ahash)", v.Name, v.Hash)
			}
		default:
			return fmt.Errorf("invalid kind for variant %s: %s (must be descriptor or perceptual)", v.Name, v.Kind)
		}

		if v.Weight < 0 {
			return fmt.Errorf("%w: variant %s has negative weight", match.ErrInvalidWeights, v.Name)
		}
		if _, err := match.ParseNegativePolicy(v.Negative, v.Scale); err != nil {
			return fmt.Errorf("variant %s: %w", v.Name, err)
		}
		sum += v.Weight
	}

	if math.Abs(sum-1) > match.WeightTolerance {
		return fmt.Errorf("%w: ensemble weights sum to %f, want 1", match.ErrInvalidWeights, sum)
	}
	if !diverse {
		return fmt.Errorf("ensemble needs a descriptor variant whose detector differs from the primary detector (%s)",
			c.Recognition.Primary.Detector)
	}
	return nil
}

// GeometrySettings returns the geometry section as a match.GeometryConfig.
func (c *Config) GeometrySettings() match.GeometryConfig {
	return match.GeometryConfig{
		Weights:        c.Geometry.Weights,
		RatioTolerance: c.Geometry.RatioTolerance,
		Threshold:      c.Geometry.Threshold,
	}
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	if c.Logging.File != "" {
		c.Logging.File = ExpandPath(c.Logging.File)
	}
}

// EnsureDirectories creates the data and model directories.
func (c *Config) EnsureDirectories() error {
	if c.Storage.Backend == BackendFile {
		if err := os.MkdirAll(filepath.Join(c.Storage.DataDir, "orgs"), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// OrgDir returns the file-backend directory of an organization.
func (c *Config) OrgDir(orgID string) string {
	return filepath.Join(c.Storage.DataDir, "orgs", orgID)
}
