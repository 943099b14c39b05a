// Package config provides configuration loading and structs for Kioku.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cluster   ClusterConfig   `yaml:"cluster"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	// Provider is "memory", "sqlite", or "qdrant".
	Provider      string `yaml:"provider"`
	DatabasePath  string `yaml:"database_path"`
	QdrantURL     string `yaml:"qdrant_url"`
	ScrollCeiling int    `yaml:"scroll_ceiling"`
}

// EmbeddingConfig holds the local embedder settings.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	// UseMock swaps in the deterministic mock embedder (tests, offline).
	UseMock bool `yaml:"use_mock"`
}

// RetrievalConfig holds retrieval, deduplication, and assembly settings.
type RetrievalConfig struct {
	// SourceWeights are budget weights keyed by source name.
	SourceWeights map[string]int `yaml:"source_weights"`
	// Collections maps source names to collection names.
	Collections           map[string]string `yaml:"collections"`
	PerSourceLimit        int               `yaml:"per_source_limit"`
	MaxTokens             int               `yaml:"max_tokens"`
	MaxItemFraction       float64           `yaml:"max_item_fraction"`
	SimilarityThreshold   float64           `yaml:"similarity_threshold"`
	MaxFuzzyContentLength int               `yaml:"max_fuzzy_content_length"`
}

// ClusterConfig holds cluster extraction settings.
type ClusterConfig struct {
	// AxisCollections maps axis names to collection names.
	AxisCollections map[string]string  `yaml:"axis_collections"`
	MinClusterSize  int                `yaml:"min_cluster_size"`
	MinSamples      int                `yaml:"min_samples"`
	Selection       string             `yaml:"selection"`
	TierWeights     map[string]float64 `yaml:"tier_weights"`
	UntieredWeight  float64            `yaml:"untiered_weight"`
	Workers         int                `yaml:"workers"`
	TimeoutSeconds  int                `yaml:"timeout_seconds"`
}

// Load reads and parses the config file at path, expands paths, and
// applies defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.DatabasePath = expandPath(cfg.Store.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
