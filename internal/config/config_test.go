package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
debug: true
server:
  port: 9090
store:
  provider: sqlite
  database_path: ./kioku.db
retrieval:
  max_tokens: 2000
  source_weights:
    memory: 5
cluster:
  min_cluster_size: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug not loaded")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Store.Provider != "sqlite" {
		t.Errorf("provider: got %s", cfg.Store.Provider)
	}
	if cfg.Retrieval.MaxTokens != 2000 {
		t.Errorf("max_tokens: got %d", cfg.Retrieval.MaxTokens)
	}
	if cfg.Retrieval.SourceWeights["memory"] != 5 {
		t.Errorf("source_weights: got %v", cfg.Retrieval.SourceWeights)
	}
	if cfg.Cluster.MinClusterSize != 8 {
		t.Errorf("min_cluster_size: got %d", cfg.Cluster.MinClusterSize)
	}
	// MinSamples defaults to the configured cluster size.
	if cfg.Cluster.MinSamples != 8 {
		t.Errorf("min_samples: got %d", cfg.Cluster.MinSamples)
	}

	// "./" paths resolve relative to the config file.
	wantDB := filepath.Join(filepath.Dir(path), "kioku.db")
	if cfg.Store.DatabasePath != wantDB {
		t.Errorf("database_path: got %s, want %s", cfg.Store.DatabasePath, wantDB)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: map")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Store.Provider != "memory" || cfg.Store.ScrollCeiling != 10000 {
		t.Errorf("store defaults: %+v", cfg.Store)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Retrieval.MaxTokens != 4000 || cfg.Retrieval.MaxItemFraction != 0.25 {
		t.Errorf("retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.SimilarityThreshold != 0.90 || cfg.Retrieval.MaxFuzzyContentLength != 1000 {
		t.Errorf("dedup defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.Collections["memory"] != "memories" {
		t.Errorf("collection defaults: %v", cfg.Retrieval.Collections)
	}
	if cfg.Cluster.AxisCollections["root_cause"] != "experiences_root_cause" {
		t.Errorf("axis defaults: %v", cfg.Cluster.AxisCollections)
	}
	if cfg.Cluster.MinClusterSize != 5 || cfg.Cluster.MinSamples != 5 {
		t.Errorf("cluster defaults: %+v", cfg.Cluster)
	}
	if cfg.Cluster.TierWeights["gold"] != 1.0 || cfg.Cluster.UntieredWeight != 0.5 {
		t.Errorf("tier defaults: %+v", cfg.Cluster)
	}
	if cfg.Cluster.Workers != 2 || cfg.Cluster.TimeoutSeconds != 300 {
		t.Errorf("runner defaults: %+v", cfg.Cluster)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Retrieval.SourceWeights = map[string]int{"memory": 9}
	ApplyDefaults(&cfg)
	if cfg.Retrieval.SourceWeights["memory"] != 9 {
		t.Errorf("explicit weights overwritten: %v", cfg.Retrieval.SourceWeights)
	}
	if _, ok := cfg.Retrieval.SourceWeights["code"]; ok {
		t.Error("explicit weights merged with defaults")
	}
}
