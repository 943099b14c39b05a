package config

// Default collection names for the standard sources and experience axes.
var (
	DefaultSourceCollections = map[string]string{
		"memory":     "memories",
		"code":       "code_chunks",
		"experience": "experiences_full",
		"value":      "values",
		"commit":     "commits",
	}
	DefaultAxisCollections = map[string]string{
		"full":       "experiences_full",
		"surprise":   "experiences_surprise",
		"root_cause": "experiences_root_cause",
		"strategy":   "experiences_strategy",
	}
	DefaultSourceWeights = map[string]int{
		"memory":     2,
		"code":       2,
		"experience": 3,
		"value":      2,
		"commit":     1,
	}
	DefaultTierWeights = map[string]float64{
		"gold":      1.0,
		"silver":    0.7,
		"bronze":    0.4,
		"abandoned": 0.2,
	}
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "memory"
	}
	if cfg.Store.ScrollCeiling == 0 {
		cfg.Store.ScrollCeiling = 10000
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Retrieval.SourceWeights == nil {
		cfg.Retrieval.SourceWeights = DefaultSourceWeights
	}
	if cfg.Retrieval.Collections == nil {
		cfg.Retrieval.Collections = DefaultSourceCollections
	}
	if cfg.Retrieval.PerSourceLimit == 0 {
		cfg.Retrieval.PerSourceLimit = 10
	}
	if cfg.Retrieval.MaxTokens == 0 {
		cfg.Retrieval.MaxTokens = 4000
	}
	if cfg.Retrieval.MaxItemFraction == 0 {
		cfg.Retrieval.MaxItemFraction = 0.25
	}
	if cfg.Retrieval.SimilarityThreshold == 0 {
		cfg.Retrieval.SimilarityThreshold = 0.90
	}
	if cfg.Retrieval.MaxFuzzyContentLength == 0 {
		cfg.Retrieval.MaxFuzzyContentLength = 1000
	}
	if cfg.Cluster.AxisCollections == nil {
		cfg.Cluster.AxisCollections = DefaultAxisCollections
	}
	if cfg.Cluster.MinClusterSize == 0 {
		cfg.Cluster.MinClusterSize = 5
	}
	if cfg.Cluster.MinSamples == 0 {
		cfg.Cluster.MinSamples = cfg.Cluster.MinClusterSize
	}
	if cfg.Cluster.Selection == "" {
		cfg.Cluster.Selection = "eom"
	}
	if cfg.Cluster.TierWeights == nil {
		cfg.Cluster.TierWeights = DefaultTierWeights
	}
	if cfg.Cluster.UntieredWeight == 0 {
		cfg.Cluster.UntieredWeight = 0.5
	}
	if cfg.Cluster.Workers == 0 {
		cfg.Cluster.Workers = 2
	}
	if cfg.Cluster.TimeoutSeconds == 0 {
		cfg.Cluster.TimeoutSeconds = 300
	}
}
