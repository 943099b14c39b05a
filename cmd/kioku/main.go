// Package main is the Kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kioku/internal/cluster"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/dedup"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/store"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "kioku server" from the project dir uses the project's
// config (including debug). Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "query":
		runQuery()
	case "remember":
		runRemember()
	case "clusters":
		runClusters()
	case "count":
		runCount()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(
		components.Engine,
		components.Store,
		components.Embedder,
		components.Runner,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = direct store access)")
	maxTokens := fs.Int("max-tokens", 0, "token budget (0 = config default)")
	premortem := fs.Bool("premortem", false, "assemble premortem-mode context")
	estimator := fs.String("estimator", "", "token estimator: char or word")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku query [flags] <text>")
		os.Exit(1)
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		fmt.Println("Usage: kioku query [flags] <text>")
		os.Exit(1)
	}

	var response *retrieval.Response
	if *serverURL != "" {
		res, err := queryViaHTTP(*serverURL, map[string]any{
			"text":       text,
			"max_tokens": *maxTokens,
			"premortem":  *premortem,
			"estimator":  *estimator,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		response = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()

		response, err = components.Engine.BuildContext(context.Background(), retrieval.Query{
			Text:      text,
			MaxTokens: *maxTokens,
			Premortem: *premortem,
			Estimator: *estimator,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Println(response.Markdown)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func queryViaHTTP(serverURL string, body map[string]any) (*retrieval.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/query", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response retrieval.Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runRemember() {
	fs := flag.NewFlagSet("remember", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	category := fs.String("category", "", "memory category")
	importance := fs.Float64("importance", 0, "memory importance")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku remember [flags] <content>")
		os.Exit(1)
	}
	content := strings.TrimSpace(strings.Join(fs.Args(), " "))

	body, _ := json.Marshal(map[string]any{
		"content":    content,
		"category":   *category,
		"importance": *importance,
	})
	resp, err := http.Post(*serverURL+"/api/v1/memories", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Store failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Memory stored: %s\n", out.ID)
}

func runClusters() {
	fs := flag.NewFlagSet("clusters", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	wait := fs.Bool("wait", true, "wait for the extraction to finish")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku clusters [flags] <axis>")
		fmt.Println("Axes: full, surprise, root_cause, strategy")
		os.Exit(1)
	}
	axis := fs.Arg(0)

	url := fmt.Sprintf("%s/api/v1/clusters/%s", *serverURL, axis)
	if *wait {
		url += "?wait=1"
	}
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Extraction failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(bytes.TrimSpace(b)))
}

func runCount() {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku count [flags] <collection>")
		os.Exit(1)
	}
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/collections/%s/count", *serverURL, fs.Arg(0)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Count failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out.Count)
}

// Components holds initialized services.
type Components struct {
	Store    store.Store
	Registry *embedding.Registry
	Embedder embedding.Embedder
	Engine   *retrieval.Engine
	Runner   *cluster.Runner
}

func (c *Components) Close() {
	if c.Runner != nil {
		c.Runner.Close()
	}
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// standardCollections builds the set of collections the store manages
// lazily: every configured source collection plus every axis collection.
func standardCollections(cfg *config.Config) []models.Collection {
	seen := make(map[string]bool)
	var out []models.Collection
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, models.Collection{
			Name:      name,
			Dimension: cfg.Embedding.Dimensions,
			Distance:  models.DistanceCosine,
		})
	}
	for _, name := range cfg.Retrieval.Collections {
		add(name)
	}
	for _, name := range cfg.Cluster.AxisCollections {
		add(name)
	}
	return out
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	backend, err := store.New(cfg.Store.Provider, store.Options{
		DatabasePath:  cfg.Store.DatabasePath,
		QdrantURL:     cfg.Store.QdrantURL,
		ScrollCeiling: cfg.Store.ScrollCeiling,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	managed := store.NewManaged(backend, standardCollections(cfg), logger)

	registry := embedding.NewRegistry()
	_ = registry.Register("mock", func() (embedding.Embedder, error) {
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
	})
	_ = registry.Register("onnx", func() (embedding.Embedder, error) {
		return embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
			cfg.Embedding.CacheSize,
		)
	})

	embedderName := "onnx"
	if cfg.Embedding.UseMock || cfg.Embedding.ModelPath == "" {
		embedderName = "mock"
	}
	embedder, err := registry.Get(embedderName)
	if err != nil {
		// Fall back to the deterministic mock when the model cannot load.
		logger.Warn("embedder unavailable, falling back to mock",
			zap.String("requested", embedderName),
			zap.Error(err))
		embedder, err = registry.Get("mock")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}

	collections := make(map[models.Source]string, len(cfg.Retrieval.Collections))
	for src, name := range cfg.Retrieval.Collections {
		collections[models.Source(src)] = name
	}
	weights := make(map[models.Source]int, len(cfg.Retrieval.SourceWeights))
	for src, w := range cfg.Retrieval.SourceWeights {
		weights[models.Source(src)] = w
	}

	engine := retrieval.NewEngine(managed, embedder, retrieval.Options{
		Collections:     collections,
		Weights:         weights,
		PerSourceLimit:  cfg.Retrieval.PerSourceLimit,
		MaxTokens:       cfg.Retrieval.MaxTokens,
		MaxItemFraction: cfg.Retrieval.MaxItemFraction,
		Dedup: dedup.Options{
			SimilarityThreshold:   cfg.Retrieval.SimilarityThreshold,
			MaxFuzzyContentLength: cfg.Retrieval.MaxFuzzyContentLength,
		},
	}, logger)

	extractor := cluster.NewExtractor(managed, cluster.Config{
		MinClusterSize: cfg.Cluster.MinClusterSize,
		MinSamples:     cfg.Cluster.MinSamples,
		Selection:      cfg.Cluster.Selection,
		TierWeights:    cfg.Cluster.TierWeights,
		UntieredWeight: cfg.Cluster.UntieredWeight,
	}, logger)
	runner := cluster.NewRunner(extractor, cfg.Cluster.Workers,
		time.Duration(cfg.Cluster.TimeoutSeconds)*time.Second, logger)

	return &Components{
		Store:    managed,
		Registry: registry,
		Embedder: embedder,
		Engine:   engine,
		Runner:   runner,
	}, nil
}

func printUsage() {
	fmt.Println(`kioku - Semantic memory retrieval and context assembly engine

Usage:
  kioku server [flags]              Start the HTTP server
  kioku query [flags] <text>        Build a context pack for a query
  kioku remember [flags] <content>  Store a memory
  kioku clusters [flags] <axis>     Extract experience clusters for an axis
  kioku count [flags] <collection>  Count records in a collection
  kioku version                     Show version
  kioku help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging

Query Flags:
  --config string     Config file path (for direct store mode)
  --server string     Server URL (default: http://localhost:8080). Use empty (--server "") for direct store access.
  --max-tokens int    Token budget (0 = config default)
  --premortem         Assemble premortem-mode context
  --estimator string  Token estimator: char or word
  --output string     Output format: text or json (default: text)

Examples:
  kioku server
  kioku query "how do we handle sqlite migrations"
  kioku query --premortem "rolling out the new cache layer"
  kioku remember --category decision "we keep payloads schemaless"
  kioku clusters root_cause
  kioku count memories`)
}
