// Package config loads and validates TriRank configuration.
//
// Configuration is applied in order of increasing precedence: hardcoded
// defaults, user config (~/.config/trirank/config.yaml), project config
// (.trirank.yaml in the corpus root), then TRIRANK_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Method names accepted in enabled_methods.
const (
	MethodLexical = "lexical"
	MethodDense   = "dense"
	MethodGraph   = "graph"
)

// Config represents the complete TriRank configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	// DataDir is where indexes and metadata live. Empty means
	// .trirank/ under the corpus root.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// LogLevel controls file logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BM25K1 is the term-frequency saturation parameter. Typical range
	// 1.2-2.0. Higher values let repeated terms keep contributing.
	BM25K1 float64 `yaml:"bm25_k1" json:"bm25_k1"`

	// BM25B is the length-normalization strength in [0, 1].
	// 0 disables length normalization, 1 fully normalizes.
	BM25B float64 `yaml:"bm25_b" json:"bm25_b"`

	// RRFK is the reciprocal rank fusion smoothing constant.
	// Default 60 per the original Cormack et al. formulation.
	RRFK int `yaml:"rrf_k" json:"rrf_k"`

	// PerMethodTimeoutMS bounds each retrieval method individually.
	PerMethodTimeoutMS int `yaml:"per_method_timeout_ms" json:"per_method_timeout_ms"`

	// GlobalDeadlineMS bounds the whole retrieval round trip.
	GlobalDeadlineMS int `yaml:"global_deadline_ms" json:"global_deadline_ms"`

	// MaxGraphHops bounds entity proximity traversal depth.
	MaxGraphHops int `yaml:"max_graph_hops" json:"max_graph_hops"`

	// EnabledMethods selects which retrieval methods run.
	// Subset of {lexical, dense, graph}; defaults to all three.
	EnabledMethods []string `yaml:"enabled_methods" json:"enabled_methods"`

	// MaxResults is the default result count for search and fusion.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// Languages lists the analyzer languages used for lexical indexing.
	// Supported: en, es, ar.
	Languages []string `yaml:"languages" json:"languages"`

	Dense       DenseConfig       `yaml:"dense" json:"dense"`
	Graph       GraphConfig       `yaml:"graph" json:"graph"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// DenseConfig configures the late-interaction scorer.
type DenseConfig struct {
	// Dimensions is the embedding vector width.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Prefilter selects ANN candidate narrowing before exact MaxSim.
	// Options: "auto" (on for large corpora), "on", "off".
	Prefilter string `yaml:"prefilter" json:"prefilter"`

	// PrefilterMinChunks is the corpus size at which "auto" turns the
	// ANN prefilter on.
	PrefilterMinChunks int `yaml:"prefilter_min_chunks" json:"prefilter_min_chunks"`

	// CandidateMultiplier sizes the ANN candidate pool as a multiple of
	// the requested top-k.
	CandidateMultiplier int `yaml:"candidate_multiplier" json:"candidate_multiplier"`

	// CacheSize is the query embedding LRU cache capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// GraphConfig configures the entity proximity scorer.
type GraphConfig struct {
	// EntityLimitPerTerm caps entities matched per query term.
	EntityLimitPerTerm int `yaml:"entity_limit_per_term" json:"entity_limit_per_term"`

	// CacheSize is the entity lookup LRU cache capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// BreakerMaxFailures is consecutive source failures before the
	// circuit opens and graph scoring degrades.
	BreakerMaxFailures int `yaml:"breaker_max_failures" json:"breaker_max_failures"`

	// BreakerResetTimeout is how long the circuit stays open before a
	// half-open probe (e.g. "10s").
	BreakerResetTimeout string `yaml:"breaker_reset_timeout" json:"breaker_reset_timeout"`
}

// PerformanceConfig configures performance tuning options.
type PerformanceConfig struct {
	IndexWorkers  int    `yaml:"index_workers" json:"index_workers"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version:  1,
		DataDir:  "",
		LogLevel: "info",
		// Robertson defaults; k1=1.5 sits mid-range for prose corpora
		BM25K1: 1.5,
		BM25B:  0.75,
		// k=60 is the industry standard (Azure AI Search, OpenSearch)
		RRFK:               60,
		PerMethodTimeoutMS: 150,
		GlobalDeadlineMS:   400,
		MaxGraphHops:       2,
		EnabledMethods:     []string{MethodLexical, MethodDense, MethodGraph},
		MaxResults:         20,
		Languages:          []string{"en"},
		Dense: DenseConfig{
			Dimensions:          256,
			Prefilter:           "auto",
			PrefilterMinChunks:  5000,
			CandidateMultiplier: 4,
			CacheSize:           1024,
		},
		Graph: GraphConfig{
			EntityLimitPerTerm:  8,
			CacheSize:           512,
			BreakerMaxFailures:  3,
			BreakerResetTimeout: "10s",
		},
		Performance: PerformanceConfig{
			IndexWorkers:  runtime.NumCPU(),
			WatchDebounce: "500ms",
			SQLiteCacheMB: 64,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8765,
		},
	}
}

// MethodTimeout returns the per-method timeout as a duration.
func (c *Config) MethodTimeout() time.Duration {
	return time.Duration(c.PerMethodTimeoutMS) * time.Millisecond
}

// GlobalDeadline returns the global retrieval deadline as a duration.
func (c *Config) GlobalDeadline() time.Duration {
	return time.Duration(c.GlobalDeadlineMS) * time.Millisecond
}

// MethodEnabled reports whether the named method is in enabled_methods.
func (c *Config) MethodEnabled(method string) bool {
	for _, m := range c.EnabledMethods {
		if m == method {
			return true
		}
	}
	return false
}

// ResolveDataDir returns the index directory for a corpus root,
// honoring data_dir when set.
func (c *Config) ResolveDataDir(corpusRoot string) string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Join(corpusRoot, ".trirank")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/trirank/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/trirank/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "trirank", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "trirank", "config.yaml")
	}
	return filepath.Join(home, ".config", "trirank", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration for the given corpus root directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/trirank/config.yaml)
//  3. Project config (.trirank.yaml in corpus root)
//  4. Environment variables (TRIRANK_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .trirank.yaml or .trirank.yml.
func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, ".trirank.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, ".trirank.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	// Scoring parameters. Zero is not a practical value for any of them,
	// so only non-zero values merge.
	if other.BM25K1 != 0 {
		c.BM25K1 = other.BM25K1
	}
	if other.BM25B != 0 {
		c.BM25B = other.BM25B
	}
	if other.RRFK != 0 {
		c.RRFK = other.RRFK
	}
	if other.PerMethodTimeoutMS != 0 {
		c.PerMethodTimeoutMS = other.PerMethodTimeoutMS
	}
	if other.GlobalDeadlineMS != 0 {
		c.GlobalDeadlineMS = other.GlobalDeadlineMS
	}
	if other.MaxGraphHops != 0 {
		c.MaxGraphHops = other.MaxGraphHops
	}
	if len(other.EnabledMethods) > 0 {
		c.EnabledMethods = other.EnabledMethods
	}
	if other.MaxResults != 0 {
		c.MaxResults = other.MaxResults
	}
	if len(other.Languages) > 0 {
		c.Languages = other.Languages
	}

	// Dense
	if other.Dense.Dimensions != 0 {
		c.Dense.Dimensions = other.Dense.Dimensions
	}
	if other.Dense.Prefilter != "" {
		c.Dense.Prefilter = other.Dense.Prefilter
	}
	if other.Dense.PrefilterMinChunks != 0 {
		c.Dense.PrefilterMinChunks = other.Dense.PrefilterMinChunks
	}
	if other.Dense.CandidateMultiplier != 0 {
		c.Dense.CandidateMultiplier = other.Dense.CandidateMultiplier
	}
	if other.Dense.CacheSize != 0 {
		c.Dense.CacheSize = other.Dense.CacheSize
	}

	// Graph
	if other.Graph.EntityLimitPerTerm != 0 {
		c.Graph.EntityLimitPerTerm = other.Graph.EntityLimitPerTerm
	}
	if other.Graph.CacheSize != 0 {
		c.Graph.CacheSize = other.Graph.CacheSize
	}
	if other.Graph.BreakerMaxFailures != 0 {
		c.Graph.BreakerMaxFailures = other.Graph.BreakerMaxFailures
	}
	if other.Graph.BreakerResetTimeout != "" {
		c.Graph.BreakerResetTimeout = other.Graph.BreakerResetTimeout
	}

	// Performance
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.WatchDebounce != "" {
		c.Performance.WatchDebounce = other.Performance.WatchDebounce
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
}

// applyEnvOverrides applies TRIRANK_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TRIRANK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TRIRANK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("TRIRANK_BM25_K1"); v != "" {
		if f, err := parseFloat64(v); err == nil && f > 0 {
			c.BM25K1 = f
		}
	}
	if v := os.Getenv("TRIRANK_BM25_B"); v != "" {
		// b=0 is a legitimate setting (no length normalization)
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.BM25B = f
		}
	}
	if v := os.Getenv("TRIRANK_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.RRFK = k
		}
	}
	if v := os.Getenv("TRIRANK_METHOD_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.PerMethodTimeoutMS = ms
		}
	}
	if v := os.Getenv("TRIRANK_GLOBAL_DEADLINE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.GlobalDeadlineMS = ms
		}
	}
	if v := os.Getenv("TRIRANK_MAX_GRAPH_HOPS"); v != "" {
		if hops, err := strconv.Atoi(v); err == nil && hops > 0 {
			c.MaxGraphHops = hops
		}
	}
	if v := os.Getenv("TRIRANK_ENABLED_METHODS"); v != "" {
		var methods []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				methods = append(methods, m)
			}
		}
		if len(methods) > 0 {
			c.EnabledMethods = methods
		}
	}
	if v := os.Getenv("TRIRANK_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxResults = n
		}
	}
	if v := os.Getenv("TRIRANK_DENSE_PREFILTER"); v != "" {
		c.Dense.Prefilter = strings.ToLower(v)
	}
	if v := os.Getenv("TRIRANK_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindCorpusRoot finds the corpus root directory.
// It looks for a .trirank/ index, a .trirank.yaml/.yml file, or a .git
// directory by walking up the directory tree.
func FindCorpusRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".trirank")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".trirank.yaml")) ||
			fileExists(filepath.Join(currentDir, ".trirank.yml")) {
			return currentDir, nil
		}
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached filesystem root, fall back to the start directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.BM25K1 <= 0 {
		return fmt.Errorf("bm25_k1 must be positive, got %f", c.BM25K1)
	}
	if c.BM25B < 0 || c.BM25B > 1 {
		return fmt.Errorf("bm25_b must be between 0 and 1, got %f", c.BM25B)
	}
	if c.RRFK < 1 {
		return fmt.Errorf("rrf_k must be at least 1, got %d", c.RRFK)
	}
	if c.PerMethodTimeoutMS <= 0 {
		return fmt.Errorf("per_method_timeout_ms must be positive, got %d", c.PerMethodTimeoutMS)
	}
	if c.GlobalDeadlineMS <= 0 {
		return fmt.Errorf("global_deadline_ms must be positive, got %d", c.GlobalDeadlineMS)
	}
	if c.MaxGraphHops < 1 {
		return fmt.Errorf("max_graph_hops must be at least 1, got %d", c.MaxGraphHops)
	}
	if c.MaxResults < 1 {
		return fmt.Errorf("max_results must be at least 1, got %d", c.MaxResults)
	}

	validMethods := map[string]bool{MethodLexical: true, MethodDense: true, MethodGraph: true}
	for _, m := range c.EnabledMethods {
		if !validMethods[strings.ToLower(m)] {
			return fmt.Errorf("enabled_methods entries must be 'lexical', 'dense', or 'graph', got %s", m)
		}
	}

	validLanguages := map[string]bool{"en": true, "es": true, "ar": true}
	for _, lang := range c.Languages {
		if !validLanguages[strings.ToLower(lang)] {
			return fmt.Errorf("languages entries must be 'en', 'es', or 'ar', got %s", lang)
		}
	}

	if c.Dense.Dimensions < 1 {
		return fmt.Errorf("dense.dimensions must be at least 1, got %d", c.Dense.Dimensions)
	}
	validPrefilter := map[string]bool{"auto": true, "on": true, "off": true}
	if !validPrefilter[strings.ToLower(c.Dense.Prefilter)] {
		return fmt.Errorf("dense.prefilter must be 'auto', 'on', or 'off', got %s", c.Dense.Prefilter)
	}
	if c.Dense.CandidateMultiplier < 1 {
		return fmt.Errorf("dense.candidate_multiplier must be at least 1, got %d", c.Dense.CandidateMultiplier)
	}

	if c.Graph.EntityLimitPerTerm < 1 {
		return fmt.Errorf("graph.entity_limit_per_term must be at least 1, got %d", c.Graph.EntityLimitPerTerm)
	}
	if c.Graph.BreakerResetTimeout != "" {
		if _, err := time.ParseDuration(c.Graph.BreakerResetTimeout); err != nil {
			return fmt.Errorf("graph.breaker_reset_timeout is not a valid duration: %w", err)
		}
	}

	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'sse', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
// Used by `trirank config upgrade` after version bumps introduce new keys.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.BM25K1 == 0 {
		c.BM25K1 = defaults.BM25K1
		added = append(added, "bm25_k1")
	}
	// b=0 is a valid setting, indistinguishable from "not set" here.
	// Upgrade treats it as missing; set TRIRANK_BM25_B=0 to force it.
	if c.BM25B == 0 {
		c.BM25B = defaults.BM25B
		added = append(added, "bm25_b")
	}
	if c.RRFK == 0 {
		c.RRFK = defaults.RRFK
		added = append(added, "rrf_k")
	}
	if c.PerMethodTimeoutMS == 0 {
		c.PerMethodTimeoutMS = defaults.PerMethodTimeoutMS
		added = append(added, "per_method_timeout_ms")
	}
	if c.GlobalDeadlineMS == 0 {
		c.GlobalDeadlineMS = defaults.GlobalDeadlineMS
		added = append(added, "global_deadline_ms")
	}
	if c.MaxGraphHops == 0 {
		c.MaxGraphHops = defaults.MaxGraphHops
		added = append(added, "max_graph_hops")
	}
	if len(c.EnabledMethods) == 0 {
		c.EnabledMethods = defaults.EnabledMethods
		added = append(added, "enabled_methods")
	}
	if c.MaxResults == 0 {
		c.MaxResults = defaults.MaxResults
		added = append(added, "max_results")
	}
	if c.Dense.Dimensions == 0 {
		c.Dense.Dimensions = defaults.Dense.Dimensions
		added = append(added, "dense.dimensions")
	}
	if c.Dense.Prefilter == "" {
		c.Dense.Prefilter = defaults.Dense.Prefilter
		added = append(added, "dense.prefilter")
	}
	if c.Graph.EntityLimitPerTerm == 0 {
		c.Graph.EntityLimitPerTerm = defaults.Graph.EntityLimitPerTerm
		added = append(added, "graph.entity_limit_per_term")
	}
	if c.Graph.BreakerResetTimeout == "" {
		c.Graph.BreakerResetTimeout = defaults.Graph.BreakerResetTimeout
		added = append(added, "graph.breaker_reset_timeout")
	}
	if c.Performance.SQLiteCacheMB == 0 {
		c.Performance.SQLiteCacheMB = defaults.Performance.SQLiteCacheMB
		added = append(added, "performance.sqlite_cache_mb")
	}

	return added
}
