package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config is the complete configuration for the storage and retrieval engine.
type Config struct {
	Version         int                   `yaml:"version" json:"version"`
	Paths           PathsConfig           `yaml:"paths" json:"paths"`
	Storage         StorageConfig         `yaml:"storage" json:"storage"`
	ChunkSize       int                   `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap    int                   `yaml:"chunk_overlap" json:"chunk_overlap"`
	Retrieval       RetrievalConfig       `yaml:"retrieval" json:"retrieval"`
	Retention       RetentionConfig       `yaml:"retention" json:"retention"`
	Graph           GraphConfig           `yaml:"graph" json:"graph"`
	DeadEndBoost    float64               `yaml:"dead_end_boost" json:"dead_end_boost"`
	QualityScoring  QualityScoringConfig  `yaml:"quality_scoring" json:"quality_scoring"`
	SensitiveFilter SensitiveFilterConfig `yaml:"sensitive_filter" json:"sensitive_filter"`
	BM25            BM25Config            `yaml:"bm25" json:"bm25"`
	Embeddings      EmbeddingsConfig      `yaml:"embeddings" json:"embeddings"`
	Logging         LoggingConfig         `yaml:"logging" json:"logging"`
}

// PathsConfig configures which paths the freshness detector walks.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// StorageConfig selects and configures the relational and vector backends (C3, C4).
type StorageConfig struct {
	// Backend selects the relational store: "embedded" (SQLite) or "networked-sql" (Postgres).
	Backend string `yaml:"backend" json:"backend"`
	// Vector selects the vector index: "builtin" (HNSW) or "external" (Qdrant).
	Vector string `yaml:"vector" json:"vector"`

	Embedded      EmbeddedStorageConfig      `yaml:"embedded" json:"embedded"`
	NetworkedSQL  NetworkedSQLConfig         `yaml:"networked_sql" json:"networked_sql"`
	ExternalVector ExternalVectorConfig      `yaml:"external_vector" json:"external_vector"`
}

// EmbeddedStorageConfig configures the per-project SQLite-backed stores.
type EmbeddedStorageConfig struct {
	Path        string `yaml:"path" json:"path"`
	GlobalPath  string `yaml:"global_path" json:"global_path"`
	WALMode     bool   `yaml:"wal_mode" json:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" json:"busy_timeout"` // milliseconds
}

// NetworkedSQLConfig configures the Postgres relational backend.
type NetworkedSQLConfig struct {
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	Host             string `yaml:"host" json:"host"`
	Port             int    `yaml:"port" json:"port"`
	Database         string `yaml:"database" json:"database"`
	User             string `yaml:"user" json:"user"`
	Password         string `yaml:"password" json:"password"`
	SSL              bool   `yaml:"ssl" json:"ssl"`
	PoolSize         int    `yaml:"pool_size" json:"pool_size"`
}

// ExternalVectorConfig configures the Qdrant vector engine.
type ExternalVectorConfig struct {
	URL              string `yaml:"url" json:"url"`
	APIKey           string `yaml:"api_key" json:"api_key"`
	CollectionPrefix string `yaml:"collection_prefix" json:"collection_prefix"`
	SearchEF         int    `yaml:"search_ef" json:"search_ef"`
	UseQuantization  bool   `yaml:"use_quantization" json:"use_quantization"`
}

// RetrievalConfig configures hybrid search (C6).
type RetrievalConfig struct {
	DefaultTopK            int     `yaml:"default_top_k" json:"default_top_k"`
	BM25Alpha              float64 `yaml:"bm25_alpha" json:"bm25_alpha"`
	RRFConstant            int     `yaml:"rrf_constant" json:"rrf_constant"`
	TemporalAutoSkip       bool    `yaml:"temporal_auto_skip" json:"temporal_auto_skip"`
	QualityBoostEnabled    bool    `yaml:"quality_boost_enabled" json:"quality_boost_enabled"`
	QualityBoostWeight     float64 `yaml:"quality_boost_weight" json:"quality_boost_weight"`
	MMREnabled             bool    `yaml:"mmr_enabled" json:"mmr_enabled"`
	MMRLambda              float64 `yaml:"mmr_lambda" json:"mmr_lambda"`
	QueryExpansionEnabled  bool    `yaml:"query_expansion_enabled" json:"query_expansion_enabled"`
	QueryExpansionMode     string  `yaml:"query_expansion_mode" json:"query_expansion_mode"`
}

// RetentionConfig configures temporal decay and retention scoring (C8).
type RetentionConfig struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	DecayRate           float64 `yaml:"decay_rate" json:"decay_rate"`
	AccessWeight        float64 `yaml:"access_weight" json:"access_weight"`
	MaxAccessBoost      float64 `yaml:"max_access_boost" json:"max_access_boost"`
	KeepThreshold       float64 `yaml:"keep_threshold" json:"keep_threshold"`
	DeleteThreshold     float64 `yaml:"delete_threshold" json:"delete_threshold"`
	DefaultQualityScore float64 `yaml:"default_quality_score" json:"default_quality_score"`
	UseTemporalDecay    bool    `yaml:"use_temporal_decay" json:"use_temporal_decay"`
}

// GraphConfig configures memory-graph scoring (C7).
type GraphConfig struct {
	Centrality CentralityConfig `yaml:"centrality" json:"centrality"`
}

// CentralityConfig configures the centrality boost applied during ranking.
type CentralityConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Weight  float64 `yaml:"weight" json:"weight"`
}

// QualityScoringConfig configures the quality-score boost.
type QualityScoringConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// SensitiveFilterConfig configures redaction of likely-sensitive content before persistence.
type SensitiveFilterConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	AutoRedact  bool `yaml:"auto_redact" json:"auto_redact"`
}

// BM25Config selects the lexical index backend (C2).
type BM25Config struct {
	// Backend is "sqlite" (FTS5, concurrent multi-process access) or "bleve".
	Backend string `yaml:"backend" json:"backend"`
}

// EmbeddingsConfig configures the embedding provider (C1).
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// defaultExcludePatterns are always excluded from the freshness walk.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Storage: StorageConfig{
			Backend: "embedded",
			Vector:  "builtin",
			Embedded: EmbeddedStorageConfig{
				Path:        ".amanmcp/metadata.db",
				GlobalPath:  "", // empty resolves via GetUserConfigDir at open time
				WALMode:     true,
				BusyTimeout: 5000,
			},
			NetworkedSQL: NetworkedSQLConfig{
				SSL:      true,
				PoolSize: 10,
			},
			ExternalVector: ExternalVectorConfig{
				CollectionPrefix: "amanmcp",
				SearchEF:         128,
				UseQuantization:  true,
			},
		},
		ChunkSize:    500,
		ChunkOverlap: 50,
		Retrieval: RetrievalConfig{
			DefaultTopK:           20,
			BM25Alpha:             0.5,
			RRFConstant:           60,
			TemporalAutoSkip:      true,
			QualityBoostEnabled:   true,
			QualityBoostWeight:    0.2,
			MMREnabled:            false,
			MMRLambda:             0.5,
			QueryExpansionEnabled: false,
			QueryExpansionMode:    "off",
		},
		Retention: RetentionConfig{
			Enabled:             true,
			DecayRate:           0.01,
			AccessWeight:        0.3,
			MaxAccessBoost:      1.5,
			KeepThreshold:       0.3,
			DeleteThreshold:     0.05,
			DefaultQualityScore: 0.5,
			UseTemporalDecay:    true,
		},
		Graph: GraphConfig{
			Centrality: CentralityConfig{
				Enabled: true,
				Weight:  0.15,
			},
		},
		DeadEndBoost: 0.15,
		QualityScoring: QualityScoringConfig{
			Enabled:   true,
			Threshold: 0.3,
		},
		SensitiveFilter: SensitiveFilterConfig{
			Enabled:    true,
			AutoRedact: false,
		},
		BM25: BM25Config{
			Backend: "sqlite",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "", // empty selects ollama (no static fallback)
			Model:      "qwen3-embedding:8b",
			Dimensions: 0, // auto-detect from embedder
			BatchSize:  32,
			OllamaHost: "", // empty uses default http://localhost:11434
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanmcp/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanmcp/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanmcp", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanmcp", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanmcp", "config.yaml")
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
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory, applying sources in order of
// increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanmcp/config.yaml)
//  3. Project config (.amanmcp.yaml in project root)
//  4. Environment variables (AMANMCP_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .amanmcp.yaml or .amanmcp.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".amanmcp.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".amanmcp.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.Vector != "" {
		c.Storage.Vector = other.Storage.Vector
	}
	if other.Storage.Embedded.Path != "" {
		c.Storage.Embedded.Path = other.Storage.Embedded.Path
	}
	if other.Storage.Embedded.GlobalPath != "" {
		c.Storage.Embedded.GlobalPath = other.Storage.Embedded.GlobalPath
	}
	if other.Storage.Embedded.BusyTimeout != 0 {
		c.Storage.Embedded.BusyTimeout = other.Storage.Embedded.BusyTimeout
	}
	if other.Storage.NetworkedSQL.ConnectionString != "" {
		c.Storage.NetworkedSQL.ConnectionString = other.Storage.NetworkedSQL.ConnectionString
	}
	if other.Storage.NetworkedSQL.Host != "" {
		c.Storage.NetworkedSQL.Host = other.Storage.NetworkedSQL.Host
	}
	if other.Storage.NetworkedSQL.Port != 0 {
		c.Storage.NetworkedSQL.Port = other.Storage.NetworkedSQL.Port
	}
	if other.Storage.NetworkedSQL.Database != "" {
		c.Storage.NetworkedSQL.Database = other.Storage.NetworkedSQL.Database
	}
	if other.Storage.NetworkedSQL.User != "" {
		c.Storage.NetworkedSQL.User = other.Storage.NetworkedSQL.User
	}
	if other.Storage.NetworkedSQL.Password != "" {
		c.Storage.NetworkedSQL.Password = other.Storage.NetworkedSQL.Password
	}
	if other.Storage.NetworkedSQL.PoolSize != 0 {
		c.Storage.NetworkedSQL.PoolSize = other.Storage.NetworkedSQL.PoolSize
	}
	if other.Storage.ExternalVector.URL != "" {
		c.Storage.ExternalVector.URL = other.Storage.ExternalVector.URL
	}
	if other.Storage.ExternalVector.APIKey != "" {
		c.Storage.ExternalVector.APIKey = other.Storage.ExternalVector.APIKey
	}
	if other.Storage.ExternalVector.CollectionPrefix != "" {
		c.Storage.ExternalVector.CollectionPrefix = other.Storage.ExternalVector.CollectionPrefix
	}
	if other.Storage.ExternalVector.SearchEF != 0 {
		c.Storage.ExternalVector.SearchEF = other.Storage.ExternalVector.SearchEF
	}

	if other.ChunkSize != 0 {
		c.ChunkSize = other.ChunkSize
	}
	if other.ChunkOverlap != 0 {
		c.ChunkOverlap = other.ChunkOverlap
	}

	// Retrieval
	if other.Retrieval.DefaultTopK != 0 {
		c.Retrieval.DefaultTopK = other.Retrieval.DefaultTopK
	}
	if other.Retrieval.BM25Alpha != 0 {
		c.Retrieval.BM25Alpha = other.Retrieval.BM25Alpha
	}
	if other.Retrieval.RRFConstant != 0 {
		c.Retrieval.RRFConstant = other.Retrieval.RRFConstant
	}
	if other.Retrieval.QualityBoostWeight != 0 {
		c.Retrieval.QualityBoostWeight = other.Retrieval.QualityBoostWeight
	}
	if other.Retrieval.MMRLambda != 0 {
		c.Retrieval.MMRLambda = other.Retrieval.MMRLambda
	}
	if other.Retrieval.QueryExpansionMode != "" {
		c.Retrieval.QueryExpansionMode = other.Retrieval.QueryExpansionMode
	}

	// Retention
	if other.Retention.DecayRate != 0 {
		c.Retention.DecayRate = other.Retention.DecayRate
	}
	if other.Retention.AccessWeight != 0 {
		c.Retention.AccessWeight = other.Retention.AccessWeight
	}
	if other.Retention.MaxAccessBoost != 0 {
		c.Retention.MaxAccessBoost = other.Retention.MaxAccessBoost
	}
	if other.Retention.KeepThreshold != 0 {
		c.Retention.KeepThreshold = other.Retention.KeepThreshold
	}
	if other.Retention.DeleteThreshold != 0 {
		c.Retention.DeleteThreshold = other.Retention.DeleteThreshold
	}
	if other.Retention.DefaultQualityScore != 0 {
		c.Retention.DefaultQualityScore = other.Retention.DefaultQualityScore
	}

	// Graph / quality / sensitive filter
	if other.Graph.Centrality.Weight != 0 {
		c.Graph.Centrality.Weight = other.Graph.Centrality.Weight
	}
	if other.DeadEndBoost != 0 {
		c.DeadEndBoost = other.DeadEndBoost
	}
	if other.QualityScoring.Threshold != 0 {
		c.QualityScoring.Threshold = other.QualityScoring.Threshold
	}

	// BM25 / Embeddings
	if other.BM25.Backend != "" {
		c.BM25.Backend = other.BM25.Backend
	}
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
}

// applyEnvOverrides applies AMANMCP_* environment variable overrides, the highest-precedence
// configuration source.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANMCP_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("AMANMCP_STORAGE_VECTOR"); v != "" {
		c.Storage.Vector = v
	}
	if v := os.Getenv("AMANMCP_NETWORKED_SQL_CONNECTION_STRING"); v != "" {
		c.Storage.NetworkedSQL.ConnectionString = v
	}
	if v := os.Getenv("AMANMCP_EXTERNAL_VECTOR_URL"); v != "" {
		c.Storage.ExternalVector.URL = v
	}
	if v := os.Getenv("AMANMCP_EXTERNAL_VECTOR_API_KEY"); v != "" {
		c.Storage.ExternalVector.APIKey = v
	}

	if v := os.Getenv("AMANMCP_BM25_ALPHA"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.BM25Alpha = w
		}
	}
	if v := os.Getenv("AMANMCP_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}

	if v := os.Getenv("AMANMCP_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// AMANMCP_EMBEDDER is an alias for AMANMCP_EMBEDDINGS_PROVIDER
	if v := os.Getenv("AMANMCP_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("AMANMCP_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("AMANMCP_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("AMANMCP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AMANMCP_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// DetectProjectType detects the project type based on marker files.
// Priority: go.mod > package.json > pyproject.toml/requirements.txt
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory by walking up from startDir looking for
// a .git directory or .amanmcp.yaml/.yml file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".amanmcp.yaml")) ||
			fileExists(filepath.Join(currentDir, ".amanmcp.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverSourceDirs discovers common source directories in the project.
func DiscoverSourceDirs(dir string) []string {
	commonSourceDirs := []string{"src", "lib", "pkg", "internal", "cmd"}
	frameworkDirs := []string{"app", "pages"} // Next.js, etc.

	var found []string
	for _, d := range commonSourceDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	if isNextJS(dir) {
		for _, d := range frameworkDirs {
			if dirExists(filepath.Join(dir, d)) {
				found = append(found, d)
			}
		}
	}

	return found
}

// DiscoverDocsDirs discovers documentation directories in the project.
func DiscoverDocsDirs(dir string) []string {
	commonDocDirs := []string{"docs", "doc"}
	commonDocFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string
	for _, d := range commonDocDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	for _, f := range commonDocFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break
		}
	}

	return found
}

// isNextJS checks if the project is a Next.js project.
func isNextJS(dir string) bool {
	pkgPath := filepath.Join(dir, "package.json")
	if !fileExists(pkgPath) {
		return false
	}

	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return false
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}

	_, hasNext := pkg.Dependencies["next"]
	_, hasNextDev := pkg.DevDependencies["next"]
	return hasNext || hasNextDev
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

// String returns a string representation of ProjectType.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown returns true if the project type is known (not unknown).
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Storage.Backend != "embedded" && c.Storage.Backend != "networked-sql" {
		return fmt.Errorf("storage.backend must be 'embedded' or 'networked-sql', got %s", c.Storage.Backend)
	}
	if c.Storage.Vector != "builtin" && c.Storage.Vector != "external" {
		return fmt.Errorf("storage.vector must be 'builtin' or 'external', got %s", c.Storage.Vector)
	}

	if c.Retrieval.BM25Alpha < 0 || c.Retrieval.BM25Alpha > 1 {
		return fmt.Errorf("retrieval.bm25_alpha must be between 0 and 1, got %f", c.Retrieval.BM25Alpha)
	}
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive, got %d", c.Retrieval.RRFConstant)
	}
	if c.Retrieval.DefaultTopK < 0 {
		return fmt.Errorf("retrieval.default_top_k must be non-negative, got %d", c.Retrieval.DefaultTopK)
	}
	if c.Retrieval.MMRLambda < 0 || c.Retrieval.MMRLambda > 1 {
		return fmt.Errorf("retrieval.mmr_lambda must be between 0 and 1, got %f", c.Retrieval.MMRLambda)
	}

	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be non-negative, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize && c.ChunkSize > 0 {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}

	if c.Retention.DecayRate < 0 {
		return fmt.Errorf("retention.decay_rate must be non-negative, got %f", c.Retention.DecayRate)
	}
	if math.Abs(c.Retention.KeepThreshold) > 0 && c.Retention.DeleteThreshold > c.Retention.KeepThreshold {
		return fmt.Errorf("retention.delete_threshold (%f) must not exceed retention.keep_threshold (%f)",
			c.Retention.DeleteThreshold, c.Retention.KeepThreshold)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "static": true, "empty": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', 'empty', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validBM25Backends := map[string]bool{"sqlite": true, "bleve": true}
	if !validBM25Backends[strings.ToLower(c.BM25.Backend)] {
		return fmt.Errorf("bm25.backend must be 'sqlite' or 'bleve', got %s", c.BM25.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
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

// MergeNewDefaults adds new default fields while preserving existing values. Returns the list
// of field names that were added with their default values, for reporting during an upgrade.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Retrieval.RRFConstant == 0 {
		c.Retrieval.RRFConstant = defaults.Retrieval.RRFConstant
		added = append(added, "retrieval.rrf_constant")
	}
	if c.Retrieval.BM25Alpha == 0 {
		c.Retrieval.BM25Alpha = defaults.Retrieval.BM25Alpha
		added = append(added, "retrieval.bm25_alpha")
	}
	if c.Retention.DefaultQualityScore == 0 {
		c.Retention.DefaultQualityScore = defaults.Retention.DefaultQualityScore
		added = append(added, "retention.default_quality_score")
	}
	if c.Graph.Centrality.Weight == 0 {
		c.Graph.Centrality.Weight = defaults.Graph.Centrality.Weight
		added = append(added, "graph.centrality.weight")
	}
	if c.DeadEndBoost == 0 {
		c.DeadEndBoost = defaults.DeadEndBoost
		added = append(added, "dead_end_boost")
	}

	return added
}
