package akg

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/akg/resolve"
	"github.com/brunobiangulo/akg/retry"
	"github.com/brunobiangulo/akg/store/neostore"
)

// Graph backends.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Extraction modes.
const (
	// ModeAuto uses the LLM extractor and falls back to rules on failure.
	ModeAuto  = "auto"
	ModeLLM   = "llm"
	ModeRules = "rules"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AKG_"

// Config holds all configuration for the akg engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.akg/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "akg".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.akg/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Backend selects the graph store. The document registry always
	// lives in SQLite.
	Backend string          `json:"backend" yaml:"backend"`
	Neo4j   neostore.Config `json:"neo4j" yaml:"neo4j"`

	// LLM providers. An empty embedding provider disables vector recall.
	Chat         LLMConfig `json:"chat" yaml:"chat"`
	Embedding    LLMConfig `json:"embedding" yaml:"embedding"`
	EmbeddingDim int       `json:"embedding_dim" yaml:"embedding_dim"`

	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap"`

	MaxConcurrentDocuments int `json:"max_concurrent_documents" yaml:"max_concurrent_documents"`

	Input      InputConfig      `json:"input" yaml:"input"`
	Resolution ResolutionConfig `json:"resolution" yaml:"resolution"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// ExtractionConfig selects and tunes the extractors.
type ExtractionConfig struct {
	Mode string `json:"mode" yaml:"mode"` // auto, llm, rules
	// Domain pins the relationship keyword table. Empty detects it per
	// document.
	Domain            string `json:"domain" yaml:"domain"`
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute"`
	UseNER            bool   `json:"use_ner" yaml:"use_ner"`
	ProximityWindow   int    `json:"proximity_window" yaml:"proximity_window"`
	CooccurrenceGap   int    `json:"cooccurrence_window" yaml:"cooccurrence_window"`
}

// InputConfig filters the files picked up by IngestDir and watch.
type InputConfig struct {
	// SupportedFileTypes lists extensions without the dot. Empty accepts
	// every format the parser registry knows.
	SupportedFileTypes []string `json:"supported_file_types" yaml:"supported_file_types"`
	// ExcludePatterns are filepath.Match globs tested against the base
	// name and the path relative to the walked directory.
	ExcludePatterns []string `json:"exclude_patterns" yaml:"exclude_patterns"`
	Recursive       bool     `json:"recursive" yaml:"recursive"`
}

// ResolutionConfig tunes entity and relationship resolution.
type ResolutionConfig struct {
	EnableEntityDeduplication       bool    `json:"enable_entity_deduplication" yaml:"enable_entity_deduplication"`
	EntitySimilarityThreshold       float64 `json:"entity_similarity_threshold" yaml:"entity_similarity_threshold"`
	CrossTypeSimilarityThreshold    float64 `json:"cross_type_similarity_threshold" yaml:"cross_type_similarity_threshold"`
	EnableRelationshipDeduplication bool    `json:"enable_relationship_deduplication" yaml:"enable_relationship_deduplication"`
	TypeSimilarityThreshold         float64 `json:"type_similarity_threshold" yaml:"type_similarity_threshold"`
	LookupTimeoutSeconds            float64 `json:"lookup_timeout_seconds" yaml:"lookup_timeout_seconds"`
	MaxPersistRetries               int     `json:"max_persist_retries" yaml:"max_persist_retries"`
	RetryBackoffBaseSeconds         float64 `json:"retry_backoff_base_seconds" yaml:"retry_backoff_base_seconds"`
	Similarity                      string  `json:"similarity" yaml:"similarity"` // sequence, levenshtein, trigram
	CrossTypePolicy                 string  `json:"cross_type_policy" yaml:"cross_type_policy"`
	RelationshipPolicy              string  `json:"relationship_policy" yaml:"relationship_policy"`
	SearchLimit                     int     `json:"search_limit" yaml:"search_limit"`
}

// LogConfig configures the handler installed by the commands.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `json:"format" yaml:"format"` // json, text
	File       string `json:"file" yaml:"file"`     // empty logs to stdout
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.akg/akg.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "akg",
		StorageDir: "home",
		Backend:    BackendSQLite,
		Neo4j: neostore.Config{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
		},
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim: 768,
		Extraction: ExtractionConfig{
			Mode:              ModeAuto,
			RequestsPerMinute: 60,
		},
		MaxChunkTokens:         1024,
		ChunkOverlap:           128,
		MaxConcurrentDocuments: 5,
		Input: InputConfig{
			SupportedFileTypes: []string{"txt", "md", "pdf", "xlsx", "html"},
			ExcludePatterns:    []string{".*", "~$*"},
			Recursive:          true,
		},
		Resolution: ResolutionConfig{
			EnableEntityDeduplication:       true,
			EntitySimilarityThreshold:       0.8,
			CrossTypeSimilarityThreshold:    0.95,
			EnableRelationshipDeduplication: true,
			TypeSimilarityThreshold:         0.8,
			LookupTimeoutSeconds:            5,
			MaxPersistRetries:               3,
			RetryBackoffBaseSeconds:         1,
			Similarity:                      "sequence",
			CrossTypePolicy:                 string(resolve.KeepStoredType),
			RelationshipPolicy:              string(resolve.FirstWriterWins),
			SearchLimit:                     10,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig reads path over DefaultConfig, applies AKG_ environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			return cfg, fmt.Errorf("%w: decoding %s: %v", ErrInvalidConfig, filepath.Base(path), err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from AKG_-prefixed variables, e.g.
// AKG_DB_PATH or AKG_NEO4J_PASSWORD. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DB_PATH":             &c.DBPath,
		"DB_NAME":             &c.DBName,
		"STORAGE_DIR":         &c.StorageDir,
		"BACKEND":             &c.Backend,
		"NEO4J_URI":           &c.Neo4j.URI,
		"NEO4J_USERNAME":      &c.Neo4j.Username,
		"NEO4J_PASSWORD":      &c.Neo4j.Password,
		"NEO4J_DATABASE":      &c.Neo4j.Database,
		"CHAT_PROVIDER":       &c.Chat.Provider,
		"CHAT_MODEL":          &c.Chat.Model,
		"CHAT_BASE_URL":       &c.Chat.BaseURL,
		"CHAT_API_KEY":        &c.Chat.APIKey,
		"EMBEDDING_PROVIDER":  &c.Embedding.Provider,
		"EMBEDDING_MODEL":     &c.Embedding.Model,
		"EMBEDDING_BASE_URL":  &c.Embedding.BaseURL,
		"EMBEDDING_API_KEY":   &c.Embedding.APIKey,
		"EXTRACTION_MODE":     &c.Extraction.Mode,
		"EXTRACTION_DOMAIN":   &c.Extraction.Domain,
		"SIMILARITY":          &c.Resolution.Similarity,
		"CROSS_TYPE_POLICY":   &c.Resolution.CrossTypePolicy,
		"RELATIONSHIP_POLICY": &c.Resolution.RelationshipPolicy,
		"LOG_LEVEL":           &c.Log.Level,
		"LOG_FORMAT":          &c.Log.Format,
		"LOG_FILE":            &c.Log.File,
	}
	ints := map[string]*int{
		"EMBEDDING_DIM":            &c.EmbeddingDim,
		"REQUESTS_PER_MINUTE":      &c.Extraction.RequestsPerMinute,
		"MAX_CHUNK_TOKENS":         &c.MaxChunkTokens,
		"CHUNK_OVERLAP":            &c.ChunkOverlap,
		"MAX_CONCURRENT_DOCUMENTS": &c.MaxConcurrentDocuments,
		"MAX_PERSIST_RETRIES":      &c.Resolution.MaxPersistRetries,
		"SEARCH_LIMIT":             &c.Resolution.SearchLimit,
	}
	floats := map[string]*float64{
		"ENTITY_SIMILARITY_THRESHOLD":     &c.Resolution.EntitySimilarityThreshold,
		"CROSS_TYPE_SIMILARITY_THRESHOLD": &c.Resolution.CrossTypeSimilarityThreshold,
		"TYPE_SIMILARITY_THRESHOLD":       &c.Resolution.TypeSimilarityThreshold,
		"LOOKUP_TIMEOUT_SECONDS":          &c.Resolution.LookupTimeoutSeconds,
		"RETRY_BACKOFF_BASE_SECONDS":      &c.Resolution.RetryBackoffBaseSeconds,
	}
	bools := map[string]*bool{
		"USE_NER":                           &c.Extraction.UseNER,
		"ENABLE_ENTITY_DEDUPLICATION":       &c.Resolution.EnableEntityDeduplication,
		"ENABLE_RELATIONSHIP_DEDUPLICATION": &c.Resolution.EnableRelationshipDeduplication,
		"RECURSIVE":                         &c.Input.Recursive,
	}

	var errs []error
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalidConfig, EnvPrefix, key, v))
				continue
			}
			*dst = n
		}
	}
	for key, dst := range floats {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q is not a number", ErrInvalidConfig, EnvPrefix, key, v))
				continue
			}
			*dst = f
		}
	}
	for key, dst := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q is not a boolean", ErrInvalidConfig, EnvPrefix, key, v))
				continue
			}
			*dst = b
		}
	}
	if v, ok := lookup(EnvPrefix + "SUPPORTED_FILE_TYPES"); ok {
		c.Input.SupportedFileTypes = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "EXCLUDE_PATTERNS"); ok {
		c.Input.ExcludePatterns = splitList(v)
	}

	// Fallback: well-known provider variables for API keys.
	for _, l := range []*LLMConfig{&c.Chat, &c.Embedding} {
		if l.APIKey != "" {
			continue
		}
		if name, ok := providerKeyEnv[l.Provider]; ok {
			if v, ok := lookup(name); ok {
				l.APIKey = v
			}
		}
	}
	return errors.Join(errs...)
}

var providerKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"xai":        "XAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every invalid field, each wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Backend {
	case "", BackendSQLite:
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			bad("neo4j.uri is required for the neo4j backend")
		}
	default:
		bad("unknown backend %q", c.Backend)
	}

	switch c.Extraction.Mode {
	case "", ModeAuto, ModeRules:
	case ModeLLM:
		if c.Chat.Provider == "" {
			bad("extraction mode llm needs a chat provider")
		}
	default:
		bad("unknown extraction mode %q", c.Extraction.Mode)
	}
	if c.Extraction.RequestsPerMinute < 0 {
		bad("extraction.requests_per_minute must not be negative")
	}

	r := c.Resolution
	for name, v := range map[string]float64{
		"entity_similarity_threshold":     r.EntitySimilarityThreshold,
		"cross_type_similarity_threshold": r.CrossTypeSimilarityThreshold,
		"type_similarity_threshold":       r.TypeSimilarityThreshold,
	} {
		if v <= 0 || v > 1 {
			bad("resolution.%s must be in (0, 1], got %v", name, v)
		}
	}
	if r.MaxPersistRetries < 1 {
		bad("resolution.max_persist_retries must be at least 1")
	}
	if r.LookupTimeoutSeconds < 0 || r.RetryBackoffBaseSeconds < 0 {
		bad("resolution timeouts must not be negative")
	}
	if _, err := resolve.SimilarityByName(r.Similarity); err != nil {
		bad("resolution.similarity: %v", err)
	}
	switch resolve.CrossTypePolicy(r.CrossTypePolicy) {
	case "", resolve.KeepStoredType, resolve.AdoptCandidateType:
	default:
		bad("unknown resolution.cross_type_policy %q", r.CrossTypePolicy)
	}
	switch resolve.RelationshipPolicy(r.RelationshipPolicy) {
	case "", resolve.FirstWriterWins, resolve.UpgradeConfidence:
	default:
		bad("unknown resolution.relationship_policy %q", r.RelationshipPolicy)
	}

	if c.MaxConcurrentDocuments < 0 {
		bad("max_concurrent_documents must not be negative")
	}
	if _, err := c.Log.level(); err != nil {
		bad("log.level: %v", err)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		bad("unknown log.format %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "akg"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".akg", name+".db")
	}
}

// DatabasePath returns the SQLite path the engine opens.
func (c Config) DatabasePath() string {
	return c.resolveDBPath()
}

func (r ResolutionConfig) lookupTimeout() time.Duration {
	return time.Duration(r.LookupTimeoutSeconds * float64(time.Second))
}

func (r ResolutionConfig) resolverConfig() resolve.ResolverConfig {
	rc := resolve.DefaultResolverConfig()
	rc.EnableDeduplication = r.EnableEntityDeduplication
	if r.EntitySimilarityThreshold > 0 {
		rc.SimilarityThreshold = r.EntitySimilarityThreshold
	}
	if r.CrossTypeSimilarityThreshold > 0 {
		rc.CrossTypeThreshold = r.CrossTypeSimilarityThreshold
	}
	if r.CrossTypePolicy != "" {
		rc.CrossTypePolicy = resolve.CrossTypePolicy(r.CrossTypePolicy)
	}
	if d := r.lookupTimeout(); d > 0 {
		rc.LookupTimeout = d
	}
	if r.SearchLimit > 0 {
		rc.SearchLimit = r.SearchLimit
	}
	return rc
}

func (r ResolutionConfig) dedupConfig() resolve.DedupConfig {
	policy := resolve.RelationshipPolicy(r.RelationshipPolicy)
	if policy == "" {
		policy = resolve.FirstWriterWins
	}
	return resolve.DedupConfig{
		Enabled:       r.EnableRelationshipDeduplication,
		Policy:        policy,
		LookupTimeout: r.lookupTimeout(),
	}
}

func (r ResolutionConfig) retryConfig() retry.Config {
	attempts := r.MaxPersistRetries
	if attempts < 1 {
		attempts = 1
	}
	return retry.Persist(attempts, time.Duration(r.RetryBackoffBaseSeconds*float64(time.Second)))
}

func (l LogConfig) level() (slog.Level, error) {
	var lv slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	err := lv.UnmarshalText([]byte(l.Level))
	return lv, err
}
