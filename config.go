package graphtog

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configuration for the graphtog engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.graphtog/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "graphtog". The file will be <DBName>.db inside the
	// storage directory (~/.graphtog/ or working dir).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.graphtog/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat        LLMConfig `json:"chat" yaml:"chat"`
	Embedding   LLMConfig `json:"embedding" yaml:"embedding"`
	Vision      LLMConfig `json:"vision" yaml:"vision"`
	Translation LLMConfig `json:"translation" yaml:"translation"` // optional: fast model for query translation (defaults to Chat)

	// Retrieval weights for RRF
	WeightVector float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightFTS    float64 `json:"weight_fts" yaml:"weight_fts"`
	WeightGraph  float64 `json:"weight_graph" yaml:"weight_graph"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Graph building
	SkipGraph        bool `json:"skip_graph" yaml:"skip_graph"`                 // Skip knowledge graph extraction during ingest
	GraphConcurrency int  `json:"graph_concurrency" yaml:"graph_concurrency"`   // Max parallel LLM calls for graph extraction (default 16)

	// Reasoning
	MaxRounds           int     `json:"max_rounds" yaml:"max_rounds"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// Image captioning
	CaptionImages bool `json:"caption_images" yaml:"caption_images"` // Opt-in flag for captioning extracted images via the vision LLM; the ingest flow does not read it

	// External parsing
	LlamaParse *LlamaParseConfig `json:"llamaparse,omitempty" yaml:"llamaparse,omitempty"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// MinChunkSize is a minimum chunk token count (MIN_CHUNK_SIZE). It is
	// not passed to the chunker: chunks below this size are not folded
	// into a neighbor.
	MinChunkSize int `json:"min_chunk_size" yaml:"min_chunk_size"`

	// MaxGleanings bounds the extractor's re-prompt loop for missed
	// entities/relationships (0 disables gleaning entirely).
	MaxGleanings int `json:"max_gleanings" yaml:"max_gleanings"`

	// Entity resolution (fuzzy + LLM-assisted dedup)
	EnableEntityResolution       bool    `json:"enable_entity_resolution" yaml:"enable_entity_resolution"`
	EntitySimilarityThreshold    float64 `json:"entity_similarity_threshold" yaml:"entity_similarity_threshold"`
	EnableLLMEntityResolution    bool    `json:"enable_llm_entity_resolution" yaml:"enable_llm_entity_resolution"`
	AutoMergeConfidenceThreshold float64 `json:"auto_merge_confidence_threshold" yaml:"auto_merge_confidence_threshold"`

	// Global query map-reduce
	EnableMapReduce    bool `json:"enable_mapreduce" yaml:"enable_mapreduce"`
	MapReduceBatchSize int  `json:"mapreduce_batch_size" yaml:"mapreduce_batch_size"`
	MapReduceThreshold int  `json:"mapreduce_threshold" yaml:"mapreduce_threshold"`

	// Community detection
	CommunityLeidenSeed  int64   `json:"community_leiden_seed" yaml:"community_leiden_seed"`
	CommunityMaxLevels   int     `json:"community_max_levels" yaml:"community_max_levels"`
	CommunityTolerance   float64 `json:"community_tolerance" yaml:"community_tolerance"`

	// LLM client policy
	RateLimitRPM    int `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
	RetryMaxAttempts int `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseSeconds float64 `json:"retry_base_seconds" yaml:"retry_base_seconds"`

	// ToG reasoning engine defaults; individual queries may override via
	// tog.Config passed at call time.
	Tog TogConfig `json:"tog" yaml:"tog"`
}

// TogConfig holds the default Tree-of-Graphs reasoning parameters (orig §4.10).
type TogConfig struct {
	SearchWidth            int     `json:"search_width" yaml:"search_width"`
	SearchDepth            int     `json:"search_depth" yaml:"search_depth"`
	NumRetainEntity        int     `json:"num_retain_entity" yaml:"num_retain_entity"`
	PruningMethod          string  `json:"pruning_method" yaml:"pruning_method"` // llm, bm25, sentence_bert
	EnableSufficiencyCheck bool    `json:"enable_sufficiency_check" yaml:"enable_sufficiency_check"`
	ExplorationTemp        float64 `json:"exploration_temp" yaml:"exploration_temp"`
	ReasoningTemp          float64 `json:"reasoning_temp" yaml:"reasoning_temp"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// LlamaParseConfig configures the LlamaParse external parsing service.
type LlamaParseConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.graphtog/graphtog.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "graphtog",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Vision: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		WeightVector:        1.0,
		WeightFTS:           1.0,
		WeightGraph:         0.5,
		MaxChunkTokens:      1024,
		ChunkOverlap:        128,
		MaxRounds:           3,
		ConfidenceThreshold: 0.7,
		EmbeddingDim:        768,

		MinChunkSize: 100,
		MaxGleanings: 1,

		EnableEntityResolution:       true,
		EntitySimilarityThreshold:    0.85,
		EnableLLMEntityResolution:    true,
		AutoMergeConfidenceThreshold: 0.9,

		EnableMapReduce:    true,
		MapReduceBatchSize: 10,
		MapReduceThreshold: 20,

		CommunityLeidenSeed: 42,
		CommunityMaxLevels:  10,
		CommunityTolerance:  0.0001,

		RateLimitRPM:     60,
		RetryMaxAttempts: 3,
		RetryBaseSeconds: 1.0,

		Tog: TogConfig{
			SearchWidth:            3,
			SearchDepth:            3,
			NumRetainEntity:        5,
			PruningMethod:          "llm",
			EnableSufficiencyCheck: true,
			ExplorationTemp:        0.4,
			ReasoningTemp:          0.0,
		},
	}
}

// applyEnv overrides configuration fields from well-known environment
// variables, following the same "if v := os.Getenv(...); v != \"\"" idiom
// used by cmd/server/main.go for the LLM provider settings.
func (c *Config) applyEnv() {
	if v := os.Getenv("CHUNK_SIZE_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxChunkTokens = n
		}
	}
	if v := os.Getenv("CHUNK_OVERLAP_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChunkOverlap = n
		}
	}
	if v := os.Getenv("MIN_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MinChunkSize = n
		}
	}
	if v := os.Getenv("MAX_GLEANINGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxGleanings = n
		}
	}
	if v := os.Getenv("ENABLE_ENTITY_RESOLUTION"); v != "" {
		c.EnableEntityResolution = v == "true" || v == "1"
	}
	if v := os.Getenv("ENTITY_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.EntitySimilarityThreshold = f
		}
	}
	if v := os.Getenv("ENABLE_LLM_ENTITY_RESOLUTION"); v != "" {
		c.EnableLLMEntityResolution = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTO_MERGE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.AutoMergeConfidenceThreshold = f
		}
	}
	if v := os.Getenv("ENABLE_MAPREDUCE"); v != "" {
		c.EnableMapReduce = v == "true" || v == "1"
	}
	if v := os.Getenv("MAPREDUCE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MapReduceBatchSize = n
		}
	}
	if v := os.Getenv("MAPREDUCE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MapReduceThreshold = n
		}
	}
	if v := os.Getenv("COMMUNITY_LEIDEN_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CommunityLeidenSeed = n
		}
	}
	if v := os.Getenv("COMMUNITY_MAX_LEVELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CommunityMaxLevels = n
		}
	}
	if v := os.Getenv("COMMUNITY_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CommunityTolerance = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimitRPM = n
		}
	}
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("RETRY_BASE_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RetryBaseSeconds = f
		}
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "graphtog"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".graphtog")
		return filepath.Join(dir, name+".db")
	}
}
