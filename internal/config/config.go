// Package config builds the process configuration once at start-up from the
// environment. Several settings have been published under more than one
// variable name over time; each setting lists its names in precedence order
// and the first non-empty value wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StoreMode selects the vector store implementation.
type StoreMode string

const (
	StoreCloud  StoreMode = "cloud"  // Chroma Cloud, token required
	StoreHTTP   StoreMode = "http"   // self-hosted Chroma server
	StoreLocal  StoreMode = "local"  // SQLite file
	StoreMilvus StoreMode = "milvus" // Milvus
	StoreMemory StoreMode = "memory" // in-process, lost on exit
)

// DefaultHFModel is the embedding model used with the hf backend when none
// is configured. It produces 384-dimensional vectors.
const DefaultHFModel = "sentence-transformers/all-MiniLM-L6-v2"

// EmbedBackend selects the embedding provider.
type EmbedBackend string

const (
	EmbedHF     EmbedBackend = "hf"
	EmbedOpenAI EmbedBackend = "openai"
	EmbedOllama EmbedBackend = "ollama"
)

// WhatsApp holds the Cloud API settings.
type WhatsApp struct {
	VerifyToken   string
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	GraphURL      string
}

// LLM holds the chat-completion endpoint settings.
type LLM struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Embedding holds the embedding provider settings.
type Embedding struct {
	Backend   EmbedBackend
	Model     string
	Token     string
	BaseURL   string
	Dimension int
}

// VectorStore holds the settings for every store mode; only the fields of
// the selected mode are used.
type VectorStore struct {
	Mode          StoreMode
	Collection    string
	ChromaHost    string
	ChromaToken   string
	Tenant        string
	Database      string
	MilvusAddress string
	MilvusToken   string
	LocalPath     string
}

// Retrieval tunes the answer pipeline.
type Retrieval struct {
	TopK            int
	ContextChunks   int
	MaxChunkChars   int
	MaxContextChars int
}

// Config represents the application configuration.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	WhatsApp    WhatsApp
	LLM         LLM
	Embedding   Embedding
	VectorStore VectorStore
	Retrieval   Retrieval

	PersonaFile      string
	TelegramToken    string
	RedisURL         string
	AllowedSenderIDs string
	AdminSenderIDs   string
}

// LoadDotEnv loads a .env file from the working directory if there is one.
// It reports whether a file was loaded.
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

// FromEnv resolves the configuration from the process environment. It does
// not validate; call the Validate method matching the binary's role.
func FromEnv() (*Config, error) {
	var err error
	cfg := &Config{
		HTTPAddr:        httpAddr(),
		ShutdownTimeout: 15 * time.Second,
		WhatsApp: WhatsApp{
			VerifyToken:   strings.TrimSpace(first("WA_VERIFY_TOKEN", "WHATSAPP_VERIFY_TOKEN")),
			AccessToken:   first("WA_ACCESS_TOKEN", "WHATSAPP_TOKEN"),
			PhoneNumberID: first("WA_PHONE_NUMBER_ID", "WHATSAPP_PHONE_NUMBER_ID"),
			APIVersion:    withDefault(first("WA_API_VERSION"), "v21.0"),
			GraphURL:      withDefault(first("WA_GRAPH_URL"), "https://graph.facebook.com"),
		},
		LLM: LLM{
			BaseURL: withDefault(first("LLM_BASE_URL"), "https://api.groq.com/openai/v1"),
			APIKey:  first("GROQ_API_KEY", "LLM_API_KEY"),
			Model:   withDefault(first("GROQ_MODEL", "LLM_MODEL"), "gemma2-9b-it"),
		},
		Embedding: Embedding{
			Backend: EmbedBackend(strings.ToLower(withDefault(first("EMBED_BACKEND"), string(EmbedHF)))),
			Model:   first("HF_EMBED_MODEL", "EMBED_MODEL"),
			BaseURL: first("EMBED_BASE_URL"),
		},
		VectorStore: VectorStore{
			Mode:          StoreMode(strings.ToLower(withDefault(first("VECTOR_STORE"), string(StoreCloud)))),
			Collection:    withDefault(first("CHROMA_COLLECTION", "COLLECTION_NAME"), "ccp_docs"),
			ChromaHost:    withDefault(first("CHROMA_SERVER_HOST", "CHROMA_HOST"), "https://api.trychroma.com"),
			ChromaToken:   first("CHROMA_SERVER_AUTH", "CHROMA_API_KEY", "CHROMA_TOKEN"),
			Tenant:        withDefault(strings.TrimSpace(first("CHROMA_TENANT")), "default_tenant"),
			Database:      withDefault(strings.TrimSpace(first("CHROMA_DATABASE")), "default_database"),
			MilvusAddress: milvusAddress(),
			MilvusToken:   first("MILVUS_TOKEN"),
			LocalPath:     withDefault(first("LOCAL_STORE_PATH"), "data/ccp_docs.db"),
		},
		PersonaFile:      first("PERSONA_FILE"),
		TelegramToken:    first("TG_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"),
		RedisURL:         first("REDIS_URL"),
		AllowedSenderIDs: first("ALLOWED_SENDER_IDS"),
		AdminSenderIDs:   first("ADMIN_SENDER_IDS"),
	}

	cfg.resolveEmbedding()

	if cfg.Embedding.Dimension, err = intEnv("EMBEDDING_DIM", 384); err != nil {
		return nil, err
	}
	if cfg.Retrieval.TopK, err = intEnv("RAG_TOP_K", 5); err != nil {
		return nil, err
	}
	if cfg.Retrieval.ContextChunks, err = intEnv("RAG_CONTEXT_CHUNKS", 4); err != nil {
		return nil, err
	}
	if cfg.Retrieval.MaxChunkChars, err = intEnv("RAG_MAX_CHUNK_CHARS", 1200); err != nil {
		return nil, err
	}
	if cfg.Retrieval.MaxContextChars, err = intEnv("RAG_MAX_CONTEXT_CHARS", 4000); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetEmbedding switches the embedding backend and model, as the ingest flags
// do, and picks the credential that backend reads. Empty values keep the
// current setting.
func (c *Config) SetEmbedding(backend, model string) {
	if backend != "" {
		c.Embedding.Backend = EmbedBackend(strings.ToLower(backend))
		c.Embedding.Model = ""
	}
	if model != "" {
		c.Embedding.Model = model
	}
	c.resolveEmbedding()
}

func (c *Config) resolveEmbedding() {
	switch c.Embedding.Backend {
	case EmbedOpenAI:
		c.Embedding.Token = first("OPENAI_API_KEY")
	case EmbedOllama:
		c.Embedding.Token = "" // no credential
	default:
		c.Embedding.Token = first("HF_API_TOKEN", "HUGGINGFACEHUB_API_TOKEN", "HF_TOKEN")
		c.Embedding.Model = withDefault(c.Embedding.Model, DefaultHFModel)
	}
}

// ValidateServer checks everything the webhook server needs.
func (c *Config) ValidateServer() error {
	switch {
	case c.WhatsApp.VerifyToken == "":
		return missing("WA_VERIFY_TOKEN")
	case c.WhatsApp.AccessToken == "":
		return missing("WA_ACCESS_TOKEN")
	case c.WhatsApp.PhoneNumberID == "":
		return missing("WA_PHONE_NUMBER_ID")
	}
	return c.ValidateAsk()
}

// ValidateAsk checks what answering a question needs: LLM, embeddings and store.
func (c *Config) ValidateAsk() error {
	if c.LLM.APIKey == "" {
		return missing("GROQ_API_KEY")
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	return c.ValidateIngest()
}

// ValidateIngest checks what the ingestion run needs: embeddings and store.
func (c *Config) ValidateIngest() error {
	if err := c.validateEmbedding(); err != nil {
		return err
	}
	return c.validateStore()
}

func (c *Config) validateEmbedding() error {
	switch c.Embedding.Backend {
	case EmbedHF:
		if c.Embedding.Token == "" {
			return missing("HF_API_TOKEN")
		}
	case EmbedOpenAI:
		if c.Embedding.Token == "" {
			return missing("OPENAI_API_KEY")
		}
	case EmbedOllama:
	default:
		return &Error{Code: ErrInvalid, Key: "EMBED_BACKEND", Value: string(c.Embedding.Backend)}
	}
	if c.Embedding.Dimension <= 0 {
		return &Error{Code: ErrInvalid, Key: "EMBEDDING_DIM", Value: strconv.Itoa(c.Embedding.Dimension)}
	}
	return nil
}

func (c *Config) validateStore() error {
	vs := c.VectorStore
	if strings.TrimSpace(vs.Collection) == "" {
		return missing("CHROMA_COLLECTION")
	}
	switch vs.Mode {
	case StoreCloud:
		if vs.ChromaToken == "" {
			return missing("CHROMA_SERVER_AUTH")
		}
	case StoreHTTP:
		if vs.ChromaHost == "" {
			return missing("CHROMA_SERVER_HOST")
		}
	case StoreMilvus:
		if vs.MilvusAddress == "" {
			return missing("MILVUS_ADDRESS")
		}
	case StoreLocal:
		if vs.LocalPath == "" {
			return missing("LOCAL_STORE_PATH")
		}
	case StoreMemory:
	default:
		return &Error{Code: ErrInvalid, Key: "VECTOR_STORE", Value: string(vs.Mode)}
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	r := c.Retrieval
	if r.TopK <= 0 {
		return &Error{Code: ErrInvalid, Key: "RAG_TOP_K", Value: strconv.Itoa(r.TopK)}
	}
	if r.ContextChunks <= 0 || r.ContextChunks > r.TopK {
		return &Error{Code: ErrInvalid, Key: "RAG_CONTEXT_CHUNKS", Value: strconv.Itoa(r.ContextChunks)}
	}
	if r.MaxChunkChars <= 0 {
		return &Error{Code: ErrInvalid, Key: "RAG_MAX_CHUNK_CHARS", Value: strconv.Itoa(r.MaxChunkChars)}
	}
	if r.MaxContextChars <= 0 {
		return &Error{Code: ErrInvalid, Key: "RAG_MAX_CONTEXT_CHARS", Value: strconv.Itoa(r.MaxContextChars)}
	}
	return nil
}

// first returns the first non-empty value among keys.
func first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// withDefault returns value, or defaultValue when value is empty.
func withDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func intEnv(key string, def int) (int, error) {
	raw := first(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{Code: ErrInvalid, Key: key, Value: raw, Cause: err}
	}
	return n, nil
}

func httpAddr() string {
	if v := first("HTTP_ADDR"); v != "" {
		return v
	}
	if p := first("PORT"); p != "" {
		return ":" + p
	}
	return ":8000"
}

func milvusAddress() string {
	if v := first("MILVUS_ADDRESS"); v != "" {
		return v
	}
	host := first("MILVUS_HOST")
	if host == "" {
		return "localhost:19530"
	}
	return fmt.Sprintf("%s:%s", host, withDefault(first("MILVUS_PORT"), "19530"))
}
