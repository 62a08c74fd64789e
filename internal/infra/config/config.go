package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Includes    []string          `yaml:"includes,omitempty"`
}

// StoreConfig describes the relational bookkeeping store.
type StoreConfig struct {
	DSN string `yaml:"dsn"` // e.g. "./data/dataengine.db" or ":memory:"
}

// EmbeddingConfig selects and tunes the embedding provider that renders
// entity text into vectors for the vector-index.
type EmbeddingConfig struct {
	Provider       string               `yaml:"provider"` // "local", "ollama", "openai", "gemini"
	Ollama         OllamaConfig         `yaml:"ollama"`
	OpenAI         OpenAIConfig         `yaml:"openai"`
	Gemini         GeminiConfig         `yaml:"gemini"`
	CacheSize      int                  `yaml:"cache_size"` // 0 disables the LRU embedding cache
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// OllamaConfig configures the local Ollama embedding backend.
type OllamaConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
}

// OpenAIConfig configures the OpenAI embedding backend.
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"` // may be "enc:..." to be decrypted at load
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
}

// GeminiConfig configures the Gemini embedding backend.
type GeminiConfig struct {
	APIKey     string `yaml:"api_key"` // may be "enc:..." to be decrypted at load
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
}

// CircuitBreakerConfig guards a remote embedding provider against cascading
// failures once the write pipeline's post-commit embed step starts erroring.
type CircuitBreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig throttles outbound embedding requests to a remote provider.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// MaintenanceConfig tunes the background integrity sweep.
type MaintenanceConfig struct {
	Enabled        bool   `yaml:"enabled"`
	SweepSchedule  string `yaml:"sweep_schedule"` // cron expression, e.g. "@every 1h"
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text", "json"
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// TracerConfig configures OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "noop" (also when empty) or "stdout"; tracer.Setup rejects other values
	Endpoint string `yaml:"endpoint"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".dataengine", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Store: StoreConfig{
			DSN: filepath.Join(dataDir, "dataengine.db"),
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			CacheSize: 0,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			RateLimit: RateLimitConfig{
				RatePerSecond: 10,
				Burst:         5,
			},
			Ollama: OllamaConfig{
				Model:      "nomic-embed-text",
				Dimensions: 384,
				BaseURL:    "http://localhost:11434",
			},
			OpenAI: OpenAIConfig{
				Model:      "text-embedding-3-small",
				Dimensions: 384,
			},
			Gemini: GeminiConfig{
				Model:      "text-embedding-004",
				Dimensions: 384,
			},
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			SweepSchedule: "@every 1h",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Process includes (merges included files into cfg).
	hasIncludes := len(cfg.Includes) > 0
	if hasIncludes {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("DATAENGINE_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps DATAENGINE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATAENGINE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("DATAENGINE_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("DATAENGINE_EMBEDDING_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.CacheSize = n
		}
	}

	if v := os.Getenv("DATAENGINE_OLLAMA_MODEL"); v != "" {
		cfg.Embedding.Ollama.Model = v
	}
	if v := os.Getenv("DATAENGINE_OLLAMA_BASE_URL"); v != "" {
		cfg.Embedding.Ollama.BaseURL = v
	}

	if v := os.Getenv("DATAENGINE_OPENAI_API_KEY"); v != "" {
		cfg.Embedding.OpenAI.APIKey = v
	}
	if v := os.Getenv("DATAENGINE_OPENAI_MODEL"); v != "" {
		cfg.Embedding.OpenAI.Model = v
	}
	if v := os.Getenv("DATAENGINE_OPENAI_BASE_URL"); v != "" {
		cfg.Embedding.OpenAI.BaseURL = v
	}

	if v := os.Getenv("DATAENGINE_GEMINI_API_KEY"); v != "" {
		cfg.Embedding.Gemini.APIKey = v
	}
	if v := os.Getenv("DATAENGINE_GEMINI_MODEL"); v != "" {
		cfg.Embedding.Gemini.Model = v
	}
	if v := os.Getenv("DATAENGINE_GEMINI_BASE_URL"); v != "" {
		cfg.Embedding.Gemini.BaseURL = v
	}

	if v := os.Getenv("DATAENGINE_MAINTENANCE_SWEEP_SCHEDULE"); v != "" {
		cfg.Maintenance.SweepSchedule = v
	}

	if v := os.Getenv("DATAENGINE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DATAENGINE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DATAENGINE_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}

	if v := os.Getenv("DATAENGINE_TRACER_ENDPOINT"); v != "" {
		cfg.Tracer.Endpoint = v
	}
}

// decryptSecrets finds "enc:..." values in provider API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Embedding.OpenAI.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Embedding.OpenAI.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("embedding.openai.api_key: %w", err)
		}
		cfg.Embedding.OpenAI.APIKey = decrypted
	}

	if strings.HasPrefix(cfg.Embedding.Gemini.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Embedding.Gemini.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("embedding.gemini.api_key: %w", err)
		}
		cfg.Embedding.Gemini.APIKey = decrypted
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077&^0o044 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
