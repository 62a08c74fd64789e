package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateStore(cfg, ve)
	validateEmbedding(cfg, ve)
	validateMaintenance(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.DSN == "" {
		ve.Add("store.dsn must not be empty")
	}
}

var validEmbeddingProviders = map[string]bool{
	"local":  true,
	"ollama": true,
	"openai": true,
	"gemini": true,
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	e := cfg.Embedding
	if !validEmbeddingProviders[e.Provider] {
		ve.Add("embedding.provider %q is invalid (want: local, ollama, openai, gemini)", e.Provider)
	}

	switch e.Provider {
	case "ollama":
		if e.Ollama.Model == "" {
			ve.Add("embedding.ollama.model must not be empty when provider is ollama")
		}
		if e.Ollama.BaseURL == "" {
			ve.Add("embedding.ollama.base_url must not be empty when provider is ollama")
		}
	case "openai":
		if e.OpenAI.APIKey == "" {
			ve.Add("embedding.openai.api_key is empty (set via DATAENGINE_OPENAI_API_KEY)")
		}
		if e.OpenAI.Model == "" {
			ve.Add("embedding.openai.model must not be empty when provider is openai")
		}
	case "gemini":
		if e.Gemini.APIKey == "" {
			ve.Add("embedding.gemini.api_key is empty (set via DATAENGINE_GEMINI_API_KEY)")
		}
		if e.Gemini.Model == "" {
			ve.Add("embedding.gemini.model must not be empty when provider is gemini")
		}
	}

	if e.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}

	if e.Provider != "local" {
		if e.CircuitBreaker.MaxFailures == 0 {
			ve.Add("embedding.circuit_breaker.max_failures must be > 0 for a remote provider")
		}
		if e.CircuitBreaker.Timeout <= 0 {
			ve.Add("embedding.circuit_breaker.timeout must be > 0 for a remote provider")
		}
		if e.CircuitBreaker.Interval <= 0 {
			ve.Add("embedding.circuit_breaker.interval must be > 0 for a remote provider")
		}
		if e.RateLimit.RatePerSecond <= 0 {
			ve.Add("embedding.rate_limit.rate_per_second must be > 0 for a remote provider")
		}
		if e.RateLimit.Burst <= 0 {
			ve.Add("embedding.rate_limit.burst must be > 0 for a remote provider")
		}
	}
}

func validateMaintenance(cfg *Config, ve *ValidationError) {
	if !cfg.Maintenance.Enabled {
		return
	}
	if cfg.Maintenance.SweepSchedule == "" {
		ve.Add("maintenance.sweep_schedule must not be empty when maintenance is enabled")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"text": true, "json": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[cfg.Logger.Level] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	if cfg.Logger.Output == "" {
		ve.Add("logger.output must not be empty")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	if cfg.Tracer.Exporter == "otlp" && cfg.Tracer.Endpoint == "" {
		ve.Add("tracer.endpoint is required when exporter is otlp")
	}
}
