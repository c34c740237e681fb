package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMNames lists the provider names the built-in registry knows.
// Used by [Validate] to warn about likely typos.
var ValidLLMNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path, expands ${ENV_VAR}
// references, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
//
// ${ENV_VAR} references anywhere in the document are replaced with the
// environment variable's value before decoding, so secrets like API keys can
// stay out of the file. Unset variables expand to the empty string.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = []byte(os.Expand(string(raw), func(name string) string {
		return os.Getenv(name)
	}))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-value fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Embeddings.Backend == "" {
		cfg.Embeddings.Backend = EmbeddingsSynthetic
	}
	if cfg.Embeddings.Dimensions == 0 {
		cfg.Embeddings.Dimensions = 1536
	}
	if cfg.Embeddings.SynthesisAttempts == 0 {
		cfg.Embeddings.SynthesisAttempts = 3
	}
	if cfg.Vector.Index == "" {
		cfg.Vector.Index = "memories"
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if cfg.Memory.TopK == 0 {
		cfg.Memory.TopK = 5
	}
	if cfg.Memory.ExcerptChars == 0 {
		cfg.Memory.ExcerptChars = 280
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// LLM provider
	if cfg.LLM.Name != "" && !slices.Contains(ValidLLMNames, cfg.LLM.Name) {
		slog.Warn("unknown llm provider name, may be a typo or third-party provider",
			"name", cfg.LLM.Name, "known", ValidLLMNames)
	}
	usableKeys := 0
	for _, k := range cfg.LLM.APIKeys {
		if k != "" {
			usableKeys++
		}
	}
	if cfg.LLM.Name != "" && cfg.LLM.Name != "ollama" && usableKeys == 0 {
		errs = append(errs, fmt.Errorf("llm.api_keys must contain at least one non-empty key for provider %q", cfg.LLM.Name))
	}

	// Embeddings
	if !cfg.Embeddings.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("embeddings.backend %q is invalid; valid values: openai, synthetic, auto", cfg.Embeddings.Backend))
	}
	if cfg.Embeddings.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimensions %d must be positive", cfg.Embeddings.Dimensions))
	}
	switch cfg.Embeddings.Backend {
	case EmbeddingsOpenAI, EmbeddingsAuto:
		if cfg.Embeddings.APIKey == "" {
			errs = append(errs, fmt.Errorf("embeddings.api_key is required for backend %q", cfg.Embeddings.Backend))
		}
	case EmbeddingsSynthetic:
		if cfg.LLM.Name == "" {
			errs = append(errs, errors.New("embeddings.backend \"synthetic\" requires an llm provider"))
		}
	}
	if cfg.Embeddings.Backend == EmbeddingsAuto && cfg.LLM.Name == "" {
		slog.Warn("embeddings.backend is \"auto\" but no llm provider is configured; the synthetic fallback will be unavailable")
	}

	// Vector backend
	if cfg.Vector.Backend == "" {
		errs = append(errs, errors.New("vector.backend is required; valid values: pinecone, postgres"))
	} else if !cfg.Vector.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("vector.backend %q is invalid; valid values: pinecone, postgres", cfg.Vector.Backend))
	}
	switch cfg.Vector.Backend {
	case VectorPinecone:
		if cfg.Vector.Pinecone.APIKey == "" {
			errs = append(errs, errors.New("vector.pinecone.api_key is required for the pinecone backend"))
		}
	case VectorPostgres:
		if cfg.Vector.Postgres.DSN == "" {
			errs = append(errs, errors.New("vector.postgres.dsn is required for the postgres backend"))
		}
	}

	// Memory tuning
	if cfg.Memory.TopK < 0 {
		errs = append(errs, fmt.Errorf("memory.top_k %d must not be negative", cfg.Memory.TopK))
	}
	if cfg.Memory.CredentialCooldown < 0 {
		errs = append(errs, fmt.Errorf("memory.credential_cooldown %v must not be negative", cfg.Memory.CredentialCooldown))
	}

	return errors.Join(errs...)
}
