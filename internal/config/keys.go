package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DSP_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "DSP_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "provider.backend", typ: kString, env: "DSP_PROVIDER_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Provider.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Backend },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DSP_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "DSP_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "DSP_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "openai.api_key", typ: kString, env: "DSP_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "DSP_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "DSP_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "openai.embed_model", typ: kString, env: "DSP_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DSP_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "predict.n", typ: kInt, env: "DSP_PREDICT_N",
		apply:   func(cfg *Config, v any) { cfg.Predict.N = v.(int) },
		extract: func(cfg Config) any { return cfg.Predict.N },
	},
	{
		key: "predict.temperature", typ: kFloat, env: "DSP_PREDICT_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Predict.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Predict.Temperature },
	},
	{
		key: "predict.max_tokens", typ: kInt, env: "DSP_PREDICT_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Predict.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Predict.MaxTokens },
	},
	{
		key: "predict.top_k", typ: kInt, env: "DSP_PREDICT_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Predict.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Predict.TopK },
	},
	{
		key: "compile.k", typ: kInt, env: "DSP_COMPILE_K",
		apply:   func(cfg *Config, v any) { cfg.Compile.K = v.(int) },
		extract: func(cfg Config) any { return cfg.Compile.K },
	},
	{
		key: "compile.max_attempts", typ: kInt, env: "DSP_COMPILE_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Compile.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Compile.MaxAttempts },
	},
	{
		key: "compile.min_demos", typ: kInt, env: "DSP_COMPILE_MIN_DEMOS",
		apply:   func(cfg *Config, v any) { cfg.Compile.MinDemos = v.(int) },
		extract: func(cfg Config) any { return cfg.Compile.MinDemos },
	},
	{
		key: "compile.parallelism", typ: kInt, env: "DSP_COMPILE_PARALLELISM",
		apply:   func(cfg *Config, v any) { cfg.Compile.Parallelism = v.(int) },
		extract: func(cfg Config) any { return cfg.Compile.Parallelism },
	},
	{
		key: "log.level", typ: kString, env: "DSP_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
