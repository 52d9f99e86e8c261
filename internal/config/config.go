package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Ollama   OllamaConfig
	OpenAI   OpenAIConfig
	Storage  StorageConfig
	Predict  PredictConfig
	Compile  CompileConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

// ProviderConfig selects which adapter supplies the language model and
// vectorizer: "ollama" or "openai".
type ProviderConfig struct {
	Backend string
}

type OllamaConfig struct {
	BaseURL    string
	Model      string
	EmbedModel string
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type PredictConfig struct {
	N           int
	Temperature float64
	MaxTokens   int
	TopK        int
}

type CompileConfig struct {
	K           int
	MaxAttempts int
	MinDemos    int
	Parallelism int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    4200,
			MCPPort: 4201,
		},
		Provider: ProviderConfig{
			Backend: "ollama",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		OpenAI: OpenAIConfig{
			Model:      "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Predict: PredictConfig{
			N:           1,
			Temperature: 0.0,
			TopK:        3,
		},
		Compile: CompileConfig{
			K:           4,
			MaxAttempts: 0, // 0 means the whole training set
			MinDemos:    1,
			Parallelism: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.kalambet.dsp) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/dsp/config.json
// and secrets come from $XDG_DATA_HOME/dsp/secrets.json.
//
// Environment variables (DSP_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the API key if still empty.
	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get("dsp", "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}

	if cfg.Provider.Backend != "ollama" && cfg.Provider.Backend != "openai" {
		return Config{}, fmt.Errorf("unknown provider backend %q (want \"ollama\" or \"openai\")", cfg.Provider.Backend)
	}

	if cfg.Provider.Backend == "openai" && cfg.OpenAI.APIKey == "" {
		msg := "missing required config: OpenAI API key. " +
			"Set it via environment variable DSP_OPENAI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
