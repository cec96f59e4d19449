// Package config resolves daemon settings from, in increasing precedence:
// built-in defaults, a YAML file, the environment (after loading a .env
// file) and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"jarvis/internal/ipc"
)

const geminiOpenAIBase = "https://generativelanguage.googleapis.com/v1beta/openai/"

const defaultSystemPrompt = "You are JARVIS, a concise and friendly desktop voice assistant. " +
	"Answer in plain sentences suitable for being read aloud."

type Config struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Provider     string `yaml:"provider"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	BaseURL      string `yaml:"base_url"`
	SystemPrompt string `yaml:"system_prompt"`

	ModelName         string        `yaml:"model_name"`
	Temperature       float32       `yaml:"temperature"`
	MaxOutputTokens   int32         `yaml:"max_output_tokens"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	SentimentModel   string `yaml:"sentiment_model"`
	SentimentBaseURL string `yaml:"sentiment_base_url"`

	MaxMemorySize int           `yaml:"max_memory_size"`
	SessionTTL    time.Duration `yaml:"session_ttl"`

	Proxy string `yaml:"proxy"`

	WhisperModel string `yaml:"whisper_model"`
	Language     string `yaml:"language"`
	Speak        bool   `yaml:"speak"`
	BeepSound    string `yaml:"beep_sound"`
	Socket       string `yaml:"socket"`

	MetricsInterval time.Duration `yaml:"metrics_interval"`
	LogLevel        string        `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Listen: "127.0.0.1:8000",
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://localhost:*",
			"http://127.0.0.1:*",
		},
		Provider:          "gemini",
		SystemPrompt:      defaultSystemPrompt,
		ModelName:         "gemini-2.0-flash",
		Temperature:       0.7,
		MaxOutputTokens:   1024,
		GenerationTimeout: 30 * time.Second,
		SentimentModel:    "gemini-2.0-flash",
		SentimentBaseURL:  geminiOpenAIBase,
		MaxMemorySize:     10,
		Language:          "auto",
		BeepSound:         "beep.mp3",
		Socket:            ipc.DefaultSocketPath,
		MetricsInterval:   5 * time.Second,
		LogLevel:          "info",
	}
}

// APIKey returns the credential for the configured provider.
func (c Config) APIKey() string {
	if c.Provider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

// SentimentAPIKey returns the credential for the sentiment endpoint, which
// is Gemini's OpenAI-compatible API unless overridden.
func (c Config) SentimentAPIKey() string {
	if c.SentimentBaseURL == geminiOpenAIBase {
		return c.GeminiAPIKey
	}
	if c.OpenAIAPIKey != "" {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

func (c Config) Validate() error {
	var errs []error
	switch c.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("provider %q: want gemini or openai", c.Provider))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature))
	}
	if c.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_output_tokens must be positive"))
	}
	if c.MaxMemorySize < 0 {
		errs = append(errs, fmt.Errorf("max_memory_size must not be negative"))
	}
	if c.ModelName == "" {
		errs = append(errs, fmt.Errorf("model_name is empty"))
	}
	if _, ok := LogLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("log level %q unknown", c.LogLevel))
	}
	return errors.Join(errs...)
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays variables present in the environment onto c.
func (c *Config) ApplyEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	parse := func(key string, set func(string) error) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str("JARVIS_LISTEN", &c.Listen)
	str("JARVIS_PROVIDER", &c.Provider)
	str("GEMINI_API_KEY", &c.GeminiAPIKey)
	str("OPENAI_API_KEY", &c.OpenAIAPIKey)
	str("JARVIS_BASE_URL", &c.BaseURL)
	str("JARVIS_SYSTEM_PROMPT", &c.SystemPrompt)
	str("JARVIS_MODEL", &c.ModelName)
	str("JARVIS_SENTIMENT_MODEL", &c.SentimentModel)
	str("JARVIS_SENTIMENT_BASE_URL", &c.SentimentBaseURL)
	str("JARVIS_PROXY", &c.Proxy)
	str("WHISPER_MODEL", &c.WhisperModel)
	str("JARVIS_LANGUAGE", &c.Language)
	str("JARVIS_BEEP_SOUND", &c.BeepSound)
	str("JARVIS_SOCKET", &c.Socket)
	str("JARVIS_LOG", &c.LogLevel)

	parse("JARVIS_ALLOWED_ORIGINS", func(v string) error {
		c.AllowedOrigins = splitList(v)
		return nil
	})
	parse("JARVIS_TEMPERATURE", func(v string) error {
		f, err := strconv.ParseFloat(v, 32)
		c.Temperature = float32(f)
		return err
	})
	parse("JARVIS_MAX_OUTPUT_TOKENS", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 32)
		c.MaxOutputTokens = int32(n)
		return err
	})
	parse("JARVIS_MAX_MEMORY_SIZE", func(v string) error {
		n, err := strconv.Atoi(v)
		c.MaxMemorySize = n
		return err
	})
	parse("JARVIS_GENERATION_TIMEOUT", durationInto(&c.GenerationTimeout))
	parse("JARVIS_SESSION_TTL", durationInto(&c.SessionTTL))
	parse("JARVIS_METRICS_INTERVAL", durationInto(&c.MetricsInterval))
	parse("JARVIS_SPEAK", func(v string) error {
		b, err := strconv.ParseBool(v)
		c.Speak = b
		return err
	})

	return errors.Join(errs...)
}

func durationInto(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			*dst = d
		}
		return err
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load parses args (without the program name) and resolves the final
// configuration.
func Load(args []string) (Config, error) {
	def := Default()

	fs := cli.NewFlagSet("jarvis-daemon", cli.ContinueOnError)
	envFile := fs.StringP("env", "e", ".env", "Env file path")
	cfgFile := fs.StringP("config", "c", "", "YAML config file")
	listen := fs.String("listen", def.Listen, "HTTP listen address")
	provider := fs.String("provider", def.Provider, "Generation provider (gemini|openai)")
	model := fs.StringP("model", "m", def.ModelName, "Generation model name")
	proxyAddr := fs.StringP("proxy", "p", def.Proxy, "Socks Proxy Address")
	whisper := fs.StringP("whisper-model", "w", def.WhisperModel, "Path to ggml whisper model")
	speak := fs.Bool("speak", def.Speak, "Speak replies through espeak")
	logLevel := fs.StringP("log", "l", def.LogLevel, "Log level")
	memSize := fs.Int("max-memory", def.MaxMemorySize, "Interactions kept per session")
	socket := fs.StringP("socket", "s", def.Socket, "Control socket path")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	if *cfgFile != "" {
		if err := cfg.LoadFile(*cfgFile); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("env file %s: %w", *envFile, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}

	if fs.Changed("listen") {
		cfg.Listen = *listen
	}
	if fs.Changed("provider") {
		cfg.Provider = *provider
	}
	if fs.Changed("model") {
		cfg.ModelName = *model
	}
	if fs.Changed("proxy") {
		cfg.Proxy = *proxyAddr
	}
	if fs.Changed("whisper-model") {
		cfg.WhisperModel = *whisper
	}
	if fs.Changed("speak") {
		cfg.Speak = *speak
	}
	if fs.Changed("log") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("max-memory") {
		cfg.MaxMemorySize = *memSize
	}
	if fs.Changed("socket") {
		cfg.Socket = *socket
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
