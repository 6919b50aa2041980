// Package config handles Anchor configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./anchor.yaml, ~/.config/anchor/config.yaml, /etc/anchor/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"anchor.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "anchor", "config.yaml"))
	}

	paths = append(paths, "/etc/anchor/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Anchor configuration. It is constructed once at
// process start and passed by reference into component constructors;
// no component reads ambient global state.
type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Loop      LoopConfig      `yaml:"loop"`
	Safety    SafetyConfig    `yaml:"safety"`
	Texts     TextsConfig     `yaml:"texts"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	History   HistoryConfig   `yaml:"history"`
	Web       WebConfig       `yaml:"web"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	DataDir   string          `yaml:"data_dir"`
	MemoryDir string          `yaml:"memory_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ModelsConfig defines which models play the therapist and supervisor
// roles and how to reach them.
type ModelsConfig struct {
	// Provider selects the LLM backend: "openai" (any OpenAI-compatible
	// endpoint, including OpenRouter) or "ollama".
	Provider string `yaml:"provider"`
	// BaseURL is the API endpoint. For provider "openai" it defaults to
	// OpenRouter; for "ollama" to http://localhost:11434.
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates provider "openai" requests. Supports
	// ${ENV_VAR} expansion from the config loader.
	APIKey string `yaml:"api_key"`
	// Therapist is the generative model producing candidate replies.
	Therapist string `yaml:"therapist"`
	// Supervisor is the validating model used for state analysis and
	// reply critique.
	Supervisor string `yaml:"supervisor"`
}

// LoopConfig bounds the grounding loop.
type LoopConfig struct {
	// MaxAttempts is the draft/critique retry budget per turn. Counted
	// from attempt 0; the loop never calls the drafter more than this
	// many times.
	MaxAttempts int `yaml:"max_attempts"`
	// AnalyzeTimeoutSec bounds a single state-analysis model call.
	AnalyzeTimeoutSec int `yaml:"analyze_timeout_sec"`
	// DraftTimeoutSec bounds a single therapist draft call.
	DraftTimeoutSec int `yaml:"draft_timeout_sec"`
	// CritiqueTimeoutSec bounds a single supervisor critique call.
	CritiqueTimeoutSec int `yaml:"critique_timeout_sec"`
}

// AnalyzeTimeout returns the analysis call timeout as a duration.
func (c LoopConfig) AnalyzeTimeout() time.Duration {
	return time.Duration(c.AnalyzeTimeoutSec) * time.Second
}

// DraftTimeout returns the draft call timeout as a duration.
func (c LoopConfig) DraftTimeout() time.Duration {
	return time.Duration(c.DraftTimeoutSec) * time.Second
}

// CritiqueTimeout returns the critique call timeout as a duration.
func (c LoopConfig) CritiqueTimeout() time.Duration {
	return time.Duration(c.CritiqueTimeoutSec) * time.Second
}

// SafetyConfig holds the static crisis-response payload. The text is
// configuration, never model-generated, and is substituted verbatim on
// every crisis short-circuit.
type SafetyConfig struct {
	// Version identifies the payload revision for telemetry.
	Version string `yaml:"version"`
	// CrisisText is the fixed reply sent when acute risk is detected.
	CrisisText string `yaml:"crisis_text"`
}

// TextsConfig holds the remaining fixed user-facing strings.
type TextsConfig struct {
	// Greeting is sent in response to /start.
	Greeting string `yaml:"greeting"`
	// Apology is sent when a turn fails fatally and no reply could be
	// produced. The user must never see silence.
	Apology string `yaml:"apology"`
	// Forgotten confirms a /forget memory-erasure request.
	Forgotten string `yaml:"forgotten"`
	// Thinking is the placeholder message posted while a turn is in
	// flight. It is edited in place with stage updates and finally
	// replaced with the reply.
	Thinking string `yaml:"thinking"`
}

// TelegramConfig defines the Telegram transport.
type TelegramConfig struct {
	Enabled bool `yaml:"enabled"`
	// Token is the Bot API token. Supports ${ENV_VAR} expansion.
	Token string `yaml:"token"`
	// PollTimeoutSec is the getUpdates long-poll timeout.
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
	// RateLimit caps messages per sender per minute; 0 = unlimited.
	RateLimit int `yaml:"rate_limit"`
}

// HistoryConfig bounds the rolling conversation window.
type HistoryConfig struct {
	// Window is the number of recent turns kept per user.
	Window int `yaml:"window"`
}

// WebConfig defines the optional ops dashboard server.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// TelemetryConfig defines the optional MQTT turn-telemetry publisher.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Broker is the MQTT broker URL (mqtt:// or mqtts://).
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// DeviceName namespaces the published topics.
	DeviceName string `yaml:"device_name"`
	// PublishIntervalSec is the periodic state publish interval.
	PublishIntervalSec int `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration. The user-facing defaults are
// Russian, matching the protocol material the supervisor rubric is
// written against; deployments override them per locale.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Provider:   "openai",
			BaseURL:    "https://openrouter.ai/api/v1",
			Therapist:  "google/gemini-2.5-flash",
			Supervisor: "deepseek/deepseek-v3.2-speciale",
		},
		Loop: LoopConfig{
			MaxAttempts:        3,
			AnalyzeTimeoutSec:  30,
			DraftTimeoutSec:    60,
			CritiqueTimeoutSec: 45,
		},
		Safety: SafetyConfig{
			Version:    "2025-08",
			CrisisText: "Я ИИ-ассистент и не могу помочь в кризисной ситуации. Пожалуйста, позвоните в скорую (103) или на телефон доверия 8-800-2000-122.",
		},
		Texts: TextsConfig{
			Greeting:  "Привет. Я твой КПТ-тренер. Расскажи, что тебя беспокоит?",
			Apology:   "Произошла внутренняя ошибка. Мы уже работаем над этим. Попробуйте нажать /start.",
			Forgotten: "Хорошо, я удалил всё, что помнил о наших разговорах.",
			Thinking:  "Думаю...",
		},
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
			RateLimit:      20,
		},
		History: HistoryConfig{
			Window: 10,
		},
		Web: WebConfig{
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			DeviceName:         "anchor",
			PublishIntervalSec: 60,
		},
		DataDir:   "data",
		MemoryDir: "agent_memory",
	}
}
