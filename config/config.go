package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
)

// Config holds all configuration for the quiz runner
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Quiz      QuizConfig      `mapstructure:"quiz"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// QuizConfig carries the participant credentials and per-run budgets.
type QuizConfig struct {
	Email           string        `mapstructure:"email"`
	Secret          string        `mapstructure:"secret"`
	StartURL        string        `mapstructure:"start_url"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
	MaxTaskAttempts int           `mapstructure:"max_task_attempts"`
	MaxTasks        int           `mapstructure:"max_tasks"`
}

func (q QuizConfig) Validate() error {
	if q.TaskTimeout <= 0 {
		return failure.ConfigError{Field: "quiz.task_timeout", Reason: "must be > 0"}
	}
	if q.MaxTaskAttempts < 1 {
		return failure.ConfigError{Field: "quiz.max_task_attempts", Reason: "must be >= 1"}
	}
	if q.MaxTasks < 1 {
		return failure.ConfigError{Field: "quiz.max_tasks", Reason: "must be >= 1"}
	}
	return nil
}

// LLMConfig names the primary and optional fallback provider.
type LLMConfig struct {
	Primary   string                 `mapstructure:"primary"`
	Fallback  string                 `mapstructure:"fallback"`
	Providers map[string]LLMProvider `mapstructure:"providers"`
}

// LLMProvider represents a single inference backend
type LLMProvider struct {
	Type        string        `mapstructure:"type"` // openai, gemini, openai_compatible
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Normalize drops a fallback that has no credential; the run proceeds on the
// primary alone.
func (c LLMConfig) Normalize() LLMConfig {
	c.Primary = strings.ToLower(strings.TrimSpace(c.Primary))
	c.Fallback = strings.ToLower(strings.TrimSpace(c.Fallback))
	if c.Fallback == c.Primary {
		c.Fallback = ""
	}
	if p, ok := c.Providers[c.Fallback]; c.Fallback != "" && (!ok || strings.TrimSpace(p.APIKey) == "") {
		c.Fallback = ""
	}
	return c
}

// Validate fails fast when the primary provider has no credential.
func (c LLMConfig) Validate() error {
	if c.Primary == "" {
		return failure.ConfigError{Field: "llm.primary", Reason: "no inference provider selected"}
	}
	p, ok := c.Providers[c.Primary]
	if !ok {
		return failure.ConfigError{Field: "llm.primary", Reason: fmt.Sprintf("provider %q is not configured", c.Primary)}
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return failure.ConfigError{
			Field:  fmt.Sprintf("llm.providers.%s.api_key", c.Primary),
			Reason: "inference credential missing (set " + credentialEnv(c.Primary) + ")",
		}
	}
	switch p.Type {
	case "openai", "gemini":
	case "openai_compatible":
		if strings.TrimSpace(p.BaseURL) == "" {
			return failure.ConfigError{Field: fmt.Sprintf("llm.providers.%s.base_url", c.Primary), Reason: "required for openai_compatible"}
		}
	default:
		return failure.ConfigError{Field: fmt.Sprintf("llm.providers.%s.type", c.Primary), Reason: fmt.Sprintf("unsupported type %q", p.Type)}
	}
	return nil
}

// LimitsConfig bounds calls to the inference service.
type LimitsConfig struct {
	CallsPerWindow int           `mapstructure:"calls_per_window"`
	Window         time.Duration `mapstructure:"window"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

func (l LimitsConfig) Validate() error {
	if l.CallsPerWindow < 1 {
		return failure.ConfigError{Field: "limits.calls_per_window", Reason: "must be >= 1"}
	}
	if l.Window <= 0 {
		return failure.ConfigError{Field: "limits.window", Reason: "must be > 0"}
	}
	if l.MaxRetries < 1 {
		return failure.ConfigError{Field: "limits.max_retries", Reason: "must be >= 1"}
	}
	if l.InitialBackoff <= 0 || l.MaxBackoff < l.InitialBackoff {
		return failure.ConfigError{Field: "limits.max_backoff", Reason: "backoff bounds must satisfy 0 < initial <= max"}
	}
	return nil
}

// FetchConfig controls task and media retrieval.
type FetchConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RenderJS          string        `mapstructure:"render_js"` // auto, always, never
	UserAgent         string        `mapstructure:"user_agent"`
	MaxBytes          int64         `mapstructure:"max_bytes"`
	MaxChars          int           `mapstructure:"max_chars"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

func (f FetchConfig) Normalize() FetchConfig {
	f.RenderJS = strings.ToLower(strings.TrimSpace(f.RenderJS))
	if f.RenderJS == "" {
		f.RenderJS = "auto"
	}
	return f
}

func (f FetchConfig) Validate() error {
	switch f.RenderJS {
	case "auto", "always", "never":
	default:
		return failure.ConfigError{Field: "fetch.render_js", Reason: fmt.Sprintf("must be auto, always or never, got %q", f.RenderJS)}
	}
	if f.Timeout <= 0 {
		return failure.ConfigError{Field: "fetch.timeout", Reason: "must be > 0"}
	}
	if f.RequestsPerSecond < 0 {
		return failure.ConfigError{Field: "fetch.requests_per_second", Reason: "cannot be negative"}
	}
	return nil
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return failure.ConfigError{Field: "telemetry.metrics_port", Reason: "must be > 0 when telemetry is enabled"}
	}
	return nil
}

type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection and stream settings. URL, when set,
// takes precedence over host/port.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Timeout      time.Duration `mapstructure:"timeout"`
	JobsStream   string        `mapstructure:"jobs_stream"`
	EventsStream string        `mapstructure:"events_stream"`
	Group        string        `mapstructure:"group"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.URL) == "" && strings.TrimSpace(r.Port) == "" {
		return failure.ConfigError{Field: "storage.redis.port", Reason: "required when host is set"}
	}
	if strings.TrimSpace(r.JobsStream) == "" || strings.TrimSpace(r.Group) == "" {
		return failure.ConfigError{Field: "storage.redis.jobs_stream", Reason: "jobs_stream and group are required"}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")

	v.SetDefault("quiz.task_timeout", 165*time.Second)
	v.SetDefault("quiz.max_task_attempts", 2)
	v.SetDefault("quiz.max_tasks", 50)

	v.SetDefault("llm.primary", "gemini")
	v.SetDefault("llm.fallback", "aipipe")
	v.SetDefault("llm.providers.gemini.type", "gemini")
	v.SetDefault("llm.providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("llm.providers.gemini.api_key", "")
	v.SetDefault("llm.providers.gemini.timeout", 60*time.Second)
	v.SetDefault("llm.providers.openai.type", "openai")
	v.SetDefault("llm.providers.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.providers.openai.api_key", "")
	v.SetDefault("llm.providers.openai.timeout", 60*time.Second)
	v.SetDefault("llm.providers.aipipe.type", "openai_compatible")
	v.SetDefault("llm.providers.aipipe.base_url", "https://aipipe.org/openai/v1")
	v.SetDefault("llm.providers.aipipe.model", "gpt-4o-mini")
	v.SetDefault("llm.providers.aipipe.api_key", "")
	v.SetDefault("llm.providers.aipipe.timeout", 60*time.Second)

	v.SetDefault("limits.calls_per_window", 15)
	v.SetDefault("limits.window", time.Minute)
	v.SetDefault("limits.max_retries", 3)
	v.SetDefault("limits.initial_backoff", time.Second)
	v.SetDefault("limits.max_backoff", 8*time.Second)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.render_js", "auto")
	v.SetDefault("fetch.user_agent", "quizrunner/1.0 (+https://github.com/mohammad-safakhou/quizrunner)")
	v.SetDefault("fetch.max_bytes", 20<<20)
	v.SetDefault("fetch.max_chars", 20000)
	v.SetDefault("fetch.requests_per_second", 4)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9090)

	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.redis.jobs_stream", "quiz.jobs")
	v.SetDefault("storage.redis.events_stream", "quiz.events")
	v.SetDefault("storage.redis.group", "quizrunner")
}

// envOverrides maps conventional variable names onto config keys.
var envOverrides = []struct{ env, key string }{
	{"QUIZ_EMAIL", "quiz.email"},
	{"QUIZ_SECRET", "quiz.secret"},
	{"QUIZ_URL", "quiz.start_url"},
	{"GOOGLE_API_KEY", "llm.providers.gemini.api_key"},
	{"GEMINI_API_KEY", "llm.providers.gemini.api_key"},
	{"OPENAI_API_KEY", "llm.providers.openai.api_key"},
	{"AIPIPE_TOKEN", "llm.providers.aipipe.api_key"},
	{"AIPIPE_KEY", "llm.providers.aipipe.api_key"},
	{"REDIS_URL", "storage.redis.url"},
	{"REDIS_HOST", "storage.redis.host"},
	{"REDIS_PORT", "storage.redis.port"},
	{"REDIS_PASSWORD", "storage.redis.password"},
	{"PORT", "server.address"},
}

func credentialEnv(provider string) string {
	var names []string
	for _, o := range envOverrides {
		if o.key == "llm.providers."+provider+".api_key" {
			names = append(names, o.env)
		}
	}
	if len(names) == 0 {
		return "QUIZ_LLM_PROVIDERS_" + strings.ToUpper(provider) + "_API_KEY"
	}
	return strings.Join(names, " or ")
}

// LoadConfig reads an optional config file, the environment (QUIZ_* plus the
// conventional names above) and a .env file when present, then normalises
// and validates the result. Every failure is a failure.ConfigError.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("json")
	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
	} else {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			v.SetConfigType(ext)
		}
	}

	v.SetEnvPrefix("QUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, failure.ConfigError{Field: "config file", Reason: err.Error()}
		}
	}

	for _, o := range envOverrides {
		if val := strings.TrimSpace(os.Getenv(o.env)); val != "" {
			if o.env == "PORT" && !strings.Contains(val, ":") {
				val = ":" + val
			}
			v.Set(o.key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, failure.ConfigError{Field: "config", Reason: err.Error()}
	}
	cfg.LLM = cfg.LLM.Normalize()
	cfg.Fetch = cfg.Fetch.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, fn := range []func() error{
		c.Quiz.Validate,
		c.LLM.Validate,
		c.Limits.Validate,
		c.Fetch.Validate,
		c.Telemetry.Validate,
		c.Storage.Redis.Validate,
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// RequireCredentials checks what a one-shot run needs beyond Validate.
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.Quiz.Email) == "" {
		return failure.ConfigError{Field: "quiz.email", Reason: "required (flag --email or QUIZ_EMAIL)"}
	}
	if strings.TrimSpace(c.Quiz.Secret) == "" {
		return failure.ConfigError{Field: "quiz.secret", Reason: "required (QUIZ_SECRET)"}
	}
	if strings.TrimSpace(c.Quiz.StartURL) == "" {
		return failure.ConfigError{Field: "quiz.start_url", Reason: "required (flag --url or QUIZ_URL)"}
	}
	return nil
}
