package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort  string
	LogLevel string

	DatabaseURL string

	MaxToolCalls         int
	ToolCallWarnFraction float64

	NoveltyPolicy          string
	NoveltyStalenessWindow time.Duration

	NewsletterFormat      string
	NewsletterSubject     string
	NewsletterSourceLimit int

	DefaultDomain     string
	DomainPresetsPath string

	OllamaURL      string
	OllamaGenModel string

	AgentMaxIterations         int
	AgentTimeoutSeconds        int
	AgentPlannerTimeoutSeconds int
	AgentToolTimeoutSeconds    int

	TavilyURL          string
	TavilyAPIKey       string
	SearchMaxResults   int
	SearchRateLimitRPS float64

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       string
	SMTPUseTLS   bool

	NATSURL             string
	NATSResearchSubject string

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int

	OpenAICompatAPIKey           string
	OpenAICompatModelID          string
	OpenAICompatStreamChunkChars int

	WorkerMetricsPort string
}

// Load reads the environment, after applying a .env file from the working
// directory when one exists. Variables already set in the environment win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv_load_failed", "error", err)
	}

	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		DatabaseURL: mustEnv("DATABASE_URL", "./data/research.db"),

		MaxToolCalls:         mustEnvInt("MAX_TOOL_CALLS", 10),
		ToolCallWarnFraction: mustEnvFloat("TOOL_CALL_WARN_FRACTION", 0.8),

		NoveltyPolicy:          mustEnv("NOVELTY_POLICY", "content"),
		NoveltyStalenessWindow: mustEnvDuration("NOVELTY_STALENESS_WINDOW", 7*24*time.Hour),

		NewsletterFormat:      mustEnv("NEWSLETTER_FORMAT", "html"),
		NewsletterSubject:     mustEnv("NEWSLETTER_SUBJECT", "AI Research Digest - {date}"),
		NewsletterSourceLimit: mustEnvInt("NEWSLETTER_SOURCE_LIMIT", 5),

		DefaultDomain:     mustEnv("DEFAULT_DOMAIN", "ai-ml"),
		DomainPresetsPath: mustEnv("DOMAIN_PRESETS_PATH", ""),

		OllamaURL:      mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel: mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),

		AgentMaxIterations:         mustEnvInt("AGENT_MAX_ITERATIONS", 12),
		AgentTimeoutSeconds:        mustEnvInt("AGENT_TIMEOUT_SECONDS", 120),
		AgentPlannerTimeoutSeconds: mustEnvInt("AGENT_PLANNER_TIMEOUT_SECONDS", 30),
		AgentToolTimeoutSeconds:    mustEnvInt("AGENT_TOOL_TIMEOUT_SECONDS", 30),

		TavilyURL:          mustEnv("TAVILY_URL", "https://api.tavily.com"),
		TavilyAPIKey:       mustEnv("TAVILY_API_KEY", ""),
		SearchMaxResults:   mustEnvInt("SEARCH_MAX_RESULTS", 5),
		SearchRateLimitRPS: mustEnvFloat("SEARCH_RATE_LIMIT_RPS", 1),

		SMTPHost:     mustEnv("SMTP_HOST", ""),
		SMTPPort:     mustEnvInt("SMTP_PORT", 587),
		SMTPUsername: mustEnv("SMTP_USERNAME", ""),
		SMTPPassword: mustEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     mustEnv("SMTP_FROM_EMAIL", ""),
		SMTPTo:       mustEnv("SMTP_TO_EMAIL", ""),
		SMTPUseTLS:   mustEnvBool("SMTP_USE_TLS", true),

		NATSURL:             mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSResearchSubject: mustEnv("NATS_RESEARCH_SUBJECT", "research.trigger"),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:    mustEnvInt("API_MAX_IN_FLIGHT", 32),

		OpenAICompatAPIKey:           mustEnv("OPENAI_COMPAT_API_KEY", ""),
		OpenAICompatModelID:          mustEnv("OPENAI_COMPAT_MODEL_ID", "research-assistant"),
		OpenAICompatStreamChunkChars: mustEnvInt("OPENAI_COMPAT_STREAM_CHUNK_CHARS", 120),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

// SMTPConfigured reports whether newsletter delivery can be enabled.
func (c Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != "" && c.SMTPTo != ""
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
