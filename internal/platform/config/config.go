package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Audit sink selectors.
const (
	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	OperatorToken string

	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Policy   PolicyConfig
	Token    TokenConfig
	Audit    AuditConfig
	Tracing  TracingConfig
	Limits   RateLimitConfig
}

// RedisConfig configures the credential store connection. An empty URL selects
// the in-memory credential store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the policy store and audit table connection.
type PostgresConfig struct {
	URL         string
	MaxConns    int32
	ConnTimeout time.Duration
}

// KafkaConfig configures the audit topic producer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// PolicyConfig holds the consent policy source and confidence thresholds.
type PolicyConfig struct {
	File             string
	MinConfidence    float64
	ReviewConfidence float64
}

// TokenConfig holds bearer token signing and credential store retention.
type TokenConfig struct {
	SigningKey    string
	Issuer        string
	TTL           time.Duration
	CredentialTTL time.Duration
}

// AuditConfig selects the audit sink and sizes the emitter queue.
type AuditConfig struct {
	Sink       string
	BufferSize int
}

// TracingConfig configures span export. An empty Endpoint keeps tracing
// in-process only.
type TracingConfig struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// RateLimitConfig caps access and emergency requests per actor. Zero Requests
// disables limiting.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Defaults used when the environment does not override them.
const (
	DefaultAddr             = ":8080"
	DefaultMinConfidence    = 0.85
	DefaultReviewConfidence = 0.75
	DefaultTokenTTL         = 15 * time.Minute
	DefaultCredentialTTL    = 300 * time.Second
	DefaultAuditBufferSize  = 1024
	DefaultAuditTopic       = "consentgate.audit"
	DefaultIssuer           = "consentgate"
	DefaultServiceName      = "consentgate"
	DefaultRateLimit        = 120
	DefaultRateLimitWindow  = time.Minute
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:     getEnv("GATEWAY_ADDR", DefaultAddr),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OperatorToken: os.Getenv("OPERATOR_TOKEN"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Postgres: PostgresConfig{
			URL:         os.Getenv("DATABASE_URL"),
			MaxConns:    10,
			ConnTimeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("AUDIT_TOPIC", DefaultAuditTopic),
		},
		Policy: PolicyConfig{
			File: os.Getenv("POLICY_FILE"),
		},
		Token: TokenConfig{
			SigningKey: os.Getenv("TOKEN_SIGNING_KEY"),
			Issuer:     getEnv("TOKEN_ISSUER", DefaultIssuer),
		},
		Audit: AuditConfig{
			Sink: getEnv("AUDIT_SINK", AuditSinkLog),
		},
		Tracing: TracingConfig{
			ServiceName: getEnv("OTEL_SERVICE_NAME", DefaultServiceName),
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		},
	}

	if cfg.Token.SigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.Token.SigningKey = "dev-secret-key-change-in-production"
	}

	var err error
	if cfg.Policy.MinConfidence, err = floatEnv("POLICY_MIN_CONFIDENCE", DefaultMinConfidence); err != nil {
		return Server{}, err
	}
	if cfg.Policy.ReviewConfidence, err = floatEnv("POLICY_REVIEW_CONFIDENCE", DefaultReviewConfidence); err != nil {
		return Server{}, err
	}
	if cfg.Token.TTL, err = durationEnv("TOKEN_TTL", DefaultTokenTTL); err != nil {
		return Server{}, err
	}
	if cfg.Token.CredentialTTL, err = durationEnv("CREDENTIAL_STORE_TTL", DefaultCredentialTTL); err != nil {
		return Server{}, err
	}
	if cfg.Tracing.SampleRatio, err = floatEnv("OTEL_TRACES_SAMPLER_ARG", 1.0); err != nil {
		return Server{}, err
	}
	if cfg.Limits.Requests, err = intEnv("RATE_LIMIT_REQUESTS", DefaultRateLimit); err != nil {
		return Server{}, err
	}
	if cfg.Limits.Window, err = durationEnv("RATE_LIMIT_WINDOW", DefaultRateLimitWindow); err != nil {
		return Server{}, err
	}
	if cfg.Audit.BufferSize, err = intEnv("AUDIT_BUFFER_SIZE", DefaultAuditBufferSize); err != nil {
		return Server{}, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot run with.
func (s Server) Validate() error {
	for name, v := range map[string]float64{
		"POLICY_MIN_CONFIDENCE":    s.Policy.MinConfidence,
		"POLICY_REVIEW_CONFIDENCE": s.Policy.ReviewConfidence,
		"OTEL_TRACES_SAMPLER_ARG":  s.Tracing.SampleRatio,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if s.Token.TTL <= 0 || s.Token.CredentialTTL <= 0 {
		return fmt.Errorf("token and credential TTLs must be positive")
	}
	if s.Limits.Requests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative")
	}
	if s.Limits.Requests > 0 && s.Limits.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if s.Audit.BufferSize <= 0 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive")
	}
	switch s.Audit.Sink {
	case AuditSinkLog:
	case AuditSinkPostgres:
		if s.Postgres.URL == "" {
			return fmt.Errorf("AUDIT_SINK=postgres requires DATABASE_URL")
		}
	case AuditSinkKafka:
		if len(s.Kafka.Brokers) == 0 {
			return fmt.Errorf("AUDIT_SINK=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown AUDIT_SINK %q", s.Audit.Sink)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
