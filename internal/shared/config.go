package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string

	// Storage: StoreDriver is "mysql", "sqlite", "memory" (dev, nothing
	// persists) or "none" (catalog in memory, payments answer 503).
	StoreDriver string
	MySQLDSN    string
	SQLitePath  string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CacheTTL    time.Duration

	DiscountsFile  string // YAML seed for the rate table
	PropertiesFile string // YAML catalog imported at startup

	PaystackBase    string
	PaystackSecret  string
	PaystackTimeout time.Duration
	PaystackRPS     int
	CallbackURL     string

	AdminKey       string
	TokenSecret    string
	ActivationTTL  time.Duration
	ResetTTL       time.Duration
	PublicBaseURL  string
	AllowedOrigins []string

	SMTPAddr    string
	SMTPUser    string
	SMTPPass    string
	MailFrom    string
	SMTPTimeout time.Duration

	TracingEnabled  bool
	TracingEndpoint string

	// reconciler
	Workers    int
	StaleAfter time.Duration
	SweepLimit int
}

func Load() Config {
	// .env is a dev convenience; real deployments inject the environment.
	if os.Getenv("APP_ENV") != "prod" {
		_ = godotenv.Load()
	}

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	secs := func(k string, def int) time.Duration {
		return time.Duration(atoi(k, def)) * time.Second
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),

		StoreDriver: env("STORE_DRIVER", "mysql"),
		MySQLDSN:    env("MYSQL_DSN", ""),
		SQLitePath:  env("SQLITE_PATH", "./stayhub.db"),
		RedisAddr:   env("REDIS_ADDR", ""),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),
		CacheTTL:    secs("CACHE_TTL_SECONDS", 300),

		DiscountsFile:  env("DISCOUNTS_FILE", ""),
		PropertiesFile: env("PROPERTIES_FILE", ""),

		PaystackBase:    env("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		PaystackSecret:  env("PAYSTACK_SECRET_KEY", ""),
		PaystackTimeout: secs("PAYSTACK_TIMEOUT_SECONDS", 10),
		PaystackRPS:     atoi("PAYSTACK_RPS", 5),
		CallbackURL:     env("PAYSTACK_CALLBACK_URL", ""),

		AdminKey:       env("ADMIN_KEY", ""),
		TokenSecret:    env("TOKEN_SECRET", ""),
		ActivationTTL:  secs("ACTIVATION_TTL_SECONDS", 24*3600),
		ResetTTL:       secs("RESET_TTL_SECONDS", 30*60),
		PublicBaseURL:  strings.TrimRight(env("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		AllowedOrigins: splitCSV(env("ALLOWED_ORIGINS", "*")),

		SMTPAddr:    env("SMTP_ADDR", ""),
		SMTPUser:    env("SMTP_USER", ""),
		SMTPPass:    env("SMTP_PASSWORD", ""),
		MailFrom:    env("MAIL_FROM", "no-reply@stayhub.ng"),
		SMTPTimeout: secs("SMTP_TIMEOUT_SECONDS", 10),

		TracingEnabled:  env("TRACING_ENABLED", "false") == "true",
		TracingEndpoint: env("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),

		Workers:    atoi("RECONCILE_WORKERS", 4),
		StaleAfter: secs("RECONCILE_STALE_SECONDS", 30*60),
		SweepLimit: atoi("RECONCILE_LIMIT", 200),
	}
	if c.PaystackSecret == "" {
		log.Warn().Msg("PAYSTACK_SECRET_KEY is empty; verify and webhooks will be rejected")
	}
	if c.AdminKey == "" {
		log.Warn().Msg("ADMIN_KEY is empty; admin endpoints are locked")
	}
	if c.TokenSecret == "" {
		log.Warn().Msg("TOKEN_SECRET is empty; account token flows are disabled")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
