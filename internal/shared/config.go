package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	MySQLDSN  string
	RedisAddr string
	RedisDB   int
	RedisPass string

	// Business-profile API
	GBPBase         string
	GBPAccount      string
	GBPLocation     string
	GBPAccessToken  string // static token; leave empty to use the refresh flow
	GBPTokenURL     string
	GBPClientID     string
	GBPClientSecret string
	GBPRefreshToken string

	// Reply generation
	OpenAIBase   string
	OpenAIKey    string
	OpenAIModel  string
	BusinessName string
	ReplyTone    string
	ReplyMaxLen  int
	Temperature  float64

	PollInterval time.Duration
	CallTimeout  time.Duration

	// Operator mail; empty SMTPAddr disables delivery (reports are logged).
	SMTPAddr string
	SMTPFrom string
	SMTPTo   string
	SMTPUser string
	SMTPPass string
}

// Load reads the environment once at startup. Missing required fields are
// a fatal configuration error, not a per-cycle one.
func Load() (Config, error) {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	atof := func(k string, def float64) float64 {
		if v := os.Getenv(k); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return def
	}
	c := Config{
		AppEnv:   env("APP_ENV", "prod"),
		HTTPAddr: env("HTTP_ADDR", ":8080"),

		MySQLDSN:  env("MYSQL_DSN", "root:root@tcp(localhost:3306)/replybot?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr: env("REDIS_ADDR", "localhost:6379"),
		RedisPass: env("REDIS_PASSWORD", ""),
		RedisDB:   atoi("REDIS_DB", 0),

		GBPBase:         env("GBP_BASE_URL", "https://mybusiness.googleapis.com/v4"),
		GBPAccount:      env("GBP_ACCOUNT_ID", ""),
		GBPLocation:     env("GBP_LOCATION_ID", ""),
		GBPAccessToken:  env("GBP_ACCESS_TOKEN", ""),
		GBPTokenURL:     env("GBP_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		GBPClientID:     env("GBP_CLIENT_ID", ""),
		GBPClientSecret: env("GBP_CLIENT_SECRET", ""),
		GBPRefreshToken: env("GBP_REFRESH_TOKEN", ""),

		OpenAIBase:   env("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIKey:    env("OPENAI_KEY", ""),
		OpenAIModel:  env("OPENAI_MODEL", "gpt-4o-mini"),
		BusinessName: env("BUSINESS_NAME", ""),
		ReplyTone:    env("REPLY_TONE", "short, polite and warm"),
		ReplyMaxLen:  atoi("REPLY_MAX_LEN", 4096),
		Temperature:  atof("OPENAI_TEMPERATURE", 0.7),

		PollInterval: time.Duration(atoi("POLL_INTERVAL_SECONDS", 3600)) * time.Second,
		CallTimeout:  time.Duration(atoi("CALL_TIMEOUT_SECONDS", 30)) * time.Second,

		SMTPAddr: env("SMTP_ADDR", ""),
		SMTPFrom: env("SMTP_FROM", ""),
		SMTPTo:   env("SMTP_TO", ""),
		SMTPUser: env("SMTP_USER", ""),
		SMTPPass: env("SMTP_PASSWORD", ""),
	}

	var missing []string
	for _, req := range []struct{ key, val string }{
		{"GBP_ACCOUNT_ID", c.GBPAccount},
		{"GBP_LOCATION_ID", c.GBPLocation},
		{"OPENAI_KEY", c.OpenAIKey},
		{"BUSINESS_NAME", c.BusinessName},
	} {
		if req.val == "" {
			missing = append(missing, req.key)
		}
	}
	if c.GBPAccessToken == "" &&
		(c.GBPClientID == "" || c.GBPClientSecret == "" || c.GBPRefreshToken == "") {
		missing = append(missing, "GBP_ACCESS_TOKEN or GBP_CLIENT_ID+GBP_CLIENT_SECRET+GBP_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.ReplyMaxLen <= 0 {
		return Config{}, fmt.Errorf("REPLY_MAX_LEN must be positive, got %d", c.ReplyMaxLen)
	}
	if c.PollInterval <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	return c, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
