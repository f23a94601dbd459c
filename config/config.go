// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/basehealth/x402/price"
	"github.com/basehealth/x402/signin"
	"github.com/basehealth/x402/tips"
	"github.com/basehealth/x402/types"
)

type Config struct {
	Network           string        `validate:"required,oneof=base base-sepolia"`
	BaseRPCURL        string        `validate:"omitempty,url"`
	BaseSepoliaRPCURL string        `validate:"omitempty,url"`
	TipRecipient      string        `validate:"required,eth_addr"`
	PriceFeedURL      string        `validate:"required,url"`
	PriceCacheTTL     time.Duration `validate:"gt=0"`
	SignInFreshness   time.Duration `validate:"gt=0"`
	TipWaitTimeout    time.Duration `validate:"gt=0"`
	VerifyTimeout     time.Duration `validate:"gt=0"`
	DatabaseURL       string
	HTTPAddr          string `validate:"required"`
	LogLevel          string `validate:"oneof=debug info warn error"`
	EnableMetrics     bool
	CookieSecure      bool
}

// Load reads an optional .env file, then the environment. Variables already
// set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		raw := getenv(key)
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	boolean := func(key string, def bool) bool {
		raw := getenv(key)
		if raw == "" {
			return def
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return b
	}

	cfg := &Config{
		Network:           get("X402_NETWORK", string(types.NetworkBaseSepolia)),
		BaseRPCURL:        getenv("BASE_RPC_URL"),
		BaseSepoliaRPCURL: getenv("BASE_SEPOLIA_RPC_URL"),
		TipRecipient:      getenv("TIP_RECIPIENT_ADDRESS"),
		PriceFeedURL:      get("PRICE_FEED_URL", price.DefaultFeedURL),
		PriceCacheTTL:     duration("PRICE_CACHE_TTL", price.DefaultTTL),
		SignInFreshness:   duration("SIGNIN_FRESHNESS_WINDOW", signin.DefaultFreshness),
		TipWaitTimeout:    duration("TIP_WAIT_TIMEOUT", tips.DefaultWaitTimeout),
		VerifyTimeout:     duration("VERIFY_TIMEOUT", 30*time.Second),
		DatabaseURL:       getenv("DATABASE_URL"),
		HTTPAddr:          get("HTTP_ADDR", ":8080"),
		LogLevel:          get("LOG_LEVEL", "info"),
		EnableMetrics:     boolean("ENABLE_METRICS", true),
		CookieSecure:      boolean("COOKIE_SECURE", true),
	}
	if len(errs) > 0 {
		return nil, &types.X402Error{Code: types.ErrConfigError, Message: fmt.Sprintf("invalid configuration: %v", errs)}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &types.X402Error{Code: types.ErrConfigError, Message: fmt.Sprintf("invalid configuration: %v", err)}
	}
	return cfg, nil
}

// X402Config maps the process configuration onto the library configuration.
func (c *Config) X402Config() *types.X402Config {
	urls := map[types.Network]string{}
	if c.BaseRPCURL != "" {
		urls[types.NetworkBase] = c.BaseRPCURL
	}
	if c.BaseSepoliaRPCURL != "" {
		urls[types.NetworkBaseSepolia] = c.BaseSepoliaRPCURL
	}
	return &types.X402Config{
		Network:         types.Network(c.Network),
		RPCURLs:         urls,
		DefaultTimeout:  c.VerifyTimeout,
		SignInFreshness: c.SignInFreshness,
		TipRecipient:    c.TipRecipient,
		TipWaitTimeout:  c.TipWaitTimeout,
		LogLevel:        c.LogLevel,
		EnableMetrics:   c.EnableMetrics,
	}
}
