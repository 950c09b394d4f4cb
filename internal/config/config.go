package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

const envPrefix = "VESTING_"

// Config holds runtime settings. Precedence: defaults, then environment
// (optionally seeded from a .env file), then command-line flags.
type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string
	PGDSN    string

	AuthSecret string
	DevTokens  bool
	TokenTTL   time.Duration

	ProgramID string
	Token     string

	LogFormat string
	Verbose   bool

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
	MaxBodyBytes   int64
	StreamBuffer   int
	ShutdownGrace  time.Duration
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Env:            "dev",
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9090",
		TokenTTL:       time.Hour,
		Token:          "GRAD",
		LogFormat:      "json",
		RateLimitRPS:   50,
		RateLimitBurst: 100,
		MaxBodyBytes:   1 << 20,
		StreamBuffer:   32,
		ShutdownGrace:  10 * time.Second,
	}
}

// Load reads an optional .env file, the environment and args, then validates.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return Config{}, err
	}
	fset := flag.NewFlagSet("gradify", flag.ContinueOnError)
	cfg.BindFlags(fset)
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("failed to validate config: %w", err)
	}
	return cfg, nil
}

// FromEnv overlays VESTING_* variables on the defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(envPrefix + key)); v != "" {
			*dst = v
		}
	}
	str("ENV", &cfg.Env)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("PG_DSN", &cfg.PGDSN)
	str("AUTH_SECRET", &cfg.AuthSecret)
	str("PROGRAM_ID", &cfg.ProgramID)
	str("TOKEN", &cfg.Token)
	str("LOG_FORMAT", &cfg.LogFormat)

	var errs []error
	parse := func(key string, fn func(string) error) {
		if v := strings.TrimSpace(getenv(envPrefix + key)); v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			}
		}
	}
	parse("DEV_TOKENS", func(v string) (err error) { cfg.DevTokens, err = strconv.ParseBool(v); return })
	parse("VERBOSE", func(v string) (err error) { cfg.Verbose, err = strconv.ParseBool(v); return })
	parse("TOKEN_TTL", func(v string) (err error) { cfg.TokenTTL, err = time.ParseDuration(v); return })
	parse("SHUTDOWN_GRACE", func(v string) (err error) { cfg.ShutdownGrace, err = time.ParseDuration(v); return })
	parse("RATE_LIMIT_RPS", func(v string) (err error) { cfg.RateLimitRPS, err = strconv.ParseFloat(v, 64); return })
	parse("RATE_LIMIT_BURST", func(v string) (err error) { cfg.RateLimitBurst, err = strconv.Atoi(v); return })
	parse("STREAM_BUFFER", func(v string) (err error) { cfg.StreamBuffer, err = strconv.Atoi(v); return })
	parse("MAX_BODY_BYTES", func(v string) (err error) { cfg.MaxBodyBytes, err = strconv.ParseInt(v, 10, 64); return })
	parse("CORS_ORIGINS", func(v string) error { cfg.CORSOrigins = splitList(v); return nil })

	return cfg, errors.Join(errs...)
}

// BindFlags registers a flag per setting, defaulting to the current values.
func (c *Config) BindFlags(fset *flag.FlagSet) {
	fset.StringVar(&c.Env, "env", c.Env, "environment name (or set VESTING_ENV)")
	fset.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address (or set VESTING_HTTP_ADDR)")
	fset.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC listen address, empty disables (or set VESTING_GRPC_ADDR)")
	fset.StringVar(&c.PGDSN, "pg-dsn", c.PGDSN, "PostgreSQL DSN, empty uses in-memory stores (or set VESTING_PG_DSN)")
	fset.StringVar(&c.AuthSecret, "auth-secret", c.AuthSecret, "HS256 token secret (or set VESTING_AUTH_SECRET)")
	fset.BoolVar(&c.DevTokens, "dev-tokens", c.DevTokens, "serve POST /v1/auth/token (or set VESTING_DEV_TOKENS)")
	fset.DurationVar(&c.TokenTTL, "token-ttl", c.TokenTTL, "lifetime of issued dev tokens")
	fset.StringVar(&c.ProgramID, "program-id", c.ProgramID, "base58 namespace for derived addresses (or set VESTING_PROGRAM_ID)")
	fset.StringVar(&c.Token, "token", c.Token, "token symbol held by treasuries (or set VESTING_TOKEN)")
	fset.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or text")
	fset.BoolVar(&c.Verbose, "verbose", c.Verbose, "enable verbose (debug) logging")
	fset.Float64Var(&c.RateLimitRPS, "rate-limit-rps", c.RateLimitRPS, "per-client requests per second, 0 disables")
	fset.IntVar(&c.RateLimitBurst, "rate-limit-burst", c.RateLimitBurst, "per-client burst")
	fset.StringSliceVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "allowed CORS origins")
	fset.Int64Var(&c.MaxBodyBytes, "max-body-bytes", c.MaxBodyBytes, "maximum request body size")
	fset.IntVar(&c.StreamBuffer, "stream-buffer", c.StreamBuffer, "per-subscriber event buffer")
	fset.DurationVar(&c.ShutdownGrace, "shutdown-grace", c.ShutdownGrace, "graceful shutdown timeout")
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http address is required")
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		if !c.IsDev() {
			return errors.New("auth secret is required outside dev")
		}
		c.AuthSecret = "dev-secret-change-me"
	}
	if c.DevTokens && !c.IsDev() {
		return errors.New("dev tokens are only allowed in dev")
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = time.Hour
	}
	if c.ProgramID != "" {
		if _, err := solana.PublicKeyFromBase58(c.ProgramID); err != nil {
			return fmt.Errorf("invalid program id: %w", err)
		}
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("token symbol is required")
	}
	switch c.LogFormat {
	case "json", "text":
	case "":
		c.LogFormat = "json"
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limits must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst == 0 {
		c.RateLimitBurst = int(c.RateLimitRPS) + 1
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 32
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return nil
}

// IsDev reports whether the service runs in a development environment.
func (c *Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// ProgramKey returns the configured namespace, or the zero key when unset.
func (c *Config) ProgramKey() solana.PublicKey {
	if c.ProgramID == "" {
		return solana.PublicKey{}
	}
	return solana.MustPublicKeyFromBase58(c.ProgramID)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
