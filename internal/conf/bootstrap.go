// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Bootstrap is the root configuration for the gateway process.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Auth      *Auth
	RateLimit *RateLimit
	Breaker   *Breaker
	Relay     *Relay
	Gateway   *Gateway
	Log       *Log
}

// Server holds transport configuration.
type Server struct {
	HTTP *ServerHTTP
}

// ServerHTTP holds the HTTP listener configuration.
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds external data source configuration.
type Data struct {
	Redis    *Redis
	Nats     *Nats
	Database *Database
}

// Redis holds the rate-limit store connection parameters.
type Redis struct {
	Network      string
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Nats holds the message bus connection parameters.
type Nats struct {
	URL  string
	Name string
}

// Database holds the audit log database connection parameters.
// The database is optional: an empty source disables audit persistence.
type Database struct {
	Driver string
	Source string
}

// Auth holds token verification and issuance configuration.
type Auth struct {
	JWT *JWT
}

// JWT holds signing configuration shared by the verifier and issuer.
type JWT struct {
	Secret        string
	Issuer        string
	Audience      string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// RateLimit maps limit class names to their fixed-window rules.
type RateLimit struct {
	Classes map[string]*LimitClass
}

// LimitClass is a fixed-window rate limit rule.
type LimitClass struct {
	Limit  int32
	Window time.Duration
}

// Breaker holds circuit breaker thresholds shared by all per-service breakers.
type Breaker struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	ResetTimeout     time.Duration
	CallTimeout      time.Duration
}

// Relay holds WebSocket relay and bus consumer configuration.
type Relay struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HandshakeTimeout  time.Duration
	SendBuffer        int
	Subjects          []string
	Reconnect         *Reconnect
}

// Reconnect describes the bus reconnection backoff policy.
type Reconnect struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Gateway holds the static route table and upstream addresses.
type Gateway struct {
	Upstreams map[string]string
	Routes    []*Route
}

// Route is a single proxy route rule. Longest prefix wins.
type Route struct {
	Prefix       string   `mapstructure:"prefix"`
	Service      string   `mapstructure:"service"`
	RequiresAuth bool     `mapstructure:"requires_auth"`
	Roles        []string `mapstructure:"roles"`
	LimitClass   string   `mapstructure:"limit_class"`
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// weakSecrets are substrings that disqualify a JWT signing secret outright.
var weakSecrets = []string{
	"your-secret-key",
	"secret",
	"password",
	"healthpay",
	"123456",
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with HEALTHPAY_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - JWT_SECRET or HEALTHPAY_AUTH_JWT_SECRET: JWT signing secret (>= 32 bytes)
//
// Returns a validation error if any required field is missing or the signing
// secret is weak; the caller must treat that error as fatal.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with HEALTHPAY_ prefix
	v.SetEnvPrefix("HEALTHPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without HEALTHPAY_ prefix) for compatibility
	_ = v.BindEnv("auth.jwt.secret", "JWT_SECRET", "HEALTHPAY_AUTH_JWT_SECRET")
	_ = v.BindEnv("auth.jwt.issuer", "JWT_ISSUER", "HEALTHPAY_AUTH_JWT_ISSUER")
	_ = v.BindEnv("auth.jwt.audience", "JWT_AUDIENCE", "HEALTHPAY_AUTH_JWT_AUDIENCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "HEALTHPAY_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.nats.url", "NATS_URL", "HEALTHPAY_DATA_NATS_URL")
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "HEALTHPAY_DATA_DATABASE_SOURCE")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Data: &Data{
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
			Nats: &Nats{
				URL:  v.GetString("data.nats.url"),
				Name: v.GetString("data.nats.name"),
			},
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
		},
		Auth: &Auth{
			JWT: &JWT{
				Secret:        v.GetString("auth.jwt.secret"),
				Issuer:        v.GetString("auth.jwt.issuer"),
				Audience:      v.GetString("auth.jwt.audience"),
				AccessExpiry:  v.GetDuration("auth.jwt.access_expiry"),
				RefreshExpiry: v.GetDuration("auth.jwt.refresh_expiry"),
			},
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetUint32("breaker.failure_threshold"),
			SuccessThreshold: v.GetUint32("breaker.success_threshold"),
			ResetTimeout:     v.GetDuration("breaker.reset_timeout"),
			CallTimeout:      v.GetDuration("breaker.call_timeout"),
		},
		Relay: &Relay{
			HeartbeatInterval: v.GetDuration("relay.heartbeat_interval"),
			HeartbeatTimeout:  v.GetDuration("relay.heartbeat_timeout"),
			HandshakeTimeout:  v.GetDuration("relay.handshake_timeout"),
			SendBuffer:        v.GetInt("relay.send_buffer"),
			Subjects:          v.GetStringSlice("relay.subjects"),
			Reconnect: &Reconnect{
				Base:        v.GetDuration("relay.reconnect.base"),
				Max:         v.GetDuration("relay.reconnect.max"),
				MaxAttempts: v.GetInt("relay.reconnect.max_attempts"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Rate limit classes
	rl := &RateLimit{Classes: map[string]*LimitClass{}}
	for name := range v.GetStringMap("ratelimit.classes") {
		rl.Classes[name] = &LimitClass{
			Limit:  v.GetInt32(fmt.Sprintf("ratelimit.classes.%s.limit", name)),
			Window: v.GetDuration(fmt.Sprintf("ratelimit.classes.%s.window", name)),
		}
	}
	bc.RateLimit = rl

	// Gateway upstreams and route table
	gw := &Gateway{Upstreams: v.GetStringMapString("gateway.upstreams")}
	if v.IsSet("gateway.routes") {
		if err := v.UnmarshalKey("gateway.routes", &gw.Routes); err != nil {
			return nil, fmt.Errorf("failed to parse gateway.routes: %w", err)
		}
	} else {
		gw.Routes = defaultRoutes()
	}
	bc.Gateway = gw

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":4000")
	v.SetDefault("server.http.timeout", 60*time.Second)

	// Data defaults
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)
	v.SetDefault("data.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("data.nats.name", "healthpay-gateway")
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional; empty disables audit persistence

	// Auth defaults
	// Note: auth.jwt.secret is required from environment
	v.SetDefault("auth.jwt.issuer", "healthpay-api")
	v.SetDefault("auth.jwt.audience", "healthpay-clients")
	v.SetDefault("auth.jwt.access_expiry", 15*time.Minute)
	v.SetDefault("auth.jwt.refresh_expiry", 7*24*time.Hour)

	// Rate limit defaults: per-minute fixed windows matching the public API tiers
	v.SetDefault("ratelimit.classes.auth.limit", 20)
	v.SetDefault("ratelimit.classes.auth.window", time.Minute)
	v.SetDefault("ratelimit.classes.api.limit", 100)
	v.SetDefault("ratelimit.classes.api.window", time.Minute)
	v.SetDefault("ratelimit.classes.strict.limit", 30)
	v.SetDefault("ratelimit.classes.strict.window", time.Minute)

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.reset_timeout", 60*time.Second)
	v.SetDefault("breaker.call_timeout", 30*time.Second)

	// Relay defaults
	v.SetDefault("relay.heartbeat_interval", 30*time.Second)
	v.SetDefault("relay.heartbeat_timeout", 60*time.Second)
	v.SetDefault("relay.handshake_timeout", 10*time.Second)
	v.SetDefault("relay.send_buffer", 64)
	v.SetDefault("relay.subjects", []string{"healthpay.events.>"})
	v.SetDefault("relay.reconnect.base", time.Second)
	v.SetDefault("relay.reconnect.max", 30*time.Second)
	v.SetDefault("relay.reconnect.max_attempts", 5)

	// Gateway upstream defaults
	v.SetDefault("gateway.upstreams.auth", "http://localhost:3001")
	v.SetDefault("gateway.upstreams.wallet", "http://localhost:3002")
	v.SetDefault("gateway.upstreams.payment", "http://localhost:3003")
	v.SetDefault("gateway.upstreams.transaction", "http://localhost:3004")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// defaultRoutes returns the built-in route table. It mirrors the public
// HealthPay v2 API surface.
func defaultRoutes() []*Route {
	return []*Route{
		{Prefix: "/v2/auth", Service: "auth", RequiresAuth: false, LimitClass: "auth"},
		{Prefix: "/v2/wallets", Service: "wallet", RequiresAuth: true, LimitClass: "api"},
		{Prefix: "/v2/payments", Service: "payment", RequiresAuth: true, LimitClass: "strict"},
		{Prefix: "/v2/transactions", Service: "transaction", RequiresAuth: true, LimitClass: "api"},
		{Prefix: "/v2/payment-gateways", Service: "payment", RequiresAuth: true, LimitClass: "strict"},
		{Prefix: "/v2/webhooks", Service: "payment", RequiresAuth: false, LimitClass: "strict"},
	}
}

// Validate checks that all required configuration fields are present and valid.
// Any error returned here is a startup-fatal configuration error.
func Validate(bc *Bootstrap) error {
	var problems []string

	// JWT signing secret: required, minimum length, not a known-weak value.
	secret := ""
	if bc.Auth != nil && bc.Auth.JWT != nil {
		secret = bc.Auth.JWT.Secret
	}
	switch {
	case secret == "":
		problems = append(problems, "auth.jwt.secret (JWT_SECRET) is required")
	case len(secret) < 32:
		problems = append(problems, fmt.Sprintf("auth.jwt.secret must be at least 32 bytes, got %d", len(secret)))
	default:
		lower := strings.ToLower(secret)
		for _, weak := range weakSecrets {
			if strings.Contains(lower, weak) {
				problems = append(problems, "auth.jwt.secret appears to be a weak or default value")
				break
			}
		}
	}

	if bc.Auth == nil || bc.Auth.JWT == nil || bc.Auth.JWT.Issuer == "" {
		problems = append(problems, "auth.jwt.issuer is required")
	}
	if bc.Auth == nil || bc.Auth.JWT == nil || bc.Auth.JWT.Audience == "" {
		problems = append(problems, "auth.jwt.audience is required")
	}

	// Every routed service must have a parseable upstream URL, and every
	// referenced limit class must exist.
	if bc.Gateway != nil {
		for _, rt := range bc.Gateway.Routes {
			target, ok := bc.Gateway.Upstreams[rt.Service]
			if !ok || target == "" {
				problems = append(problems, fmt.Sprintf("gateway.upstreams.%s is required by route %s", rt.Service, rt.Prefix))
				continue
			}
			if u, err := url.Parse(target); err != nil || u.Scheme == "" || u.Host == "" {
				problems = append(problems, fmt.Sprintf("gateway.upstreams.%s is not a valid URL: %q", rt.Service, target))
			}
			if rt.LimitClass != "" {
				if bc.RateLimit == nil || bc.RateLimit.Classes[rt.LimitClass] == nil {
					problems = append(problems, fmt.Sprintf("route %s references unknown limit class %q", rt.Prefix, rt.LimitClass))
				}
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
