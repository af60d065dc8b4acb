package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration required by the auth processes.
// All values come from env (optionally seeded from a .env file).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Session SessionConfig
	HTTP    HTTPConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. An empty Host means no fast store is deployed.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	// JWTSecret pins a static signing secret. When set, rotation and key
	// persistence are disabled.
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	KeyFile          string
	RotationEnabled  bool
	RotationInterval time.Duration
	RetiredKeyTTL    time.Duration

	// Login attempts per username and source: LoginBurst tries, refilled one
	// per LoginRefill.
	LoginBurst  int
	LoginRefill time.Duration
}

type SessionConfig struct {
	// Store is one of auto, fast, durable.
	Store         string
	TTL           time.Duration
	ProbeInterval time.Duration

	SingleActive      bool
	MultiLoginClients []int64
	MultiLoginUsers   []string
	PolicyFile        string
}

type HTTPConfig struct {
	PublicPaths    []string
	AllowedOrigins []string
}

// DefaultPublicPaths are reachable without a bearer token.
var DefaultPublicPaths = []string{
	"/api/super-admin/register",
	"/api/super-admin/login",
	"/api/client/register",
	"/api/client/login",
	"/api/user/login",
	"/api/auth/login",
	"/api/auth/refresh",
	"/actuator/health",
	"/actuator/health/**",
	"/metrics",
	"/error",
}

const (
	SessionStoreAuto    = "auto"
	SessionStoreFast    = "fast"
	SessionStoreDurable = "durable"
)

func Load() (Config, error) {
	// .env is optional; real deployments inject env directly.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL, parseErrs = optDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optDuration(parseErrs, "JWT_REFRESH_TTL")
	c.Auth.KeyFile = strings.TrimSpace(os.Getenv("JWT_KEY_FILE"))
	c.Auth.RotationEnabled, parseErrs = optBool(parseErrs, "JWT_ROTATION_ENABLED", false)
	c.Auth.RotationInterval, parseErrs = optDuration(parseErrs, "JWT_ROTATION_INTERVAL")
	c.Auth.RetiredKeyTTL, parseErrs = optDuration(parseErrs, "JWT_RETIRED_KEY_TTL")
	if v := strings.TrimSpace(os.Getenv("LOGIN_BURST")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("LOGIN_BURST: %w", err))
		}
		c.Auth.LoginBurst = n
	}
	c.Auth.LoginRefill, parseErrs = optDuration(parseErrs, "LOGIN_REFILL")

	c.Session.Store = strings.ToLower(strings.TrimSpace(os.Getenv("SESSION_STORE")))
	c.Session.TTL, parseErrs = optDuration(parseErrs, "SESSION_TTL")
	c.Session.ProbeInterval, parseErrs = optDuration(parseErrs, "SESSION_PROBE_INTERVAL")
	c.Session.SingleActive, parseErrs = optBool(parseErrs, "SESSION_SINGLE_ACTIVE", true)
	{
		ids, err := parseInt64List(os.Getenv("SESSION_MULTI_LOGIN_CLIENTS"))
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("SESSION_MULTI_LOGIN_CLIENTS: %w", err))
		}
		c.Session.MultiLoginClients = ids
	}
	c.Session.MultiLoginUsers = splitList(os.Getenv("SESSION_MULTI_LOGIN_USERS"))
	c.Session.PolicyFile = strings.TrimSpace(os.Getenv("SESSION_POLICY_FILE"))
	if c.Session.PolicyFile != "" {
		if err := c.Session.mergePolicyFile(c.Session.PolicyFile); err != nil {
			parseErrs = append(parseErrs, err)
		}
	}

	c.HTTP.PublicPaths = splitList(os.Getenv("AUTH_PUBLIC_PATHS"))
	c.HTTP.AllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks invariants and fills defaults. It has a pointer receiver so
// defaults are visible to the caller.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
			errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if c.Auth.KeyFile == "" {
		c.Auth.KeyFile = "jwt-secret.txt"
	}
	if c.Auth.RotationInterval <= 0 {
		// Roughly every six months.
		c.Auth.RotationInterval = 4380 * time.Hour
	}
	if c.Auth.RetiredKeyTTL <= 0 {
		c.Auth.RetiredKeyTTL = 24 * time.Hour
	}
	if c.Auth.RetiredKeyTTL < c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_RETIRED_KEY_TTL must be at least JWT_ACCESS_TTL"))
	}
	if c.Auth.LoginBurst <= 0 {
		c.Auth.LoginBurst = 10
	}
	if c.Auth.LoginRefill <= 0 {
		c.Auth.LoginRefill = time.Minute
	}

	switch c.Session.Store {
	case "":
		c.Session.Store = SessionStoreAuto
	case "redis":
		c.Session.Store = SessionStoreFast
	case "db":
		c.Session.Store = SessionStoreDurable
	case SessionStoreAuto, SessionStoreFast, SessionStoreDurable:
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be one of auto, fast, durable, got %q", c.Session.Store))
	}
	if c.Session.Store == SessionStoreFast && c.Redis.Host == "" {
		errs = append(errs, errors.New("SESSION_STORE=fast requires REDIS_HOST"))
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 30 * 24 * time.Hour
	}
	if c.Session.ProbeInterval <= 0 {
		c.Session.ProbeInterval = 30 * time.Second
	}

	if len(c.HTTP.PublicPaths) == 0 {
		c.HTTP.PublicPaths = append([]string(nil), DefaultPublicPaths...)
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// StaticSecret reports whether an operator pinned the signing secret.
func (c Config) StaticSecret() bool {
	return c.Auth.JWTSecret != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisAddr returns "" when no redis is configured.
func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// policyFile is the YAML shape of SESSION_POLICY_FILE.
type policyFile struct {
	SingleActive      *bool    `yaml:"single_active"`
	MultiLoginClients []int64  `yaml:"multi_login_clients"`
	MultiLoginUsers   []string `yaml:"multi_login_users"`
}

// mergePolicyFile overlays exemption lists from a YAML file onto env values.
func (s *SessionConfig) mergePolicyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("SESSION_POLICY_FILE: %w", err)
	}
	return s.mergePolicyYAML(b)
}

func (s *SessionConfig) mergePolicyYAML(b []byte) error {
	var pf policyFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return fmt.Errorf("SESSION_POLICY_FILE: invalid yaml: %w", err)
	}
	if pf.SingleActive != nil {
		s.SingleActive = *pf.SingleActive
	}
	s.MultiLoginClients = append(s.MultiLoginClients, pf.MultiLoginClients...)
	for _, u := range pf.MultiLoginUsers {
		if u = strings.TrimSpace(u); u != "" {
			s.MultiLoginUsers = append(s.MultiLoginUsers, u)
		}
	}
	return nil
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func optBool(errs []error, key string, def bool) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
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

func parseInt64List(v string) ([]int64, error) {
	var out []int64
	for _, p := range splitList(v) {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
