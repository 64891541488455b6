package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultServiceName      = "order-service"
	defaultLogLevel         = "info"
	defaultLogFormat        = "console"
	defaultSSLMode          = "disable"
	defaultMaxConns         = 10
	defaultMinConns         = 2
	defaultMaxConnLifetime  = 30 * time.Minute
	defaultMigrationsPath   = "migrations"
	defaultCurrency         = "UAH"
	defaultLanguage         = "UA"
	defaultPayURL           = "https://secure.wayforpay.com/pay"
	defaultCallbackMaxAge   = 72 * time.Hour
	defaultExchange         = "storefront.notifications"
	defaultNotifyTimeout    = 10 * time.Second
	defaultCheckoutAttempts = 3
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Log          LogConfig          `yaml:"log"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Identifier   IdentifierConfig   `yaml:"identifier"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Notification NotificationConfig `yaml:"notification"`
	Orders       OrdersConfig       `yaml:"orders"`
	Admin        AdminConfig        `yaml:"admin"`
}

type AppConfig struct {
	Name string `yaml:"name"`
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// IdentifierConfig holds the server secret used to derive tracking tokens.
// Rotating the secret changes every token derived afterwards; already stored
// tokens stay valid because lookups go through the stored column.
type IdentifierConfig struct {
	TrackingSecret string `yaml:"tracking_secret"`
}

// GatewayConfig holds the payment gateway merchant credentials and endpoints.
type GatewayConfig struct {
	MerchantAccount string        `yaml:"merchant_account"`
	MerchantDomain  string        `yaml:"merchant_domain"`
	SecretKey       string        `yaml:"secret_key"`
	Currency        string        `yaml:"currency"`
	Language        string        `yaml:"language"`
	PayURL          string        `yaml:"pay_url"`
	ReturnURL       string        `yaml:"return_url"`
	ServiceURL      string        `yaml:"service_url"`
	CallbackMaxAge  time.Duration `yaml:"callback_max_age"`
}

// NotificationConfig configures the AMQP publisher. An empty URL runs the
// dispatcher in log-only mode.
type NotificationConfig struct {
	AMQPURL  string        `yaml:"amqp_url"`
	Exchange string        `yaml:"exchange"`
	Timeout  time.Duration `yaml:"timeout"`
}

type OrdersConfig struct {
	StrictTransitions bool `yaml:"strict_transitions"`
	CheckoutAttempts  int  `yaml:"checkout_attempts"`
}

// AdminConfig maps operator names to bcrypt hashes of their API keys.
type AdminConfig struct {
	Operators map[string]string `yaml:"operators"`
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile string
	file    string
	lookup  func(string) (string, bool)
}

// WithEnvFile overrides the dotenv file path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithFile loads a YAML file before applying environment overrides.
func WithFile(path string) Option {
	return func(o *loaderOptions) { o.file = path }
}

// WithLookup replaces os.LookupEnv, primarily for tests.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(o *loaderOptions) {
		if lookup != nil {
			o.lookup = lookup
		}
	}
}

// NewConfig loads configuration from .env, the optional CONFIG_PATH YAML file
// and the process environment.
func NewConfig() (*Config, error) {
	return Load(WithFile(os.Getenv("CONFIG_PATH")))
}

// Load builds a Config. Precedence: environment > YAML file > defaults.
func Load(opts ...Option) (*Config, error) {
	options := loaderOptions{
		envFile: defaultEnvFile,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	if options.envFile != "" {
		if err := godotenv.Load(options.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", options.envFile, err)
		}
	}

	cfg := &Config{}
	if options.file != "" {
		if err := readFile(options.file, cfg); err != nil {
			return nil, err
		}
	}

	env := envReader{lookup: options.lookup}
	env.apply(cfg)
	applyDefaults(cfg)

	if err := validate(cfg, env.invalid); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

type envReader struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (r *envReader) apply(cfg *Config) {
	r.str("APP_NAME", &cfg.App.Name)
	r.str("APP_PORT", &cfg.App.Port)
	r.str("LOG_LEVEL", &cfg.Log.Level)
	r.str("LOG_FORMAT", &cfg.Log.Format)

	r.str("DB_HOST", &cfg.Postgres.Host)
	r.str("DB_PORT", &cfg.Postgres.Port)
	r.str("DB_USER", &cfg.Postgres.User)
	r.str("DB_PASSWORD", &cfg.Postgres.Password)
	r.str("DB_NAME", &cfg.Postgres.DBName)
	r.str("DB_SSLMODE", &cfg.Postgres.SSLMode)
	r.int32("DB_MAX_CONNS", &cfg.Postgres.MaxConns)
	r.int32("DB_MIN_CONNS", &cfg.Postgres.MinConns)
	r.duration("DB_MAX_CONN_LIFETIME", &cfg.Postgres.MaxConnLifetime)
	r.str("DB_MIGRATIONS_PATH", &cfg.Postgres.MigrationsPath)

	r.str("TRACKING_SECRET", &cfg.Identifier.TrackingSecret)

	r.str("GATEWAY_MERCHANT_ACCOUNT", &cfg.Gateway.MerchantAccount)
	r.str("GATEWAY_MERCHANT_DOMAIN", &cfg.Gateway.MerchantDomain)
	r.str("GATEWAY_SECRET_KEY", &cfg.Gateway.SecretKey)
	r.str("GATEWAY_CURRENCY", &cfg.Gateway.Currency)
	r.str("GATEWAY_LANGUAGE", &cfg.Gateway.Language)
	r.str("GATEWAY_PAY_URL", &cfg.Gateway.PayURL)
	r.str("GATEWAY_RETURN_URL", &cfg.Gateway.ReturnURL)
	r.str("GATEWAY_SERVICE_URL", &cfg.Gateway.ServiceURL)
	r.duration("GATEWAY_CALLBACK_MAX_AGE", &cfg.Gateway.CallbackMaxAge)

	r.str("NOTIFY_AMQP_URL", &cfg.Notification.AMQPURL)
	r.str("NOTIFY_EXCHANGE", &cfg.Notification.Exchange)
	r.duration("NOTIFY_TIMEOUT", &cfg.Notification.Timeout)

	r.boolean("ORDERS_STRICT_TRANSITIONS", &cfg.Orders.StrictTransitions)
	r.integer("ORDERS_CHECKOUT_ATTEMPTS", &cfg.Orders.CheckoutAttempts)

	if raw, ok := r.get("ADMIN_OPERATORS"); ok {
		operators, err := parseOperators(raw)
		if err != nil {
			r.invalid = append(r.invalid, "ADMIN_OPERATORS")
		} else {
			cfg.Admin.Operators = operators
		}
	}
}

func (r *envReader) get(key string) (string, bool) {
	value, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r *envReader) str(key string, dst *string) {
	if value, ok := r.get(key); ok {
		*dst = value
	}
}

func (r *envReader) integer(key string, dst *int) {
	value, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return
	}
	*dst = n
}

func (r *envReader) int32(key string, dst *int32) {
	value, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return
	}
	*dst = int32(n)
}

func (r *envReader) duration(key string, dst *time.Duration) {
	value, ok := r.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return
	}
	*dst = d
}

func (r *envReader) boolean(key string, dst *bool) {
	value, ok := r.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return
	}
	*dst = b
}

// parseOperators reads "name:hash,name:hash". bcrypt hashes never contain ':' or ','.
func parseOperators(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, hash, ok := strings.Cut(pair, ":")
		name, hash = strings.TrimSpace(name), strings.TrimSpace(hash)
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("malformed operator entry %q", pair)
		}
		out[name] = hash
	}
	return out, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = defaultServiceName
	}
	if cfg.App.Port == "" {
		cfg.App.Port = defaultPort
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaultLogFormat
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = defaultSSLMode
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = defaultMaxConns
	}
	if cfg.Postgres.MinConns == 0 {
		cfg.Postgres.MinConns = defaultMinConns
	}
	if cfg.Postgres.MaxConnLifetime == 0 {
		cfg.Postgres.MaxConnLifetime = defaultMaxConnLifetime
	}
	if cfg.Postgres.MigrationsPath == "" {
		cfg.Postgres.MigrationsPath = defaultMigrationsPath
	}
	if cfg.Gateway.Currency == "" {
		cfg.Gateway.Currency = defaultCurrency
	}
	if cfg.Gateway.Language == "" {
		cfg.Gateway.Language = defaultLanguage
	}
	if cfg.Gateway.PayURL == "" {
		cfg.Gateway.PayURL = defaultPayURL
	}
	if cfg.Gateway.CallbackMaxAge == 0 {
		cfg.Gateway.CallbackMaxAge = defaultCallbackMaxAge
	}
	if cfg.Notification.Exchange == "" {
		cfg.Notification.Exchange = defaultExchange
	}
	if cfg.Notification.Timeout == 0 {
		cfg.Notification.Timeout = defaultNotifyTimeout
	}
	if cfg.Orders.CheckoutAttempts <= 0 {
		cfg.Orders.CheckoutAttempts = defaultCheckoutAttempts
	}
}

func validate(cfg *Config, invalid []string) error {
	fields := append([]string(nil), invalid...)

	required := map[string]string{
		"DB_HOST":                  cfg.Postgres.Host,
		"DB_PORT":                  cfg.Postgres.Port,
		"DB_USER":                  cfg.Postgres.User,
		"DB_PASSWORD":              cfg.Postgres.Password,
		"DB_NAME":                  cfg.Postgres.DBName,
		"TRACKING_SECRET":          cfg.Identifier.TrackingSecret,
		"GATEWAY_MERCHANT_ACCOUNT": cfg.Gateway.MerchantAccount,
		"GATEWAY_MERCHANT_DOMAIN":  cfg.Gateway.MerchantDomain,
		"GATEWAY_SECRET_KEY":       cfg.Gateway.SecretKey,
	}
	for _, key := range sortedKeys(required) {
		if strings.TrimSpace(required[key]) == "" {
			fields = append(fields, key)
		}
	}

	if len(cfg.Gateway.Currency) != 3 {
		fields = append(fields, "GATEWAY_CURRENCY")
	}
	if cfg.Postgres.MinConns > cfg.Postgres.MaxConns {
		fields = append(fields, "DB_MIN_CONNS")
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		fields = append(fields, "LOG_FORMAT")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
