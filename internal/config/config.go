package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Redis configuration
	Redis RedisConfig `env:",prefix=REDIS_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Claim flow configuration
	Claim ClaimConfig `env:",prefix=CLAIM_"`

	// Coupon issuer configuration
	Issuer IssuerConfig `env:",prefix=ISSUER_"`

	// Notification configuration
	Notify NotifyConfig `env:",prefix=NOTIFY_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=fomo"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
	Migrate  bool   `env:"MIGRATE,default=true"`
}

// RedisConfig holds Redis configuration. Redis backs the per-IP rate limiter
// and the scheduler lock; without it both fall back to in-process/PostgreSQL.
type RedisConfig struct {
	Enabled  bool   `env:"ENABLED,default=false"`
	Addr     string `env:"ADDR,default=localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB,default=0"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string   `env:"ENVIRONMENT,default=development"`
	LogLevel    string   `env:"LOG_LEVEL,default=info"`
	Debug       bool     `env:"DEBUG,default=false"`
	CodeSecret  string   `env:"CODE_SECRET,default=change-me-in-production"`
	RulesFile   string   `env:"RULES_FILE"`
	CORSOrigins []string `env:"CORS_ORIGINS,default=http://localhost:3000"`
	// AdminToken guards admin RPCs and trusted claims. Empty disables the check.
	AdminToken  string   `env:"ADMIN_TOKEN"`
}

// ClaimConfig tunes the reservation and verification flow
type ClaimConfig struct {
	VerificationTTL time.Duration `env:"VERIFICATION_TTL,default=1h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=1h"`
	TokenRetention  time.Duration `env:"TOKEN_RETENTION,default=168h"`
	RateLimit       int           `env:"RATE_LIMIT,default=5"` // 0 disables rate limiting
	RateWindow      time.Duration `env:"RATE_WINDOW,default=1h"`
	ReissueBatch    int           `env:"REISSUE_BATCH,default=100"`
}

// IssuerConfig selects and configures the coupon issuer
type IssuerConfig struct {
	Kind           string        `env:"KIND,default=log"` // log or woocommerce
	BaseURL        string        `env:"BASE_URL"`
	ConsumerKey    string        `env:"CONSUMER_KEY"`
	ConsumerSecret string        `env:"CONSUMER_SECRET"`
	Timeout        time.Duration `env:"TIMEOUT,default=10s"`
}

// NotifyConfig selects and configures the notifier
type NotifyConfig struct {
	Kind          string `env:"KIND,default=log"` // log or ses
	Region        string `env:"REGION,default=us-east-1"`
	AccessKey     string `env:"ACCESS_KEY"`
	SecretKey     string `env:"SECRET_KEY"`
	FromAddress   string `env:"FROM_ADDRESS,default=no-reply@example.com"`
	VerifyBaseURL string `env:"VERIFY_BASE_URL,default=http://localhost:8080/verify"`
	ShopURL       string `env:"SHOP_URL,default=http://localhost:3000"`
}

// Rules are the eligibility lists loaded from APP_RULES_FILE
type Rules struct {
	DisposableDomains []string `yaml:"disposable_domains"`
	BannedIPs         []string `yaml:"banned_ips"`
}

// DefaultDisposableDomains is used when no rules file overrides it
var DefaultDisposableDomains = []string{
	"mailinator.com",
	"guerrillamail.com",
	"10minutemail.com",
	"tempmail.com",
	"throwaway.email",
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// LoadRules reads the eligibility rules file. An empty path yields the defaults.
func LoadRules(path string) (*Rules, error) {
	rules := &Rules{DisposableDomains: DefaultDisposableDomains}
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var fromFile Rules
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if len(fromFile.DisposableDomains) > 0 {
		rules.DisposableDomains = fromFile.DisposableDomains
	}
	rules.BannedIPs = fromFile.BannedIPs
	return rules, nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// DefaultCodeSecret is the development value of APP_CODE_SECRET
const DefaultCodeSecret = "change-me-in-production"

// CheckSecrets rejects production settings that leave admin procedures open
// or make issued codes derivable from a public secret
func (c *AppConfig) CheckSecrets() error {
	if !c.IsProduction() {
		return nil
	}
	if c.AdminToken == "" {
		return errors.New("APP_ADMIN_TOKEN must be set in production")
	}
	if c.CodeSecret == "" || c.CodeSecret == DefaultCodeSecret {
		return errors.New("APP_CODE_SECRET must be changed in production")
	}
	return nil
}
