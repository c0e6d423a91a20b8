package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Backend drivers.
const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
)

const defaultEnvFile = ".env.kiosk"

// Config holds the kiosk agent configuration
type Config struct {
	// Application settings
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Backend        BackendConfig
	Database       DatabaseConfig       `envPrefix:"DB_"`
	ControlChannel ControlChannelConfig `envPrefix:"CONTROL_"`
	Billing        BillingConfig        `envPrefix:"BILLING_"`
	Registration   RegistrationConfig
	Notification   NotificationConfig   `envPrefix:"UI_NOTIFY_"`
	Security       SecurityConfig
	Server         ServerConfig         `envPrefix:"SERVER_"`
	Settlement     SettlementConfig     `envPrefix:"SETTLEMENT_"`
}

// BackendConfig selects and configures the backend driver
type BackendConfig struct {
	Driver           string        `env:"BACKEND_DRIVER" envDefault:"supabase"`
	URL              string        `env:"SUPABASE_URL"`
	APIKey           string        `env:"SUPABASE_ANON_KEY"`
	Timeout          time.Duration `env:"BACKEND_TIMEOUT" envDefault:"15s"`
	RetryAttempts    int           `env:"BACKEND_RETRY_ATTEMPTS" envDefault:"2"`
	RetryDelay       time.Duration `env:"BACKEND_RETRY_DELAY" envDefault:"1s"`
	RateLimit        float64       `env:"BACKEND_RATE_LIMIT" envDefault:"20"`
	RateBurst        int           `env:"BACKEND_RATE_BURST" envDefault:"40"`
	ReadyAttempts    int           `env:"BACKEND_READY_ATTEMPTS" envDefault:"3"`
	ReadyDelay       time.Duration `env:"BACKEND_READY_DELAY" envDefault:"1s"`
	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"5m"`
}

// DatabaseConfig holds direct Postgres configuration
type DatabaseConfig struct {
	Host            string        `env:"HOST" envDefault:"localhost"`
	Port            int           `env:"PORT" envDefault:"5432"`
	User            string        `env:"USER"`
	Password        string        `env:"PASSWORD"`
	Name            string        `env:"NAME"`
	SSLMode         string        `env:"SSL_MODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE" envDefault:"false"`
}

// ControlChannelConfig holds dispatcher connection settings
type ControlChannelConfig struct {
	URL                  string        `env:"URL" envDefault:"ws://localhost:3001/ws"`
	Reconnection         bool          `env:"RECONNECTION" envDefault:"true"`
	ReconnectionAttempts int           `env:"RECONNECTION_ATTEMPTS" envDefault:"5"`
	ReconnectionDelay    time.Duration `env:"RECONNECTION_DELAY" envDefault:"1s"`
	ReconnectionDelayMax time.Duration `env:"RECONNECTION_DELAY_MAX" envDefault:"5s"`
	RetryDelay           time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
	ConnectTimeout       time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	ExitDelay            time.Duration `env:"EXIT_DELAY" envDefault:"1s"`
	CommandTimeout       time.Duration `env:"COMMAND_TIMEOUT" envDefault:"15s"`
}

// BillingConfig holds billing policy defaults
type BillingConfig struct {
	Policy            string          `env:"POLICY" envDefault:"tiered"`
	MinimumFee        decimal.Decimal `env:"MINIMUM_FEE" envDefault:"30"`
	HourlyRate        decimal.Decimal `env:"HOURLY_RATE" envDefault:"60"`
	Interval          int             `env:"INTERVAL" envDefault:"30"`
	CostMeterInterval time.Duration   `env:"COST_METER_INTERVAL" envDefault:"1m"`
}

// RegistrationConfig holds liveness settings
type RegistrationConfig struct {
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
}

// NotificationConfig holds UI notification client configuration
type NotificationConfig struct {
	URL            string        `env:"URL"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"5s"`
	RetryAttempts  int           `env:"RETRY_ATTEMPTS" envDefault:"2"`
	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"500ms"`
	MaxPayloadSize int64         `env:"MAX_PAYLOAD_SIZE" envDefault:"65536"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimitRPS    int           `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"100"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	EnableCORS      bool          `env:"ENABLE_CORS" envDefault:"true"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	TrustedProxies  []string      `env:"TRUSTED_PROXIES" envSeparator:","`
}

// ServerConfig holds local HTTP API settings
type ServerConfig struct {
	Addr           string        `env:"ADDR" envDefault:"127.0.0.1:8787"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	MaxHeaderBytes int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	EnableMetrics  bool          `env:"ENABLE_METRICS" envDefault:"true"`
}

// SettlementConfig holds the settlement journal location
type SettlementConfig struct {
	JournalPath string `env:"JOURNAL_PATH" envDefault:"kiosk-settlement.db"`
}

// LoadConfig loads and validates the configuration from the environment,
// after applying an optional dotenv file.
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("KIOSK_ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	config := &Config{}
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(decimal.Decimal{}): func(v string) (interface{}, error) {
				return decimal.NewFromString(v)
			},
		},
	}
	if err := env.ParseWithOptions(config, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// validateConfig performs basic validation on the configuration
func validateConfig(config *Config) error {
	var errors []string

	switch config.Backend.Driver {
	case DriverSupabase:
		if config.Backend.URL == "" {
			errors = append(errors, "SUPABASE_URL is required for the supabase driver")
		}
		if config.Backend.APIKey == "" {
			errors = append(errors, "SUPABASE_ANON_KEY is required for the supabase driver")
		}
	case DriverPostgres:
		if config.Database.User == "" {
			errors = append(errors, "database user is required")
		}
		if config.Database.Name == "" {
			errors = append(errors, "database name is required")
		}
		if config.Database.Port < 1 || config.Database.Port > 65535 {
			errors = append(errors, "database port must be between 1 and 65535")
		}
	default:
		errors = append(errors, fmt.Sprintf("unknown backend driver %q", config.Backend.Driver))
	}

	if config.ControlChannel.URL == "" {
		errors = append(errors, "control channel URL is required")
	}
	if config.ControlChannel.ReconnectionAttempts < 0 {
		errors = append(errors, "reconnection attempts must not be negative")
	}
	if config.ControlChannel.ReconnectionDelay > config.ControlChannel.ReconnectionDelayMax {
		errors = append(errors, "reconnection delay must not exceed reconnection delay max")
	}
	if config.ControlChannel.ExitDelay > time.Second {
		errors = append(errors, "exit delay must be at most 1s")
	}

	if config.Billing.Policy != "tiered" && config.Billing.Policy != "prorated" {
		errors = append(errors, fmt.Sprintf("unknown billing policy %q", config.Billing.Policy))
	}
	if !config.Billing.MinimumFee.IsPositive() {
		errors = append(errors, "minimum fee must be positive")
	}
	if !config.Billing.HourlyRate.IsPositive() {
		errors = append(errors, "hourly rate must be positive")
	}
	if config.Billing.Interval < 1 {
		errors = append(errors, "billing interval must be at least 1 minute")
	}

	if config.Registration.HeartbeatInterval < time.Second {
		errors = append(errors, "heartbeat interval must be at least 1s")
	}

	if config.Settlement.JournalPath == "" {
		errors = append(errors, "settlement journal path is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.Name, c.Database.SSLMode)
}
