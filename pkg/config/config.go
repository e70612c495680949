package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	Payments     PaymentsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"RETAIL_APP_ENV" required:"true"`
	Port         string   `envconfig:"RETAIL_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"RETAIL_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"RETAIL_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"RETAIL_CORS_ORIGINS"`
	// MetricsAddr is where background workers expose /metrics. Empty
	// disables the listener; the API serves /metrics on its own router.
	MetricsAddr string `envconfig:"RETAIL_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RETAIL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RETAIL_DB_DSN"`
	Driver string `envconfig:"RETAIL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RETAIL_DB_HOST"`
	LegacyPort     int    `envconfig:"RETAIL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RETAIL_DB_USER"`
	LegacyPassword string `envconfig:"RETAIL_DB_PASSWORD"`
	LegacyName     string `envconfig:"RETAIL_DB_NAME"`
	LegacySSLMode  string `envconfig:"RETAIL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RETAIL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RETAIL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RETAIL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RETAIL_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQuery  time.Duration `envconfig:"RETAIL_DB_SLOW_QUERY" default:"200ms"`
	TxAttempts int           `envconfig:"RETAIL_DB_TX_ATTEMPTS" default:"3"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite one.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"RETAIL_REDIS_URL"`
	Address      string        `envconfig:"RETAIL_REDIS_ADDR"`
	Password     string        `envconfig:"RETAIL_REDIS_PASSWORD"`
	DB           int           `envconfig:"RETAIL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RETAIL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RETAIL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RETAIL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RETAIL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RETAIL_REDIS_WRITE_TIMEOUT" default:"5s"`
	Namespace    string        `envconfig:"RETAIL_REDIS_NAMESPACE" default:"rb"`
}

// Enabled reports whether any Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RETAIL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RETAIL_AUTO_MIGRATE" default:"false"`
	CouponLocks bool `envconfig:"RETAIL_FEATURE_COUPON_LOCKS" default:"true"`
}

type OrdersConfig struct {
	// DraftTTL is how long an untouched DRAFT keeps its reservations.
	DraftTTL time.Duration `envconfig:"RETAIL_ORDERS_DRAFT_TTL" default:"24h"`
	// Timezone used to stamp the date segment of order numbers.
	Timezone string `envconfig:"RETAIL_ORDERS_TIMEZONE" default:"UTC"`
}

// Location resolves Timezone, falling back to UTC.
func (o OrdersConfig) Location() *time.Location {
	name := strings.TrimSpace(o.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type PaymentsConfig struct {
	OverpaymentTolerance string `envconfig:"RETAIL_PAYMENTS_OVERPAYMENT_TOLERANCE" default:"0"`
}

// Tolerance parses OverpaymentTolerance. Load has already validated it.
func (p PaymentsConfig) Tolerance() decimal.Decimal {
	tol, err := decimal.NewFromString(strings.TrimSpace(p.OverpaymentTolerance))
	if err != nil {
		return decimal.Zero
	}
	return tol
}

func (p PaymentsConfig) validate() error {
	raw := strings.TrimSpace(p.OverpaymentTolerance)
	if raw == "" {
		return nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%s must be a decimal: %w", EnvPaymentsTolerance, err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvPaymentsTolerance)
	}
	return nil
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"RETAIL_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RETAIL_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RETAIL_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RETAIL_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"RETAIL_PUBSUB_ORDERS_TOPIC" default:"rb-order-events"`
	InventoryTopic        string `envconfig:"RETAIL_PUBSUB_INVENTORY_TOPIC" default:"rb-inventory-events"`
	AnalyticsSubscription string `envconfig:"RETAIL_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"rb-order-events-analytics"`
	MaxOutstanding        int    `envconfig:"RETAIL_PUBSUB_MAX_OUTSTANDING" default:"100"`
}

type BigQueryConfig struct {
	Dataset    string `envconfig:"RETAIL_BIGQUERY_DATASET" default:"retail_backoffice"`
	SalesTable string `envconfig:"RETAIL_BIGQUERY_SALES_TABLE" default:"sales_facts"`

	// CreateTables lets the analytics worker create a missing sales table.
	CreateTables bool `envconfig:"RETAIL_BIGQUERY_CREATE_TABLES" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"RETAIL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"RETAIL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"RETAIL_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"RETAIL_OUTBOX_RETENTION" default:"168h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"RETAIL_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"RETAIL_CRON_LOCK_TTL" default:"5m"`
}

// RateLimitConfig throttles mutating API calls. A zero limit disables that
// dimension.
type RateLimitConfig struct {
	Window    time.Duration `envconfig:"RETAIL_RATE_LIMIT_WINDOW" default:"1m"`
	ShopLimit int           `envconfig:"RETAIL_RATE_LIMIT_SHOP" default:"600"`
	IPLimit   int           `envconfig:"RETAIL_RATE_LIMIT_IP" default:"300"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:retail?mode=memory&cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
