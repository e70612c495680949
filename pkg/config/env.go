package config

const EnvPrefix = "RETAIL"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "RETAIL_APP_ENV"
	EnvPort     = "RETAIL_APP_PORT"
	EnvLogLevel = "RETAIL_LOG_LEVEL"

	EnvDBDSN    = "RETAIL_DB_DSN"
	EnvDBDriver = "RETAIL_DB_DRIVER"
	EnvDBHost   = "RETAIL_DB_HOST"
	EnvDBUser   = "RETAIL_DB_USER"
	EnvDBName   = "RETAIL_DB_NAME"

	EnvRedisURL = "RETAIL_REDIS_URL"

	EnvUseSQLite   = "RETAIL_USE_SQLITE"
	EnvAutoMigrate = "RETAIL_AUTO_MIGRATE"

	EnvOrdersDraftTTL    = "RETAIL_ORDERS_DRAFT_TTL"
	EnvPaymentsTolerance = "RETAIL_PAYMENTS_OVERPAYMENT_TOLERANCE"

	EnvGCPProjectID = "RETAIL_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
