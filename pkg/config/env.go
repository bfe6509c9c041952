package config

// EnvPrefix is handed to envconfig; every field tag already carries the full
// variable name.
const EnvPrefix = "PACKFINDERZ"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Variable names referenced by validation errors and tests.
const (
	EnvAppEnv = "PACKFINDERZ_APP_ENV"
	EnvPort   = "PACKFINDERZ_APP_PORT"

	EnvDBDSN  = "PACKFINDERZ_DB_DSN"
	EnvDBHost = "PACKFINDERZ_DB_HOST"
	EnvDBUser = "PACKFINDERZ_DB_USER"
	EnvDBName = "PACKFINDERZ_DB_NAME"

	EnvRedisURL  = "PACKFINDERZ_REDIS_URL"
	EnvUseSQLite = "PACKFINDERZ_USE_SQLITE"

	EnvReservationHold            = "PACKFINDERZ_RESERVATION_HOLD_DURATION"
	EnvReservationConflictRetries = "PACKFINDERZ_RESERVATION_CONFLICT_RETRIES"
	EnvReservationSweepInterval   = "PACKFINDERZ_RESERVATION_SWEEP_INTERVAL"
	EnvReservationSweepBatch      = "PACKFINDERZ_RESERVATION_SWEEP_BATCH_SIZE"
	EnvReservationSweepLockTTL    = "PACKFINDERZ_RESERVATION_SWEEP_LOCK_TTL"
	EnvReservationSweepJobTimeout = "PACKFINDERZ_RESERVATION_SWEEP_JOB_TIMEOUT"

	EnvOutboxMaxAttempts = "PACKFINDERZ_OUTBOX_MAX_ATTEMPTS"
)
