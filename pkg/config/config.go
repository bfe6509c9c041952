package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// Config is shared by the api, outbox-publisher and cron-worker binaries.
// Each binary reads only the sections it needs.
type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Reservation  ReservationConfig
	Cache        CacheConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	RabbitMQ     RabbitMQConfig
	Outbox       OutboxConfig
}

// Load reads the environment and reports every invalid setting at once.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.resolveDSN(cfg.FeatureFlags.UseSQLite),
		cfg.Reservation.validate(),
		cfg.Outbox.validate(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PACKFINDERZ_APP_ENV" required:"true"`
	Port         string `envconfig:"PACKFINDERZ_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PACKFINDERZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PACKFINDERZ_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"PACKFINDERZ_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool  { return strings.EqualFold(a.Env, AppEnvDev) }
func (a AppConfig) IsProd() bool { return strings.EqualFold(a.Env, AppEnvProd) }

type ServiceConfig struct {
	Kind string `envconfig:"PACKFINDERZ_SERVICE_KIND" default:"api"`
}

// DBConfig accepts a full DSN or the discrete PACKFINDERZ_DB_* parts.
type DBConfig struct {
	DSN string `envconfig:"PACKFINDERZ_DB_DSN"`

	Host     string `envconfig:"PACKFINDERZ_DB_HOST"`
	Port     int    `envconfig:"PACKFINDERZ_DB_PORT" default:"5432"`
	User     string `envconfig:"PACKFINDERZ_DB_USER"`
	Password string `envconfig:"PACKFINDERZ_DB_PASSWORD"`
	Name     string `envconfig:"PACKFINDERZ_DB_NAME"`
	SSLMode  string `envconfig:"PACKFINDERZ_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"PACKFINDERZ_SQLITE_PATH" default:"file:packfinderz_stock.db?cache=shared"`

	MaxOpenConns    int           `envconfig:"PACKFINDERZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PACKFINDERZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// LockTimeout bounds how long a transaction waits on a row lock before
	// postgres aborts it with 55P03.
	LockTimeout time.Duration `envconfig:"PACKFINDERZ_DB_LOCK_TIMEOUT" default:"5s"`
	SlowQuery   time.Duration `envconfig:"PACKFINDERZ_DB_SLOW_QUERY" default:"500ms"`
}

func (db *DBConfig) resolveDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}
	var missing []string
	for env, value := range map[string]string{EnvDBHost: db.Host, EnvDBUser: db.User, EnvDBName: db.Name} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	user := url.User(db.User)
	if db.Password != "" {
		user = url.UserPassword(db.User, db.Password)
	}
	u := url.URL{Scheme: "postgres", User: user, Host: db.Host + ":" + strconv.Itoa(db.Port), Path: db.Name}
	if db.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"PACKFINDERZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PACKFINDERZ_REDIS_ADDR"`
	Password     string        `envconfig:"PACKFINDERZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"PACKFINDERZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PACKFINDERZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PACKFINDERZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PACKFINDERZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite         bool `envconfig:"PACKFINDERZ_USE_SQLITE" default:"false"`
	AutoMigrate       bool `envconfig:"PACKFINDERZ_AUTO_MIGRATE" default:"false"`
	AvailabilityCache bool `envconfig:"PACKFINDERZ_FEATURE_AVAILABILITY_CACHE" default:"true"`
}

// ReservationConfig tunes the hold lifecycle and the expiry sweeper.
type ReservationConfig struct {
	HoldDuration      time.Duration `envconfig:"PACKFINDERZ_RESERVATION_HOLD_DURATION" default:"15m"`
	ConflictRetries   int           `envconfig:"PACKFINDERZ_RESERVATION_CONFLICT_RETRIES" default:"3"`
	SweepInterval     time.Duration `envconfig:"PACKFINDERZ_RESERVATION_SWEEP_INTERVAL" default:"1m"`
	SweepInitialDelay time.Duration `envconfig:"PACKFINDERZ_RESERVATION_SWEEP_INITIAL_DELAY" default:"10s"`
	SweepBatchSize    int           `envconfig:"PACKFINDERZ_RESERVATION_SWEEP_BATCH_SIZE" default:"100"`
	SweepMaxBatches   int           `envconfig:"PACKFINDERZ_RESERVATION_SWEEP_MAX_BATCHES" default:"50"`
	SweepLockTTL      time.Duration `envconfig:"PACKFINDERZ_RESERVATION_SWEEP_LOCK_TTL" default:"2m"`
	SweepJobTimeout   time.Duration `envconfig:"PACKFINDERZ_RESERVATION_SWEEP_JOB_TIMEOUT" default:"90s"`
}

func (r ReservationConfig) validate() error {
	var err error
	if r.HoldDuration <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvReservationHold))
	}
	if r.SweepInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvReservationSweepInterval))
	}
	if r.SweepBatchSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvReservationSweepBatch))
	}
	if r.ConflictRetries < 0 {
		err = multierr.Append(err, fmt.Errorf("%s must not be negative", EnvReservationConflictRetries))
	}
	// a job that outlives the lock lets a second worker start the same sweep
	if r.SweepJobTimeout > 0 && r.SweepLockTTL > 0 && r.SweepJobTimeout >= r.SweepLockTTL {
		err = multierr.Append(err, fmt.Errorf("%s must be shorter than %s", EnvReservationSweepJobTimeout, EnvReservationSweepLockTTL))
	}
	return err
}

type CacheConfig struct {
	AvailabilityTTL time.Duration `envconfig:"PACKFINDERZ_CACHE_AVAILABILITY_TTL" default:"30s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PACKFINDERZ_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	StockTopic string `envconfig:"PACKFINDERZ_PUBSUB_STOCK_TOPIC" default:"pf-stock-events"`
}

type RabbitMQConfig struct {
	URL          string `envconfig:"PACKFINDERZ_RABBITMQ_URL"`
	Exchange     string `envconfig:"PACKFINDERZ_RABBITMQ_EXCHANGE" default:"pf.stock"`
	ExchangeKind string `envconfig:"PACKFINDERZ_RABBITMQ_EXCHANGE_KIND" default:"topic"`
}

type OutboxConfig struct {
	Broker           string `envconfig:"PACKFINDERZ_OUTBOX_BROKER" default:"pubsub"`
	BatchSize        int    `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS   int    `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts      int    `envconfig:"PACKFINDERZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays    int    `envconfig:"PACKFINDERZ_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays int    `envconfig:"PACKFINDERZ_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
	PurgeBatchSize   int    `envconfig:"PACKFINDERZ_OUTBOX_PURGE_BATCH_SIZE" default:"500"`
}

var errOutboxMaxAttempts = errors.New(EnvOutboxMaxAttempts + " must be at least 1")

func (o OutboxConfig) validate() error {
	var err error
	if o.MaxAttempts < 1 {
		err = multierr.Append(err, errOutboxMaxAttempts)
	}
	if o.BatchSize < 0 || o.PollIntervalMS < 0 {
		err = multierr.Append(err, fmt.Errorf("outbox batch size and poll interval must not be negative"))
	}
	return err
}
