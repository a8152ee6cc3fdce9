package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Dispatch     DispatchConfig
	Sendgrid     SendgridConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VENUECAST_APP_ENV" required:"true"`
	Port         string `envconfig:"VENUECAST_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"VENUECAST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VENUECAST_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"VENUECAST_DB_DSN"`
	Driver string `envconfig:"VENUECAST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VENUECAST_DB_HOST"`
	LegacyPort     int    `envconfig:"VENUECAST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VENUECAST_DB_USER"`
	LegacyPassword string `envconfig:"VENUECAST_DB_PASSWORD"`
	LegacyName     string `envconfig:"VENUECAST_DB_NAME"`
	LegacySSLMode  string `envconfig:"VENUECAST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VENUECAST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VENUECAST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VENUECAST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VENUECAST_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VENUECAST_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VENUECAST_REDIS_ADDR"`
	Password     string        `envconfig:"VENUECAST_REDIS_PASSWORD"`
	DB           int           `envconfig:"VENUECAST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VENUECAST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VENUECAST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VENUECAST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VENUECAST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VENUECAST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"VENUECAST_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"VENUECAST_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"VENUECAST_JWT_EXPIRATION_MINUTES" default:"60"`
}

// DispatchConfig tunes the broadcast send loop. Sends are sequential within a
// batch; the interval paces calls against the mail provider, the timeout
// bounds a single transport attempt, and the claim TTL decides when the
// reaper treats an in-flight row as abandoned.
type DispatchConfig struct {
	SendInterval time.Duration `envconfig:"VENUECAST_DISPATCH_SEND_INTERVAL" default:"200ms"`
	SendTimeout  time.Duration `envconfig:"VENUECAST_DISPATCH_SEND_TIMEOUT" default:"30s"`
	ClaimTTL     time.Duration `envconfig:"VENUECAST_DISPATCH_CLAIM_TTL" default:"5m"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"VENUECAST_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"VENUECAST_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"VENUECAST_SENDGRID_FROM_NAME" default:"VenueCast"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"VENUECAST_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"VENUECAST_CRON_LOCK_TTL" default:"5m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VENUECAST_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
