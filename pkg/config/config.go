package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "marketa"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "MARKETA_DB_DSN"
	EnvDBHost = "MARKETA_DB_HOST"
	EnvDBUser = "MARKETA_DB_USER"
	EnvDBName = "MARKETA_DB_NAME"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	Cron     CronConfig
	Shipping ShippingConfig
	Platform PlatformConfig
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
	Env          string `envconfig:"MARKETA_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETA_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MARKETA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETA_SERVICE_KIND" default:"cron-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETA_DB_DSN"`
	Driver string `envconfig:"MARKETA_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"MARKETA_DB_HOST"`
	Port     int    `envconfig:"MARKETA_DB_PORT" default:"5432"`
	User     string `envconfig:"MARKETA_DB_USER"`
	Password string `envconfig:"MARKETA_DB_PASSWORD"`
	Name     string `envconfig:"MARKETA_DB_NAME"`
	SSLMode  string `envconfig:"MARKETA_DB_SSLMODE" default:"disable"`

	// AutoMigrate runs goose up at startup; honored only in dev.
	AutoMigrate bool `envconfig:"MARKETA_DB_AUTO_MIGRATE" default:"false"`

	MaxOpenConns    int           `envconfig:"MARKETA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETA_REDIS_URL"`
	Address      string        `envconfig:"MARKETA_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETA_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type CronConfig struct {
	CompletionInterval time.Duration `envconfig:"MARKETA_CRON_COMPLETION_INTERVAL" default:"24h"`
	VoucherInterval    time.Duration `envconfig:"MARKETA_CRON_VOUCHER_INTERVAL" default:"1h"`
}

type ShippingConfig struct {
	// RateCentsPerKm multiplies the great-circle distance between the shop
	// and the delivery address.
	RateCentsPerKm int `envconfig:"MARKETA_SHIPPING_RATE_CENTS_PER_KM" default:"500"`
}

type PlatformConfig struct {
	// WalletUserID is the escrow account that intermediates buyer payments,
	// seller payouts and buyer refunds. Injected into the ledger at
	// construction rather than looked up per call.
	WalletUserID string `envconfig:"MARKETA_PLATFORM_WALLET_USER_ID" required:"true"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
