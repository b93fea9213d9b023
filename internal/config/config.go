package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "EXHIBITS"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = DatabaseDriverSQLite
	defaultDatabasePath        = "exhibits.db"
	defaultLogLevel            = "info"
	defaultSessionIssuer       = "exhibits-auth"
	defaultCookieName          = "app_session"
	defaultStorageDriver       = StorageDriverMemory
	defaultStorageRegion       = "us-east-1"
	defaultStorageBucket       = "exhibits-media"
	defaultUploadMaxBytes      = 20 << 20
	defaultCompensationTimeout = 30 * time.Second
	defaultOrphansDriver       = OrphansDriverLog
	defaultOrphansExchange     = "exhibits.orphans"
	defaultOrphansRoutingKey   = "object.orphaned"
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"

	StorageDriverMinio  = "minio"
	StorageDriverS3     = "s3"
	StorageDriverMemory = "memory"

	OrphansDriverLog  = "log"
	OrphansDriverAMQP = "amqp"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	// AllowedOrigins receive credentialed CORS responses. Empty allows any origin without credentials.
	AllowedOrigins []string

	Database DatabaseConfig
	Session  SessionConfig
	Storage  StorageConfig
	Orphans  OrphansConfig
	Tracing  TracingConfig

	UploadMaxBytes      int64
	CompensationTimeout time.Duration
}

// DatabaseConfig selects the metadata store.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// SessionConfig configures validation of admin session tokens.
type SessionConfig struct {
	SigningSecret string
	Issuer        string
	CookieName    string
}

// StorageConfig selects the object store.
type StorageConfig struct {
	Driver        string
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string
}

// OrphansConfig selects where keys left behind by failed cleanups are reported.
type OrphansConfig struct {
	Driver     string
	AMQPURL    string
	Exchange   string
	RoutingKey string
}

// TracingConfig configures OTLP span export. An empty endpoint disables export.
type TracingConfig struct {
	OTLPEndpoint string
	Insecure     bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("storage.region", defaultStorageRegion)
	configViper.SetDefault("storage.bucket", defaultStorageBucket)
	configViper.SetDefault("storage.use_ssl", true)
	configViper.SetDefault("upload.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("saga.compensation_timeout", defaultCompensationTimeout)
	configViper.SetDefault("orphans.driver", defaultOrphansDriver)
	configViper.SetDefault("orphans.exchange", defaultOrphansExchange)
	configViper.SetDefault("orphans.routing_key", defaultOrphansRoutingKey)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		LogLevel:       configViper.GetString("log.level"),
		AllowedOrigins: originList(configViper.GetStringSlice("http.allowed_origins")),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		Session: SessionConfig{
			SigningSecret: configViper.GetString("session.signing_secret"),
			Issuer:        configViper.GetString("session.issuer"),
			CookieName:    configViper.GetString("session.cookie_name"),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
			Endpoint:      configViper.GetString("storage.endpoint"),
			Region:        configViper.GetString("storage.region"),
			Bucket:        configViper.GetString("storage.bucket"),
			AccessKey:     configViper.GetString("storage.access_key"),
			SecretKey:     configViper.GetString("storage.secret_key"),
			UseSSL:        configViper.GetBool("storage.use_ssl"),
			PublicBaseURL: configViper.GetString("storage.public_base_url"),
		},
		Orphans: OrphansConfig{
			Driver:     strings.ToLower(strings.TrimSpace(configViper.GetString("orphans.driver"))),
			AMQPURL:    configViper.GetString("orphans.amqp_url"),
			Exchange:   configViper.GetString("orphans.exchange"),
			RoutingKey: configViper.GetString("orphans.routing_key"),
		},
		Tracing: TracingConfig{
			OTLPEndpoint: configViper.GetString("tracing.otlp_endpoint"),
			Insecure:     configViper.GetBool("tracing.insecure"),
		},
		UploadMaxBytes:      configViper.GetInt64("upload.max_bytes"),
		CompensationTimeout: configViper.GetDuration("saga.compensation_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Session.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	switch c.Database.Driver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case StorageDriverMinio:
		if strings.TrimSpace(c.Storage.Endpoint) == "" {
			return fmt.Errorf("storage.endpoint is required for the minio driver")
		}
	case StorageDriverS3, StorageDriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Storage.Driver != StorageDriverMemory && strings.TrimSpace(c.Storage.Bucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	switch c.Orphans.Driver {
	case OrphansDriverLog:
	case OrphansDriverAMQP:
		if strings.TrimSpace(c.Orphans.AMQPURL) == "" {
			return fmt.Errorf("orphans.amqp_url is required for the amqp driver")
		}
	default:
		return fmt.Errorf("orphans.driver %q is not supported", c.Orphans.Driver)
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("http.allowed_origins cannot contain a wildcard")
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("http.allowed_origins entry %q must start with http:// or https://", origin)
		}
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	if c.CompensationTimeout <= 0 {
		return fmt.Errorf("saga.compensation_timeout must be positive")
	}
	return nil
}

// originList accepts both repeated values and a single comma separated value.
func originList(values []string) []string {
	var origins []string
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			origin = strings.TrimRight(strings.TrimSpace(origin), "/")
			if origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}
