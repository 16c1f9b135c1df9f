// Package config reads process settings from the environment, after
// loading a .env file when one is present.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultAdminPin = "1234"

type Config struct {
	Port      string        `envconfig:"PORT" default:"8000"`
	SecretKey string        `envconfig:"SECRET_KEY"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"12h"`

	AdminPin     string `envconfig:"ADMIN_PIN"`
	AdminPinHash string `envconfig:"ADMIN_PIN_HASH"`

	StoreDriver   string `envconfig:"STORE_DRIVER" default:"memory"`
	StoreDSN      string `envconfig:"STORE_DSN"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"restaurant"`

	AMQPURL        string `envconfig:"AMQP_URL"`
	AMQPExchange   string `envconfig:"AMQP_EXCHANGE" default:"order_events"`
	ReceiptsBucket string `envconfig:"RECEIPTS_BUCKET"`
	ReceiptsPrefix string `envconfig:"RECEIPTS_PREFIX" default:"receipts"`
	AWSRegion      string `envconfig:"AWS_REGION"`
	EventQueueSize int    `envconfig:"EVENT_QUEUE_SIZE" default:"256"`

	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:9000"`
	SendQueueSize  int           `envconfig:"SEND_QUEUE_SIZE" default:"64"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ResyncInterval time.Duration `envconfig:"RESYNC_INTERVAL" default:"30s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

var drivers = map[string]bool{"memory": true, "sqlite": true, "pgx": true, "mysql": true, "mongo": true}

// Load reads envFile (if it exists) and then the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, errors.Wrapf(err, "load %s", envFile)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "stat %s", envFile)
		}
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "read environment")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.StoreDriver = strings.ToLower(c.StoreDriver)
	if !drivers[c.StoreDriver] {
		return errors.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.StoreDriver {
	case "sqlite", "pgx", "mysql":
		if c.StoreDSN == "" {
			return errors.Errorf("STORE_DSN is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	case "mongo":
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for STORE_DRIVER=mongo")
		}
	}
	if c.SendQueueSize < 1 {
		return errors.New("SEND_QUEUE_SIZE must be at least 1")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("WRITE_TIMEOUT must be positive")
	}
	if c.SecretKey == "" {
		log.Warn("SECRET_KEY is not set, admin tokens will not survive a restart")
		c.SecretKey = randomSecret()
	}
	if c.AdminPinHash == "" && c.AdminPin == "" {
		log.Warnf("neither ADMIN_PIN nor ADMIN_PIN_HASH is set, using the default pin %s", DefaultAdminPin)
		c.AdminPin = DefaultAdminPin
	}
	return nil
}

// Level parses LogLevel, falling back to info.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func randomSecret() string {
	return uuid.NewString() + uuid.NewString()
}
