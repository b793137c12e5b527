/*
Package config resolves the server configuration.

PRECEDENCE (highest first):
  1. Command-line flags (--port, --db, --driver, --seed)
  2. Environment variables, prefix INVOICING_ ("server.port" -> INVOICING_SERVER_PORT)
  3. Config file (--config, any format viper reads)
  4. Defaults below

A .env file in the working directory is loaded into the environment by
cmd/server before Load runs, so it sits at level 2.

SEE ALSO:
  - logger.go: zap logger built from LogConfig
  - cmd/server/main.go: Flag definitions
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/warp/invoicing-engine/invoicing"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "INVOICING"

// Config is the resolved server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Invoicing InvoicingConfig `mapstructure:"invoicing"`
	Log       LogConfig       `mapstructure:"log"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the store. DSN is a file path for sqlite and a
// connection URL for postgres.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Migrations bool   `mapstructure:"migrations"`
}

// InvoicingConfig controls serial formats.
type InvoicingConfig struct {
	SerialPrefix      string `mapstructure:"serial_prefix"`
	SerialWidth       int    `mapstructure:"serial_width"`
	ProductCodePrefix string `mapstructure:"product_code_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SeedConfig struct {
	Demo bool `mapstructure:"demo"`
}

// Drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"port":   "server.port",
	"db":     "database.dsn",
	"driver": "database.driver",
	"seed":   "seed.demo",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "invoicing.db")
	v.SetDefault("database.migrations", true)

	v.SetDefault("invoicing.serial_prefix", invoicing.DefaultInvoiceSerial.Prefix)
	v.SetDefault("invoicing.serial_width", invoicing.DefaultInvoiceSerial.Width)
	v.SetDefault("invoicing.product_code_prefix", invoicing.DefaultProductCode.Prefix)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("seed.demo", false)
}

// Load resolves the configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want %s or %s", c.Database.Driver, DriverSQLite, DriverPostgres))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Invoicing.SerialWidth < 1 {
		errs = append(errs, fmt.Errorf("invoicing.serial_width %d must be positive", c.Invoicing.SerialWidth))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// InvoiceSerial is the configured invoice number format.
func (c *Config) InvoiceSerial() invoicing.SerialFormat {
	return invoicing.SerialFormat{Prefix: c.Invoicing.SerialPrefix, Width: c.Invoicing.SerialWidth}
}

// ProductCode is the configured product code format.
func (c *Config) ProductCode() invoicing.SerialFormat {
	return invoicing.SerialFormat{Prefix: c.Invoicing.ProductCodePrefix, Width: invoicing.DefaultProductCode.Width}
}
