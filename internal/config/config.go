package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverFabric   = "fabric"
	DriverPostgres = "postgres"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	LogFile        string        `mapstructure:"LOG_FILE"`
	DBDriver       string        `mapstructure:"DB_DRIVER"`
	FabricServer   string        `mapstructure:"FABRIC_SQL_SERVER"`
	FabricDatabase string        `mapstructure:"FABRIC_SQL_DATABASE"`
	ClientID       string        `mapstructure:"ENTRA_CLIENT_ID"`
	ClientSecret   string        `mapstructure:"ENTRA_CLIENT_SECRET"`
	TenantID       string        `mapstructure:"ENTRA_TENANT_ID"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	MappingTable   string        `mapstructure:"MAPPING_TABLE"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	TrustedProxies []string      `mapstructure:"TRUSTED_PROXIES"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FILE",
	"DB_DRIVER", "FABRIC_SQL_SERVER", "FABRIC_SQL_DATABASE",
	"ENTRA_CLIENT_ID", "ENTRA_CLIENT_SECRET", "ENTRA_TENANT_ID",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MAPPING_TABLE",
	"CORS_ORIGINS", "TRUSTED_PROXIES", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from an optional .env file and the process
// environment, then validates it. It is called once at startup.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", DriverFabric)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.TrustedProxies = splitList(cfg.TrustedProxies)

	if cfg.MappingTable == "" {
		cfg.MappingTable = cfg.defaultMappingTable()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens comma separated env values into trimmed, non-empty
// entries.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) defaultMappingTable() string {
	if c.DBDriver == DriverPostgres {
		return "snomed_sample"
	}
	return "FHIR_Gold_Analytics.dbo.snomed_sample"
}

// Validate checks that every value required by the selected driver is
// present. A missing value is a startup failure.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverFabric:
		var missing []string
		for _, kv := range []struct{ key, val string }{
			{"FABRIC_SQL_SERVER", c.FabricServer},
			{"FABRIC_SQL_DATABASE", c.FabricDatabase},
			{"ENTRA_CLIENT_ID", c.ClientID},
			{"ENTRA_CLIENT_SECRET", c.ClientSecret},
		} {
			if kv.val == "" {
				missing = append(missing, kv.key)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%s required when DB_DRIVER is %q", strings.Join(missing, ", "), DriverFabric)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverFabric, DriverPostgres, c.DBDriver)
	}

	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns)
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not a CIDR range", cidr)
		}
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
