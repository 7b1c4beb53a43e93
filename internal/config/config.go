package config

import (
	"strings"
	"time"
	_ "time/tzdata" // import.timezone must resolve on hosts without zoneinfo

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Import  ImportConfig  `yaml:"import" mapstructure:"import"`
	Costing CostingConfig `yaml:"costing" mapstructure:"costing"`
	Presets PresetsConfig `yaml:"presets" mapstructure:"presets"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	ImportRate     float64  `yaml:"import_rate" mapstructure:"import_rate"`
	ImportBurst    int      `yaml:"import_burst" mapstructure:"import_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownSecs   int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
}

// ImportConfig configures catalog ingestion.
type ImportConfig struct {
	Timezone          string `yaml:"timezone" mapstructure:"timezone"`
	RetryAttempts     int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int    `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RefreshCosts      bool   `yaml:"refresh_costs" mapstructure:"refresh_costs"`
}

// Location resolves Timezone, falling back to UTC when it is empty.
func (c ImportConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Timezone)
	}
	return loc, nil
}

// CostingConfig configures recipe costing.
type CostingConfig struct {
	FoodCostTargetPct float64 `yaml:"food_cost_target_pct" mapstructure:"food_cost_target_pct"`
	MaxRecipeDepth    int     `yaml:"max_recipe_depth" mapstructure:"max_recipe_depth"`
}

// PresetsConfig points at vendor preset files loaded on top of the builtin
// presets.
type PresetsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KITCHEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "kitchen.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.import_rate", 2.0)
	v.SetDefault("server.import_burst", 4)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_secs", 10)
	v.SetDefault("import.timezone", "America/New_York")
	v.SetDefault("import.retry_attempts", 4)
	v.SetDefault("import.retry_backoff_ms", 50)
	v.SetDefault("import.retry_max_backoff_ms", 2000)
	v.SetDefault("import.refresh_costs", true)
	v.SetDefault("costing.food_cost_target_pct", 35.0)
	v.SetDefault("costing.max_recipe_depth", 32)
	v.SetDefault("presets.dir", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, "store.driver must be one of sqlite, postgres, memory")
	}
	if c.Store.Driver != "memory" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Costing.FoodCostTargetPct <= 0 || c.Costing.FoodCostTargetPct > 100 {
		errs = append(errs, "costing.food_cost_target_pct must be in (0, 100]")
	}
	if c.Costing.MaxRecipeDepth < 1 {
		errs = append(errs, "costing.max_recipe_depth must be >= 1")
	}
	if _, err := c.Import.Location(); err != nil {
		errs = append(errs, "import.timezone is not a known time zone")
	}

	switch mode {
	case "cli":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.ImportRate <= 0 || c.Server.ImportBurst < 1 {
			errs = append(errs, "server.import_rate and server.import_burst must be positive")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
