package config

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset" mapstructure:"dataset"`
	Features FeaturesConfig `yaml:"features" mapstructure:"features"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatasetConfig describes the layout of the wide input table.
type DatasetConfig struct {
	IDColumn           string `yaml:"id_column" mapstructure:"id_column"`
	RegistrationColumn string `yaml:"registration_column" mapstructure:"registration_column"`
	// ColumnPattern must capture the year and the field name, in that order.
	ColumnPattern string `yaml:"column_pattern" mapstructure:"column_pattern"`
	Delimiter     string `yaml:"delimiter" mapstructure:"delimiter"`
	Charset       string `yaml:"charset" mapstructure:"charset"`
	Sheet         string `yaml:"sheet" mapstructure:"sheet"`
}

// ProfitTerm is one signed component of the profit formula.
type ProfitTerm struct {
	Field string  `yaml:"field" mapstructure:"field"`
	Sign  float64 `yaml:"sign" mapstructure:"sign"`
}

// FeaturesConfig configures the derived metrics and evaluation.
type FeaturesConfig struct {
	ProfitName  string       `yaml:"profit_name" mapstructure:"profit_name"`
	AgeName     string       `yaml:"age_name" mapstructure:"age_name"`
	AgePolicy   string       `yaml:"age_policy" mapstructure:"age_policy"`
	ProfitTerms []ProfitTerm `yaml:"profit_terms" mapstructure:"profit_terms"`
	Concurrency int          `yaml:"concurrency" mapstructure:"concurrency"`
}

// OutputConfig configures where compute writes its result.
type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int     `yaml:"port" mapstructure:"port"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst    int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// StoreConfig configures the optional database source and sink.
type StoreConfig struct {
	Driver       string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	DatasetTable string `yaml:"dataset_table" mapstructure:"dataset_table"`
	ResultTable  string `yaml:"result_table" mapstructure:"result_table"`
}

// FetchConfig configures remote downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	TempDir     string  `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// Timeout returns TimeoutSecs as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment, in
// increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FEATURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("dataset.id_column", "_id")
	v.SetDefault("dataset.registration_column", "registration_date")
	v.SetDefault("dataset.column_pattern", `^(\d{4}),\s*(.+)$`)
	v.SetDefault("dataset.delimiter", ",")
	v.SetDefault("dataset.charset", "")
	v.SetDefault("dataset.sheet", "")
	v.SetDefault("features.profit_name", "profit")
	v.SetDefault("features.age_name", "company age")
	v.SetDefault("features.age_policy", "strict")
	v.SetDefault("features.concurrency", 4)
	v.SetDefault("output.format", "")
	v.SetDefault("output.path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.dataset_table", "companies")
	v.SetDefault("store.result_table", "features")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "feature-cli/1.0")
	v.SetDefault("fetch.rate_per_host", 5.0)
	v.SetDefault("fetch.temp_dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs. mode is one of "compute",
// "serve" or "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	if strings.TrimSpace(c.Dataset.IDColumn) == "" {
		errs = append(errs, "dataset.id_column is required")
	}
	if re, err := regexp.Compile(c.Dataset.ColumnPattern); err != nil {
		errs = append(errs, "dataset.column_pattern: "+err.Error())
	} else if re.NumSubexp() < 2 {
		errs = append(errs, "dataset.column_pattern needs 2 capture groups")
	}
	if len([]rune(c.Dataset.Delimiter)) > 1 {
		errs = append(errs, "dataset.delimiter must be a single character")
	}
	switch c.Features.AgePolicy {
	case "", "strict", "absolute":
	default:
		errs = append(errs, "features.age_policy must be strict or absolute")
	}
	if c.Features.Concurrency < 1 || c.Features.Concurrency > 256 {
		errs = append(errs, "features.concurrency must be between 1 and 256")
	}
	for i, t := range c.Features.ProfitTerms {
		if strings.TrimSpace(t.Field) == "" {
			errs = append(errs, "features.profit_terms: term "+strconv.Itoa(i)+" has no field")
		}
	}

	switch mode {
	case "compute":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Server.MaxBodyBytes <= 0 {
			errs = append(errs, "server.max_body_bytes must be positive")
		}
	case "store":
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
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
