package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Engine    string          `yaml:"engine" mapstructure:"engine"`
	Postgres  PostgresConfig  `yaml:"postgres" mapstructure:"postgres"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Generate  GenerateConfig  `yaml:"generate" mapstructure:"generate"`
	Benchmark BenchmarkConfig `yaml:"benchmark" mapstructure:"benchmark"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// PostgresConfig configures the benchmark target.
type PostgresConfig struct {
	DatabaseURL          string `yaml:"database_url" mapstructure:"database_url"`
	ConnectTimeoutSecs   int    `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	ConnectAttempts      int    `yaml:"connect_attempts" mapstructure:"connect_attempts"`
	StatementTimeoutSecs int    `yaml:"statement_timeout_secs" mapstructure:"statement_timeout_secs"`
}

// StoreConfig configures where benchmark reports are kept.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GenerateConfig configures query generation.
type GenerateConfig struct {
	ConfigDir      string `yaml:"config_dir" mapstructure:"config_dir"`
	OutputDir      string `yaml:"output_dir" mapstructure:"output_dir"`
	ApproxQuantile bool   `yaml:"approx_quantile" mapstructure:"approx_quantile"`
	TDigest        bool   `yaml:"tdigest" mapstructure:"tdigest"`
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// BenchmarkConfig configures a benchmark run.
type BenchmarkConfig struct {
	QueriesDir       string  `yaml:"queries_dir" mapstructure:"queries_dir"`
	SchemasDir       string  `yaml:"schemas_dir" mapstructure:"schemas_dir"`
	Approach         string  `yaml:"approach" mapstructure:"approach"`
	Warmup           int     `yaml:"warmup" mapstructure:"warmup"`
	Runs             int     `yaml:"runs" mapstructure:"runs"`
	Validate         bool    `yaml:"validate" mapstructure:"validate"`
	Output           string  `yaml:"output" mapstructure:"output"`
	QueryTimeoutSecs int     `yaml:"query_timeout_secs" mapstructure:"query_timeout_secs"`
	PacePerSecond    float64 `yaml:"pace_per_second" mapstructure:"pace_per_second"`
	BuildPipeline    bool    `yaml:"build_pipeline" mapstructure:"build_pipeline"`
}

// ServerConfig configures the report browsing API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EXPBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can override it.
	v.SetDefault("engine", "postgres")
	v.SetDefault("postgres.database_url", "")
	v.SetDefault("postgres.connect_timeout_secs", 10)
	v.SetDefault("postgres.connect_attempts", 5)
	v.SetDefault("postgres.statement_timeout_secs", 0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "exp-bench.db")
	v.SetDefault("generate.config_dir", "config")
	v.SetDefault("generate.output_dir", "/tmp/experimentation-benchmark/queries")
	v.SetDefault("generate.approx_quantile", false)
	v.SetDefault("generate.tdigest", false)
	v.SetDefault("generate.concurrency", 4)
	v.SetDefault("benchmark.queries_dir", "/tmp/experimentation-benchmark/queries")
	v.SetDefault("benchmark.schemas_dir", "schemas")
	v.SetDefault("benchmark.approach", "both")
	v.SetDefault("benchmark.warmup", 1)
	v.SetDefault("benchmark.runs", 3)
	v.SetDefault("benchmark.validate", false)
	v.SetDefault("benchmark.query_timeout_secs", 0)
	v.SetDefault("benchmark.pace_per_second", 0.0)
	v.SetDefault("benchmark.output", "/tmp/experimentation-benchmark/results/benchmark_results.json")
	v.SetDefault("benchmark.build_pipeline", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs before it starts work.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "generate":
		if c.Generate.ConfigDir == "" {
			errs = append(errs, "generate.config_dir is required")
		}
		if c.Generate.OutputDir == "" {
			errs = append(errs, "generate.output_dir is required")
		}
		if c.Generate.ApproxQuantile && c.Generate.TDigest {
			errs = append(errs, "generate.approx_quantile and generate.tdigest are mutually exclusive")
		}
	case "benchmark", "load":
		if c.Engine != "postgres" {
			errs = append(errs, fmt.Sprintf("engine %q is not supported", c.Engine))
		}
		if c.Postgres.DatabaseURL == "" {
			errs = append(errs, "postgres.database_url is required")
		}
		if mode == "benchmark" {
			switch c.Benchmark.Approach {
			case "ondemand", "preagg", "both":
			default:
				errs = append(errs, "benchmark.approach must be ondemand, preagg or both")
			}
			if c.Benchmark.Runs < 1 {
				errs = append(errs, "benchmark.runs must be >= 1")
			}
			if c.Benchmark.Warmup < 0 {
				errs = append(errs, "benchmark.warmup must be >= 0")
			}
		}
	case "serve", "runs":
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode != "generate" && mode != "load" {
		switch c.Store.Driver {
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "none":
		default:
			errs = append(errs, "store.driver must be sqlite, postgres or none")
		}
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
