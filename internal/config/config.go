package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/vaxoracle/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Report   ReportConfig   `mapstructure:"report"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig holds dashboard API configuration
type SourceConfig struct {
	APIBaseURL     string        `mapstructure:"api_base_url"`
	AreaType       string        `mapstructure:"area_type"`
	AreaName       string        `mapstructure:"area_name"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	// InputFile, when set, is read instead of calling the API.
	InputFile string `mapstructure:"input_file"`
}

// ForecastConfig holds projection parameters
type ForecastConfig struct {
	PredictFrom         string `mapstructure:"predict_from"`
	AveragingWindowDays int    `mapstructure:"averaging_window_days"`
	MaxPrimaryDelayDays int    `mapstructure:"max_primary_delay_days"`
	MaxProjectionDays   int    `mapstructure:"max_projection_days"`
}

// ReportConfig holds output configuration
type ReportConfig struct {
	OutputDir     string `mapstructure:"output_dir"`
	Charts        bool   `mapstructure:"charts"`
	RollingDays   int    `mapstructure:"rolling_days"`
	ChartWidth    int    `mapstructure:"chart_width"`
	ChartHeight   int    `mapstructure:"chart_height"`
	ExportCSVFile string `mapstructure:"export_csv_file"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	SendCharts     bool          `mapstructure:"send_charts"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds dataset cache configuration
type StorageConfig struct {
	DBPath       string `mapstructure:"db_path"`
	KeepDatasets int    `mapstructure:"keep_datasets"`
	DisableCache bool   `mapstructure:"disable_cache"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envKeyReplacer maps nested keys to env names, e.g. forecast.predict_from to
// VAXORACLE_FORECAST_PREDICT_FROM.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("VAXORACLE")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.api_base_url", "https://api.coronavirus.data.gov.uk")
	v.SetDefault("source.area_type", "overview")
	v.SetDefault("source.area_name", "United Kingdom")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay_base", "1s")
	v.SetDefault("source.input_file", "")

	// Forecast defaults
	v.SetDefault("forecast.predict_from", "")
	v.SetDefault("forecast.averaging_window_days", 14)
	v.SetDefault("forecast.max_primary_delay_days", 84)
	v.SetDefault("forecast.max_projection_days", 36500)

	// Report defaults
	v.SetDefault("report.output_dir", ".")
	v.SetDefault("report.charts", true)
	v.SetDefault("report.rolling_days", 7)
	v.SetDefault("report.chart_width", 1024)
	v.SetDefault("report.chart_height", 640)
	v.SetDefault("report.export_csv_file", "")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.send_charts", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/vaxoracle.db")
	v.SetDefault("storage.keep_datasets", 7)
	v.SetDefault("storage.disable_cache", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Source config
	if c.Source.InputFile == "" {
		if c.Source.APIBaseURL == "" {
			return fmt.Errorf("source.api_base_url is required")
		}
		if c.Source.AreaType == "" || c.Source.AreaName == "" {
			return fmt.Errorf("source.area_type and source.area_name are required")
		}
		if c.Source.Timeout < 1*time.Second {
			return fmt.Errorf("source.timeout must be at least 1 second")
		}
	}
	if c.Source.MaxRetries < 0 {
		return fmt.Errorf("source.max_retries must not be negative")
	}

	// Validate Forecast config
	if c.Forecast.PredictFrom != "" {
		if _, err := time.Parse(models.DateLayout, c.Forecast.PredictFrom); err != nil {
			return fmt.Errorf("forecast.predict_from must be a YYYY-MM-DD date: %w", err)
		}
	}
	if c.Forecast.AveragingWindowDays < 1 {
		return fmt.Errorf("forecast.averaging_window_days must be at least 1")
	}
	if c.Forecast.MaxPrimaryDelayDays < 0 {
		return fmt.Errorf("forecast.max_primary_delay_days must not be negative (0 disables the cap)")
	}
	if c.Forecast.MaxProjectionDays < 1 {
		return fmt.Errorf("forecast.max_projection_days must be at least 1")
	}

	// Validate Report config
	if c.Report.RollingDays < 1 {
		return fmt.Errorf("report.rolling_days must be at least 1")
	}
	if c.Report.Charts {
		if c.Report.OutputDir == "" {
			return fmt.Errorf("report.output_dir is required when charts are enabled")
		}
		if c.Report.ChartWidth < 100 || c.Report.ChartHeight < 100 {
			return fmt.Errorf("report.chart_width and report.chart_height must be at least 100")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if !c.Storage.DisableCache {
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required unless storage.disable_cache is set")
		}
		if c.Storage.KeepDatasets < 1 {
			return fmt.Errorf("storage.keep_datasets must be at least 1")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
