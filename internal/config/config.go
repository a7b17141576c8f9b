package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Feed      FeedConfig      `yaml:"feed" mapstructure:"feed"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	DingTalk  DingTalkConfig  `yaml:"dingtalk" mapstructure:"dingtalk"`
	Radar     RadarConfig     `yaml:"radar" mapstructure:"radar"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FeedConfig holds upstream feed API credentials.
type FeedConfig struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// InferenceConfig holds inference provider API settings.
type InferenceConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	Model             string `yaml:"model" mapstructure:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DingTalkConfig holds notification webhook settings.
type DingTalkConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Secret     string `yaml:"secret" mapstructure:"secret"`
}

// RadarConfig configures pipeline behavior. Threshold, window, slots and
// quota are bootstrap defaults; rows in the settings table override them
// at the start of each run.
type RadarConfig struct {
	BaseURL            string   `yaml:"base_url" mapstructure:"base_url"`
	WindowDays         int      `yaml:"window_days" mapstructure:"window_days"`
	ScoreThreshold     int      `yaml:"score_threshold" mapstructure:"score_threshold"`
	DailyQuota         int      `yaml:"daily_quota" mapstructure:"daily_quota"`
	Slots              []string `yaml:"slots" mapstructure:"slots"`
	StaleRunTimeoutMin int      `yaml:"stale_run_timeout_min" mapstructure:"stale_run_timeout_min"`
	PageLimit          int      `yaml:"page_limit" mapstructure:"page_limit"`
	MaxPages           int      `yaml:"max_pages" mapstructure:"max_pages"`
	MaxTextLen         int      `yaml:"max_text_len" mapstructure:"max_text_len"`
}

// ServerConfig configures the trigger server and worker pool.
type ServerConfig struct {
	Port    int `yaml:"port" mapstructure:"port"`
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 2)
	v.SetDefault("feed.base_url", "http://localhost:8001")
	v.SetDefault("feed.username", "admin")
	v.SetDefault("inference.base_url", "https://api.deepseek.com")
	v.SetDefault("inference.model", "deepseek-reasoner")
	v.SetDefault("inference.requests_per_minute", 10)
	v.SetDefault("radar.base_url", "http://localhost:8080")
	v.SetDefault("radar.window_days", 3)
	v.SetDefault("radar.score_threshold", 60)
	v.SetDefault("radar.daily_quota", 4)
	v.SetDefault("radar.slots", []string{"07:00", "12:00", "14:00", "18:00", "22:00"})
	v.SetDefault("radar.stale_run_timeout_min", 30)
	v.SetDefault("radar.page_limit", 100)
	v.SetDefault("radar.max_pages", 100)
	v.SetDefault("radar.max_text_len", 15000)

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
