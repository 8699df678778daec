package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Feishu   FeishuConfig   `mapstructure:"feishu" yaml:"feishu"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type FeishuConfig struct {
	AppID          string `mapstructure:"app_id" yaml:"app_id"`
	AppSecret      string `mapstructure:"app_secret" yaml:"app_secret"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	AppToken       string `mapstructure:"app_token" yaml:"app_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

type DownloadConfig struct {
	OutDir           string   `mapstructure:"out_dir" yaml:"out_dir"`
	Workers          int      `mapstructure:"workers" yaml:"workers"`
	MinIntervalMS    int      `mapstructure:"min_interval_ms" yaml:"min_interval_ms"`
	MaxRetries       int      `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayMS     int      `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	AttachmentFields []string `mapstructure:"attachment_fields" yaml:"attachment_fields"`
	ProductField     string   `mapstructure:"product_field" yaml:"product_field"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// Timeout returns the per-request timeout for Feishu calls.
func (f FeishuConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// MinInterval returns the global pacing interval between outbound requests.
func (d DownloadConfig) MinInterval() time.Duration {
	return time.Duration(d.MinIntervalMS) * time.Millisecond
}

// RetryDelay returns the base delay between attempts of one asset.
func (d DownloadConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMS) * time.Millisecond
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	// Set Defaults
	v.SetDefault("port", "8080")
	v.SetDefault("feishu.base_url", "https://open.feishu.cn")
	v.SetDefault("feishu.timeout_seconds", 30)
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.workers", 2)
	v.SetDefault("download.min_interval_ms", 500)
	v.SetDefault("download.max_retries", 2)
	v.SetDefault("download.retry_delay_ms", 1000)
	v.SetDefault("log.path", "larkpull.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.sqlite_path", "larkpull.db")

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	// Support Environment Variables (LARKPULL_FEISHU_APP_SECRET etc.)
	v.SetEnvPrefix("LARKPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Feishu.AppID == "" {
		return errors.New("feishu.app_id is required")
	}
	if c.Feishu.AppSecret == "" {
		return errors.New("feishu.app_secret is required")
	}
	if c.Feishu.AppToken == "" {
		return errors.New("feishu.app_token is required")
	}

	if c.Download.Workers <= 0 {
		// Provider throttling makes large pools pointless
		c.Download.Workers = 2
	}
	if c.Download.MinIntervalMS < 0 {
		return fmt.Errorf("download.min_interval_ms must not be negative, got %d", c.Download.MinIntervalMS)
	}
	if c.Download.MaxRetries < 0 {
		c.Download.MaxRetries = 0
	}
	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}

	return nil
}
