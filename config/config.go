package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the callsheet service.
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Producer ProducerConfig `mapstructure:"producer"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`
}

// LLMConfig describes the chat-completion provider used for all agents.
type LLMConfig struct {
	Type         string        `mapstructure:"type"` // openai or any compatible endpoint
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxToolSteps int           `mapstructure:"max_tool_steps"`
}

// StorageConfig contains database configurations.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis settings. Redis is optional; when the host
// is empty the preview state is held in process memory instead.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ToolsConfig configures the production tool executors.
type ToolsConfig struct {
	WorkDir     string        `mapstructure:"work_dir"`    // downloaded assets
	RendersDir  string        `mapstructure:"renders_dir"` // finished videos
	YTDLPPath   string        `mapstructure:"ytdlp_path"`
	FFmpegPath  string        `mapstructure:"ffmpeg_path"`
	TTSEndpoint string        `mapstructure:"tts_endpoint"`
	TTSVoice    string        `mapstructure:"tts_voice"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// ProducerConfig tunes the step executor.
type ProducerConfig struct {
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	// StrictCompletion makes the producer inspect the tool result's own
	// success flag before marking a step completed. When false any
	// settled turn completes the step.
	StrictCompletion bool `mapstructure:"strict_completion"`
}

// DSN assembles a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

func (l LLMConfig) Validate() error {
	if l.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if l.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.MaxToolSteps < 0 {
		return fmt.Errorf("llm.max_tool_steps must be >= 0")
	}
	return nil
}

func (t ToolsConfig) Validate() error {
	if t.WorkDir == "" {
		return fmt.Errorf("tools.work_dir is required")
	}
	if t.RendersDir == "" {
		return fmt.Errorf("tools.renders_dir is required")
	}
	return nil
}

func (p ProducerConfig) Validate() error {
	if p.StepTimeout <= 0 {
		return fmt.Errorf("producer.step_timeout must be > 0")
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Tools.Validate(); err != nil {
		return err
	}
	return c.Producer.Validate()
}

// LoadConfig reads configuration from a file plus CALLSHEET_* env
// overrides. Panics on unreadable or invalid configuration, matching
// process startup semantics.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.listen", ":10010")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("llm.type", "openai")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.timeout", "2m")
	viper.SetDefault("llm.max_tool_steps", 10)
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("tools.work_dir", "downloads")
	viper.SetDefault("tools.renders_dir", "renders")
	viper.SetDefault("tools.ytdlp_path", "yt-dlp")
	viper.SetDefault("tools.ffmpeg_path", "ffmpeg")
	viper.SetDefault("tools.tts_voice", "Kore")
	viper.SetDefault("tools.http_timeout", "30s")
	viper.SetDefault("producer.step_timeout", "10m")
	viper.SetDefault("producer.strict_completion", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CALLSHEET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional when every required value comes from env
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &cfg
}
