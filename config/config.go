package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	YouTube  YouTubeConfig  `mapstructure:"youtube"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string        `mapstructure:"address"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

// StorageConfig contains Postgres and media storage settings.
type StorageConfig struct {
	Postgres  PostgresConfig `mapstructure:"postgres"`
	UploadDir string         `mapstructure:"upload_dir"`
	// JanitorCron schedules the orphan media sweep.
	JanitorCron string `mapstructure:"janitor_cron"`
	// JanitorGrace is how long an unreferenced file may linger before removal,
	// covering media acquired by runs that have not persisted a session yet.
	JanitorGrace time.Duration `mapstructure:"janitor_grace"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// PipelineConfig bounds the processing worker pool and its stages.
type PipelineConfig struct {
	Workers           int           `mapstructure:"workers"`
	AcquireTimeout    time.Duration `mapstructure:"acquire_timeout"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
	GenerateTimeout   time.Duration `mapstructure:"generate_timeout"`
}

// CacheConfig sizes the in-process memo cache.
type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// OpenAIConfig contains model provider settings.
type OpenAIConfig struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	ChatModel         string `mapstructure:"chat_model"`
	MaxOutputTokens   int    `mapstructure:"max_output_tokens"`
	ReferenceLanguage string `mapstructure:"reference_language"`
}

func (o OpenAIConfig) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	return nil
}

// YouTubeConfig controls the remote media fetcher.
type YouTubeConfig struct {
	Binary           string `mapstructure:"binary"`
	UserAgent        string `mapstructure:"user_agent"`
	SleepInterval    int    `mapstructure:"sleep_interval"`
	MaxSleepInterval int    `mapstructure:"max_sleep_interval"`
}

// Load reads configuration from the given file (or the default search paths
// when path is empty) plus VIDINSIGHT_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.token_ttl", 24*time.Hour)
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.janitor_cron", "0 * * * *")
	v.SetDefault("storage.janitor_grace", 2*time.Hour)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.acquire_timeout", 10*time.Minute)
	v.SetDefault("pipeline.transcribe_timeout", 15*time.Minute)
	v.SetDefault("pipeline.generate_timeout", 2*time.Minute)
	v.SetDefault("cache.capacity", 100)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.max_output_tokens", 500)
	v.SetDefault("openai.reference_language", "english")
	v.SetDefault("youtube.binary", "yt-dlp")
	v.SetDefault("youtube.sleep_interval", 1)
	v.SetDefault("youtube.max_sleep_interval", 5)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("VIDINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only visits keys viper already knows about, and AutomaticEnv
	// registers none. Secrets have no SetDefault on purpose, so bind them
	// explicitly or an env-only deployment would never see them.
	for _, key := range []string{
		"server.jwt_secret",
		"openai.api_key",
		"openai.base_url",
		"storage.postgres.url",
		"storage.postgres.host",
		"storage.postgres.port",
		"storage.postgres.user",
		"storage.postgres.password",
		"storage.postgres.dbname",
		"storage.postgres.sslmode",
		"youtube.user_agent",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// a config file is optional; env vars and defaults may be enough
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings a running server cannot do without.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	return c.OpenAI.Validate()
}
