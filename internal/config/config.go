package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisAddr   string `mapstructure:"redis_addr"`
	Port        string `mapstructure:"port"`
	PublicURL   string `mapstructure:"public_url"`
	BackendURL  string `mapstructure:"backend_url"`
	InstanceID  string `mapstructure:"instance_id"`

	// Data storage (identity key backup lives here)
	DataDir string `mapstructure:"data_dir"`

	// Supabase (token verification only, we never mint tokens)
	SupabaseURL       string `mapstructure:"supabase_url"`
	SupabaseAnonKey   string `mapstructure:"supabase_anon_key"`
	SupabaseJWTSecret string `mapstructure:"supabase_jwt_secret"`

	// Notification Gateway (cloud relay)
	Gateway GatewayConfig `mapstructure:"gateway"`

	// External Services
	SlackBotToken           string `mapstructure:"slack_bot_token"`
	FirebaseCredentialsFile string `mapstructure:"firebase_credentials_file"`

	// On-call scheduling
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Datadog APM (tracer disabled when agent_host is empty)
	Datadog DatadogConfig `mapstructure:"datadog"`
}

type GatewayConfig struct {
	URL      string `mapstructure:"url"`
	APIToken string `mapstructure:"api_token"`
}

type SchedulerConfig struct {
	// HorizonDays bounds rotation expansion: shifts are materialized for
	// [start_at, now+horizon) and regenerated as the window advances.
	HorizonDays int `mapstructure:"horizon_days"`
}

type DatadogConfig struct {
	AgentHost string `mapstructure:"agent_host"`
	Env       string `mapstructure:"env"`
	Version   string `mapstructure:"version"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present so 'go run' works without exporting
	// env vars manually. Absence is not an error (Production/Docker).
	if err := godotenv.Load(); err == nil {
		log.Println("✅ Loaded .env file")
	}

	v := viper.New()

	// Set default values
	v.SetDefault("port", "8080")
	v.SetDefault("backend_url", "http://localhost:8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("instance_id", "default")
	v.SetDefault("scheduler.horizon_days", 90)

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	// Environment variable settings
	v.SetEnvPrefix("resq")

	// Bind standard environment variables (Docker/deploy compatibility)
	// so deployments can use plain DATABASE_URL instead of resq_DATABASE_URL.
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("public_url", "PUBLIC_URL")
	_ = v.BindEnv("instance_id", "INSTANCE_ID")
	_ = v.BindEnv("data_dir", "DATA_DIR")

	// Bind Supabase Env Vars
	_ = v.BindEnv("supabase_url", "SUPABASE_URL")
	_ = v.BindEnv("supabase_anon_key", "SUPABASE_ANON_KEY")
	_ = v.BindEnv("supabase_jwt_secret", "SUPABASE_JWT_SECRET")

	// Bind External Services Env Vars
	_ = v.BindEnv("slack_bot_token", "SLACK_BOT_TOKEN")
	_ = v.BindEnv("firebase_credentials_file", "FIREBASE_CREDENTIALS_FILE")

	// Bind Notification Gateway Env Vars
	_ = v.BindEnv("gateway.url", "CLOUD_URL")
	_ = v.BindEnv("gateway.api_token", "CLOUD_TOKEN")

	// Bind Datadog Env Vars
	_ = v.BindEnv("datadog.agent_host", "DD_AGENT_HOST")
	_ = v.BindEnv("datadog.env", "DD_ENV")
	_ = v.BindEnv("datadog.version", "DD_VERSION")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("ℹ️  No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("✅ Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	// 3. Backfill environment variables for code that still reads os.Getenv()
	setEnvIfEmpty("DATABASE_URL", App.DatabaseURL)
	setEnvIfEmpty("REDIS_ADDR", App.RedisAddr)
	setEnvIfEmpty("PORT", App.Port)
	setEnvIfEmpty("PUBLIC_URL", App.PublicURL)
	setEnvIfEmpty("INSTANCE_ID", App.InstanceID)
	setEnvIfEmpty("DATA_DIR", App.DataDir)

	setEnvIfEmpty("SUPABASE_URL", App.SupabaseURL)
	setEnvIfEmpty("SUPABASE_ANON_KEY", App.SupabaseAnonKey)
	setEnvIfEmpty("SUPABASE_JWT_SECRET", App.SupabaseJWTSecret)

	setEnvIfEmpty("SLACK_BOT_TOKEN", App.SlackBotToken)
	setEnvIfEmpty("FIREBASE_CREDENTIALS_FILE", App.FirebaseCredentialsFile)

	setEnvIfEmpty("CLOUD_URL", App.Gateway.URL)
	setEnvIfEmpty("CLOUD_TOKEN", App.Gateway.APIToken)

	return nil
}

func setEnvIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
