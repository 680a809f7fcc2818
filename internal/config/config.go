package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all agent configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Origin   OriginConfig   `mapstructure:"origin"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type OriginConfig struct {
	// URL is the base URL of the origin server emitting notifications.
	URL string `mapstructure:"url"`
}

type AgentConfig struct {
	// ConfigPath is the directory holding credentials, public.pem and
	// private.pem. The ingestor only starts when all three are present.
	ConfigPath string `mapstructure:"config_path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: EQ_AGENT_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8001")
	v.SetDefault("server.env", "development")
	v.SetDefault("origin.url", "http://localhost:8000")
	v.SetDefault("agent.config_path", "./config")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "eq_agent")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")

	// Environment variables (e.g. EQ_AGENT_ORIGIN_URL -> origin.url)
	v.SetEnvPrefix("EQ_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("origin.url", "ORIGIN_URL")
	v.BindEnv("agent.config_path", "CONFIG_PATH")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}
