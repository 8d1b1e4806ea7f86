package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port               int      `mapstructure:"port"`
		PublicURL          string   `mapstructure:"public_url"`
		CorsAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	} `mapstructure:"server"`

	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	JWT struct {
		Secret            string `mapstructure:"secret"`
		AccessExpMinutes  int    `mapstructure:"access_exp_minutes"`
		RefreshExpHours   int    `mapstructure:"refresh_exp_hours"`
		VerifyTokenExpHrs int    `mapstructure:"verify_token_exp_hours"`
	} `mapstructure:"jwt"`

	Storage struct {
		Backend   string `mapstructure:"backend"` // "local" or "s3"
		LocalDir  string `mapstructure:"local_dir"`
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Bucket    string `mapstructure:"bucket"`
		Region    string `mapstructure:"region"`
	} `mapstructure:"storage"`

	Match struct {
		AmountTolerancePercent   float64 `mapstructure:"amount_tolerance_percent"`
		QuantityTolerancePercent float64 `mapstructure:"quantity_tolerance_percent"`
		WorkerDelayMillis        int     `mapstructure:"worker_delay_millis"`
	} `mapstructure:"match"`
}

// Load reads configs/config.yaml (optional) and applies environment overrides.
// The binary works with no config file at all.
func Load() *Config {
	// Load .env file if exists (ignore error in production)
	godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile("configs/config.yaml")
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "procurement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("jwt.access_exp_minutes", 15)
	v.SetDefault("jwt.refresh_exp_hours", 24*7)
	v.SetDefault("jwt.verify_token_exp_hours", 48)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "media")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("match.amount_tolerance_percent", 5)
	v.SetDefault("match.quantity_tolerance_percent", 10)
	v.SetDefault("match.worker_delay_millis", 500)

	if err := v.ReadInConfig(); err != nil {
		log.Printf("[Config] No config file found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("config unmarshal error: %v", err)
	}

	// DB_* environment variables win over the config file
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Database.Port = n
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if pass := os.Getenv("DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Database.Name = name
	}
	if mode := os.Getenv("DB_SSLMODE"); mode != "" {
		cfg.Database.SSLMode = mode
	}

	if cfg.JWT.Secret == "" || cfg.JWT.Secret == "${JWT_SECRET}" {
		cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	}
	if cfg.JWT.Secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			log.Fatal("JWT_SECRET environment variable is required in production mode")
		}
		cfg.JWT.Secret = "default_super_secret_key" // Development fallback only
	}

	if backend := os.Getenv("STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if key := os.Getenv("STORAGE_ACCESS_KEY"); key != "" {
		cfg.Storage.AccessKey = key
	}
	if key := os.Getenv("STORAGE_SECRET_KEY"); key != "" {
		cfg.Storage.SecretKey = key
	}
	if ep := os.Getenv("STORAGE_ENDPOINT"); ep != "" {
		cfg.Storage.Endpoint = ep
	}
	if b := os.Getenv("STORAGE_BUCKET"); b != "" {
		cfg.Storage.Bucket = b
	}

	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}

	return &cfg
}

// DSN builds the postgres connection string
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host,
		c.Database.Port, c.Database.Name, c.Database.SSLMode)
}
