package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	JWT         JWTConfig
	LicenseKeys LicenseKeysConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type JWTConfig struct {
	Secret        string        `mapstructure:"secret"`
	TokenLifetime time.Duration `mapstructure:"tokenLifetime"`
	AdminUsername string        `mapstructure:"adminUsername"`
	AdminPassword string        `mapstructure:"adminPassword"`
}

// LicenseKeysConfig carries everything the key deriver needs at construction
// time. There is no ambient fallback: a missing secret or unknown algorithm
// fails startup instead of silently degrading key verification.
type LicenseKeysConfig struct {
	Secret          string        `mapstructure:"secret"`
	Algorithm       string        `mapstructure:"algorithm"`
	DefaultUseLimit int           `mapstructure:"defaultUseLimit"`
	DefaultValidity time.Duration `mapstructure:"defaultValidity"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.readTimeout", 5*time.Second)
	viper.SetDefault("server.writeTimeout", 10*time.Second)
	viper.SetDefault("server.idleTimeout", 120*time.Second)
	viper.SetDefault("server.shutdownPeriod", 15*time.Second)

	viper.SetDefault("database.maxOpenConns", 25)
	viper.SetDefault("database.maxIdleConns", 25)
	viper.SetDefault("database.connMaxLifetime", 5*time.Minute)

	viper.SetDefault("redis.db", "0")

	viper.SetDefault("log.level", "info")

	viper.SetDefault("jwt.tokenLifetime", 12*time.Hour)
	viper.SetDefault("jwt.adminUsername", "admin")

	viper.SetDefault("licensekeys.algorithm", "sha256")
	viper.SetDefault("licensekeys.defaultUseLimit", 10)
	viper.SetDefault("licensekeys.defaultValidity", time.Duration(0))

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AllowEmptyEnv(true)

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.LicenseKeys.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *LicenseKeysConfig) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("%w: licensekeys.secret is required", ierr.ErrMisconfigured)
	}
	switch c.Algorithm {
	case "sha256", "sha512":
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ierr.ErrMisconfigured, c.Algorithm)
	}
	if c.DefaultUseLimit < 1 {
		return fmt.Errorf("%w: licensekeys.defaultUseLimit must be at least 1", ierr.ErrMisconfigured)
	}
	return nil
}
