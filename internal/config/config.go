// Package config loads server settings from defaults, an optional
// securedm.yaml, SECUREDM_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP   HTTPConfig   `mapstructure:"http"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Verify VerifyConfig `mapstructure:"verify"`
	SMTP   SMTPConfig   `mapstructure:"smtp"`
	Blob   BlobConfig   `mapstructure:"blob"`
	Log    LogConfig    `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig with an empty Addr keeps verification codes in memory and
// fan-out local to the process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret                string        `mapstructure:"jwt_secret"`
	Issuer                   string        `mapstructure:"issuer"`
	SessionTTL               time.Duration `mapstructure:"session_ttl"`
	AllowedDomains           []string      `mapstructure:"allowed_domains"`
	RequirePhoneVerification bool          `mapstructure:"require_phone_verification"`
}

type VerifyConfig struct {
	CodeTTL time.Duration `mapstructure:"code_ttl"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Gateway  string `mapstructure:"gateway"`
}

type BlobConfig struct {
	Dir            string `mapstructure:"dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("db.driver", "sqlite3")
	v.SetDefault("db.dsn", "securedm.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "securedm")
	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("auth.allowed_domains", []string{})
	v.SetDefault("auth.require_phone_verification", false)

	v.SetDefault("verify.code_ttl", "5m")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", "587")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@securedm.local")
	v.SetDefault("smtp.gateway", "")

	v.SetDefault("blob.dir", "data/blobs")
	v.SetDefault("blob.max_upload_bytes", 10<<20)

	v.SetDefault("log.development", false)
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("db-driver", "sqlite3", "Database driver (sqlite3 or postgres)")
	fs.String("db-dsn", "securedm.db", "Database DSN")
	fs.String("redis-addr", "", "Redis address; empty disables the relay")
	fs.String("blob-dir", "data/blobs", "Attachment store directory; empty keeps attachments in memory")
	fs.Bool("dev", false, "Development logging")

	v.BindPFlag("http.addr", fs.Lookup("addr"))
	v.BindPFlag("db.driver", fs.Lookup("db-driver"))
	v.BindPFlag("db.dsn", fs.Lookup("db-dsn"))
	v.BindPFlag("redis.addr", fs.Lookup("redis-addr"))
	v.BindPFlag("blob.dir", fs.Lookup("blob-dir"))
	v.BindPFlag("log.development", fs.Lookup("dev"))
}

// Load resolves the configuration. args are the command line arguments
// without the program name.
func Load(args []string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("securedm")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvPrefix("SECUREDM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	fs := pflag.NewFlagSet("securedm", pflag.ContinueOnError)
	bindFlags(v, fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (SECUREDM_AUTH_JWT_SECRET)")
	}
	switch c.DB.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("auth.session_ttl must be positive")
	}
	if c.Blob.MaxUploadBytes <= 0 {
		return errors.New("blob.max_upload_bytes must be positive")
	}
	return nil
}
