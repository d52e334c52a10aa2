// Package config provides configuration loading and validation for cubby.
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (CUBBY_ prefix, e.g. storage.root → CUBBY_STORAGE_ROOT)
//  4. CLI flags
//
// The two shared secrets have no defaults; a process will not start without
// CUBBY_SECRETS_BUCKET_CREATE and CUBBY_SECRETS_UPLOAD (or their config file
// equivalents) set.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	cubbyhttp "github.com/cubbyd/cubby/http"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for cubby.
type Config struct {
	Env      string               `mapstructure:"env"`
	Server   ServerConfig         `mapstructure:"server"`
	Storage  StorageConfig        `mapstructure:"storage"`
	Secrets  SecretsConfig        `mapstructure:"secrets"`
	Metadata MetadataConfig       `mapstructure:"metadata"`
	CORS     cubbyhttp.CORSConfig `mapstructure:"cors"`
	Log      LogConfig            `mapstructure:"log"`
}

// IsProd reports whether the process runs with production logging output.
func (c *Config) IsProd() bool {
	return c.Env == "prod" || c.Env == "production"
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"required,min=1,max=65535"`
}

// StorageConfig holds blob storage configuration.
type StorageConfig struct {
	Root string `mapstructure:"root" validate:"required"`
}

// SecretsConfig holds the process-wide shared secrets. Both are required;
// there is no unauthenticated mode.
type SecretsConfig struct {
	BucketCreate string `mapstructure:"bucket_create" validate:"required"`
	Upload       string `mapstructure:"upload" validate:"required"`
}

// MetadataConfig holds the embedded metadata database configuration. An
// empty DSN defaults to metadata.db inside the storage root.
type MetadataConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// DatabaseDSN returns the metadata DSN, defaulting to metadata.db inside
// the storage root.
func (c *Config) DatabaseDSN() string {
	if c.Metadata.DSN != "" {
		return c.Metadata.DSN
	}
	return filepath.Join(c.Storage.Root, "metadata.db")
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"storage-root": "storage.root",
	"host":         "server.host",
	"port":         "server.port",
	"metadata-dsn": "metadata.dsn",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("storage.root", "./storage_root")

	// Empty defaults register the keys so values supplied only through the
	// environment are visible to Unmarshal; validation rejects the empty
	// strings afterwards.
	v.SetDefault("secrets.bucket_create", "")
	v.SetDefault("secrets.upload", "")
	v.SetDefault("metadata.dsn", "")

	v.SetDefault("cors.enabled", false)

	v.SetDefault("log.level", "info")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("CUBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
