package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/pingme/pingme/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultHistoryPageSize = 50
	defaultTokenTTLMinutes = 24 * 60
	defaultMessageRate     = 10.0
	defaultMessageBurst    = 20
)

// Config is the global configuration object which is filled via the
// configuration file, environment (PINGME_ prefix) and command-line flags.
type Config struct {
	LogLevel          string            `mapstructure:"log_level"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	RateConfig        RateConfig        `mapstructure:"rate"`
}

// AuthConfig configures local password login and the JWT session tokens
// issued on login. AllowGuests admits unauthenticated websocket connections
// under a generated guest nick; by default they are rejected.
type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
	AllowGuests     bool   `mapstructure:"allow_guests"`
}

// An OIDCConfig object configures an OpenID Connect provider that can be used
// to authenticate users. Clients provide an ID token and the provider name,
// authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com"
}

// PersistenceConfig selects the storage backend. Supported types:
// "postgres" and "sqlite" (DSN required), "buntdb" (DSN is the db file path)
// and "memory" (tests / throwaway dev runs).
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// HistoryConfig configures the message history page size used when no
// explicit limit is requested.
type HistoryConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// RateConfig limits inbound chat frames per connection.
type RateConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func (c *Config) HistoryPageSize() int {
	if c.HistoryConfig.PageSize > 0 {
		return c.HistoryConfig.PageSize
	}
	return defaultHistoryPageSize
}

func (c *Config) TokenTTLMinutes() int {
	if c.AuthConfig.TokenTTLMinutes > 0 {
		return c.AuthConfig.TokenTTLMinutes
	}
	return defaultTokenTTLMinutes
}

func (c *Config) MessageRate() (float64, int) {
	rate := c.RateConfig.MessagesPerSecond
	burst := c.RateConfig.Burst
	if rate <= 0 {
		rate = defaultMessageRate
	}
	if burst <= 0 {
		burst = defaultMessageBurst
	}
	return rate, burst
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated. It returns a
// Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("PINGME")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config", "error", err)
	}
	return &cfg, nil
}
