package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds CLI configuration, read from flags, PROVISIONER_* env vars and an
// optional .provisioner.yaml
type Config struct {
	ServerURL string      `mapstructure:"server"`
	APIKey    string      `mapstructure:"api_key"`
	Output    string      `mapstructure:"output"`
	Verbose   bool        `mapstructure:"verbose"`
	OAuth     OAuthConfig `mapstructure:"oauth"`
}

// OAuthConfig holds settings for local token acquisition
type OAuthConfig struct {
	Authority   string `mapstructure:"authority"`
	Scope       string `mapstructure:"scope"`
	ClientID    string `mapstructure:"client_id"`
	Mode        string `mapstructure:"mode"`
	Concurrency int    `mapstructure:"concurrency"`
}

// NewViper creates a viper instance with defaults, env binding and config search paths
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".provisioner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/provisioner")
	}

	v.SetEnvPrefix("PROVISIONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// setDefaults configures default values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server", "http://localhost:8080")
	v.SetDefault("api_key", "")
	v.SetDefault("output", "text")
	v.SetDefault("verbose", false)

	v.SetDefault("oauth.authority", "https://login.microsoftonline.com/consumers")
	v.SetDefault("oauth.scope", "offline_access https://graph.microsoft.com/Mail.Read")
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.mode", "auto")
	v.SetDefault("oauth.concurrency", 1)
}

// LoadConfig reads the config file, if any, and unmarshals the merged settings
func LoadConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Output {
	case "text", "json":
	default:
		return fmt.Errorf("output must be text or json, got %q", c.Output)
	}
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if c.OAuth.Concurrency < 1 {
		return fmt.Errorf("oauth concurrency must be at least 1, got %d", c.OAuth.Concurrency)
	}
	return nil
}
