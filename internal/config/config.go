package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/storyloom/storyloom/pkg/domain"
)

// Config holds engine configuration: provider credentials, defaults, and the
// project folder file operations are sandboxed to.
type Config struct {
	ProjectFolder string `mapstructure:"project_folder"`
	LogLevel      string `mapstructure:"log_level"`

	DefaultProvider string `mapstructure:"default_provider"`
	DefaultModel    string `mapstructure:"default_model"`

	Providers map[string]ProviderSettings `mapstructure:"providers"`

	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// ProviderSettings is one provider's file-level configuration. API keys left
// empty here fall back to the provider's conventional environment variable.
type ProviderSettings struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Binary  string `mapstructure:"binary"`
	Model   string `mapstructure:"model"`
}

// Load reads configuration from storyloom.yaml and STORYLOOM_* environment
// variables. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("STORYLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("storyloom")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.storyloom")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("default_provider", string(domain.ProviderTypeOpenAI))
	v.SetDefault("execution_timeout", 30*time.Minute)
}

func validate(config *Config) error {
	if config.DefaultProvider != "" {
		switch domain.ProviderType(config.DefaultProvider) {
		case domain.ProviderTypeOpenAI, domain.ProviderTypeAnthropic, domain.ProviderTypeGemini,
			domain.ProviderTypeOllama, domain.ProviderTypeClaudeCLI:
		default:
			return fmt.Errorf("unknown default_provider %q", config.DefaultProvider)
		}
	}

	return nil
}

// ProviderCredentials converts the file-level provider settings into the
// credential map the provider manager consumes.
func (c *Config) ProviderCredentials() map[domain.ProviderType]domain.Credentials {
	creds := make(map[domain.ProviderType]domain.Credentials, len(c.Providers))

	for name, settings := range c.Providers {
		creds[domain.ProviderType(name)] = domain.Credentials{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Binary:  settings.Binary,
		}
	}

	return creds
}
