package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "DRIVE"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "drive.db"
	defaultLogLevel       = "info"
	defaultEnvironment    = "development"
	defaultAPIBaseURL     = "http://localhost:8080"
	defaultFrontendURL    = "http://localhost:5173"
	environmentProduction = "production"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	Environment    string
	APIBaseURL     string
	FrontendURL    string
	HCaptchaSecret string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("environment", defaultEnvironment)
	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("frontend.url", defaultFrontendURL)
	configViper.SetDefault("hcaptcha.secret", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		Environment:    strings.ToLower(strings.TrimSpace(configViper.GetString("environment"))),
		APIBaseURL:     strings.TrimRight(configViper.GetString("api.base_url"), "/"),
		FrontendURL:    strings.TrimRight(configViper.GetString("frontend.url"), "/"),
		HCaptchaSecret: configViper.GetString("hcaptcha.secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production hardening:
// captcha enforced and raw magic tokens never echoed in responses.
func (c AppConfig) IsProduction() bool {
	return c.Environment == environmentProduction
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if strings.TrimSpace(c.FrontendURL) == "" {
		return fmt.Errorf("frontend.url is required")
	}
	return nil
}
