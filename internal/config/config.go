// Package config loads application configuration for the fieldauth client core.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jaktapp/fieldauth/internal/logger"
)

const (
	EnvProd = "production"
	EnvDev  = "development"
	EnvTest = "test"
)

// Config holds application configuration loaded from environment variables or config file.
type Config struct {
	AppEnv     string `mapstructure:"app_env" default:"development" validate:"required"`
	AppVersion string `mapstructure:"app_version" default:"0.0.0-dev" validate:"required"`
	DataDir    string `mapstructure:"data_dir" default:"./data" validate:"required"`

	// Backend API
	APIBaseURL string `mapstructure:"api_base_url" default:"https://api.jaktapp.example" validate:"required,url"`

	// Identity provider. Login and register are two distinct flows against
	// different endpoint pairs sharing one client registration.
	AuthClientID             string `mapstructure:"auth_client_id" validate:"required"`
	AuthRedirectURI          string `mapstructure:"auth_redirect_uri" default:"jaktapp://auth/callback" validate:"required"`
	AuthScopes               string `mapstructure:"auth_scopes" default:"openid profile offline_access"`
	AuthLocale               string `mapstructure:"auth_locale" default:"sv"`
	LoginAuthorizationURL    string `mapstructure:"login_authorization_url" validate:"required,url"`
	LoginTokenURL            string `mapstructure:"login_token_url" validate:"required,url"`
	RegisterAuthorizationURL string `mapstructure:"register_authorization_url" validate:"required,url"`
	RegisterTokenURL         string `mapstructure:"register_token_url" validate:"required,url"`

	// Device secret for sealing the secure store at rest.
	StoreSecret string `secret:"true" mapstructure:"store_secret" validate:"required"`

	// Session lifecycle tuning. The pending-session window and the refresh
	// attempt limit are heuristics, kept configurable on purpose.
	PendingSessionTTL  time.Duration `mapstructure:"pending_session_ttl" default:"5m"`
	MaxRefreshAttempts int           `mapstructure:"max_refresh_attempts" default:"5"`
	RefreshEarlyWindow time.Duration `mapstructure:"refresh_early_window" default:"60s"`
	RefreshBackoffBase time.Duration `mapstructure:"refresh_backoff_base" default:"1s"`
	RefreshBackoffCap  time.Duration `mapstructure:"refresh_backoff_cap" default:"5m"`

	// Connectivity probe
	ConnectivityProbeURL string        `mapstructure:"connectivity_probe_url" default:"https://api.jaktapp.example/healthz"`
	ConnectivityInterval time.Duration `mapstructure:"connectivity_interval" default:"5s"`

	// VMD account linking
	VMDAuthorizeURL string `mapstructure:"vmd_authorize_url" default:"https://vmd.example/connect/authorize"`
	VMDExchangeURL  string `mapstructure:"vmd_exchange_url" default:"https://vmd.example/connect/exchange"`
	VMDReturnURL    string `mapstructure:"vmd_return_url" default:"jaktapp://vmd/callback"`

	// Logging
	LogLevel string `mapstructure:"log_level" default:"INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// Load loads configuration from config file and environment variables using viper.
func Load() *Config {
	cfg := Config{}

	v := viper.New()
	v.AutomaticEnv()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__", "-", "__"))

	// Set defaults for the config struct
	if err := defaults.Set(&cfg); err != nil {
		panic("failed to set struct defaults: " + err.Error())
	}

	// Bind env vars for each field
	typeOfCfg := reflect.TypeOf(cfg)
	for i := 0; i < typeOfCfg.NumField(); i++ {
		field := typeOfCfg.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			key = toSnakeCase(field.Name)
		}
		v.BindEnv(key)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logger.Error("Error read config file", "error", err)
		}
		logger.Warn("No config file found, using environment variables")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		logger.Warn("Could not unmarshal config", "error", err)
	}

	logger.Info("Loaded config", "config", cfg.String())

	return &cfg
}

func Validate(cfg *Config) error {
	validate := validator.New()
	return validate.Struct(cfg)
}

// String returns a string representation of the config with secret fields redacted.
func (c *Config) String() string {
	v := reflect.ValueOf(*c)
	t := reflect.TypeOf(*c)
	var sb strings.Builder
	sb.WriteString("Config{")
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Name
		value := v.Field(i).Interface()
		if field.Tag.Get("secret") == "true" {
			value = "***REDACTED***"
		}
		sb.WriteString(name + ": " + toString(value))
		if i < t.NumField()-1 {
			sb.WriteString(", ")
		}
	}
	sb.WriteString("}")
	return sb.String()
}

// toString converts interface{} to string for String
func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toSnakeCase converts CamelCase to snake_case
func toSnakeCase(str string) string {
	runes := []rune(str)
	var out []rune
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if !unicode.IsUpper(prev) || nextLower {
				out = append(out, '_')
			}
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}
