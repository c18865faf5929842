package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "FIELDLOG"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "fieldlog-remote.db"
	defaultLocalDatabasePath = "fieldlog-local.db"
	defaultRemoteBaseURL     = "http://127.0.0.1:8080"
	defaultRemoteTimeout     = 30
	defaultAuthIssuer        = "fieldlog-auth"
	defaultCookieName        = "fieldlog_session"
	defaultTokenTTLMinutes   = 720
	defaultLogLevel          = "info"
	defaultCheckInterval     = 30 * time.Second
	defaultSaveInterval      = 5 * time.Minute
	defaultReferentialTTL    = 60
)

// AuthConfig holds session token settings.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	CookieName    string
	TokenTTL      time.Duration
}

// DevicePositionConfig drives the position watchdog.
type DevicePositionConfig struct {
	Enable        bool
	Mobile        bool
	CheckInterval time.Duration
	SaveInterval  time.Duration
	FixPath       string
}

// ServerConfig captures runtime configuration for the API server.
type ServerConfig struct {
	HTTPAddress    string
	DatabasePath   string
	AllowedOrigins []string
	Auth           AuthConfig
	LogLevel       string
}

// ClientConfig captures runtime configuration for a device.
type ClientConfig struct {
	LocalDatabasePath string
	RemoteBaseURL     string
	RemoteToken       string
	RemoteTimeout     time.Duration
	ReferentialTTL    time.Duration
	DevicePosition    DevicePositionConfig
	LogLevel          string
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("local.database_path", defaultLocalDatabasePath)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.token", "")
	configViper.SetDefault("remote.timeout_seconds", defaultRemoteTimeout)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("device_position.enable", false)
	configViper.SetDefault("device_position.mobile", false)
	configViper.SetDefault("device_position.check_interval", defaultCheckInterval)
	configViper.SetDefault("device_position.save_interval", defaultSaveInterval)
	configViper.SetDefault("device_position.fix_path", "")
	configViper.SetDefault("referential.ttl_minutes", defaultReferentialTTL)
}

// LoadServer parses and validates the server configuration.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:    strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath:   strings.TrimSpace(configViper.GetString("database.path")),
		AllowedOrigins: splitList(configViper.GetStringSlice("http.allowed_origins")),
		Auth:           loadAuth(configViper),
		LogLevel:       configViper.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadAuth parses the token settings used by the token command.
func LoadAuth(configViper *viper.Viper) (AuthConfig, error) {
	cfg := loadAuth(configViper)
	if err := cfg.validate(); err != nil {
		return AuthConfig{}, err
	}
	return cfg, nil
}

// LoadClient parses and validates the device configuration.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		LocalDatabasePath: strings.TrimSpace(configViper.GetString("local.database_path")),
		RemoteBaseURL:     strings.TrimSpace(configViper.GetString("remote.base_url")),
		RemoteToken:       strings.TrimSpace(configViper.GetString("remote.token")),
		RemoteTimeout:     time.Duration(configViper.GetInt("remote.timeout_seconds")) * time.Second,
		ReferentialTTL:    time.Duration(configViper.GetInt("referential.ttl_minutes")) * time.Minute,
		DevicePosition: DevicePositionConfig{
			Enable:        configViper.GetBool("device_position.enable"),
			Mobile:        configViper.GetBool("device_position.mobile"),
			CheckInterval: configViper.GetDuration("device_position.check_interval"),
			SaveInterval:  configViper.GetDuration("device_position.save_interval"),
			FixPath:       strings.TrimSpace(configViper.GetString("device_position.fix_path")),
		},
		LogLevel: configViper.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadAuth(configViper *viper.Viper) AuthConfig {
	return AuthConfig{
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        strings.TrimSpace(configViper.GetString("auth.issuer")),
		CookieName:    strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
	}
}

func (c AuthConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

func (c ServerConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	return c.Auth.validate()
}

func (c ClientConfig) validate() error {
	if c.LocalDatabasePath == "" {
		return fmt.Errorf("local.database_path is required")
	}
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be positive")
	}
	if c.DevicePosition.Enable {
		if c.DevicePosition.CheckInterval <= 0 {
			return fmt.Errorf("device_position.check_interval must be positive")
		}
		if c.DevicePosition.SaveInterval <= 0 {
			return fmt.Errorf("device_position.save_interval must be positive")
		}
	}
	return nil
}

// splitList accepts both repeated values and one comma separated env value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
