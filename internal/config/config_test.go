package config

import (
	"testing"
	"time"
)

func TestLoadServerRequiresSigningSecret(testContext *testing.T) {
	configViper := NewViper()
	if _, err := LoadServer(configViper); err == nil {
		testContext.Fatalf("expected missing signing secret error")
	}

	configViper.Set("auth.signing_secret", "secret")
	cfg, err := LoadServer(configViper)
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultDatabasePath {
		testContext.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Auth.Issuer != defaultAuthIssuer || cfg.Auth.TokenTTL != 12*time.Hour {
		testContext.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
}

func TestLoadServerReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("FIELDLOG_AUTH_SIGNING_SECRET", "from-env")
	testContext.Setenv("FIELDLOG_DATABASE_PATH", "/var/lib/fieldlog/remote.db")
	testContext.Setenv("FIELDLOG_HTTP_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadServer(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.SigningSecret != "from-env" || cfg.DatabasePath != "/var/lib/fieldlog/remote.db" {
		testContext.Fatalf("expected env values, got %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		testContext.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadClientDefaults(testContext *testing.T) {
	cfg, err := LoadClient(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.LocalDatabasePath != defaultLocalDatabasePath || cfg.RemoteBaseURL != defaultRemoteBaseURL {
		testContext.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RemoteTimeout != 30*time.Second || cfg.ReferentialTTL != time.Hour {
		testContext.Fatalf("unexpected durations: %+v", cfg)
	}
	position := cfg.DevicePosition
	if position.Enable || position.CheckInterval != defaultCheckInterval || position.SaveInterval != defaultSaveInterval {
		testContext.Fatalf("unexpected device position defaults: %+v", position)
	}
}

func TestLoadClientValidatesDevicePosition(testContext *testing.T) {
	configViper := NewViper()
	configViper.Set("device_position.enable", true)
	configViper.Set("device_position.check_interval", "0s")
	if _, err := LoadClient(configViper); err == nil {
		testContext.Fatalf("expected invalid check interval error")
	}

	configViper.Set("device_position.check_interval", "45s")
	cfg, err := LoadClient(configViper)
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.DevicePosition.CheckInterval != 45*time.Second {
		testContext.Fatalf("expected 45s check interval, got %s", cfg.DevicePosition.CheckInterval)
	}

	configViper.Set("remote.base_url", " ")
	if _, err := LoadClient(configViper); err == nil {
		testContext.Fatalf("expected missing base url error")
	}
}

func TestLoadAuthRejectsNonPositiveTTL(testContext *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("auth.token_ttl_minutes", 0)
	if _, err := LoadAuth(configViper); err == nil {
		testContext.Fatalf("expected ttl validation error")
	}
}
