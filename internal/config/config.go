package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "INDENTR"
	defaultLocalDriver   = "sqlite"
	defaultLocalDSN      = "indentr.db"
	defaultRemoteDriver  = "postgres"
	defaultSyncInterval  = 10 * time.Minute
	defaultProbeTimeout  = 5 * time.Second
	defaultSafetyBuffer  = 30 * time.Second
	defaultHTTPAddress   = "127.0.0.1:8787"
	defaultControlTTL    = 30 * time.Minute
	defaultLogLevel      = "info"
	supportedDriverNames = "sqlite, postgres"
)

// AppConfig captures runtime configuration for the sync daemon.
type AppConfig struct {
	LocalDriver          string
	LocalDSN             string
	RemoteDriver         string
	RemoteDSN            string
	SyncInterval         time.Duration
	ProbeTimeout         time.Duration
	SafetyBuffer         time.Duration
	HTTPAddress          string
	ControlSigningSecret string
	ControlTokenTTL      time.Duration
	LogLevel             string
	LogFile              string
}

// RemoteConfigured reports whether a remote store was provided.
func (c AppConfig) RemoteConfigured() bool {
	return strings.TrimSpace(c.RemoteDSN) != ""
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

	configViper.SetDefault("database.local_driver", defaultLocalDriver)
	configViper.SetDefault("database.local_dsn", defaultLocalDSN)
	configViper.SetDefault("database.remote_driver", defaultRemoteDriver)
	configViper.SetDefault("database.remote_dsn", "")
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.probe_timeout", defaultProbeTimeout)
	configViper.SetDefault("sync.safety_buffer", defaultSafetyBuffer)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("control.signing_secret", "")
	configViper.SetDefault("control.token_ttl", defaultControlTTL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		LocalDriver:          strings.ToLower(strings.TrimSpace(configViper.GetString("database.local_driver"))),
		LocalDSN:             strings.TrimSpace(configViper.GetString("database.local_dsn")),
		RemoteDriver:         strings.ToLower(strings.TrimSpace(configViper.GetString("database.remote_driver"))),
		RemoteDSN:            strings.TrimSpace(configViper.GetString("database.remote_dsn")),
		SyncInterval:         configViper.GetDuration("sync.interval"),
		ProbeTimeout:         configViper.GetDuration("sync.probe_timeout"),
		SafetyBuffer:         configViper.GetDuration("sync.safety_buffer"),
		HTTPAddress:          configViper.GetString("http.address"),
		ControlSigningSecret: configViper.GetString("control.signing_secret"),
		ControlTokenTTL:      configViper.GetDuration("control.token_ttl"),
		LogLevel:             configViper.GetString("log.level"),
		LogFile:              strings.TrimSpace(configViper.GetString("log.file")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if !isSupportedDriver(c.LocalDriver) {
		return fmt.Errorf("database.local_driver %q is not one of %s", c.LocalDriver, supportedDriverNames)
	}
	if c.LocalDSN == "" {
		return fmt.Errorf("database.local_dsn is required")
	}
	if c.RemoteConfigured() && !isSupportedDriver(c.RemoteDriver) {
		return fmt.Errorf("database.remote_driver %q is not one of %s", c.RemoteDriver, supportedDriverNames)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("sync.probe_timeout must be positive")
	}
	if c.SafetyBuffer < 0 {
		return fmt.Errorf("sync.safety_buffer must not be negative")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.ControlTokenTTL <= 0 {
		return fmt.Errorf("control.token_ttl must be positive")
	}
	return nil
}

func isSupportedDriver(driver string) bool {
	switch driver {
	case "sqlite", "postgres":
		return true
	default:
		return false
	}
}
