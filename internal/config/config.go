package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	ini "gopkg.in/ini.v1"
)

type RelayConfig struct {
	AuthToken     string `ini:"auth_token"`
	SenderIMEI    string `ini:"sender_imei"`
	SenderAddress string `ini:"sender_address"`
	ReceiverIMEI  string `ini:"receiver_imei"`
}

type InboundConfig struct {
	Host     string `ini:"host"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

type LogSinkConfig struct {
	Host  string `ini:"host"`
	Token string `ini:"token"`
}

type ServerConfig struct {
	ListenAddr               string `ini:"listen_addr"`
	FunctionName             string `ini:"function_name"`
	InvocationTimeoutSeconds int    `ini:"invocation_timeout_seconds"`
}

type LoggingConfig struct {
	File       string `ini:"file"`
	Level      string `ini:"level"`
	MaxSizeMB  int    `ini:"max_size_mb"`
	MaxBackups int    `ini:"max_backups"`
	MaxAgeDays int    `ini:"max_age_days"`
}

type Config struct {
	Relay   RelayConfig
	Inbound InboundConfig
	LogSink LogSinkConfig
	Server  ServerConfig
	Logging LoggingConfig
}

func (c Config) InvocationTimeout() time.Duration {
	return time.Duration(c.Server.InvocationTimeoutSeconds) * time.Second
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:               ":8080",
			FunctionName:             "relay/forward",
			InvocationTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load builds the process configuration: defaults, then the optional INI
// file at iniPath, then environment variables (a .env file in the working
// directory is loaded first and never overrides the real environment).
func Load(iniPath string) (Config, error) {
	_ = godotenv.Load()
	cfg := defaults()
	if iniPath != "" {
		if _, err := os.Stat(iniPath); err == nil {
			if err := loadINI(iniPath, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadINI(path string, cfg *Config) error {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	sections := []struct {
		name string
		dst  any
	}{
		{"relay", &cfg.Relay},
		{"inbound", &cfg.Inbound},
		{"logsink", &cfg.LogSink},
		{"server", &cfg.Server},
		{"logging", &cfg.Logging},
	}
	for _, s := range sections {
		if !f.HasSection(s.name) {
			continue
		}
		if err := f.Section(s.name).MapTo(s.dst); err != nil {
			return fmt.Errorf("section [%s]: %w", s.name, err)
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("AUTH_TOKEN", &cfg.Relay.AuthToken)
	str("SENDER_IMEI", &cfg.Relay.SenderIMEI)
	str("SENDER_ADDRESS", &cfg.Relay.SenderAddress)
	str("RECEIVER_IMEI", &cfg.Relay.ReceiverIMEI)
	str("INBOUND_HOST", &cfg.Inbound.Host)
	str("INBOUND_USER", &cfg.Inbound.User)
	str("INBOUND_PASSWORD", &cfg.Inbound.Password)
	str("LOG_HOST", &cfg.LogSink.Host)
	str("LOG_TOKEN", &cfg.LogSink.Token)
	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	str("FUNCTION_NAME", &cfg.Server.FunctionName)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
	if v, ok := lookup("INVOCATION_TIMEOUT_SECONDS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("INVOCATION_TIMEOUT_SECONDS invalid (expected int): %q", v)
		}
		cfg.Server.InvocationTimeoutSeconds = n
	}
	return nil
}

type errList []string

func (e *errList) addf(format string, a ...any) { *e = append(*e, fmt.Sprintf(format, a...)) }

// Validate reports every missing required field at once.
func (c Config) Validate() error {
	var errs errList
	required := []struct {
		key, val string
	}{
		{"AUTH_TOKEN", c.Relay.AuthToken},
		{"SENDER_IMEI", c.Relay.SenderIMEI},
		{"SENDER_ADDRESS", c.Relay.SenderAddress},
		{"RECEIVER_IMEI", c.Relay.ReceiverIMEI},
		{"INBOUND_HOST", c.Inbound.Host},
		{"INBOUND_USER", c.Inbound.User},
		{"INBOUND_PASSWORD", c.Inbound.Password},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs.addf("missing %s", r.key)
		}
	}
	if c.Server.InvocationTimeoutSeconds <= 0 {
		errs.addf("INVOCATION_TIMEOUT_SECONDS must be positive, got %d", c.Server.InvocationTimeoutSeconds)
	}
	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
