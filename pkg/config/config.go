// Package config provides the configuration file and loading logic for the
// secureclient command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-secureclient/pkg/secureclient"
	"github.com/polisai/polis-secureclient/pkg/trust"
)

// Config holds the command configuration.
type Config struct {
	Target    TargetConfig    `yaml:"target"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Trust     TrustConfig     `yaml:"trust"`
	Probe     ProbeConfig     `yaml:"probe"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TargetConfig names the endpoint and the request sent to it.
type TargetConfig struct {
	URL         string `yaml:"url"`
	ServerName  string `yaml:"server_name"`
	RequestFile string `yaml:"request_file"`
}

// TimeoutConfig holds per-operation timeouts. Zero keeps the client default.
type TimeoutConfig struct {
	Read       time.Duration `yaml:"read"`
	Write      time.Duration `yaml:"write"`
	Connect    time.Duration `yaml:"connect"`
	Handshake  time.Duration `yaml:"handshake"`
	StrictRead bool          `yaml:"strict_read"`
}

// TrustConfig selects trust anchors and the trust policy.
type TrustConfig struct {
	Bundle trust.Bundle `yaml:"bundle"`
	// PolicyFile is a Rego module evaluated instead of the strict default.
	PolicyFile string `yaml:"policy_file"`
	Query      string `yaml:"query"`
	// Watch reloads a file-backed bundle when it changes (probe only).
	Watch bool `yaml:"watch"`
}

// ProbeConfig drives the periodic probe loop.
type ProbeConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MetricsAddress string        `yaml:"metrics_address"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Timeouts: TimeoutConfig{
			Read:    secureclient.DefaultTimeout,
			Write:   secureclient.DefaultTimeout,
			Connect: secureclient.DefaultConnectTimeout,
		},
		Trust: TrustConfig{
			Query: trust.DefaultRegoQuery,
		},
		Probe: ProbeConfig{
			Interval:       30 * time.Second,
			MetricsAddress: ":9464",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "secureclient",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file over the defaults and applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SECURECLIENT_URL"); val != "" {
		cfg.Target.URL = val
	}
	if val := os.Getenv("SECURECLIENT_CA_FILE"); val != "" {
		cfg.Trust.Bundle.Path = val
		cfg.Trust.Bundle.Inline = ""
	}
	if val := os.Getenv("SECURECLIENT_TRUST_POLICY"); val != "" {
		cfg.Trust.PolicyFile = val
	}
	if val := os.Getenv("SECURECLIENT_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("SECURECLIENT_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("SECURECLIENT_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate checks the fields that do not depend on the command being run.
func (c *Config) Validate() error {
	var errs []error

	if c.Target.URL != "" {
		if _, err := secureclient.ParseEndpoint(c.Target.URL); err != nil {
			errs = append(errs, fmt.Errorf("target.url: %w", err))
		}
	}

	for name, d := range map[string]time.Duration{
		"timeouts.read":      c.Timeouts.Read,
		"timeouts.write":     c.Timeouts.Write,
		"timeouts.connect":   c.Timeouts.Connect,
		"timeouts.handshake": c.Timeouts.Handshake,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if c.Trust.Watch && strings.TrimSpace(c.Trust.Bundle.Path) == "" {
		errs = append(errs, errors.New("trust.watch requires trust.bundle.path"))
	}
	if c.Trust.Bundle.Path != "" && c.Trust.Bundle.Inline != "" {
		errs = append(errs, errors.New("trust.bundle: path and inline are mutually exclusive"))
	}

	if c.Probe.Interval < 0 {
		errs = append(errs, errors.New("probe.interval must not be negative"))
	}

	return errors.Join(errs...)
}

// Endpoint resolves Target.URL.
func (c *Config) Endpoint() (secureclient.Endpoint, error) {
	if strings.TrimSpace(c.Target.URL) == "" {
		return secureclient.Endpoint{}, errors.New("no target url configured")
	}
	return secureclient.ParseEndpoint(c.Target.URL)
}
