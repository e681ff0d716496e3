// Package envconfig loads the SDK settings from environment variables.
package envconfig

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Env holds the settings read from the environment.
type Env struct {
	// DaemonAddress is the address of the X-Ray daemon.
	// The format is "address:port" or "tcp:address:port udp:address:port".
	DaemonAddress string `envconfig:"AWS_XRAY_DAEMON_ADDRESS" default:"127.0.0.1:2000"`

	// ContextMissing is the name of the context missing strategy.
	ContextMissing string `envconfig:"AWS_XRAY_CONTEXT_MISSING" default:"LOG_ERROR"`

	// DebugMode enables debug logging when it is not empty.
	DebugMode string `envconfig:"AWS_XRAY_DEBUG_MODE"`

	// LogLevel is one of debug, info, warn, error and silent.
	LogLevel string `envconfig:"AWS_XRAY_LOG_LEVEL" default:"info"`

	// TracingName overrides the name of the segments.
	TracingName string `envconfig:"AWS_XRAY_TRACING_NAME"`
}

// Load reads the environment.
func Load() (*Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("envconfig: failed to load: %w", err)
	}
	env.ContextMissing = strings.ToUpper(strings.TrimSpace(env.ContextMissing))
	env.LogLevel = strings.ToLower(strings.TrimSpace(env.LogLevel))
	return &env, nil
}

// LoadOrDefault reads the environment, falling back to Default on errors.
func LoadOrDefault() *Env {
	env, err := Load()
	if err != nil {
		return Default()
	}
	return env
}

// Default returns the settings used when nothing is configured.
func Default() *Env {
	return &Env{
		DaemonAddress:  "127.0.0.1:2000",
		ContextMissing: "LOG_ERROR",
		LogLevel:       "info",
	}
}
