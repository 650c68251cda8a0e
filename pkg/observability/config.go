// Package observability provides OpenTelemetry tracing and metrics plus
// structured logging for every streamvit command.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// AppMode identifies the command the binary was launched with.
type AppMode string

const (
	// ModeRun is windowed decoding with oracle comparison.
	ModeRun AppMode = "run"
	// ModeDecode is continuous decoding of an observation stream.
	ModeDecode AppMode = "decode"
	// ModeVerify is the randomized equivalence check.
	ModeVerify AppMode = "verify"
	// ModeProfile records memory use per step.
	ModeProfile AppMode = "profile"
	// ModeCLI covers the remaining commands.
	ModeCLI AppMode = "cli"
)

const (
	defaultServiceName        = "streamvit"
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment, e.g. "dev".
	Environment string

	// Mode identifies how the binary was launched.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables export.
	OTLPEndpoint string

	// OTLPHeaders are additional gRPC metadata headers for the exporters.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP connection.
	OTLPInsecure bool

	// SampleRatio is the trace sampling ratio; zero samples everything.
	SampleRatio float64

	// Prometheus enables the pull exporter; Providers.MetricsHandler then
	// serves the scrape endpoint.
	Prometheus bool

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON selects JSON log records instead of text.
	LogJSON bool

	// LogOutput receives log records. Nil means stderr.
	LogOutput io.Writer

	// ShutdownTimeoutSec bounds the flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(strings.TrimSpace(name)))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level: %w", err)
	}

	return level, nil
}

// ParseOTLPHeaders parses "key=value,key=value". Malformed pairs are skipped;
// nil is returned when nothing remains.
func ParseOTLPHeaders(raw string) map[string]string {
	var result map[string]string

	for pair := range strings.SplitSeq(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")

		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}

		if result == nil {
			result = make(map[string]string)
		}

		result[k] = strings.TrimSpace(v)
	}

	return result
}
