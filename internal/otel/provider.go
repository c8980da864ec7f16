// Package otel builds the OpenTelemetry log pipeline. Records go to the
// session log file and, when an endpoint is set, to an OTLP/HTTP collector.
// Every record carries the service, its version and the room it serves.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/linetrace/simulator/internal/config"
)

// DefaultBatchTimeout applies when the configured timeout is zero.
const DefaultBatchTimeout = 5 * time.Second

// RoomKey is the resource attribute naming the served room.
const RoomKey = attribute.Key("linetrace.room")

// Config holds the pipeline settings.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Room           string
	BatchTimeout   time.Duration
	LogWriter      io.Writer // file exporter target
	Endpoint       string    // OTLP endpoint, optional
	Insecure       bool
}

// ConfigFrom combines the loaded settings with the process identity and the
// writer for the file exporter.
func ConfigFrom(cfg config.OTelConfig, version, room string, logWriter io.Writer) Config {
	return Config{
		Enabled:        cfg.Enabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Room:           room,
		BatchTimeout:   cfg.BatchTimeout,
		LogWriter:      logWriter,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
	}
}

// Provider owns the log provider. A disabled Provider is a no-op.
type Provider struct {
	logProvider *sdklog.LoggerProvider
	config      Config
}

// New builds the pipeline. It fails when enabled without any sink.
func New(cfg Config) (*Provider, error) {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(identity(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	batch := func(e sdklog.Exporter) {
		opts = append(opts, sdklog.WithProcessor(
			sdklog.NewBatchProcessor(e, sdklog.WithExportTimeout(cfg.BatchTimeout))))
	}

	if cfg.LogWriter != nil {
		e, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		batch(e)
	}
	if cfg.Endpoint != "" {
		httpOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlploghttp.WithInsecure())
		}
		e, err := otlploghttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		batch(e)
	}
	if len(opts) == 1 {
		return nil, errors.New("OTel enabled but no log writer or endpoint configured")
	}

	p.logProvider = sdklog.NewLoggerProvider(opts...)
	return p, nil
}

func identity(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Room != "" {
		attrs = append(attrs, RoomKey.String(cfg.Room))
	}
	return attrs
}

// LoggerProvider returns the provider for the otelslog bridge, or nil when
// disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Meter returns a meter from the global meter provider.
func (p *Provider) Meter(name string) metric.Meter {
	return otel.Meter(name)
}

func (p *Provider) Flush(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}

func (p *Provider) Enabled() bool {
	return p.config.Enabled
}
