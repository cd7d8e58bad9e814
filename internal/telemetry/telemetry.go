// Package telemetry exports session metrics and events over OTLP HTTP.
//
// Endpoints come from the [telemetry] table of the muxsh configuration
// (MUXSH_OTEL_METRICS_URL and MUXSH_OTEL_LOGS_URL in the environment). Each
// signal is exported only when its endpoint is set. Without Init the
// recorders write to the global no-op providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/steveyegge/muxsh/internal/config"
)

// Resource attribute keys describing the muxsh process.
const (
	AttrMultiplexer  = attribute.Key("muxsh.multiplexer")
	AttrTransportDir = attribute.Key("muxsh.transport_dir")
)

// Options describes the process being instrumented.
type Options struct {
	Service string
	Version string

	// Config supplies the endpoints, the export interval and the resource
	// attributes.
	Config *config.Config

	// Logger receives exporter errors. Nil discards them.
	Logger *zap.Logger
}

// Provider owns the SDK providers Init installed.
type Provider struct {
	shutdowns    []func(context.Context) error
	shutdownMu   sync.Mutex
	shutdownDone bool
}

// Shutdown flushes pending data and stops the providers. Later calls do
// nothing. Give it a deadline; a dead collector otherwise stalls exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if p.shutdownDone {
		return nil
	}
	p.shutdownDone = true

	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}

// Init installs the metric and log providers selected by opts.Config and
// returns them for shutdown. It returns (nil, nil) when telemetry is off.
func Init(ctx context.Context, opts Options) (*Provider, error) {
	tc := opts.Config.Telemetry
	if !tc.Enabled() {
		return nil, nil
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("telemetry export failed", zap.Error(err))
	}))

	res, err := newResource(ctx, opts)
	if err != nil {
		return nil, err
	}

	p := &Provider{}

	if tc.MetricsURL != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(tc.MetricsURL))
		if err != nil {
			return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(tc.ExportInterval())),
			),
		)
		otel.SetMeterProvider(mp)
		p.shutdowns = append(p.shutdowns, mp.Shutdown)
		initInstruments()
	}

	if tc.LogsURL != "" {
		exp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(tc.LogsURL))
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
		}
		lp := sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		)
		global.SetLoggerProvider(lp)
		p.shutdowns = append(p.shutdowns, lp.Shutdown)
	}

	log.Debug("telemetry enabled",
		zap.String("metrics_url", tc.MetricsURL),
		zap.String("logs_url", tc.LogsURL),
		zap.Duration("export_interval", tc.ExportInterval()),
	)
	return p, nil
}

func newResource(ctx context.Context, opts Options) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(resourceAttributes(opts)...),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}
	return res, nil
}

// resourceAttributes tags every exported signal with the service and the
// multiplexer setup the sessions run under.
func resourceAttributes(opts Options) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(opts.Service),
		semconv.ServiceVersion(opts.Version),
		AttrMultiplexer.String(opts.Config.Multiplexer),
		AttrTransportDir.String(opts.Config.TransportDir),
	}
}
