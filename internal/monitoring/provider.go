package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/config"
)

// Provider owns the meter provider behind the pipeline instruments. The
// manual reader always serves in-process snapshots; an OTLP exporter is
// added when an endpoint is configured.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Reader        *sdkmetric.ManualReader
}

// NewProvider builds the meter provider for cfg.
func NewProvider(ctx context.Context, cfg config.MonitoringConfig) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(MeterName)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: build resource")
	}

	reader := sdkmetric.NewManualReader()
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	}

	if cfg.OTLPEndpoint != "" {
		expOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			expOpts = append(expOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, expOpts...)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: create otlp exporter")
		}
		interval := time.Duration(cfg.OTLPIntervalSecs) * time.Second
		if interval <= 0 {
			interval = 15 * time.Second
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)))
		zap.L().Info("monitoring: exporting metrics over otlp",
			zap.String("endpoint", cfg.OTLPEndpoint),
			zap.Duration("interval", interval),
		)
	}

	return &Provider{
		MeterProvider: sdkmetric.NewMeterProvider(opts...),
		Reader:        reader,
	}, nil
}

// Shutdown flushes exporters and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return eris.Wrap(p.MeterProvider.Shutdown(ctx), "monitoring: shutdown meter provider")
}
