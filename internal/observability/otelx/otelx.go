package otelx

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/core"
)

const tracerName = "marketwatch"

// Span attributes set by the cycle, search and notify spans.
const (
	AttrCycleID   = attribute.Key("marketwatch.cycle_id")
	AttrTerm      = attribute.Key("marketwatch.term")
	AttrLocation  = attribute.Key("marketwatch.location")
	AttrLimit     = attribute.Key("marketwatch.limit")
	AttrListingID = attribute.Key("marketwatch.listing_id")
	AttrPrice     = attribute.Key("marketwatch.price")
	AttrFound     = attribute.Key("marketwatch.found")
	AttrNew       = attribute.Key("marketwatch.new")
	AttrSent      = attribute.Key("marketwatch.sent")
	AttrChannels  = attribute.Key("marketwatch.channels")
)

// Tracer returns the process tracer. Before Init (or with tracing disabled)
// it is the global no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartCycle opens the root span of one check cycle.
func StartCycle(ctx context.Context, cycleID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "marketwatch.cycle", trace.WithAttributes(AttrCycleID.String(cycleID)))
}

// StartSearch opens a span around one marketplace search.
func StartSearch(ctx context.Context, q core.Query) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "marketwatch.search",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrTerm.String(q.Term),
			AttrLocation.String(q.Location),
			AttrLimit.Int(q.Limit),
		))
}

// StartNotify opens a span around delivering one listing to every channel.
func StartNotify(ctx context.Context, item core.Item, channels []string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "marketwatch.notify",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			AttrListingID.String(item.ID),
			AttrTerm.String(item.Term),
			AttrPrice.String(item.Price),
			AttrChannels.StringSlice(channels),
		))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Init installs an OTLP trace exporter when cfg.Enabled. cfg.SampleRatio is
// expected in [0, 1], as LoadEnv clamps it. The returned shutdown func flushes
// pending spans; it is nil when tracing is off.
func Init(ctx context.Context, logger *slog.Logger, cfg config.OTelEnvConfig) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return nil, nil
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = tracerName
	}

	exp, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		"service_name", serviceName,
		"otlp_endpoint", endpointOrDefault(cfg),
		"otlp_protocol", protocolOrDefault(cfg),
		"sample_ratio", cfg.SampleRatio,
	)

	return tp.Shutdown, nil
}

func newTraceExporter(ctx context.Context, cfg config.OTelEnvConfig) (*otlptrace.Exporter, error) {
	endpoint := endpointOrDefault(cfg)
	switch protocol := protocolOrDefault(cfg); protocol {
	case "http/protobuf":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if strings.Contains(endpoint, "://") {
			opts = []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	case "grpc":
		// The gRPC exporter takes host:port only.
		if strings.Contains(endpoint, "://") {
			u, err := url.Parse(endpoint)
			if err != nil {
				return nil, fmt.Errorf("parse OTEL_EXPORTER_OTLP_ENDPOINT: %w", err)
			}
			endpoint = u.Host
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTEL_EXPORTER_OTLP_PROTOCOL %q (grpc or http/protobuf)", protocol)
	}
}

func endpointOrDefault(cfg config.OTelEnvConfig) string {
	if v := strings.TrimSpace(cfg.Endpoint); v != "" {
		return v
	}
	switch protocolOrDefault(cfg) {
	case "http/protobuf":
		return "localhost:4318"
	default:
		return "localhost:4317"
	}
}

func protocolOrDefault(cfg config.OTelEnvConfig) string {
	if v := strings.ToLower(strings.TrimSpace(cfg.Protocol)); v != "" {
		if v == "http" {
			return "http/protobuf"
		}
		return v
	}
	return "grpc"
}
