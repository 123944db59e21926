package obs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// InitTracing configures an OTLP/HTTP trace provider when endpoint is set.
// With an empty endpoint the global no-op provider stays in place.
func InitTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	target, err := parseCollector(endpoint)
	if err != nil {
		return nil, err
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(target.host)}
	if target.path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(target.path))
	}
	if target.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			Logger().Error().Err(err).Msg("shutdown tracer provider")
			return err
		}
		return nil
	}, nil
}

type collector struct {
	host     string
	path     string
	insecure bool
}

// parseCollector accepts either a URL such as http://collector:4318 or a bare
// host:port. Bare addresses and http URLs are sent without TLS.
func parseCollector(endpoint string) (collector, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if strings.Contains(endpoint, "://") {
			return collector{}, fmt.Errorf("invalid OTLP endpoint: %s", endpoint)
		}
		return collector{host: endpoint, insecure: true}, nil
	}
	c := collector{host: u.Host, insecure: u.Scheme == "http"}
	if u.Path != "" && u.Path != "/" {
		c.path = u.Path
	}
	return c, nil
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// Trace wraps h so every request opens a server span.
func Trace(h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, ServiceName, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return r.Method + " " + CanonicalPath(r.URL.Path)
	}))
}
