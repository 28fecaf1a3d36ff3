package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"pkt.systems/fmg/client"
	"pkt.systems/fmg/internal/version"
	"pkt.systems/pslog"
)

type telemetryConfig struct {
	otlpEndpoint   string
	metricsListen  string
	runtimeMetrics bool
}

func (c telemetryConfig) enabled() bool {
	return strings.TrimSpace(c.otlpEndpoint) != "" || strings.TrimSpace(c.metricsListen) != ""
}

type telemetryBundle struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metricsServer  *http.Server
	metricsLn      net.Listener
	logger         pslog.Logger
}

type otelErrorHandler struct {
	logger pslog.Logger
}

func (h otelErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	if strings.Contains(err.Error(), "waiting for connections to become ready") {
		h.logger.Debug("telemetry.exporter.retry", "error", err)
		return
	}
	h.logger.Warn("telemetry.exporter.error", "error", err)
}

// sessionOptions hands the providers to a session. Nil bundles add nothing.
func (t *telemetryBundle) sessionOptions() []client.Option {
	if t == nil {
		return nil
	}
	var opts []client.Option
	if t.tracerProvider != nil {
		opts = append(opts, client.WithTracerProvider(t.tracerProvider))
	}
	if t.meterProvider != nil {
		opts = append(opts, client.WithMeterProvider(t.meterProvider))
	}
	return opts
}

func (t *telemetryBundle) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
			t.logger.Warn("telemetry.shutdown.metric_failure", "error", err)
		}
	}
	if t.metricsServer != nil {
		if err := t.metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			t.logger.Warn("telemetry.shutdown.metrics_server_failure", "error", err)
		}
	}
	if t.metricsLn != nil {
		_ = t.metricsLn.Close()
	}
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
			t.logger.Warn("telemetry.shutdown.trace_failure", "error", err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	t.logger.Debug("telemetry.shutdown.complete")
	return nil
}

type otlpTarget struct {
	protocol string // "grpc" or "http"
	endpoint string // host:port
	path     string
	insecure bool
}

var runtimeMetricsOnce sync.Once
var runtimeMetricsErr error

// setupTelemetry returns nil when neither tracing nor metrics are requested.
func setupTelemetry(ctx context.Context, cfg telemetryConfig, logger pslog.Logger) (*telemetryBundle, error) {
	if !cfg.enabled() {
		if cfg.runtimeMetrics {
			return nil, fmt.Errorf("telemetry: runtime metrics require --metrics-listen")
		}
		return nil, nil
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName("fmgctl"),
			semconv.ServiceVersion(version.Current()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	bundle := &telemetryBundle{logger: logger}
	if endpoint := strings.TrimSpace(cfg.otlpEndpoint); endpoint != "" {
		target, err := resolveOTLPTarget(endpoint)
		if err != nil {
			return nil, err
		}
		switch target.protocol {
		case "grpc":
			bundle.tracerProvider, err = setupGRPCTracing(ctx, target, res)
		case "http":
			bundle.tracerProvider, err = setupHTTPTracing(ctx, target, res)
		default:
			err = fmt.Errorf("telemetry: unsupported protocol %q", target.protocol)
		}
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(bundle.tracerProvider)
		logger.Info("telemetry.tracing.enabled",
			"protocol", target.protocol,
			"endpoint", target.endpoint,
			"path", target.path,
			"insecure", target.insecure,
		)
	}

	if listen := strings.TrimSpace(cfg.metricsListen); listen != "" {
		if err := bundle.startMetrics(ctx, listen, cfg.runtimeMetrics, res); err != nil {
			_ = bundle.Shutdown(ctx)
			return nil, err
		}
		logger.Info("telemetry.metrics.enabled", "listen", bundle.metricsLn.Addr().String())
	} else if cfg.runtimeMetrics {
		_ = bundle.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: runtime metrics require --metrics-listen")
	}

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	otel.SetErrorHandler(otelErrorHandler{logger: logger})
	return bundle, nil
}

func (t *telemetryBundle) startMetrics(_ context.Context, listen string, runtimeMetrics bool, res *resource.Resource) error {
	registry := prometheus.NewRegistry()
	exporterOpts := []otelprometheus.Option{otelprometheus.WithRegisterer(registry)}
	if runtimeMetrics {
		exporterOpts = append(exporterOpts, otelprometheus.WithProducer(otelruntime.NewProducer()))
	}
	exporter, err := otelprometheus.New(exporterOpts...)
	if err != nil {
		return fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(t.meterProvider)
	if runtimeMetrics {
		runtimeMetricsOnce.Do(func() {
			runtimeMetricsErr = otelruntime.Start(otelruntime.WithMeterProvider(t.meterProvider))
		})
		if runtimeMetricsErr != nil {
			return runtimeMetricsErr
		}
	}
	t.metricsServer, t.metricsLn, err = startMetricsServer(listen, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), t.logger)
	return err
}

func setupGRPCTracing(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	traceOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target.endpoint),
		otlptracegrpc.WithTimeout(10 * time.Second),
	}
	if target.insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		traceOpts = append(traceOpts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	} else {
		tlsConfig := credentials.NewClientTLSFromCert(nil, "")
		traceOpts = append(traceOpts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(tlsConfig)))
	}
	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (grpc): %w", err)
	}
	return newTracerProvider(traceExporter, res), nil
}

func setupHTTPTracing(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if target.insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	if target.path != "" && target.path != "/" {
		traceOpts = append(traceOpts, otlptracehttp.WithURLPath(target.path))
	}
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (http): %w", err)
	}
	return newTracerProvider(traceExporter, res), nil
}

func newTracerProvider(exporter sdktrace.SpanExporter, res *resource.Resource) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(exporter),
	)
}

func startMetricsServer(addr string, handler http.Handler, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("telemetry.metrics.serve_error", "error", err)
		}
	}()
	return srv, ln, nil
}

// resolveOTLPTarget maps grpc://, grpcs://, http:// and https:// endpoints;
// a bare host[:port] means insecure gRPC.
func resolveOTLPTarget(raw string) (otlpTarget, error) {
	if raw == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		endpoint := raw
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4317")
		}
		return otlpTarget{protocol: "grpc", endpoint: endpoint, insecure: true}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	host := u.Host
	if host == "" {
		host = u.Path
		u.Path = ""
	}
	target := otlpTarget{
		endpoint: host,
		path:     strings.TrimSuffix(u.Path, "/"),
	}
	switch strings.ToLower(u.Scheme) {
	case "grpc":
		target.protocol = "grpc"
		target.insecure = true
	case "grpcs":
		target.protocol = "grpc"
	case "http":
		target.protocol = "http"
		target.insecure = true
	case "https":
		target.protocol = "http"
	default:
		return otlpTarget{}, fmt.Errorf("telemetry: unknown scheme %q", u.Scheme)
	}
	if target.endpoint == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: missing endpoint host")
	}
	if !strings.Contains(target.endpoint, ":") {
		port := "4317"
		if target.protocol == "http" {
			port = "4318"
		}
		target.endpoint = net.JoinHostPort(target.endpoint, port)
	}
	return target, nil
}
