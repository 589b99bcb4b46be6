package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tbourn/go-fluency-battle/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	prevExp, prevRes := newExporter, newResource
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		newExporter, newResource = prevExp, prevRes
	})
}

func inMemory(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	newExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) { return exp, nil }
	return exp
}

func flush(t *testing.T) {
	t.Helper()
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global provider is %T", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestSetup_Disabled_NoOp(t *testing.T) {
	preserveOTelGlobals(t)
	prev := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), config.OTELConfig{Enabled: false, Endpoint: "ignored:4317"}, "v0")
	if err != nil || shutdown == nil {
		t.Fatalf("Setup = %v, %v", shutdown, err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled setup replaced the provider")
	}
}

func TestSetup_ExportsServiceSpans(t *testing.T) {
	preserveOTelGlobals(t)
	exp := inMemory(t)

	shutdown, err := Setup(context.Background(), config.OTELConfig{Enabled: true, ServiceName: "battled-test", SampleRatio: 1}, "v1.2.3")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("services/MatchService").Start(context.Background(), "FindOrCreateRandomMatch")
	span.End()
	flush(t)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "FindOrCreateRandomMatch" {
		t.Fatalf("spans = %+v", spans)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range map[string]string{"service.name": "battled-test", "service.version": "v1.2.3", "service.namespace": serviceNamespace} {
		if attrs[k] != v {
			t.Errorf("resource %s = %q; want %q", k, attrs[k], v)
		}
	}

	carrier := propagation.MapCarrier{}
	ctx, child := otel.Tracer("test").Start(context.Background(), "outbound")
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	child.End()
	if carrier.Get("traceparent") == "" {
		t.Fatalf("traceparent not injected: %v", carrier)
	}
}

func TestSetup_ZeroRatioDropsRootSpans(t *testing.T) {
	preserveOTelGlobals(t)
	exp := inMemory(t)

	shutdown, err := Setup(context.Background(), config.OTELConfig{Enabled: true, ServiceName: "svc", SampleRatio: 0}, "v0")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	flush(t)
	if n := len(exp.GetSpans()); n != 0 {
		t.Fatalf("exported %d spans at ratio 0", n)
	}
}

func TestSetup_RealExporterBuilds(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		preserveOTelGlobals(t)
		// the gRPC client dials lazily, so no collector is needed
		shutdown, err := Setup(context.Background(), config.OTELConfig{
			Enabled: true, Insecure: insecure, Endpoint: "localhost:4317", ServiceName: "svc", SampleRatio: 0.5,
		}, "v0")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Fatalf("provider not installed")
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = shutdown(ctx)
	}
}

func TestSetup_Failures_LeaveGlobalsIntact(t *testing.T) {
	cases := map[string]func(){
		"exporter": func() {
			newExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
				return nil, errors.New("boom-exporter")
			}
		},
		"resource": func() {
			newExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
				return tracetest.NewInMemoryExporter(), nil
			}
			newResource = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("boom-resource")
			}
		},
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			preserveOTelGlobals(t)
			breakIt()
			prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()

			if _, err := Setup(context.Background(), config.OTELConfig{Enabled: true, ServiceName: "svc", SampleRatio: 1}, "v0"); err == nil {
				t.Fatalf("expected error")
			}
			if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}

func Test_sampler(t *testing.T) {
	cases := map[float64]string{
		0:    "ParentBased{root:AlwaysOffSampler",
		-1:   "ParentBased{root:AlwaysOffSampler",
		1:    "ParentBased{root:AlwaysOnSampler",
		0.25: "ParentBased{root:TraceIDRatioBased{0.25}",
	}
	for ratio, prefix := range cases {
		if got := sampler(ratio).Description(); len(got) < len(prefix) || got[:len(prefix)] != prefix {
			t.Errorf("sampler(%v) = %q; want prefix %q", ratio, got, prefix)
		}
	}
}
