package tracing

import (
	"context"
	"fmt"
	"trade_ledger/pkg/logger"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

var (
	serviceName = "default"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Host string
	Port int
}

func InitTracer(conf Config) (opentracing.Tracer, func(), error) {
	cfg := &jCfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           true,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	jMetricsFactory := metrics.NullFactory
	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(jMetricsFactory),
	)
	if err != nil {
		return nil, nil, err
	}

	opentracing.SetGlobalTracer(tracer)
	logger.Info("jaeger tracer %s reports to %s", serviceName, cfg.Reporter.LocalAgentHostPort)
	return tracer, func() {
		if err := closer.Close(); err != nil {
			logger.Error("Error closing Jaeger tracer: %v", err)
		}
	}, nil
}

// Start открывает дочерний спан от того, что лежит в ctx (или корневой).
// Без InitTracer работает глобальный NoopTracer.
func Start(ctx context.Context, operation string, tags ...opentracing.Tag) (opentracing.Span, context.Context) {
	opts := make([]opentracing.StartSpanOption, 0, len(tags))
	for _, t := range tags {
		opts = append(opts, t)
	}
	return opentracing.StartSpanFromContext(ctx, operation, opts...)
}

// Finish закрывает спан, помечая ошибку если она есть.
func Finish(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}
	span.Finish()
}
