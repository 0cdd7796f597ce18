package httpapi

import (
	"net/http"

	"smallbiznis-loyalty/pkg/health"
	"smallbiznis-loyalty/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		fx.Annotate(NewRouter, fx.As(new(http.Handler))),
	),
)

type RouterParams struct {
	fx.In

	Routes  []Route              `group:"routes"`
	Health  health.HealthService `optional:"true"`
	Gateway *runtime.ServeMux    `optional:"true"`
	Meter   metric.MeterProvider `optional:"true"`
}

// NewRouter mounts every route set on one gin engine. Paths no route claims
// fall through to the grpc-gateway mux when one is configured.
func NewRouter(p RouterParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	var httpMetrics *middleware.HTTPMetrics
	if p.Meter != nil {
		m, err := middleware.NewHTTPMetrics(p.Meter)
		if err != nil {
			zap.L().Warn("http metrics disabled", zap.Error(err))
		} else {
			httpMetrics = m
		}
	}
	r.Use(middleware.AccessLog(httpMetrics), middleware.Error())

	if p.Health != nil {
		r.GET("/healthz", p.Health.Liveness)
		r.GET("/readyz", p.Health.Readiness)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, route := range p.Routes {
		route.Register(r)
	}

	if p.Gateway != nil {
		r.NoRoute(gin.WrapH(p.Gateway))
	}
	return r
}
