package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/renova/internal/clock"
	"github.com/smallbiznis/renova/internal/config"
	invoicedomain "github.com/smallbiznis/renova/internal/invoice/domain"
	"github.com/smallbiznis/renova/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/renova/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(log *zap.Logger, registry *prometheus.Registry) *gin.Engine {
	return NewEngine(log, registry)
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	clock  clock.Clock

	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	scheduler       *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	Clock clock.Clock

	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	Scheduler       *scheduler.Scheduler
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		clock:  p.Clock,

		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		scheduler:       p.Scheduler,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1", TenantContext())

	v1.POST("/subscriptions", s.CreateSubscription)
	v1.GET("/subscriptions", s.ListSubscriptions)
	v1.GET("/subscriptions/stats", s.SubscriptionStats)
	v1.GET("/subscriptions/:id", s.GetSubscriptionByID)
	v1.PATCH("/subscriptions/:id", s.UpdateSubscription)
	v1.POST("/subscriptions/:id/cancel", s.CancelSubscription)

	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/invoices/:id", s.GetInvoiceByID)
	v1.POST("/invoices/:id/pay", s.MarkInvoicePaid)
	v1.POST("/invoices/:id/void", s.VoidInvoice)

	v1.POST("/billing/run", s.RunBilling)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
