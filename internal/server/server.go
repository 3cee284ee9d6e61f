package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/debtor/internal/alert"
	alertdomain "github.com/smallbiznis/debtor/internal/alert/domain"
	"github.com/smallbiznis/debtor/internal/audit"
	auditdomain "github.com/smallbiznis/debtor/internal/audit/domain"
	"github.com/smallbiznis/debtor/internal/config"
	"github.com/smallbiznis/debtor/internal/credit"
	creditdomain "github.com/smallbiznis/debtor/internal/credit/domain"
	"github.com/smallbiznis/debtor/internal/ledger"
	ledgerdomain "github.com/smallbiznis/debtor/internal/ledger/domain"
	"github.com/smallbiznis/debtor/internal/observability"
	obsmiddleware "github.com/smallbiznis/debtor/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/debtor/internal/observability/metrics"
	obstracing "github.com/smallbiznis/debtor/internal/observability/tracing"
	"github.com/smallbiznis/debtor/internal/ratelimit"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	ledger.Module,
	credit.Module,
	alert.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
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

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	creditSvc  creditdomain.Service
	ledgerSvc  ledgerdomain.Service
	alertSvc   alertdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	limiter    *ratelimit.CreditCheckLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	CreditSvc  creditdomain.Service
	LedgerSvc  ledgerdomain.Service
	AlertSvc   alertdomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics           `optional:"true"`
	Limiter    *ratelimit.CreditCheckLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		creditSvc:  p.CreditSvc,
		ledgerSvc:  p.LedgerSvc,
		alertSvc:   p.AlertSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		limiter:    p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.OrgContext())

	customers := api.Group("/customers/:customer_id")
	customers.GET("/debt", s.GetCustomerDebt)
	customers.POST("/credit-check", s.CreditCheckRateLimit(), s.CheckCreditAvailability)
	customers.POST("/payments", s.RecordPayment)
	customers.GET("/debt-history", s.GetDebtHistory)
	customers.POST("/adjustments", s.CreateAdjustment)
	customers.PUT("/credit-limit", s.UpdateCreditLimit)
	customers.POST("/block", s.BlockCustomer)
	customers.POST("/unblock", s.UnblockCustomer)

	api.GET("/alerts", s.ListDebtAlerts)
}
