package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/supportdesk/internal/audit"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	"github.com/smallbiznis/supportdesk/internal/authorization"
	"github.com/smallbiznis/supportdesk/internal/config"
	"github.com/smallbiznis/supportdesk/internal/directory"
	"github.com/smallbiznis/supportdesk/internal/events"
	"github.com/smallbiznis/supportdesk/internal/notification"
	"github.com/smallbiznis/supportdesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/supportdesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/supportdesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/supportdesk/internal/observability/tracing"
	"github.com/smallbiznis/supportdesk/internal/providers"
	"github.com/smallbiznis/supportdesk/internal/ratelimit"
	"github.com/smallbiznis/supportdesk/internal/servicelevel"
	sldomain "github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	"github.com/smallbiznis/supportdesk/internal/ticket"
	ticketdomain "github.com/smallbiznis/supportdesk/internal/ticket/domain"
	"github.com/smallbiznis/supportdesk/internal/volumealert"
	"github.com/smallbiznis/supportdesk/internal/workentry"
	workentrydomain "github.com/smallbiznis/supportdesk/internal/workentry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	audit.Module,
	events.Module,
	providers.Module,
	directory.Module,
	servicelevel.Module,
	volumealert.Module,
	workentry.Module,
	ticket.Module,
	notification.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine *gin.Engine
	cfg    config.Config

	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	ticketSvc       ticketdomain.Service
	workEntrySvc    workentrydomain.Service
	serviceLevelSvc sldomain.Service

	writeLimiter *ratelimit.WriteLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	TicketSvc       ticketdomain.Service
	WorkEntrySvc    workentrydomain.Service
	ServiceLevelSvc sldomain.Service
	WriteLimiter    *ratelimit.WriteLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		ticketSvc:       p.TicketSvc,
		workEntrySvc:    p.WorkEntrySvc,
		serviceLevelSvc: p.ServiceLevelSvc,
		writeLimiter:    p.WriteLimiter,
		obsMetrics:      p.ObsMetrics,
	}
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	api.Use(ActorRequired())

	tickets := api.Group("/tickets")
	{
		tickets.POST("", s.authorize(authorization.ObjectTicket, authorization.ActionTicketCreate), s.CreateTicket)
		tickets.GET("/:id", s.authorize(authorization.ObjectTicket, authorization.ActionTicketView), s.GetTicket)
		tickets.GET("/:id/messages", s.authorize(authorization.ObjectTicket, authorization.ActionTicketView), s.ListTicketMessages)
		tickets.POST("/:id/messages",
			s.authorize(authorization.ObjectTicket, authorization.ActionTicketPostMessage),
			s.WriteRateLimit(writeKindMessage),
			s.PostTicketMessage,
		)
		tickets.PATCH("/:id/status", s.authorize(authorization.ObjectTicket, authorization.ActionTicketChangeStatus), s.ChangeTicketStatus)
		tickets.PATCH("/:id/priority", s.authorize(authorization.ObjectTicket, authorization.ActionTicketChangePriority), s.ChangeTicketPriority)

		tickets.GET("/:id/work-entries", s.authorize(authorization.ObjectWorkEntry, authorization.ActionWorkEntryView), s.ListTicketWorkEntries)
		tickets.POST("/:id/work-entries",
			s.authorize(authorization.ObjectWorkEntry, authorization.ActionWorkEntryCreate),
			s.WriteRateLimit(writeKindWorkEntry),
			s.CreateWorkEntry,
		)
	}

	workEntries := api.Group("/work-entries")
	{
		workEntries.POST("/mark-billed", s.authorize(authorization.ObjectWorkEntry, authorization.ActionWorkEntryMarkBilled), s.MarkWorkEntriesBilled)
		workEntries.GET("/:id", s.authorize(authorization.ObjectWorkEntry, authorization.ActionWorkEntryView), s.GetWorkEntry)
		workEntries.PATCH("/:id", s.authorize(authorization.ObjectWorkEntry, authorization.ActionWorkEntryUpdate), s.UpdateWorkEntry)
		workEntries.DELETE("/:id", s.authorize(authorization.ObjectWorkEntry, authorization.ActionWorkEntryDelete), s.DeleteWorkEntry)
	}

	companies := api.Group("/companies")
	{
		companies.GET("/:id/service-level", s.authorize(authorization.ObjectServiceLevel, authorization.ActionServiceLevelView), s.GetServiceLevel)
		companies.POST("/:id/service-level/renew", s.authorize(authorization.ObjectServiceLevel, authorization.ActionServiceLevelRenew), s.RenewServiceLevel)
		companies.GET("/:id/unbilled-entries", s.authorize(authorization.ObjectWorkEntry, authorization.ActionWorkEntryUnbilled), s.ListUnbilledWorkEntries)
	}

	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
