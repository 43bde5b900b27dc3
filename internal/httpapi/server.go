// Package httpapi serves the operator API and the gateway webhook.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"expirybot/internal/dispatch"
	"expirybot/internal/gateway"
	"expirybot/internal/storage"
	"expirybot/internal/task/scheduler"
	logx "expirybot/pkg/logx"
)

// Dispatcher is the orchestrator surface used by the API.
type Dispatcher interface {
	RunVendors(ctx context.Context, opt dispatch.Options) (dispatch.Summary, error)
	RunClients(ctx context.Context, opt dispatch.Options) (dispatch.Summary, error)
	SendOne(ctx context.Context, to, text string) (dispatch.SendResult, error)
	SendTest(ctx context.Context, to string) (dispatch.SendResult, error)
	HandleInbound(ctx context.Context, msg dispatch.InboundMessage) (dispatch.InboundResult, error)
	InFlight() map[dispatch.Channel]string
}

type History interface {
	List(ctx context.Context, q storage.Query) (storage.Page, error)
}

type Gateway interface {
	ConnectionState(ctx context.Context) gateway.Status
	Connect(ctx context.Context) gateway.Pairing
}

type Schedules interface {
	Snapshot() scheduler.Snapshot
}

// Deps are the components behind the routes. Metrics may be nil.
type Deps struct {
	Dispatch  Dispatcher
	History   History
	Gateway   Gateway
	Scheduler Schedules
	Metrics   http.Handler
	Location  *time.Location
}

type Config struct {
	Addr              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	TriggersPerMinute int
	APIKey            string
	ServiceName       string
	Pprof             PprofConfig
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.TriggersPerMinute <= 0 {
		c.TriggersPerMinute = 6
	}
	if c.ServiceName == "" {
		c.ServiceName = "expirybot"
	}
	return c
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	// base is cancelled at shutdown; runs started over HTTP outlive the
	// request but not the process.
	base context.Context

	limiter *rate.Limiter
	router  *gin.Engine
	srv     *http.Server
}

func New(base context.Context, cfg Config, deps Deps, log logx.Logger) *Server {
	cfg = cfg.withDefaults()
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		base:    base,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.TriggersPerMinute)), cfg.TriggersPerMinute),
	}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		// WriteTimeout stays 0 by default: trigger responses wait for the run.
		WriteTimeout: cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return base },
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery(), otelgin.Middleware(s.cfg.ServiceName), s.requestLog())

	r.GET("/healthz", s.Health)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	r.POST("/webhooks/evolution", s.EvolutionWebhook)

	api := r.Group("/api", s.auth())
	{
		limited := s.rateLimit()
		api.POST("/notifications/trigger", limited, s.TriggerVendors)
		api.POST("/notifications/clients/trigger", limited, s.TriggerClients)
		api.POST("/notifications/send", limited, s.SendMessage)
		api.POST("/notifications/test", limited, s.SendTest)
		api.GET("/notifications", s.ListNotifications)
		api.GET("/notifications/scheduler-status", s.SchedulerStatus)

		api.GET("/gateway/status", s.GatewayStatus)
		api.GET("/gateway/qr", s.GatewayQR)
		api.GET("/notifications/evolution/status", s.GatewayStatus)
		api.GET("/notifications/evolution/qr", s.GatewayQR)
	}
	s.mountPprof(r)
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// runContext detaches a run from the request so a dropped client does not
// abort it mid-campaign, while keeping request values and server shutdown.
func (s *Server) runContext(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	stop := context.AfterFunc(s.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func abortWith(c *gin.Context, err error) {
	apiErr := fromError(err)
	c.AbortWithStatusJSON(MapErrorToHTTPStatus(apiErr), apiErr)
}
