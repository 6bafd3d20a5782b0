// Package server provides the HTTP server implementation: routes,
// middleware, and the resettable init latch guarding first-request setup.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/antigravity/cloudcode-gateway/internal/config"
	"github.com/antigravity/cloudcode-gateway/internal/flow"
	"github.com/antigravity/cloudcode-gateway/internal/pipeline"
	"github.com/antigravity/cloudcode-gateway/internal/pool"
	"github.com/antigravity/cloudcode-gateway/internal/server/handlers"
)

// TokenCache is the narrow view of internal/token.Resolver the server
// wires into the refresh-token handler.
type TokenCache = handlers.TokenCacheClearer

// App is the root value constructed once at startup: it owns every
// component the handlers need and carries no package-level state (spec
// §9 Design Notes: "a root App value ... no ambient state").
type App struct {
	Config   *config.Config
	Pool     *pool.Pool
	Store    *pool.Store // nil when running without a Credential Store
	Pipeline *pipeline.Pipeline
	Flow     *flow.Monitor // nil disables the flow endpoints
	Tokens   TokenCache
	Log      zerolog.Logger
}

// Options configures the Server beyond what App already carries.
type Options struct {
	Debug bool
}

// Server wraps the gin engine plus the resettable init latch described in
// spec §5: "a mutex + state flag + broadcast channel, not a bare
// sync.Once (which cannot be reset on failure)". The teacher's Server used
// sync.Once for a conceptually identical first-request setup step; once
// failed, it could never recover without a process restart. This port
// replaces it with a latch that clears on failure so a later request gets
// a fresh attempt.
type Server struct {
	engine *gin.Engine
	app    *App
	opts   Options

	initMu       sync.Mutex
	initializing bool
	initialized  bool
	initErr      error
	initWaiters  chan struct{}

	httpServer *http.Server
}

// New builds a Server and registers its middleware and routes.
func New(app *App, opts Options) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, app: app, opts: opts}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying gin engine, for httptest-based route tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Initialize runs the one-time warm-up exactly once across concurrent
// callers. A caller that arrives while another is in flight waits on the
// current attempt's broadcast channel instead of racing a second attempt;
// a failed attempt clears the latch so the very next call retries instead
// of wedging the server permanently.
func (s *Server) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	if s.initialized {
		s.initMu.Unlock()
		return nil
	}
	if s.initializing {
		waitCh := s.initWaiters
		s.initMu.Unlock()
		select {
		case <-waitCh:
			return s.initResult()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.initializing = true
	waitCh := make(chan struct{})
	s.initWaiters = waitCh
	s.initMu.Unlock()

	err := s.runInit(ctx)

	s.initMu.Lock()
	s.initializing = false
	s.initErr = err
	s.initialized = err == nil
	s.initMu.Unlock()
	close(waitCh)

	return err
}

func (s *Server) initResult() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initErr
}

// runInit performs the lazy first-request setup. The teacher's version
// lazily constructed its account manager and cloud-code client here; this
// port already builds those eagerly in main, so the equivalent first-touch
// work is reconciling any cooldowns that expired while the process was
// starting and, when a Credential Store is configured, confirming its
// backup directory can be listed (a directory that does not exist yet is
// fine), so an unreadable store fails the first request cleanly instead of
// silently degrading. The flow-log directory is not checked here.
func (s *Server) runInit(ctx context.Context) error {
	s.app.Pool.ClearExpiredLimits()

	if s.app.Store != nil {
		if _, err := s.app.Store.ListBackups(); err != nil {
			return fmt.Errorf("credential store unavailable: %w", err)
		}
	}
	return nil
}

// ensureInitialized runs Initialize and, on failure, writes a 503
// api_error response and aborts the request chain.
func (s *Server) ensureInitialized(c *gin.Context) bool {
	if err := s.Initialize(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "service initialization failed: " + err.Error(),
			},
		})
		return false
	}
	return true
}

func (s *Server) initMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		c.Next()
	}
}

func bodySizeLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	cfg := s.app.Config
	log := s.app.Log

	s.engine.Use(CORSMiddleware())
	s.engine.Use(SilentHandlerMiddleware())
	s.engine.Use(RequestLoggingMiddleware(log, s.opts.Debug))
	s.engine.Use(bodySizeLimitMiddleware(10 << 20))
	s.engine.Use(s.initMiddleware())

	health := handlers.NewHealthHandler(s.app.Pool)
	models := handlers.NewModelsHandler()
	accounts := handlers.NewAccountsHandler(s.app.Pool, cfg)
	messages := handlers.NewMessagesHandler(s.app.Pipeline)
	chat := handlers.NewChatCompletionsHandler(s.app.Pipeline)
	refresh := handlers.NewRefreshTokenHandler(s.app.Tokens)
	admin := handlers.NewAdminHandler(cfg, s.app.Pool, s.app.Store)
	flows := handlers.NewFlowsHandler(s.app.Flow)

	s.engine.POST("/", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.GET("/health", health.Health)
	s.engine.GET("/account-limits", accounts.AccountLimits)
	s.engine.POST("/refresh-token", refresh.RefreshToken)

	v1 := s.engine.Group("/v1", APIKeyAuthMiddleware(cfg, log))
	v1.GET("/models", models.Models)
	v1.POST("/messages", messages.Messages)
	v1.POST("/messages/count_tokens", messages.CountTokens)
	v1.POST("/chat/completions", chat.ChatCompletions)

	adminGroup := s.engine.Group("/api/admin", AdminKeyAuthMiddleware(cfg, log))
	adminGroup.GET("/config", admin.GetConfig)
	adminGroup.POST("/config", admin.PatchConfig)
	adminGroup.POST("/backup", admin.CreateBackup)
	adminGroup.GET("/backups", admin.ListBackups)

	s.engine.GET("/api/flows", flows.Query)
	s.engine.DELETE("/api/flows", AdminKeyAuthMiddleware(cfg, log), flows.Clear)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "invalid_request_error",
				"message": "not found: " + c.Request.URL.Path,
			},
		})
	})
}

// Run starts the HTTP listener with the teacher's timeout profile: a
// generous write timeout to accommodate long-lived streaming responses. It
// blocks until the listener stops; call Shutdown from another goroutine to
// stop it gracefully.
func (s *Server) Run(addr string) error {
	s.initMu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	httpServer := s.httpServer
	s.initMu.Unlock()

	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener started by Run, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	s.initMu.Lock()
	httpServer := s.httpServer
	s.initMu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}
