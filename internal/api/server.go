// Package api wires the Gin engine of the hosted session service: tenant-gated session and
// GraphQL routes, the unauthenticated OAuth callback, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heb-mcp/hebsession/internal/api/handlers"
	"github.com/heb-mcp/hebsession/internal/api/middleware"
	"github.com/heb-mcp/hebsession/internal/auth/oauth"
	"github.com/heb-mcp/hebsession/internal/buildinfo"
	"github.com/heb-mcp/hebsession/internal/config"
	"github.com/heb-mcp/hebsession/internal/logging"
	"github.com/heb-mcp/hebsession/internal/metrics"
	"github.com/heb-mcp/hebsession/internal/tenant"
	sdkaccess "github.com/heb-mcp/hebsession/sdk/access"
	log "github.com/sirupsen/logrus"
)

// Options carries the collaborators the server routes to.
type Options struct {
	Tenants *tenant.Manager
	Access  *sdkaccess.Manager
	// OAuth may be nil when no identity provider is configured.
	OAuth   *oauth.Client
	Pending *oauth.Pending
}

// Server is the HTTP front of the session service.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	tenants *tenant.Manager
}

// NewServer builds the engine and registers every route.
func NewServer(cfg *config.Config, opts Options) *Server {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	s := &Server{engine: engine, tenants: opts.Tenants}
	h := handlers.New(opts.Tenants, opts.OAuth, opts.Pending)
	s.setupRoutes(h, opts.Access)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(h *handlers.Handler, access *sdkaccess.Manager) {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		metrics.Handler().ServeHTTP(c.Writer, c.Request)
	})
	s.engine.GET("/v1/oauth/callback", h.OAuthCallback)

	v1 := s.engine.Group("/v1", middleware.AccessMiddleware(access))
	{
		v1.GET("/session", h.GetSession)
		v1.DELETE("/session", h.DeleteSession)
		v1.PUT("/session/cookies", h.PutCookies)
		v1.PUT("/session/tokens", h.PutTokens)
		v1.PUT("/session/context", h.PutContext)
		v1.POST("/oauth/start", h.StartOAuth)
		v1.POST("/graphql/:operation", h.ExecuteOperation)
	}
}

func (s *Server) health(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  buildinfo.Version,
		"commit":   buildinfo.Commit,
		"sessions": s.tenants.Len(),
	})
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens until Stop is called.
func (s *Server) Start() error {
	log.Infof("session service listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and waits for background warm-ups.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.tenants.Wait()
	if err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
