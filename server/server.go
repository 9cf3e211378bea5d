// Package server exposes the resolver as an HTTP tool endpoint.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zannhost/skiplink/config"
	"github.com/zannhost/skiplink/fingerprint"
	"github.com/zannhost/skiplink/metrics"
	"github.com/zannhost/skiplink/protocol"
	"github.com/zannhost/skiplink/resolver"
	"github.com/zannhost/skiplink/transport"
)

// Resolver is the capability the endpoint needs
type Resolver interface {
	Resolve(ctx context.Context, shortLink, siteKey string) (*resolver.ResolvedLink, error)
}

// ResolveRequest is the POST body of /api/skiplink
type ResolveRequest struct {
	URL     string `json:"url" binding:"required"`
	SiteKey string `json:"sitekey"`
}

// Server serves /api/skiplink, /healthz, /presets and /metrics
type Server struct {
	cfg      config.ServerConfig
	resolver Resolver
	metrics  *metrics.Metrics
	log      *zap.Logger
	engine   *gin.Engine
}

// New builds the router. m may be nil, which disables /metrics.
func New(cfg config.ServerConfig, r Resolver, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		cfg:      cfg,
		resolver: r,
		metrics:  m,
		log:      log.Named("server"),
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.observe())
	if len(cfg.CORSOrigins) > 0 {
		s.engine.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	}

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/presets", s.handlePresets)
	api := s.engine.Group("/api")
	if cfg.RateLimit > 0 {
		api.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)))
	}
	api.GET("/skiplink", s.handleResolveQuery)
	api.POST("/skiplink", s.handleResolveJSON)
	if m != nil && cfg.Metrics {
		s.engine.GET("/metrics", gin.WrapH(m.Handler()))
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on cfg.Addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 10 * time.Second
}

// observe logs each request and feeds the HTTP metrics
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, c.Request.Method, c.Writer.Status(), elapsed.Seconds())
		}
		s.log.Debug("Request served",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", elapsed))
	}
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	for _, o := range origins {
		if o == "*" {
			config.AllowAllOrigins = true
			return config
		}
	}
	config.AllowOrigins = origins
	return config
}

// rateLimit rejects requests beyond the limiter's budget
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, protocol.Response{Error: &protocol.ErrorInfo{
				Code:    protocol.ErrCodeRateLimited,
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, protocol.Health{Status: "ok", Version: protocol.Version})
}

func (s *Server) handlePresets(c *gin.Context) {
	c.JSON(http.StatusOK, protocol.PresetList{
		Default: fingerprint.DefaultPreset,
		Presets: fingerprint.Available(),
	})
}

func (s *Server) handleResolveQuery(c *gin.Context) {
	target := c.Query("url")
	if target == "" {
		c.JSON(http.StatusBadRequest, protocol.Response{Error: &protocol.ErrorInfo{
			Code:    protocol.ErrCodeInvalidRequest,
			Message: "url query parameter is required",
		}})
		return
	}
	s.resolve(c, target, c.Query("sitekey"))
}

func (s *Server) handleResolveJSON(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, protocol.Response{Error: &protocol.ErrorInfo{
			Code:    protocol.ErrCodeInvalidRequest,
			Message: "invalid request body: " + err.Error(),
		}})
		return
	}
	s.resolve(c, req.URL, req.SiteKey)
}

func (s *Server) resolve(c *gin.Context, target, siteKey string) {
	ctx := c.Request.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	link, err := s.resolver.Resolve(ctx, target, siteKey)
	if err != nil {
		s.log.Warn("Resolution failed", zap.String("url", target), zap.Error(err))
		c.JSON(statusFor(err), protocol.Response{Error: protocol.NewErrorInfo(err)})
		return
	}
	c.JSON(http.StatusOK, protocol.Response{Status: true, Result: link})
}

func statusFor(err error) int {
	switch {
	case protocol.IsClientError(err):
		return http.StatusBadRequest
	case transport.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
