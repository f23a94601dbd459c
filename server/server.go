// Package server exposes the verifiers over HTTP with gin.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/basehealth/x402"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/signin"
)

// NonceCookie carries the single-use sign-in nonce.
const NonceCookie = "siwe_nonce"

type Server struct {
	x            *x402.X402
	logger       logger.Logger
	gatherer     prometheus.Gatherer
	cookieSecure bool
	nonceTTL     time.Duration
	statement    string
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetricsGatherer exposes g on GET /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithSecureCookies marks the nonce cookie Secure. Disable only for plain
// HTTP development setups.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) {
		s.cookieSecure = secure
	}
}

// WithNonceTTL sets the nonce cookie lifetime; it should match the sign-in
// freshness window.
func WithNonceTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.nonceTTL = d
		}
	}
}

// WithStatement sets the human readable line included in sign-in messages.
func WithStatement(statement string) Option {
	return func(s *Server) {
		s.statement = statement
	}
}

func New(x *x402.X402, opts ...Option) *Server {
	s := &Server{
		x:            x,
		logger:       logger.NoopLogger{},
		cookieSecure: true,
		nonceTTL:     signin.DefaultFreshness,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.Register(r)
	return r
}

// Register adds the routes to r.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "network": s.x.Network()})
	})
	r.GET("/supported", s.handleSupported)
	r.POST("/x402/verify", s.handleVerify)

	auth := r.Group("/auth/wallet")
	auth.POST("/nonce", s.handleNonce)
	auth.POST("/verify", s.handleSignIn)

	r.POST("/tips/verify", s.handleTip)
	r.GET("/receipts/:txHash", s.handleReceipt)

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}
