package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stillalive/internal/eventbus"
	"stillalive/internal/storage"
	logx "stillalive/pkg/logx"
)

// Store is the storage surface the handlers need.
type Store interface {
	GetCharacter(ctx context.Context, id string) (storage.Character, error)
	GetCharacterBySecret(ctx context.Context, secret string) (storage.Character, error)
	GetCharacterByDisplayCode(ctx context.Context, code string) (storage.Character, error)
	AppendStatus(ctx context.Context, e storage.StatusEvent) (storage.StatusEvent, error)
	LatestActivity(ctx context.Context, characterID string) (time.Time, bool, error)
	LatestStatuses(ctx context.Context, characterID string) ([]storage.StatusEvent, error)
	GetWillConfigByCharacter(ctx context.Context, characterID string) (storage.WillConfig, error)
	UpsertWillConfig(ctx context.Context, w storage.WillConfig) (storage.WillConfig, error)
	Ping(ctx context.Context) error
}

// Metrics receives ingestion counters.
type Metrics interface {
	StatusRecorded(statusType string)
}

type nopMetrics struct{}

func (nopMetrics) StatusRecorded(string) {}

type Config struct {
	// Token guards the owner endpoints. Empty disables them.
	Token string
	// MaxBodyBytes caps request bodies; 0 means 64 KiB.
	MaxBodyBytes int64
}

type Server struct {
	store          Store
	cfg            Config
	log            logx.Logger
	bus            eventbus.Bus
	metrics        Metrics
	metricsHandler http.Handler
	pprof          bool
	state          func(ctx context.Context) any
	engine         *gin.Engine
}

type Option func(*Server)

// WithMetrics records ingestion metrics and serves h on /metrics.
func WithMetrics(m Metrics, h http.Handler) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
		s.metricsHandler = h
	}
}

// WithPprof mounts the runtime profiler under /debug/pprof behind the owner token.
func WithPprof(enabled bool) Option {
	return func(s *Server) { s.pprof = enabled }
}

// WithState serves the value returned by fn as JSON on /debug/state behind
// the owner token.
func WithState(fn func(ctx context.Context) any) Option {
	return func(s *Server) { s.state = fn }
}

func New(store Store, cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	s := &Server{
		store:   store,
		cfg:     cfg,
		log:     log,
		bus:     bus,
		metrics: nopMetrics{},
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the gin engine as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), s.limitBody())

	r.GET("/healthz", s.health)
	if s.metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(s.metricsHandler))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/status/update", s.updateStatus)
	v1.GET("/d/:code", s.display)

	owner := v1.Group("/characters/:id", s.requireToken())
	owner.GET("/will", s.getWill)
	owner.PUT("/will", s.putWill)

	if s.state != nil {
		r.GET("/debug/state", s.requireToken(), func(c *gin.Context) {
			c.JSON(http.StatusOK, s.state(c.Request.Context()))
		})
	}
	if s.pprof {
		dbg := r.Group("/debug/pprof", s.requireToken())
		dbg.GET("/", gin.WrapF(pprof.Index))
		dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(pprof.Profile))
		dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
		dbg.POST("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/trace", gin.WrapF(pprof.Trace))
		dbg.GET("/:profile", func(c *gin.Context) {
			pprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
		})
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.log.Warn("health check failed", logx.Err(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if !s.log.Enabled(logx.LevelDebug) {
			return
		}
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
		}
		c.Next()
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Token == "" {
			fail(c, http.StatusForbidden, "owner api disabled")
			return
		}
		h := c.GetHeader("Authorization")
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(tok)), []byte(s.cfg.Token)) != 1 {
			fail(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Next()
	}
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody{Error: msg})
}
