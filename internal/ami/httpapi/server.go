// Package httpapi serves Ami sessions over HTTP and websockets.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thriveai/ami/common/trace"
	"github.com/thriveai/ami/common/version"
	"github.com/thriveai/ami/internal/ami/generator"
	"github.com/thriveai/ami/internal/ami/session"
	"github.com/thriveai/ami/internal/ami/transcript"
)

const (
	// TraceHeader carries the request trace id in both directions.
	TraceHeader = "X-Request-ID"
	// RateLimitHeader reports how many remote replies the session may
	// still request in the current window.
	RateLimitHeader = "X-RateLimit-Remaining"
)

// Deps are the collaborators of a Server.
type Deps struct {
	Registry *session.Registry
	Hub      *Hub
	Archive  transcript.Archive
	// Recorder, when set, is drained before a purge deletes the archive.
	Recorder *transcript.Recorder
	// Limiter, when set, is reported in the RateLimitHeader of session
	// responses.
	Limiter *generator.RateLimiter
	Logger  *slog.Logger

	// Reported by /status.
	GeneratorMode string
	Backend       string
}

// Server exposes sessions of a Registry over REST and websockets. It is
// built once by New and serves until Shutdown.
type Server struct {
	deps    Deps
	log     *slog.Logger
	engine  *gin.Engine
	started time.Time

	mu       sync.Mutex
	http     *http.Server
	shutdown bool
}

// New builds the router. Closing a session disconnects its websocket
// clients.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Hub == nil {
		d.Hub = NewHub(d.Logger)
	}
	if d.Archive == nil {
		d.Archive = transcript.Nop{}
	}
	d.Registry.OnClose(d.Hub.Drop)
	s := &Server{deps: d, log: d.Logger.With("component", "http"), started: time.Now()}
	s.engine = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks serving addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.http = srv
	s.mu.Unlock()

	s.log.Info("http server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects websocket clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.http
	s.mu.Unlock()
	s.deps.Hub.CloseAll()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), traceMiddleware(), s.logMiddleware(), corsMiddleware())

	r.GET("/health", s.health)
	r.GET("/status", s.status)

	api := r.Group("/api/sessions")
	{
		api.POST("", s.createSession)
		api.GET("", s.listSessions)
		api.GET("/:id", s.getSession)
		api.DELETE("/:id", s.deleteSession)
		api.POST("/:id/messages", s.submit)
		api.POST("/:id/voice", s.toggleVoice)
		api.PUT("/:id/input", s.setInput)
		api.GET("/:id/suggestions", s.suggestions)
		api.POST("/:id/suggestions", s.selectSuggestion)
		api.POST("/:id/interactions", s.interaction)
		api.POST("/:id/surface", s.surface)
		api.POST("/:id/actions", s.activate)
		api.GET("/:id/transcript", s.transcript)
	}
	r.GET("/ws/sessions/:id", s.websocket)
	return r
}

func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TraceHeader)
		if id == "" {
			id = trace.NewID()
		}
		c.Request = c.Request.WithContext(trace.WithID(c.Request.Context(), id))
		c.Header(TraceHeader, id)
		c.Next()
	}
}

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"trace_id", trace.FromContext(c.Request.Context()),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, "+TraceHeader)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", TraceHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":           version.String(),
		"uptime":            time.Since(s.started).Round(time.Second).String(),
		"sessions":          s.deps.Registry.Len(),
		"websocket_clients": s.deps.Hub.Clients(""),
		"generator":         s.deps.GeneratorMode,
		"transcripts":       s.deps.Backend,
	})
}
