// Package api exposes the engine over HTTP: JSON endpoints under /api,
// health and metrics, and the WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"buymax/internal/config"
	"buymax/internal/domain"
	"buymax/internal/monitor"
	"buymax/internal/observability"
	"buymax/internal/round"
	"buymax/internal/service"
)

// maxBodyBytes bounds config update payloads.
const maxBodyBytes = 64 << 10

// Backend is the engine surface served by Server.
type Backend interface {
	GetState(ctx context.Context) round.State
	GetLeaderboard(limit int) []domain.LeaderboardEntry
	GetSanitizedConfig() domain.SanitizedConfig
	GetMonitoringStatus() monitor.Status
	ValidateCandidateConfig(u config.Update) error
	ApplyConfig(ctx context.Context, u config.Update) (service.ApplyResult, error)
	RecentWinners(limit int) []domain.RoundResult
	History(ctx context.Context, limit int) ([]domain.RoundResult, error)
}

// Response is the envelope of every JSON reply under /api.
type Response struct {
	Success bool                `json:"success"`
	Data    interface{}         `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
	Errors  []config.FieldError `json:"errors,omitempty"`
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend     Backend
	events      http.Handler
	frontendURL string
	logger      *log.Logger
	started     time.Time
}

// Option configures Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithEventStream mounts h on /ws.
func WithEventStream(h http.Handler) Option {
	return func(s *Server) {
		s.events = h
	}
}

// WithFrontendURL sets the origin allowed by CORS. Empty allows any origin.
func WithFrontendURL(origin string) Option {
	return func(s *Server) {
		s.frontendURL = origin
	}
}

// NewServer creates a Server over b.
func NewServer(b Backend, opts ...Option) *Server {
	s := &Server{
		backend: b,
		logger:  log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.cors())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	if s.events != nil {
		r.GET("/ws", gin.WrapH(s.events))
	}

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/leaderboard", s.handleLeaderboard)
	api.GET("/winners", s.handleWinners)
	api.GET("/history", s.handleHistory)
	api.GET("/monitoring", s.handleMonitoring)
	api.GET("/config", s.handleGetConfig)
	api.POST("/config", s.handleApplyConfig)
	api.PUT("/config", s.handleApplyConfig)
	api.POST("/config/validate", s.handleValidateConfig)

	// Preflight requests are answered by the cors middleware.
	r.OPTIONS("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting HTTP server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Println("HTTP server stopped")
	return nil
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (s.frontendURL == "" || s.frontendURL == "*" || origin == s.frontendURL) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime":     time.Since(s.started).Truncate(time.Second).String(),
		"monitoring": s.backend.GetMonitoringStatus().Mode,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	ok(c, s.backend.GetState(c.Request.Context()))
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	limit, valid := parseLimit(c)
	if !valid {
		return
	}
	ok(c, s.backend.GetLeaderboard(limit))
}

func (s *Server) handleWinners(c *gin.Context) {
	limit, valid := parseLimit(c)
	if !valid {
		return
	}
	ok(c, s.backend.RecentWinners(limit))
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, valid := parseLimit(c)
	if !valid {
		return
	}
	results, err := s.backend.History(c.Request.Context(), limit)
	if err != nil {
		s.logger.Printf("History query failed: %v", err)
		fail(c, http.StatusInternalServerError, "history unavailable")
		return
	}
	if results == nil {
		results = []domain.RoundResult{}
	}
	ok(c, results)
}

func (s *Server) handleMonitoring(c *gin.Context) {
	ok(c, s.backend.GetMonitoringStatus())
}

func (s *Server) handleGetConfig(c *gin.Context) {
	ok(c, s.backend.GetSanitizedConfig())
}

func (s *Server) handleValidateConfig(c *gin.Context) {
	u, valid := decodeUpdate(c)
	if !valid {
		return
	}
	if err := s.backend.ValidateCandidateConfig(u); err != nil {
		s.configError(c, err)
		return
	}
	ok(c, gin.H{"valid": true})
}

func (s *Server) handleApplyConfig(c *gin.Context) {
	u, valid := decodeUpdate(c)
	if !valid {
		return
	}
	res, err := s.backend.ApplyConfig(c.Request.Context(), u)
	if err != nil {
		s.configError(c, err)
		return
	}
	ok(c, res)
}

func (s *Server) configError(c *gin.Context, err error) {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid configuration",
			Errors:  verr.Fields,
		})
		return
	}
	s.logger.Printf("Config update failed: %v", err)
	fail(c, http.StatusInternalServerError, "config update failed")
}

// decodeUpdate reads a config.Update body. Unknown fields are rejected.
func decodeUpdate(c *gin.Context) (config.Update, bool) {
	var u config.Update
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		fail(c, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return u, false
	}
	return u, true
}

// parseLimit reads the optional ?limit= parameter. 0 lets the backend pick its default.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Success: false, Error: msg})
}
