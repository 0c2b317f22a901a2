// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package control exposes the simulator state over HTTP and a CBOR
// websocket so test rigs can drive values without the terminal panel.
package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thermoquad/vescsim/internal/config"
	"github.com/Thermoquad/vescsim/internal/session"
	"github.com/Thermoquad/vescsim/internal/state"
	"github.com/Thermoquad/vescsim/pkg/vesc"
)

// Server is the control HTTP server
type Server struct {
	cfg    config.ControlConfig
	state  *state.State
	stats  *session.Statistics
	logger *zap.Logger
	srv    *http.Server
}

// New creates the server and registers its routes. stats and
// metricsHandler may be nil.
func New(cfg config.ControlConfig, st *state.State, stats *session.Statistics, metricsHandler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 250 * time.Millisecond
	}

	s := &Server{cfg: cfg, state: st, stats: stats, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := r.Group("/api")
	api.GET("/state", s.getState)
	api.PUT("/state", s.putState)
	api.GET("/fields", s.getFields)
	api.GET("/stats", s.getStats)

	r.GET("/ws", s.serveWS)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", zap.String("addr", s.cfg.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// requestLogger logs each request with a request id
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()
		logger.Debug("control request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Map())
}

func (s *Server) putState(c *gin.Context) {
	var updates map[string]float64
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.state.SetMany(updates); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, vesc.ErrUnknownField) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("state updated", zap.Any("fields", updates))
	c.JSON(http.StatusOK, s.state.Map())
}

func (s *Server) getFields(c *gin.Context) {
	c.JSON(http.StatusOK, state.Fields())
}

func (s *Server) getStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session statistics"})
		return
	}
	snap := s.stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"connected":        snap.Connected,
		"session":          snap.SessionID,
		"total_frames":     snap.TotalFrames,
		"valid_frames":     snap.ValidFrames,
		"crc_errors":       snap.CRCErrors,
		"malformed_frames": snap.MalformedFrames,
		"unknown_commands": snap.UnknownCommands,
		"replies":          snap.RepliesByCmd,
		"faults_injected":  snap.FaultsInjected,
		"bytes_skipped":    snap.BytesSkipped,
		"reconnects":       snap.Reconnects,
		"frame_rate":       snap.FrameRate,
		"error_rate":       snap.ErrorRate,
	})
}
