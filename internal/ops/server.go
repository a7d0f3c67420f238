// Package ops provides the operational HTTP API for airdancer.
package ops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusStore provides the counts reported by the status endpoint.
type StatusStore interface {
	CountUsers(ctx context.Context) (total, registered int, err error)
	CountSwitches(ctx context.Context) (total, online int, err error)
}

// Prober reports whether a long-lived connection is currently up.
type Prober interface {
	IsConnected() bool
}

// Server provides HTTP endpoints for airdancer.
type Server struct {
	echo   *echo.Echo
	store  StatusStore
	slack  Prober
	mqtt   Prober
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(store StatusStore, slack, mqtt Prober, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if slack == nil || mqtt == nil {
		return nil, fmt.Errorf("connection probes cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		store:  store,
		slack:  slack,
		mqtt:   mqtt,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// Prometheus metrics
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status         string       `json:"status"`
	SlackConnected bool         `json:"slack_connected"`
	MQTTConnected  bool         `json:"mqtt_connected"`
	Switches       SwitchCounts `json:"switches"`
	Users          UserCounts   `json:"users"`
}

// SwitchCounts summarizes the switch inventory.
type SwitchCounts struct {
	Total  int `json:"total"`
	Online int `json:"online"`
}

// UserCounts summarizes the user roster.
type UserCounts struct {
	Total      int `json:"total"`
	Registered int `json:"registered"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports connection state and inventory counts.
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()

	usersTotal, usersRegistered, err := s.store.CountUsers(ctx)
	if err != nil {
		s.logger.Error("counting users", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "status unavailable")
	}

	switchesTotal, switchesOnline, err := s.store.CountSwitches(ctx)
	if err != nil {
		s.logger.Error("counting switches", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "status unavailable")
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "ok",
		SlackConnected: s.slack.IsConnected(),
		MQTTConnected:  s.mqtt.IsConnected(),
		Switches: SwitchCounts{
			Total:  switchesTotal,
			Online: switchesOnline,
		},
		Users: UserCounts{
			Total:      usersTotal,
			Registered: usersRegistered,
		},
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
