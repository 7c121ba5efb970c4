// Package server is a reference task API the sync client can run against:
// bearer-token auth over a postgres-backed /tasks resource.
package server

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Server is the task API server
type Server struct {
	db   *sql.DB
	echo *echo.Echo
	log  *zap.Logger
}

// New creates a new server. A non-empty bootstrapToken is registered as a
// valid API token for the first user so a fresh instance is usable
// immediately.
func New(dbURL, bootstrapToken string) (*Server, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	s := &Server{
		db:  db,
		log: log,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		return nil, err
	}

	if bootstrapToken != "" {
		if err := s.registerToken(bootstrapToken, 1); err != nil {
			return nil, err
		}
	}

	// Setup Echo
	s.setupEcho()

	return s, nil
}

func (s *Server) setupEcho() {
	e := echo.New()
	e.HideBanner = true

	// Request logging middleware
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			res := c.Response()
			fields := []zap.Field{
				zap.Int("status", res.Status),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.String("ip", c.RealIP()),
				zap.Duration("latency", time.Since(start)),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}

			if res.Status >= http.StatusInternalServerError {
				s.log.Error("http request", fields...)
			} else {
				s.log.Info("http request", fields...)
			}

			return err
		}
	})

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())

	// Health check
	e.GET("/health", s.handleHealth)

	// Task endpoints
	protected := e.Group("")
	protected.Use(s.authMiddleware)
	protected.GET("/tasks", s.handleListTasks)
	protected.POST("/tasks", s.handleCreateTask)
	protected.PUT("/tasks/:id", s.handleUpdateTask)
	protected.DELETE("/tasks/:id", s.handleDeleteTask)

	s.echo = e
}

// registerToken makes token valid for userID.
func (s *Server) registerToken(token string, userID int64) error {
	_, err := s.db.Exec(`
		INSERT INTO api_tokens (token, user_id)
		VALUES ($1, $2)
		ON CONFLICT (token) DO NOTHING`,
		token, userID,
	)
	return err
}

// Close closes the database connection
func (s *Server) Close() error {
	_ = s.log.Sync()
	return s.db.Close()
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.echo
}

// Start starts the server
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
