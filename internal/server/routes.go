package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"dermassist/internal/utility"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"https://*", "http://*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Platform"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	e.Use(LoggerMiddleware)

	e.GET("/health", s.healthHandler)

	// Profile sidebar data.
	e.GET("/profile", s.profileHandler)

	// Chat workflow.
	e.POST("/chat", s.chatHandler)
	e.POST("/chat/image", s.chatImageHandler)
	e.GET("/chat/history", s.historyHandler)
	e.DELETE("/chat/history", s.clearHistoryHandler)
	e.GET("/chat/stream", s.chatStreamHandler)

	return e
}

// LoggerMiddleware assigns a request id and stores a request-scoped logger in
// the echo context.
func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Response().Header().Set("X-Request-ID", requestID)

		logger := log.With().
			Str("request_id", requestID).
			Str("remote_ip", utility.GetRealIP(c)).
			Logger()

		c.Set("logger", &logger)

		return next(c)
	}
}
