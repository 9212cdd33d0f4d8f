package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/toolgate/internal/observability"
	"github.com/harun/toolgate/internal/tracing"
)

const (
	ctxKeyCorrelationID = "correlation_id"
	ctxKeyUserID        = "user_id"
)

func correlationIDFrom(c echo.Context) string {
	if id, ok := c.Get(ctxKeyCorrelationID).(string); ok {
		return id
	}
	return ""
}

func userIDFrom(c echo.Context) string {
	if id, ok := c.Get(ctxKeyUserID).(string); ok {
		return id
	}
	return ""
}

// requestContext attaches correlation and request ids to the request context
// and echoes them back on the response.
func (s *Server) requestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			correlationID := strings.TrimSpace(req.Header.Get(HeaderCorrelationID))
			if correlationID == "" {
				correlationID = tracing.NewCorrelationID()
			}

			requestID, err := gonanoid.New()
			if err != nil {
				requestID = tracing.NewTraceID()
			}

			ctx := tracing.WithCorrelationID(req.Context(), correlationID)
			ctx = tracing.WithRequestID(ctx, requestID)
			c.SetRequest(req.WithContext(ctx))
			c.Set(ctxKeyCorrelationID, correlationID)

			c.Response().Header().Set(HeaderCorrelationID, correlationID)
			c.Response().Header().Set(HeaderRequestID, requestID)

			return next(c)
		}
	}
}

// inFlight tracks requests for graceful shutdown and refuses new ones once
// shutdown has begun.
func (s *Server) inFlight() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s.shutdownMu.RLock()
			if s.isShuttingDown {
				s.shutdownMu.RUnlock()
				return writeError(c, http.StatusServiceUnavailable, ErrorBody{
					Code:    CodeUnavailable,
					Message: "server is shutting down",
				})
			}
			s.inFlightReqs.Add(1)
			s.shutdownMu.RUnlock()

			defer s.inFlightReqs.Done()
			return next(c)
		}
	}
}

// accessLog logs each request and counts it by route template
func (s *Server) accessLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			observability.RecordHTTPRequest(route, status)

			logger := tracing.LoggerFromContext(req.Context(), s.logger)
			ev := logger.Info()
			if status >= 500 {
				ev = logger.Error()
			} else if status >= 400 {
				ev = logger.Warn()
			}
			ev.Str("method", req.Method).
				Str("route", route).
				Str("ip", c.RealIP()).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("Gateway request")

			return nil
		}
	}
}

// requireUser rejects requests without a caller identity
func (s *Server) requireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			userID := strings.TrimSpace(req.Header.Get(HeaderUserID))
			if userID == "" {
				return writeError(c, http.StatusUnauthorized, ErrorBody{
					Code:    CodeUnauthorized,
					Message: HeaderUserID + " header is required",
				})
			}

			if s.auth != nil && !s.auth.Verify(userID, req.Header.Get(HeaderUserSignature)) {
				s.logger.Warn().
					Str("user_id", userID).
					Str("ip", c.RealIP()).
					Msg("Invalid user signature")
				return writeError(c, http.StatusUnauthorized, ErrorBody{
					Code:    CodeUnauthorized,
					Message: "invalid user signature",
				})
			}

			c.Set(ctxKeyUserID, userID)
			c.SetRequest(req.WithContext(tracing.WithUserID(req.Context(), userID)))
			return next(c)
		}
	}
}
