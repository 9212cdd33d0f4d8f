package gateway

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/harun/toolgate/pkg/broker"
)

// StatusFor maps a broker error kind to its HTTP status
func StatusFor(kind broker.Kind) int {
	switch kind {
	case broker.KindInvalidParameters:
		return http.StatusBadRequest
	case broker.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case broker.KindOAuthRequired:
		return http.StatusForbidden
	case broker.KindSessionProvisioningFailed, broker.KindToolExecutionFailed:
		return http.StatusBadGateway
	case broker.KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeBrokerError renders err, which is normally a *broker.Error
func (s *Server) writeBrokerError(c echo.Context, err error, correlationID string) error {
	var be *broker.Error
	if !errors.As(err, &be) {
		return writeError(c, http.StatusInternalServerError, ErrorBody{
			Code:          CodeInternal,
			Message:       "internal error",
			CorrelationID: correlationID,
		})
	}

	if be.CorrelationID != "" {
		correlationID = be.CorrelationID
	}

	status := StatusFor(be.Kind)
	if be.Kind == broker.KindRateLimitExceeded {
		c.Response().Header().Set("Retry-After", s.retryAfter(c))
	}

	return writeError(c, status, ErrorBody{
		Code:          string(be.Kind),
		Message:       be.Message,
		CorrelationID: correlationID,
		Fields:        be.Fields,
		OAuthURL:      be.OAuthURL,
		Provider:      be.Provider,
	})
}

// retryAfter returns whole seconds until the caller may try again, at least 1
func (s *Server) retryAfter(c echo.Context) string {
	secs := 1
	if s.limiter != nil {
		d := s.limiter.RetryAfter(c.Request().Context(), userIDFrom(c))
		if d > 0 {
			secs = int(math.Ceil(d.Seconds()))
		}
	}
	return strconv.Itoa(secs)
}

func writeError(c echo.Context, status int, body ErrorBody) error {
	if body.CorrelationID == "" {
		body.CorrelationID = correlationIDFrom(c)
	}
	return c.JSON(status, ErrorResponse{Error: body})
}

// httpErrorHandler renders echo's own errors (404, 405, body limit) in the gateway shape
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"
	code := CodeInternal

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(status)
		}
		switch status {
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			code = CodeNotFound
		case http.StatusServiceUnavailable:
			code = CodeUnavailable
		default:
			code = CodeBadRequest
			if status >= 500 {
				code = CodeInternal
			}
		}
	} else {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Unhandled gateway error")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = writeError(c, status, ErrorBody{Code: code, Message: message})
}
