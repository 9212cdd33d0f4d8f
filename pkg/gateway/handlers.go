package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/harun/toolgate/pkg/broker"
	"github.com/harun/toolgate/pkg/session"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Message:   "Toolgate is healthy",
		Uptime:    time.Since(s.startTime).Seconds(),
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleListTools handles GET /api/tools
func (s *Server) handleListTools(c echo.Context) error {
	descs := s.catalog.List()
	tools := make([]ToolInfo, 0, len(descs))
	for _, d := range descs {
		info := ToolInfo{
			Name:             d.Name,
			Description:      d.Description,
			Provider:         d.Provider,
			Category:         d.Category,
			ApprovalRequired: d.ApprovalRequired,
			Parameters:       d.Parameters,
		}
		if schema, err := s.catalog.InputSchema(d.Name); err == nil {
			info.InputSchema = schema
		}
		tools = append(tools, info)
	}
	return c.JSON(http.StatusOK, ToolsResponse{Tools: tools, Count: len(tools)})
}

// handleInvoke handles POST /api/tools/:tool
func (s *Server) handleInvoke(c echo.Context) error {
	correlationID := correlationIDFrom(c)

	params, err := decodeParams(c.Request().Body)
	if err != nil {
		return writeError(c, http.StatusBadRequest, ErrorBody{
			Code:          string(broker.KindInvalidParameters),
			Message:       err.Error(),
			CorrelationID: correlationID,
		})
	}

	res, err := s.broker.Invoke(c.Request().Context(), broker.Request{
		UserID:        userIDFrom(c),
		Tool:          c.Param("tool"),
		Params:        params,
		CorrelationID: correlationID,
	})
	if err != nil {
		return s.writeBrokerError(c, err, correlationID)
	}

	output := res.Output
	if len(output) == 0 {
		output = json.RawMessage("null")
	}

	return c.JSON(http.StatusOK, InvokeResponse{
		Success:          true,
		Result:           output,
		CorrelationID:    res.CorrelationID,
		ApprovalRequired: res.ApprovalRequired,
	})
}

// decodeParams accepts either the params object itself or {"params": {...}}.
// An empty body means no parameters.
func decodeParams(body io.Reader) (map[string]interface{}, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]interface{}{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var params map[string]interface{}
	if err := dec.Decode(&params); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if params == nil {
		return map[string]interface{}{}, nil
	}

	if len(params) == 1 {
		if inner, ok := params["params"].(map[string]interface{}); ok {
			return inner, nil
		}
	}
	return params, nil
}

// handleGetSession handles GET /api/session
func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.broker.Session(c.Request().Context(), userIDFrom(c))
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return writeError(c, http.StatusNotFound, ErrorBody{
				Code:    CodeNotFound,
				Message: "no active session",
			})
		}
		s.logger.Error().Err(err).Msg("Failed to look up session")
		return writeError(c, http.StatusInternalServerError, ErrorBody{
			Code:    CodeInternal,
			Message: "failed to look up session",
		})
	}

	return c.JSON(http.StatusOK, SessionResponse{
		UserID:         sess.UserID,
		SessionID:      sess.SessionID,
		CreatedAt:      sess.CreatedAt,
		ExpiresAt:      sess.ExpiresAt,
		ToolAuthStatus: sess.ToolAuthStatus,
	})
}

// handleLogout handles DELETE /api/session
func (s *Server) handleLogout(c echo.Context) error {
	if err := s.broker.Logout(c.Request().Context(), userIDFrom(c)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to invalidate session")
		return writeError(c, http.StatusInternalServerError, ErrorBody{
			Code:    CodeInternal,
			Message: "failed to invalidate session",
		})
	}
	return c.JSON(http.StatusOK, LogoutResponse{
		Success:       true,
		CorrelationID: correlationIDFrom(c),
	})
}

// handleOAuthStatus handles GET /api/oauth/:provider/status
func (s *Server) handleOAuthStatus(c echo.Context) error {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	if provider == "" {
		return writeError(c, http.StatusBadRequest, ErrorBody{
			Code:    CodeBadRequest,
			Message: "provider is required",
		})
	}

	status := s.broker.CheckOAuthStatus(c.Request().Context(), userIDFrom(c), provider)
	return c.JSON(http.StatusOK, status)
}
