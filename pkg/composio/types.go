package composio

type createSessionRequest struct {
	UserID          string   `json:"user_id"`
	AllowedToolkits []string `json:"allowed_toolkits"`
}

type sessionResponse struct {
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id"`
	MCP       mcpEndpoint `json:"mcp"`
	CreatedAt string      `json:"created_at"`
}

type mcpEndpoint struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Transport string            `json:"transport"`
}

type executeRequest struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	OAuthURL string `json:"oauth_url,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// sessionResponseSchema is checked before a session response is decoded.
const sessionResponseSchema = `{
  "type": "object",
  "required": ["session_id", "mcp"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "user_id": {"type": "string"},
    "created_at": {"type": "string"},
    "mcp": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {"type": "string", "minLength": 1},
        "transport": {"type": "string"},
        "headers": {
          "type": "object",
          "additionalProperties": {"type": "string"}
        }
      }
    }
  }
}`
