package logger

import (
	"io"
	"regexp"
	"strings"
	"sync"
)

const redacted = "[REDACTED]"

// rule replaces the whole match, or only the value group when keep is set
type rule struct {
	re   *regexp.Regexp
	keep bool
}

// Redactor masks credentials before log lines reach a sink
type Redactor struct {
	mu    sync.RWMutex
	rules []rule
}

// NewRedactor creates a redactor with the default rules
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// Authorization headers
			{re: regexp.MustCompile(`(Bearer\s+)[A-Za-z0-9._~+/=-]+`), keep: true},

			// Upstream API key in JSON fields and header dumps
			{re: regexp.MustCompile(`((?i)"?(?:api_key|apikey|x-api-key|composio_api_key)"?\s*[:=]\s*"?)[^\s",}]+`), keep: true},

			// OAuth material in query strings
			{re: regexp.MustCompile(`([?&](?:access_token|refresh_token|client_secret|code|state)=)[^&\s"]+`), keep: true},

			// Passwords and generic secrets
			{re: regexp.MustCompile(`((?i)"?(?:password|pwd|secret)"?\s*[:=]\s*"?)[^\s",}]+`), keep: true},

			// Long opaque tokens
			{re: regexp.MustCompile(`((?i)"?token"?\s*[:=]\s*"?)[A-Za-z0-9._-]{20,}`), keep: true},

			// Well-known key formats
			{re: regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`)},
			{re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
		},
	}
}

// AddPattern adds a custom pattern whose whole match is masked
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rules = append(r.rules, rule{re: re})
	r.mu.Unlock()
	return nil
}

// Redact masks sensitive values in s
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := s
	for _, ru := range r.rules {
		if ru.keep {
			result = ru.re.ReplaceAllString(result, "${1}"+redacted)
		} else {
			result = ru.re.ReplaceAllString(result, redacted)
		}
	}
	return result
}

// RedactHeaders returns a copy of headers safe to log
func (r *Redactor) RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		prefix := k + ": "
		line := r.Redact(prefix + v)
		if strings.HasPrefix(line, prefix) {
			out[k] = line[len(prefix):]
		} else {
			out[k] = redacted
		}
	}
	return out
}

// Wrap wraps an io.Writer so everything written through it is redacted
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers never see a short write
// when the redacted line differs in length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
