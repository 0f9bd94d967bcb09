package http

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const maxBodyLogSize = 1024

func logRequest(logger *zap.Logger, req *http.Request, body string) {
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Strings("headers", headerLines(req.Header)),
	}
	if body != "" {
		fields = append(fields, zap.String("body", truncateBody([]byte(body))))
	}
	logger.Debug("sending request", fields...)
}

func logResponse(logger *zap.Logger, resp *http.Response, body []byte) {
	fields := []zap.Field{
		zap.Int("status", resp.StatusCode),
		zap.Strings("headers", headerLines(resp.Header)),
	}
	if len(body) > 0 {
		fields = append(fields, zap.String("body", truncateBody(body)))
	}
	logger.Debug("received response", fields...)
}

func headerLines(h http.Header) []string {
	lines := make([]string, 0, len(h))
	for name, values := range h {
		lines = append(lines, name+": "+strings.Join(values, ", "))
	}
	return lines
}

func truncateBody(body []byte) string {
	if len(body) <= maxBodyLogSize {
		return string(body)
	}
	return string(body[:maxBodyLogSize]) + fmt.Sprintf("... (truncated, %d bytes total)", len(body))
}
