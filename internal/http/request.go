package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lockstep/internal/template"
)

const (
	// maxDebugBodySize limits response body logged at debug level.
	maxDebugBodySize = 4096
	// maxExtractBodySize limits response body read for variable extraction.
	maxExtractBodySize = 10 * 1024 * 1024
)

// RequestConfig describes one HTTP request of an actor phase.
type RequestConfig struct {
	Name    string            `yaml:"name"`
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Extract map[string]string `yaml:"extract,omitempty"` // JSONPath extraction rules
}

// Validate checks the request is complete. The method defaults to GET.
func (c *RequestConfig) Validate() error {
	if c.URL == "" {
		return errors.Errorf("request %q has no url", c.Name)
	}
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if c.Name == "" {
		c.Name = strings.ToLower(c.Method)
	}
	return nil
}

// Result describes a completed exchange.
type Result struct {
	StatusCode int
	BytesSent  int64
	BytesRecv  int64
}

// StatusError is returned for responses with a 4xx or 5xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// Request executes one configured request.
type Request struct {
	config RequestConfig
	client *http.Client
	logger *zap.Logger
}

func NewRequest(cfg RequestConfig, client *http.Client, logger *zap.Logger) *Request {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Request{
		config: cfg,
		client: client,
		logger: logger.With(zap.String("request", cfg.Name)),
	}
}

func (r *Request) Name() string {
	return r.config.Name
}

// Execute substitutes vars into the request, sends it and, on success,
// stores extracted response values back into vars.
func (r *Request) Execute(ctx context.Context, vars *template.Vars) (Result, error) {
	url, err := template.Substitute(r.config.URL, vars)
	if err != nil {
		return Result{}, errors.Wrap(err, "url")
	}
	body, err := template.Substitute(r.config.Body, vars)
	if err != nil {
		return Result{}, errors.Wrap(err, "body")
	}
	headers, err := template.SubstituteMap(r.config.Headers, vars)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, r.config.Method, url, strings.NewReader(body))
	if err != nil {
		return Result{}, errors.Wrap(err, "building request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	debug := r.logger.Core().Enabled(zapcore.DebugLevel)
	if debug {
		logRequest(r.logger, req, body)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{BytesSent: int64(len(body))}, errors.Wrapf(err, "%s %s", r.config.Method, url)
	}
	defer resp.Body.Close()

	result := Result{
		StatusCode: resp.StatusCode,
		BytesSent:  int64(len(body)),
	}

	needsExtract := len(r.config.Extract) > 0
	var respBody []byte
	if needsExtract || debug {
		limit := int64(maxDebugBodySize)
		if needsExtract {
			limit = maxExtractBodySize
		}
		respBody, _ = io.ReadAll(io.LimitReader(resp.Body, limit))
		result.BytesRecv = int64(len(respBody))
	}
	n, _ := io.Copy(io.Discard, resp.Body)
	result.BytesRecv += n

	if debug {
		logResponse(r.logger, resp, respBody)
	}

	if resp.StatusCode >= 400 {
		return result, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if needsExtract {
		if err := template.ExtractInto(respBody, r.config.Extract, vars); err != nil {
			return result, errors.Wrap(err, "extract")
		}
	}
	return result, nil
}
