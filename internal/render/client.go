package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dpcore/statement-service/internal/domain"
)

// Engine hands out rendering sessions. Opening a session reserves a
// headless browser instance on the render service, which is expensive, so
// a handler opens one session per job and reuses it for every member.
type Engine interface {
	OpenSession(ctx context.Context) (Session, error)
}

// Session renders HTML documents to PDF bytes until closed.
type Session interface {
	Render(ctx context.Context, html string) ([]byte, error)
	Close(ctx context.Context) error
}

// HTTPEngine talks to the render service over HTTP.
type HTTPEngine struct {
	baseURL        string
	token          string
	client         *http.Client
	sessionTimeout time.Duration
	logger         *slog.Logger
}

// NewHTTPEngine creates a render engine client. timeout bounds the
// session-management calls only; per-render timeouts come from the
// caller's context, which may exceed it.
func NewHTTPEngine(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEngine{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		client:         &http.Client{},
		sessionTimeout: timeout,
		logger:         logger,
	}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// OpenSession reserves a browser instance on the render service.
// Failures here are job-level transient: the service may simply be at
// capacity right now.
func (e *HTTPEngine) OpenSession(ctx context.Context) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sessionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("failed to open render session: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("render service returned %d opening session: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if isTransientStatus(resp.StatusCode) {
			return nil, domain.NewRetryableError(err)
		}
		return nil, err
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if sr.SessionID == "" {
		return nil, fmt.Errorf("render service returned empty session id")
	}

	e.logger.Info("Render session opened",
		slog.String("session_id", sr.SessionID),
	)

	return &httpSession{engine: e, id: sr.SessionID}, nil
}

func (e *HTTPEngine) authorize(req *http.Request) {
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
}

type httpSession struct {
	engine *HTTPEngine
	id     string
}

type renderRequest struct {
	HTML string `json:"html"`
}

// Render converts one HTML document to PDF bytes. Timeouts and connection
// failures come back wrapped as retryable; HTTP 4xx responses are
// permanent for this document.
func (s *httpSession) Render(ctx context.Context, html string) ([]byte, error) {
	body, err := json.Marshal(renderRequest{HTML: html})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/sessions/%s/render", s.engine.baseURL, s.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.engine.authorize(req)

	resp, err := s.engine.client.Do(req)
	if err != nil {
		if isTransientNetErr(err) {
			return nil, domain.NewRetryableError(fmt.Errorf("render call failed: %w", err))
		}
		return nil, fmt.Errorf("render call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("render service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if isTransientStatus(resp.StatusCode) {
			return nil, domain.NewRetryableError(err)
		}
		return nil, err
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("failed to read rendered document: %w", err))
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("render service returned an empty document")
	}

	return pdf, nil
}

// Close releases the browser instance. Errors are returned for logging
// but the session must be considered gone either way.
func (s *httpSession) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.engine.sessionTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/sessions/%s", s.engine.baseURL, s.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build close request: %w", err)
	}
	s.engine.authorize(req)

	resp, err := s.engine.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to close render session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("render service returned %d closing session", resp.StatusCode)
	}

	s.engine.logger.Info("Render session closed",
		slog.String("session_id", s.id),
	)

	return nil
}

// isTransientStatus reports whether an HTTP status indicates a condition
// worth retrying: server errors, timeouts, and throttling.
func isTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// isTransientNetErr classifies transport-level failures (timeouts, reset
// or refused connections, truncated responses) as retryable.
func isTransientNetErr(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
