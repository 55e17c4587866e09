// Package api is a thin typed wrapper around the verification backend's REST
// endpoints. It does not retry and does not cache; a 404 is reported as
// ErrNotFound so callers can tell "absent" apart from transport failures.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

const maxResponseSize = 4 << 20

// Logger is the subset of logging used by the client.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Client talks to the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     Logger
	newID      func() string
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request. Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			clone := *c.httpClient
			clone.Timeout = d
			c.httpClient = &clone
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     nopLogger{},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateSession starts a verification session for a bug.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches one session with its conversation summaries.
func (c *Client) GetSession(ctx context.Context, sessionKey string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+escape(sessionKey), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns every session known to the backend.
func (c *Client) ListSessions(ctx context.Context) (*SessionList, error) {
	var out SessionList
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSessionOntology returns the raw report payload for a session. The
// payload shape is loose, so decoding is left to internal/report.
func (c *Client) GetSessionOntology(ctx context.Context, sessionKey string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+escape(sessionKey)+"/ontology", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSkillOntology returns a report by its own key.
func (c *Client) GetSkillOntology(ctx context.Context, ontologyKey string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/skill-ontologies/"+escape(ontologyKey), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversationMessages returns the history of a conversation.
func (c *Client) GetConversationMessages(ctx context.Context, conversationKey string) (*ConversationMessages, error) {
	var out ConversationMessages
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+escape(conversationKey)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NextMessage asks the backend for the next scripted line. A 404 means the
// script is over and yields ErrNoMoreMessages; a 2xx without a message key
// yields ErrMalformedMessage.
func (c *Client) NextMessage(ctx context.Context, conversationKey string) (*NextMessage, error) {
	var out NextMessage
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+escape(conversationKey)+"/next-message", nil, &out)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNoMoreMessages
		}
		return nil, err
	}
	if strings.TrimSpace(out.MessageKey) == "" {
		return nil, ErrMalformedMessage
	}
	return &out, nil
}

// SendMessage posts a reply and returns the backend's echo.
func (c *Client) SendMessage(ctx context.Context, conversationKey string, req SendMessageRequest) (*NextMessage, error) {
	var out NextMessage
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+escape(conversationKey)+"/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConversationStatus pushes a status change.
func (c *Client) UpdateConversationStatus(ctx context.Context, conversationKey string, req UpdateStatusRequest) (*StatusAck, error) {
	var out StatusAck
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+escape(conversationKey)+"/status", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListEmployees returns every stakeholder.
func (c *Client) ListEmployees(ctx context.Context) (*EmployeeList, error) {
	var out EmployeeList
	if err := c.do(ctx, http.MethodGet, "/api/employees", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEmployee fetches one stakeholder.
func (c *Client) GetEmployee(ctx context.Context, employeeKey string) (*Employee, error) {
	var out Employee
	if err := c.do(ctx, http.MethodGet, "/api/employees/"+escape(employeeKey), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBugs returns every bug.
func (c *Client) ListBugs(ctx context.Context) (*BugList, error) {
	var out BugList
	if err := c.do(ctx, http.MethodGet, "/api/bugs", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBug fetches one bug.
func (c *Client) GetBug(ctx context.Context, bugKey string) (*Bug, error) {
	var out Bug
	if err := c.do(ctx, http.MethodGet, "/api/bugs/"+escape(bugKey), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBug registers a bug so a session can be started for it.
func (c *Client) CreateBug(ctx context.Context, req CreateBugRequest) (*Bug, error) {
	var out Bug
	if err := c.do(ctx, http.MethodPost, "/api/bugs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	requestID := c.newID()
	req.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Printf("api: %s %s failed after %s (request %s): %v", method, path, time.Since(started).Round(time.Millisecond), requestID, err)
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("api: read %s %s: %w", method, path, err)
	}
	c.logger.Printf("api: %s %s -> %d in %s (request %s)", method, path, resp.StatusCode, time.Since(started).Round(time.Millisecond), requestID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(method, path, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return fmt.Errorf("api: decode %s %s: invalid JSON at offset %d: %w", method, path, syntaxErr.Offset, err)
		}
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func escape(segment string) string {
	return url.PathEscape(strings.TrimSpace(segment))
}
