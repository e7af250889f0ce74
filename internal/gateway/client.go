package gateway

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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/auth"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/types"
)

const (
	defaultTimeout           = 15 * time.Second
	errorBodyReadLimit int64 = 16 << 10
	idempotencyHeader        = "Idempotency-Key"
)

var errBaseURLRequired = errors.New("gateway base url is required")

// Client speaks the backend's JSON API. It keeps the current session in memory
// and refreshes it once when a call comes back unauthorized.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logg       *logger.Logger
	newKey     func() string

	mu        sync.RWMutex
	session   *Session
	refreshMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[uint64]AuthStateListener
	nextID      uint64
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		if logg != nil {
			c.logg = logg
		}
	}
}

// WithSession restores a previously persisted session.
func WithSession(session *Session) Option {
	return func(c *Client) {
		if session != nil {
			cp := *session
			c.session = &cp
		}
	}
}

// WithIdempotencyKeys overrides how mutation keys are generated.
func WithIdempotencyKeys(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newKey = fn
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse gateway base url: %w", err)
	}

	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    trimmed,
		logg:       logger.Nop(),
		newKey:     uuid.NewString,
		listeners:  map[uint64]AuthStateListener{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *Client) Auth() Auth                 { return authClient{c} }
func (c *Client) Profiles() Profiles         { return profilesClient{c} }
func (c *Client) Storage() Storage           { return storageClient{c} }
func (c *Client) Partnerships() Partnerships { return partnershipsClient{c} }
func (c *Client) Goals() Goals               { return goalsClient{c} }
func (c *Client) CheckIns() CheckIns         { return checkInsClient{c} }
func (c *Client) Messages() Messages         { return messagesClient{c} }
func (c *Client) Progress() Progress         { return progressClient{c} }
func (c *Client) Changes() Changes           { return changesClient{c} }

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) setSession(session *Session, event enums.AuthEvent) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	c.emit(event, session)
}

func (c *Client) clearSession() {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.mu.Unlock()
	if had {
		c.emit(enums.AuthEventSignedOut, nil)
	}
}

func (c *Client) subscribe(listener AuthStateListener) func() {
	if listener == nil {
		return func() {}
	}
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

// emit runs listeners synchronously and outside every client lock, so a
// listener may call back into the client.
func (c *Client) emit(event enums.AuthEvent, session *Session) {
	c.listenersMu.Lock()
	listeners := make([]AuthStateListener, 0, len(c.listeners))
	for _, listener := range c.listeners {
		listeners = append(listeners, listener)
	}
	c.listenersMu.Unlock()

	for _, listener := range listeners {
		var cp *Session
		if session != nil {
			s := *session
			cp = &s
		}
		listener(event, cp)
	}
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        any
	rawBody     []byte
	contentType string
	anonymous   bool
	noRefresh   bool
}

func (r request) mutates() bool {
	return r.method != http.MethodGet && r.method != http.MethodHead
}

// do sends req and decodes the data envelope into out. Errors are always
// *Failure values.
func (c *Client) do(ctx context.Context, req request, out any) error {
	payload := req.rawBody
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return &Failure{Kind: KindUnexpected, Message: "encode request body", cause: err}
		}
		payload = encoded
		req.contentType = "application/json"
	}

	var key string
	if req.mutates() && !req.anonymous {
		key = c.newKey()
	}

	token := ""
	if !req.anonymous {
		token = c.accessToken()
	}
	resp, err := c.send(ctx, c.httpClient, req, payload, token, key)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && token != "" && !req.noRefresh {
		drain(resp)
		refreshed, refreshErr := c.refresh(ctx, token)
		if refreshErr != nil {
			return &Failure{Kind: KindAuth, Code: pkgerrors.CodeUnauthorized, Message: "session expired", Status: http.StatusUnauthorized, cause: refreshErr}
		}
		resp, err = c.send(ctx, c.httpClient, req, payload, refreshed.AccessToken, key)
		if err != nil {
			return err
		}
	}
	defer drain(resp)
	return decodeResponse(resp, out)
}

func (c *Client) send(ctx context.Context, httpClient *http.Client, req request, payload []byte, token, key string) (*http.Response, error) {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, &Failure{Kind: KindUnexpected, Message: "build request", cause: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if key != "" {
		httpReq.Header.Set(idempotencyHeader, key)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		c.logg.Warn(ctx, fmt.Sprintf("gateway %s %s failed: %v", req.method, req.path, err))
		return nil, failureFrom(err)
	}
	return resp, nil
}

// refresh rotates the session. stale is the access token the caller saw
// rejected; when another call already rotated it the newer session is reused.
func (c *Client) refresh(ctx context.Context, stale string) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current := c.Session()
	if current == nil || current.RefreshToken == "" {
		return nil, &Failure{Kind: KindAuth, Code: pkgerrors.CodeUnauthorized, Message: "not signed in", Status: http.StatusUnauthorized}
	}
	if stale != "" && current.AccessToken != stale {
		return current, nil
	}

	var dto auth.SessionDTO
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/api/v1/auth/refresh",
		body:      auth.RefreshRequest{AccessToken: current.AccessToken, RefreshToken: current.RefreshToken},
		anonymous: true,
	}, &dto)
	if err != nil {
		if failureFrom(err).Kind == KindAuth {
			c.clearSession()
		}
		return nil, err
	}

	next := sessionFromDTO(dto)
	if next.User.ID == uuid.Nil {
		next.User = current.User
	}
	c.setSession(next, enums.AuthEventTokenRefreshed)
	return next, nil
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return &Failure{Kind: KindUnexpected, Message: "decode response envelope", Status: resp.StatusCode, cause: err}
		}
		if len(envelope.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &Failure{Kind: KindUnexpected, Message: "decode response data", Status: resp.StatusCode, cause: err}
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	var envelope types.ErrorEnvelope
	code := pkgerrors.CodeForStatus(resp.StatusCode)
	message := ""
	var details any
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		code = pkgerrors.Code(envelope.Error.Code)
		message = envelope.Error.Message
		details = envelope.Error.Details
	}
	requestID := envelope.Error.RequestID
	if requestID == "" {
		requestID = resp.Header.Get("X-Request-Id")
	}
	if message == "" {
		message = pkgerrors.MetadataFor(code).PublicMessage
	}
	return &Failure{
		Kind:      KindForCode(code),
		Code:      code,
		Message:   message,
		Details:   details,
		Status:    resp.StatusCode,
		RequestID: requestID,
	}
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyReadLimit))
	_ = resp.Body.Close()
}

func call[T any](ctx context.Context, c *Client, req request) Result[T] {
	var out T
	if err := c.do(ctx, req, &out); err != nil {
		return FromError[T](err)
	}
	return Ok(out)
}
