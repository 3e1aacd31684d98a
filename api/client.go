// Package api is the sole network egress point of the HRM client: a single
// request pipeline that attaches bearer credentials, transparently refreshes
// an expired access token at most once per request, and logs the user out
// when the session is beyond recovery.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hrmportal/hrm-cli/session"
)

// DefaultTimeout is the wall-clock budget for every outbound request,
// refresh and retry included.
const DefaultTimeout = 30 * time.Second

// Server route constants the pipeline itself needs to recognize.
const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
)

// ErrSessionExpired is returned to the caller after the pipeline has torn
// the session down: the refresh token was missing or rejected, or a retried
// request was still unauthorized. The user is already being navigated back
// to the login entry point when callers observe this error.
var ErrSessionExpired = errors.New("session expired, logged out")

// StatusError is a non-2xx response surfaced to the caller.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	var detail struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Body, &detail); err == nil {
		if detail.Detail != "" {
			return fmt.Sprintf("server returned status %d: %s", e.StatusCode, detail.Detail)
		}
		if detail.Message != "" {
			return fmt.Sprintf("server returned status %d: %s", e.StatusCode, detail.Message)
		}
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, string(e.Body))
}

// Upload is one file part of a multipart request body.
type Upload struct {
	Field    string
	FileName string
	Reader   io.Reader

	// content holds the buffered body once the pipeline has consumed Reader,
	// so the same descriptor can be resubmitted after a token refresh.
	content []byte
}

// Request describes one outbound call. Descriptors are immutable; the
// one-retry budget is threaded through the pipeline rather than stamped onto
// the descriptor.
type Request struct {
	Method       string
	Path         string
	Body         any               // JSON-encoded when Files is empty
	Fields       map[string]string // extra multipart form fields
	Files        []Upload          // non-empty switches the body to multipart
	RequiresAuth bool
}

// RequestInterceptor transforms an outbound request before transmission.
type RequestInterceptor func(req *http.Request, r Request) error

// ResponseInterceptor observes a response before the pipeline acts on it.
type ResponseInterceptor func(resp *http.Response) error

// Navigator is the routing collaborator invoked on teardown to land the user
// on the unauthenticated entry point.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

// Events receives progress notifications from the pipeline. The tui
// displayers satisfy this interface; the default sink discards everything.
type Events interface {
	AuthRejected()
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	Retrying()
	LoggedOut()
}

type noopEvents struct{}

func (noopEvents) AuthRejected()       {}
func (noopEvents) Refreshing()         {}
func (noopEvents) RefreshOK()          {}
func (noopEvents) RefreshFailed(error) {}
func (noopEvents) Retrying()           {}
func (noopEvents) LoggedOut()          {}

// Client is the authenticated HTTP client. All HRM endpoint calls go through
// its pipeline.
type Client struct {
	baseURL string
	session *session.Store
	nav     Navigator
	events  Events
	http    *retry.Client
	timeout time.Duration

	reqInterceptors  []RequestInterceptor
	respInterceptors []ResponseInterceptor

	// Concurrent 401s share one in-flight refresh instead of racing the
	// token endpoint.
	refreshGroup singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying retrying HTTP client.
func WithHTTPClient(rc *retry.Client) Option {
	return func(c *Client) { c.http = rc }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithEvents routes pipeline progress notifications to ev.
func WithEvents(ev Events) Option {
	return func(c *Client) { c.events = ev }
}

// WithRequestInterceptor appends an interceptor after the built-in ones.
func WithRequestInterceptor(ic RequestInterceptor) Option {
	return func(c *Client) { c.reqInterceptors = append(c.reqInterceptors, ic) }
}

// WithResponseInterceptor appends a response interceptor.
func WithResponseInterceptor(ic ResponseInterceptor) Option {
	return func(c *Client) { c.respInterceptors = append(c.respInterceptors, ic) }
}

// NewClient creates a Client talking to baseURL, reading and writing auth
// state through store, and navigating via nav on teardown.
func NewClient(baseURL string, store *session.Store, nav Navigator, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: store,
		nav:     nav,
		events:  noopEvents{},
		timeout: DefaultTimeout,
	}
	c.reqInterceptors = []RequestInterceptor{requestIDInterceptor, c.bearerInterceptor}

	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		baseHTTPClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
		rc, err := retry.NewBackgroundClient(retry.WithHTTPClient(baseHTTPClient))
		if err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
		c.http = rc
	}

	return c, nil
}

// requestIDInterceptor tags every outbound request for server-side
// correlation.
func requestIDInterceptor(req *http.Request, _ Request) error {
	req.Header.Set("X-Request-ID", uuid.NewString())
	return nil
}

// bearerInterceptor attaches the stored access token, only when the
// descriptor asks for auth and a token exists.
func (c *Client) bearerInterceptor(req *http.Request, r Request) error {
	if !r.RequiresAuth {
		return nil
	}
	sn, err := c.session.Get()
	if err != nil {
		return err
	}
	if sn.Access != "" {
		req.Header.Set("Authorization", "Bearer "+sn.Access)
	}
	return nil
}

// Do sends the request through the pipeline and returns the response body.
// Non-2xx responses come back as *StatusError; a request that hit a 401,
// was transparently refreshed and retried, and then succeeded is
// indistinguishable from one that succeeded outright.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	// Buffer upload bodies up front: a refresh-and-retry rebuilds the
	// request, and the original readers are drained by the first attempt.
	if len(r.Files) > 0 {
		files := make([]Upload, len(r.Files))
		copy(files, r.Files)
		for i := range files {
			if files[i].Reader == nil {
				continue
			}
			data, err := io.ReadAll(files[i].Reader)
			if err != nil {
				return nil, fmt.Errorf("failed to read upload %s: %w", files[i].FileName, err)
			}
			files[i].content = data
			files[i].Reader = nil
		}
		r.Files = files
	}
	return c.do(ctx, r, 1)
}

func (c *Client) do(ctx context.Context, r Request, retriesLeft int) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.build(reqCtx, r)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.DoWithContext(reqCtx, req)
	if err != nil {
		// No response reached us. Timeouts, DNS and connectivity failures
		// are not auth failures; never refresh on them.
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	for _, ic := range c.respInterceptors {
		if icErr := ic(resp); icErr != nil {
			return nil, icErr
		}
	}

	if resp.StatusCode != http.StatusUnauthorized {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
		}
		return body, nil
	}

	// A 401 from the login endpoint means bad credentials, not a stale
	// session; there is nothing to refresh or tear down yet.
	if r.Path == LoginPath {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	c.events.AuthRejected()

	if retriesLeft <= 0 {
		// Already retried once with a fresh token. Give up and log out.
		c.teardown()
		return nil, ErrSessionExpired
	}
	// Spend the retry budget before refreshing, so a second 401 can never
	// trigger another refresh.
	retriesLeft--

	if err := c.refresh(ctx); err != nil {
		c.events.RefreshFailed(err)
		c.teardown()
		return nil, ErrSessionExpired
	}

	c.events.Retrying()
	// The rebuilt request picks the fresh access token up from the store.
	return c.do(ctx, r, retriesLeft)
}

// build assembles the outbound http.Request: body encoding first (multipart
// when files are attached, JSON otherwise), then the interceptor chain.
func (c *Client) build(ctx context.Context, r Request) (*http.Request, error) {
	var body io.Reader
	contentType := ""

	switch {
	case len(r.Files) > 0:
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		for field, value := range r.Fields {
			if err := mw.WriteField(field, value); err != nil {
				return nil, fmt.Errorf("failed to write form field %s: %w", field, err)
			}
		}
		for _, up := range r.Files {
			part, err := mw.CreateFormFile(up.Field, up.FileName)
			if err != nil {
				return nil, fmt.Errorf("failed to create form file %s: %w", up.FileName, err)
			}
			if up.content != nil {
				if _, err := part.Write(up.content); err != nil {
					return nil, fmt.Errorf("failed to write upload %s: %w", up.FileName, err)
				}
			} else if up.Reader != nil {
				if _, err := io.Copy(part, up.Reader); err != nil {
					return nil, fmt.Errorf("failed to copy upload %s: %w", up.FileName, err)
				}
			}
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
		}
		body = buf
		contentType = mw.FormDataContentType()

	case r.Body != nil:
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+r.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for _, ic := range c.reqInterceptors {
		if err := ic(req, r); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// refresh mints a new access token from the stored refresh token. Concurrent
// callers coalesce onto a single refresh call and all observe its outcome.
func (c *Client) refresh(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		sn, err := c.session.Get()
		if err != nil {
			return nil, err
		}
		if sn.Refresh == "" {
			// Nothing to refresh with; skip straight to teardown.
			return nil, session.ErrNoSession
		}

		c.events.Refreshing()

		payload, err := json.Marshal(map[string]string{"refresh": sn.Refresh})
		if err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(
			reqCtx,
			http.MethodPost,
			c.baseURL+RefreshPath,
			bytes.NewReader(payload),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create refresh request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.DoWithContext(reqCtx, req)
		if err != nil {
			return nil, fmt.Errorf("refresh request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read refresh response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
		}

		var tokens struct {
			Access  string `json:"access"`
			Refresh string `json:"refresh"`
		}
		if err := json.Unmarshal(respBody, &tokens); err != nil {
			return nil, fmt.Errorf("failed to parse refresh response: %w", err)
		}
		if tokens.Access == "" {
			return nil, errors.New("refresh response missing access token")
		}

		// An absent refresh field means rotation is disabled server-side;
		// UpdateAccessToken keeps the stored one in that case.
		if err := c.session.UpdateAccessToken(tokens.Access, tokens.Refresh); err != nil {
			return nil, err
		}

		c.events.RefreshOK()
		return nil, nil
	})
	return err
}

// teardown wipes the session and lands the user on the login entry point.
// Idempotent: a concurrent teardown just clears an already-empty session.
func (c *Client) teardown() {
	if err := c.session.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to clear session: %v\n", err)
	}
	c.events.LoggedOut()
	if c.nav != nil {
		c.nav.ToLogin()
	}
}
