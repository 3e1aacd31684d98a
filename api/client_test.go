package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"

	"github.com/hrmportal/hrm-cli/session"
)

type navRecorder struct {
	calls atomic.Int32
}

func (n *navRecorder) ToLogin() { n.calls.Add(1) }

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	return session.NewStore(filepath.Join(t.TempDir(), "session.json"))
}

func newTestClient(t *testing.T, serverURL string, store *session.Store, nav Navigator) *Client {
	t.Helper()
	rc, err := retry.NewClient()
	if err != nil {
		t.Fatalf("failed to create retry client: %v", err)
	}
	c, err := NewClient(serverURL, store, nav, WithHTTPClient(rc), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestBearerAttachment(t *testing.T) {
	tests := []struct {
		name         string
		requiresAuth bool
		wantHeader   string
	}{
		{
			name:         "auth required attaches bearer token",
			requiresAuth: true,
			wantHeader:   "Bearer T1",
		},
		{
			name:         "public request carries no token despite stored one",
			requiresAuth: false,
			wantHeader:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			server := httptest.NewServer(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					gotAuth = r.Header.Get("Authorization")
					writeJSON(t, w, map[string]string{"ok": "yes"})
				}),
			)
			defer server.Close()

			store := newTestStore(t)
			if err := store.Set("T1", "R1", "employee", "bob"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			client := newTestClient(t, server.URL, store, nil)

			_, err := client.Do(context.Background(), Request{
				Method:       http.MethodGet,
				Path:         "/anything",
				RequiresAuth: tt.requiresAuth,
			})
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}

			if gotAuth != tt.wantHeader {
				t.Errorf("Authorization = %q, want %q", gotAuth, tt.wantHeader)
			}
		})
	}
}

func TestRequestIDAttached(t *testing.T) {
	var gotID string
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID = r.Header.Get("X-Request-ID")
			writeJSON(t, w, map[string]string{})
		}),
	)
	defer server.Close()

	client := newTestClient(t, server.URL, newTestStore(t), nil)
	if _, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotID == "" {
		t.Errorf("X-Request-ID header not attached")
	}
}

func TestMultipartOverride(t *testing.T) {
	var gotContentType, gotAuth, gotKind, gotFile string
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotContentType = r.Header.Get("Content-Type")
			gotAuth = r.Header.Get("Authorization")
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, "not multipart", http.StatusBadRequest)
				return
			}
			gotKind = r.FormValue("kind")
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, "no file", http.StatusBadRequest)
				return
			}
			defer f.Close()
			buf := make([]byte, 32)
			n, _ := f.Read(buf)
			gotFile = string(buf[:n])
			writeJSON(t, w, map[string]string{})
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	if err := store.Set("T1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	client := newTestClient(t, server.URL, store, nil)

	// The multipart content type must be set even for a public request
	_, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/upload",
		Fields: map[string]string{"kind": "contract"},
		Files: []Upload{
			{Field: "file", FileName: "contract.pdf", Reader: strings.NewReader("pdf-bytes")},
		},
		RequiresAuth: false,
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("Content-Type = %q, want multipart/form-data prefix", gotContentType)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q on a public request, want empty", gotAuth)
	}
	if gotKind != "contract" {
		t.Errorf("kind field = %q, want contract", gotKind)
	}
	if gotFile != "pdf-bytes" {
		t.Errorf("file contents = %q, want pdf-bytes", gotFile)
	}
}

func TestAtMostOneRefreshAndRetry(t *testing.T) {
	var apiCalls, refreshCalls atomic.Int32
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case RefreshPath:
				refreshCalls.Add(1)
				writeJSON(t, w, map[string]string{"access": "A2"})
			default:
				// The fresh token is rejected too: the pipeline must give up,
				// not loop.
				apiCalls.Add(1)
				w.WriteHeader(http.StatusUnauthorized)
			}
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	if err := store.Set("A1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	nav := &navRecorder{}
	client := newTestClient(t, server.URL, store, nav)

	_, err := client.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/employees",
		RequiresAuth: true,
	})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Do() error = %v, want ErrSessionExpired", err)
	}

	if got := apiCalls.Load(); got != 2 {
		t.Errorf("API endpoint hit %d times, want 2 (original + one retry)", got)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("Refresh endpoint hit %d times, want exactly 1", got)
	}
	if got := nav.calls.Load(); got == 0 {
		t.Errorf("Navigator not invoked on teardown")
	}

	sn, err := store.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sn.Authenticated() {
		t.Errorf("Session still present after failed retry: %+v", sn)
	}
}

func TestLoginExemptFromRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshPath {
				refreshCalls.Add(1)
				writeJSON(t, w, map[string]string{"access": "A2"})
				return
			}
			// Invalid credentials
			w.WriteHeader(http.StatusUnauthorized)
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	// Leftover session from a previous user must survive a failed login
	if err := store.Set("A1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	nav := &navRecorder{}
	client := newTestClient(t, server.URL, store, nav)

	_, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   LoginPath,
		Body:   map[string]string{"username": "alice", "password": "wrong"},
	})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Do() error = %v, want *StatusError with 401", err)
	}
	if got := refreshCalls.Load(); got != 0 {
		t.Errorf("Refresh endpoint hit %d times for a login failure, want 0", got)
	}
	if got := nav.calls.Load(); got != 0 {
		t.Errorf("Navigator invoked %d times for a login failure, want 0", got)
	}

	sn, err := store.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !sn.Authenticated() {
		t.Errorf("Existing session torn down by a failed login")
	}
}

func TestRefreshAndRetrySucceeds(t *testing.T) {
	// End-to-end recovery: 401, refresh with the stored token, transparent
	// retry with the fresh one, caller only sees the final 200.
	var refreshBody struct {
		Refresh string `json:"refresh"`
	}
	var retriedAuth string
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case RefreshPath:
				if err := json.NewDecoder(r.Body).Decode(&refreshBody); err != nil {
					http.Error(w, "bad body", http.StatusBadRequest)
					return
				}
				writeJSON(t, w, map[string]string{"access": "A2"})
			case "/payroll/payslips":
				auth := r.Header.Get("Authorization")
				if auth == "Bearer A1" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				retriedAuth = auth
				writeJSON(t, w, []map[string]any{{"month": "2026-08", "net": 4200.0}})
			default:
				http.NotFound(w, r)
			}
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	if err := store.Set("A1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	nav := &navRecorder{}
	client := newTestClient(t, server.URL, store, nav)

	body, err := client.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/payroll/payslips",
		RequiresAuth: true,
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want transparent recovery", err)
	}
	if !strings.Contains(string(body), "2026-08") {
		t.Errorf("Do() body = %s, want the final 200 payload", body)
	}

	if refreshBody.Refresh != "R1" {
		t.Errorf("Refresh call carried %q, want R1", refreshBody.Refresh)
	}
	if retriedAuth != "Bearer A2" {
		t.Errorf("Retried request Authorization = %q, want Bearer A2", retriedAuth)
	}
	if got := nav.calls.Load(); got != 0 {
		t.Errorf("Navigator invoked %d times on a recovered request, want 0", got)
	}

	sn, err := store.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sn.Access != "A2" {
		t.Errorf("Stored access = %q, want A2", sn.Access)
	}
	// Rotation disabled server-side: the refresh token must be unchanged
	if sn.Refresh != "R1" {
		t.Errorf("Stored refresh = %q, want R1", sn.Refresh)
	}
	if sn.Role != "hr" || sn.UserName != "alice" {
		t.Errorf("Identity fields changed by refresh: %+v", sn)
	}
}

func TestRefreshRotation(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case RefreshPath:
				writeJSON(t, w, map[string]string{"access": "A2", "refresh": "R2"})
			default:
				if r.Header.Get("Authorization") == "Bearer A1" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				writeJSON(t, w, map[string]string{})
			}
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	if err := store.Set("A1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	client := newTestClient(t, server.URL, store, nil)

	if _, err := client.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/employees",
		RequiresAuth: true,
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	sn, err := store.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sn.Access != "A2" || sn.Refresh != "R2" {
		t.Errorf("Stored tokens = %q/%q, want A2/R2 after rotation", sn.Access, sn.Refresh)
	}
}

func TestRefreshFailureTearsDown(t *testing.T) {
	var apiCalls atomic.Int32
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshPath {
				// Refresh token invalid
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			apiCalls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	if err := store.Set("A1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	nav := &navRecorder{}
	client := newTestClient(t, server.URL, store, nav)

	_, err := client.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/employees",
		RequiresAuth: true,
	})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Do() error = %v, want ErrSessionExpired", err)
	}

	// The original request must not be retried after a failed refresh
	if got := apiCalls.Load(); got != 1 {
		t.Errorf("API endpoint hit %d times, want 1", got)
	}
	if got := nav.calls.Load(); got == 0 {
		t.Errorf("Navigator not invoked on teardown")
	}

	if _, statErr := os.Stat(store.Path()); !os.IsNotExist(statErr) {
		t.Errorf("Session file still exists after teardown")
	}
}

func TestMissingRefreshTokenSkipsRefreshCall(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshPath {
				refreshCalls.Add(1)
				writeJSON(t, w, map[string]string{"access": "A2"})
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	// Access token but no refresh token: teardown without a network call
	if err := store.Set("A1", "", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	nav := &navRecorder{}
	client := newTestClient(t, server.URL, store, nav)

	_, err := client.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/employees",
		RequiresAuth: true,
	})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Do() error = %v, want ErrSessionExpired", err)
	}
	if got := refreshCalls.Load(); got != 0 {
		t.Errorf("Refresh endpoint hit %d times without a stored refresh token, want 0", got)
	}
	if got := nav.calls.Load(); got == 0 {
		t.Errorf("Navigator not invoked on teardown")
	}
}

func TestTransportErrorPropagatesWithoutRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshPath {
				refreshCalls.Add(1)
				writeJSON(t, w, map[string]string{"access": "A2"})
				return
			}
			// Sever the connection before any status line is written so the
			// client observes a transport error, not an HTTP response.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatalf("response writer does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack failed: %v", err)
			}
			conn.Close()
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	if err := store.Set("A1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	nav := &navRecorder{}
	client := newTestClient(t, server.URL, store, nav)

	_, err := client.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/employees",
		RequiresAuth: true,
	})
	if err == nil {
		t.Fatalf("Do() succeeded, want transport error")
	}
	if errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Do() error = %v; transport errors must not trigger teardown", err)
	}
	if got := refreshCalls.Load(); got != 0 {
		t.Errorf("Refresh endpoint hit %d times on a transport error, want 0", got)
	}
	if got := nav.calls.Load(); got != 0 {
		t.Errorf("Navigator invoked on a transport error")
	}

	sn, getErr := store.Get()
	if getErr != nil {
		t.Fatalf("Get() error = %v", getErr)
	}
	if !sn.Authenticated() {
		t.Errorf("Session torn down by a transport error")
	}
}

func TestNonAuthFailurePassesThrough(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshPath {
				refreshCalls.Add(1)
				return
			}
			w.WriteHeader(http.StatusNotFound)
			writeJSON(t, w, map[string]string{"detail": "no such employee"})
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	if err := store.Set("A1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	client := newTestClient(t, server.URL, store, nil)

	_, err := client.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/employees/nobody",
		RequiresAuth: true,
	})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("Do() error = %v, want *StatusError with 404", err)
	}
	if !strings.Contains(statusErr.Error(), "no such employee") {
		t.Errorf("StatusError message = %q, want the server detail", statusErr.Error())
	}
	if got := refreshCalls.Load(); got != 0 {
		t.Errorf("Refresh endpoint hit %d times for a 404, want 0", got)
	}
}

func TestConcurrentRefreshCoalesced(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case RefreshPath:
				refreshCalls.Add(1)
				// Hold the refresh open long enough for every 401 to pile up
				// behind the same in-flight call.
				time.Sleep(200 * time.Millisecond)
				writeJSON(t, w, map[string]string{"access": "A2"})
			default:
				if r.Header.Get("Authorization") == "Bearer A1" {
					// Delay so all concurrent requests fail close together
					time.Sleep(100 * time.Millisecond)
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				writeJSON(t, w, map[string]string{})
			}
		}),
	)
	defer server.Close()

	store := newTestStore(t)
	if err := store.Set("A1", "R1", "hr", "alice"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	client := newTestClient(t, server.URL, store, nil)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Do(context.Background(), Request{
				Method:       http.MethodGet,
				Path:         fmt.Sprintf("/employees/%d", i),
				RequiresAuth: true,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Do() error = %v", i, err)
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("Refresh endpoint hit %d times by %d concurrent 401s, want 1", got, callers)
	}
}
