package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// testClient はレスポンスの Set-Cookie を次のリクエストに引き継ぎます。
type testClient struct {
	t       *testing.T
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func (tc *testClient) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	tc.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			tc.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	for _, c := range tc.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	tc.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(tc.cookies, c.Name)
			continue
		}
		tc.cookies[c.Name] = c
	}
	return rec
}

func (tc *testClient) login(username, password string) *httptest.ResponseRecorder {
	return tc.do(http.MethodPost, "/api/auth/login", gin.H{"username": username, "password": password}, nil)
}

func newTestClient(t *testing.T) (*testClient, *testClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	clock := &testClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	m, err := NewManager(Credentials{
		Username:      "admin",
		PasswordHash:  string(hash),
		SessionSecret: "test-secret",
	}, Options{Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.Use(sessions.Sessions(SessionCookieName, NewSessionStore("test-secret", false)))
	api := r.Group("/api")
	m.RegisterRoutes(api)
	protected := api.Group("/", m.RequireLogin(), m.VerifyCSRF())
	protected.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextUserKey)) })
	protected.POST("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	return &testClient{t: t, router: r, cookies: map[string]*http.Cookie{}}, clock
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

func TestNewManagerRequiresCredentials(t *testing.T) {
	if _, err := NewManager(Credentials{Username: "admin"}, Options{}); err == nil {
		t.Fatal("expected error for missing hash")
	}
	if _, err := NewManager(Credentials{Username: "admin", PasswordHash: "x"}, Options{}); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodGet, "/api/ping", nil, nil)
	if rec.Code != http.StatusUnauthorized || decodeCode(t, rec) != "UNAUTHORIZED" {
		t.Fatalf("anonymous: %d %s", rec.Code, rec.Body.String())
	}

	rec = client.login("admin", "s3cret")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	token := rec.Header().Get(CSRFHeader)
	if len(token) != 64 {
		t.Fatalf("csrf token = %q", token)
	}

	rec = client.do(http.MethodGet, "/api/ping", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "admin" {
		t.Fatalf("GET ping: %d %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodPost, "/api/ping", nil, nil)
	if rec.Code != http.StatusForbidden || decodeCode(t, rec) != "CSRF_INVALID" {
		t.Fatalf("POST without token: %d %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodPost, "/api/ping", nil, http.Header{CSRFHeader: {token}})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST with token: %d %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/api/auth/session", nil, nil)
	if rec.Code != http.StatusOK || rec.Header().Get(CSRFHeader) != token {
		t.Fatalf("session: %d %s", rec.Code, rec.Header().Get(CSRFHeader))
	}
}

func TestLoginRejectsBadInput(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/auth/login", gin.H{"username": "admin"}, nil)
	if rec.Code != http.StatusBadRequest || decodeCode(t, rec) != "INVALID_INPUT" {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	client, clock := newTestClient(t)

	for i := 1; i <= maxLoginAttempts; i++ {
		rec := client.login("admin", "wrong")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: %d", i, rec.Code)
		}
		var body struct {
			Remaining int `json:"remainingAttempts"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Remaining != maxLoginAttempts-i {
			t.Fatalf("attempt %d: remaining = %d", i, body.Remaining)
		}
	}

	rec := client.login("admin", "s3cret")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("locked login: %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "600" {
		t.Fatalf("Retry-After = %q", got)
	}

	clock.advance(lockDuration + time.Second)
	if rec := client.login("admin", "s3cret"); rec.Code != http.StatusNoContent {
		t.Fatalf("login after lock: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionTimeouts(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		client, clock := newTestClient(t)
		client.login("admin", "s3cret")

		clock.advance(idleTimeout - time.Minute)
		if rec := client.do(http.MethodGet, "/api/ping", nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("active session: %d", rec.Code)
		}
		clock.advance(idleTimeout + time.Minute)
		rec := client.do(http.MethodGet, "/api/ping", nil, nil)
		if rec.Code != http.StatusUnauthorized || decodeCode(t, rec) != "SESSION_IDLE_TIMEOUT" {
			t.Fatalf("idle session: %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("lifetime", func(t *testing.T) {
		client, clock := newTestClient(t)
		client.login("admin", "s3cret")

		for elapsed := time.Duration(0); elapsed <= maxSessionLifetime; elapsed += 20 * time.Minute {
			clock.advance(20 * time.Minute)
			rec := client.do(http.MethodGet, "/api/ping", nil, nil)
			if rec.Code == http.StatusUnauthorized {
				if code := decodeCode(t, rec); code != "SESSION_EXPIRED" {
					t.Fatalf("code = %s", code)
				}
				return
			}
		}
		t.Fatal("session never expired")
	})
}

func TestLogoutClearsSession(t *testing.T) {
	client, _ := newTestClient(t)
	token := client.login("admin", "s3cret").Header().Get(CSRFHeader)

	if rec := client.do(http.MethodPost, "/api/auth/logout", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("logout without token: %d", rec.Code)
	}
	if rec := client.do(http.MethodPost, "/api/auth/logout", nil, http.Header{CSRFHeader: {token}}); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := client.do(http.MethodGet, "/api/ping", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("after logout: %d", rec.Code)
	}
}
