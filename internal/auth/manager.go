// Package auth はセッションCookieによるログインとCSRF保護を提供します。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	SessionCookieName    = "docforge_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	// CSRFHeader はCSRFトークンを受け渡すヘッダー名です。
	CSRFHeader = "X-CSRF-Token"

	// ContextUserKey は、ハンドラー間でログイン済みユーザー名を共有するためのキーです。
	ContextUserKey = "auth.user"
)

const (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

// Credentials はログインに使用する資格情報です。
type Credentials struct {
	Username      string
	PasswordHash  string // bcrypt
	SessionSecret string
}

// Validate は資格情報が揃っているか確認します。
func (c Credentials) Validate() error {
	switch {
	case c.Username == "":
		return errors.New("username is not configured")
	case c.PasswordHash == "":
		return errors.New("password hash is not configured")
	case c.SessionSecret == "":
		return errors.New("session secret is not configured")
	}
	return nil
}

// Options は Manager の任意設定です。
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	creds   Credentials
	limiter *attemptLimiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(creds Credentials, opts Options) (*Manager, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		creds:   creds,
		limiter: newAttemptLimiter(opts.Now),
		logger:  opts.Logger.Named("auth"),
		now:     opts.Now,
	}, nil
}

// NewSessionStore はセッション用のCookieストアを作成します。
func NewSessionStore(secret string, secure bool) sessions.Store {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(maxSessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return store
}

func (m *Manager) verify(username, password string) bool {
	if username != m.creds.Username {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.creds.PasswordHash), []byte(password)) == nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
