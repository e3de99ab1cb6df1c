// Package auth provides user registration, login, and bearer-token
// session validation for the HTTP and websocket surfaces.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/emberchat/ember/internal/store"
	"github.com/emberchat/ember/pkg/domain"
	emberrors "github.com/emberchat/ember/pkg/errors"
)

var (
	// ErrInvalidCredentials is returned when a login fails. It deliberately
	// does not distinguish an unknown user from a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidToken is returned for missing, unknown, or expired tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Usernames are embedded in conversation keys with ":" as the separator, so
// the charset must exclude it. Word characters only, bounded by the column
// width.
var usernamePattern = regexp.MustCompile(`^\w{1,50}$`)

type session struct {
	username  string
	expiresAt time.Time
}

// Manager issues and validates session tokens backed by the user store.
type Manager struct {
	store      *store.Store
	sessionTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]session
}

// NewManager creates a Manager with the given session lifetime.
func NewManager(s *store.Store, sessionTTL time.Duration) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Manager{
		store:      s,
		sessionTTL: sessionTTL,
		sessions:   make(map[string]session),
	}
}

// Register creates a user with a bcrypt-hashed password and returns a
// fresh session token.
func (m *Manager) Register(r *http.Request, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", emberrors.New(emberrors.ErrorTypeValidation, "EMPTY_CREDENTIALS", "username and password are required")
	}
	if !usernamePattern.MatchString(username) {
		return "", emberrors.New(emberrors.ErrorTypeValidation, "INVALID_USERNAME", "username must be 1-50 word characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", emberrors.Wrap(err, emberrors.ErrorTypeInternal, "HASH_FAILED", "failed to hash password")
	}

	if _, err := m.store.CreateUser(r.Context(), username, string(hash), ""); err != nil {
		return "", err
	}
	return m.issueToken(username)
}

// Login verifies credentials and returns a fresh session token.
func (m *Manager) Login(r *http.Request, username, password string) (string, error) {
	_, hash, err := m.store.Credentials(r.Context(), username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return m.issueToken(username)
}

// Logout revokes a token. Revoking an unknown token is a no-op.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// Validate returns the username bound to a token, if it is live.
func (m *Manager) Validate(token string) (string, error) {
	m.mu.RLock()
	sess, ok := m.sessions[token]
	m.mu.RUnlock()

	if !ok {
		return "", ErrInvalidToken
	}
	if time.Now().After(sess.expiresAt) {
		m.Logout(token)
		return "", ErrInvalidToken
	}
	return sess.username, nil
}

// Authenticate extracts a token from the request and validates it. It
// accepts "Authorization: Bearer <token>" or, for websocket clients that
// cannot set headers, a "token" query parameter.
func (m *Manager) Authenticate(r *http.Request) (string, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return "", domain.ErrUnauthenticated
	}

	username, err := m.Validate(token)
	if err != nil {
		return "", domain.ErrUnauthenticated
	}
	return username, nil
}

func (m *Manager) issueToken(username string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", emberrors.Wrap(err, emberrors.ErrorTypeInternal, "TOKEN_FAILED", "failed to generate session token")
	}
	token := hex.EncodeToString(buf)

	m.mu.Lock()
	m.sessions[token] = session{
		username:  username,
		expiresAt: time.Now().Add(m.sessionTTL),
	}
	m.mu.Unlock()

	return token, nil
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
