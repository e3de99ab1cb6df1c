package auth

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/internal/store"
	"github.com/emberchat/ember/pkg/domain"
)

func testManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	s, err := store.Open(":memory:", logging.New(logging.Config{Level: "error", Format: "text"}))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s, ttl)
}

func TestRegisterAndLogin(t *testing.T) {
	m := testManager(t, time.Hour)
	r := httptest.NewRequest("POST", "/api/register", nil)

	token, err := m.Register(r, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if username, err := m.Validate(token); err != nil || username != "alice" {
		t.Fatalf("fresh token should validate as alice, got %q, %v", username, err)
	}

	loginToken, err := m.Login(r, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loginToken == token {
		t.Fatalf("login must issue a fresh token")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	m := testManager(t, time.Hour)
	r := httptest.NewRequest("POST", "/api/login", nil)

	if _, err := m.Register(r, "alice", "s3cret"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := m.Login(r, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := m.Login(r, "nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user must look like a bad password, got %v", err)
	}
}

func TestRegister_EmptyCredentials(t *testing.T) {
	m := testManager(t, time.Hour)
	r := httptest.NewRequest("POST", "/api/register", nil)

	if _, err := m.Register(r, "", "pw"); err == nil {
		t.Fatalf("empty username should be rejected")
	}
	if _, err := m.Register(r, "alice", ""); err == nil {
		t.Fatalf("empty password should be rejected")
	}
}

func TestRegister_UsernameCharset(t *testing.T) {
	m := testManager(t, time.Hour)
	r := httptest.NewRequest("POST", "/api/register", nil)

	// ":" is the conversation-key separator; a username containing it would
	// make dm:a:b ambiguous between ("a:b","") and ("a","b").
	for _, username := range []string{"a:b", "a b", "a/b", "", strings.Repeat("x", 51)} {
		if _, err := m.Register(r, username, "pw"); err == nil {
			t.Fatalf("username %q should be rejected", username)
		}
	}

	for _, username := range []string{"alice", "alice_1", "Bob99"} {
		if _, err := m.Register(r, username, "pw"); err != nil {
			t.Fatalf("username %q should be accepted: %v", username, err)
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	m := testManager(t, time.Hour)
	r := httptest.NewRequest("POST", "/api/register", nil)

	token, err := m.Register(r, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	m.Logout(token)
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked token must not validate, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	m := testManager(t, time.Nanosecond)
	r := httptest.NewRequest("POST", "/api/register", nil)

	token, err := m.Register(r, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	time.Sleep(time.Millisecond)
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token must not validate, got %v", err)
	}
}

func TestAuthenticate_HeaderAndQuery(t *testing.T) {
	m := testManager(t, time.Hour)
	token, err := m.Register(httptest.NewRequest("POST", "/api/register", nil), "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	withHeader := httptest.NewRequest("GET", "/ws/chat/general", nil)
	withHeader.Header.Set("Authorization", "Bearer "+token)
	if username, err := m.Authenticate(withHeader); err != nil || username != "alice" {
		t.Fatalf("header auth failed: %q, %v", username, err)
	}

	withQuery := httptest.NewRequest("GET", "/ws/chat/general?token="+token, nil)
	if username, err := m.Authenticate(withQuery); err != nil || username != "alice" {
		t.Fatalf("query auth failed: %q, %v", username, err)
	}

	anonymous := httptest.NewRequest("GET", "/ws/chat/general", nil)
	if _, err := m.Authenticate(anonymous); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("missing token must be unauthenticated, got %v", err)
	}
}
