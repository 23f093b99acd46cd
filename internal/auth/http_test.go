package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/toy-private-chat/internal/auth"
	"github.com/omochice/toy-private-chat/internal/chat"
)

// authServer answers every request with status and body, counting calls.
func authServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestHTTP_AuthenticateValidatesBeforeCalling(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "empty username", username: "", password: "x"},
		{name: "whitespace username", username: "   ", password: "x"},
		{name: "empty password", username: "alice", password: ""},
		{name: "whitespace password", username: "alice", password: " \t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, calls := authServer(t, http.StatusOK, `{"success":true}`)
			a := auth.NewHTTP(server.URL, time.Second)

			_, err := a.Authenticate(context.Background(), tt.username, tt.password)
			if !errors.Is(err, chat.ErrValidation) {
				t.Errorf("Authenticate() error = %v, want ErrValidation", err)
			}
			if calls.Load() != 0 {
				t.Errorf("auth service called %d times, want 0", calls.Load())
			}
		})
	}
}

func TestHTTP_AuthenticateSendsTrimmedCredentials(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s, want POST /api/auth", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true,"user":"alice"}`))
	}))
	defer server.Close()

	a := auth.NewHTTP(server.URL+"/", time.Second)
	id, err := a.Authenticate(context.Background(), "  alice ", " secret ")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id != "alice" {
		t.Errorf("Authenticate() = %q, want alice", id)
	}
	if got["username"] != "alice" || got["password"] != "secret" {
		t.Errorf("server received %v, want trimmed credentials", got)
	}
}

func TestHTTP_AuthenticateOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		want       chat.Identity
		wantErr    error
		wantStatus int
	}{
		{name: "success echoes user", status: http.StatusOK, body: `{"success":true,"user":"alice"}`, want: "alice"},
		{name: "success without user", status: http.StatusOK, body: `{"success":true}`, want: "alice"},
		{name: "flag false on 200", status: http.StatusOK, body: `{"success":false,"message":"nope"}`, wantErr: chat.ErrInvalidCredentials, wantStatus: http.StatusOK},
		{name: "2xx without flag", status: http.StatusOK, body: `{}`, wantErr: chat.ErrInvalidCredentials, wantStatus: http.StatusOK},
		{name: "401", status: http.StatusUnauthorized, body: `{"success":false,"message":"invalid credentials"}`, wantErr: chat.ErrInvalidCredentials, wantStatus: http.StatusUnauthorized},
		{name: "401 with text body", status: http.StatusUnauthorized, body: `Unauthorized`, wantErr: chat.ErrInvalidCredentials, wantStatus: http.StatusUnauthorized},
		{name: "500", status: http.StatusInternalServerError, body: `boom`, wantErr: chat.ErrAuthServiceUnavailable},
		{name: "malformed 200", status: http.StatusOK, body: `<html>`, wantErr: chat.ErrAuthServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := authServer(t, tt.status, tt.body)
			a := auth.NewHTTP(server.URL, time.Second)

			got, err := a.Authenticate(context.Background(), "alice", "secret")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Authenticate() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("Authenticate() = %q, want %q", got, tt.want)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantStatus != 0 {
				var rejected *auth.RejectedError
				if !errors.As(err, &rejected) {
					t.Fatalf("Authenticate() error = %T, want *RejectedError", err)
				}
				if rejected.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", rejected.StatusCode, tt.wantStatus)
				}
			}
		})
	}
}

func TestHTTP_AuthenticateUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	a := auth.NewHTTP(url, time.Second)
	_, err := a.Authenticate(context.Background(), "alice", "secret")
	if !errors.Is(err, chat.ErrAuthServiceUnavailable) {
		t.Errorf("Authenticate() error = %v, want ErrAuthServiceUnavailable", err)
	}
	if errors.Is(err, chat.ErrInvalidCredentials) {
		t.Error("network failure reported as invalid credentials")
	}
}

func TestHTTP_Register(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "created", status: http.StatusCreated, body: `{"success":true,"user":"alice"}`},
		{name: "taken", status: http.StatusConflict, body: `{"success":false,"message":"user already exists"}`, wantErr: auth.ErrUserExists},
		{name: "bad request", status: http.StatusBadRequest, body: `{"success":false}`, wantErr: chat.ErrInvalidCredentials},
		{name: "down", status: http.StatusServiceUnavailable, body: ``, wantErr: chat.ErrAuthServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := authServer(t, tt.status, tt.body)
			a := auth.NewHTTP(server.URL, time.Second)

			err := a.Register(context.Background(), "alice", "secret")
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Register() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTP_RegisterValidates(t *testing.T) {
	server, calls := authServer(t, http.StatusCreated, `{"success":true}`)
	a := auth.NewHTTP(server.URL, time.Second)

	if err := a.Register(context.Background(), "alice", "  "); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("Register() error = %v, want ErrValidation", err)
	}
	if calls.Load() != 0 {
		t.Errorf("auth service called %d times, want 0", calls.Load())
	}
}
