package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omochice/toy-private-chat/internal/chat"
	"github.com/omochice/toy-private-chat/internal/logging"
)

var log = logging.Logger(logging.Auth)

// ErrUserExists is returned by Register when the username is taken.
var ErrUserExists = errors.New("user already exists")

// Authenticator verifies credentials and yields the identity to join with.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (chat.Identity, error)
}

// RejectedError is a definite "no" from the auth service.
type RejectedError struct {
	// StatusCode is the HTTP status; 2xx means the success flag was false.
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v (status %d)", chat.ErrInvalidCredentials, e.StatusCode)
	}
	return fmt.Sprintf("%v (status %d): %s", chat.ErrInvalidCredentials, e.StatusCode, e.Reason)
}

// Unwrap makes errors.Is(err, chat.ErrInvalidCredentials) hold.
func (e *RejectedError) Unwrap() error {
	return chat.ErrInvalidCredentials
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type result struct {
	Success bool   `json:"success"`
	User    string `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// HTTP talks to the auth endpoints of the relay.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP creates a client for base, e.g. "http://localhost:8080". A zero
// timeout leaves the http.Client without one.
func NewHTTP(base string, timeout time.Duration) *HTTP {
	return &HTTP{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{Timeout: timeout},
	}
}

// Authenticate implements Authenticator.
func (c *HTTP) Authenticate(ctx context.Context, username, password string) (chat.Identity, error) {
	creds, err := validate(username, password)
	if err != nil {
		return "", err
	}

	var out result
	status, err := c.post(ctx, "/api/auth", creds, &out)
	if err != nil {
		return "", err
	}
	if status/100 != 2 || !out.Success {
		return "", &RejectedError{StatusCode: status, Reason: out.Message}
	}

	identity := chat.Identity(creds.Username)
	if out.User != "" {
		identity = chat.Identity(out.User)
	}
	log.Debugf("authenticated %s", identity)
	return identity, nil
}

// Register creates an account.
func (c *HTTP) Register(ctx context.Context, username, password string) error {
	creds, err := validate(username, password)
	if err != nil {
		return err
	}

	var out result
	status, err := c.post(ctx, "/api/register", creds, &out)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrUserExists, creds.Username)
	}
	if status/100 != 2 || !out.Success {
		return &RejectedError{StatusCode: status, Reason: out.Message}
	}
	return nil
}

func validate(username, password string) (credentials, error) {
	creds := credentials{
		Username: strings.TrimSpace(username),
		Password: strings.TrimSpace(password),
	}
	if creds.Username == "" {
		return credentials{}, fmt.Errorf("%w: username is required", chat.ErrValidation)
	}
	if creds.Password == "" {
		return credentials{}, fmt.Errorf("%w: password is required", chat.ErrValidation)
	}
	return creds, nil
}

// post sends in as JSON and decodes the reply into out. Transport failures,
// 5xx replies and undecodable 2xx bodies are reported as
// chat.ErrAuthServiceUnavailable; other statuses are returned to the caller.
func (c *HTTP) post(ctx context.Context, path string, in, out any) (int, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", chat.ErrAuthServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", chat.ErrAuthServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 5 {
		return resp.StatusCode, fmt.Errorf("%w: auth post %s: %s", chat.ErrAuthServiceUnavailable, path, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %w", chat.ErrAuthServiceUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode/100 == 2 {
			return resp.StatusCode, fmt.Errorf("%w: malformed response from %s: %v", chat.ErrAuthServiceUnavailable, path, err)
		}
		log.Debugf("auth post %s: %s with non-JSON body", path, resp.Status)
	}
	return resp.StatusCode, nil
}

var _ Authenticator = (*HTTP)(nil)
