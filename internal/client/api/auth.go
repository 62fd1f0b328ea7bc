package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// RegisterParams is the body of POST /api/auth/register.
type RegisterParams struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, p RegisterParams) (*User, error) {
	var user User
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/register", p, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates and keeps the session cookie and token.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	in := map[string]string{"email": email, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/login", in, &s); err != nil {
		return nil, err
	}
	c.SetToken(s.Token)
	return &s, nil
}

// Logout clears the server cookie and the local token.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if _, err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type savedSession struct {
	BaseURL string    `json:"baseUrl"`
	Token   string    `json:"token"`
	UserID  string    `json:"userId,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

// SaveSession writes the current token to path with owner-only permissions.
func (c *Client) SaveSession(path, userID string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(savedSession{
		BaseURL: c.base.String(),
		Token:   c.Token(),
		UserID:  userID,
		SavedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadSession restores a token saved for the same backend. A missing file is
// not an error; the client simply stays signed out.
func (c *Client) LoadSession(path string) (userID string, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	var s savedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("parse session %s: %w", path, err)
	}
	if s.BaseURL != c.base.String() {
		return "", nil
	}
	c.SetToken(s.Token)
	return s.UserID, nil
}

// ClearSession removes the saved session file.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
