// Package auth supplies bearer tokens for the reporting API. Token acquisition
// (the OAuth flow) happens elsewhere; this package only reads and refreshes what it produced.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoToken is returned when no token is configured.
var ErrNoToken = errors.New("no access token available")

// TokenSource hands out the current token and can be asked for a fresh one
// after the API rejected it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticSource always returns the same token.
type StaticSource struct {
	AccessToken string
}

func (s StaticSource) Token(ctx context.Context) (string, error) {
	if s.AccessToken == "" {
		return "", ErrNoToken
	}
	return s.AccessToken, nil
}

func (s StaticSource) Refresh(ctx context.Context) (string, error) {
	return s.Token(ctx)
}

// FileSource reads the token from a file kept current by an external helper
// (for example `gcloud auth print-access-token > token`). Refresh re-reads it.
type FileSource struct {
	path string

	mu    sync.Mutex
	token string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}
	return s.loadLocked()
}

func (s *FileSource) Refresh(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileSource) loadLocked() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", ErrNoToken
	}
	s.token = token
	return token, nil
}
