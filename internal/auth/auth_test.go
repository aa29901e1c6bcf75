package auth_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/auth"
)

func TestStaticSource(t *testing.T) {
	tok, err := auth.StaticSource{AccessToken: "abc"}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = auth.StaticSource{}.Refresh(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	src := auth.NewFileSource(path)
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))

	tok, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok, "token is cached until refreshed")

	tok, err = src.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok)

	t.Run("missing file", func(t *testing.T) {
		_, err := auth.NewFileSource(filepath.Join(t.TempDir(), "nope")).Token(context.Background())
		assert.Error(t, err)
	})

	t.Run("cancelled refresh", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := src.Refresh(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
