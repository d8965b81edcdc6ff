package openrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCompleteSendsAttributionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "https://example.org", r.Header.Get("HTTP-Referer"))
		assert.NotEmpty(t, r.Header.Get("X-Title"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```json\\n{}\\n```" + `"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL, Referer: "https://example.org"}, zap.NewNop())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "```json\n{}\n```", out)
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key","type":"auth"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}
