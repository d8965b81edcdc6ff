package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJSONPostWithResponseField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["message"])
		assert.Equal(t, "v", body["static"])

		_, _ = w.Write([]byte(`{"data":{"choices":[{"text":"answer"}]}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		URL:           srv.URL,
		PromptField:   "message",
		ResponseField: "data.choices.0.text",
		Headers:       map[string]string{"X-Custom": "yes"},
		Params:        map[string]string{"static": "v"},
	}, zap.NewNop())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestFormPostRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "hello", r.PostForm.Get("text"))
		_, _ = w.Write([]byte("raw reply"))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, Encoding: "form", PromptField: "text"}, zap.NewNop())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "raw reply", out)
}

func TestGetQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "hello", r.URL.Query().Get("prompt"))
		assert.Equal(t, "1", r.URL.Query().Get("keep"))
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL + "?keep=1", Method: "get", ResponseField: "response"}, zap.NewNop())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"response":42}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL + "/fail"}, zap.NewNop())
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "x")
	assert.Error(t, err)

	c, err = NewClient(Config{URL: srv.URL, ResponseField: "response"}, zap.NewNop())
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "x")
	assert.ErrorContains(t, err, "not a string")

	c, err = NewClient(Config{URL: srv.URL, ResponseField: "missing.path"}, zap.NewNop())
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "x")
	assert.ErrorContains(t, err, "not found")
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(Config{URL: "http://x", Method: "PUT"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(Config{URL: "http://x", Method: "GET", Encoding: "json"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(Config{URL: "http://x", Encoding: "xml"}, zap.NewNop())
	assert.Error(t, err)
}
