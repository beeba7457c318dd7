package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOpenAIClient(Config{Endpoint: server.URL, Model: "gpt-test", APIKey: "key"})
	require.NoError(t, err)
	return client
}

func TestSummarizeReturnsCompletion(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 2)

		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "<p>digest</p>"}}},
		})
	})

	out, err := client.Summarize(context.Background(), news.Preferences{Format: "html"}, []news.Article{
		{Title: "One", Link: "https://example.com/one"},
	})
	require.NoError(t, err)
	require.Equal(t, "<p>digest</p>", out)
}

func TestSummarizeRateLimitIsTransient(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := client.Summarize(context.Background(), news.Preferences{}, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.Transient())
	require.True(t, retry.NewPolicy(3, 0, 0).ShouldRetry(err, 0))
}

func TestSummarizeBadRequestIsPermanent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad prompt", http.StatusBadRequest)
	})

	_, err := client.Summarize(context.Background(), news.Preferences{}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.False(t, apiErr.Transient())
}

func TestSummarizeEmptyCompletion(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Summarize(context.Background(), news.Preferences{}, nil)
	require.Error(t, err)
}

func TestNewOpenAIClientValidates(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIClient(Config{Model: "m", APIKey: "k"})
	require.Error(t, err)
}
