package article

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kzmtkz/xppusher/pkg/platform"
)

func TestPublishReturnsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "nightly picks", body["title"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"url":"https://telegra.ph/nightly-picks-01-01"}}`))
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, "test-token")
	url, err := pub.Publish(context.Background(), "nightly picks", []platform.Work{
		{ID: 1, Title: "a", AuthorName: "author", ImageURLs: []string{"https://example.com/1.jpg"}},
	})
	require.NoError(t, err)
	require.Equal(t, "https://telegra.ph/nightly-picks-01-01", url)
}

func TestPublishErrorsOnUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, "test-token")
	_, err := pub.Publish(context.Background(), "t", nil)
	require.Error(t, err)
}

func TestPublishErrorsOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, "test-token")
	_, err := pub.Publish(context.Background(), "t", nil)
	require.Error(t, err)
}
