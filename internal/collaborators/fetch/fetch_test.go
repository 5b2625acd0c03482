package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchExtractsTitleAndText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Hello Page</title></head><body><p>Some visible text.</p><script>var x=1;</script></body></html>`))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(Config{})
	require.NoError(t, err)

	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Hello Page", res.Title)
	require.Contains(t, res.TextContent, "Some visible text.")
	require.NotContains(t, res.TextContent, "var x=1")
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestFetchDetectsLoginRedirectByPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			w.Write([]byte(`<html><head><title>Login</title></head><body>Please sign in</body></html>`))
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(Config{})
	require.NoError(t, err)

	res, err := f.Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	require.True(t, res.RedirectedToLogin)
}

func TestFetchCapsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})

	f, err := NewHTTPFetcher(Config{})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL+"/loop")
	require.Error(t, err)
}
