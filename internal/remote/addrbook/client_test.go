package addrbook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapilot/quotapilot/internal/remote"
)

func TestLoginReturnsToken(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, jsonDecode(r, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok-123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, token, err := client.Login(context.Background(), remote.Credentials{Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	require.True(t, resp.Success())
	require.Equal(t, "tok-123", token)
	require.Equal(t, "a@example.com", gotBody["email"])
	require.Equal(t, "pw", gotBody["password"])
}

func TestLoginRateLimitedReturnsResponseWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, token, err := client.Login(context.Background(), remote.Credentials{Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	require.True(t, resp.RateLimited())
	require.Empty(t, token)
}

func TestListParsesWrappedAddresses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/addresses", r.URL.Path)
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"addresses":[
			{"id":17,"firstName":"Ada","isDefault":1,"createdAt":"2026-08-25T10:00:00Z"},
			{"id":"a-2","firstName":"Grace","isDefault":false}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.TokenSource = func() string { return "tok-123" }

	records, resp, err := client.List(context.Background())
	require.NoError(t, err)
	require.True(t, resp.Success())
	require.Len(t, records, 2)

	require.Equal(t, "17", records[0].ID)
	require.True(t, records[0].IsDefault)
	require.Equal(t, time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC), records[0].CreatedAt)
	first, ok := records[0].Field("firstName")
	require.True(t, ok)
	require.Equal(t, "Ada", first)

	require.Equal(t, "a-2", records[1].ID)
	require.False(t, records[1].IsDefault)
}

func TestListParsesBareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"isDefault":true}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	records, resp, err := client.List(context.Background())
	require.NoError(t, err)
	require.True(t, resp.Success())
	require.Len(t, records, 1)
	require.Equal(t, "1", records[0].ID)
	require.True(t, records[0].IsDefault)
}

func TestDeleteEscapesID(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.TokenSource = func() string { return "tok" }

	resp, err := client.Delete(context.Background(), "abc/41")
	require.NoError(t, err)
	require.True(t, resp.Success())
	require.Equal(t, "/api/addresses/abc%2F41", gotPath)
}

func TestDeleteRequiresID(t *testing.T) {
	client := NewClient("http://localhost:1")
	_, err := client.Delete(context.Background(), "  ")
	require.Error(t, err)
}

func TestCreateSendsFields(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/addresses", r.URL.Path)
		require.NoError(t, jsonDecode(r, &got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":99}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.TokenSource = func() string { return "tok" }

	resp, err := client.Create(context.Background(), map[string]string{"firstName": "Ada", "city": "London"})
	require.NoError(t, err)
	require.True(t, resp.Success())
	require.Equal(t, "Ada", got["firstName"])
	require.Equal(t, "London", got["city"])
}

func TestTokenSourceEvaluatedPerRequest(t *testing.T) {
	var tokens []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	current := "first"
	client := NewClient(server.URL)
	client.TokenSource = func() string { return current }

	_, _, err := client.List(context.Background())
	require.NoError(t, err)
	current = "second"
	_, _, err = client.List(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"Bearer first", "Bearer second"}, tokens)
}

func jsonDecode(r *http.Request, dst any) error {
	defer r.Body.Close() // nolint:errcheck
	return json.NewDecoder(r.Body).Decode(dst)
}
