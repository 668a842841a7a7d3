package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/family-sync/internal/store"
)

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func newTestClient(t *testing.T, baseURL, access, refresh string) (*Client, *TokenStore) {
	t.Helper()
	ctx := context.Background()
	tokens := LoadTokens(ctx, store.NewMemory())
	require.NoError(t, tokens.Set(ctx, access, refresh))
	c, err := NewClient(baseURL, tokens, zerolog.New(io.Discard))
	require.NoError(t, err)
	return c, tokens
}

func TestNewClientRejectsBadURL(t *testing.T) {
	tokens := LoadTokens(context.Background(), store.NewMemory())
	_, err := NewClient("not a url", tokens, zerolog.New(io.Discard))
	require.ErrorIs(t, err, ErrInvalidURL)

	_, err = NewClient("", tokens, zerolog.New(io.Discard))
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestCallSendsAuthAndDecodes(t *testing.T) {
	access := signedToken(t, time.Hour)
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rpc/Echo", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]string{"echo": body["value"]})
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, access, "refresh-token")
	var out map[string]string
	err := c.Call(context.Background(), "Echo", map[string]string{"value": "hi"}, &out)
	require.NoError(t, err)
	require.Equal(t, "hi", out["echo"])
	require.Equal(t, "Bearer "+access, gotAuth)
}

func TestCallRefreshesOnceOn401(t *testing.T) {
	oldAccess := signedToken(t, time.Hour)
	newAccess := signedToken(t, 2*time.Hour)
	var rpcCalls, refreshCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rpc/Echo":
			rpcCalls++
			if r.Header.Get("Authorization") == "Bearer "+oldAccess {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			require.Equal(t, "Bearer "+newAccess, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		case "/api/refresh":
			refreshCalls++
			require.Equal(t, "Bearer the-refresh", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(RefreshResponse{Success: true, Token: newAccess})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, tokens := newTestClient(t, srv.URL, oldAccess, "the-refresh")
	var out map[string]bool
	err := c.Call(context.Background(), "Echo", struct{}{}, &out)
	require.NoError(t, err)
	require.True(t, out["ok"])
	require.Equal(t, 2, rpcCalls)
	require.Equal(t, 1, refreshCalls)
	require.Equal(t, newAccess, tokens.Access())
	require.Equal(t, "the-refresh", tokens.Refresh())
}

func TestCallSurfacesUnauthorizedAfterFailedRetry(t *testing.T) {
	access := signedToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/refresh":
			json.NewEncoder(w).Encode(RefreshResponse{Success: true, Token: signedToken(t, time.Hour)})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, access, "the-refresh")
	err := c.Call(context.Background(), "Echo", struct{}{}, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCallClassifiesServerErrors(t *testing.T) {
	access := signedToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, access, "the-refresh")
	err := c.Call(context.Background(), "DeleteGrowthData", struct{}{}, nil)

	var se *ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Status)
	require.True(t, IsNotFound(err))
	require.False(t, IsConnectivity(err))
}

func TestCallWrapsTransportFailures(t *testing.T) {
	c, _ := newTestClient(t, "http://127.0.0.1:1", signedToken(t, time.Hour), "")
	err := c.Call(context.Background(), "Echo", struct{}{}, nil)
	require.True(t, IsConnectivity(err))
}

func TestCallClassifiesDecodeFailures(t *testing.T) {
	access := signedToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, access, "the-refresh")
	var out map[string]string
	err := c.Call(context.Background(), "Echo", struct{}{}, &out)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestRefreshTokensRequiresRefreshToken(t *testing.T) {
	c, _ := newTestClient(t, "http://localhost:9999", signedToken(t, time.Hour), "")
	err := c.RefreshTokens(context.Background())
	require.ErrorIs(t, err, ErrMissingRefreshToken)
}

func TestRefreshTokensSurfacesServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RefreshResponse{Success: false, Error: "expired"})
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, "", "the-refresh")
	err := c.RefreshTokens(context.Background())

	var re *RefreshError
	require.ErrorAs(t, err, &re)
	require.Contains(t, re.Error(), "expired")
}

func TestExpiresWithin(t *testing.T) {
	ctx := context.Background()
	tokens := LoadTokens(ctx, store.NewMemory())

	require.True(t, tokens.ExpiresWithin(time.Minute), "empty token should read as expired")

	require.NoError(t, tokens.Set(ctx, "garbage", "r"))
	require.True(t, tokens.ExpiresWithin(time.Minute), "unparseable token should read as expired")

	require.NoError(t, tokens.Set(ctx, signedToken(t, time.Hour), "r"))
	require.False(t, tokens.ExpiresWithin(time.Minute))
	require.True(t, tokens.ExpiresWithin(2*time.Hour))
}

func TestWebsocketURL(t *testing.T) {
	c, _ := newTestClient(t, "https://family.example.com", "", "")
	require.Equal(t, "wss://family.example.com/ws/chat", c.WebsocketURL())

	c, _ = newTestClient(t, "http://localhost:8080", "", "")
	require.Equal(t, "ws://localhost:8080/ws/chat", c.WebsocketURL())
}
