package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookstore/config"
)

func TestGetToken(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "abc123",
			TokenType:   "Bearer",
			ExpiresIn:   86400,
		})
	}))
	defer server.Close()

	client := NewTokenClient(&config.Config{
		AuthTokenURL:     server.URL,
		AuthClientID:     "client-id",
		AuthClientSecret: "client-secret",
		AuthAudience:     "https://api.example.com",
	}, zap.NewNop())

	token, err := client.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, 86400, token.ExpiresIn)

	assert.Equal(t, "client_credentials", gotBody["grant_type"])
	assert.Equal(t, "client-id", gotBody["client_id"])
	assert.Equal(t, "client-secret", gotBody["client_secret"])
	assert.Equal(t, "https://api.example.com", gotBody["audience"])
}

func TestGetTokenUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewTokenClient(&config.Config{AuthTokenURL: server.URL}, zap.NewNop())
	_, err := client.GetToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestGetTokenNotConfigured(t *testing.T) {
	client := NewTokenClient(&config.Config{}, zap.NewNop())
	_, err := client.GetToken(context.Background())
	require.Error(t, err)
}
