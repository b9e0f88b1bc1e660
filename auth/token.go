package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bookstore/config"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// TokenResponse repräsentiert die JSON-Antwort des Identity-Providers.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenClient kapselt den Client-Credentials-Grant gegen den
// konfigurierten Identity-Provider. Tokens werden nur beschafft, nicht
// validiert; Auth bleibt eine externe Grenze.
type TokenClient struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewTokenClient erstellt einen neuen TokenClient.
func NewTokenClient(cfg *config.Config, logger *zap.Logger) *TokenClient {
	return &TokenClient{Config: cfg, Logger: logger}
}

// GetToken holt ein Access-Token per Client-Credentials-Grant.
func (t *TokenClient) GetToken(ctx context.Context) (*TokenResponse, error) {
	if t.Config.AuthTokenURL == "" {
		return nil, fmt.Errorf("auth token url ist nicht konfiguriert")
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     t.Config.AuthClientID,
		"client_secret": t.Config.AuthClientSecret,
		"audience":      t.Config.AuthAudience,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Config.AuthTokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status: %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}

	t.Logger.Debug("Access-Token vom Identity-Provider erhalten.")
	return &token, nil
}
