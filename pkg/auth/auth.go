// Package auth acquires OAuth2 client-credentials tokens for either
// environment and caches them for the lifetime of a run.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/natserract/stsync/pkg/config"
	"github.com/natserract/stsync/pkg/httpclient"
)

// TokenResponse is the OAuth token endpoint response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Provider fetches and caches bearer tokens per environment.
type Provider struct {
	settings *config.Settings
	client   *httpclient.Client
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[config.Env]cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// NewProvider creates a token provider using the shared transport (and so
// the shared retry policy).
func NewProvider(settings *config.Settings, client *httpclient.Client, logger *zap.Logger) *Provider {
	return &Provider{
		settings: settings,
		client:   client,
		logger:   logger,
		cache:    make(map[config.Env]cachedToken),
	}
}

// Token returns a valid bearer token for the environment, fetching a new
// one when the cached token is missing or near expiry.
func (p *Provider) Token(ctx context.Context, env config.Env) (string, error) {
	p.mu.RLock()
	if ct, ok := p.cache[env]; ok && ct.token != "" && time.Now().Before(ct.expiresAt) {
		token := ct.token
		p.mu.RUnlock()
		p.logger.Debug("Using cached access token", zap.String("env", string(env)))
		return token, nil
	}
	p.mu.RUnlock()

	token, expiresIn, err := p.authenticate(ctx, env)
	if err != nil {
		return "", err
	}

	if expiresIn == 0 {
		expiresIn = 15 * time.Minute
	}

	p.mu.Lock()
	// Refresh slightly early to avoid sending an expired token.
	p.cache[env] = cachedToken{token: token, expiresAt: time.Now().Add(expiresIn - 30*time.Second)}
	p.mu.Unlock()

	return token, nil
}

func (p *Provider) authenticate(ctx context.Context, env config.Env) (string, time.Duration, error) {
	ec, err := p.settings.Environment(env)
	if err != nil {
		return "", 0, err
	}

	p.logger.Info("Fetching OAuth token",
		zap.String("env", ec.Name),
		zap.String("url", ec.AuthURL))

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	resp, err := p.client.Do(ctx, httpclient.RequestOptions{
		Method: http.MethodPost,
		URL:    ec.AuthURL,
		Form:   form,
		BasicAuth: &httpclient.BasicAuth{
			Username: ec.ClientID,
			Password: ec.ClientSecret,
		},
	})
	if err != nil {
		p.logger.Error("Authentication failed",
			zap.String("env", ec.Name),
			zap.Error(err))
		msg := fmt.Sprintf("%s authentication failed: %v", ec.Name, err)
		if strings.Contains(err.Error(), "invalid_client") {
			msg += fmt.Sprintf("; check your %s client id and secret", ec.Name)
		}
		return "", 0, fmt.Errorf("%s", msg)
	}

	var tr TokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", 0, fmt.Errorf("%s auth: failed to parse token response: %w", ec.Name, err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("%s authentication succeeded but no access_token in response", ec.Name)
	}

	p.logger.Info("Successfully authenticated",
		zap.String("env", ec.Name),
		zap.Int("expires_in", tr.ExpiresIn))

	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
