package graph

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// OAuth endpoints for the common tenant.
const (
	authURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	tokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// Token is the credential triple persisted per drive.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AuthManager handles the sign-in code flow and token refresh.
type AuthManager struct {
	config *oauth2.Config
}

// AuthConfig carries the registered application's credentials.
type AuthConfig struct {
	ClientID     string `yaml:"client_id" env:"AUTH_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"AUTH_CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"AUTH_REDIRECT_URL"`
}

// NewAuthManager creates an auth manager for the registered application.
func NewAuthManager(cfg AuthConfig) *AuthManager {
	return &AuthManager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"Files.ReadWrite.All", "offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
	}
}

// GenerateAuthURL returns the sign-in URL and the random state embedded in
// it. The callback handler must see the same state back.
func (am *AuthManager) GenerateAuthURL() (string, string, error) {
	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	url := am.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	return url, state, nil
}

// Exchange trades an authorization code for a token.
func (am *AuthManager) Exchange(ctx context.Context, code string) (*Token, error) {
	token, err := am.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return fromOAuth2(token), nil
}

// Refresh trades a refresh token for a fresh credential triple.
func (am *AuthManager) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	source := am.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return fromOAuth2(token), nil
}

func fromOAuth2(token *oauth2.Token) *Token {
	return &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}
