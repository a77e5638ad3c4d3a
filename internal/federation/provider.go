package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// Profile is what an external identity provider asserts about a user.
type Profile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider runs the OAuth2 authorization code flow against one identity
// provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Profile, error)
}

// GoogleConfig configures the Google provider. The URL fields default to
// Google's production endpoints.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// Google implements Provider for Google accounts.
type Google struct {
	oauth       *oauth2.Config
	userInfoURL string
}

// NewGoogle builds the Google provider.
func NewGoogle(cfg GoogleConfig) *Google {
	endpoint := endpoints.Google
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = defaultGoogleUserInfoURL
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfo,
	}
}

// Name implements Provider.
func (g *Google) Name() string { return "google" }

// AuthCodeURL implements Provider.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Exchange trades code for a token and reads the user's profile.
func (g *Google) Exchange(ctx context.Context, code string) (Profile, error) {
	if code == "" {
		return Profile{}, errors.New("authorization code is required")
	}
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("google exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	resp, err := g.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, fmt.Errorf("google userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("google userinfo: unexpected status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return Profile{}, fmt.Errorf("google userinfo: decode: %w", err)
	}
	return Profile{
		Provider:      g.Name(),
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
	}, nil
}
