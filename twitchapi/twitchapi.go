// Package twitchapi contains the Twitch OAuth and Helix helpers used by the
// coordinator: authorization-code exchange, app access tokens, and user
// identity lookup.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultAuthBaseURL  = "https://id.twitch.tv"
	defaultHelixBaseURL = "https://api.twitch.tv"
)

// User is the subset of a Helix user record the coordinator cares about.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Client wraps the Twitch endpoints. Base URLs are overridable for tests.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	AuthBaseURL  string
	HelixBaseURL string
	HTTPClient   *http.Client

	appTokenOnce sync.Once
	appToken     oauth2.TokenSource
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) authBase() string {
	if c.AuthBaseURL != "" {
		return c.AuthBaseURL
	}
	return defaultAuthBaseURL
}

func (c *Client) helixBase() string {
	if c.HelixBaseURL != "" {
		return c.HelixBaseURL
	}
	return defaultHelixBaseURL
}

// oauthConfig builds the code-grant config. Twitch wants client credentials
// in the POST body, hence AuthStyleInParams.
func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.authBase() + "/oauth2/authorize",
			TokenURL:  c.authBase() + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL returns the user authorization URL for the OAuth code grant.
func (c *Client) AuthCodeURL(state string) (string, error) {
	if c.ClientID == "" || c.RedirectURI == "" {
		return "", errors.New("missing client id or redirect URI")
	}
	return c.oauthConfig().AuthCodeURL(state), nil
}

// ExchangeAuthCode exchanges an authorization code for tokens.
func (c *Client) ExchangeAuthCode(ctx context.Context, code string) (*oauth2.Token, error) {
	if c.ClientID == "" || c.ClientSecret == "" || code == "" {
		return nil, errors.New("missing client id/secret/code for auth code exchange")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http())
	tok, err := c.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("twitch auth code exchange failed: %w", err)
	}
	return tok, nil
}

// appTokenSource lazily builds a cached client-credentials token source for
// Helix calls that do not act on behalf of a user.
func (c *Client) appTokenSource() oauth2.TokenSource {
	c.appTokenOnce.Do(func() {
		cfg := &clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.authBase() + "/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http())
		c.appToken = cfg.TokenSource(ctx)
	})
	return c.appToken
}

// GetAuthorizedUser resolves the identity behind a user access token
// (the broadcaster who just completed the OAuth flow).
func (c *Client) GetAuthorizedUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, errors.New("access token empty")
	}
	return c.getUser(ctx, accessToken, "")
}

// GetUserByLogin resolves a login name using an app access token. Used to
// validate manually-added channels.
func (c *Client) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, errors.New("login empty")
	}
	tok, err := c.appTokenSource().Token()
	if err != nil {
		return nil, fmt.Errorf("app token: %w", err)
	}
	return c.getUser(ctx, tok.AccessToken, login)
}

func (c *Client) getUser(ctx context.Context, accessToken, login string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.helixBase()+"/helix/users", nil)
	if err != nil {
		return nil, err
	}
	if login != "" {
		q := req.URL.Query()
		q.Set("login", login)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("helix users request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, errors.New("user not found")
	}
	return &body.Data[0], nil
}
