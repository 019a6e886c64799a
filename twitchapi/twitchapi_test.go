package twitchapi

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/fireflydesigns/meowbot/testutil"
)

func testClient(m *testutil.MockTwitchServer) *Client {
	return &Client{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "https://example.test/callback",
		Scopes:       []string{"chat:read", "chat:edit"},
		AuthBaseURL:  m.URL,
		HelixBaseURL: m.URL,
		HTTPClient:   m.Client(),
	}
}

func TestAuthCodeURL(t *testing.T) {
	c := &Client{ClientID: "cid", RedirectURI: "https://example.test/cb", Scopes: []string{"chat:read"}}
	raw, err := c.AuthCodeURL("state123")
	if err != nil {
		t.Fatalf("AuthCodeURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.HasPrefix(raw, "https://id.twitch.tv/oauth2/authorize") {
		t.Errorf("unexpected base: %s", raw)
	}
	q := u.Query()
	if q.Get("client_id") != "cid" || q.Get("state") != "state123" || q.Get("response_type") != "code" {
		t.Errorf("missing query params: %v", q)
	}
}

func TestAuthCodeURLMissingConfig(t *testing.T) {
	c := &Client{}
	if _, err := c.AuthCodeURL("s"); err == nil {
		t.Fatal("expected error with missing client id")
	}
}

func TestExchangeAuthCode(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockTokenResponse("user-access-token", 3600)
	c := testClient(m)

	tok, err := c.ExchangeAuthCode(context.Background(), "authcode")
	if err != nil {
		t.Fatalf("ExchangeAuthCode: %v", err)
	}
	if tok.AccessToken != "user-access-token" {
		t.Errorf("access token = %q", tok.AccessToken)
	}
	if tok.RefreshToken == "" {
		t.Error("refresh token missing")
	}
}

func TestExchangeAuthCodeFailure(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockTokenError(400)
	c := testClient(m)
	if _, err := c.ExchangeAuthCode(context.Background(), "bad"); err == nil {
		t.Fatal("expected exchange error")
	}
}

func TestGetAuthorizedUser(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockUserResponse("42", "somestreamer", "SomeStreamer")
	c := testClient(m)

	u, err := c.GetAuthorizedUser(context.Background(), "user-access-token")
	if err != nil {
		t.Fatalf("GetAuthorizedUser: %v", err)
	}
	if u.ID != "42" || u.Login != "somestreamer" || u.DisplayName != "SomeStreamer" {
		t.Errorf("user = %+v", u)
	}
}

func TestGetUserByLoginUsesAppToken(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockTokenResponse("app-token", 3600)
	m.MockUserResponse("7", "manualchan", "ManualChan")
	c := testClient(m)

	u, err := c.GetUserByLogin(context.Background(), "manualchan")
	if err != nil {
		t.Fatalf("GetUserByLogin: %v", err)
	}
	if u.Login != "manualchan" {
		t.Errorf("login = %q", u.Login)
	}
}

func TestGetUserByLoginEmpty(t *testing.T) {
	c := &Client{ClientID: "cid", ClientSecret: "s"}
	if _, err := c.GetUserByLogin(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty login")
	}
}
