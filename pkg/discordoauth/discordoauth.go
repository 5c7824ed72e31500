// Package discordoauth implements the Discord OAuth2 login flow used by
// pkg/user's Discord registration/login path (spec.md §3's `discord_id`
// field).
package discordoauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/bwmarrin/discordgo"
)

func decodeJSON(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

const (
	tokenEndpoint = "https://discord.com/api/oauth2/token"
	apiBase       = "https://discord.com/api"
)

// Config holds the registered Discord application's OAuth2 client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Client exchanges an authorization code for an access token and resolves
// the authenticated Discord user.
//
// discordgo has no authorization-code exchange helper of its own (it is a
// bot-gateway library); the exchange itself is a plain form-encoded POST,
// after which a discordgo.Session authenticated with the resulting bearer
// token fetches the user profile through the same client the rest of the
// ecosystem uses for Discord API calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: 15 * time.Second}}
}

var ErrRegistry = errx.NewRegistry("DISCORDOAUTH")

var (
	CodeExchangeFailed = ErrRegistry.Register("EXCHANGE_FAILED", errx.TypeExternal, http.StatusBadGateway, "failed to exchange discord authorization code")
	CodeUserFetchFailed = ErrRegistry.Register("USER_FETCH_FAILED", errx.TypeExternal, http.StatusBadGateway, "failed to fetch discord user profile")
)

// Identity is the resolved Discord account a login exchange produced.
type Identity struct {
	DiscordID string
	Username  string
	Email     string
}

// Exchange trades an authorization code for an access token and returns
// the authenticated user's identity.
func (c *Client) Exchange(ctx context.Context, code string) (*Identity, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.cfg.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errx.Wrap(err, "failed to build discord token request", errx.TypeInternal)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ErrRegistry.New(CodeExchangeFailed).WithDetail("error", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrRegistry.New(CodeExchangeFailed).WithDetail("status", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := decodeJSON(resp, &tokenResp); err != nil {
		return nil, ErrRegistry.New(CodeExchangeFailed).WithDetail("error", err.Error())
	}

	session, err := discordgo.New(tokenResp.TokenType + " " + tokenResp.AccessToken)
	if err != nil {
		return nil, ErrRegistry.New(CodeUserFetchFailed).WithDetail("error", err.Error())
	}

	user, err := session.User("@me")
	if err != nil {
		return nil, ErrRegistry.New(CodeUserFetchFailed).WithDetail("error", err.Error())
	}

	return &Identity{
		DiscordID: user.ID,
		Username:  user.Username,
		Email:     user.Email,
	}, nil
}
