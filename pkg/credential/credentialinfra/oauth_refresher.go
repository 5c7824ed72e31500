package credentialinfra

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/cryptox"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"golang.org/x/oauth2"
)

const googleTokenEndpoint = "https://oauth2.googleapis.com/token"

var ErrRegistry = errx.NewRegistry("OAUTH")

var (
	CodeRefreshFailed = ErrRegistry.Register("REFRESH_FAILED", errx.TypeInternal, 502, "failed to refresh oauth access token")
	CodeInvalidGrant  = ErrRegistry.Register("INVALID_GRANT", errx.TypeAuthorization, 401, "refresh token was rejected by google")
)

func ErrRefreshFailed(err error) *errx.Error {
	return ErrRegistry.New(CodeRefreshFailed).WithDetail("error", err.Error())
}
func ErrInvalidGrant() *errx.Error { return ErrRegistry.New(CodeInvalidGrant) }

// Refresher implements the C4 OAuth refresher: it trades a credential's
// refresh token for a short-lived access token via golang.org/x/oauth2's
// standard refresh-token grant, against Google's token endpoint.
//
// Per spec.md §4.3 it never caches — every selection refreshes — so this
// wraps a one-shot oauth2.Config.TokenSource and consumes exactly one
// token from it, rather than holding a long-lived TokenSource across
// requests.
type Refresher struct {
	vault               *cryptox.Vault
	defaultClientID     string
	defaultClientSecret string
}

func NewRefresher(vault *cryptox.Vault, defaultClientID, defaultClientSecret string) *Refresher {
	return &Refresher{vault: vault, defaultClientID: defaultClientID, defaultClientSecret: defaultClientSecret}
}

// Refresh returns a plaintext access token for cred, re-encrypting it for
// the caller to write back under the same transaction that will consume
// it (the caller, not Refresher, owns persistence).
func (r *Refresher) Refresh(ctx context.Context, cred *credential.Credential) (plaintextAccessToken string, ciphertext string, err error) {
	refreshToken, err := r.vault.Decrypt(cred.RefreshTokenCT)
	if err != nil {
		return "", "", errx.Wrap(err, "failed to decrypt refresh token", errx.TypeInternal)
	}

	clientID, clientSecret := r.defaultClientID, r.defaultClientSecret
	if cred.OAuthClientIDCT != nil && cred.OAuthClientSecretCT != nil {
		if id, derr := r.vault.Decrypt(*cred.OAuthClientIDCT); derr == nil {
			clientID = id
		}
		if secret, derr := r.vault.Decrypt(*cred.OAuthClientSecretCT); derr == nil {
			clientSecret = secret
		}
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: googleTokenEndpoint},
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	token, err := conf.TokenSource(reqCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if isInvalidGrant(err) {
			return "", "", ErrInvalidGrant()
		}
		return "", "", ErrRefreshFailed(err)
	}

	ct, err := r.vault.Encrypt(token.AccessToken)
	if err != nil {
		return "", "", err
	}

	return token.AccessToken, ct, nil
}

func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return strings.Contains(string(retrieveErr.Body), "invalid_grant")
	}
	return strings.Contains(err.Error(), "invalid_grant")
}
