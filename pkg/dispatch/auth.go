// Package dispatch implements the C8 dispatch layer: API-key extraction,
// quota/rate enforcement, and the retry/failover loop across the
// credential pool, OAuth refresher, and upstream client (spec.md §4.7).
package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/Abraxas-365/manifesto/pkg/apikey"
	"github.com/Abraxas-365/manifesto/pkg/apikey/apikeysrv"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"github.com/gofiber/fiber/v2"
)

var ErrRegistry = errx.NewRegistry("DISPATCH")

var (
	CodeMissingKey = ErrRegistry.Register("MISSING_KEY", errx.TypeAuthorization, http.StatusUnauthorized, "missing or invalid api key")
	CodeUserDisabled = ErrRegistry.Register("USER_DISABLED", errx.TypeAuthorization, http.StatusForbidden, "user account is disabled")
	CodeNoUpstream = ErrRegistry.Register("NO_UPSTREAM", errx.TypeBusiness, http.StatusServiceUnavailable, "no credential could serve this request after exhausting retries")
)

func ErrMissingKey() *errx.Error   { return ErrRegistry.New(CodeMissingKey) }
func ErrUserDisabled() *errx.Error { return ErrRegistry.New(CodeUserDisabled) }
func ErrNoUpstream() *errx.Error   { return ErrRegistry.New(CodeNoUpstream) }

// extractAPIKey reads the bearer secret from Authorization, x-api-key, or
// the ?key= query parameter (spec.md §6's external-interface contract).
func extractAPIKey(c *fiber.Ctx) string {
	if auth := c.Get("Authorization"); auth != "" {
		if secret, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return secret
		}
	}
	if key := c.Get("x-api-key"); key != "" {
		return key
	}
	return c.Query("key")
}

// Authenticator resolves an inbound request's API key into its owning user,
// rejecting disabled accounts.
type Authenticator struct {
	keys  *apikeysrv.APIKeyService
	users user.Repository
}

func NewAuthenticator(keys *apikeysrv.APIKeyService, users user.Repository) *Authenticator {
	return &Authenticator{keys: keys, users: users}
}

// Authenticate implements spec.md §4.7 step 1.
func (a *Authenticator) Authenticate(ctx context.Context, c *fiber.Ctx) (*user.User, *apikey.APIKey, error) {
	secret := extractAPIKey(c)
	if secret == "" {
		return nil, nil, ErrMissingKey()
	}

	key, err := a.keys.Authenticate(ctx, secret)
	if err != nil {
		return nil, nil, ErrMissingKey()
	}

	u, err := a.users.FindByID(ctx, key.UserID)
	if err != nil {
		return nil, nil, ErrMissingKey()
	}
	if !u.IsActive {
		return nil, nil, ErrUserDisabled()
	}

	return u, key, nil
}
