// Package userapi implements the registration/login/Discord-callback HTTP
// surface (spec.md §6's auth endpoints) on top of pkg/user/usersrv,
// pkg/user/userauth, and pkg/discordoauth.
package userapi

import (
	"context"

	"github.com/Abraxas-365/manifesto/pkg/discordoauth"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"github.com/Abraxas-365/manifesto/pkg/user/userauth"
	"github.com/gofiber/fiber/v2"
)

// DiscordExchanger is the narrow surface handlers need from
// pkg/discordoauth, kept local per the package's dependency-inversion
// convention.
type DiscordExchanger interface {
	Exchange(ctx context.Context, code string) (*discordoauth.Identity, error)
}

// UserService is the narrow surface handlers need from usersrv.UserService.
type UserService interface {
	Register(ctx context.Context, username, password string) (*user.User, error)
	Login(ctx context.Context, username, password string) (*user.User, error)
	LoginOrRegisterDiscord(ctx context.Context, discordID, username string) (*user.User, error)
	Get(ctx context.Context, id kernel.UserID) (*user.User, error)
}

// Handlers wires the auth routes onto a Fiber app.
type Handlers struct {
	users   UserService
	jwt     *userauth.JWTService
	discord DiscordExchanger
}

func NewHandlers(users UserService, jwt *userauth.JWTService, discord DiscordExchanger) *Handlers {
	return &Handlers{users: users, jwt: jwt, discord: discord}
}

// RegisterRoutes mounts /api/v1/auth* (public) and /api/v1/users/me (behind
// mw, the session middleware).
func (h *Handlers) RegisterRoutes(app *fiber.App, mw fiber.Handler) {
	auth := app.Group("/api/v1/auth")
	auth.Post("/register", h.register)
	auth.Post("/login", h.login)
	auth.Get("/discord/callback", h.discordCallback)

	users := app.Group("/api/v1/users", mw)
	users.Get("/me", h.me)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	u, err := h.users.Register(c.Context(), req.Username, req.Password)
	if err != nil {
		return err
	}

	return h.respondWithSession(c, u)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	u, err := h.users.Login(c.Context(), req.Username, req.Password)
	if err != nil {
		return err
	}

	return h.respondWithSession(c, u)
}

// discordCallback completes the OAuth2 authorization-code flow and
// upserts/logs-in the resulting account.
func (h *Handlers) discordCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing authorization code")
	}

	identity, err := h.discord.Exchange(c.Context(), code)
	if err != nil {
		return err
	}

	u, err := h.users.LoginOrRegisterDiscord(c.Context(), identity.DiscordID, identity.Username)
	if err != nil {
		return err
	}

	return h.respondWithSession(c, u)
}

func (h *Handlers) me(c *fiber.Ctx) error {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || !authCtx.IsValid() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	u, err := h.users.Get(c.Context(), authCtx.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"id":            u.ID,
		"username":      u.Username,
		"is_admin":      u.IsAdmin,
		"base_quota":    u.BaseQuota,
		"bonus_quota":   u.BonusQuota,
		"effective_quota": u.EffectiveQuota(),
	})
}

func (h *Handlers) respondWithSession(c *fiber.Ctx, u *user.User) error {
	token, err := h.jwt.Generate(u.ID, u.IsAdmin)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    token,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return c.JSON(fiber.Map{
		"access_token": token,
		"user": fiber.Map{
			"id":       u.ID,
			"username": u.Username,
			"is_admin": u.IsAdmin,
		},
	})
}
