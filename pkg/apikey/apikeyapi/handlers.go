// Package apikeyapi implements the end-user API key management surface
// (spec.md §6: create/list/revoke) on top of apikeysrv.APIKeyService.
package apikeyapi

import (
	"github.com/Abraxas-365/manifesto/pkg/apikey/apikeysrv"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// Handlers wires the /api/v1/keys* routes onto a Fiber app.
type Handlers struct {
	keys *apikeysrv.APIKeyService
}

func NewHandlers(keys *apikeysrv.APIKeyService) *Handlers {
	return &Handlers{keys: keys}
}

// RegisterRoutes mounts the key management routes behind mw, the
// authenticated-session middleware.
func (h *Handlers) RegisterRoutes(app *fiber.App, mw fiber.Handler) {
	group := app.Group("/api/v1/keys", mw)
	group.Post("/", h.create)
	group.Get("/", h.list)
	group.Delete("/:id", h.revoke)
}

func authUser(c *fiber.Ctx) (kernel.UserID, bool) {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || !authCtx.IsValid() {
		return "", false
	}
	return authCtx.UserID, true
}

type createRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) create(c *fiber.Ctx) error {
	userID, ok := authUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	key, secret, err := h.keys.Create(c.Context(), userID, req.Name)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         key.ID,
		"name":       key.Name,
		"key_prefix": key.KeyPrefix,
		"secret":     secret,
	})
}

func (h *Handlers) list(c *fiber.Ctx) error {
	userID, ok := authUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	keys, err := h.keys.ListForUser(c.Context(), userID)
	if err != nil {
		return err
	}

	out := make([]fiber.Map, len(keys))
	for i, k := range keys {
		out[i] = fiber.Map{
			"id":           k.ID,
			"name":         k.Name,
			"key_prefix":   k.KeyPrefix,
			"is_active":    k.IsActive,
			"last_used_at": k.LastUsedAt,
			"created_at":   k.CreatedAt,
		}
	}
	return c.JSON(fiber.Map{"keys": out})
}

func (h *Handlers) revoke(c *fiber.Ctx) error {
	userID, ok := authUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	id := kernel.NewAPIKeyID(c.Params("id"))
	if err := h.keys.Revoke(c.Context(), id, userID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
