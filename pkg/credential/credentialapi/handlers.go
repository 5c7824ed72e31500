// Package credentialapi implements the C9 admin/credential HTTP surface
// (spec.md §6): upload, verify, donate toggle, batch delete, stats.
package credentialapi

import (
	"context"
	"io"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/credential/credentialsrv"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// Verifier is the narrow surface handlers need to launch a verification;
// kept local to avoid a direct import of the refresher/prober wiring.
type Verifier interface {
	VerifyCredential(ctx context.Context, credID kernel.CredentialID) (*credentialsrv.VerificationResult, error)
}

// Handlers wires the C9 admin routes onto a Fiber app.
type Handlers struct {
	repo     credential.Repository
	pool     *credentialsrv.Pool
	upload   *credentialsrv.UploadService
	verifier Verifier
}

func NewHandlers(repo credential.Repository, pool *credentialsrv.Pool, upload *credentialsrv.UploadService, verifier Verifier) *Handlers {
	return &Handlers{repo: repo, pool: pool, upload: upload, verifier: verifier}
}

// RegisterRoutes mounts the /api/v1/credentials* routes behind mw, the
// authenticated-session middleware.
func (h *Handlers) RegisterRoutes(app *fiber.App, mw fiber.Handler) {
	group := app.Group("/api/v1/credentials", mw)
	group.Post("/", h.upload_)
	group.Get("/", h.list)
	group.Get("/stats", h.stats)
	group.Post("/:id/verify", h.verify)
	group.Patch("/:id", h.togglePublic)
	group.Delete("/", h.batchDelete)
}

func authUser(c *fiber.Ctx) (kernel.UserID, bool) {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || !authCtx.IsValid() {
		return "", false
	}
	return authCtx.UserID, true
}

func (h *Handlers) upload_(c *fiber.Ctx) error {
	userID, ok := authUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	contentType := c.Get("Content-Type")
	if fileHeader, err := c.FormFile("file"); err == nil {
		file, err := fileHeader.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to read uploaded file"})
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to read uploaded file"})
		}
		result, err := h.upload.UploadZip(c.Context(), userID, data)
		if err != nil {
			return err
		}
		return c.JSON(result)
	}

	if contentType == "application/json" || contentType == "" {
		cred, err := h.upload.UploadJSON(c.Context(), userID, c.Body())
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(cred)
	}

	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported content type"})
}

func (h *Handlers) list(c *fiber.Ctx) error {
	userID, ok := authUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	creds, err := h.repo.ListByOwner(c.Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"credentials": creds})
}

func (h *Handlers) stats(c *fiber.Ctx) error {
	stats, err := h.repo.Stats(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (h *Handlers) verify(c *fiber.Ctx) error {
	id := kernel.NewCredentialID(c.Params("id"))
	result, err := h.verifier.VerifyCredential(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type toggleRequest struct {
	IsPublic bool `json:"is_public"`
}

func (h *Handlers) togglePublic(c *fiber.Ctx) error {
	userID, ok := authUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	var req toggleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	id := kernel.NewCredentialID(c.Params("id"))
	if err := h.pool.SetDonated(c.Context(), id, userID, req.IsPublic); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type batchDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handlers) batchDelete(c *fiber.Ctx) error {
	userID, ok := authUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	var req batchDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	for _, idStr := range req.IDs {
		if err := h.pool.Delete(c.Context(), kernel.NewCredentialID(idStr), userID); err != nil {
			return err
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}
