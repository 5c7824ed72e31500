package dispatch

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/quota/quotasrv"
	"github.com/Abraxas-365/manifesto/pkg/upstream"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
)

// Handlers wires the C8 dispatch routes onto a Fiber app (spec.md §6's
// external-interface table).
type Handlers struct {
	auth       *Authenticator
	dispatcher *Dispatcher
	quota      *quotasrv.Service
}

func NewHandlers(auth *Authenticator, dispatcher *Dispatcher, quota *quotasrv.Service) *Handlers {
	return &Handlers{auth: auth, dispatcher: dispatcher, quota: quota}
}

// RegisterRoutes mounts the chat-completion, model-listing and Gemini
// generateContent routes. The optional /openai/* passthrough is not mounted.
func (h *Handlers) RegisterRoutes(app *fiber.App) {
	app.Post("/v1/chat/completions", h.chatCompletions)
	app.Post("/chat/completions", h.chatCompletions)

	app.Get("/v1/models", h.listModels)
	app.Get("/models", h.listModels)
	app.Get("/v1beta/models", h.listGeminiModels)

	app.Post("/v1beta/models/:model", h.geminiGenerate)
}

// listModels renders the OpenAI-compatible `GET /v1/models` shape.
func (h *Handlers) listModels(c *fiber.Ctx) error {
	ids := upstream.ModelIDs()
	data := make([]fiber.Map, len(ids))
	for i, id := range ids {
		data[i] = fiber.Map{"id": id, "object": "model"}
	}
	return c.JSON(fiber.Map{"object": "list", "data": data})
}

// listGeminiModels renders the Gemini public `GET /v1beta/models` shape
// (spec.md §6), distinct from the OpenAI-compatible listing above.
func (h *Handlers) listGeminiModels(c *fiber.Ctx) error {
	ids := upstream.ModelIDs()
	models := make([]fiber.Map, len(ids))
	for i, id := range ids {
		models[i] = fiber.Map{
			"name":                       "models/" + id,
			"baseModelId":                id,
			"version":                    "001",
			"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
		}
	}
	return c.JSON(fiber.Map{"models": models})
}

func (h *Handlers) chatCompletions(c *fiber.Ctx) error {
	u, key, err := h.auth.Authenticate(c.Context(), c)
	if err != nil {
		return err
	}

	var req upstream.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.quota.Enforce(c.Context(), u, req.Model); err != nil {
		return err
	}

	systemInstruction, contents := upstream.GeminiContentsFromChat(req.Messages)
	body := &upstream.GenerateContentBody{
		Contents:          contents,
		SystemInstruction: systemInstruction,
	}

	apiKeyID := &key.ID
	id := "chatcmpl-" + uuid.NewString()

	if !req.Stream {
		outcome, err := h.dispatcher.Generate(c.Context(), u, apiKeyID, req.Model, "", body)
		if err != nil {
			return err
		}
		completion := upstream.ToChatCompletion(id, req.Model, outcome.Response)
		return c.JSON(completion)
	}

	return h.streamChatCompletion(c, u, apiKeyID, id, req.Model, body)
}

func (h *Handlers) streamChatCompletion(c *fiber.Ctx, u *user.User, apiKeyID *kernel.APIKeyID, id, model string, body *upstream.GenerateContentBody) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		err := h.dispatcher.GenerateStream(c.Context(), u, apiKeyID, model, body, func(frame upstream.Frame) error {
			chunk := upstream.ToChatCompletionChunk(id, model, frame.Response)
			return writeSSEChunk(w, chunk)
		})
		if err != nil {
			fmt.Fprintf(w, "data: {\"error\":%q}\n\n", err.Error())
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush()
	})

	return nil
}

func writeSSEChunk(w *bufio.Writer, chunk openai.ChatCompletionChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

// geminiGenerate implements the `/v1beta/models/{model}:generateContent`
// and `:streamGenerateContent` pass-through routes.
func (h *Handlers) geminiGenerate(c *fiber.Ctx) error {
	u, key, err := h.auth.Authenticate(c.Context(), c)
	if err != nil {
		return err
	}

	modelParam := c.Params("model")
	model, action, ok := splitModelAction(modelParam)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "missing :generateContent or :streamGenerateContent suffix")
	}

	if err := h.quota.Enforce(c.Context(), u, model); err != nil {
		return err
	}

	var body upstream.GenerateContentBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	apiKeyID := &key.ID

	if action == "streamGenerateContent" {
		c.Set("Content-Type", "text/event-stream")
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			err := h.dispatcher.GenerateStream(c.Context(), u, apiKeyID, model, &body, func(frame upstream.Frame) error {
				_, err := fmt.Fprintf(w, "data: %s\n\n", frame.Raw)
				if err != nil {
					return err
				}
				return w.Flush()
			})
			if err != nil {
				fmt.Fprintf(w, "data: {\"error\":%q}\n\n", err.Error())
			}
			w.Flush()
		})
		return nil
	}

	outcome, err := h.dispatcher.Generate(c.Context(), u, apiKeyID, model, "", &body)
	if err != nil {
		return err
	}
	public, err := upstream.ToGeminiPublic(outcome.Response, outcome.ModelVersion)
	if err != nil {
		return err
	}
	c.Set("Content-Type", "application/json")
	return c.Send(public)
}

func splitModelAction(param string) (model, action string, ok bool) {
	for _, suffix := range []string{":generateContent", ":streamGenerateContent"} {
		if len(param) > len(suffix) && param[len(param)-len(suffix):] == suffix {
			return param[:len(param)-len(suffix)], suffix[1:], true
		}
	}
	return "", "", false
}
