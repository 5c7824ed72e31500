package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"google.golang.org/genai"
)

const codeAssistBaseURL = "https://cloudcode-pa.googleapis.com/v1internal"

// requestTimeout is the http.Client timeout for each whole upstream call,
// unary or streaming. It covers reading the body, so a stream is cut off
// 120s after it starts; there is no separate idle timer between SSE frames.
const requestTimeout = 120 * time.Second

// Client issues unary and streaming calls against the internal Code
// Assist endpoint. It holds no credential state: every call is handed a
// bearer token by the caller (C8 dispatch), matching spec.md §4.3's
// no-caching OAuth model.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: requestTimeout}}
}

// Generate issues a unary generateContent call and returns the unwrapped
// public-shape response.
func (c *Client) Generate(ctx context.Context, accessToken string, env *CodeAssistEnvelope) (*genai.GenerateContentResponse, string, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, "", errx.Wrap(err, "failed to marshal code assist request", errx.TypeInternal)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, codeAssistBaseURL+":generateContent", bytes.NewReader(body))
	if err != nil {
		return nil, "", errx.Wrap(err, "failed to build code assist request", errx.TypeInternal)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", ErrTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", ErrTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", NewUpstreamError(resp.StatusCode, string(raw))
	}

	var wrapped CodeAssistResponse
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, "", errx.Wrap(err, "failed to unmarshal code assist response", errx.TypeInternal)
	}

	return wrapped.Response, wrapped.ModelVersion, nil
}

// Frame is one decoded SSE data frame from the streaming endpoint, already
// unwrapped to the public Gemini response shape.
type Frame struct {
	Response *genai.GenerateContentResponse
	Raw      []byte
}

// fakeStreamChunkRunes is how many runes of response text each synthetic
// `假流式/` SSE frame carries.
const fakeStreamChunkRunes = 24

// GenerateStream issues a streaming or unary call against the Code Assist
// endpoint depending on mode, and invokes onFrame for every frame the
// caller should see (spec.md §4.6's three streaming modes). The caller
// passes the StreamMode already resolved from the model-name prefix; the
// client itself stays mode-agnostic beyond this dispatch.
func (c *Client) GenerateStream(ctx context.Context, accessToken string, env *CodeAssistEnvelope, mode StreamMode, onFrame func(Frame) error) error {
	switch mode {
	case StreamFake:
		return c.generateStreamFake(ctx, accessToken, env, onFrame)
	case StreamAntiTruncation:
		return c.generateStreamBuffered(ctx, accessToken, env, onFrame)
	default:
		return c.generateStreamPassthrough(ctx, accessToken, env, onFrame)
	}
}

// generateStreamFake implements `假流式/<model>`: call the unary endpoint
// once, then chunk the complete response into synthetic SSE frames instead
// of a real upstream stream (spec.md §4.6).
func (c *Client) generateStreamFake(ctx context.Context, accessToken string, env *CodeAssistEnvelope, onFrame func(Frame) error) error {
	resp, _, err := c.Generate(ctx, accessToken, env)
	if err != nil {
		return err
	}
	return emitFakeStreamFrames(resp, onFrame)
}

// generateStreamBuffered implements `流式抗截断/<model>`: it behaves like a
// real upstream stream, but every frame is held until the stream completes
// successfully and only then re-emitted to the caller in order, so a
// connection that drops mid-stream never leaks partial content (spec.md
// §4.6, §9's anti-truncation design note).
func (c *Client) generateStreamBuffered(ctx context.Context, accessToken string, env *CodeAssistEnvelope, onFrame func(Frame) error) error {
	var buffered []Frame
	if err := c.generateStreamPassthrough(ctx, accessToken, env, func(f Frame) error {
		buffered = append(buffered, f)
		return nil
	}); err != nil {
		return err
	}

	for _, f := range buffered {
		if err := onFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// emitFakeStreamFrames splits resp's text content into fixed-size runs,
// preserving the finish reason and usage metadata on the final chunk only,
// mirroring how a real stream's last frame carries that information.
func emitFakeStreamFrames(resp *genai.GenerateContentResponse, onFrame func(Frame) error) error {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return onFrame(Frame{Response: resp})
	}

	cand := resp.Candidates[0]
	var full strings.Builder
	for _, part := range cand.Content.Parts {
		full.WriteString(part.Text)
	}

	text := []rune(full.String())
	if len(text) == 0 {
		return onFrame(Frame{Response: resp})
	}

	for i := 0; i < len(text); i += fakeStreamChunkRunes {
		end := i + fakeStreamChunkRunes
		if end > len(text) {
			end = len(text)
		}

		chunk := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Index: cand.Index,
				Content: &genai.Content{
					Role:  cand.Content.Role,
					Parts: []*genai.Part{genai.NewPartFromText(string(text[i:end]))},
				},
			}},
		}
		if end == len(text) {
			chunk.Candidates[0].FinishReason = cand.FinishReason
			chunk.UsageMetadata = resp.UsageMetadata
		}

		if err := onFrame(Frame{Response: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// generateStreamPassthrough issues a streamGenerateContent?alt=sse call and
// invokes onFrame for every decoded frame until the stream closes or ctx is
// cancelled (client disconnect, per-request deadline).
func (c *Client) generateStreamPassthrough(ctx context.Context, accessToken string, env *CodeAssistEnvelope, onFrame func(Frame) error) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errx.Wrap(err, "failed to marshal code assist request", errx.TypeInternal)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, codeAssistBaseURL+":streamGenerateContent?alt=sse", bytes.NewReader(body))
	if err != nil {
		return errx.Wrap(err, "failed to build code assist request", errx.TypeInternal)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ErrTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return NewUpstreamError(resp.StatusCode, string(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var wrapped CodeAssistResponse
		if err := json.Unmarshal([]byte(data), &wrapped); err != nil {
			continue
		}
		if err := onFrame(Frame{Response: wrapped.Response, Raw: []byte(data)}); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// ProbeGenerate issues a minimal generateContent call for verification
// (pkg/credential/credentialsrv.Prober). Only the status code matters; a
// non-2xx/429 response is reported through the returned status, not as an
// error, so the verifier can distinguish "invalid" from "rate-limited".
func (c *Client) ProbeGenerate(ctx context.Context, accessToken, projectID, model string) (int, error) {
	env := &CodeAssistEnvelope{
		Model:   model,
		Project: projectID,
		Request: &GenerateContentBody{
			Contents: []*genai.Content{{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText("ping")},
			}},
		},
	}

	body, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, codeAssistBaseURL+":generateContent", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("UPSTREAM")

var (
	CodeTransport = ErrRegistry.Register("TRANSPORT", errx.TypeExternal, http.StatusBadGateway, "failed to reach code assist endpoint")
	CodeUpstream  = ErrRegistry.Register("UPSTREAM_ERROR", errx.TypeExternal, http.StatusBadGateway, "code assist returned an error")
)

func ErrTransport(err error) *errx.Error {
	return ErrRegistry.New(CodeTransport).WithDetail("error", err.Error())
}

// UpstreamError carries the raw HTTP status and body text from a
// non-2xx Code Assist response, so the C8 dispatch loop can classify it
// (retryable 404/429/500/503/RESOURCE_EXHAUSTED vs. auth-failure 401/403).
type UpstreamError struct {
	StatusCode int
	Body       string
}

func NewUpstreamError(statusCode int, body string) *UpstreamError {
	return &UpstreamError{StatusCode: statusCode, Body: body}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("code assist returned %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether e should trigger a same-request retry on a
// different credential rather than a permanent failure (spec.md §4.7).
func (e *UpstreamError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	return strings.Contains(e.Body, "RESOURCE_EXHAUSTED") || strings.Contains(e.Body, "NOT_FOUND")
}

// IsAuthFailure reports whether e indicates the credential itself is bad
// (triggers spec.md §4.4 auto-disable) rather than a transient condition.
func (e *UpstreamError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
