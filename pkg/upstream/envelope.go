// Package upstream implements the C7 Code Assist client: request envelope
// construction, model-name parsing for the three streaming modes and the
// virtual thinking/search suffixes, and unary/SSE transport against
// Google's internal `cloudcode-pa.googleapis.com` endpoint (spec.md §4.6).
package upstream

import (
	"strings"

	"google.golang.org/genai"
)

// StreamMode is the behavior selected by a model-name prefix recognized on
// the inbound side (spec.md §4.6's "streaming modes").
type StreamMode string

const (
	// StreamPassthrough forwards the upstream SSE stream frame-by-frame.
	StreamPassthrough StreamMode = "passthrough"
	// StreamFake calls the unary endpoint and chunks the full response
	// into synthetic SSE frames.
	StreamFake StreamMode = "fake"
	// StreamAntiTruncation behaves like passthrough but buffers every frame
	// and emits them only after the upstream stream completes without error.
	StreamAntiTruncation StreamMode = "anti_truncation"
)

const (
	fakeStreamPrefix           = "假流式/"
	antiTruncationStreamPrefix = "流式抗截断/"

	suffixMaxThinking = "-maxthinking"
	suffixNoThinking  = "-nothinking"
	suffixSearch      = "-search"
)

// thinkingBudgetMax is an arbitrarily large token budget used to signal
// "think as long as needed" to the Code Assist backend; -nothinking
// disables it outright with a budget of zero.
const thinkingBudgetMax = 32768

// ModelRequest is a parsed inbound model id, split into the base model
// Code Assist understands plus the modifiers that shaped it.
type ModelRequest struct {
	BaseModel      string
	StreamMode     StreamMode
	ThinkingBudget *int32
	EnableSearch   bool
}

// ParseModel splits a client-supplied model id into its streaming-mode
// prefix, base model, and virtual suffixes (spec.md §4.6).
func ParseModel(model string) ModelRequest {
	req := ModelRequest{StreamMode: StreamPassthrough}

	switch {
	case strings.HasPrefix(model, fakeStreamPrefix):
		req.StreamMode = StreamFake
		model = strings.TrimPrefix(model, fakeStreamPrefix)
	case strings.HasPrefix(model, antiTruncationStreamPrefix):
		req.StreamMode = StreamAntiTruncation
		model = strings.TrimPrefix(model, antiTruncationStreamPrefix)
	}

	for {
		switch {
		case strings.HasSuffix(model, suffixMaxThinking):
			budget := int32(thinkingBudgetMax)
			req.ThinkingBudget = &budget
			model = strings.TrimSuffix(model, suffixMaxThinking)
		case strings.HasSuffix(model, suffixNoThinking):
			budget := int32(0)
			req.ThinkingBudget = &budget
			model = strings.TrimSuffix(model, suffixNoThinking)
		case strings.HasSuffix(model, suffixSearch):
			req.EnableSearch = true
			model = strings.TrimSuffix(model, suffixSearch)
		default:
			req.BaseModel = model
			return req
		}
	}
}

// CodeAssistEnvelope is the `{"model", "project", "request": {...}}` wire
// shape the internal endpoint expects, wrapping the caller's Gemini
// public-shape generation request.
type CodeAssistEnvelope struct {
	Model   string                 `json:"model"`
	Project string                 `json:"project"`
	Request *GenerateContentBody   `json:"request"`
}

// GenerateContentBody is the public Gemini generation request, represented
// with genai's own wire types so the translation layer marshals against
// the same struct definitions the public API itself uses.
type GenerateContentBody struct {
	Contents          []*genai.Content              `json:"contents"`
	GenerationConfig  *genai.GenerateContentConfig   `json:"generationConfig,omitempty"`
	SystemInstruction *genai.Content                 `json:"systemInstruction,omitempty"`
	SafetySettings    []*genai.SafetySetting         `json:"safetySettings,omitempty"`
	Tools             []*genai.Tool                  `json:"tools,omitempty"`
}

// BuildEnvelope constructs the Code Assist request envelope for one
// dispatch attempt, applying the thinking-budget and search-tool virtual
// suffixes resolved by ParseModel.
func BuildEnvelope(projectID string, parsed ModelRequest, body *GenerateContentBody) *CodeAssistEnvelope {
	if body.GenerationConfig == nil {
		body.GenerationConfig = &genai.GenerateContentConfig{}
	}
	if parsed.ThinkingBudget != nil {
		body.GenerationConfig.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: parsed.ThinkingBudget,
		}
	}
	if parsed.EnableSearch {
		body.Tools = append(body.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}

	return &CodeAssistEnvelope{
		Model:   parsed.BaseModel,
		Project: projectID,
		Request: body,
	}
}

// CodeAssistResponse is the internal endpoint's reply wrapper; the proxy
// unwraps `response` to the public Gemini shape before returning it.
type CodeAssistResponse struct {
	Response     *genai.GenerateContentResponse `json:"response"`
	ModelVersion string                         `json:"modelVersion,omitempty"`
}

// modelListPrefixes and modelListSuffixes enumerate every combination a
// static model-listing endpoint must expose (spec.md §4.6).
var modelListPrefixes = []string{"", fakeStreamPrefix, antiTruncationStreamPrefix}
var modelListSuffixes = []string{"", suffixMaxThinking, suffixNoThinking, suffixSearch}

// EnumerateModelIDs returns every base × prefix × suffix combination for
// the given base model ids, for clients that need a static list.
func EnumerateModelIDs(baseModels []string) []string {
	ids := make([]string, 0, len(baseModels)*len(modelListPrefixes)*len(modelListSuffixes))
	for _, base := range baseModels {
		for _, prefix := range modelListPrefixes {
			for _, suffix := range modelListSuffixes {
				ids = append(ids, prefix+base+suffix)
			}
		}
	}
	return ids
}
