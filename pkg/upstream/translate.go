package upstream

import (
	"encoding/json"
	"time"

	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

// ChatRequest is the subset of an OpenAI chat-completions request this
// proxy understands before translation to a Code Assist envelope.
type ChatRequest struct {
	Model    string                                    `json:"model"`
	Messages []openai.ChatCompletionMessageParamUnion   `json:"messages"`
	Stream   bool                                       `json:"stream"`
}

// GeminiContentsFromChat converts an OpenAI-chat message list into genai
// Content/Part values, splitting out the system instruction the Code
// Assist envelope carries separately.
func GeminiContentsFromChat(messages []openai.ChatCompletionMessageParamUnion) (systemInstruction *genai.Content, contents []*genai.Content) {
	for _, msg := range messages {
		switch {
		case msg.OfSystem != nil:
			text := textOf(msg.OfSystem.Content)
			if systemInstruction == nil {
				systemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(text)}}
			} else {
				systemInstruction.Parts = append(systemInstruction.Parts, genai.NewPartFromText(text))
			}
		case msg.OfUser != nil:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(textOf(msg.OfUser.Content))},
			})
		case msg.OfAssistant != nil:
			content := ""
			if msg.OfAssistant.Content.OfString.Valid() {
				content = msg.OfAssistant.Content.OfString.Value
			}
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{genai.NewPartFromText(content)},
			})
		}
	}
	return systemInstruction, contents
}

func textOf(content openai.ChatCompletionSystemMessageParamContentUnion) string {
	if content.OfString.Valid() {
		return content.OfString.Value
	}
	return ""
}

// ToChatCompletion translates an unwrapped Gemini generation response into
// the OpenAI `chat.completion` shape for a unary reply.
func ToChatCompletion(id, model string, resp *genai.GenerateContentResponse) openai.ChatCompletion {
	completion := openai.ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return completion
	}

	candidate := resp.Candidates[0]
	text := textFromCandidate(candidate)

	completion.Choices = []openai.ChatCompletionChoice{{
		Index:        0,
		FinishReason: finishReason(candidate),
		Message: openai.ChatCompletionMessage{
			Role:    "assistant",
			Content: text,
		},
	}}

	if resp.UsageMetadata != nil {
		completion.Usage = openai.CompletionUsage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int64(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return completion
}

// ToChatCompletionChunk translates one streamed Gemini frame into an
// OpenAI `chat.completion.chunk`.
func ToChatCompletionChunk(id, model string, resp *genai.GenerateContentResponse) openai.ChatCompletionChunk {
	chunk := openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return chunk
	}

	candidate := resp.Candidates[0]
	chunk.Choices = []openai.ChatCompletionChunkChoice{{
		Index:        0,
		FinishReason: finishReason(candidate),
		Delta: openai.ChatCompletionChunkChoiceDelta{
			Role:    "assistant",
			Content: textFromCandidate(candidate),
		},
	}}

	return chunk
}

func textFromCandidate(candidate *genai.Candidate) string {
	if candidate == nil || candidate.Content == nil {
		return ""
	}
	var text string
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}
	return text
}

func finishReason(candidate *genai.Candidate) string {
	if candidate == nil || candidate.FinishReason == "" {
		return ""
	}
	return string(candidate.FinishReason)
}

// ToGeminiPublic unwraps the internal `{"response": ..., "modelVersion":
// ...}` envelope into the public Gemini shape `{candidates, modelVersion}`
// clients of the `/v1beta/models/*` passthrough routes expect.
func ToGeminiPublic(resp *genai.GenerateContentResponse, modelVersion string) ([]byte, error) {
	public := struct {
		Candidates    []*genai.Candidate `json:"candidates"`
		ModelVersion  string             `json:"modelVersion,omitempty"`
		UsageMetadata any                `json:"usageMetadata,omitempty"`
	}{ModelVersion: modelVersion}

	if resp != nil {
		public.Candidates = resp.Candidates
		public.UsageMetadata = resp.UsageMetadata
	}

	return json.Marshal(public)
}
