package upstream

import (
	"testing"

	"google.golang.org/genai"
)

func fakeStreamResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{genai.NewPartFromText(text)},
			},
			FinishReason: "STOP",
		}},
	}
}

func TestEmitFakeStreamFramesChunksText(t *testing.T) {
	resp := fakeStreamResponse("this text is longer than one chunk of runes")

	var chunks []string
	err := emitFakeStreamFrames(resp, func(f Frame) error {
		chunks = append(chunks, f.Response.Candidates[0].Content.Parts[0].Text)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected more than one synthetic frame, got %d", len(chunks))
	}

	var rebuilt string
	for _, c := range chunks {
		rebuilt += c
	}
	if rebuilt != "this text is longer than one chunk of runes" {
		t.Fatalf("chunked text does not reassemble to the original, got %q", rebuilt)
	}
}

func TestEmitFakeStreamFramesSetsFinishReasonOnLastChunkOnly(t *testing.T) {
	resp := fakeStreamResponse("this text is longer than one chunk of runes")

	var frames []Frame
	err := emitFakeStreamFrames(resp, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) < 2 {
		t.Fatalf("expected more than one frame, got %d", len(frames))
	}

	for _, f := range frames[:len(frames)-1] {
		if f.Response.Candidates[0].FinishReason != "" {
			t.Fatal("finish reason should only be set on the final synthetic frame")
		}
	}
	last := frames[len(frames)-1]
	if last.Response.Candidates[0].FinishReason != "STOP" {
		t.Fatalf("final frame finish reason = %q, want STOP", last.Response.Candidates[0].FinishReason)
	}
}

func TestEmitFakeStreamFramesEmptyTextEmitsOneFrame(t *testing.T) {
	resp := fakeStreamResponse("")

	calls := 0
	err := emitFakeStreamFrames(resp, func(f Frame) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one frame for empty text, got %d", calls)
	}
}
