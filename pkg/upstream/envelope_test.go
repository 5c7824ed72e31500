package upstream

import "testing"

func TestParseModelPlain(t *testing.T) {
	req := ParseModel("gemini-2.5-flash")
	if req.BaseModel != "gemini-2.5-flash" {
		t.Fatalf("base model = %q", req.BaseModel)
	}
	if req.StreamMode != StreamPassthrough {
		t.Fatalf("stream mode = %v, want passthrough", req.StreamMode)
	}
	if req.ThinkingBudget != nil || req.EnableSearch {
		t.Fatalf("expected no modifiers, got %+v", req)
	}
}

func TestParseModelFakeStreamPrefix(t *testing.T) {
	req := ParseModel("假流式/gemini-2.5-flash")
	if req.StreamMode != StreamFake {
		t.Fatalf("stream mode = %v, want fake", req.StreamMode)
	}
	if req.BaseModel != "gemini-2.5-flash" {
		t.Fatalf("base model = %q", req.BaseModel)
	}
}

func TestParseModelAntiTruncationPrefix(t *testing.T) {
	req := ParseModel("流式抗截断/gemini-3-pro-preview")
	if req.StreamMode != StreamAntiTruncation {
		t.Fatalf("stream mode = %v, want anti_truncation", req.StreamMode)
	}
	if req.BaseModel != "gemini-3-pro-preview" {
		t.Fatalf("base model = %q", req.BaseModel)
	}
}

func TestParseModelMaxThinkingSuffix(t *testing.T) {
	req := ParseModel("gemini-3-pro-preview-maxthinking")
	if req.BaseModel != "gemini-3-pro-preview" {
		t.Fatalf("base model = %q", req.BaseModel)
	}
	if req.ThinkingBudget == nil || *req.ThinkingBudget != thinkingBudgetMax {
		t.Fatalf("thinking budget = %v, want %d", req.ThinkingBudget, thinkingBudgetMax)
	}
}

func TestParseModelNoThinkingSuffix(t *testing.T) {
	req := ParseModel("gemini-3-pro-preview-nothinking")
	if req.ThinkingBudget == nil || *req.ThinkingBudget != 0 {
		t.Fatalf("thinking budget = %v, want 0", req.ThinkingBudget)
	}
}

func TestParseModelSearchSuffix(t *testing.T) {
	req := ParseModel("gemini-2.5-flash-search")
	if !req.EnableSearch {
		t.Fatal("expected search enabled")
	}
	if req.BaseModel != "gemini-2.5-flash" {
		t.Fatalf("base model = %q", req.BaseModel)
	}
}

func TestParseModelPrefixAndMultipleSuffixes(t *testing.T) {
	req := ParseModel("假流式/gemini-3-pro-preview-search-maxthinking")
	if req.StreamMode != StreamFake {
		t.Fatalf("stream mode = %v, want fake", req.StreamMode)
	}
	if !req.EnableSearch {
		t.Fatal("expected search enabled")
	}
	if req.ThinkingBudget == nil || *req.ThinkingBudget != thinkingBudgetMax {
		t.Fatalf("thinking budget = %v, want %d", req.ThinkingBudget, thinkingBudgetMax)
	}
	if req.BaseModel != "gemini-3-pro-preview" {
		t.Fatalf("base model = %q", req.BaseModel)
	}
}

func TestBuildEnvelopeAppliesThinkingBudget(t *testing.T) {
	parsed := ParseModel("gemini-3-pro-preview-nothinking")
	env := BuildEnvelope("proj-1", parsed, &GenerateContentBody{})

	if env.Project != "proj-1" || env.Model != "gemini-3-pro-preview" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Request.GenerationConfig == nil || env.Request.GenerationConfig.ThinkingConfig == nil {
		t.Fatal("expected thinking config to be set")
	}
	if *env.Request.GenerationConfig.ThinkingConfig.ThinkingBudget != 0 {
		t.Fatalf("thinking budget = %d, want 0", *env.Request.GenerationConfig.ThinkingConfig.ThinkingBudget)
	}
}

func TestBuildEnvelopeAppliesSearchTool(t *testing.T) {
	parsed := ParseModel("gemini-2.5-flash-search")
	env := BuildEnvelope("proj-1", parsed, &GenerateContentBody{})

	if len(env.Request.Tools) != 1 || env.Request.Tools[0].GoogleSearch == nil {
		t.Fatalf("expected one google search tool, got %+v", env.Request.Tools)
	}
}

func TestEnumerateModelIDsCoversEveryCombination(t *testing.T) {
	ids := EnumerateModelIDs([]string{"gemini-2.5-flash"})
	want := len(modelListPrefixes) * len(modelListSuffixes)
	if len(ids) != want {
		t.Fatalf("got %d ids, want %d", len(ids), want)
	}

	found := false
	for _, id := range ids {
		if id == "假流式/gemini-2.5-flash-search" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected fake-stream + search combination to be present")
	}
}
