package upstream

// baseModels is the fixed set of Gemini model ids Code Assist currently
// serves; the static listing endpoints multiply this by every streaming
// prefix and virtual suffix (spec.md §4.6).
var baseModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-3-pro-preview",
	"gemini-3-flash",
}

// ModelIDs returns the full static model-id listing for the
// `/v1/models`, `/models`, and `/v1beta/models` endpoints.
func ModelIDs() []string {
	return EnumerateModelIDs(baseModels)
}
