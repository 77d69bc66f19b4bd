package translate

// Content extraction from heterogeneous upstream payloads is an ordered list
// of named extractors evaluated in fixed priority. The order is the policy:
// OpenAI shapes first, then the Gemini candidate tree, then the raw fields
// used by native-protocol upstreams.

type extractor struct {
	name    string
	extract func(payload map[string]any) (string, bool)
}

// streamExtractors is the priority list for incremental (delta) frames.
var streamExtractors = []extractor{
	{"openai-delta", extractOpenAIDelta},
	{"gemini-candidate", extractGeminiCandidate},
	{"ollama-message", extractOllamaMessage},
	{"raw-response", extractRawResponse},
}

// responseExtractors is the priority list for terminal (buffered) bodies.
var responseExtractors = []extractor{
	{"openai-message", extractOpenAIMessage},
	{"gemini-candidate", extractGeminiCandidate},
	{"raw-response", extractRawResponse},
	{"ollama-message", extractOllamaMessage},
}

func runExtractors(list []extractor, payload map[string]any) string {
	for _, e := range list {
		if text, ok := e.extract(payload); ok {
			return text
		}
	}
	return ""
}

// extractOpenAIDelta reads choices[0].delta.content.
func extractOpenAIDelta(payload map[string]any) (string, bool) {
	choice, ok := firstElement(payload, "choices")
	if !ok {
		return "", false
	}
	delta, ok := choice["delta"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := delta["content"].(string)
	return text, ok
}

// extractOpenAIMessage reads choices[0].message.content.
func extractOpenAIMessage(payload map[string]any) (string, bool) {
	choice, ok := firstElement(payload, "choices")
	if !ok {
		return "", false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := message["content"].(string)
	return text, ok
}

// extractGeminiCandidate reads candidates[0].content, accepting either a
// plain string or the structured content.parts[].text tree.
func extractGeminiCandidate(payload map[string]any) (string, bool) {
	candidate, ok := firstElement(payload, "candidates")
	if !ok {
		return "", false
	}

	switch content := candidate["content"].(type) {
	case string:
		return content, true
	case map[string]any:
		parts, ok := content["parts"].([]any)
		if !ok {
			return "", false
		}
		var text string
		found := false
		for _, raw := range parts {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := part["text"].(string); ok {
				text += s
				found = true
			}
		}
		return text, found
	}
	return "", false
}

// extractOllamaMessage reads message.content from a native chat payload.
func extractOllamaMessage(payload map[string]any) (string, bool) {
	message, ok := payload["message"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := message["content"].(string)
	return text, ok
}

// extractRawResponse reads a top-level response field from a native generate
// payload.
func extractRawResponse(payload map[string]any) (string, bool) {
	text, ok := payload["response"].(string)
	return text, ok
}

func firstElement(payload map[string]any, key string) (map[string]any, bool) {
	list, ok := payload[key].([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	element, ok := list[0].(map[string]any)
	return element, ok
}

// extractFinishReason reads choices[0].finish_reason when present.
func extractFinishReason(payload map[string]any) (string, bool) {
	choice, ok := firstElement(payload, "choices")
	if !ok {
		return "", false
	}
	reason, ok := choice["finish_reason"].(string)
	if !ok || reason == "" {
		return "", false
	}
	return reason, true
}
