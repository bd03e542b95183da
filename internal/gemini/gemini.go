package gemini

import "encoding/json"

// FallbackText is returned to callers when the upstream produced no text.
const FallbackText = "Sorry, no response was generated."

const RoleUser = "user"

type GenerateContentRequest struct {
	Contents []Content `json:"contents"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

// GenerateContentResponse holds the raw candidates member. Levels below it are
// decoded lazily by ExtractText so that an unexpected shape reads as absent
// instead of failing the request.
type GenerateContentResponse struct {
	Candidates json.RawMessage `json:"candidates,omitempty"`
}

// UnmarshalJSON accepts any syntactically valid JSON. A body that is not an
// object yields an empty response.
func (r *GenerateContentResponse) UnmarshalJSON(data []byte) error {
	r.Candidates = member(data, "candidates")
	return nil
}

// NewUserRequest builds a single-turn conversation holding prompt.
func NewUserRequest(prompt string) GenerateContentRequest {
	return GenerateContentRequest{
		Contents: []Content{{
			Role:  RoleUser,
			Parts: []Part{{Text: prompt}},
		}},
	}
}

// ExtractText returns candidates[0].content.parts[0].text. ok is false when any
// level is missing, has the wrong type, or the text is empty.
func ExtractText(resp *GenerateContentResponse) (string, bool) {
	if resp == nil {
		return "", false
	}
	content := member(first(resp.Candidates), "content")
	raw := member(first(member(content, "parts")), "text")
	var text string
	if err := json.Unmarshal(raw, &text); err != nil || text == "" {
		return "", false
	}
	return text, true
}

// TextOrFallback is ExtractText with FallbackText substituted on a miss.
func TextOrFallback(resp *GenerateContentResponse) string {
	if text, ok := ExtractText(resp); ok {
		return text
	}
	return FallbackText
}

func member(raw json.RawMessage, name string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj[name]
}

func first(raw json.RawMessage) json.RawMessage {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return nil
	}
	return list[0]
}
