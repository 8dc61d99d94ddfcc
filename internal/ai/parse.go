package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bilgisen/newswire/internal/failure"
)

// StripFences removes the markdown code block models like to wrap JSON in
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DecodeJSON parses a model reply into v. Any text around the outermost
// JSON object or array is ignored; a reply without one is an invalid response.
func DecodeJSON(reply string, v any) error {
	clean := StripFences(reply)
	if err := json.Unmarshal([]byte(clean), v); err == nil {
		return nil
	}

	start := strings.IndexAny(clean, "{[")
	if start >= 0 {
		closer := byte('}')
		if clean[start] == '[' {
			closer = ']'
		}
		if end := strings.LastIndexByte(clean, closer); end > start {
			if err := json.Unmarshal([]byte(clean[start:end+1]), v); err == nil {
				return nil
			}
		}
	}
	return failure.Invalidf("decode reply", fmt.Errorf("%w: reply is not valid JSON", failure.ErrInvalidResponse))
}

// ParseSelection reads the filtering reply into the ordered list of chosen
// ids. Ids outside allowed and duplicates are dropped.
func ParseSelection(reply string, allowed []int64) ([]int64, error) {
	var ids []int64

	var obj struct {
		Selected *[]int64 `json:"selected"`
	}
	if err := DecodeJSON(reply, &obj); err == nil && obj.Selected != nil {
		ids = *obj.Selected
	} else if err := DecodeJSON(reply, &ids); err != nil {
		return nil, err
	}

	ok := make(map[int64]bool, len(allowed))
	for _, id := range allowed {
		ok[id] = true
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if ok[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// Rewrite is the structured reply of the title/body step
type Rewrite struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Social is the structured reply of the social copy step
type Social struct {
	Twitter  string `json:"twitter"`
	Facebook string `json:"facebook"`
	LinkedIn string `json:"linkedin"`
}

func ParseRewrite(reply string) (Rewrite, error) {
	var r Rewrite
	err := DecodeJSON(reply, &r)
	return r, err
}

func ParseMeta(reply string) (string, error) {
	var m struct {
		Meta string `json:"meta"`
	}
	if err := DecodeJSON(reply, &m); err != nil {
		return "", err
	}
	if strings.TrimSpace(m.Meta) == "" {
		return "", failure.Invalidf("decode meta", fmt.Errorf("%w: empty meta", failure.ErrInvalidResponse))
	}
	return m.Meta, nil
}

func ParseSocial(reply string) (Social, error) {
	var s Social
	if err := DecodeJSON(reply, &s); err != nil {
		return s, err
	}
	if s.Twitter == "" && s.Facebook == "" && s.LinkedIn == "" {
		return s, failure.Invalidf("decode social", fmt.Errorf("%w: no social copy", failure.ErrInvalidResponse))
	}
	return s, nil
}

func ParseTags(reply string) ([]string, error) {
	var t struct {
		Tags []string `json:"tags"`
	}
	if err := DecodeJSON(reply, &t); err != nil {
		return nil, err
	}
	if len(t.Tags) == 0 {
		return nil, failure.Invalidf("decode tags", fmt.Errorf("%w: no tags", failure.ErrInvalidResponse))
	}
	return t.Tags, nil
}
