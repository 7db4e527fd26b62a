package mcp

import "strings"

/*
Tool is one provider-declared capability: a name unique within a
discovery snapshot, a human description, and a JSON Schema for its
arguments. Providers disagree on the schema field's spelling
(inputSchema vs input_schema); descriptors are normalized at the
discovery boundary so nothing downstream re-inspects raw shapes.
*/
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

/*
AcceptsWorkspace reports whether the tool's schema declares a workspace
property.
*/
func (t Tool) AcceptsWorkspace() bool {
	props, ok := t.InputSchema["properties"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = props["workspace"]
	return ok
}

/*
ContentItem is one typed part of a tools/call result content list.
*/
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

/*
ToolResult is the unwrapped outcome of a tools/call. When every content
part is text, Text carries the joined plain text; otherwise the caller
works with Structured or Raw.
*/
type ToolResult struct {
	Content    []ContentItem
	Structured map[string]any
	IsError    bool
	Raw        map[string]any
}

/*
Text joins the all-text content, or returns "" when any part is not
text.
*/
func (r *ToolResult) Text() string {
	if len(r.Content) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, item := range r.Content {
		if item.Type != "text" {
			return ""
		}
		parts = append(parts, item.Text)
	}
	return strings.Join(parts, "\n")
}

/*
newToolResult projects a raw tools/call result map into a ToolResult.
*/
func newToolResult(raw map[string]any) *ToolResult {
	out := &ToolResult{Raw: raw, Structured: map[string]any{}}
	if items, ok := raw["content"].([]any); ok {
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			out.Content = append(out.Content, ContentItem{Type: asString(m["type"]), Text: asString(m["text"])})
		}
	}
	if sc, ok := raw["structuredContent"].(map[string]any); ok {
		out.Structured = sc
	}
	out.IsError = asBool(raw["isError"])
	return out
}

/*
Candidate is one disambiguation option from a needs-confirmation result,
projected into stable fields for display.
*/
type Candidate struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Artists     string   `json:"artists"`
	DurationSec *float64 `json:"duration_sec,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	SourceURL   string   `json:"source_url"`
	PreviewURL  string   `json:"preview_url,omitempty"`
}

/*
ParseCandidates projects the raw candidate maps of a confirmation round
into display form.
*/
func ParseCandidates(raw []map[string]any) []Candidate {
	out := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		out = append(out, candidateFromRaw(c))
	}
	return out
}

func candidateFromRaw(c map[string]any) Candidate {
	out := Candidate{
		ID:        asString(c["id"]),
		Title:     asString(c["title"]),
		Artists:   asString(c["artists"]),
		SourceURL: asString(c["source_url"]),
	}
	if v, ok := c["duration_sec"].(float64); ok {
		out.DurationSec = &v
	}
	if v, ok := c["confidence"].(float64); ok {
		out.Confidence = &v
	}
	if v := asString(c["preview_url"]); v != "" {
		out.PreviewURL = v
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
