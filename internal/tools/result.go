package tools

import "strings"

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is what the model sees for one tool call.
type Result struct {
	IsError bool      `json:"isError,omitempty"`
	Content []Content `json:"content"`
}

// TextResult wraps a successful textual output.
func TextResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult wraps a user-facing error message.
func ErrorResult(text string) Result {
	return Result{IsError: true, Content: []Content{{Type: "text", Text: text}}}
}

// Text joins the text blocks of the result.
func (r Result) Text() string {
	if len(r.Content) == 1 {
		return r.Content[0].Text
	}
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n")
}
