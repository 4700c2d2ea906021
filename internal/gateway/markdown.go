package gateway

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderHTML converts an assistant reply, written in markdown, to an HTML
// fragment for web clients. Raw HTML in the reply is not passed through.
func renderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
