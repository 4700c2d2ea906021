package agent

import (
	"regexp"
	"strings"

	"github.com/soyeahso/concierge/internal/logging"
)

// Models sometimes leak tool-use markup into their final text. None of it
// is meant for residents.
var (
	xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

	xmlBlockLevelRe = regexp.MustCompile(`(?s)(?:` +
		`<invoke\b[^>]*>.*?</invoke>` +
		`|<tool_call\b[^>]*>.*?</tool_call>` +
		`|<tool_use\b[^>]*>.*?</tool_use>` +
		`)`)

	xmlInlineTagRe = regexp.MustCompile(`(?s)<parameter\b[^>]*>.*?</parameter>`)

	toolCallFenceRe = regexp.MustCompile("(?s)```tool_call\\s*\n.*?\n\\s*```")

	// Fence markers on their own line. Chat clients like IRC show them raw;
	// the content between them is kept.
	codeFenceRe = regexp.MustCompile(`(?m)^\s*` + "```" + `\w*\s*$`)

	whitespaceLineRe    = regexp.MustCompile(`(?m)^[ \t]+$`)
	blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)
	inlineSpaceRe       = regexp.MustCompile(`[ \t]{2,}`)
)

// sanitize removes tool-use artifacts from a final answer.
func sanitize(text string, log *logging.Logger) string {
	cleaned := toolCallFenceRe.ReplaceAllString(text, "\n\n")

	if log != nil {
		for _, m := range xmlFuncCallRe.FindAllString(cleaned, -1) {
			log.Info().Str("xml", logging.Truncate(m, 500)).Msg("stripped function_calls from model answer")
		}
	}
	cleaned = xmlFuncCallRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = xmlBlockLevelRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = xmlInlineTagRe.ReplaceAllString(cleaned, " ")
	cleaned = codeFenceRe.ReplaceAllString(cleaned, "")

	cleaned = inlineSpaceRe.ReplaceAllString(cleaned, " ")
	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
