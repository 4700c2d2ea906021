package agent

import (
	"regexp"
	"strings"

	"github.com/soyeahso/concierge/internal/llm"
)

// Messages matching these patterns ask for data only a tool can provide.
var lookupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(qui habite|who lives|résident|resident)`),
	regexp.MustCompile(`(?i)(appartement|apartment|étage|floor)\D*\d+`),
	regexp.MustCompile(`(?i)\d{3,4}.*(habite|lives)|(habite|lives).*\d{3,4}`),
	regexp.MustCompile(`(?i)(urgence|emergency|syndic|gardien|caretaker|numéro|number|téléphone|phone|adresse|address)`),
	regexp.MustCompile(`(?i)(combien.*bâtiment|how many.*building)`),
	regexp.MustCompile(`(?i)(espace|space|réserv|reserv|book|disponib|available|chambre d'amis|guest room|salle commune|common room|coworking|parking)`),
	regexp.MustCompile(`(?i)(poubelle|déchet|waste|trash|horaire|opening hours)`),
	regexp.MustCompile(`(?i)\b(infos?|information|description|service)\b`),
}

// A lookup announcement is a first-person present or future form of a
// lookup verb ("je consulte", "I'll check", "give me a second to look"), or
// a request to wait. Past forms ("j'ai vérifié", "I checked") report a
// lookup already done and do not match.
var (
	frAnnounceRe = regexp.MustCompile(`(?i)\b(?:je|j'|laissez-moi|laisse-moi|permettez-moi|nous|on)` +
		`(?:\s+(?:vais|allons|va|vous|te|me|m'|le|la|les|l'|en|m'en))*\s*` +
		`(?:re)?(?:cherch|vérifi|verifi|regard|consult|trouv|interrog|examin|renseign)(?:e|er|ons|ez)\b`)
	enAnnounceRe = regexp.MustCompile(`(?i)\b(?:let me|let us|let's|i'll|i will|i'm going to|i am going to|i'm|i am|` +
		`i need to|allow me to|we'll|we will|give me an? \w+ to)` +
		`\s+(?:just\s+|quickly\s+|go\s+(?:and\s+)?)?` +
		`(?:check|look|search|find|verify|query|fetch|consult|dig)(?:ing)?\b`)
	waitRe = regexp.MustCompile(`(?i)\b(?:un (?:instant|moment)|one (?:moment|second|sec)|just a (?:moment|second|sec|minute)|` +
		`hold on|bear with me|patientez|veuillez patienter)\b`)
	lookForwardRe = regexp.MustCompile(`(?i)\blook(?:ing)? forward\b`)
)

// An announcement is short; a longer answer is treated as content.
const maxAnnounceWords = 40

// NeedsLookup reports whether a resident message asks for data that must
// come from a tool.
func NeedsLookup(message string) bool {
	m := strings.TrimSpace(message)
	if m == "" {
		return false
	}
	for _, re := range lookupPatterns {
		if re.MatchString(m) {
			return true
		}
	}
	return false
}

// AnnouncesLookup reports whether a model answer promises a lookup instead
// of doing it: it announces one and carries no concrete data.
func AnnouncesLookup(answer string) bool {
	a := strings.ReplaceAll(answer, "’", "'")
	if len(strings.Fields(a)) > maxAnnounceWords || len(Claims(a)) > 0 {
		return false
	}
	if lookForwardRe.MatchString(a) {
		return false
	}
	return frAnnounceRe.MatchString(a) || enAnnounceRe.MatchString(a) || waitRe.MatchString(a)
}

// ToolChoiceFor picks the tool choice of the first round of a free-form
// turn: required when the message clearly needs data, auto otherwise.
func ToolChoiceFor(message string, hasTools bool) llm.ToolChoice {
	if !hasTools {
		return llm.ToolChoiceNone
	}
	if NeedsLookup(message) {
		return llm.ToolChoiceRequired
	}
	return llm.ToolChoiceAuto
}
