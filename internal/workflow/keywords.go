package workflow

import (
	"strings"
	"unicode"

	"github.com/soyeahso/concierge/internal/convctx"
)

// Keyword matching works on whole words so "cancellation" is not "cancel"
// and "goal" is not "go".

// tokenize lowercases msg and splits it into words. Apostrophes and
// hyphens stay inside words ("d'accord", "vas-y", "don't").
func tokenize(msg string) []string {
	msg = strings.ToLower(strings.ReplaceAll(msg, "’", "'"))
	words := strings.FieldsFunc(msg, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	out := words[:0]
	for _, w := range words {
		if w = strings.Trim(w, "'-"); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// phraseAt reports whether the words of phrase start at tokens[i].
func phraseAt(tokens []string, i int, phrase []string) bool {
	if i+len(phrase) > len(tokens) {
		return false
	}
	for j, w := range phrase {
		if tokens[i+j] != w {
			return false
		}
	}
	return true
}

func containsPhrase(tokens []string, phrases [][]string) bool {
	for i := range tokens {
		for _, p := range phrases {
			if phraseAt(tokens, i, p) {
				return true
			}
		}
	}
	return false
}

func phrases(list ...string) [][]string {
	out := make([][]string, len(list))
	for i, p := range list {
		out[i] = strings.Fields(p)
	}
	return out
}

func wordSet(list ...string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, w := range list {
		out[w] = true
	}
	return out
}

func hasAny(tokens []string, set map[string]bool) bool {
	for _, t := range tokens {
		if set[t] {
			return true
		}
	}
	return false
}

var cancelPhrases = phrases(
	"annuler", "annule", "annulez", "annulons", "abandonner", "abandonne", "abandonnez",
	"arrêter", "arrête", "arrêtez", "arreter", "arrete", "recommencer",
	"non finalement", "laisse tomber", "laissez tomber", "on oublie",
	"cancel", "stop", "forget it", "never mind", "nevermind",
)

// IsCancel reports whether a message abandons the workflow. Questions never
// do ("can I cancel later?"); the model steps may still answer CANCEL for
// wordings this list does not know.
func IsCancel(msg string) bool {
	if strings.Contains(msg, "?") {
		return false
	}
	return containsPhrase(tokenize(msg), cancelPhrases)
}

var negations = wordSet(
	"no", "non", "not", "nope", "nah", "never", "cannot", "dont", "cant", "wont",
	"pas", "ne", "jamais", "aucun", "aucune", "rien", "plus",
)

// negated reports whether any word negates the sentence.
func negated(tokens []string) bool {
	for _, t := range tokens {
		if negations[t] || strings.HasPrefix(t, "n'") || strings.HasSuffix(t, "n't") {
			return true
		}
	}
	return false
}

var (
	affirmativeWords = wordSet(
		"oui", "ouais", "ouaip", "yes", "yep", "yup", "yeah", "ok", "okay", "okey",
		"d'accord", "dac", "confirme", "confirmé", "confirmée", "confirmer",
		"confirm", "confirmed", "valide", "validé", "valider", "parfait", "parfaitement",
		"nickel", "impeccable", "vas-y", "allez-y", "allons-y", "go", "sure", "bon",
		"absolument", "exactement", "certainement", "perfect", "absolutely", "exactly",
		"correct", "agreed", "certainly", "super", "great",
	)
	affirmativePhrases = phrases("tout à fait", "bien sûr", "go ahead", "of course")

	// confirmFiller may surround an affirmative without changing its
	// meaning.
	confirmFiller = wordSet(
		"je", "j'ai", "c'est", "ça", "ca", "me", "moi", "merci", "beaucoup", "alors",
		"s'il", "vous", "te", "plaît", "plait", "svp", "stp", "allez", "très", "tres",
		"bien", "et", "la", "le", "réservation", "reservation", "booking", "the",
		"please", "thanks", "thank", "you", "it", "is", "that's", "this", "that",
		"all", "i", "do", "very", "much", "then", "so", "and", "let's", "lets",
		"oh", "ah", "well", "hey", "good",
	)
)

// isAffirmative reports whether msg is an unambiguous yes: no question, no
// negation, and nothing but affirmatives and filler words.
func isAffirmative(msg string) bool {
	if strings.Contains(msg, "?") {
		return false
	}
	tokens := tokenize(msg)
	if len(tokens) == 0 || negated(tokens) {
		return false
	}
	found := false
	for i := 0; i < len(tokens); {
		matched := false
		for _, p := range affirmativePhrases {
			if phraseAt(tokens, i, p) {
				found, matched = true, true
				i += len(p)
				break
			}
		}
		if matched {
			continue
		}
		switch t := tokens[i]; {
		case affirmativeWords[t]:
			found = true
		case !confirmFiller[t]:
			return false
		}
		i++
	}
	return found
}

var (
	changeWords = wordSet(
		"changer", "change", "changes", "modifier", "modifie", "modify", "autre",
		"another", "other", "different", "différent", "différente", "plutôt",
		"instead", "rather", "décaler", "décale", "déplacer", "move", "reschedule", "swap",
	)
	periodWords = wordSet(
		"date", "dates", "jour", "jours", "day", "days", "période", "period", "nuit",
		"nuits", "night", "nights", "heure", "heures", "hour", "hours", "time", "horaire",
		"horaires", "quand", "when", "demain", "tomorrow", "semaine", "week", "weekend",
		"week-end", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi",
		"dimanche", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
		"sunday", "arrivée", "départ", "arrival", "departure",
	)
	spaceWords = wordSet(
		"salle", "chambre", "espace", "space", "room", "pièce", "local", "studio",
		"logement", "lieu", "venue",
	)
)

// changeTarget returns the step a reply to the summary wants to go back
// to, if it asks for a change. Naming a space without naming dates goes
// back to the space; any other change goes back to the period.
func changeTarget(msg string) (string, bool) {
	tokens := tokenize(msg)
	if !hasAny(tokens, changeWords) {
		return "", false
	}
	if hasAny(tokens, spaceWords) && !hasAny(tokens, periodWords) {
		return convctx.StepChooseSpace, true
	}
	return convctx.StepChoosePeriod, true
}
