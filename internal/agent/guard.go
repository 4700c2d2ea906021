package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ClaimKind classifies a concrete fact found in an answer.
type ClaimKind string

const (
	ClaimPhone   ClaimKind = "phone"
	ClaimAddress ClaimKind = "address"
	ClaimHours   ClaimKind = "hours"
)

// Claim is a concrete fact stated in an answer.
type Claim struct {
	Kind ClaimKind
	Text string
}

const clockPattern = `\d{1,2}(?:\s?h(?:\s?\d{2})?\b|:\d{2}(?:\s?[ap]m\b)?|\s?[ap]m\b)`

var (
	phoneRe = regexp.MustCompile(`(?:\+33\s?|\b0)[1-9](?:[\s.-]?\d{2}){4}\b` +
		`|\+\d{1,3}(?:[\s.-]?\(?\d{1,4}\)?){3,5}` +
		`|\(\d{3}\)\s?\d{3}[\s.-]?\d{4}\b` +
		`|\b\d{2,4}(?:[\s.-]\d{2,4}){2,4}\b`)
	dateLikeRe = regexp.MustCompile(`^(?:\d{4}[-./]\d{2}[-./]\d{2}|\d{2}[-./]\d{2}[-./]\d{4})$`)

	// Street type before the name, as in French addresses.
	streetFirstRe = regexp.MustCompile(`(?i)\b\d{1,4}(?:\s?(?:bis|ter)\b|[a-z]\b)?,?\s+` +
		`(?:rue|avenue|av\.|boulevard|bd|place|chemin|allée|impasse|quai|cours|route|square|passage|villa)` +
		`\s+[\p{L}'’-]+(?:\s+[\p{L}'’-]+){0,5}`)
	// Street type after a capitalized name, as in English addresses.
	streetLastRe = regexp.MustCompile(`\b\d{1,5}[A-Za-z]?\s+(?:\p{Lu}[\p{L}'’-]*\s+){1,4}` +
		`(?i:street|st|avenue|ave|road|rd|lane|ln|boulevard|blvd|drive|dr|terrace|court|ct|place|pl|way|square|sq|close|crescent|gardens|row|parkway|highway)\b`)
	postalRe = regexp.MustCompile(`\b\d{5}\s+\p{Lu}[\p{L}-]+` +
		`|\b[A-Z]{1,2}\d[A-Z\d]?\s\d[A-Z]{2}\b` +
		`|\b[A-Z]{2}\s\d{5}(?:-\d{4})?\b`)

	hoursRe = regexp.MustCompile(`(?i)\b` + clockPattern +
		`\s*(?:-|–|—|jusqu'à|à|a|to|until|till)\s*` + clockPattern)
	clockRe = regexp.MustCompile(`(?i)(\d{1,2})(?:\s?h(?:\s?(\d{2}))?|:(\d{2})(?:\s?([ap])m)?|\s?([ap])m)`)
)

// addressStops end a street name: what follows is the sentence, not the
// address.
var addressStops = map[string]bool{
	"near": true, "next": true, "and": true, "et": true, "in": true, "au": true, "aux": true,
	"the": true, "is": true, "est": true, "which": true, "qui": true, "pour": true, "for": true,
	"with": true, "avec": true, "open": true, "opens": true, "ouvert": true, "ouverte": true,
	"from": true, "on": true, "at": true, "by": true, "to": true, "par": true, "sur": true,
	"dans": true, "en": true, "where": true, "où": true, "then": true, "puis": true,
	"phone": true, "tel": true, "tél": true, "téléphone": true, "call": true, "appelez": true,
	"behind": true, "derrière": true, "between": true, "entre": true, "floor": true,
	"étage": true, "you": true, "vous": true, "it": true, "il": true, "elle": true,
	"are": true, "sont": true, "a": true, "an": true, "un": true, "une": true,
	"this": true, "ce": true, "cette": true, "c'est": true,
}

// trimStreet cuts a street-first match at the first word that belongs to
// the sentence around it. The number, the street type and one name word
// always stay.
func trimStreet(m string) string {
	words := strings.Fields(m)
	start := 0
	for i, w := range words {
		if !strings.ContainsAny(w[:1], "0123456789") && i > 0 {
			// words[i] is the street type, its name starts after it.
			start = i + 2
			break
		}
	}
	for i := start; i < len(words); i++ {
		if addressStops[strings.ToLower(strings.Trim(words[i], "'’"))] {
			return strings.Join(words[:i], " ")
		}
	}
	return m
}

// Claims extracts phone numbers, addresses and opening hours from text.
func Claims(text string) []Claim {
	var out []Claim
	seen := make(map[string]bool)
	add := func(kind ClaimKind, s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[string(kind)+s] {
			return
		}
		seen[string(kind)+s] = true
		out = append(out, Claim{Kind: kind, Text: s})
	}

	for _, m := range phones(text) {
		add(ClaimPhone, m)
	}
	for _, m := range streetFirstRe.FindAllString(text, -1) {
		add(ClaimAddress, trimStreet(m))
	}
	for _, m := range streetLastRe.FindAllString(text, -1) {
		add(ClaimAddress, m)
	}
	for _, m := range postalRe.FindAllString(text, -1) {
		add(ClaimAddress, m)
	}
	for _, m := range hoursRe.FindAllString(text, -1) {
		add(ClaimHours, m)
	}
	return out
}

// phones returns the phone-like numbers of text. Dates and short numbers
// are not phones.
func phones(text string) []string {
	var out []string
	for _, m := range phoneRe.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		n := len(digitsOnly(m))
		if n < 8 || n > 15 || dateLikeRe.MatchString(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Unverified returns the claims of answer that appear nowhere in
// provenance, the text of the tool results and retrieved documents the
// answer was built from. Each claim is checked as a whole: a phone against
// the phone numbers of provenance, an address against its full normalized
// text, opening hours against the ranges provenance states.
func Unverified(answer, provenance string) []Claim {
	claims := Claims(answer)
	if len(claims) == 0 {
		return nil
	}

	var known []string
	for _, p := range phones(provenance) {
		known = append(known, significantDigits(p))
	}
	words := " " + normalizeText(provenance) + " "
	ranges := make(map[string]bool)
	for _, m := range hoursRe.FindAllString(provenance, -1) {
		if r, ok := canonicalRange(m); ok {
			ranges[r] = true
		}
	}

	var out []Claim
	for _, c := range claims {
		switch c.Kind {
		case ClaimPhone:
			if samePhone(significantDigits(c.Text), known) {
				continue
			}
		case ClaimAddress:
			if n := normalizeText(c.Text); n != "" && strings.Contains(words, " "+n+" ") {
				continue
			}
		case ClaimHours:
			if r, ok := canonicalRange(c.Text); ok && ranges[r] {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// significantDigits drops the French country or trunk prefix so "+33 1 23"
// and "01 23" compare equal.
func significantDigits(phone string) string {
	d := digitsOnly(phone)
	switch {
	case strings.HasPrefix(strings.TrimSpace(phone), "+33"):
		d = strings.TrimPrefix(d, "33")
	case strings.HasPrefix(d, "0"):
		d = d[1:]
	}
	return d
}

// samePhone matches d against known numbers. Other country codes are
// tolerated by comparing suffixes of at least eight digits.
func samePhone(d string, known []string) bool {
	if len(d) < 8 {
		return false
	}
	for _, k := range known {
		if len(k) < 8 {
			continue
		}
		if d == k || strings.HasSuffix(d, k) || strings.HasSuffix(k, d) {
			return true
		}
	}
	return false
}

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func normalizeText(s string) string {
	return strings.TrimSpace(nonWordRe.ReplaceAllString(strings.ToLower(s), " "))
}

// canonicalRange turns an hours range into minutes since midnight,
// "540-1080" for both "9h-18h" and "9:00 to 6pm".
func canonicalRange(s string) (string, bool) {
	clocks := clockRe.FindAllStringSubmatch(s, -1)
	if len(clocks) < 2 {
		return "", false
	}
	from, ok1 := minutes(clocks[0])
	to, ok2 := minutes(clocks[1])
	if !ok1 || !ok2 {
		return "", false
	}
	return fmt.Sprintf("%d-%d", from, to), true
}

func minutes(m []string) (int, bool) {
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	mins := 0
	for _, s := range []string{m[2], m[3]} {
		if s != "" {
			mins, _ = strconv.Atoi(s)
		}
	}
	half := strings.ToLower(m[4] + m[5])
	switch {
	case half == "p" && h < 12:
		h += 12
	case half == "a" && h == 12:
		h = 0
	}
	if h > 24 || mins > 59 {
		return 0, false
	}
	return h*60 + mins, true
}
