package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
)

func TestClaims(t *testing.T) {
	got := Claims("Call 01 23 45 67 89, come to 8 avenue Foch, open 9h-18h.")
	kinds := map[ClaimKind]int{}
	for _, c := range got {
		kinds[c.Kind]++
	}
	assert.Equal(t, 1, kinds[ClaimPhone])
	assert.Equal(t, 1, kinds[ClaimAddress])
	assert.Equal(t, 1, kinds[ClaimHours])
}

func TestUnverified(t *testing.T) {
	provenance := "Gardien : Paul, 06 11 22 33 44. Loge : 3 rue Victor Hugo. Ouverte de 8h à 12h."

	tests := []struct {
		name   string
		answer string
		want   int
	}{
		{"no claims", "The caretaker is Paul.", 0},
		{"phone same digits other format", "Call +33 6 11 22 33 44.", 0},
		{"invented phone", "Call 01 99 88 77 66.", 1},
		{"address verbatim", "The lodge is at 3 rue Victor Hugo.", 0},
		{"address followed by sentence", "The lodge is at 3 rue Victor Hugo near the park.", 0},
		{"address with longer name", "The lodge is at 3 rue Victor Hugo Prolongée.", 1},
		{"address other street same prefix", "The lodge is at 3 rue Victor Schoelcher.", 1},
		{"invented address", "The lodge is at 14 boulevard Haussmann.", 1},
		{"hours from provenance", "It opens 8h-12h.", 0},
		{"invented hours", "It opens 9h-17h.", 1},
		{"hours same range other format", "Open from 8:00 to 12:00.", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Unverified(tt.answer, provenance), tt.want)
		})
	}
}

func TestClaims_Formats(t *testing.T) {
	tests := []struct {
		text string
		kind ClaimKind
		want string
	}{
		{"It is at 742 Evergreen Terrace, Springfield.", ClaimAddress, "742 Evergreen Terrace"},
		{"Visit 221B Baker Street, London NW1 6XE.", ClaimAddress, "221B Baker Street"},
		{"Visit 221B Baker Street, London NW1 6XE.", ClaimAddress, "NW1 6XE"},
		{"Send it to 12 rue de la Paix et merci.", ClaimAddress, "12 rue de la Paix"},
		{"Envoyez à 75008 Paris.", ClaimAddress, "75008 Paris"},
		{"Open 9:00–18:00 on weekdays.", ClaimHours, "9:00–18:00"},
		{"Open 9am to 5pm.", ClaimHours, "9am to 5pm"},
		{"Ouvert de 9h à 18h.", ClaimHours, "9h à 18h"},
		{"Call (555) 123-4567 now.", ClaimPhone, "(555) 123-4567"},
		{"Call 555-123-4567 now.", ClaimPhone, "555-123-4567"},
		{"Appelez le 06 11 22 33 44.", ClaimPhone, "06 11 22 33 44"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Contains(t, Claims(tt.text), Claim{Kind: tt.kind, Text: tt.want})
		})
	}
}

func TestClaims_IgnoresDatesAndPrices(t *testing.T) {
	assert.Empty(t, Claims("Booked from 2026-10-09 to 2026-10-18 for 45.00 EUR, 2 nights."))
	assert.Empty(t, Claims("Reservation 6b1e9f4e-0c3a-4f57-8f0e-5d2b7a9c0001 is confirmed."))
}

func TestUnverified_WholeClaims(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		provenance string
		want       int
	}{
		{"english address without source", "The office is at 742 Evergreen Terrace, Springfield.", "", 1},
		{"uk address and postcode without source", "Go to 221B Baker Street, London NW1 6XE.", "", 2},
		{"en dash hours without source", "Open 9:00–18:00.", "", 1},
		{"us phone without source", "Call (555) 123-4567.", "", 1},
		{"hours numbers only in dates", "Ouvert de 9h à 18h.", `{"start":"2026-10-09","end":"2026-10-18"}`, 1},
		{"same street prefix other street", "C'est au 12 rue de la Paix.", "Loge : 12 rue de la Gare", 1},
		{"english address from source", "The office is at 742 Evergreen Terrace.", "office: 742 Evergreen Terrace, Springfield", 0},
		{"us phone with country code from source", "Call +1 (555) 123-4567.", "phone (555) 123-4567", 0},
		{"en dash hours from source", "Open 9:00–18:00.", "Hours: 9h - 18h", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Unverified(tt.answer, tt.provenance), tt.want)
		})
	}
}

func TestCanonicalRange(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"9h-18h", "540-1080"},
		{"9:00 to 6pm", "540-1080"},
		{"8h30 à 12h", "510-720"},
		{"12am to 12pm", "0-720"},
	}
	for _, tt := range tests {
		got, ok := canonicalRange(tt.in)
		require.True(t, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, ok := canonicalRange("9h")
	assert.False(t, ok)
}

func TestNeedsLookup(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Qui habite au 204 ?", true},
		{"who lives on floor 3", true},
		{"Quel est le numéro du syndic ?", true},
		{"Je voudrais réserver la chambre d'amis", true},
		{"merci beaucoup", false},
		{"hello", false},
		{"   ", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NeedsLookup(tt.msg), tt.msg)
	}
}

func TestAnnouncesLookup(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"Je vais chercher cette information.", true},
		{"One moment, let me check.", true},
		{"Je consulte l'annuaire…", true},
		{"Give me a second to look that up.", true},
		{"Laissez-moi vérifier les disponibilités.", true},
		{"I'm going to search the directory for you.", true},
		{"Un instant, je regarde.", true},
		{"Nous allons consulter le registre du bâtiment.", true},
		{"Je me renseigne auprès du syndic.", true},
		{"Hold on please.", true},

		{"The guest room costs 45.00 EUR per night.", false},
		{"J'ai vérifié : la chambre est libre.", false},
		{"I checked the directory, the caretaker is Paul.", false},
		{"Let me check... the caretaker is at 12 rue des Lilas, 01 23 45 67 89.", false},
		{"I'll be happy to help with anything else.", false},
		{"We look forward to your stay, let me know if you need anything.", false},
		{"Merci, bonne journée !", false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			assert.Equal(t, tt.want, AnnouncesLookup(tt.answer))
		})
	}
}

func TestToolChoiceFor(t *testing.T) {
	assert.Equal(t, llm.ToolChoiceNone, ToolChoiceFor("who lives in 204", false))
	assert.Equal(t, llm.ToolChoiceRequired, ToolChoiceFor("who lives in 204", true))
	assert.Equal(t, llm.ToolChoiceAuto, ToolChoiceFor("bonjour", true))
}

func TestSanitize(t *testing.T) {
	in := "Here it is.\n<function_calls><invoke name=\"x\"></invoke></function_calls>\n\n\n\nBye   now.\n```\ncode\n```"
	out := sanitize(in, logging.Nop())

	require.NotContains(t, out, "function_calls")
	assert.NotContains(t, out, "```")
	assert.Contains(t, out, "code")
	assert.Contains(t, out, "Bye now.")
	assert.NotContains(t, out, "\n\n\n")
}
