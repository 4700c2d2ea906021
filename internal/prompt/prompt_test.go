package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/domain"
)

var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func newAssembler(t *testing.T, opts ...Option) *Assembler {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	a, err := New(opts...)
	require.NoError(t, err)
	return a
}

func TestBuild_FullPrompt(t *testing.T) {
	a := newAssembler(t, WithName("Neo"))
	alice := &domain.Account{ID: "a", DisplayName: "Alice Martin", Locale: "en", Role: domain.RoleResident}

	tests := []struct {
		name        string
		ac          auth.Context
		contains    []string
		notContains []string
	}{
		{
			name:        "public without account",
			ac:          auth.New("@x:s", "irc:#hall", false, nil),
			contains:    []string{"You are Neo", "shared room", "Do not mention administration", "2026-10-16"},
			notContains: []string{"start_space_reservation", "admin_get_users"},
		},
		{
			name:        "private resident",
			ac:          auth.New("@alice:s", "irc:alice", true, alice),
			contains:    []string{"Alice Martin", "start_space_reservation", "(en unless"},
			notContains: []string{"admin_get_users", "shared room"},
		},
		{
			name:     "private admin",
			ac:       auth.New("@claire:s", "irc:claire", true, &domain.Account{ID: "c", Role: domain.RoleAdmin}),
			contains: []string{"admin_get_users", "(fr unless"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := a.Build(true, tt.ac, "")
			for _, s := range tt.contains {
				assert.Contains(t, p, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, p, s)
			}
			assert.NotContains(t, p, "{{")
			assert.NotContains(t, p, "\n\n\n")
		})
	}
}

func TestBuild_MinimalPrompt(t *testing.T) {
	a := newAssembler(t)
	ac := auth.New("@x:s", "irc:#hall", false, nil)

	full := a.Build(true, ac, "")
	min := a.Build(false, ac, "")
	assert.Less(t, len(min), len(full))
	assert.Contains(t, min, "Critical rules")
	assert.Contains(t, min, "shared room")
	assert.Contains(t, min, "Today is Thursday 2026-10-15")
}

func TestBuildStep(t *testing.T) {
	a := newAssembler(t)
	ac := auth.New("@alice:s", "irc:alice", true, &domain.Account{ID: "a"})
	slots := convctx.Slots{ResourceID: "room-1", Period: convctx.Period{StartDate: "2026-10-16"}}

	p := a.BuildStep(ac, convctx.StepChoosePeriod, slots)
	assert.Contains(t, p, "choose the period")
	assert.Contains(t, p, "spaceId: room-1")
	assert.Contains(t, p, "endDate: not set")

	assert.Empty(t, a.BuildStep(ac, convctx.StepCompleteReservation, slots))
	assert.Equal(t, a.BuildStep(ac, convctx.StepChooseSpace, convctx.Slots{}), a.Build(true, ac, convctx.StepChooseSpace))
}

func TestStepTools(t *testing.T) {
	assert.NotContains(t, StepTools(convctx.StepChoosePeriod), "create_reservation")
	assert.Equal(t, []string{"check_space_availability"}, StepTools(convctx.StepChoosePeriod))
	assert.Contains(t, StepTools(convctx.StepChooseSpace), "list_spaces")
	assert.Empty(t, StepTools(convctx.StepConfirmSummary))
	assert.Empty(t, StepTools("UNKNOWN"))

	// Callers get a copy.
	tools := StepTools(convctx.StepChooseSpace)
	tools[0] = "create_reservation"
	assert.NotContains(t, StepTools(convctx.StepChooseSpace), "create_reservation")
}

func TestWithDirOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public.md"), []byte("PUBLIC OVERRIDE"), 0o644))

	a := newAssembler(t, WithDir(dir))
	p := a.Build(true, auth.New("@x:s", "irc:#hall", false, nil), "")
	assert.Contains(t, p, "PUBLIC OVERRIDE")
	assert.Contains(t, p, "Critical rules", "fragments missing from the directory stay built in")
}
