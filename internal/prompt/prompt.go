// Package prompt assembles system prompts from markdown fragments.
//
// A first turn gets the full prompt; later turns get a minimal one carrying
// only the rules that must never be forgotten. Workflow steps get a prompt
// scoped to the step and the slots collected so far.
package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/convctx"
)

//go:embed fragments
var builtin embed.FS

var required = []string{
	"base.md", "critical.md", "public.md", "private.md",
	"workflows.md", "admin.md", "no_admin.md",
	"steps/request_space_info.md", "steps/choose_space.md", "steps/choose_period.md",
}

var stepFragments = map[string]string{
	convctx.StepRequestSpaceInfo: "steps/request_space_info.md",
	convctx.StepChooseSpace:      "steps/choose_space.md",
	convctx.StepChoosePeriod:     "steps/choose_period.md",
}

var stepTools = map[string][]string{
	convctx.StepRequestSpaceInfo: {"list_spaces", "get_space_info", "check_space_availability"},
	convctx.StepChooseSpace:      {"list_spaces", "get_space_info", "check_space_availability"},
	convctx.StepChoosePeriod:     {"check_space_availability"},
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithName sets the assistant name used in the prompt.
func WithName(name string) Option {
	return func(a *Assembler) { a.name = name }
}

// WithDefaultLocale sets the locale assumed for unknown senders.
func WithDefaultLocale(locale string) Option {
	return func(a *Assembler) { a.defaultLocale = locale }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithDir overrides built-in fragments with files of the same relative
// name found under dir.
func WithDir(dir string) Option {
	return func(a *Assembler) { a.dir = dir }
}

// Assembler builds system prompts. It is read-only after New.
type Assembler struct {
	fragments     map[string]string
	name          string
	defaultLocale string
	dir           string
	now           func() time.Time
}

// New loads every fragment. A missing or unreadable fragment is an error.
func New(opts ...Option) (*Assembler, error) {
	a := &Assembler{
		fragments:     make(map[string]string, len(required)),
		name:          "Concierge",
		defaultLocale: "fr",
		now:           time.Now,
	}
	for _, o := range opts {
		o(a)
	}

	sub, err := fs.Sub(builtin, "fragments")
	if err != nil {
		return nil, err
	}
	for _, name := range required {
		data, err := a.read(sub, name)
		if err != nil {
			return nil, fmt.Errorf("prompt fragment %s: %w", name, err)
		}
		a.fragments[name] = strings.TrimSpace(string(data))
	}
	return a, nil
}

func (a *Assembler) read(sub fs.FS, name string) ([]byte, error) {
	if a.dir != "" {
		data, err := os.ReadFile(filepath.Join(a.dir, filepath.FromSlash(name)))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return fs.ReadFile(sub, name)
}

// Build returns the system prompt for a free-form turn, or the step prompt
// when step is set.
func (a *Assembler) Build(firstTurn bool, ac auth.Context, step string) string {
	if step != "" {
		return a.BuildStep(ac, step, convctx.Slots{})
	}
	if !firstTurn {
		return a.minimal(ac)
	}

	workflows := ""
	if ac.HasAccount() {
		workflows = a.fragments["workflows.md"]
	}
	r := strings.NewReplacer(
		"{{NAME}}", a.name,
		"{{DATE}}", a.dateLine(),
		"{{CRITICAL}}", a.critical(ac),
		"{{VISIBILITY}}", a.visibility(ac),
		"{{WORKFLOWS}}", workflows,
		"{{ADMIN}}", a.admin(ac),
	)
	return collapse(r.Replace(a.fragments["base.md"]))
}

func (a *Assembler) minimal(ac auth.Context) string {
	return collapse(strings.Join([]string{
		a.dateLine(),
		a.critical(ac),
		a.visibility(ac),
		a.admin(ac),
	}, "\n\n"))
}

// BuildStep returns the prompt of an LLM-backed workflow step, with the
// slots collected so far. Backend-only steps have no prompt.
func (a *Assembler) BuildStep(ac auth.Context, step string, slots convctx.Slots) string {
	frag, ok := stepFragments[step]
	if !ok {
		return ""
	}
	return collapse(strings.Join([]string{
		a.dateLine(),
		a.critical(ac),
		a.visibility(ac),
		stateBlock(slots),
		a.fragments[frag],
	}, "\n\n"))
}

// StepTools returns the tool names a step may use. Steps that do not talk
// to the model get none.
func StepTools(step string) []string {
	return append([]string(nil), stepTools[step]...)
}

func (a *Assembler) locale(ac auth.Context) string {
	if l := ac.Locale(); l != "" {
		return l
	}
	return a.defaultLocale
}

func (a *Assembler) critical(ac auth.Context) string {
	return strings.ReplaceAll(a.fragments["critical.md"], "{{LOCALE}}", a.locale(ac))
}

func (a *Assembler) visibility(ac auth.Context) string {
	if ac.IsPublicResponse() {
		return a.fragments["public.md"]
	}
	resident := "the resident"
	if acct, ok := ac.Account(); ok && acct.DisplayName != "" {
		resident = acct.DisplayName
	}
	return strings.ReplaceAll(a.fragments["private.md"], "{{RESIDENT}}", resident)
}

func (a *Assembler) admin(ac auth.Context) string {
	if ac.IsAdmin() && ac.IsDirect() {
		return a.fragments["admin.md"]
	}
	return a.fragments["no_admin.md"]
}

func (a *Assembler) dateLine() string {
	today := a.now()
	tomorrow := today.AddDate(0, 0, 1)
	return fmt.Sprintf("Today is %s %s. Tomorrow is %s %s.",
		today.Weekday(), today.Format("2006-01-02"),
		tomorrow.Weekday(), tomorrow.Format("2006-01-02"))
}

func stateBlock(s convctx.Slots) string {
	val := func(v string) string {
		if v == "" {
			return "not set"
		}
		return v
	}
	var b strings.Builder
	b.WriteString("## Current state\n")
	if s.SpaceType != "" {
		fmt.Fprintf(&b, "- spaceType: %s\n", s.SpaceType)
	}
	fmt.Fprintf(&b, "- spaceId: %s\n", val(s.ResourceID))
	fmt.Fprintf(&b, "- startDate: %s\n", val(s.Period.StartDate))
	fmt.Fprintf(&b, "- endDate: %s", val(s.Period.EndDate))
	if s.Period.StartTime != "" {
		fmt.Fprintf(&b, "\n- startTime: %s", s.Period.StartTime)
	}
	if s.Period.EndTime != "" {
		fmt.Fprintf(&b, "\n- endTime: %s", s.Period.EndTime)
	}
	return b.String()
}

// collapse removes the blank runs left by empty fragments.
func collapse(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
