// Package i18n resolves localized user-facing strings.
//
// Bundles are flat YAML maps of dotted keys to templates. Templates take
// positional arguments written {0}, {1}, ...
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

// Translator looks up templates by locale and key. It is read-only after
// construction and safe for concurrent use.
type Translator struct {
	bundles       map[string]map[string]string
	defaultLocale string
}

// New loads the built-in bundles. defaultLocale is used when a locale is
// unknown or a key is missing from it.
func New(defaultLocale string) (*Translator, error) {
	return Load(builtin, "locales", defaultLocale)
}

// MustNew is New for package-level wiring and tests.
func MustNew(defaultLocale string) *Translator {
	t, err := New(defaultLocale)
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads every <locale>.yaml file under dir in fsys.
func Load(fsys fs.FS, dir, defaultLocale string) (*Translator, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	t := &Translator{
		bundles:       make(map[string]map[string]string),
		defaultLocale: Normalize(defaultLocale),
	}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		bundle := make(map[string]string)
		if err := yaml.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		t.bundles[strings.TrimSuffix(e.Name(), ".yaml")] = bundle
	}
	if _, ok := t.bundles[t.defaultLocale]; !ok {
		return nil, fmt.Errorf("no bundle for default locale %q", t.defaultLocale)
	}
	return t, nil
}

// DefaultLocale returns the fallback locale.
func (t *Translator) DefaultLocale() string {
	return t.defaultLocale
}

// Supports reports whether a bundle exists for locale.
func (t *Translator) Supports(locale string) bool {
	_, ok := t.bundles[Normalize(locale)]
	return ok
}

// Resolve maps locale to a supported one, falling back to the default.
func (t *Translator) Resolve(locale string) string {
	if l := Normalize(locale); t.Supports(l) {
		return l
	}
	return t.defaultLocale
}

// T returns the template for key in locale with args substituted. Missing
// keys fall back to the default locale, then to the key itself.
func (t *Translator) T(locale, key string, args ...any) string {
	tmpl, ok := t.bundles[Normalize(locale)][key]
	if !ok {
		tmpl, ok = t.bundles[t.defaultLocale][key]
	}
	if !ok {
		return key
	}
	return Format(tmpl, args...)
}

// Format substitutes {0}, {1}, ... in tmpl.
func Format(tmpl string, args ...any) string {
	if len(args) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, len(args)*2)
	for i, a := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", fmt.Sprint(a))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Normalize reduces a locale tag to its language part ("fr-FR" → "fr").
func Normalize(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return locale
}
