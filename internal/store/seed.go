package store

import (
	"context"
	"embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soyeahso/concierge/internal/domain"
)

//go:embed seed/demo.yaml
var demoSeed embed.FS

// Seed is a YAML document of reference data loaded by "concierge db seed".
type Seed struct {
	Accounts []SeedAccount `yaml:"accounts"`
	Spaces   []SeedSpace   `yaml:"spaces"`
	Contacts []SeedContact `yaml:"contacts"`
	Articles []SeedArticle `yaml:"articles"`
}

// SeedAccount is an account row with its optional chat identity.
type SeedAccount struct {
	ID          string `yaml:"id"`
	Username    string `yaml:"username"`
	ChatID      string `yaml:"chatId"`
	DisplayName string `yaml:"displayName"`
	Email       string `yaml:"email"`
	Phone       string `yaml:"phone"`
	Locale      string `yaml:"locale"`
	Role        string `yaml:"role"`
	Unit        string `yaml:"unit"`
}

// SeedSpace is a space row.
type SeedSpace struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Rules       string `yaml:"rules"`
	PriceCents  int64  `yaml:"priceCents"`
	Currency    string `yaml:"currency"`
	MaxNights   int    `yaml:"maxNights"`
	Inactive    bool   `yaml:"inactive"`
}

// SeedContact is a directory entry.
type SeedContact struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Phone    string `yaml:"phone"`
	Email    string `yaml:"email"`
	Notes    string `yaml:"notes"`
}

// SeedArticle is a knowledge base article.
type SeedArticle struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
	Body     string `yaml:"body"`
}

// ParseSeed decodes a seed document.
func ParseSeed(r io.Reader) (*Seed, error) {
	var s Seed
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i, a := range s.Accounts {
		if a.ID == "" || a.Username == "" {
			return nil, fmt.Errorf("seed account %d: id and username are required", i)
		}
	}
	for i, sp := range s.Spaces {
		if sp.ID == "" || sp.Name == "" {
			return nil, fmt.Errorf("seed space %d: id and name are required", i)
		}
	}
	return &s, nil
}

// ParseSeedFile reads a seed document from disk.
func ParseSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// DemoSeed returns the built-in demo data set.
func DemoSeed() (*Seed, error) {
	f, err := demoSeed.Open("seed/demo.yaml")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSeed(f)
}

// SeedStats counts rows written by ApplySeed.
type SeedStats struct {
	Accounts int
	Spaces   int
	Contacts int
	Articles int
}

// ApplySeed upserts every row of s in a single transaction. Contacts are
// replaced wholesale.
func (db *DB) ApplySeed(ctx context.Context, s *Seed) (SeedStats, error) {
	var stats SeedStats

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, a := range s.Accounts {
		locale, role := a.Locale, a.Role
		if locale == "" {
			locale = "fr"
		}
		if role == "" {
			role = string(domain.RoleResident)
		}
		var chatID any
		if a.ChatID != "" {
			chatID = a.ChatID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, username, chat_id, display_name, email, phone, locale, role, unit)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			  username = excluded.username, chat_id = excluded.chat_id,
			  display_name = excluded.display_name, email = excluded.email,
			  phone = excluded.phone, locale = excluded.locale,
			  role = excluded.role, unit = excluded.unit`,
			a.ID, a.Username, chatID, a.DisplayName, a.Email, a.Phone, locale, role, a.Unit,
		); err != nil {
			return stats, fmt.Errorf("seed account %s: %w", a.ID, err)
		}
		stats.Accounts++
	}

	for _, sp := range s.Spaces {
		currency := sp.Currency
		if currency == "" {
			currency = db.currency
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO spaces (id, name, type, description, rules, price_cents, currency, max_nights, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			  name = excluded.name, type = excluded.type, description = excluded.description,
			  rules = excluded.rules, price_cents = excluded.price_cents, currency = excluded.currency,
			  max_nights = excluded.max_nights, active = excluded.active`,
			sp.ID, sp.Name, sp.Type, sp.Description, sp.Rules, sp.PriceCents, currency, sp.MaxNights, !sp.Inactive,
		); err != nil {
			return stats, fmt.Errorf("seed space %s: %w", sp.ID, err)
		}
		stats.Spaces++
	}

	if len(s.Contacts) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contacts`); err != nil {
			return stats, fmt.Errorf("reset contacts: %w", err)
		}
		for _, c := range s.Contacts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO contacts (name, category, phone, email, notes) VALUES (?, ?, ?, ?, ?)`,
				c.Name, c.Category, c.Phone, c.Email, c.Notes,
			); err != nil {
				return stats, fmt.Errorf("seed contact %s: %w", c.Name, err)
			}
			stats.Contacts++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit seed: %w", err)
	}

	knowledge := NewKnowledgeStore(db)
	for _, a := range s.Articles {
		if _, err := knowledge.Put(ctx, domain.Article{ID: a.ID, Title: a.Title, Category: a.Category, Body: a.Body}); err != nil {
			return stats, err
		}
		stats.Articles++
	}

	db.log.Info().
		Int("accounts", stats.Accounts).
		Int("spaces", stats.Spaces).
		Int("contacts", stats.Contacts).
		Int("articles", stats.Articles).
		Msg("seed applied")
	return stats, nil
}

// FindAccountByChatID resolves a chat identity outside any transaction.
func (db *DB) FindAccountByChatID(ctx context.Context, chatID string) (domain.Account, error) {
	return findAccountByChatID(ctx, db.sql, chatID)
}
