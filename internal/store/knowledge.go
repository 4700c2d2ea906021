package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/soyeahso/concierge/internal/domain"
)

// KnowledgeStore manages building knowledge articles with full-text search
// via SQLite FTS5.
type KnowledgeStore struct {
	db    *DB
	limit int
}

// NewKnowledgeStore creates a knowledge store using the given database.
func NewKnowledgeStore(db *DB) *KnowledgeStore {
	return &KnowledgeStore{db: db, limit: 3}
}

func newID() string {
	return uuid.New().String()
}

// Put inserts or updates an article.
func (k *KnowledgeStore) Put(ctx context.Context, a domain.Article) (domain.Article, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.Category == "" {
		a.Category = "info"
	}
	_, err := k.db.sql.ExecContext(ctx,
		`INSERT INTO knowledge (id, title, category, body, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   category = excluded.category,
		   body = excluded.body,
		   updated_at = excluded.updated_at`,
		a.ID, a.Title, a.Category, a.Body, k.db.now().UTC().Format(time.DateTime),
	)
	if err != nil {
		return domain.Article{}, fmt.Errorf("put article: %w", err)
	}
	return a, nil
}

// Search finds articles matching any word of query, best first. Limit of 0
// defaults to 20.
func (k *KnowledgeStore) Search(ctx context.Context, query string, limit int) ([]domain.Article, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := k.db.sql.QueryContext(ctx,
		`SELECT k.id, k.title, k.category, k.body
		 FROM knowledge_fts
		 JOIN knowledge k ON k.rowid = knowledge_fts.rowid
		 WHERE knowledge_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// Retrieve returns the best matching articles rendered as prompt context,
// or "" when nothing matches.
func (k *KnowledgeStore) Retrieve(ctx context.Context, query string) (string, error) {
	articles, err := k.Search(ctx, query, k.limit)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, a := range articles {
		fmt.Fprintf(&b, "### %s\n%s\n\n", a.Title, a.Body)
	}
	return strings.TrimSpace(b.String()), nil
}

// Delete removes an article by ID.
func (k *KnowledgeStore) Delete(ctx context.Context, id string) error {
	_, err := k.db.sql.ExecContext(ctx, `DELETE FROM knowledge WHERE id = ?`, id)
	return err
}

// ftsQuery turns free text into an FTS5 OR query of quoted terms, dropping
// short words and FTS syntax characters.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		if len([]rune(w)) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
