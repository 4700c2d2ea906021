package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create accounts, spaces and reservations",
		SQL: `
			CREATE TABLE accounts (
				id            TEXT PRIMARY KEY,
				username      TEXT NOT NULL UNIQUE,
				chat_id       TEXT UNIQUE,
				display_name  TEXT NOT NULL DEFAULT '',
				email         TEXT NOT NULL DEFAULT '',
				phone         TEXT NOT NULL DEFAULT '',
				locale        TEXT NOT NULL DEFAULT 'fr',
				role          TEXT NOT NULL DEFAULT 'resident',
				unit          TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_accounts_unit ON accounts (unit);

			CREATE TABLE spaces (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL,
				type         TEXT NOT NULL,
				description  TEXT NOT NULL DEFAULT '',
				rules        TEXT NOT NULL DEFAULT '',
				price_cents  INTEGER NOT NULL DEFAULT 0,
				currency     TEXT NOT NULL DEFAULT 'EUR',
				max_nights   INTEGER NOT NULL DEFAULT 0,
				active       INTEGER NOT NULL DEFAULT 1
			);

			CREATE TABLE reservations (
				id           TEXT PRIMARY KEY,
				space_id     TEXT NOT NULL REFERENCES spaces(id),
				account_id   TEXT NOT NULL REFERENCES accounts(id),
				start_date   TEXT NOT NULL,
				end_date     TEXT NOT NULL,
				status       TEXT NOT NULL,
				total_cents  INTEGER NOT NULL DEFAULT 0,
				currency     TEXT NOT NULL DEFAULT 'EUR',
				access_code  TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_reservations_space ON reservations (space_id, start_date);
			CREATE INDEX idx_reservations_account ON reservations (account_id, start_date);

			CREATE TABLE payment_sessions (
				id              TEXT PRIMARY KEY,
				reservation_id  TEXT NOT NULL REFERENCES reservations(id),
				url             TEXT NOT NULL,
				amount_cents    INTEGER NOT NULL,
				currency        TEXT NOT NULL,
				created_at      TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "create directory and knowledge base with FTS5",
		SQL: `
			CREATE TABLE contacts (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				name      TEXT NOT NULL,
				category  TEXT NOT NULL DEFAULT 'general',
				phone     TEXT NOT NULL DEFAULT '',
				email     TEXT NOT NULL DEFAULT '',
				notes     TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE knowledge (
				id          TEXT PRIMARY KEY,
				title       TEXT NOT NULL,
				category    TEXT NOT NULL DEFAULT 'info',
				body        TEXT NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_knowledge_category ON knowledge (category);

			CREATE VIRTUAL TABLE knowledge_fts USING fts5(
				title,
				body,
				content='knowledge',
				content_rowid='rowid'
			);

			CREATE TRIGGER knowledge_ai AFTER INSERT ON knowledge BEGIN
				INSERT INTO knowledge_fts(rowid, title, body)
				VALUES (new.rowid, new.title, new.body);
			END;

			CREATE TRIGGER knowledge_ad AFTER DELETE ON knowledge BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, title, body)
				VALUES ('delete', old.rowid, old.title, old.body);
			END;

			CREATE TRIGGER knowledge_au AFTER UPDATE ON knowledge BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, title, body)
				VALUES ('delete', old.rowid, old.title, old.body);
				INSERT INTO knowledge_fts(rowid, title, body)
				VALUES (new.rowid, new.title, new.body);
			END;
		`,
	},
	{
		Version: 3,
		Name:    "create conversation contexts",
		SQL: `
			CREATE TABLE conversation_contexts (
				id          TEXT PRIMARY KEY,
				data        TEXT NOT NULL,
				updated_at  TEXT NOT NULL,
				expires_at  TEXT
			);

			CREATE INDEX idx_contexts_expires ON conversation_contexts (expires_at);
		`,
	},
}
