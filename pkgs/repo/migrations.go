package repo

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS spaces (
	key      TEXT PRIMARY KEY COLLATE NOCASE,
	name     TEXT NOT NULL,
	personal INTEGER NOT NULL DEFAULT 0 CHECK(personal IN (0, 1)),
	owner    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS users (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	space_key  TEXT NOT NULL COLLATE NOCASE REFERENCES spaces(key),
	title      TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT '',
	creator    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	post_id      TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	data         BLOB NOT NULL,
	creator      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_spaces_owner ON spaces(owner);
CREATE INDEX IF NOT EXISTS idx_posts_space_key ON posts(space_key);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_attachments_post_id ON attachments(post_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
