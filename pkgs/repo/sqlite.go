package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteRepository implements Repository on a local SQLite database.
type SQLiteRepository struct {
	db      *sqlx.DB
	version string
}

// OpenSQLite opens (or creates) a SQLite database at dbPath, enables WAL
// mode, and runs any pending schema migrations. The version string is
// reported as the repository version.
func OpenSQLite(dbPath, version string) (*SQLiteRepository, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	r := &SQLiteRepository{db: db, version: version}
	if err := r.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return r, nil
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Version reports the configured repository version.
func (r *SQLiteRepository) Version() string {
	return r.version
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (r *SQLiteRepository) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := r.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = r.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := r.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// LookupSpace finds a shared space by key, case-insensitively.
func (r *SQLiteRepository) LookupSpace(ctx context.Context, key string) (*Space, error) {
	row := r.db.QueryRowxContext(ctx,
		"SELECT key, name, personal, owner FROM spaces WHERE key = ? COLLATE NOCASE AND personal = 0",
		key,
	)
	return scanSpace(row)
}

// LookupPersonalSpace finds the personal space of a user.
func (r *SQLiteRepository) LookupPersonalSpace(ctx context.Context, username string) (*Space, error) {
	row := r.db.QueryRowxContext(ctx,
		"SELECT key, name, personal, owner FROM spaces WHERE owner = ? COLLATE NOCASE AND personal = 1",
		username,
	)
	return scanSpace(row)
}

// LookupUsersByEmail returns every account registered with the email
// address.
func (r *SQLiteRepository) LookupUsersByEmail(ctx context.Context, email string) ([]User, error) {
	rows, err := r.db.QueryxContext(ctx,
		"SELECT id, name, email FROM users WHERE email = ? COLLATE NOCASE ORDER BY name",
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// CreatePost stores a post. A missing ID or creation time is filled in.
func (r *SQLiteRepository) CreatePost(ctx context.Context, post Post) (*Post, error) {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO posts (id, space_key, title, body, creator, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		post.ID, post.SpaceKey, post.Title, post.Body,
		post.Creator, post.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating post: %w", err)
	}

	return &post, nil
}

// SaveAttachment stores one attachment of a post.
func (r *SQLiteRepository) SaveAttachment(ctx context.Context, att Attachment) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attachments (id, post_id, filename, content_type, data, creator)
		VALUES (?, ?, ?, ?, ?, ?)`,
		att.ID, att.PostID, att.Filename, att.ContentType, att.Data, att.Creator,
	)
	if err != nil {
		return fmt.Errorf("saving attachment %s: %w", att.Filename, err)
	}

	return nil
}

// CreateSpace registers a space.
func (r *SQLiteRepository) CreateSpace(ctx context.Context, space Space) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO spaces (key, name, personal, owner)
		VALUES (?, ?, ?, ?)`,
		space.Key, space.Name, boolToInt(space.Personal), space.Owner,
	)
	if err != nil {
		return fmt.Errorf("creating space %s: %w", space.Key, err)
	}
	return nil
}

// CreateUser registers a user account.
func (r *SQLiteRepository) CreateUser(ctx context.Context, user User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email)
		VALUES (?, ?, ?)`,
		user.ID, user.Name, user.Email,
	)
	if err != nil {
		return fmt.Errorf("creating user %s: %w", user.Name, err)
	}
	return nil
}

// ListPosts returns the posts of a space, newest first.
func (r *SQLiteRepository) ListPosts(ctx context.Context, spaceKey string) ([]Post, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, space_key, title, body, creator, created_at
		FROM posts WHERE space_key = ? COLLATE NOCASE
		ORDER BY created_at DESC`,
		spaceKey,
	)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		var createdAt time.Time
		if err := rows.Scan(&p.ID, &p.SpaceKey, &p.Title, &p.Body, &p.Creator, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		p.CreatedAt = createdAt
		posts = append(posts, p)
	}

	return posts, rows.Err()
}

// ListSpaces returns every registered space, ordered by key.
func (r *SQLiteRepository) ListSpaces(ctx context.Context) ([]Space, error) {
	rows, err := r.db.QueryxContext(ctx,
		"SELECT key, name, personal, owner FROM spaces ORDER BY key",
	)
	if err != nil {
		return nil, fmt.Errorf("querying spaces: %w", err)
	}
	defer rows.Close()

	var spaces []Space
	for rows.Next() {
		var (
			s        Space
			personal int
		)
		if err := rows.Scan(&s.Key, &s.Name, &personal, &s.Owner); err != nil {
			return nil, fmt.Errorf("scanning space row: %w", err)
		}
		s.Personal = personal != 0
		spaces = append(spaces, s)
	}

	return spaces, rows.Err()
}

// ListUsers returns every registered account, ordered by name.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryxContext(ctx,
		"SELECT id, name, email FROM users ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func scanSpace(row *sqlx.Row) (*Space, error) {
	var (
		s        Space
		personal int
	)
	err := row.Scan(&s.Key, &s.Name, &personal, &s.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning space row: %w", err)
	}
	s.Personal = personal != 0
	return &s, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
