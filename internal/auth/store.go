package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

var (
	ErrEditorNotFound = errors.New("editor not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrEmailExists    = errors.New("email already exists")
)

// EditorStore persists editor accounts.
type EditorStore interface {
	CreateEditor(ctx context.Context, username, email, passwordHash, role string) (*Editor, error)
	EditorByUsername(ctx context.Context, username string) (*Editor, error)
	EditorByID(ctx context.Context, id int64) (*Editor, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

// SQLEditorStore is the PostgreSQL EditorStore over the editors table.
type SQLEditorStore struct {
	db *sql.DB
}

// NewSQLEditorStore creates an editor store backed by db.
func NewSQLEditorStore(db *sql.DB) *SQLEditorStore {
	return &SQLEditorStore{db: db}
}

func (s *SQLEditorStore) CreateEditor(ctx context.Context, username, email, passwordHash, role string) (*Editor, error) {
	editor := &Editor{Username: username, Email: email, PasswordHash: passwordHash, Role: role}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO editors (username, email, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		username, email, passwordHash, role, time.Now(),
	).Scan(&editor.ID, &editor.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == "editors_email_key" {
				return nil, ErrEmailExists
			}
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("failed to create editor: %w", err)
	}
	return editor, nil
}

func (s *SQLEditorStore) EditorByUsername(ctx context.Context, username string) (*Editor, error) {
	return s.scanEditor(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, created_at, last_login
		 FROM editors WHERE username = $1`, username))
}

func (s *SQLEditorStore) EditorByID(ctx context.Context, id int64) (*Editor, error) {
	return s.scanEditor(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, created_at, last_login
		 FROM editors WHERE id = $1`, id))
}

func (s *SQLEditorStore) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE editors SET last_login = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (s *SQLEditorStore) scanEditor(row *sql.Row) (*Editor, error) {
	var editor Editor
	var lastLogin sql.NullTime
	err := row.Scan(&editor.ID, &editor.Username, &editor.Email, &editor.PasswordHash,
		&editor.Role, &editor.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEditorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load editor: %w", err)
	}
	if lastLogin.Valid {
		editor.LastLogin = &lastLogin.Time
	}
	return &editor, nil
}

// Denylist records revoked refresh token IDs until they would have expired.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryDenylist is a process-local Denylist.
type MemoryDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{revoked: make(map[string]time.Time)}
}

func (d *MemoryDenylist) Revoke(_ context.Context, tokenID string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, exp := range d.revoked {
		if now.After(exp) {
			delete(d.revoked, id)
		}
	}
	d.revoked[tokenID] = until
	return nil
}

func (d *MemoryDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	until, ok := d.revoked[tokenID]
	return ok && time.Now().Before(until), nil
}
