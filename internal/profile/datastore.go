package profile

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DBTX is the interface for database operations.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const profileColumns = `id, email, username, avatar_url, bio, skin_type, skin_concerns, created_at, updated_at`

// Datastore handles database operations for profiles.
type Datastore struct {
	db  DBTX
	now func() time.Time
}

// NewDatastore creates a new profile datastore.
func NewDatastore(db DBTX) *Datastore {
	return &Datastore{db: db, now: time.Now}
}

// GetByID retrieves a profile by user ID. Returns sql.ErrNoRows when absent.
func (ds *Datastore) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	return scanProfile(ds.db.QueryRowContext(ctx, query, id))
}

// Upsert inserts the profile or, when a row with the same id exists,
// overwrites email plus whichever optional columns are present.
func (ds *Datastore) Upsert(ctx context.Context, u Upsert) (*Profile, error) {
	now := ds.now()

	columns := []string{"id", "email"}
	args := []any{u.ID, u.Email}
	add := func(col string, v any) {
		columns = append(columns, col)
		args = append(args, v)
	}

	if v, ok := u.Username.Get(); ok {
		add("username", v)
	}
	if v, ok := u.AvatarURL.Get(); ok {
		add("avatar_url", v)
	}
	if v, ok := u.Bio.Get(); ok {
		add("bio", v)
	}
	if v, ok := u.SkinType.Get(); ok {
		add("skin_type", pq.Array(v))
	}
	if v, ok := u.SkinConcerns.Get(); ok {
		add("skin_concerns", pq.Array(v))
	}

	updates := make([]string, 0, len(columns))
	for _, col := range columns[1:] {
		updates = append(updates, col+" = EXCLUDED."+col)
	}
	updates = append(updates, "updated_at = EXCLUDED.updated_at")

	add("created_at", now)
	add("updated_at", now)

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := `
		INSERT INTO profiles (` + strings.Join(columns, ", ") + `)
		VALUES (` + strings.Join(placeholders, ", ") + `)
		ON CONFLICT (id)
		DO UPDATE SET ` + strings.Join(updates, ", ") + `
		RETURNING ` + profileColumns

	return scanProfile(ds.db.QueryRowContext(ctx, query, args...))
}

func scanProfile(row *sql.Row) (*Profile, error) {
	p := &Profile{}
	err := row.Scan(
		&p.ID, &p.Email, &p.Username, &p.AvatarURL, &p.Bio,
		pq.Array(&p.SkinType), pq.Array(&p.SkinConcerns),
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
