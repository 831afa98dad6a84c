package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tutorbff/pkg/generator"
)

// MySQLStore persists sessions in the bff_sessions table so they survive
// restarts. Queries stick to portable SQL.
type MySQLStore struct {
	DB  *sql.DB
	now func() time.Time
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{DB: db, now: time.Now}
}

func (r *MySQLStore) Create(ctx context.Context, s Session) (string, error) {
	if !s.valid() {
		return "", fmt.Errorf("session: missing sid or credentials")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}

	ref, err := generator.GenerateToken(generator.TokenBytes)
	if err != nil {
		return "", err
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO bff_sessions (id, sid, data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, ref, s.ID, data, r.now().UnixMilli(), s.ExpiresAt)
	if err != nil {
		return "", fmt.Errorf("session: insert: %w", err)
	}
	return ref, nil
}

func (r *MySQLStore) Get(ctx context.Context, ref string) (*Session, error) {
	var data []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT data FROM bff_sessions
		WHERE id = ? AND (expires_at = 0 OR expires_at > ?)
	`, ref, r.now().UnixMilli()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: select: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Update relies on clientFoundRows=true (set by internal/mysql) so that
// RowsAffected counts matched rows rather than changed rows.
func (r *MySQLStore) Update(ctx context.Context, ref string, s Session) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE bff_sessions SET data = ?, expires_at = ?
		WHERE id = ?
	`, data, s.ExpiresAt, ref)
	if err != nil {
		return "", fmt.Errorf("session: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("session: update: %w", err)
	}
	if n == 0 {
		return "", ErrNotFound
	}
	return ref, nil
}

func (r *MySQLStore) Delete(ctx context.Context, ref string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM bff_sessions WHERE id = ?`, ref); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (r *MySQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM bff_sessions WHERE expires_at <> 0 AND expires_at <= ?
	`, r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("session: delete expired: %w", err)
	}
	return res.RowsAffected()
}
