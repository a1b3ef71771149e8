package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PGStore is a TokenSource backed by Postgres, for headless deployments
// where the credential lives outside the process.
type PGStore struct {
	db        *sqlx.DB
	accountID string
	mem       *MemoryStore
}

// ConnectPG opens the database, ensures the credentials table exists and
// returns a store scoped to one account.
func ConnectPG(dsn, accountID string) (*PGStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect credentials db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS credentials (
        account_id TEXT PRIMARY KEY,
        bearer_token TEXT NOT NULL,
        updated_at TIMESTAMPTZ DEFAULT NOW()
    );`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credentials table: %w", err)
	}

	return &PGStore{db: db, accountID: accountID, mem: NewMemoryStore("")}, nil
}

// Token reads the stored token for the account, caching the last seen value
// for watchers. A missing row is ErrNoToken.
func (s *PGStore) Token(ctx context.Context) (string, error) {
	var token string
	err := s.db.GetContext(ctx, &token,
		`SELECT bearer_token FROM credentials WHERE account_id = $1`, s.accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}

	if prev, _ := s.mem.Token(ctx); prev != token {
		s.mem.Set(token)
	}
	return token, nil
}

// SetToken upserts the token for the account and notifies watchers.
func (s *PGStore) SetToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (account_id, bearer_token, updated_at)
         VALUES ($1, $2, NOW())
         ON CONFLICT (account_id) DO UPDATE SET bearer_token = $2, updated_at = NOW()`,
		s.accountID, token)
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	s.mem.Set(token)
	return nil
}

// Watch returns a channel receiving token replacements observed by this process.
func (s *PGStore) Watch() <-chan string {
	return s.mem.Watch()
}

// Close releases the database connection.
func (s *PGStore) Close() error {
	return s.db.Close()
}

var _ TokenSource = (*PGStore)(nil)
var _ TokenSource = (*MemoryStore)(nil)
