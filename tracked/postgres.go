package tracked

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresBackend stores entries in tracked_broadcasters.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend { return &PostgresBackend{db: db} }

func (p *PostgresBackend) Load(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT identity, announce_template, created_at FROM tracked_broadcasters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Identity, &e.Template, &e.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) Insert(ctx context.Context, e Entry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO tracked_broadcasters(identity, announce_template, created_at) VALUES($1,$2,$3)`,
		e.Identity, e.Template, e.AddedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, e.Identity)
	}
	if err != nil {
		return fmt.Errorf("insert tracked broadcaster: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Delete(ctx context.Context, identity string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM tracked_broadcasters WHERE identity=$1`, identity)
	if err != nil {
		return fmt.Errorf("delete tracked broadcaster: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotTracked, identity)
	}
	return nil
}
