package checkpoint

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

// dbAdapter is the minimal surface PostgresStore needs from a database handle.
type dbAdapter interface {
	Query(ctx context.Context, query string) (dbRows, error)
	Exec(ctx context.Context, query string) error
	Close() error
}

// dbRows defines the interface for query result rows
type dbRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// pgxAdapter implements dbAdapter for pgxpool.Pool.
type pgxAdapter struct {
	pool *pgxpool.Pool
}

func (p *pgxAdapter) Query(ctx context.Context, query string) (dbRows, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

func (p *pgxAdapter) Exec(ctx context.Context, query string) error {
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *pgxAdapter) Close() error {
	p.pool.Close()
	return nil
}

// pgxRows wraps pgx.Rows to implement the dbRows interface.
type pgxRows struct {
	rows pgx.Rows
}

func (p *pgxRows) Next() bool             { return p.rows.Next() }
func (p *pgxRows) Scan(dest ...any) error { return p.rows.Scan(dest...) }
func (p *pgxRows) Err() error             { return p.rows.Err() }
func (p *pgxRows) Close() error {
	p.rows.Close()
	return nil
}

// sqlxAdapter implements dbAdapter for sqlx.DB.
type sqlxAdapter struct {
	db *sqlx.DB
}

func (s *sqlxAdapter) Query(ctx context.Context, query string) (dbRows, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *sqlxAdapter) Exec(ctx context.Context, query string) error {
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *sqlxAdapter) Close() error {
	return s.db.Close()
}
