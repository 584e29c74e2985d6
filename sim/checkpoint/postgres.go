package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // database/sql driver used by the sqlx adapter
	"github.com/sirupsen/logrus"
)

const (
	defaultTableName = "checkpoints"
	dialectPostgres  = "postgres"

	colName    = "name"
	colRunID   = "run_id"
	colSimTime = "sim_time"
	colImage   = "image"
	colSavedAt = "saved_at"
)

// Driver names accepted by OpenPostgresStore.
const (
	DriverPGX  = "pgx"
	DriverSQLX = "sqlx"
)

// ErrUnknownDriver is returned for a driver name other than DriverPGX or DriverSQLX.
var ErrUnknownDriver = errors.New("unknown postgres driver")

// PostgresStore keeps images in a PostgreSQL table, one row per name.
type PostgresStore struct {
	db        dbAdapter
	tableName string
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTableName overrides the default "checkpoints" table.
func WithTableName(name string) PostgresOption {
	return func(ps *PostgresStore) {
		ps.tableName = name
	}
}

func newPostgresStore(db dbAdapter, opts ...PostgresOption) *PostgresStore {
	ps := &PostgresStore{db: db, tableName: defaultTableName}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// NewPostgresStoreFromPGXPool creates a store on top of a pgx pool.
func NewPostgresStoreFromPGXPool(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	return newPostgresStore(&pgxAdapter{pool: pool}, opts...)
}

// NewPostgresStoreFromSQLX creates a store on top of a sqlx handle.
func NewPostgresStoreFromSQLX(db *sqlx.DB, opts ...PostgresOption) *PostgresStore {
	return newPostgresStore(&sqlxAdapter{db: db}, opts...)
}

// OpenPostgresStore connects with the named driver and makes sure the table exists.
func OpenPostgresStore(ctx context.Context, driver, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	var ps *PostgresStore
	switch driver {
	case DriverPGX, "":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		ps = NewPostgresStoreFromPGXPool(pool, opts...)
	case DriverSQLX:
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		ps = NewPostgresStoreFromSQLX(db, opts...)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
	if err := ps.EnsureSchema(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return ps, nil
}

// EnsureSchema creates the checkpoint table if it does not exist.
func (ps *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
	%s text PRIMARY KEY,
	%s text NOT NULL,
	%s double precision NOT NULL,
	%s jsonb NOT NULL,
	%s timestamptz NOT NULL
)`, ps.tableName, colName, colRunID, colSimTime, colImage, colSavedAt)
	if err := ps.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating checkpoint table: %w", err)
	}
	return nil
}

// Save upserts img under name.
func (ps *PostgresStore) Save(ctx context.Context, name string, img *Image) error {
	data, err := Encode(img)
	if err != nil {
		return err
	}
	query, err := ps.buildUpsertQuery(name, img, data)
	if err != nil {
		return err
	}
	if err := ps.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", name, err)
	}
	logrus.Debugf("checkpoint %s saved to table %s (%d bytes)", name, ps.tableName, len(data))
	return nil
}

// Load fetches the image stored under name.
func (ps *PostgresStore) Load(ctx context.Context, name string) (*Image, error) {
	query, err := ps.buildSelectQuery(name)
	if err != nil {
		return nil, err
	}
	rows, err := ps.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", name, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.Warnf("failed to close checkpoint rows: %v", closeErr)
		}
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("loading checkpoint %s: %w", name, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var data string
	if err := rows.Scan(&data); err != nil {
		return nil, fmt.Errorf("scanning checkpoint %s: %w", name, err)
	}
	return Decode([]byte(data))
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

func (ps *PostgresStore) buildUpsertQuery(name string, img *Image, data []byte) (string, error) {
	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(ps.tableName).
		Rows(goqu.Record{
			colName:    name,
			colRunID:   img.RunID,
			colSimTime: img.Clock,
			colImage:   goqu.L("?::jsonb", string(data)),
			colSavedAt: goqu.L("NOW()"),
		}).
		OnConflict(goqu.DoUpdate(colName, goqu.Record{
			colRunID:   goqu.L("EXCLUDED." + colRunID),
			colSimTime: goqu.L("EXCLUDED." + colSimTime),
			colImage:   goqu.L("EXCLUDED." + colImage),
			colSavedAt: goqu.L("EXCLUDED." + colSavedAt),
		}))

	sqlQuery, _, err := insertStmt.ToSQL()
	if err != nil {
		return "", fmt.Errorf("building checkpoint upsert: %w", err)
	}
	return sqlQuery, nil
}

func (ps *PostgresStore) buildSelectQuery(name string) (string, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(ps.tableName).
		Select(goqu.L(colImage + "::text")).
		Where(goqu.Ex{colName: name}).
		Limit(1)

	sqlQuery, _, err := selectStmt.ToSQL()
	if err != nil {
		return "", fmt.Errorf("building checkpoint select: %w", err)
	}
	return sqlQuery, nil
}
