package checkpoint

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_BuildUpsertQuery(t *testing.T) {
	ps := newPostgresStore(nil)
	img := sampleImage()
	data, err := Encode(img)
	require.NoError(t, err)

	query, err := ps.buildUpsertQuery("nightly", img, data)
	require.NoError(t, err)

	assert.Contains(t, query, `INSERT INTO "checkpoints"`)
	assert.Contains(t, query, `'nightly'`)
	assert.Contains(t, query, `::jsonb`)
	assert.Contains(t, query, `ON CONFLICT (name) DO UPDATE SET`)
	assert.Contains(t, query, `EXCLUDED.image`)
}

func TestPostgresStore_BuildUpsertQuery_EscapesQuotes(t *testing.T) {
	ps := newPostgresStore(nil)
	img := sampleImage()
	img.Output.Name = "it's.log"
	data, err := Encode(img)
	require.NoError(t, err)

	query, err := ps.buildUpsertQuery("o'brien", img, data)
	require.NoError(t, err)

	assert.Contains(t, query, `'o''brien'`)
	assert.Contains(t, query, `it''s.log`)
}

func TestPostgresStore_BuildSelectQuery(t *testing.T) {
	ps := newPostgresStore(nil, WithTableName("sim_checkpoints"))

	query, err := ps.buildSelectQuery("nightly")
	require.NoError(t, err)

	assert.Contains(t, query, `image::text`)
	assert.Contains(t, query, `FROM "sim_checkpoints"`)
	assert.Contains(t, query, `"name" = 'nightly'`)
	assert.True(t, strings.HasSuffix(query, "LIMIT 1"), query)
}

func TestOpenPostgresStore_UnknownDriver(t *testing.T) {
	_, err := OpenPostgresStore(context.Background(), "mysql", "dsn")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

// TestPostgresStore_Live runs against a real database when EVSIM_TEST_PG_DSN is set.
func TestPostgresStore_Live(t *testing.T) {
	dsn := os.Getenv("EVSIM_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("EVSIM_TEST_PG_DSN not set")
	}
	for _, driver := range []string{DriverPGX, DriverSQLX} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			table := "evsim_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
			ps, err := OpenPostgresStore(ctx, driver, dsn, WithTableName(table))
			require.NoError(t, err)
			defer func() {
				_ = ps.db.Exec(ctx, `DROP TABLE IF EXISTS "`+table+`"`)
				_ = ps.Close()
			}()

			img := sampleImage()
			require.NoError(t, ps.Save(ctx, "live", img))
			img.Clock = 99
			require.NoError(t, ps.Save(ctx, "live", img))

			got, err := ps.Load(ctx, "live")
			require.NoError(t, err)
			assert.Equal(t, 99.0, got.Clock)
			assert.Equal(t, img.Queue, got.Queue)

			_, err = ps.Load(ctx, "absent")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
