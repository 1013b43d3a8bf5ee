package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DoyleJ11/guess-who-backend/internal/engine"
)

// Schema expected by Postgres. traits is a flat jsonb object of string values.
const Schema = `
CREATE TABLE IF NOT EXISTS characters (
	set_id       text  NOT NULL,
	character_id text  NOT NULL,
	traits       jsonb NOT NULL DEFAULT '{}',
	PRIMARY KEY (set_id, character_id)
)`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Postgres struct {
	db querier
}

// Connect opens a pool and makes sure the characters table exists.
func Connect(ctx context.Context, databaseURL string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping catalog db: %w", err)
	}
	p := NewPostgres(pool)
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return p, pool, nil
}

func NewPostgres(db querier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Characters(ctx context.Context, setID string) ([]engine.Character, error) {
	rows, err := p.db.Query(ctx,
		`SELECT character_id, traits FROM characters WHERE set_id = $1 ORDER BY character_id`, setID)
	if err != nil {
		return nil, engine.Errorf(engine.KindCatalogUnavailable, "query set %q: %v", setID, err)
	}
	chars, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (engine.Character, error) {
		var c engine.Character
		err := row.Scan(&c.ID, &c.Traits)
		return c, err
	})
	if err != nil {
		return nil, engine.Errorf(engine.KindCatalogUnavailable, "read set %q: %v", setID, err)
	}
	if len(chars) == 0 {
		return nil, engine.Errorf(engine.KindCatalogUnavailable, "unknown character set %q", setID)
	}
	return chars, nil
}

// Seed upserts a set, used to load the embedded sets into an empty database.
func (p *Postgres) Seed(ctx context.Context, setID string, chars []engine.Character) error {
	for _, c := range chars {
		_, err := p.db.Exec(ctx,
			`INSERT INTO characters (set_id, character_id, traits) VALUES ($1, $2, $3)
			 ON CONFLICT (set_id, character_id) DO UPDATE SET traits = EXCLUDED.traits`,
			setID, c.ID, c.Traits)
		if err != nil {
			return fmt.Errorf("seed %s/%s: %w", setID, c.ID, err)
		}
	}
	return nil
}
