package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unisonfm/unison/internal/dbconfig"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
    id           UUID PRIMARY KEY,
    room_id      TEXT        NOT NULL,
    name         TEXT        NOT NULL,
    content_type TEXT        NOT NULL DEFAULT '',
    size_bytes   BIGINT      NOT NULL DEFAULT 0,
    ref          TEXT        NOT NULL,
    metadata     JSONB,
    uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS tracks_room_id_idx ON tracks (room_id, uploaded_at DESC);
`

func main() {
	cfg := dbconfig.NewConfigFromEnv()

	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(context.Background(), schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("schema applied to %s@%s:%d/%s\n", cfg.User, cfg.Host, cfg.Port, cfg.Database)
}
