package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/ids"
)

func TestPostgres_ListAndLookup_ScopedToMember(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	const admin = "admin-1"
	mustInsertRoom(t, pool, schema, "r-b", "direct", "")
	mustInsertRoom(t, pool, schema, "r-a", "group", "Spin class")
	mustInsertRoom(t, pool, schema, "r-other", "group", "Not mine")
	mustAddMember(t, pool, schema, "r-a", admin)
	mustAddMember(t, pool, schema, "r-b", admin)
	mustAddMember(t, pool, schema, "r-other", "someone-else")

	d, err := NewPostgres(pool, admin, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rooms, err := d.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ID != "r-a" || rooms[1].ID != "r-b" {
		t.Fatalf("rooms=%+v", rooms)
	}
	if rooms[0].Title != "Spin class" || rooms[0].ChannelType != "group" || rooms[0].ChannelID != "r-a" {
		t.Fatalf("rooms[0]=%+v", rooms[0])
	}

	if _, err := d.Lookup(ctx, "r-other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member room, got %v", err)
	}
	r, err := d.Lookup(ctx, "r-b")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if r.Title != "" || r.ChannelType != "direct" {
		t.Fatalf("room=%+v", r)
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("GYMCHAT_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: GYMCHAT_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping postgres: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "gymchat_it_" + strings.ToLower(ids.MustULID(time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ddl := fmt.Sprintf(`
CREATE TABLE %s (
  id    TEXT PRIMARY KEY,
  kind  TEXT NOT NULL,
  title TEXT NULL
);
CREATE TABLE %s (
  conversation_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
  user_id         TEXT NOT NULL,
  PRIMARY KEY (conversation_id, user_id)
);`,
		pgIdent(schema, "conversations"),
		pgIdent(schema, "conversation_members"),
		pgIdent(schema, "conversations"),
	)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustInsertRoom(t *testing.T, pool *pgxpool.Pool, schema, id, kind, title string) {
	t.Helper()

	var titleArg any
	if title != "" {
		titleArg = title
	}
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO `+pgIdent(schema, "conversations")+` (id, kind, title) VALUES ($1, $2, $3)`,
		id, kind, titleArg,
	); err != nil {
		t.Fatalf("insert room: %v", err)
	}
}

func mustAddMember(t *testing.T, pool *pgxpool.Pool, schema, convID, userID string) {
	t.Helper()

	if _, err := pool.Exec(context.Background(),
		`INSERT INTO `+pgIdent(schema, "conversation_members")+` (conversation_id, user_id) VALUES ($1, $2)`,
		convID, userID,
	); err != nil {
		t.Fatalf("add member: %v", err)
	}
}
