package directory

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres lists the conversations a user is a member of.
//
// Expected tables (schema default "gymchat"):
//
//	conversations(id TEXT PK, kind TEXT, title TEXT NULL)
//	conversation_members(conversation_id TEXT, user_id TEXT)
//
// Postgres does not own the pool.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
	userID string
}

var _ Directory = (*Postgres)(nil)

// PostgresOption configures Postgres.
type PostgresOption func(*Postgres) error

// WithSchema sets the DB schema (default: "gymchat").
func WithSchema(schema string) PostgresOption {
	return func(p *Postgres) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("directory: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("directory: invalid schema identifier")
		}
		p.schema = schema
		return nil
	}
}

// NewPostgres constructs a directory scoped to userID's memberships.
func NewPostgres(pool *pgxpool.Pool, userID string, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{
		pool:   pool,
		schema: "gymchat",
		userID: strings.TrimSpace(userID),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, errors.New("directory: nil pool")
	}
	if p.userID == "" {
		return nil, errors.New("directory: empty user id")
	}
	return p, nil
}

func (p *Postgres) selectSQL() string {
	conversations := pgIdent(p.schema, "conversations")
	members := pgIdent(p.schema, "conversation_members")
	return `SELECT c.id, c.kind, COALESCE(c.title, '')
		FROM ` + conversations + ` c
		JOIN ` + members + ` m ON m.conversation_id = c.id
		WHERE m.user_id = $1`
}

// List implements Directory.
func (p *Postgres) List(ctx context.Context) ([]Room, error) {
	if p == nil || p.pool == nil {
		return nil, errors.New("directory: nil postgres directory")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, p.selectSQL()+` ORDER BY c.id`, p.userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup implements Directory. Rooms the user is not a member of are ErrNotFound.
func (p *Postgres) Lookup(ctx context.Context, id string) (Room, error) {
	if p == nil || p.pool == nil {
		return Room{}, errors.New("directory: nil postgres directory")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Room{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	r, err := scanRoom(p.pool.QueryRow(ctx, p.selectSQL()+` AND c.id = $2`, p.userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, err
	}
	return r, nil
}

func scanRoom(row pgx.Row) (Room, error) {
	var r Room
	if err := row.Scan(&r.ID, &r.ChannelType, &r.Title); err != nil {
		return Room{}, err
	}
	r.ChannelID = r.ID
	return r, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
