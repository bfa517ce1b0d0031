package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidTable  = errors.New("invalid table name")
	ErrUnknownField  = errors.New("unknown field")
	ErrReadOnlyField = errors.New("read-only field")
	ErrDuplicate     = errors.New("record already exists")
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,54}$`)

// ValidTable reports whether name can be used as a topic table. The length
// limit leaves room for the "_changes" channel suffix.
func ValidTable(name string) bool { return tableName.MatchString(name) }

// Options describe how to reach the record store. URL is a PostgreSQL DSN;
// the other fields override what the DSN carries when set.
type Options struct {
	URL       string
	Namespace string // schema placed first on the search_path
	Database  string
	User      string
	Password  string
	Token     string // sent as the password, wins over Password
	MaxConns  int32
}

// Store is a connection to the record store.
type Store struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

func New(db *pgxpool.Pool, log *zap.Logger) *Store { return &Store{db: db, log: log} }

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, opts Options, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if opts.Database != "" {
		cfg.ConnConfig.Database = opts.Database
	}
	if opts.User != "" {
		cfg.ConnConfig.User = opts.User
	}
	switch {
	case opts.Token != "":
		cfg.ConnConfig.Password = opts.Token
	case opts.Password != "":
		cfg.ConnConfig.Password = opts.Password
	}
	if opts.Namespace != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = opts.Namespace + ",public"
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = "fscmd"
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping store %s: %w", cfg.ConnConfig.Host, err)
	}
	return New(pool, log), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() { s.db.Close() }

const commandColumns = `id, action, coalesce(cmd, ''), coalesce(args, ''), coalesce(uuid, ''),
	coalesce(cause, ''), coalesce(uuid_a, ''), coalesce(uuid_b, ''), coalesce(file, ''),
	coalesce(legs, ''), status, claimed_at, processed_at, coalesce(result, '')`

func scanCommand(table string, row pgx.Row) (domain.Command, error) {
	var (
		c      domain.Command
		key    string
		status string
	)
	err := row.Scan(&key, &c.Action, &c.Cmd, &c.Args, &c.UUID, &c.Cause, &c.UUIDA, &c.UUIDB,
		&c.File, &c.Legs, &status, &c.ClaimedAt, &c.ProcessedAt, &c.Result)
	if err != nil {
		return domain.Command{}, err
	}
	c.ID = domain.RecordID{Table: table, Key: key}
	c.Status = domain.Status(status)
	return c, nil
}

func ident(table string) (string, error) {
	if !ValidTable(table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

// Pending returns up to limit records whose status is new, in no particular
// order. Rows that cannot be decoded are skipped with a warning.
func (s *Store) Pending(ctx context.Context, table string, limit int) ([]domain.Command, error) {
	t, err := ident(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+commandColumns+` FROM `+t+` WHERE lower(status) = 'new' LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Command
	for rows.Next() {
		c, err := scanCommand(table, rows)
		if err != nil {
			s.log.Warn("skipping undecodable row", zap.String("table", table), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// List returns the most recently created records of a table.
func (s *Store) List(ctx context.Context, table string, limit int) ([]domain.Command, error) {
	t, err := ident(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+commandColumns+` FROM `+t+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Command{}
	for rows.Next() {
		c, err := scanCommand(table, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id domain.RecordID) (domain.Command, error) {
	t, err := ident(id.Table)
	if err != nil {
		return domain.Command{}, err
	}
	c, err := scanCommand(id.Table, s.db.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM `+t+` WHERE id = $1`, id.Key))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Command{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return c, err
}

// CreateTopic makes sure a command table with the change trigger exists.
func (s *Store) CreateTopic(ctx context.Context, table string) error {
	if !ValidTable(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	if _, err := s.db.Exec(ctx, `SELECT fscmd_create_topic($1)`, table); err != nil {
		return fmt.Errorf("create topic %s: %w", table, err)
	}
	return nil
}

// Insert persists a new record as produced by an operator.
func (s *Store) Insert(ctx context.Context, c domain.Command) error {
	t, err := ident(c.ID.Table)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO `+t+` (
id, action, cmd, args, uuid, cause, uuid_a, uuid_b, file, legs, status
) VALUES ($1, $2, nullif($3, ''), nullif($4, ''), nullif($5, ''), nullif($6, ''),
nullif($7, ''), nullif($8, ''), nullif($9, ''), nullif($10, ''), $11)`,
		c.ID.Key, c.Action, c.Cmd, c.Args, c.UUID, c.Cause, c.UUIDA, c.UUIDB, c.File, c.Legs, string(c.Status),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", c.ID, ErrDuplicate)
	}
	return err
}

// Claim moves a record to processing. With conditional set the write only
// applies while the record is still new, so a false result means someone
// else holds it. Without it the write is unconditional and false only means
// the record no longer exists.
func (s *Store) Claim(ctx context.Context, id domain.RecordID, conditional bool) (bool, error) {
	t, err := ident(id.Table)
	if err != nil {
		return false, err
	}
	sql := `UPDATE ` + t + ` SET status = 'processing', claimed_at = now() WHERE id = $1`
	if conditional {
		sql += ` AND lower(status) = 'new'`
	}
	tag, err := s.db.Exec(ctx, sql, id.Key)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ack writes the terminal status, the processing time (unix seconds) and the
// result text. The write is unconditional.
func (s *Store) Ack(ctx context.Context, id domain.RecordID, status domain.Status, processedAt time.Time, result string) error {
	t, err := ident(id.Table)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`UPDATE `+t+` SET status = $2, processed_at = $3, result = $4 WHERE id = $1`,
		id.Key, string(status), processedAt.Unix(), result)
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

var patchColumns = map[string]string{
	"action":      "action",
	"cmd":         "cmd",
	"args":        "args",
	"uuid":        "uuid",
	"cause":       "cause",
	"uuidA":       "uuid_a",
	"uuidB":       "uuid_b",
	"file":        "file",
	"legs":        "legs",
	"status":      "status",
	"result":      "result",
	"processedAt": "processed_at",
}

// Patch merges fields (keyed by their JSON names) into a record and returns
// the updated record. A null value clears the column.
func (s *Store) Patch(ctx context.Context, id domain.RecordID, fields map[string]any) (domain.Command, error) {
	t, err := ident(id.Table)
	if err != nil {
		return domain.Command{}, err
	}
	if len(fields) == 0 {
		return s.Get(ctx, id)
	}

	sets := make([]string, 0, len(fields))
	args := []any{id.Key}
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		col, ok := patchColumns[name]
		if !ok {
			if name == "id" || name == "claimedAt" {
				return domain.Command{}, fmt.Errorf("%w: %s", ErrReadOnlyField, name)
			}
			return domain.Command{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		v := fields[name]
		if f, isFloat := v.(float64); isFloat && col == "processed_at" {
			v = int64(f)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	c, err := scanCommand(id.Table, s.db.QueryRow(ctx,
		`UPDATE `+t+` SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+commandColumns, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Command{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return c, err
}
