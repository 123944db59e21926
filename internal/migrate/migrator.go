package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"loginshield.io/internal/obs"
)

//go:embed sql/*.sql
var embedded embed.FS

// Schema returns the migrations shipped with the binary.
func Schema() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrNothingApplied is returned by Down on a fresh database.
var ErrNothingApplied = errors.New("no migrations applied")

// Migrator runs the *.up.sql files at the root of an fs.FS in lexical order
// and records each one in schema_migrations. A file and its record commit in
// the same transaction.
type Migrator struct {
	db    *sql.DB
	files fs.FS
}

func New(db *sql.DB, files fs.FS) *Migrator {
	return &Migrator{db: db, files: files}
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	for _, name := range pending {
		err := m.run(ctx, name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `insert into schema_migrations (name) values ($1)`, name)
			return err
		})
		if err != nil {
			return err
		}
		obs.Logger().Info().Str("migration", name).Msg("migration applied")
	}
	return nil
}

// Down reverts the most recently applied migration using its .down.sql twin.
func (m *Migrator) Down(ctx context.Context) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.files, down); err != nil {
		return fmt.Errorf("revert %s: %w", last, err)
	}
	err = m.run(ctx, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `delete from schema_migrations where name = $1`, last)
		return err
	})
	if err != nil {
		return err
	}
	obs.Logger().Info().Str("migration", last).Msg("migration reverted")
	return nil
}

// Applied lists applied migrations, oldest first.
func (m *Migrator) Applied(ctx context.Context) ([]string, error) {
	if err := m.init(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, `select name from schema_migrations order by applied_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Pending lists migrations not yet applied, in the order Up would run them.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	// fs.Glob returns names sorted.
	all, err := fs.Glob(m.files, "*.up.sql")
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, name := range all {
		if !done[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

func (m *Migrator) init(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `create table if not exists schema_migrations (
		name       text primary key,
		applied_at timestamptz not null default now()
	)`)
	return err
}

func (m *Migrator) run(ctx context.Context, name string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(m.files, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range statements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("%s: record: %w", name, err)
	}
	return tx.Commit()
}

// statements splits a script on semicolons that sit outside single-quoted
// literals. Fragments are trimmed and empty ones dropped.
func statements(script string) []string {
	var out []string
	quoted := false
	start := 0
	for i := 0; i < len(script); i++ {
		switch script[i] {
		case '\'':
			quoted = !quoted
		case ';':
			if quoted {
				continue
			}
			if s := strings.TrimSpace(script[start:i]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(script[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
