package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// Manager executes SQL migrations and seed files. Both sources are plain
// fs.FS values so the embedded copies and a directory on disk work the same.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	logf            func(format string, args ...any)
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithLogf reports every applied file through logf.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(m *Manager) {
		if logf != nil {
			m.logf = logf
		}
	}
}

// NewManager constructs a Manager. seeds may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		logf:            func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every .up.sql file not yet recorded, in file name order. Each
// file and its bookkeeping row commit together.
func (m *Manager) Up(ctx context.Context) error {
	applied, err := m.prepare(ctx, m.migrationsTable)
	if err != nil {
		return err
	}
	files, err := index(m.migrations)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	for _, name := range files.names(".up.sql") {
		if done[name] {
			continue
		}
		record := fmt.Sprintf(`insert into %s (name) values ($1)`, m.migrationsTable)
		if err := m.run(ctx, m.migrations, files[name], record, name); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		m.logf("applied migration %s", name)
	}
	return nil
}

// Down reverts the most recently applied migration using its .down.sql twin.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.prepare(ctx, m.migrationsTable)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	files, err := index(m.migrations)
	if err != nil {
		return err
	}
	down, ok := files[strings.TrimSuffix(last, ".up.sql")+".down.sql"]
	if !ok {
		return fmt.Errorf("missing down migration for %s", last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	if err := m.run(ctx, m.migrations, down, forget, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	m.logf("rolled back migration %s", last)
	return nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	return m.prepare(ctx, m.migrationsTable)
}

// Seed applies seed files that have not run before.
func (m *Manager) Seed(ctx context.Context) error {
	applied, err := m.prepare(ctx, m.seedsTable)
	if err != nil {
		return err
	}
	files, err := index(m.seeds)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	for _, name := range files.names(".sql") {
		if done[name] {
			continue
		}
		record := fmt.Sprintf(`insert into %s (name) values ($1)`, m.seedsTable)
		if err := m.run(ctx, m.seeds, files[name], record, name); err != nil {
			return fmt.Errorf("apply seed %s: %w", name, err)
		}
		m.logf("applied seed %s", name)
	}
	return nil
}

// prepare creates both bookkeeping tables and returns the names recorded in
// table, oldest first.
func (m *Manager) prepare(ctx context.Context, table string) ([]string, error) {
	for _, t := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, t)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("create %s: %w", t, err)
		}
	}

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
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

// run executes the statements of file and then bookkeeping(name) in one
// transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, file, bookkeeping, name string) error {
	raw, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, name); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlFiles maps a file's base name to its path inside the source FS.
type sqlFiles map[string]string

func index(fsys fs.FS) (sqlFiles, error) {
	files := sqlFiles{}
	if fsys == nil {
		return files, nil
	}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".sql") {
			files[path.Base(p)] = p
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	return files, err
}

// names returns the base names ending in suffix, sorted. Seeds use ".sql" and
// so pick up every file.
func (f sqlFiles) names(suffix string) []string {
	var out []string
	for name := range f {
		if strings.HasSuffix(name, suffix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// splitStatements cuts a script at top-level semicolons. Quoted strings
// (with doubled-quote escapes) and -- comments are respected; empty statements and
// comment-only trailers are dropped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && s != ";" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
			continue
		case !quoted && c == '-' && i+1 < len(script) && script[i+1] == '-':
			comment = true
			i++
			continue
		case c == '\'':
			quoted = !quoted
		case c == ';' && !quoted:
			cur.WriteByte(c)
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return stmts
}
