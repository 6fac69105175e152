package fixgres

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Sandbox is a private database for one test.
type Sandbox struct {
	Pool *pgxpool.Pool
	DSN  string
	Name string
}

// NewSandbox creates a fresh database, prepares it and registers its removal
// with t.Cleanup. Tests are skipped under -short or when no server can be
// started.
func NewSandbox(t testing.TB, opts ...SandboxOption) *Sandbox {
	t.Helper()
	if testing.Short() {
		t.Skip("fixgres: skipping database test in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	if err := Boot(ctx); err != nil {
		t.Skipf("fixgres: postgres unavailable: %v", err)
	}

	cfg := &sandboxConfig{}
	for _, o := range opts {
		o(cfg)
	}

	name := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		t.Fatalf("fixgres: connect admin: %v", err)
	}
	defer admin.Close(ctx)

	if _, err := admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		t.Fatalf("fixgres: create database: %v", err)
	}

	sbx := &Sandbox{Name: name, DSN: withDatabase(adminDSN, name)}
	t.Cleanup(func() { sbx.drop(t) })

	if cfg.migFS != nil {
		if err := gooseUp(sbx.DSN, cfg); err != nil {
			t.Fatalf("fixgres: migrate: %v", err)
		}
	}

	poolCfg, err := pgxpool.ParseConfig(sbx.DSN)
	if err != nil {
		t.Fatalf("fixgres: parse dsn: %v", err)
	}
	if cfg.maxConn > 0 {
		poolCfg.MaxConns = cfg.maxConn
	}
	sbx.Pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		t.Fatalf("fixgres: open pool: %v", err)
	}

	for _, stmt := range cfg.sql {
		if _, err := sbx.Pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("fixgres: apply sql: %v", err)
		}
	}
	return sbx
}

// Connect opens a dedicated connection to the sandbox, closed at cleanup.
func (s *Sandbox) Connect(t testing.TB) *pgx.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, s.DSN)
	if err != nil {
		t.Fatalf("fixgres: connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func (s *Sandbox) drop(t testing.TB) {
	if s.Pool != nil {
		s.Pool.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		t.Logf("fixgres: drop %s: %v", s.Name, err)
		return
	}
	defer admin.Close(ctx)
	if _, err := admin.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{s.Name}.Sanitize()+" WITH (FORCE)"); err != nil {
		t.Logf("fixgres: drop %s: %v", s.Name, err)
	}
}

func gooseUp(dsn string, cfg *sandboxConfig) error {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return err
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	// goose keeps its base FS and dialect in package globals
	gooseLock.Lock()
	defer gooseLock.Unlock()

	goose.SetBaseFS(cfg.migFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, dirOrDot(cfg.migDir))
}

func dirOrDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

func withDatabase(base, name string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = "/" + name
	return u.String()
}
