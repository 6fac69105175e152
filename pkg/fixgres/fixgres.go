// Package fixgres provides throwaway PostgreSQL databases for tests.
//
// One container is started per test binary (or LIVETABLE_TEST_DATABASE_URL is
// used instead) and every NewSandbox call gets its own database, created from
// SQL or goose migrations and dropped when the test ends.
package fixgres

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// EnvDatabaseURL points the sandboxes at an existing server instead of a
// container. The role needs CREATEDB.
const EnvDatabaseURL = "LIVETABLE_TEST_DATABASE_URL"

type config struct {
	image    string
	dbName   string
	user     string
	password string
}

type Option func(*config)

func WithImage(i string) Option    { return func(c *config) { c.image = i } }
func WithDBName(n string) Option   { return func(c *config) { c.dbName = n } }
func WithUser(u string) Option     { return func(c *config) { c.user = u } }
func WithPassword(p string) Option { return func(c *config) { c.password = p } }

var (
	once      sync.Once
	bootErr   error
	pg        *postgres.PostgresContainer
	mu        sync.Mutex
	adminDSN  string
	gooseLock sync.Mutex
)

// Boot starts the shared server. It is safe to call repeatedly; only the
// first call's options apply. NewSandbox calls it with defaults.
func Boot(ctx context.Context, opts ...Option) error {
	once.Do(func() {
		if url := os.Getenv(EnvDatabaseURL); url != "" {
			adminDSN = url
			return
		}

		c := &config{
			image:    "docker.io/postgres:16-alpine",
			dbName:   "app",
			user:     "postgres",
			password: "pass",
		}
		for _, o := range opts {
			o(c)
		}
		bootErr = boot(ctx, c)
	})
	return bootErr
}

func boot(ctx context.Context, c *config) (err error) {
	defer func() {
		// testcontainers panics when no docker daemon can be found
		if r := recover(); r != nil {
			err = fmt.Errorf("start container: %v", r)
		}
	}()

	container, err := postgres.Run(ctx,
		c.image,
		postgres.WithDatabase(c.dbName),
		postgres.WithUsername(c.user),
		postgres.WithPassword(c.password),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return err
	}

	mu.Lock()
	pg = container
	mu.Unlock()

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return err
	}
	adminDSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.user, c.password, host, port.Port(), c.dbName,
	)
	return nil
}

// ShutdownNow terminates the container, if one was started.
func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := pg.Terminate(ctx)
	pg = nil
	return err
}

type sandboxConfig struct {
	sql     []string
	migFS   fs.FS
	migDir  string
	maxConn int32
}

// SandboxOption configures a single sandbox database.
type SandboxOption func(*sandboxConfig)

// WithSQL runs stmt against the fresh database before the test sees it.
func WithSQL(stmt string) SandboxOption {
	return func(c *sandboxConfig) { c.sql = append(c.sql, stmt) }
}

// WithGooseUp applies the goose migrations found in dir of migFS.
func WithGooseUp(migFS fs.FS, dir string) SandboxOption {
	return func(c *sandboxConfig) {
		c.migFS = migFS
		c.migDir = dir
	}
}

// WithMaxConns caps the sandbox pool size.
func WithMaxConns(n int32) SandboxOption {
	return func(c *sandboxConfig) { c.maxConn = n }
}
