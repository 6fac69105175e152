package livequery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

// Execer runs DDL. *pgx.Conn, *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const notifyFunction = "livequery_notify"

// TriggerName is the name of the trigger InstallTrigger creates for channel.
func TriggerName(channel string) string { return "livequery_" + channel }

// TriggerSQL returns the DDL InstallTrigger runs. The notify function is
// shared by every table in the schema; the channel is passed as a trigger
// argument. Payloads over 8000 bytes are rejected by Postgres and fail the
// writing statement.
func TriggerSQL(channel string, t tablequery.Table) string {
	fn := pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(notifyFunction)
	trg := pq.QuoteIdentifier(TriggerName(channel))
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger
LANGUAGE plpgsql AS $fn$
BEGIN
  PERFORM pg_notify(TG_ARGV[0], json_build_object(
    'op', TG_OP,
    'schema', TG_TABLE_SCHEMA,
    'table', TG_TABLE_NAME,
    'old', CASE WHEN TG_OP IN ('UPDATE', 'DELETE') THEN row_to_json(OLD) END,
    'new', CASE WHEN TG_OP IN ('INSERT', 'UPDATE') THEN row_to_json(NEW) END
  )::text);
  RETURN NULL;
END
$fn$;
DROP TRIGGER IF EXISTS %[2]s ON %[3]s;
CREATE TRIGGER %[2]s
AFTER INSERT OR UPDATE OR DELETE ON %[3]s
FOR EACH ROW EXECUTE FUNCTION %[1]s(%[4]s);`,
		fn, trg, t.Ident(), pq.QuoteLiteral(channel))
}

// InstallTrigger makes every row change on t publish a ChangeNotification on
// channel. It replaces an earlier trigger for the same channel.
func InstallTrigger(ctx context.Context, db Execer, channel string, t tablequery.Table) error {
	if channel == "" {
		return fmt.Errorf("livequery: empty channel name")
	}
	if _, err := db.Exec(ctx, TriggerSQL(channel, t)); err != nil {
		return fmt.Errorf("install trigger on %s: %w", t, err)
	}
	return nil
}

// DropTrigger removes the trigger InstallTrigger created. The shared notify
// function is left in place.
func DropTrigger(ctx context.Context, db Execer, channel string, t tablequery.Table) error {
	sql := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", pq.QuoteIdentifier(TriggerName(channel)), t.Ident())
	if _, err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("drop trigger on %s: %w", t, err)
	}
	return nil
}
