package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/zoravur/postgres-live-table/pkg/livequery"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

var (
	triggerTables  []string
	triggerChannel string
	triggerDryRun  bool
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Manage the change notification triggers",
	Long: `Tables only produce change events once the notify trigger is installed on
them. The trigger publishes every insert, update and delete on the configured
channel (live.channel) unless --channel says otherwise.`,
}

var triggerInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the notify trigger on tables",
	Example: `  livetable trigger install --table public.orders --table public.customers

  # Print the DDL instead of running it
  livetable trigger install --table orders --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrigger(cmd.Context(), "installed", livequery.InstallTrigger)
	},
}

var triggerDropCmd = &cobra.Command{
	Use:     "drop",
	Short:   "Remove the notify trigger from tables",
	Example: `  livetable trigger drop --table public.orders`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrigger(cmd.Context(), "dropped", livequery.DropTrigger)
	},
}

func init() {
	for _, c := range []*cobra.Command{triggerInstallCmd, triggerDropCmd} {
		c.Flags().StringSliceVarP(&triggerTables, "table", "t", nil, "table as schema.table or table (repeatable)")
		c.Flags().StringVar(&triggerChannel, "channel", "", "notification channel (default: live.channel)")
		_ = c.MarkFlagRequired("table")
		triggerCmd.AddCommand(c)
	}
	triggerInstallCmd.Flags().BoolVar(&triggerDryRun, "dry-run", false, "print the DDL without applying it")
}

func parseTable(s string) (tablequery.Table, error) {
	schema, name, ok := strings.Cut(s, ".")
	if !ok {
		schema, name = "public", s
	}
	if schema == "" || name == "" {
		return tablequery.Table{}, fmt.Errorf("invalid table %q", s)
	}
	return tablequery.Table{Schema: schema, Name: name}, nil
}

type triggerFunc func(ctx context.Context, db livequery.Execer, channel string, t tablequery.Table) error

func runTrigger(ctx context.Context, verb string, apply triggerFunc) error {
	channel := triggerChannel
	if channel == "" {
		channel = cfg.Live.Channel
	}

	tables := make([]tablequery.Table, 0, len(triggerTables))
	for _, s := range triggerTables {
		t, err := parseTable(s)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}

	if triggerDryRun {
		for _, t := range tables {
			fmt.Println(livequery.TriggerSQL(channel, t))
		}
		return nil
	}

	if cfg.Database.URL == "" {
		return configError("invalid configuration", errors.New("database.url is required"))
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return dbConnectError("connecting to database", err)
	}
	defer conn.Close(context.Background())

	for _, t := range tables {
		if err := apply(ctx, conn, channel, t); err != nil {
			return err
		}
		fmt.Printf("Trigger %s on %s (channel %s)\n", verb, t, channel)
	}
	return nil
}
