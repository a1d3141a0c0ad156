// Command auth manages the API keys that guard the query service's
// administrative routes. It writes to the same database the service reads
// keys from, so it is how the first key is issued.
//
// Usage:
//
//	auth [-config path] create -name ops [-ttl 720h]
//	auth [-config path] revoke -id <key-id>
//	auth [-config path] list
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/sqlsearch"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/sqlite"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: auth [-config path] create|revoke|list [flags]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()
	store, closeDB, err := open(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeDB()

	if err := run(ctx, store, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func open(ctx context.Context, cfg *config.Config) (*apikey.Store, func() error, error) {
	dialect, err := sqlsearch.DialectFor(cfg.Auth.Driver)
	if err != nil {
		return nil, nil, err
	}
	var (
		db      *sql.DB
		closeDB func() error
	)
	if dialect.Name == postgres.DriverName {
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		db, closeDB = client.DB, client.Close
	} else {
		client, err := sqlite.New(ctx, cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		db, closeDB = client.DB, client.Close
	}
	store := apikey.NewStore(db, dialect.Placeholder)
	if err := store.CreateTable(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}
	return store, closeDB, nil
}

func run(ctx context.Context, store *apikey.Store, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	name := fs.String("name", "", "key name (create)")
	ttl := fs.Duration("ttl", 0, "key lifetime, zero never expires (create)")
	id := fs.String("id", "", "key id (revoke)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch cmd {
	case "create":
		if *name == "" {
			return fmt.Errorf("create: -name is required")
		}
		raw, info, err := store.CreateKey(ctx, *name, *ttl)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "id:      %s\n", info.ID)
		fmt.Fprintf(out, "name:    %s\n", info.Name)
		if info.ExpiresAt != nil {
			fmt.Fprintf(out, "expires: %s\n", info.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "key:     %s\n", raw)
		fmt.Fprintln(out, "store the key now, it cannot be shown again")
		return nil
	case "revoke":
		if *id == "" {
			return fmt.Errorf("revoke: -id is required")
		}
		if err := store.Revoke(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(out, "revoked %s\n", *id)
		return nil
	case "list":
		keys, err := store.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCREATED\tEXPIRES")
		for _, k := range keys {
			expires := "never"
			if k.ExpiresAt != nil {
				expires = k.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.ID, k.Name, k.CreatedAt.Format(time.RFC3339), expires)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown command %q", cmd)
}
