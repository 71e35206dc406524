package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stokerhq/stoker/internal"
)

type initDBOptions struct {
	host           string
	port           int
	database       string
	user           string
	password       string
	sslMode        string
	documentsTable string
}

func runInitDB(args []string) error {
	flags := flag.NewFlagSet("init-db", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: stoker-tools init-db [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := initDBOptions{}
	flags.StringVar(&opts.host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flags.IntVar(&opts.port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flags.StringVar(&opts.database, "db-name", getenvDefault("DB_NAME", "stoker"), "database name")
	flags.StringVar(&opts.user, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flags.StringVar(&opts.password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flags.StringVar(&opts.sslMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flags.StringVar(&opts.documentsTable, "documents-table", getenvDefault("DOCUMENTS_TABLE", "stoker_documents"), "documents table name")
	if err := flags.Parse(args); err != nil {
		return err
	}

	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		opts.host, opts.port, opts.database, opts.user, opts.password, opts.sslMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	ddl := internal.DocumentsTableDDL(opts.documentsTable)
	if _, err := conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}

	fmt.Printf("initialized table %s in %s\n", opts.documentsTable, opts.database)
	return nil
}
