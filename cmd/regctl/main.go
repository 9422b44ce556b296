package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/hookline/intake/internal/config"
	"github.com/hookline/intake/internal/db"
)

const usage = `Usage: regctl <command> [flags]

Commands:
  create  --name <name> [--db <path>]                 register a webhook, print its path
  list    [--db <path>]                               print registered webhooks
  events  --token <token> [--limit N] [--db <path>]   print recent events for a webhook
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.LoadForTool()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	switch os.Args[1] {
	case "create":
		runCreate(ctx, cfg.Database.Path, os.Args[2:])
	case "list":
		runList(ctx, cfg.Database.Path, os.Args[2:])
	case "events":
		runEvents(ctx, cfg.Database.Path, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func openDatabase(path string) *db.Database {
	database, err := db.New(strings.TrimSpace(path))
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	return database
}

func runCreate(ctx context.Context, defaultDB string, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "webhook display name")
	dbPath := fs.String("db", defaultDB, "database path without .sqlite suffix")
	_ = fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		log.Fatal("create: --name is required")
	}

	database := openDatabase(*dbPath)

	webhook, err := database.CreateWebhook(ctx, db.CreateWebhookParams{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		Name:      strings.TrimSpace(*name),
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		log.Fatalf("create webhook: %v", err)
	}

	fmt.Printf("id:    %s\n", webhook.ID)
	fmt.Printf("name:  %s\n", webhook.Name)
	fmt.Printf("path:  /w/%s\n", webhook.Token)

	closeDatabase(database)
}

func runList(ctx context.Context, defaultDB string, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", defaultDB, "database path without .sqlite suffix")
	_ = fs.Parse(args)

	database := openDatabase(*dbPath)

	webhooks, err := database.ListWebhooks(ctx)
	if err != nil {
		log.Fatalf("list webhooks: %v", err)
	}
	if len(webhooks) == 0 {
		fmt.Println("no webhooks registered")
		closeDatabase(database)
		return
	}
	for _, webhook := range webhooks {
		count, err := database.CountWebhookEvents(ctx, webhook.ID)
		if err != nil {
			log.Fatalf("count events for %s: %v", webhook.Name, err)
		}
		fmt.Printf("%s  events=%d  created=%s  /w/%s\n",
			webhook.Name,
			count,
			time.Unix(webhook.CreatedAt, 0).UTC().Format(time.RFC3339),
			webhook.Token,
		)
	}

	closeDatabase(database)
}

func runEvents(ctx context.Context, defaultDB string, args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	token := fs.String("token", "", "webhook token")
	limit := fs.Int("limit", 20, "maximum events to print")
	dbPath := fs.String("db", defaultDB, "database path without .sqlite suffix")
	_ = fs.Parse(args)

	if strings.TrimSpace(*token) == "" {
		log.Fatal("events: --token is required")
	}
	if *limit <= 0 {
		*limit = 20
	}

	database := openDatabase(*dbPath)

	webhook, err := database.GetWebhookByToken(ctx, strings.TrimSpace(*token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Fatalf("unknown token %q", *token)
		}
		log.Fatalf("resolve token: %v", err)
	}

	events, err := database.ListWebhookEvents(ctx, db.ListWebhookEventsParams{
		WebhookID: webhook.ID,
		Limit:     int64(*limit),
	})
	if err != nil {
		log.Fatalf("list events: %v", err)
	}
	for _, event := range events {
		fmt.Printf("%s  %-6s  %4d bytes  %s\n",
			time.Unix(event.ReceivedAt, 0).UTC().Format(time.RFC3339),
			event.Method,
			event.SizeBytes,
			event.Payload,
		)
	}

	closeDatabase(database)
}

func closeDatabase(database *db.Database) {
	if err := database.Close(); err != nil {
		log.Fatalf("close db: %v", err)
	}
}
