package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/teacaddy/internal/app"
	"github.com/dukerupert/teacaddy/internal/backup"
	"github.com/dukerupert/teacaddy/internal/config"
	"github.com/dukerupert/teacaddy/internal/logging"
	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/session"
)

const usage = `usage: teacaddy <command> [flags]

commands:
  serve    run the HTTP API
  export   write a backup document
  import   restore a backup document
  sync     merge with the remote store and push local changes
  schema   print the JSON Schema of backup documents
  token    issue an access token for development
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "teacaddy: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	if cmd == "schema" {
		data, err := backup.SchemaJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.App.LogLevel)

	switch cmd {
	case "serve":
		return serve(ctx, cfg, logger)
	case "export":
		return export(ctx, cfg, logger, args)
	case "import":
		return restore(ctx, cfg, logger, args)
	case "sync":
		return syncNow(ctx, cfg, logger)
	case "token":
		return token(cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.Serve(ctx)
}

func export(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("o", "", "output file (default "+backup.FileName(time.Now())+")")
	passphrase := fs.String("passphrase", cfg.Backup.Passphrase, "seal the backup with this passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		*out = backup.FileName(time.Now())
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Engine.ExportBackup(ctx)
	if err != nil {
		return err
	}
	data, err := backup.Marshal(doc, *passphrase)
	if err != nil {
		return err
	}
	if *out == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	logger.Info("backup written", "file", *out, "teas", len(doc.Teas), "brew_logs", len(doc.BrewLogs), "images", len(doc.Images))
	return nil
}

func restore(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	mode := fs.String("mode", string(model.ImportMerge), "merge or replace")
	passphrase := fs.String("passphrase", cfg.Backup.Passphrase, "passphrase of a sealed backup")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("import: exactly one backup file is required")
	}

	var data []byte
	var err error
	if name := fs.Arg(0); name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	doc, err := backup.Unmarshal(data, *passphrase)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.Engine.Wait()

	result, err := a.Engine.ImportBackup(ctx, doc, model.ImportMode(*mode))
	if err != nil {
		return err
	}
	logger.Info("backup imported", "mode", result.Mode, "teas", result.TeasAdded,
		"brew_logs", result.BrewLogsAdded, "images", result.ImagesWritten)

	// The process exits before a debounced push would fire.
	if a.Session.OwnerID() != "" {
		if err := a.Engine.SyncNow(ctx); err != nil {
			logger.Warn("imported locally, push failed", "error", err)
		}
	}
	return nil
}

func syncNow(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Session.OwnerID == "" {
		return fmt.Errorf("sync: TEACADDY_OWNER_ID is required: %w", model.ErrNotAuthenticated)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.Engine.Wait()

	if err := a.Engine.Reconcile(ctx); err != nil {
		return err
	}
	if err := a.Engine.SyncNow(ctx); err != nil {
		return err
	}
	state, err := a.Engine.State(ctx)
	if err != nil {
		return err
	}
	logger.Info("synced", "teas", len(state.Teas), "brew_logs", len(state.BrewLogs), "pending", state.PendingPushes)
	return nil
}

func token(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	owner := fs.String("owner", cfg.Session.OwnerID, "owner id (token subject)")
	email := fs.String("email", cfg.Session.Email, "owner email")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" {
		return fmt.Errorf("token: -owner is required")
	}
	signed, err := session.Issue([]byte(cfg.Session.JWTSecret), *owner, *email, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}
