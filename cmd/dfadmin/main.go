package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	dfadmin "github.com/dreamfactorysoftware/df-admin-data"
	"github.com/dreamfactorysoftware/df-admin-data/cache"
	"github.com/dreamfactorysoftware/df-admin-data/internal/testserver"
)

func main() {
	if err := runCLI(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCLI(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}
	switch args[0] {
	case "help", "--help", "-h":
		printUsage()
		return nil
	case "version", "--version", "-v":
		fmt.Println("dfadmin v0.1.0")
		return nil
	case "list":
		if len(args) < 2 {
			return fmt.Errorf("usage: dfadmin list <resource>")
		}
		return runList(args[1])
	case "serve":
		addr := ":8085"
		if len(args) > 1 {
			addr = args[1]
		}
		return runServe(addr)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Println("Usage: dfadmin <command>")
	fmt.Println("Commands:")
	fmt.Println("  list <resource>   List records of an admin resource, e.g. system/service")
	fmt.Println("  serve [addr]      Run a mock DreamFactory system API (default :8085)")
	fmt.Println("  version           Print the version")
	fmt.Println("Configuration is read from DF_* environment variables (DF_BASE_URL, DF_API_KEY, ...)")
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func runList(name string) error {
	logger := newLogger()

	cfg, err := dfadmin.LoadConfig()
	if err != nil {
		return err
	}
	sess, err := dfadmin.NewSession(cfg, dfadmin.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	h, err := sess.UseList(ctx, name, cache.Params{Limit: 25})
	if err != nil {
		return err
	}
	<-h.Ready()
	if err := h.Err(); err != nil {
		return err
	}

	page := h.Data()
	logger.Info().
		Str("resource", name).
		Int("total", page.Total).
		Int("returned", len(page.Records)).
		Msg("listed")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, rec := range page.Records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func runServe(addr string) error {
	logger := newLogger()

	srv := testserver.New(testserver.WithLogger(logger))
	srv.Seed("system/service", []map[string]any{
		{"name": "db", "label": "Local Database", "type": "mysql", "is_active": true},
		{"name": "files", "label": "Local Files", "type": "local_file", "is_active": true},
		{"name": "email", "label": "Email Service", "type": "smtp_email", "is_active": false},
	})
	srv.Seed("system/admin", []map[string]any{
		{"name": "admin", "email": "admin@example.com", "first_name": "Ada", "is_active": true},
	})
	srv.Seed("system/role", []map[string]any{
		{"name": "read-only", "description": "Read access to all services", "is_active": true},
	})

	logger.Info().Str("addr", addr).Msg("mock DreamFactory system API listening")
	return http.ListenAndServe(addr, srv)
}
