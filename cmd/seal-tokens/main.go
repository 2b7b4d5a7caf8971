// Command seal-tokens encrypts app tokens that were stored before
// ENCRYPTION_KEY was configured.
//
// Rows in oauth_tokens with encryption_version=0 (plaintext) are sealed with
// AES-256-GCM and moved to encryption_version=1.
//
// Usage:
//
//	seal-tokens [--dry-run] [--provider PROVIDER]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-herald/crypto"
	"github.com/onnwee/live-herald/db"
)

type tokenRow struct {
	Provider    string
	AccessToken sql.NullString
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be sealed without making changes")
	provider := flag.String("provider", "", "Seal tokens for a single provider only (default: all)")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	sealer, err := crypto.NewAESSealer(os.Getenv("ENCRYPTION_KEY"), crypto.DefaultKeyID)
	if err != nil {
		slog.Error("ENCRYPTION_KEY is required and must be a base64 32-byte key", slog.Any("err", err))
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	err = sealTokens(ctx, database, sealer, *dryRun, *provider)
	_ = database.Close()
	if err != nil {
		slog.Error("sealing failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("sealing completed")
}

// sealTokens seals every plaintext row, optionally limited to one provider.
// A failed row is logged and counted; the others still proceed.
func sealTokens(ctx context.Context, database *sql.DB, sealer crypto.Sealer, dryRun bool, providerFilter string) error {
	query := `SELECT provider, access_token FROM oauth_tokens WHERE COALESCE(encryption_version, 0) = 0`
	var args []any
	if providerFilter != "" {
		query += " AND provider = $1"
		args = append(args, providerFilter)
	}
	query += " ORDER BY provider"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query plaintext tokens: %w", err)
	}
	var tokens []tokenRow
	for rows.Next() {
		var tr tokenRow
		if err := rows.Scan(&tr.Provider, &tr.AccessToken); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan token row: %w", err)
		}
		tokens = append(tokens, tr)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return fmt.Errorf("iterate token rows: %w", err)
	}

	if len(tokens) == 0 {
		slog.Info("no plaintext tokens found")
		return nil
	}
	slog.Info("found plaintext tokens", slog.Int("count", len(tokens)), slog.Bool("dry_run", dryRun))

	sealed, failed := 0, 0
	for _, tr := range tokens {
		log := slog.With(slog.String("provider", tr.Provider))
		if dryRun {
			log.Info("would seal token (dry-run)")
			continue
		}
		if err := sealToken(ctx, database, sealer, tr); err != nil {
			log.Error("failed to seal token", slog.Any("err", err))
			failed++
			continue
		}
		log.Info("sealed token")
		sealed++
	}
	slog.Info("sealing summary", slog.Int("total", len(tokens)), slog.Int("sealed", sealed), slog.Int("errors", failed), slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return fmt.Errorf("sealing finished with %d errors", failed)
	}
	return nil
}

func sealToken(ctx context.Context, database *sql.DB, sealer crypto.Sealer, tr tokenRow) error {
	var value string
	if tr.AccessToken.String != "" {
		var err error
		value, err = sealer.Seal(tr.AccessToken.String)
		if err != nil {
			return fmt.Errorf("seal access token: %w", err)
		}
	}
	res, err := database.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET access_token = $1, encryption_version = 1, encryption_key_id = $2, updated_at = NOW()
		WHERE provider = $3 AND COALESCE(encryption_version, 0) = 0`,
		value, sealer.KeyID(), tr.Provider)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (token modified concurrently?)", n)
	}
	return nil
}
