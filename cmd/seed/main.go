// Package main implements a one-shot seed command that creates a local
// account directly in the Gatekey database. It lives inside the server module
// so it can access internal/* packages.
//
// Usage:
//
//	go run ./cmd/seed \
//	  --username jsmith \
//	  --email jsmith@example.org \
//	  --name "Jane Smith"
//
// Environment variables:
//
//	GATEKEY_DB_DRIVER   Database driver, "sqlite" or "postgres" (default: sqlite)
//	GATEKEY_DB_DSN      SQLite file path or Postgres DSN (default: ./gatekey.db)
//	GATEKEY_SECRET_KEY  Master encryption key — must match the value used by the server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/repositories"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	username := flag.String("username", "", "Account username, must match the OIDC username claim (required)")
	email := flag.String("email", "", "Account email")
	name := flag.String("name", "", "Display name")
	flag.Parse()

	if *username == "" {
		return fmt.Errorf("--username is required")
	}

	driver := envOrDefault("GATEKEY_DB_DRIVER", "sqlite")
	dsn := envOrDefault("GATEKEY_DB_DSN", "./gatekey.db")

	secretKey := os.Getenv("GATEKEY_SECRET_KEY")
	if secretKey == "" {
		return fmt.Errorf(
			"GATEKEY_SECRET_KEY is not set\n" +
				"  Set it to the same value used by the server, otherwise the\n" +
				"  encrypted settings will be unreadable.",
		)
	}

	// InitEncryption must be called before any DB operation so that
	// EncryptedString fields are encoded correctly on write.
	if err := db.InitEncryption([]byte(secretKey)); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   driver,
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	accountRepo := repositories.NewAccountRepository(database)

	account := &db.Account{
		Username:    *username,
		Email:       *email,
		DisplayName: *name,
		IsActive:    true,
	}

	if err := accountRepo.Create(context.Background(), account); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return fmt.Errorf("an account with username %q already exists", *username)
		}
		return fmt.Errorf("create account: %w", err)
	}

	fmt.Printf("✓ Account created\n")
	fmt.Printf("  ID:       %s\n", account.ID)
	fmt.Printf("  Username: %s\n", account.Username)
	fmt.Printf("  Email:    %s\n", account.Email)
	fmt.Printf("  Name:     %s\n", account.DisplayName)

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
