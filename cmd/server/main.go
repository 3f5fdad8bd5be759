package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"

	"forecast-reconciliation/internal/config"
	"forecast-reconciliation/internal/database"
	"forecast-reconciliation/internal/handlers"
	"forecast-reconciliation/internal/repositories"
	"forecast-reconciliation/internal/services"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Migration command (up/down/version)")
	steps := flag.Int("steps", 0, "Number of migration steps (0 means all)")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Error loading config: %v", err)
	}

	db, err := database.NewConnection(cfg)
	if err != nil {
		logrus.Fatalf("Error connecting to database: %v", err)
	}
	defer db.Close()

	if *migrateCmd != "" {
		handleMigration(cfg, *migrateCmd, *steps)
		return
	}

	orderRepo := repositories.NewOrderForecastRepository(db)
	glRepo := repositories.NewGLEntryRepository(db)
	runRepo := repositories.NewReconciliationRunRepository(db)

	reconciliationService := services.NewReconciliationService(cfg.Matching, orderRepo, glRepo, runRepo)
	exclusionService := services.NewExclusionService(glRepo)
	ingestionService := services.NewIngestionService(orderRepo, glRepo)

	router := handlers.SetupRouter(
		handlers.NewReconciliationHandler(reconciliationService, exclusionService),
		handlers.NewDataHandler(ingestionService, orderRepo, glRepo),
	)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logrus.WithField("address", cfg.ServerAddress).Info("server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logrus.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server Shutdown Failed: %v", err)
	}
	logrus.Info("server exited gracefully")
}

func handleMigration(cfg *config.Config, command string, steps int) {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", cfg.Migration.Dir),
		cfg.GetMigrationDBURL(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "no change") {
			logrus.Info("no migration changes to apply")
			return
		}
		logrus.Fatalf("Failed to initialize migrate: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verErr := m.Version()
		if verErr != nil {
			if verErr == migrate.ErrNilVersion {
				logrus.Info("no migrations have been applied yet")
				return
			}
			logrus.Fatalf("Failed to get version: %v", verErr)
		}
		fmt.Printf("Current migration version: %d (dirty: %v)\n", version, dirty)
		return
	default:
		logrus.Fatalf("Invalid migration command: %s", command)
	}

	if err != nil {
		if err == migrate.ErrNoChange {
			logrus.Info("no migration changes to apply")
			return
		}
		logrus.Fatalf("Migration failed: %v", err)
	}

	logrus.Info("migration completed successfully")
}
