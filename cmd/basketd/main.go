package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfeltner/basket/internal/backup"
	"github.com/mfeltner/basket/internal/database"
	"github.com/mfeltner/basket/internal/logging"
	"github.com/mfeltner/basket/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("BASKET_LOG_LEVEL"), os.Getenv("BASKET_LOG_FORMAT"))

	port := os.Getenv("BASKET_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("BASKET_DB_PATH")
	if dbPath == "" {
		dbPath = "basket.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backupCfg := backup.Config{
		DBPath: dbPath,
		S3: backup.S3Config{
			Endpoint:  os.Getenv("BASKET_S3_ENDPOINT"),
			Bucket:    os.Getenv("BASKET_S3_BUCKET"),
			Region:    os.Getenv("BASKET_S3_REGION"),
			AccessKey: os.Getenv("BASKET_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BASKET_S3_SECRET_KEY"),
		},
	}

	srv := server.New(db, backupCfg, logger)

	if passphrase := os.Getenv("BASKET_BACKUP_PASSPHRASE"); passphrase != "" {
		if err := srv.BackupManager().EnableScheduled(passphrase); err != nil {
			logger.Warn("scheduled backups not enabled", "error", err)
		} else {
			logger.Info("scheduled backups enabled")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.BackupManager().Start(ctx)

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Basket running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	srv.BackupManager().Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
