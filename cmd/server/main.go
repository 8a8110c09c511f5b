/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the PharmaBridge engagement lifecycle server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load YAML config if given
  2. Initialize SQLite store
  3. Create invoice emitter and lifecycle engine
  4. Configure HTTP router and start the overdue sweep scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file path (optional)
  -port    HTTP server port (overrides config, default: 8080)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Flush in-flight invoice emissions
  5. Close database connection
  6. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/engagements.db"

  # Run from a config file
  ./server -config=./config.yaml

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Overdue sweep scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pharmabridge/engagement-engine/api"
	"github.com/pharmabridge/engagement-engine/config"
	"github.com/pharmabridge/engagement-engine/invoice"
	"github.com/pharmabridge/engagement-engine/lifecycle"
	"github.com/pharmabridge/engagement-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	// Configuration
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Invoice emitter
	emitter, err := invoice.NewFileEmitter(cfg.Invoices.Dir)
	if err != nil {
		log.Fatalf("Failed to initialize invoice emitter: %v", err)
	}

	// Lifecycle engine and handler
	engine := lifecycle.NewEngine(store, emitter)
	handler := api.NewHandler(engine)

	// Create router
	router := api.NewRouter(handler)

	// Overdue sweep scheduler
	scheduler := api.NewOverdueScheduler(engine)
	scheduler.CheckInterval = time.Duration(cfg.Sweep.Interval)
	scheduler.Enabled = cfg.SweepEnabled()
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Server.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	scheduler.Stop()
	engine.Flush()

	log.Println("Server stopped")
}
