/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the hour projection server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: projection.db)
              Use ":memory:" for an in-memory database
  -rate       Hourly cost rate in dollars (default: 85)
  -gmp        Weight multiplier for GMP contract jobs (default: 1.5)
  -max-week   Weekly hour cap for distribution (default: 40)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/projection.db"

  # Override the cost rate and weekly cap
  ./server -rate=95 -max-week=45

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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

	"github.com/shopspring/decimal"

	"github.com/crewplan/projection-engine/api"
	"github.com/crewplan/projection-engine/projection"
	"github.com/crewplan/projection-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "projection.db", "SQLite database path")
	rate := flag.Float64("rate", 85, "hourly cost rate in dollars")
	gmp := flag.Float64("gmp", 1.5, "weight multiplier for GMP contract jobs")
	maxWeek := flag.Float64("max-week", 40, "weekly hour cap for distribution")
	flag.Parse()

	settings := projection.Settings{
		HourlyRate:          decimal.NewFromFloat(*rate),
		GMPWeightMultiplier: decimal.NewFromFloat(*gmp),
		MaxHoursPerWeek:     decimal.NewFromFloat(*maxWeek),
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler and router
	handler := api.NewHandler(store, settings)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
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

	log.Println("Server stopped")
}
