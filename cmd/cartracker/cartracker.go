// cartracker is the single-binary tracker server: it ingests CSV telemetry
// from the car's GPS logger, runs fuel receipts through OCR, and serves the
// dashboard's trip and fuel queries out of a local sqlite database.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cartracker-data/cartracker/internal/api"
	"github.com/cartracker-data/cartracker/internal/db"
	"github.com/cartracker-data/cartracker/internal/geocode"
	"github.com/cartracker-data/cartracker/internal/httputil"
	"github.com/cartracker-data/cartracker/internal/ingest"
	"github.com/cartracker-data/cartracker/internal/receipt"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode (debug console, local static files)")
	listen     = flag.String("listen", ":8080", "Listen address")
	dataDir    = flag.String("data", "./data", "Data directory for database, uploads and geocode cache")
	dbFile     = flag.String("db", "", "Database file (default <data>/cartracker.db)")
	migrations = flag.String("migrations", "", "Run migrations from this directory before serving")
	staticDir  = flag.String("static", "./static", "Static files directory")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	uploadDir := filepath.Join(*dataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload directory: %v", err)
	}

	dbPath := *dbFile
	if dbPath == "" {
		dbPath = filepath.Join(*dataDir, "cartracker.db")
	}
	database, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if *migrations != "" {
		if err := database.MigrateUp(*migrations); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	cache, err := geocode.LoadFileCache(filepath.Join(*dataDir, "geocode-cache.json"))
	if err != nil {
		log.Fatalf("Failed to load geocode cache: %v", err)
	}

	httpClient := httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second})
	geocoder := geocode.NewClient(httpClient, cache)
	ocr := receipt.NewOCRClient(httpClient, os.Getenv("GEMINI_API_KEY"), os.Getenv("GEMINI_MODEL"))

	pipeline := receipt.NewPipeline(database, ocr, geocoder, nil)
	ingestor := ingest.New(database)

	server := api.NewServer(database, ingestor, pipeline, uploadDir, nil)
	mux := server.ServeMux()

	if *devMode {
		database.AttachAdminRoutes(mux)
		log.Printf("dev mode: debug console attached under /debug/")
	}

	mux.Handle("/", http.FileServer(http.Dir(*staticDir)))

	httpServer := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := httpServer.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
