package main

import (
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/extractly/invoice-desk/internal/archive"
	"github.com/extractly/invoice-desk/internal/backend"
	"github.com/extractly/invoice-desk/internal/extract"
	"github.com/extractly/invoice-desk/internal/server"
	"github.com/extractly/invoice-desk/internal/session"
	"github.com/extractly/invoice-desk/internal/storage"
	"github.com/extractly/invoice-desk/pkg/logging"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	_ = godotenv.Load()
	logging.Setup()

	fs := ff.NewFlagSet("invoice-desk")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "invoice-desk.db", "Archive database file path")
		spoolDir       = fs.StringLong("spool", "./spool", "Local directory for preview files")
		storageURL     = fs.StringLong("storage-url", "", "Remote object storage base URL (empty: keep files locally)")
		storageBucket  = fs.StringLong("storage-bucket", "invoices", "Remote storage bucket name")
		storageAnonKey = fs.StringLong("storage-anon-key", "", "Remote storage anon key")
		authURL        = fs.StringLong("auth-url", "", "Auth provider base URL")
		authAnonKey    = fs.StringLong("auth-anon-key", "", "Auth provider anon key")
		jwtSecret      = fs.StringLong("jwt-secret", "", "HMAC secret for verifying access tokens (empty: claims-only parsing)")
		backendURL     = fs.StringLong("backend-url", "http://127.0.0.1:5000", "Invoice backend base URL")
		extractorType  = fs.StringLong("extractor", "backend", "Extractor type: 'backend' or 'gemini'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_DESK"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing archive database...")
	store, err := archive.NewStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize archive database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("Initializing preview storage...", "dir", *spoolDir)
	previews, err := storage.NewLocalStore(*spoolDir)
	if err != nil {
		slog.Error("Failed to initialize preview storage", "error", err)
		os.Exit(1)
	}

	var remote storage.ObjectStore
	if *storageURL != "" {
		slog.Info("Using remote object storage", "url", *storageURL, "bucket", *storageBucket)
		remote = storage.NewHTTPStore(*storageURL, *storageBucket, *storageAnonKey)
	} else {
		slog.Warn("No remote storage configured; uploads stay on local disk")
		remote, err = storage.NewLocalStore(filepath.Join(*spoolDir, "uploads"))
		if err != nil {
			slog.Error("Failed to initialize upload storage", "error", err)
			os.Exit(1)
		}
	}

	backendClient := backend.NewClient(*backendURL)

	var extractor extract.Extractor
	switch *extractorType {
	case "backend":
		slog.Info("Using backend extractor", "url", *backendURL)
		extractor = extract.NewBackend(backendClient)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Using Gemini extractor", "model", *geminiModel)
		extractor, err = extract.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "backend or gemini")
		os.Exit(1)
	}
	defer extractor.Close()

	auth := session.NewClient(*authURL, *authAnonKey, *jwtSecret)

	srv := server.NewServer(server.Deps{
		Auth:      auth,
		Previews:  previews,
		Remote:    remote,
		Extractor: extractor,
		Confirmer: backendClient,
		Archive:   store,
		Analytics: backendClient,
	})

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
