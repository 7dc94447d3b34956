package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0xaae/notes-service/internal/legacy"
	"github.com/0xaae/notes-service/internal/noteapi"
	"github.com/0xaae/notes-service/internal/notes"
	"github.com/0xaae/notes-service/internal/settings"
	"github.com/0xaae/notes-service/internal/store"
)

func main() {
	socketPath := flag.String("socket", envOrDefault("NOTES_SERVICE_SOCKET", noteapi.DefaultSocketPath()), "unix socket path")
	configDir := flag.String("config-dir", envOrDefault("NOTES_SERVICE_CONFIG_DIR", settings.DefaultDir()), "settings directory")
	stateDSN := flag.String("state-dsn", strings.TrimSpace(os.Getenv("NOTES_SERVICE_STATE_DSN")), "state backend DSN (file:, sqlite:, postgres:, memory:)")
	debounce := flag.Duration("debounce", durationEnv("NOTES_SERVICE_DEBOUNCE", store.DefaultDebounceWindow), "persistence debounce window")
	noImport := flag.Bool("no-import", false, "skip the first-run legacy import")
	flag.Parse()

	// The bind is the mutual-exclusion primitive: it must succeed before
	// this process is allowed to load and own the store.
	listener, err := noteapi.Listen(*socketPath)
	if err != nil {
		if errors.Is(err, noteapi.ErrEndpointUnavailable) {
			log.Fatalf("another notes-service instance owns %s, exiting", *socketPath)
		}
		log.Fatalf("failed to bind endpoint %s: %v", *socketPath, err)
	}
	defer listener.Close()

	st, err := settings.Open(*configDir)
	if err != nil {
		log.Fatalf("failed to open settings directory: %v", err)
	}

	backend, err := store.BuildBackendFromDSN(*stateDSN, st.NotesPath())
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}
	defer store.CloseBackend(backend)

	rec, err := backend.Load()
	if err != nil {
		if errors.Is(err, store.ErrCorruptStore) {
			log.Fatalf("refusing to start with a corrupt store: %v (fix or move the stored value, an empty restart would discard your notes)", err)
		}
		log.Fatalf("failed to load store: %v", err)
	}
	if rec == nil {
		rec = notes.NewRecord()
	}
	// min sizes are enforced at load only, never against a live window
	rec.ClampNoteSizes(st.Int(settings.KeyNoteMinWidth), st.Int(settings.KeyNoteMinHeight))

	registry := notes.NewRegistry(rec)
	saver := store.NewSaver(backend, *debounce, registry.Snapshot, log.Default())
	registry.OnChange(saver.MarkDirty)

	if registry.Fresh() {
		saver.MarkDirty()
		if !*noImport {
			runFirstImport(registry, st)
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchSettings(rootCtx, st)

	server := noteapi.NewServer(registry, saver, st)
	httpServer := &http.Server{Handler: server}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()
	log.Printf("notes-service listening on %s", *socketPath)

	select {
	case <-rootCtx.Done():
		log.Printf("shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := saver.Close(); err != nil {
		log.Printf("final flush failed: %v", err)
	}
}

// runFirstImport merges the legacy database once, only when the service
// starts without an existing store.
func runFirstImport(registry *notes.Registry, st *settings.Store) {
	path := st.String(settings.KeyImportFile)
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	result, err := legacy.Parse(path)
	if err != nil {
		log.Printf("first-run import of %s failed: %v", path, err)
		return
	}
	imported := registry.ImportNotes(result.Notes, result.Styles)
	if result.Partial() {
		log.Printf("first-run import: %d notes imported, %d records skipped", imported, result.Skipped)
		return
	}
	log.Printf("first-run import: %d notes imported from %s", imported, path)
}

func watchSettings(ctx context.Context, st *settings.Store) {
	changes, err := st.Watch(ctx)
	if err != nil {
		log.Printf("settings watcher unavailable: %v", err)
		return
	}
	for key := range changes {
		if key == settings.KeyNotes {
			// our own persistence writes, not an edit
			continue
		}
		log.Printf("setting %s changed, new values apply on next use", key)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback)
		return fallback
	}
	return value
}
