package applet

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/0xaae/notes-service/internal/noteapi"
	"github.com/0xaae/notes-service/internal/notes"
	"github.com/0xaae/notes-service/internal/settings"
	"github.com/0xaae/notes-service/internal/store"
)

// startTestService binds a real unix socket and serves the full API over it,
// exercising the same transport the applet uses in production.
func startTestService(t *testing.T) (string, *notes.Registry) {
	t.Helper()
	path := filepath.Join(os.TempDir(), "notes-applet-"+uuid.NewString()[:8]+".sock")

	st, err := settings.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	registry := notes.NewRegistry(notes.NewRecord())
	saver := store.NewSaver(store.NewMemoryBackend(), store.DefaultDebounceWindow, registry.Snapshot, nil)
	registry.OnChange(saver.MarkDirty)

	listener, err := noteapi.Listen(path)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	srv := &http.Server{Handler: noteapi.NewServer(registry, saver, st)}
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(func() {
		_ = srv.Close()
		_ = saver.Close()
		_ = os.Remove(path)
		_ = os.Remove(path + ".lock")
	})
	return path, registry
}

func TestClientCRUDOverSocket(t *testing.T) {
	path, _ := startTestService(t)
	client := NewClient(path)
	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health failed: %v", err)
	}

	note, err := client.CreateNote(ctx, uuid.Nil)
	if err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}

	content := "written through the client"
	updated, err := client.UpdateNote(ctx, note.ID, notes.Patch{Content: &content})
	if err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}
	if updated.Content != content {
		t.Fatalf("update not applied: %+v", updated)
	}

	listed, err := client.ListNotes(ctx)
	if err != nil {
		t.Fatalf("ListNotes failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d notes, want 2", len(listed))
	}

	if err := client.DeleteNote(ctx, note.ID); err != nil {
		t.Fatalf("DeleteNote failed: %v", err)
	}
	deleted, err := client.DeletedNotes(ctx)
	if err != nil {
		t.Fatalf("DeletedNotes failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != note.ID {
		t.Fatalf("deleted list = %+v", deleted)
	}

	restored, err := client.RestoreNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("RestoreNote failed: %v", err)
	}
	if restored.Content != content {
		t.Fatalf("restored note lost content: %+v", restored)
	}
}

func TestClientStyleOperations(t *testing.T) {
	path, _ := startTestService(t)
	client := NewClient(path)
	ctx := context.Background()

	style, err := client.CreateStyle(ctx, "Blue")
	if err != nil {
		t.Fatalf("CreateStyle failed: %v", err)
	}
	if err := client.SetDefaultStyle(ctx, style.ID); err != nil {
		t.Fatalf("SetDefaultStyle failed: %v", err)
	}
	styles, def, err := client.Styles(ctx)
	if err != nil {
		t.Fatalf("Styles failed: %v", err)
	}
	if len(styles) != 2 || def != style.ID {
		t.Fatalf("styles = %d default = %s", len(styles), def)
	}

	name := "Navy"
	renamed, err := client.UpdateStyle(ctx, style.ID, notes.StylePatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateStyle failed: %v", err)
	}
	if renamed.Name != name {
		t.Fatalf("rename not applied: %+v", renamed)
	}
}

func TestClientErrorMapping(t *testing.T) {
	path, _ := startTestService(t)
	client := NewClient(path)
	ctx := context.Background()

	_, err := client.GetNote(ctx, uuid.New())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetNote on missing id = %T %v, want APIError", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestClientImportAndSettings(t *testing.T) {
	path, registry := startTestService(t)
	client := NewClient(path)
	ctx := context.Background()
	liveBefore, _ := registry.Counts()

	legacyPath := filepath.Join(t.TempDir(), "stickynotes")
	data := `{
		"notes": [{"uuid": "0b907a09-0b82-4a95-bd53-a1b0e71e9f20", "body": "hello", "cat": "ecf64402-fac4-4ad6-86ea-3f9f5dbd9ede"}],
		"properties": {"all_visible": true, "default_cat": ""},
		"categories": {}
	}`
	if err := os.WriteFile(legacyPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := client.Import(ctx, legacyPath)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 1 || result.Partial {
		t.Fatalf("import result = %+v", result)
	}
	liveAfter, _ := registry.Counts()
	if liveAfter != liveBefore+1 {
		t.Fatalf("live notes went %d -> %d", liveBefore, liveAfter)
	}

	all, err := client.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if _, ok := all[settings.KeyNoteMinWidth]; !ok {
		t.Fatalf("settings missing %s", settings.KeyNoteMinWidth)
	}
}

func TestClientSessionsAndVisibility(t *testing.T) {
	path, _ := startTestService(t)
	client := NewClient(path)
	ctx := context.Background()

	note, err := client.CreateNote(ctx, uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.SetOpen(ctx, note.ID, "window-a", true); err != nil {
		t.Fatalf("SetOpen failed: %v", err)
	}
	got, err := client.GetNote(ctx, note.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Open {
		t.Fatalf("note not reported open")
	}

	changed, err := client.SetAllVisible(ctx, false)
	if err != nil {
		t.Fatalf("SetAllVisible failed: %v", err)
	}
	if changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}
}

func TestEnsureRunningWithLiveService(t *testing.T) {
	path, _ := startTestService(t)
	client := NewClient(path)

	// a live service short-circuits the launch entirely
	err := EnsureRunning(context.Background(), client, LaunchOptions{})
	if err != nil {
		t.Fatalf("EnsureRunning = %v, want nil", err)
	}
}

func TestEnsureRunningRequiresBinary(t *testing.T) {
	client := NewClient(filepath.Join(os.TempDir(), "notes-absent-"+uuid.NewString()[:8]+".sock"))
	err := EnsureRunning(context.Background(), client, LaunchOptions{})
	if !errors.Is(err, ErrServiceBinNotSet) {
		t.Fatalf("EnsureRunning without a binary = %v, want ErrServiceBinNotSet", err)
	}
}

func TestEnsureRunningGivesUpAfterBoundedRetries(t *testing.T) {
	client := NewClient(filepath.Join(os.TempDir(), "notes-absent-"+uuid.NewString()[:8]+".sock"))

	start := time.Now()
	err := EnsureRunning(context.Background(), client, LaunchOptions{
		ServiceBin: "/bin/true",
		Attempts:   3,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
	})
	if err == nil {
		t.Fatalf("EnsureRunning succeeded against a binary that exits immediately")
	}
	if errors.Is(err, ErrServiceBinNotSet) {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("retries not bounded: took %v", elapsed)
	}
}
