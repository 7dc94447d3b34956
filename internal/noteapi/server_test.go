package noteapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/0xaae/notes-service/internal/notes"
	"github.com/0xaae/notes-service/internal/settings"
	"github.com/0xaae/notes-service/internal/store"
)

func newTestServer(t *testing.T) (*Server, *notes.Registry) {
	t.Helper()
	st, err := settings.Open(t.TempDir())
	if err != nil {
		t.Fatalf("settings.Open failed: %v", err)
	}
	registry := notes.NewRegistry(notes.NewRecord())
	saver := store.NewSaver(store.NewMemoryBackend(), store.DefaultDebounceWindow, registry.Snapshot, nil)
	t.Cleanup(func() { _ = saver.Close() })
	registry.OnChange(saver.MarkDirty)
	return NewServer(registry, saver, st), registry
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, rec)["code"]
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
}

func TestNoteCRUDOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/notes", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /v1/notes = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[notes.Note](t, rec)
	if created.ID == uuid.Nil {
		t.Fatalf("created note has no id")
	}

	rec = doRequest(t, srv, http.MethodPatch, "/v1/notes/"+created.ID.String(),
		map[string]any{"content": "patched over the wire", "x": 55})
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH = %d: %s", rec.Code, rec.Body.String())
	}
	patched := decodeBody[notes.Note](t, rec)
	if patched.Content != "patched over the wire" || patched.X != 55 {
		t.Fatalf("patch not applied: %+v", patched)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/notes/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/v1/notes/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/notes/"+created.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET after delete = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "not_found" {
		t.Fatalf("error code = %q, want not_found", code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/notes/"+created.ID.String()+"/restore", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore = %d: %s", rec.Code, rec.Body.String())
	}
	restored := decodeBody[notes.Note](t, rec)
	if restored.ID != created.ID || restored.Content != "patched over the wire" {
		t.Fatalf("restore returned %+v", restored)
	}
}

func TestListAndDeletedEndpoints(t *testing.T) {
	srv, registry := newTestServer(t)
	note := registry.Create(uuid.Nil)
	if err := registry.Delete(note.ID); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/v1/notes", nil)
	listed := decodeBody[map[string][]notes.Note](t, rec)
	if len(listed["notes"]) != 1 {
		t.Fatalf("live list has %d notes, want 1 (the bootstrap note)", len(listed["notes"]))
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/notes/deleted", nil)
	deleted := decodeBody[map[string][]notes.Note](t, rec)
	if len(deleted["notes"]) != 1 || deleted["notes"][0].ID != note.ID {
		t.Fatalf("deleted list = %+v", deleted["notes"])
	}
}

func TestVisibilityEndpoint(t *testing.T) {
	srv, registry := newTestServer(t)
	registry.Create(uuid.Nil)

	rec := doRequest(t, srv, http.MethodPost, "/v1/notes/visibility", map[string]bool{"visible": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("visibility = %d: %s", rec.Code, rec.Body.String())
	}
	changed := decodeBody[map[string]int](t, rec)
	if changed["changed"] != 2 {
		t.Fatalf("changed = %d, want 2", changed["changed"])
	}
}

func TestLockedNoteOverHTTP(t *testing.T) {
	srv, registry := newTestServer(t)
	note := registry.Create(uuid.Nil)
	locked := true
	if _, err := registry.Update(note.ID, notes.Patch{Locked: &locked}); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, http.MethodPatch, "/v1/notes/"+note.ID.String(),
		map[string]string{"content": "nope"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("content edit on locked note = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "note_locked" {
		t.Fatalf("error code = %q, want note_locked", code)
	}
}

func TestStyleEndpoints(t *testing.T) {
	srv, registry := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/styles", map[string]string{"name": "Green"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /v1/styles = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[notes.Style](t, rec)

	rec = doRequest(t, srv, http.MethodPut, "/v1/styles/default", map[string]any{"id": created.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /v1/styles/default = %d: %s", rec.Code, rec.Body.String())
	}
	if registry.DefaultStyle() != created.ID {
		t.Fatalf("default style not switched")
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/styles", nil)
	listing := decodeBody[struct {
		Styles       []notes.Style `json:"styles"`
		DefaultStyle uuid.UUID     `json:"defaultStyle"`
	}](t, rec)
	if len(listing.Styles) != 2 || listing.DefaultStyle != created.ID {
		t.Fatalf("styles listing = %+v", listing)
	}

	// delete down to one style, then the guard kicks in
	var other uuid.UUID
	for _, style := range listing.Styles {
		if style.ID != created.ID {
			other = style.ID
		}
	}
	rec = doRequest(t, srv, http.MethodDelete, "/v1/styles/"+other.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE style = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, srv, http.MethodDelete, "/v1/styles/"+created.ID.String(), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("DELETE last style = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "last_style" {
		t.Fatalf("error code = %q, want last_style", code)
	}
}

func TestCreateStyleRequiresName(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/v1/styles", map[string]string{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("POST /v1/styles without name = %d, want 400", rec.Code)
	}
}

func TestInvalidIDAndUnknownRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/notes/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/nonsense", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route = %d, want 404", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPut, "/v1/notes", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method = %d, want 405", rec.Code)
	}
}

func TestMalformedJSONBody(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", rec.Code)
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	st, err := settings.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	registry := notes.NewRegistry(notes.NewRecord())
	saver := store.NewSaver(store.NewMemoryBackend(), store.DefaultDebounceWindow, registry.Snapshot, nil)
	defer saver.Close()
	srv := NewServerWithConfig(registry, saver, st, ServerConfig{MaxBodyBytes: 64})

	huge := fmt.Sprintf(`{"content": %q}`, strings.Repeat("a", 1024))
	req := httptest.NewRequest(http.MethodPost, "/v1/notes", strings.NewReader(huge))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body = %d, want 413", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, registry := newTestServer(t)
	registry.Create(uuid.Nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/status = %d", rec.Code)
	}
	status := decodeBody[map[string]any](t, rec)
	if status["notes"].(float64) != 2 {
		t.Fatalf("status notes = %v, want 2", status["notes"])
	}
	if _, ok := status["store"]; !ok {
		t.Fatalf("status is missing the store section")
	}
}

func TestSettingsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/v1/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/settings = %d", rec.Code)
	}
	all := decodeBody[map[string]any](t, rec)
	if _, ok := all[settings.KeyNoteMinWidth]; !ok {
		t.Fatalf("settings response is missing %s", settings.KeyNoteMinWidth)
	}
}

func TestImportEndpoint(t *testing.T) {
	srv, registry := newTestServer(t)
	liveBefore, _ := registry.Counts()

	path := filepath.Join(t.TempDir(), "stickynotes")
	data := `{
		"notes": [
			{"uuid": "0b907a09-0b82-4a95-bd53-a1b0e71e9f20", "body": "imported", "cat": "ecf64402-fac4-4ad6-86ea-3f9f5dbd9ede"},
			{"body": "invalid record"}
		],
		"properties": {"all_visible": true, "default_cat": "ecf64402-fac4-4ad6-86ea-3f9f5dbd9ede"},
		"categories": {
			"ecf64402-fac4-4ad6-86ea-3f9f5dbd9ede": {"name": "Yellow", "bgcolor_hsv": [0.16, 0.3, 0.9], "font": "Fira Sans 14"}
		}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/v1/import", map[string]string{"path": path})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /v1/import = %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[struct {
		Imported int  `json:"imported"`
		Skipped  int  `json:"skipped"`
		Partial  bool `json:"partial"`
	}](t, rec)
	if result.Imported != 1 || result.Skipped != 1 || !result.Partial {
		t.Fatalf("import result = %+v", result)
	}
	liveAfter, _ := registry.Counts()
	if liveAfter != liveBefore+1 {
		t.Fatalf("live notes went %d -> %d, want +1", liveBefore, liveAfter)
	}
}

func TestImportUnreadableFile(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/v1/import",
		map[string]string{"path": filepath.Join(t.TempDir(), "missing")})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("import of missing file = %d, want 422", rec.Code)
	}
	if code := errorCode(t, rec); code != "file_unreadable" {
		t.Fatalf("error code = %q, want file_unreadable", code)
	}
}

func TestOpenEndpointDrivesSessions(t *testing.T) {
	srv, registry := newTestServer(t)
	note := registry.Create(uuid.Nil)

	rec := doRequest(t, srv, http.MethodPost, "/v1/notes/"+note.ID.String()+"/open",
		map[string]any{"session": "window-1", "open": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("open = %d: %s", rec.Code, rec.Body.String())
	}
	got, err := registry.Get(note.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Open {
		t.Fatalf("note not open after attach")
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/notes/"+note.ID.String()+"/open",
		map[string]any{"session": "window-1", "open": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("close = %d: %s", rec.Code, rec.Body.String())
	}
	got, err = registry.Get(note.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Open {
		t.Fatalf("note still open after detach")
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/notes/"+note.ID.String()+"/open",
		map[string]any{"open": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("open without session = %d, want 400", rec.Code)
	}
}
