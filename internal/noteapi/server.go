package noteapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/0xaae/notes-service/internal/legacy"
	"github.com/0xaae/notes-service/internal/notes"
	"github.com/0xaae/notes-service/internal/settings"
	"github.com/0xaae/notes-service/internal/store"
)

type ServerConfig struct {
	MaxBodyBytes int64
}

// Server is the only way any other process touches the registry. It speaks
// JSON over HTTP on the unix socket and streams registry events over a
// websocket at /v1/events.
type Server struct {
	registry *notes.Registry
	saver    *store.Saver
	settings *settings.Store
	cfg      ServerConfig
}

func NewServer(registry *notes.Registry, saver *store.Saver, st *settings.Store) *Server {
	return NewServerWithConfig(registry, saver, st, ServerConfig{})
}

func NewServerWithConfig(registry *notes.Registry, saver *store.Saver, st *settings.Store, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		registry: registry,
		saver:    saver,
		settings: st,
		cfg:      cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/status" && r.Method == http.MethodGet {
		s.handleStatus(w)
		return
	}
	if r.URL.Path == "/v1/events" && r.Method == http.MethodGet {
		s.handleEvents(w, r)
		return
	}
	if r.URL.Path == "/v1/import" && r.Method == http.MethodPost {
		s.handleImport(w, r)
		return
	}
	if r.URL.Path == "/v1/settings" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.settings.All())
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}
	switch parts[1] {
	case "notes":
		s.routeNotes(w, r, parts[2:])
	case "styles":
		s.routeStyles(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) routeNotes(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"notes": s.registry.List()})
		case http.MethodPost:
			s.handleCreateNote(w, r)
		default:
			writeMethodNotAllowed(w)
		}
	case len(rest) == 1 && rest[0] == "deleted":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": s.registry.Deleted()})
	case len(rest) == 1 && rest[0] == "visibility":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		s.handleVisibility(w, r)
	case len(rest) == 1:
		s.handleNoteByID(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "restore":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		s.handleRestore(w, rest[0])
	case len(rest) == 2 && rest[1] == "open":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		s.handleOpen(w, r, rest[0])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) routeStyles(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{
				"styles":       s.registry.Styles(),
				"defaultStyle": s.registry.DefaultStyle(),
			})
		case http.MethodPost:
			s.handleCreateStyle(w, r)
		default:
			writeMethodNotAllowed(w)
		}
	case len(rest) == 1 && rest[0] == "default":
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		s.handleSetDefaultStyle(w, r)
	case len(rest) == 1:
		s.handleStyleByID(w, r, rest[0])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter) {
	live, deleted := s.registry.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"notes":       live,
		"deleted":     deleted,
		"styles":      len(s.registry.Styles()),
		"subscribers": s.registry.SubscriberCount(),
		"store":       s.saver.Status(),
	})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Style *uuid.UUID `json:"style,omitempty"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	styleID := uuid.Nil
	if req.Style != nil {
		styleID = *req.Style
	}
	note := s.registry.Create(styleID)
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleNoteByID(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseID(w, rawID)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		note, err := s.registry.Get(id)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodPatch:
		var patch notes.Patch
		if !s.decodeJSONBody(w, r, &patch) {
			return
		}
		note, err := s.registry.Update(id, patch)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodDelete:
		if err := s.registry.Delete(id); err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleRestore(w http.ResponseWriter, rawID string) {
	id, ok := parseID(w, rawID)
	if !ok {
		return
	}
	note, err := s.registry.Restore(id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseID(w, rawID)
	if !ok {
		return
	}
	var req struct {
		Session string `json:"session"`
		Open    bool   `json:"open"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Session) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session is required")
		return
	}
	if req.Open {
		if err := s.registry.Attach(id, req.Session); err != nil {
			writeRegistryError(w, err)
			return
		}
	} else {
		s.registry.Detach(id, req.Session)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible bool `json:"visible"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	changed := s.registry.SetAllVisible(req.Visible)
	writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}

func (s *Server) handleCreateStyle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "style name is required")
		return
	}
	writeJSON(w, http.StatusCreated, s.registry.CreateStyle(req.Name))
}

func (s *Server) handleStyleByID(w http.ResponseWriter, r *http.Request, rawID string) {
	id, ok := parseID(w, rawID)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		style, err := s.registry.Style(id)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, style)
	case http.MethodPatch:
		var patch notes.StylePatch
		if !s.decodeJSONBody(w, r, &patch) {
			return
		}
		style, err := s.registry.UpdateStyle(id, patch)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, style)
	case http.MethodDelete:
		if err := s.registry.DeleteStyle(id); err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleSetDefaultStyle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID uuid.UUID `json:"id"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.registry.SetDefaultStyle(req.ID); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path,omitempty"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		path = s.settings.String(settings.KeyImportFile)
	}
	result, err := legacy.Parse(path)
	if err != nil {
		if errors.Is(err, legacy.ErrFileUnreadable) {
			writeError(w, http.StatusUnprocessableEntity, "file_unreadable", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	imported := s.registry.ImportNotes(result.Notes, result.Styles)
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": imported,
		"skipped":  result.Skipped,
		"partial":  result.Partial(),
	})
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid note id")
		return uuid.Nil, false
	}
	return id, true
}

// writeRegistryError maps registry errors onto responses for the requesting
// client only. A NotFound here is an expected race under concurrent
// multi-window deletion, never fatal to the service.
func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, notes.ErrStyleNotFound):
		writeError(w, http.StatusNotFound, "style_not_found", err.Error())
	case errors.Is(err, notes.ErrLastStyle):
		writeError(w, http.StatusConflict, "last_style", err.Error())
	case errors.Is(err, notes.ErrLockedNote):
		writeError(w, http.StatusConflict, "note_locked", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
