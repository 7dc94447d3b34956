// Package applet is the client side of the service boundary: the library the
// panel applet and note windows use to reach the coordinating service, watch
// its event stream, and launch it when absent.
package applet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/0xaae/notes-service/internal/noteapi"
	"github.com/0xaae/notes-service/internal/notes"
)

// baseURL is a placeholder host: all traffic goes over the unix socket.
const baseURL = "http://notes-service"

type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	socketPath string
	httpClient *http.Client
}

func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = noteapi.DefaultSocketPath()
	}
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: unixTransport(socketPath),
			Timeout:   15 * time.Second,
		},
	}
}

func unixTransport(socketPath string) *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
}

func (c *Client) SocketPath() string {
	return c.socketPath
}

// Health reports whether a service answers on the endpoint. A connection
// failure means "not running" and is the trigger for the launch handshake.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Settings(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/v1/settings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListNotes(ctx context.Context) ([]notes.Note, error) {
	var out struct {
		Notes []notes.Note `json:"notes"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/notes", nil, &out); err != nil {
		return nil, err
	}
	return out.Notes, nil
}

func (c *Client) DeletedNotes(ctx context.Context) ([]notes.Note, error) {
	var out struct {
		Notes []notes.Note `json:"notes"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/notes/deleted", nil, &out); err != nil {
		return nil, err
	}
	return out.Notes, nil
}

func (c *Client) CreateNote(ctx context.Context, style uuid.UUID) (notes.Note, error) {
	req := map[string]any{}
	if style != uuid.Nil {
		req["style"] = style
	}
	var note notes.Note
	if err := c.do(ctx, http.MethodPost, "/v1/notes", req, &note); err != nil {
		return notes.Note{}, err
	}
	return note, nil
}

func (c *Client) GetNote(ctx context.Context, id uuid.UUID) (notes.Note, error) {
	var note notes.Note
	if err := c.do(ctx, http.MethodGet, "/v1/notes/"+id.String(), nil, &note); err != nil {
		return notes.Note{}, err
	}
	return note, nil
}

func (c *Client) UpdateNote(ctx context.Context, id uuid.UUID, patch notes.Patch) (notes.Note, error) {
	var note notes.Note
	if err := c.do(ctx, http.MethodPatch, "/v1/notes/"+id.String(), patch, &note); err != nil {
		return notes.Note{}, err
	}
	return note, nil
}

func (c *Client) DeleteNote(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/v1/notes/"+id.String(), nil, nil)
}

func (c *Client) RestoreNote(ctx context.Context, id uuid.UUID) (notes.Note, error) {
	var note notes.Note
	if err := c.do(ctx, http.MethodPost, "/v1/notes/"+id.String()+"/restore", nil, &note); err != nil {
		return notes.Note{}, err
	}
	return note, nil
}

// SetOpen marks or unmarks a note as displayed by this client session.
func (c *Client) SetOpen(ctx context.Context, id uuid.UUID, session string, open bool) error {
	req := map[string]any{"session": session, "open": open}
	return c.do(ctx, http.MethodPost, "/v1/notes/"+id.String()+"/open", req, nil)
}

func (c *Client) SetAllVisible(ctx context.Context, visible bool) (int, error) {
	var out struct {
		Changed int `json:"changed"`
	}
	req := map[string]bool{"visible": visible}
	if err := c.do(ctx, http.MethodPost, "/v1/notes/visibility", req, &out); err != nil {
		return 0, err
	}
	return out.Changed, nil
}

func (c *Client) Styles(ctx context.Context) ([]notes.Style, uuid.UUID, error) {
	var out struct {
		Styles       []notes.Style `json:"styles"`
		DefaultStyle uuid.UUID     `json:"defaultStyle"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/styles", nil, &out); err != nil {
		return nil, uuid.Nil, err
	}
	return out.Styles, out.DefaultStyle, nil
}

func (c *Client) CreateStyle(ctx context.Context, name string) (notes.Style, error) {
	var style notes.Style
	req := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/v1/styles", req, &style); err != nil {
		return notes.Style{}, err
	}
	return style, nil
}

func (c *Client) UpdateStyle(ctx context.Context, id uuid.UUID, patch notes.StylePatch) (notes.Style, error) {
	var style notes.Style
	if err := c.do(ctx, http.MethodPatch, "/v1/styles/"+id.String(), patch, &style); err != nil {
		return notes.Style{}, err
	}
	return style, nil
}

func (c *Client) DeleteStyle(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/v1/styles/"+id.String(), nil, nil)
}

func (c *Client) SetDefaultStyle(ctx context.Context, id uuid.UUID) error {
	req := map[string]any{"id": id}
	return c.do(ctx, http.MethodPut, "/v1/styles/default", req, nil)
}

type ImportResult struct {
	Imported int  `json:"imported"`
	Skipped  int  `json:"skipped"`
	Partial  bool `json:"partial"`
}

// Import asks the service to merge a legacy database. An empty path uses the
// configured import_file.
func (c *Client) Import(ctx context.Context, path string) (ImportResult, error) {
	var out ImportResult
	req := map[string]string{}
	if path != "" {
		req["path"] = path
	}
	if err := c.do(ctx, http.MethodPost, "/v1/import", req, &out); err != nil {
		return ImportResult{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var decoded struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &decoded); err == nil {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
