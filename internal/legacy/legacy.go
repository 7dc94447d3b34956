// Package legacy reads the indicator-stickynotes database format and turns
// it into candidate notes and styles for an additive merge. Records are
// parsed independently: one malformed note never aborts the batch.
package legacy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/0xaae/notes-service/internal/notes"
)

// ErrFileUnreadable is the hard failure: the file cannot be read or is not a
// structurally valid database at all, so nothing was imported.
var ErrFileUnreadable = errors.New("legacy file unreadable")

const importTimeLayout = "2006-01-02T15:04:05"

// noteSchema validates one legacy note record before it is mapped. The
// format predates this system and is only ever read, never written.
const noteSchema = `{
	"type": "object",
	"required": ["uuid", "body", "cat"],
	"properties": {
		"uuid": {"type": "string", "minLength": 1},
		"body": {"type": "string"},
		"last_modified": {"type": "string"},
		"cat": {"type": "string"},
		"properties": {
			"type": "object",
			"properties": {
				"position": {"type": "array", "items": {"type": "integer", "minimum": 0}},
				"size": {"type": "array", "items": {"type": "integer", "minimum": 0}},
				"locked": {"type": "boolean"}
			}
		}
	}
}`

var (
	schemaOnce sync.Once
	schemaErr  error
	compiled   *jsonschema.Schema
)

func noteRecordSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(noteSchema))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("note.json", doc); err != nil {
			schemaErr = err
			return
		}
		compiled, schemaErr = compiler.Compile("note.json")
	})
	return compiled, schemaErr
}

type noteRecord struct {
	UUID         string         `json:"uuid"`
	Body         string         `json:"body"`
	LastModified string         `json:"last_modified"`
	Properties   noteProperties `json:"properties"`
	Cat          string         `json:"cat"`
}

type noteProperties struct {
	Position []int `json:"position"`
	Size     []int `json:"size"`
	Locked   bool  `json:"locked"`
}

type globalProperties struct {
	AllVisible bool   `json:"all_visible"`
	DefaultCat string `json:"default_cat"`
}

type category struct {
	Name       string    `json:"name"`
	BgColorHSV []float64 `json:"bgcolor_hsv"`
	Font       string    `json:"font"`
}

type database struct {
	Notes      []json.RawMessage   `json:"notes"`
	Properties globalProperties    `json:"properties"`
	Categories map[string]category `json:"categories"`
}

// Result is the outcome of a parse. Skipped > 0 is a partial failure: the
// listed notes were imported, the rest were malformed and counted.
type Result struct {
	Notes        []notes.Note
	Styles       []notes.Style
	DefaultStyle uuid.UUID
	AllVisible   bool
	Skipped      int
}

func (r *Result) Partial() bool {
	return r != nil && r.Skipped > 0
}

// Parse reads a legacy database file. A file that cannot be read or whose
// top-level structure is not valid JSON fails hard with ErrFileUnreadable;
// individual malformed records are skipped and counted instead.
func Parse(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
	}
	return ParseBytes(data)
}

func ParseBytes(data []byte) (*Result, error) {
	var db database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
	}
	schema, err := noteRecordSchema()
	if err != nil {
		return nil, err
	}

	result := &Result{AllVisible: db.Properties.AllVisible}
	if id, err := uuid.Parse(db.Properties.DefaultCat); err == nil {
		result.DefaultStyle = id
	}

	for catKey, cat := range db.Categories {
		id, err := uuid.Parse(catKey)
		if err != nil {
			result.Skipped++
			continue
		}
		result.Styles = append(result.Styles, mapCategory(id, cat))
	}

	for _, raw := range db.Notes {
		note, ok := mapNoteRecord(schema, raw, db.Properties.AllVisible)
		if !ok {
			result.Skipped++
			continue
		}
		result.Notes = append(result.Notes, note)
	}
	return result, nil
}

func mapNoteRecord(schema *jsonschema.Schema, raw json.RawMessage, visible bool) (notes.Note, bool) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return notes.Note{}, false
	}
	if err := schema.Validate(doc); err != nil {
		return notes.Note{}, false
	}
	var rec noteRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return notes.Note{}, false
	}
	cat, err := uuid.Parse(rec.Cat)
	if err != nil {
		return notes.Note{}, false
	}

	note := notes.Note{
		ID:         uuid.New(),
		Content:    rec.Body,
		Width:      notes.DefaultNoteWidth,
		Height:     notes.DefaultNoteHeight,
		Style:      cat,
		Locked:     rec.Properties.Locked,
		Visible:    visible,
		CreatedAt:  time.Now().UTC(),
		ModifiedAt: parseImportTime(rec.LastModified),
	}
	if len(rec.Properties.Position) > 0 {
		note.X = rec.Properties.Position[0]
	}
	if len(rec.Properties.Position) > 1 {
		note.Y = rec.Properties.Position[1]
	}
	if len(rec.Properties.Size) > 0 {
		note.Width = rec.Properties.Size[0]
	}
	if len(rec.Properties.Size) > 1 {
		note.Height = rec.Properties.Size[1]
	}
	return note, true
}

// parseImportTime reads the legacy local-time format. A missing or
// unparseable timestamp falls back to now rather than discarding the note.
func parseImportTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC()
	}
	parsed, err := time.ParseInLocation(importTimeLayout, value, time.Local)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func mapCategory(id uuid.UUID, cat category) notes.Style {
	style := notes.Style{
		ID:      id,
		Name:    cat.Name,
		Font:    ParseFont(cat.Font),
		BgColor: [3]float64{1, 1, 1},
	}
	if style.Name == "" {
		style.Name = "Imported"
	}
	h, s, v := 0.0, 0.0, 0.0
	if len(cat.BgColorHSV) > 0 {
		h = cat.BgColorHSV[0]
	}
	if len(cat.BgColorHSV) > 1 {
		s = cat.BgColorHSV[1]
	}
	if len(cat.BgColorHSV) > 2 {
		v = cat.BgColorHSV[2]
	}
	if len(cat.BgColorHSV) > 0 {
		style.BgColor = hsvToRGB(h, s, v)
	}
	return style
}

// ParseFont splits a legacy font description like "Fira Sans 14" or
// "Ubuntu Bold 12" into family, weight and size.
func ParseFont(value string) notes.Font {
	font := notes.DefaultFont()
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return font
	}
	if size, err := strconv.Atoi(fields[len(fields)-1]); err == nil && size > 0 {
		font.Size = size
		fields = fields[:len(fields)-1]
	}
	if len(fields) > 0 {
		if weight, ok := parseWeight(fields[len(fields)-1]); ok {
			font.Weight = weight
			fields = fields[:len(fields)-1]
		}
	}
	if len(fields) > 0 {
		font.Family = strings.Join(fields, " ")
	}
	return font
}

func parseWeight(token string) (notes.FontWeight, bool) {
	switch strings.ToLower(token) {
	case "light":
		return notes.WeightLight, true
	case "semibold", "semi-bold":
		return notes.WeightSemibold, true
	case "bold":
		return notes.WeightBold, true
	case "monospace", "mono":
		return notes.WeightMonospace, true
	case "regular", "normal":
		return notes.WeightRegular, true
	default:
		return notes.WeightRegular, false
	}
}

// hsvToRGB converts legacy h/s/v components, each in the 0..1 range, to RGB.
func hsvToRGB(h, s, v float64) [3]float64 {
	h = h - math.Floor(h)
	if s <= 0 {
		return [3]float64{v, v, v}
	}
	sector := h * 6
	i := math.Floor(sector)
	f := sector - i
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	switch int(i) % 6 {
	case 0:
		return [3]float64{v, t, p}
	case 1:
		return [3]float64{q, v, p}
	case 2:
		return [3]float64{p, v, t}
	case 3:
		return [3]float64{p, q, v}
	case 4:
		return [3]float64{t, p, v}
	default:
		return [3]float64{v, p, q}
	}
}
