package notes

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultNoteWidth  = 400
	DefaultNoteHeight = 300

	DefaultStyleName = "White"
	DefaultFontName  = "Open Sans"
	DefaultFontSize  = 14

	emptyTitle    = "<Empty>"
	maxTitleRunes = 12
)

type FontWeight string

const (
	WeightRegular   FontWeight = "regular"
	WeightLight     FontWeight = "light"
	WeightSemibold  FontWeight = "semibold"
	WeightBold      FontWeight = "bold"
	WeightMonospace FontWeight = "monospace"
)

type Font struct {
	Family string     `json:"family"`
	Weight FontWeight `json:"weight"`
	Size   int        `json:"size"`
}

func DefaultFont() Font {
	return Font{
		Family: DefaultFontName,
		Weight: WeightRegular,
		Size:   DefaultFontSize,
	}
}

// Style describes the appearance shared by every note that references it.
// BgColor holds RGB components in the 0..1 range.
type Style struct {
	ID      uuid.UUID  `json:"id"`
	Name    string     `json:"name"`
	Font    Font       `json:"font"`
	BgColor [3]float64 `json:"bgColor"`
}

func DefaultStyle() Style {
	return Style{
		ID:      uuid.New(),
		Name:    DefaultStyleName,
		Font:    DefaultFont(),
		BgColor: [3]float64{1, 1, 1},
	}
}

type Note struct {
	ID         uuid.UUID `json:"id"`
	Content    string    `json:"content"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Style      uuid.UUID `json:"style"`
	Locked     bool      `json:"locked"`
	Visible    bool      `json:"visible"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	// Open reports whether some connected client currently displays the
	// note. It is recomputed from live sessions and never persisted.
	Open bool `json:"open"`
}

func NewNote(style uuid.UUID) Note {
	now := time.Now().UTC()
	return Note{
		ID:         uuid.New(),
		Width:      DefaultNoteWidth,
		Height:     DefaultNoteHeight,
		Style:      style,
		Visible:    true,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Title derives a short label from the first line of the content.
func (n Note) Title() string {
	if n.Content == "" {
		return emptyTitle
	}
	line := n.Content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimRight(line, "\r")
	runes := []rune(line)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return line
}

// Patch is a partial update to a single note. Nil fields are left untouched;
// the last accepted write wins per field.
type Patch struct {
	Content *string    `json:"content,omitempty"`
	X       *int       `json:"x,omitempty"`
	Y       *int       `json:"y,omitempty"`
	Width   *int       `json:"width,omitempty"`
	Height  *int       `json:"height,omitempty"`
	Style   *uuid.UUID `json:"style,omitempty"`
	Locked  *bool      `json:"locked,omitempty"`
	Visible *bool      `json:"visible,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Content == nil && p.X == nil && p.Y == nil &&
		p.Width == nil && p.Height == nil && p.Style == nil &&
		p.Locked == nil && p.Visible == nil
}

type StylePatch struct {
	Name    *string     `json:"name,omitempty"`
	Font    *Font       `json:"font,omitempty"`
	BgColor *[3]float64 `json:"bgColor,omitempty"`
}

// Record is the persisted unit: every live note and style plus the default
// style id. Deleted notes are deliberately absent.
type Record struct {
	Notes        map[uuid.UUID]Note  `json:"notes"`
	Styles       map[uuid.UUID]Style `json:"styles"`
	DefaultStyle uuid.UUID           `json:"defaultStyle"`
}

func NewRecord() *Record {
	return &Record{
		Notes:  map[uuid.UUID]Note{},
		Styles: map[uuid.UUID]Style{},
	}
}

func (r *Record) Empty() bool {
	return r == nil || (len(r.Notes) == 0 && len(r.Styles) == 0)
}

// ClampNoteSizes raises every note dimension to the given floor. The clamp
// runs at load time only: a live window is never forcibly resized, the floor
// takes effect at the next service start.
func (r *Record) ClampNoteSizes(minWidth, minHeight int) {
	if r == nil {
		return
	}
	for id, note := range r.Notes {
		changed := false
		if note.Width < minWidth {
			note.Width = minWidth
			changed = true
		}
		if note.Height < minHeight {
			note.Height = minHeight
			changed = true
		}
		if changed {
			r.Notes[id] = note
		}
	}
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := &Record{
		Notes:        make(map[uuid.UUID]Note, len(r.Notes)),
		Styles:       make(map[uuid.UUID]Style, len(r.Styles)),
		DefaultStyle: r.DefaultStyle,
	}
	for id, note := range r.Notes {
		clone.Notes[id] = note
	}
	for id, style := range r.Styles {
		clone.Styles[id] = style
	}
	return clone
}
