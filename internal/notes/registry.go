package notes

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoteNotFound  = errors.New("note not found")
	ErrStyleNotFound = errors.New("style not found")
	ErrLastStyle     = errors.New("cannot delete the last style")
	ErrLockedNote    = errors.New("note is locked")
)

type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("note %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNoteNotFound
}

type subscriber struct {
	ch chan Event
}

// Registry is the sole authority over the canonical note set. Every mutation
// serializes through one mutex, so concurrent client requests apply one at a
// time in arrival order. Reads hand out value copies, never live references.
type Registry struct {
	mu           sync.RWMutex
	notes        map[uuid.UUID]Note
	styles       map[uuid.UUID]Style
	defaultStyle uuid.UUID
	deleted      map[uuid.UUID]Note
	sessions     map[uuid.UUID]map[string]struct{}
	subscribers  map[uint64]*subscriber
	subCounter   uint64
	eventCounter uint64
	fresh        bool
	onChange     func()
}

// NewRegistry seeds the registry from a loaded record. An empty record
// bootstraps a first-run collection: one default style and one empty note.
func NewRegistry(rec *Record) *Registry {
	r := &Registry{
		notes:       map[uuid.UUID]Note{},
		styles:      map[uuid.UUID]Style{},
		deleted:     map[uuid.UUID]Note{},
		sessions:    map[uuid.UUID]map[string]struct{}{},
		subscribers: map[uint64]*subscriber{},
	}
	if rec.Empty() {
		style := DefaultStyle()
		r.styles[style.ID] = style
		r.defaultStyle = style.ID
		note := NewNote(style.ID)
		r.notes[note.ID] = note
		r.fresh = true
		return r
	}
	for id, note := range rec.Notes {
		note.ID = id
		note.Open = false
		r.notes[id] = note
	}
	for id, style := range rec.Styles {
		style.ID = id
		r.styles[id] = style
	}
	r.defaultStyle = rec.DefaultStyle
	r.ensureDefaultStyleLocked()
	return r
}

// Fresh reports whether the registry was bootstrapped from an empty record.
// The daemon uses it to decide whether the first-run legacy import applies.
func (r *Registry) Fresh() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fresh
}

// OnChange registers a hook invoked after every accepted mutation. The hook
// runs with the registry lock held and must not call back into the registry.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Snapshot returns a deep copy of the persistable state.
func (r *Registry) Snapshot() *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec := &Record{
		Notes:        make(map[uuid.UUID]Note, len(r.notes)),
		Styles:       make(map[uuid.UUID]Style, len(r.styles)),
		DefaultStyle: r.defaultStyle,
	}
	for id, note := range r.notes {
		note.Open = false
		rec.Notes[id] = note
	}
	for id, style := range r.styles {
		rec.Styles[id] = style
	}
	return rec
}

func (r *Registry) Counts() (live, deleted int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notes), len(r.deleted)
}

func (r *Registry) Create(style uuid.UUID) Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	if style == uuid.Nil {
		style = r.defaultStyle
	}
	if _, ok := r.styles[style]; !ok {
		style = r.defaultStyle
	}
	note := NewNote(style)
	r.notes[note.ID] = note
	r.changedLocked()
	r.publishLocked(Event{Type: EventNoteCreated, Note: &note})
	return note
}

func (r *Registry) Get(id uuid.UUID) (Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	note, ok := r.notes[id]
	if !ok {
		return Note{}, &NotFoundError{ID: id}
	}
	note.Open = r.openLocked(id)
	return note, nil
}

// Update applies a partial update. Each non-nil field overwrites the stored
// value; the last accepted write wins per field. Content edits on a locked
// note are rejected unless the same patch unlocks it first.
func (r *Registry) Update(id uuid.UUID, patch Patch) (Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	note, ok := r.notes[id]
	if !ok {
		return Note{}, &NotFoundError{ID: id}
	}
	if patch.Locked != nil {
		note.Locked = *patch.Locked
	}
	if patch.Content != nil {
		if note.Locked {
			return Note{}, ErrLockedNote
		}
		note.Content = *patch.Content
	}
	if patch.X != nil {
		note.X = *patch.X
	}
	if patch.Y != nil {
		note.Y = *patch.Y
	}
	if patch.Width != nil {
		note.Width = *patch.Width
	}
	if patch.Height != nil {
		note.Height = *patch.Height
	}
	if patch.Style != nil {
		if _, ok := r.styles[*patch.Style]; !ok {
			return Note{}, fmt.Errorf("%w: %s", ErrStyleNotFound, *patch.Style)
		}
		note.Style = *patch.Style
	}
	if patch.Visible != nil {
		note.Visible = *patch.Visible
	}
	note.ModifiedAt = time.Now().UTC()
	r.notes[id] = note
	r.changedLocked()
	note.Open = r.openLocked(id)
	r.publishLocked(Event{Type: EventNoteUpdated, Note: &note})
	return note, nil
}

// Delete retires the note id for good. The note itself is kept in memory so
// it can be restored until the process exits; the id is never reused.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	note, ok := r.notes[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	delete(r.notes, id)
	delete(r.sessions, id)
	r.deleted[id] = note
	r.changedLocked()
	r.publishLocked(Event{Type: EventNoteDeleted, Note: &note})
	return nil
}

func (r *Registry) Restore(id uuid.UUID) (Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	note, ok := r.deleted[id]
	if !ok {
		return Note{}, &NotFoundError{ID: id}
	}
	delete(r.deleted, id)
	note.ModifiedAt = time.Now().UTC()
	r.notes[id] = note
	r.changedLocked()
	r.publishLocked(Event{Type: EventNoteRestored, Note: &note})
	return note, nil
}

// List returns a consistent point-in-time snapshot of every live note.
func (r *Registry) List() []Note {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Note, 0, len(r.notes))
	for id, note := range r.notes {
		note.Open = r.openLocked(id)
		out = append(out, note)
	}
	sortNotes(out)
	return out
}

func (r *Registry) Deleted() []Note {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Note, 0, len(r.deleted))
	for _, note := range r.deleted {
		out = append(out, note)
	}
	sortNotes(out)
	return out
}

func (r *Registry) SetAllVisible(visible bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	now := time.Now().UTC()
	for id, note := range r.notes {
		if note.Visible == visible {
			continue
		}
		note.Visible = visible
		note.ModifiedAt = now
		r.notes[id] = note
		changed++
		note.Open = r.openLocked(id)
		r.publishLocked(Event{Type: EventNoteUpdated, Note: &note})
	}
	if changed > 0 {
		r.changedLocked()
	}
	return changed
}

// ImportNotes merges candidates additively. Every candidate note and style
// gets a freshly allocated id, so an import can never overwrite or collide
// with anything the user already has.
func (r *Registry) ImportNotes(candidates []Note, styles []Style) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	remap := make(map[uuid.UUID]uuid.UUID, len(styles))
	for _, style := range styles {
		old := style.ID
		style.ID = uuid.New()
		if old != uuid.Nil {
			remap[old] = style.ID
		}
		r.styles[style.ID] = style
		styleCopy := style
		r.publishLocked(Event{Type: EventStyleCreated, Style: &styleCopy})
	}
	imported := 0
	now := time.Now().UTC()
	for _, note := range candidates {
		note.ID = uuid.New()
		if mapped, ok := remap[note.Style]; ok {
			note.Style = mapped
		} else if _, ok := r.styles[note.Style]; !ok {
			note.Style = r.defaultStyle
		}
		note.CreatedAt = now
		if note.ModifiedAt.IsZero() {
			note.ModifiedAt = now
		}
		r.notes[note.ID] = note
		imported++
		noteCopy := note
		r.publishLocked(Event{Type: EventNoteCreated, Note: &noteCopy})
	}
	if imported > 0 || len(styles) > 0 {
		r.changedLocked()
	}
	r.publishLocked(Event{Type: EventNotesImported, Imported: imported})
	return imported
}

func (r *Registry) Styles() []Style {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Style, 0, len(r.styles))
	for _, style := range r.styles {
		out = append(out, style)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *Registry) Style(id uuid.UUID) (Style, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	style, ok := r.styles[id]
	if !ok {
		return Style{}, fmt.Errorf("%w: %s", ErrStyleNotFound, id)
	}
	return style, nil
}

// CreateStyle clones the current default style under a new name.
func (r *Registry) CreateStyle(name string) Style {
	r.mu.Lock()
	defer r.mu.Unlock()
	style := DefaultStyle()
	if current, ok := r.styles[r.defaultStyle]; ok {
		style.Font = current.Font
		style.BgColor = current.BgColor
	}
	style.Name = name
	r.styles[style.ID] = style
	r.changedLocked()
	styleCopy := style
	r.publishLocked(Event{Type: EventStyleCreated, Style: &styleCopy})
	return style
}

func (r *Registry) UpdateStyle(id uuid.UUID, patch StylePatch) (Style, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	style, ok := r.styles[id]
	if !ok {
		return Style{}, fmt.Errorf("%w: %s", ErrStyleNotFound, id)
	}
	if patch.Name != nil {
		style.Name = *patch.Name
	}
	if patch.Font != nil {
		style.Font = *patch.Font
	}
	if patch.BgColor != nil {
		style.BgColor = *patch.BgColor
	}
	r.styles[id] = style
	r.changedLocked()
	styleCopy := style
	r.publishLocked(Event{Type: EventStyleUpdated, Style: &styleCopy})
	return style, nil
}

// DeleteStyle removes a style. The last remaining style cannot be deleted.
// Notes referencing the deleted style fall back to the default style; if the
// default itself is deleted another style is promoted first.
func (r *Registry) DeleteStyle(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.styles) < 2 {
		return ErrLastStyle
	}
	style, ok := r.styles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStyleNotFound, id)
	}
	delete(r.styles, id)
	if id == r.defaultStyle {
		r.ensureDefaultStyleLocked()
	}
	for noteID, note := range r.notes {
		if note.Style == id {
			note.Style = r.defaultStyle
			r.notes[noteID] = note
		}
	}
	r.changedLocked()
	r.publishLocked(Event{Type: EventStyleDeleted, Style: &style})
	return nil
}

func (r *Registry) DefaultStyle() uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultStyle
}

func (r *Registry) SetDefaultStyle(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.styles[id]; !ok {
		return fmt.Errorf("%w: %s", ErrStyleNotFound, id)
	}
	if r.defaultStyle != id {
		r.defaultStyle = id
		r.changedLocked()
	}
	return nil
}

// Subscribe registers an event channel. The returned cancel func detaches
// and drains it. A subscriber whose buffer fills up is dropped and its
// channel closed: a stalled client must never block the mutation path.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subCounter++
	key := r.subCounter
	sub := &subscriber{ch: make(chan Event, buffer)}
	r.subscribers[key] = sub
	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.subscribers[key]; ok {
			delete(r.subscribers, key)
			close(existing.ch)
		}
	}
	return sub.ch, cancel
}

func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Attach marks the note as displayed by the given client session.
func (r *Registry) Attach(id uuid.UUID, session string) error {
	if session == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notes[id]; !ok {
		return &NotFoundError{ID: id}
	}
	if r.sessions[id] == nil {
		r.sessions[id] = map[string]struct{}{}
	}
	r.sessions[id][session] = struct{}{}
	return nil
}

func (r *Registry) Detach(id uuid.UUID, session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.sessions[id]; ok {
		delete(set, session)
		if len(set) == 0 {
			delete(r.sessions, id)
		}
	}
}

// DetachSession drops every attachment held by a disconnected client.
func (r *Registry) DetachSession(session string) {
	if session == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, set := range r.sessions {
		delete(set, session)
		if len(set) == 0 {
			delete(r.sessions, id)
		}
	}
}

func (r *Registry) openLocked(id uuid.UUID) bool {
	return len(r.sessions[id]) > 0
}

func (r *Registry) changedLocked() {
	if r.onChange != nil {
		r.onChange()
	}
}

func (r *Registry) publishLocked(ev Event) {
	r.eventCounter++
	ev.EventID = fmt.Sprintf("evt_%d", r.eventCounter)
	if ev.Timestamp == "" {
		ev.Timestamp = eventTimestamp()
	}
	for key, sub := range r.subscribers {
		select {
		case sub.ch <- ev:
		default:
			delete(r.subscribers, key)
			close(sub.ch)
		}
	}
}

func (r *Registry) ensureDefaultStyleLocked() {
	if _, ok := r.styles[r.defaultStyle]; ok {
		return
	}
	if len(r.styles) == 0 {
		style := DefaultStyle()
		r.styles[style.ID] = style
		r.defaultStyle = style.ID
		return
	}
	ids := make([]uuid.UUID, 0, len(r.styles))
	for id := range r.styles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	r.defaultStyle = ids[0]
}

func sortNotes(out []Note) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
}
