package notes

import "time"

const (
	EventNoteCreated   = "note.created"
	EventNoteUpdated   = "note.updated"
	EventNoteDeleted   = "note.deleted"
	EventNoteRestored  = "note.restored"
	EventStyleCreated  = "style.created"
	EventStyleUpdated  = "style.updated"
	EventStyleDeleted  = "style.deleted"
	EventNotesImported = "notes.imported"
)

type Event struct {
	EventID   string `json:"eventId"`
	Type      string `json:"type"`
	Note      *Note  `json:"note,omitempty"`
	Style     *Style `json:"style,omitempty"`
	Imported  int    `json:"imported,omitempty"`
	Skipped   int    `json:"skipped,omitempty"`
	Timestamp string `json:"timestamp"`
}

func eventTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
