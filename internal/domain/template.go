package domain

import (
	"strings"
	"time"
)

// HandlePlaceholder is replaced with the target handle when a queue is built.
const HandlePlaceholder = "{{handle}}"

type Template struct {
	ID        string    `db:"id"         json:"id"`
	UserID    string    `db:"user_id"    json:"user_id"`
	Name      string    `db:"name"       json:"name"`
	Content   string    `db:"content"    json:"content"`
	SendRate  SendRate  `db:"send_rate"  json:"send_rate"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Render produces the message for one handle.
func (t Template) Render(handle string) string {
	return strings.ReplaceAll(t.Content, HandlePlaceholder, handle)
}
